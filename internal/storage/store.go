// Package storage writes uploaded client documents to a blob store and
// returns the URL the broker uses to retrieve them.
package storage

import (
	"context"
	"errors"
	"io"
	"path"
	"strings"
	"time"
	"unicode"
)

// BlobStore saves an object under key and returns its public URL. Delete
// removes an object; deleting a missing key is not an error.
type BlobStore interface {
	Put(ctx context.Context, key, contentType string, body io.Reader) (url string, err error)
	Delete(ctx context.Context, key string) error
}

// ErrInvalidKey is returned for keys that would escape the store root.
var ErrInvalidKey = errors.New("invalid storage key")

// ObjectKey builds the storage key for a client upload:
// clients/<Name>/<DocType>/<Name>_<DocType>_<YYYY-MM-DD>.<ext>
func ObjectKey(clientName, documentType, fileName string, at time.Time) string {
	name := keySegment(clientName)
	doc := keySegment(documentType)
	file := name + "_" + doc + "_" + at.UTC().Format("2006-01-02") + "." + extension(fileName)
	return path.Join("clients", name, doc, file)
}

// keySegment drops whitespace and path separators so a value is safe as a
// single path element.
func keySegment(s string) string {
	out := strings.Map(func(r rune) rune {
		if unicode.IsSpace(r) || r == '/' || r == '\\' {
			return -1
		}
		return r
	}, s)
	out = strings.TrimLeft(out, ".")
	if out == "" {
		return "unknown"
	}
	return out
}

func extension(fileName string) string {
	i := strings.LastIndexByte(fileName, '.')
	if i < 0 || i == len(fileName)-1 {
		return "pdf"
	}
	ext := strings.Map(func(r rune) rune {
		if r < unicode.MaxASCII && (unicode.IsLetter(r) || unicode.IsDigit(r)) {
			return unicode.ToLower(r)
		}
		return -1
	}, fileName[i+1:])
	if ext == "" {
		return "pdf"
	}
	return ext
}

func validKey(key string) bool {
	if key == "" || strings.HasPrefix(key, "/") || path.Clean(key) != key {
		return false
	}
	for _, part := range strings.Split(key, "/") {
		if part == ".." {
			return false
		}
	}
	return true
}
