// Package webhooks delivers request lifecycle events to configured HTTP
// endpoints with an HMAC signature and bounded retries.
package webhooks

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/jmerrifield20/docchaser/internal/events"
)

// SignatureHeader carries the HMAC-SHA256 of the request body.
const SignatureHeader = "X-DocChaser-Signature"

// MetricsRecorder is an optional callback for recording delivery outcomes.
type MetricsRecorder func(success bool)

// Service dispatches events to every configured endpoint.
type Service struct {
	urls       []string
	secret     string
	httpClient *http.Client
	delays     []time.Duration
	log        DeliveryLog // nil = attempts are only logged
	onMetrics  MetricsRecorder
	logger     *zap.Logger
	wg         sync.WaitGroup
}

// NewService creates a webhook Service. An empty secret disables signing.
func NewService(urls []string, secret string, logger *zap.Logger) *Service {
	return &Service{
		urls:       urls,
		secret:     secret,
		httpClient: &http.Client{Timeout: 10 * time.Second},
		// Three attempts: immediately, after 1s, after 5s.
		delays: []time.Duration{0, 1 * time.Second, 5 * time.Second},
		logger: logger,
	}
}

// SetDeliveryLog configures where attempts are recorded.
func (s *Service) SetDeliveryLog(log DeliveryLog) {
	s.log = log
}

// SetMetricsRecorder configures the metrics callback.
func (s *Service) SetMetricsRecorder(fn MetricsRecorder) {
	s.onMetrics = fn
}

// Publish fans an event out to all endpoints in the background.
// Implements events.Publisher.
func (s *Service) Publish(ctx context.Context, eventType string, payload map[string]string) {
	if len(s.urls) == 0 {
		return
	}
	event := events.New(eventType, payload)
	body, err := json.Marshal(event)
	if err != nil {
		s.logger.Error("webhook: marshal event", zap.Error(err))
		return
	}

	ctx = context.WithoutCancel(ctx)
	for _, url := range s.urls {
		s.wg.Add(1)
		go func(url string) {
			defer s.wg.Done()
			s.deliver(ctx, url, event, body)
		}(url)
	}
}

// Wait blocks until in-flight deliveries finish.
func (s *Service) Wait() {
	s.wg.Wait()
}

// deliver sends the event to a single endpoint with retries.
func (s *Service) deliver(ctx context.Context, url string, event events.Event, body []byte) {
	signature := ""
	if s.secret != "" {
		signature = Sign(body, s.secret)
	}

	for attempt := 1; attempt <= len(s.delays); attempt++ {
		if d := s.delays[attempt-1]; d > 0 {
			time.Sleep(d)
		}

		success, statusCode, errMsg := s.doDelivery(ctx, url, body, signature)

		if s.log != nil {
			delivery := &Delivery{
				URL:          url,
				EventType:    event.Type,
				RequestID:    event.Payload["request_id"],
				StatusCode:   statusCode,
				Attempt:      attempt,
				Success:      success,
				ErrorMessage: errMsg,
			}
			if recordErr := s.log.RecordDelivery(ctx, delivery); recordErr != nil {
				s.logger.Warn("webhook: record delivery", zap.Error(recordErr))
			}
		}

		if s.onMetrics != nil {
			s.onMetrics(success)
		}

		if success {
			return
		}

		s.logger.Warn("webhook: delivery failed",
			zap.String("url", url),
			zap.String("event", event.Type),
			zap.Int("attempt", attempt),
			zap.String("error", errMsg),
		)
	}
}

// doDelivery performs a single HTTP POST delivery.
func (s *Service) doDelivery(ctx context.Context, url string, body []byte, signature string) (bool, int, string) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return false, 0, err.Error()
	}
	req.Header.Set("Content-Type", "application/json")
	if signature != "" {
		req.Header.Set(SignatureHeader, signature)
	}

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return false, 0, err.Error()
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, io.LimitReader(resp.Body, 1024)) //nolint:errcheck

	success := resp.StatusCode >= 200 && resp.StatusCode < 300
	errMsg := ""
	if !success {
		errMsg = fmt.Sprintf("HTTP %d", resp.StatusCode)
	}
	return success, resp.StatusCode, errMsg
}

// Sign computes the "sha256=<hex>" HMAC signature of body.
func Sign(body []byte, secret string) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	return "sha256=" + hex.EncodeToString(mac.Sum(nil))
}
