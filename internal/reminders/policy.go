// Package reminders runs the periodic sweep over pending document requests:
// it expires requests whose deadline has passed and re-sends upload
// reminders on a fixed cadence.
package reminders

import (
	"time"

	"github.com/jmerrifield20/docchaser/internal/requests"
)

const (
	// FirstReminderAfter is the age at which a never-reminded request gets
	// its first reminder.
	FirstReminderAfter = 48 * time.Hour

	// ReminderInterval is the minimum gap between two reminders.
	ReminderInterval = 24 * time.Hour

	// UrgentWindow is how close to the deadline a reminder becomes urgent.
	UrgentWindow = 24 * time.Hour
)

// Decision is the outcome of evaluating one request at a point in time.
type Decision struct {
	Expire bool
	Remind bool
	Urgent bool
}

// Evaluate applies the sweep policy to req at now. Expiry takes precedence;
// an expiring request is never also a reminder candidate.
func Evaluate(req *requests.DocumentRequest, now time.Time) Decision {
	if req.Deadline != nil && now.After(*req.Deadline) {
		return Decision{Expire: true}
	}

	var d Decision
	if req.LastReminderAt == nil {
		if now.Sub(req.CreatedAt) >= FirstReminderAfter {
			d.Remind = true
		}
	} else if now.Sub(*req.LastReminderAt) >= ReminderInterval {
		d.Remind = true
	}

	if req.Deadline != nil {
		until := req.Deadline.Sub(now)
		if until > 0 && until <= UrgentWindow {
			d.Remind = true
			d.Urgent = true
		}
	}
	return d
}
