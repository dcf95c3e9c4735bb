package reminders

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strconv"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/singleflight"

	"github.com/jmerrifield20/docchaser/internal/config"
	"github.com/jmerrifield20/docchaser/internal/events"
	"github.com/jmerrifield20/docchaser/internal/messaging"
	"github.com/jmerrifield20/docchaser/internal/requests"
)

// Store is the slice of the request store a sweep needs.
type Store interface {
	ListDue(ctx context.Context) ([]*requests.DocumentRequest, error)
	MarkExpired(ctx context.Context, id uuid.UUID) error
	TouchReminder(ctx context.Context, id uuid.UUID, prev *time.Time, at time.Time) error
}

// Config holds scheduler configuration.
type Config struct {
	Interval    time.Duration // 0 disables the ticker loop
	Concurrency int
	// SweepTimeout bounds one sweep regardless of which caller started it.
	SweepTimeout time.Duration
	BaseURL     string
	Broker      config.BrokerConfig
}

// SweepResult summarizes one sweep.
type SweepResult struct {
	Processed     int      `json:"processed"`
	RemindersSent int      `json:"reminders_sent"`
	Expired       int      `json:"expired"`
	Errors        []string `json:"errors"`
	Skipped       bool     `json:"skipped,omitempty"`
}

// MetricsRecordFunc is an optional callback invoked after every sweep.
type MetricsRecordFunc func(res SweepResult, elapsed time.Duration, err error)

// Scheduler evaluates every due request against the reminder policy.
type Scheduler struct {
	store     Store
	gateway   messaging.Sender
	locker    Locker
	events    events.Publisher
	cfg       Config
	group     singleflight.Group
	inflight  sync.WaitGroup
	onMetrics MetricsRecordFunc
	logger    *zap.Logger
}

// New creates a new Scheduler.
func New(store Store, gateway messaging.Sender, cfg Config, logger *zap.Logger) *Scheduler {
	if cfg.Concurrency < 1 {
		cfg.Concurrency = 4
	}
	if cfg.SweepTimeout <= 0 {
		cfg.SweepTimeout = 10 * time.Minute
	}
	return &Scheduler{
		store:   store,
		gateway: gateway,
		locker:  NoopLocker{},
		events:  events.Nop{},
		cfg:     cfg,
		logger:  logger,
	}
}

// SetLocker configures cross-process sweep exclusion.
func (s *Scheduler) SetLocker(l Locker) {
	s.locker = l
}

// SetPublisher configures the lifecycle event sink.
func (s *Scheduler) SetPublisher(p events.Publisher) {
	s.events = p
}

// SetMetricsRecord configures the metrics recording callback.
func (s *Scheduler) SetMetricsRecord(fn MetricsRecordFunc) {
	s.onMetrics = fn
}

// Start runs a sweep every Interval until quit is signalled. It returns
// immediately when Interval is zero.
func (s *Scheduler) Start(quit <-chan os.Signal) {
	if s.cfg.Interval <= 0 {
		return
	}
	ticker := time.NewTicker(s.cfg.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			if _, err := s.RunSweep(context.Background(), time.Now().UTC()); err != nil {
				s.logger.Error("reminders: sweep failed", zap.Error(err))
			}
		case <-quit:
			return
		}
	}
}

// RunSweep processes every pending, non-stopped request once. Concurrent
// callers in the same process share a single sweep; a sweep already running
// in another process yields a Skipped result. Only a failure to load the due
// requests is returned as an error.
//
// The shared sweep runs detached from every caller's context, bounded by
// SweepTimeout. A caller whose ctx ends first gets ctx.Err() while the sweep
// carries on for the others.
func (s *Scheduler) RunSweep(ctx context.Context, now time.Time) (SweepResult, error) {
	s.inflight.Add(1)
	ch := s.group.DoChan("sweep", func() (any, error) {
		sweepCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.cfg.SweepTimeout)
		defer cancel()
		return s.sweep(sweepCtx, now)
	})

	select {
	case r := <-ch:
		s.inflight.Done()
		if r.Shared {
			s.logger.Debug("reminders: joined in-flight sweep")
		}
		res := r.Val.(SweepResult)
		res.Errors = append([]string{}, res.Errors...)
		return res, r.Err
	case <-ctx.Done():
		go func() {
			<-ch
			s.inflight.Done()
		}()
		s.logger.Warn("reminders: caller left before sweep finished", zap.Error(ctx.Err()))
		return SweepResult{Errors: []string{}}, ctx.Err()
	}
}

// Wait blocks until every sweep started through RunSweep has finished,
// including sweeps whose callers have already returned.
func (s *Scheduler) Wait() {
	s.inflight.Wait()
}

func (s *Scheduler) sweep(ctx context.Context, now time.Time) (res SweepResult, err error) {
	start := time.Now()
	res.Errors = []string{}
	defer func() {
		if s.onMetrics != nil {
			s.onMetrics(res, time.Since(start), err)
		}
	}()

	unlock, ok, err := s.locker.TryLock(ctx)
	if err != nil {
		return res, fmt.Errorf("acquire sweep lock: %w", err)
	}
	if !ok {
		s.logger.Info("reminders: sweep already running elsewhere, skipping")
		res.Skipped = true
		return res, nil
	}
	defer unlock()

	due, err := s.store.ListDue(ctx)
	if err != nil {
		return res, fmt.Errorf("list due requests: %w", err)
	}

	var mu sync.Mutex
	var g errgroup.Group
	g.SetLimit(s.cfg.Concurrency)
	for _, req := range due {
		g.Go(func() error {
			out := s.process(ctx, req, now)

			mu.Lock()
			defer mu.Unlock()
			res.Processed++
			if out.expired {
				res.Expired++
			}
			if out.reminded {
				res.RemindersSent++
			}
			res.Errors = append(res.Errors, out.errs...)
			return nil
		})
	}
	g.Wait() //nolint:errcheck

	s.logger.Info("reminders: sweep complete",
		zap.Int("processed", res.Processed),
		zap.Int("reminders_sent", res.RemindersSent),
		zap.Int("expired", res.Expired),
		zap.Int("errors", len(res.Errors)),
		zap.Duration("elapsed", time.Since(start)),
	)
	return res, nil
}

type outcome struct {
	expired  bool
	reminded bool
	errs     []string
}

func (s *Scheduler) process(ctx context.Context, req *requests.DocumentRequest, now time.Time) outcome {
	d := Evaluate(req, now)
	switch {
	case d.Expire:
		return s.expire(ctx, req)
	case d.Remind:
		return s.remind(ctx, req, now, d.Urgent)
	default:
		return outcome{}
	}
}

func (s *Scheduler) expire(ctx context.Context, req *requests.DocumentRequest) outcome {
	if err := s.store.MarkExpired(ctx, req.ID); err != nil {
		if errors.Is(err, requests.ErrConflict) || errors.Is(err, requests.ErrNotFound) {
			// Completed or removed since it was listed.
			s.logger.Debug("reminders: expiry lost race", zap.String("request_id", req.ID.String()))
			return outcome{}
		}
		return outcome{errs: []string{fmt.Sprintf("Failed to expire request %s: %v", req.ID, err)}}
	}

	s.logger.Info("reminders: request expired",
		zap.String("request_id", req.ID.String()),
		zap.String("document_type", req.DocumentType),
	)
	s.events.Publish(ctx, events.RequestExpired, map[string]string{
		"request_id":    req.ID.String(),
		"client_name":   req.ClientName,
		"document_type": req.DocumentType,
	})

	// Broker channels are independent and best-effort.
	if phone := s.cfg.Broker.Phone; phone != "" {
		if r := s.gateway.SendSMS(ctx, phone, messaging.ExpirySMS(req.ClientName, req.DocumentType)); !r.Success {
			s.logger.Warn("reminders: broker expiry sms failed", zap.String("request_id", req.ID.String()), zap.String("error", r.Error))
		}
	}
	if addr := s.cfg.Broker.Email; addr != "" {
		email := messaging.ExpiryEmail(req.ClientName, req.DocumentType)
		if r := s.gateway.SendEmail(ctx, addr, email.Subject, email.Body); !r.Success {
			s.logger.Warn("reminders: broker expiry email failed", zap.String("request_id", req.ID.String()), zap.String("error", r.Error))
		}
	}
	return outcome{expired: true}
}

func (s *Scheduler) remind(ctx context.Context, req *requests.DocumentRequest, now time.Time, urgent bool) outcome {
	link := req.Link(s.cfg.BaseURL)

	sms := s.gateway.SendSMS(ctx, req.ClientPhone, messaging.ReminderSMS(req.ClientName, req.DocumentType, link, urgent))
	if !sms.Success {
		return outcome{errs: []string{fmt.Sprintf("Failed to send reminder for %s: %s", req.ID, sms.Error)}}
	}

	var out outcome
	out.reminded = true
	if addr := req.Email(); addr != "" {
		email := messaging.ReminderEmail(req.ClientName, req.DocumentType, link, urgent)
		if r := s.gateway.SendEmail(ctx, addr, email.Subject, email.Body); !r.Success {
			out.errs = append(out.errs, fmt.Sprintf("Failed to send reminder email for %s: %s", req.ID, r.Error))
		}
	}

	if err := s.store.TouchReminder(ctx, req.ID, req.LastReminderAt, now); err != nil {
		out.errs = append(out.errs, fmt.Sprintf("Failed to record reminder for %s: %v", req.ID, err))
	}

	s.logger.Info("reminders: reminder sent",
		zap.String("request_id", req.ID.String()),
		zap.Bool("urgent", urgent),
	)
	s.events.Publish(ctx, events.ReminderSent, map[string]string{
		"request_id":    req.ID.String(),
		"client_name":   req.ClientName,
		"document_type": req.DocumentType,
		"urgent":        strconv.FormatBool(urgent),
	})
	return out
}
