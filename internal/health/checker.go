// Package health probes the service's backing dependencies (database, blob
// storage) on an interval and reports readiness.
package health

import (
	"context"
	"os"
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"
)

// Component states.
const (
	StateUnknown  = "unknown"
	StateHealthy  = "healthy"
	StateDegraded = "degraded"
)

// Config holds health check configuration.
type Config struct {
	CheckInterval time.Duration
	ProbeTimeout  time.Duration
	FailThreshold int
}

// Probe checks one dependency. A nil error means healthy.
type Probe func(ctx context.Context) error

// Pinger is implemented by anything with a Ping method, such as a pgx pool
// or a blob store.
type Pinger interface {
	Ping(ctx context.Context) error
}

// PingProbe adapts a Pinger to a Probe.
func PingProbe(p Pinger) Probe {
	return p.Ping
}

// EventDispatchFunc is an optional callback for degraded/recovered events.
type EventDispatchFunc func(ctx context.Context, eventType string, payload map[string]string)

// MetricsRecordFunc is an optional callback for recording probe results.
type MetricsRecordFunc func(component string, success bool)

// Status is the last known state of one component.
type Status struct {
	Name          string     `json:"name"`
	State         string     `json:"state"`
	FailCount     int        `json:"fail_count"`
	LastError     string     `json:"last_error,omitempty"`
	LastCheckedAt *time.Time `json:"last_checked_at,omitempty"`
}

type component struct {
	name  string
	probe Probe
}

// Checker runs periodic dependency probes.
type Checker struct {
	components []component
	status     map[string]*Status
	mu         sync.Mutex
	cfg        Config
	onEvent    EventDispatchFunc
	onMetrics  MetricsRecordFunc
	logger     *zap.Logger
}

// New creates a new Checker.
func New(cfg Config, logger *zap.Logger) *Checker {
	if cfg.CheckInterval == 0 {
		cfg.CheckInterval = time.Minute
	}
	if cfg.ProbeTimeout == 0 {
		cfg.ProbeTimeout = 5 * time.Second
	}
	if cfg.FailThreshold == 0 {
		cfg.FailThreshold = 3
	}

	return &Checker{
		status: make(map[string]*Status),
		cfg:    cfg,
		logger: logger,
	}
}

// Add registers a named probe. Call before Start.
func (h *Checker) Add(name string, probe Probe) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.components = append(h.components, component{name: name, probe: probe})
	h.status[name] = &Status{Name: name, State: StateUnknown}
}

// SetEventDispatch configures the event dispatch callback.
func (h *Checker) SetEventDispatch(fn EventDispatchFunc) {
	h.onEvent = fn
}

// SetMetricsRecord configures the metrics recording callback.
func (h *Checker) SetMetricsRecord(fn MetricsRecordFunc) {
	h.onMetrics = fn
}

// Start runs the check loop until quit is closed or signalled. It probes once
// immediately so readiness is known before the first tick.
func (h *Checker) Start(quit <-chan os.Signal) {
	ticker := time.NewTicker(h.cfg.CheckInterval)
	defer ticker.Stop()

	h.runOnce()
	for {
		select {
		case <-ticker.C:
			h.runOnce()
		case <-quit:
			return
		}
	}
}

func (h *Checker) runOnce() {
	ctx, cancel := context.WithTimeout(context.Background(), h.cfg.CheckInterval)
	defer cancel()
	h.CheckAll(ctx)
}

// CheckAll probes every registered component concurrently.
func (h *Checker) CheckAll(ctx context.Context) {
	h.mu.Lock()
	components := append([]component(nil), h.components...)
	h.mu.Unlock()

	var wg sync.WaitGroup
	for _, c := range components {
		wg.Add(1)
		go func(c component) {
			defer wg.Done()
			h.check(ctx, c)
		}(c)
	}
	wg.Wait()
}

func (h *Checker) check(ctx context.Context, c component) {
	probeCtx, cancel := context.WithTimeout(ctx, h.cfg.ProbeTimeout)
	err := c.probe(probeCtx)
	cancel()

	success := err == nil
	if h.onMetrics != nil {
		h.onMetrics(c.name, success)
	}

	now := time.Now().UTC()
	h.mu.Lock()
	st := h.status[c.name]
	prevState := st.State
	st.LastCheckedAt = &now
	if success {
		st.FailCount = 0
		st.LastError = ""
		st.State = StateHealthy
	} else {
		st.FailCount++
		st.LastError = err.Error()
		if st.FailCount >= h.cfg.FailThreshold {
			st.State = StateDegraded
		}
	}
	count := st.FailCount
	state := st.State
	h.mu.Unlock()

	switch {
	case success && prevState == StateDegraded:
		h.logger.Info("health: recovered", zap.String("component", c.name))
		h.dispatch(ctx, "dependency.recovered", c.name, "")
	case !success && state == StateDegraded && prevState != StateDegraded:
		h.logger.Warn("health: degraded",
			zap.String("component", c.name),
			zap.Int("fail_count", count),
			zap.Error(err),
		)
		h.dispatch(ctx, "dependency.degraded", c.name, err.Error())
	case !success:
		h.logger.Debug("health: probe failed", zap.String("component", c.name), zap.Error(err))
	}
}

func (h *Checker) dispatch(ctx context.Context, eventType, name, errMsg string) {
	if h.onEvent == nil {
		return
	}
	payload := map[string]string{"component": name}
	if errMsg != "" {
		payload["error"] = errMsg
	}
	h.onEvent(ctx, eventType, payload)
}

// Snapshot returns the state of every component, sorted by name.
func (h *Checker) Snapshot() []Status {
	h.mu.Lock()
	defer h.mu.Unlock()
	out := make([]Status, 0, len(h.status))
	for _, st := range h.status {
		out = append(out, *st)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// Ready reports whether no component is degraded.
func (h *Checker) Ready() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	for _, st := range h.status {
		if st.State == StateDegraded {
			return false
		}
	}
	return true
}
