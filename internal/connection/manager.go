package connection

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/hannesnortje/memlink/internal/config"
	"github.com/hannesnortje/memlink/internal/events"
	"github.com/hannesnortje/memlink/internal/model"
)

// Errors
var (
	ErrNotLocalMode   = errors.New("server is not in local mode")
	ErrLaunchFailed   = errors.New("backend process failed to launch")
	ErrInvalidState   = errors.New("operation not valid in current state")
	ErrStarterMissing = errors.New("no process launcher configured")
)

// HealthChecker performs one classified health probe. *health.Probe
// satisfies this.
type HealthChecker interface {
	Check(ctx context.Context, cfg *config.Config) model.HealthResult
}

// Handshaker establishes the primary transport session. The default
// implementation verifies reachability through the health probe; tests
// inject failures here.
type Handshaker interface {
	Handshake(ctx context.Context) error
}

// Starter manages the local backend process. *process.Launcher satisfies
// this; it is only consulted in local mode.
type Starter interface {
	Start(ctx context.Context) (pid int, err error)
	Stop(ctx context.Context) error
	Running() bool
}

// Manager is the connection state machine. It owns the single authoritative
// Connection, drives connect/disconnect/start/stop/restart, runs the
// periodic health timer, and emits lifecycle events.
type Manager interface {
	// Connect begins a connection attempt. A call while an attempt is
	// already pending coalesces into the in-flight attempt. Cancelling ctx
	// aborts the initial attempt without entering the retry loop.
	Connect(ctx context.Context) error

	// Disconnect cancels all pending timers and drops to disconnected.
	// Idempotent.
	Disconnect()

	// Restart is disconnect followed by connect as one logical operation;
	// the intermediate disconnected event is suppressed.
	Restart(ctx context.Context) error

	// StartServer launches the local backend process (local mode only).
	StartServer(ctx context.Context) error

	// StopServer stops the local backend process (local mode only).
	StopServer(ctx context.Context) error

	// HealthCheck runs one probe immediately and applies its result.
	HealthCheck(ctx context.Context) model.HealthResult

	// Pure reads of current state.
	Status() model.ConnectionStatus
	Connection() model.Connection
	Metrics() model.Metrics
	IsHealthy() bool
	LastHealth() model.HealthResult

	// Subscribe registers a lifecycle event listener.
	Subscribe(kinds ...model.EventType) *events.Subscription
	Unsubscribe(sub *events.Subscription)

	// Close tears the manager down: disconnect plus bus shutdown.
	Close()
}

// Option configures a manager.
type Option func(*manager)

// WithHandshaker replaces the transport handshake implementation.
func WithHandshaker(h Handshaker) Option {
	return func(m *manager) { m.handshake = h }
}

// WithStarter sets the local process launcher.
func WithStarter(s Starter) Option {
	return func(m *manager) { m.starter = s }
}

// WithTrafficSource folds transport byte counters into metrics snapshots.
func WithTrafficSource(ts TrafficSource) Option {
	return func(m *manager) { m.traffic = ts }
}

// manager implements Manager.
type manager struct {
	cfg       *config.Config
	probe     HealthChecker
	handshake Handshaker
	starter   Starter
	traffic   TrafficSource
	bus       *events.Bus
	logger    *slog.Logger
	sched     *scheduler
	metrics   tracker

	mu               sync.Mutex
	conn             model.Connection
	lastHealth       model.HealthResult
	consecutiveFails int
	restarting       bool
}

// NewManager creates a connection manager in the disconnected state.
func NewManager(cfg *config.Config, probe HealthChecker, logger *slog.Logger, opts ...Option) Manager {
	if logger == nil {
		logger = slog.Default()
	}

	m := &manager{
		cfg:    cfg,
		probe:  probe,
		bus:    events.NewBus(cfg.Realtime.MessageBufferSize, logger),
		logger: logger,
		sched:  newScheduler(),
		conn: model.Connection{
			ID:     uuid.New(),
			Status: model.StatusDisconnected,
		},
	}
	m.handshake = &probeHandshaker{probe: probe, cfg: cfg}

	for _, opt := range opts {
		opt(m)
	}

	return m
}

// probeHandshaker verifies the backend answers its health endpoint before
// the session counts as established.
type probeHandshaker struct {
	probe HealthChecker
	cfg   *config.Config
}

func (h *probeHandshaker) Handshake(ctx context.Context) error {
	result := h.probe.Check(ctx, h.cfg)
	if result.Status == model.HealthUnreachable {
		return errors.New("backend unreachable: " + result.Detail)
	}
	return nil
}

// Connect begins a connection attempt.
func (m *manager) Connect(ctx context.Context) error {
	m.mu.Lock()

	switch m.conn.Status {
	case model.StatusConnected:
		m.mu.Unlock()
		return nil
	case model.StatusConnecting, model.StatusReconnecting, model.StatusStarting, model.StatusStopping:
		// An attempt is already in flight; coalesce instead of opening a
		// second transport.
		m.mu.Unlock()
		return nil
	}

	// Fresh connection for this attempt series.
	m.conn = model.Connection{ID: uuid.New(), Status: m.conn.Status}
	m.consecutiveFails = 0

	needStart := m.cfg.Server.Mode == model.ModeLocal &&
		m.cfg.Server.AutoStart &&
		m.starter != nil &&
		!m.starter.Running()

	connID := m.conn.ID
	if needStart {
		m.setStatusLocked(model.StatusStarting, nil)
	} else {
		m.setStatusLocked(model.StatusConnecting, nil)
	}
	m.mu.Unlock()

	go m.runConnect(ctx, connID, needStart)
	return nil
}

// runConnect optionally launches the local process, then attempts the
// transport handshake. ctx is the caller's context; cancelling it aborts
// the initial attempt.
func (m *manager) runConnect(ctx context.Context, connID uuid.UUID, needStart bool) {
	if needStart {
		pid, err := m.starter.Start(ctx)
		if err != nil {
			m.logger.Error("backend launch failed", "error", err)
			m.mu.Lock()
			if m.conn.ID == connID {
				m.conn.LastError = err
				m.setStatusLocked(model.StatusError, nil)
				m.publishLocked(model.EventError, map[string]any{
					"error":       err.Error(),
					"recoverable": false,
				})
			}
			m.mu.Unlock()
			return
		}

		m.mu.Lock()
		if m.conn.ID != connID {
			m.mu.Unlock()
			return
		}
		m.conn.ProcessID = pid
		m.publishLocked(model.EventServerStarted, map[string]any{"pid": pid})
		m.setStatusLocked(model.StatusConnecting, nil)
		m.mu.Unlock()
	}

	m.attempt(ctx, connID)
}

// attempt performs one handshake and applies the outcome. The handshake is
// bounded by both the caller's context and the connect timeout.
func (m *manager) attempt(ctx context.Context, connID uuid.UUID) {
	actx, cancel := context.WithTimeout(ctx, m.cfg.Server.ConnectTimeout)
	err := m.handshake.Handshake(actx)
	cancel()

	m.mu.Lock()
	defer m.mu.Unlock()

	if m.conn.ID != connID || m.conn.Status != model.StatusConnecting {
		// Superseded by disconnect or a newer attempt.
		return
	}

	if err != nil && ctx.Err() != nil {
		// The caller cancelled; not a backend failure, so no retry.
		m.conn.LastError = err
		m.setStatusLocked(model.StatusDisconnected, nil)
		m.logger.Info("connect attempt cancelled")
		return
	}

	if err == nil {
		m.conn.ConnectedAt = time.Now()
		m.conn.RetryCount = 0
		m.conn.LastError = nil
		m.consecutiveFails = 0
		m.setStatusLocked(model.StatusConnected, nil)
		m.publishLocked(model.EventConnectionEstablished, map[string]any{
			"address": m.cfg.Server.Address,
		})
		m.logger.Info("connected", "address", m.cfg.Server.Address)

		m.scheduleHealthTickLocked(connID)
		return
	}

	m.conn.RetryCount++
	m.conn.LastError = err

	if m.conn.RetryCount <= m.cfg.Server.MaxRetries {
		delay := RetryDelay(m.cfg.Server.RetryBaseDelay, m.cfg.Server.RetryMaxDelay, m.conn.RetryCount)
		m.setStatusLocked(model.StatusReconnecting, nil)
		m.publishLocked(model.EventRetryAttempt, map[string]any{
			"attempt": m.conn.RetryCount,
			"delay":   delay.String(),
			"error":   err.Error(),
		})
		m.logger.Warn("connect attempt failed, retrying",
			"attempt", m.conn.RetryCount,
			"delay", delay,
			"error", err,
		)
		m.sched.After(delay, func() { m.retryTick(connID) })
		return
	}

	m.setStatusLocked(model.StatusError, nil)
	m.publishLocked(model.EventError, map[string]any{
		"error":       err.Error(),
		"recoverable": false,
		"retries":     m.conn.RetryCount - 1,
	})
	m.logger.Error("connect retries exhausted",
		"retries", m.conn.RetryCount-1,
		"error", err,
	)
}

// retryTick moves reconnecting back to connecting and re-attempts.
func (m *manager) retryTick(connID uuid.UUID) {
	m.mu.Lock()
	if m.conn.ID != connID || m.conn.Status != model.StatusReconnecting {
		m.mu.Unlock()
		return
	}
	m.setStatusLocked(model.StatusConnecting, nil)
	m.mu.Unlock()

	// Retries run off timers with no caller left to cancel them; the
	// connect timeout alone bounds each attempt.
	m.attempt(context.Background(), connID)
}

// Disconnect cancels all pending timers and drops to disconnected.
func (m *manager) Disconnect() {
	// Timers first, so no stale retry fires against the fresh connection.
	m.sched.CancelAll()

	m.mu.Lock()
	defer m.mu.Unlock()

	if m.conn.Status == model.StatusDisconnected {
		return
	}

	wasConnected := m.conn.Status == model.StatusConnected
	suppress := m.restarting

	m.conn = model.Connection{ID: uuid.New(), Status: model.StatusDisconnected}
	m.consecutiveFails = 0

	if suppress {
		return
	}
	m.publishStatusLocked()
	if wasConnected {
		m.publishLocked(model.EventConnectionLost, map[string]any{"reason": "disconnect requested"})
	}
	m.logger.Info("disconnected")
}

// Restart is disconnect plus connect with the intermediate disconnected
// event suppressed, so consumers see one busy period.
func (m *manager) Restart(ctx context.Context) error {
	m.mu.Lock()
	m.restarting = true
	m.mu.Unlock()

	m.Disconnect()

	m.mu.Lock()
	m.restarting = false
	m.mu.Unlock()

	return m.Connect(ctx)
}

// StartServer launches the local backend process and drives the state
// machine into a connection attempt.
func (m *manager) StartServer(ctx context.Context) error {
	if m.cfg.Server.Mode != model.ModeLocal {
		m.warnRemoteMode("start_server")
		return nil
	}
	if m.starter == nil {
		return ErrStarterMissing
	}

	m.mu.Lock()
	switch m.conn.Status {
	case model.StatusDisconnected, model.StatusError:
	default:
		m.mu.Unlock()
		return ErrInvalidState
	}
	if m.starter.Running() {
		m.mu.Unlock()
		return m.Connect(ctx)
	}

	m.conn = model.Connection{ID: uuid.New(), Status: m.conn.Status}
	connID := m.conn.ID
	m.setStatusLocked(model.StatusStarting, nil)
	m.mu.Unlock()

	pid, err := m.starter.Start(ctx)

	m.mu.Lock()
	if m.conn.ID != connID {
		m.mu.Unlock()
		return nil
	}
	if err != nil {
		m.conn.LastError = err
		m.setStatusLocked(model.StatusError, nil)
		m.publishLocked(model.EventError, map[string]any{
			"error":       err.Error(),
			"recoverable": false,
		})
		m.mu.Unlock()
		return errors.Join(ErrLaunchFailed, err)
	}

	m.conn.ProcessID = pid
	m.publishLocked(model.EventServerStarted, map[string]any{"pid": pid})
	m.setStatusLocked(model.StatusConnecting, nil)
	m.mu.Unlock()

	go m.attempt(ctx, connID)
	return nil
}

// StopServer stops the local backend process and drops to disconnected.
// Valid only while connected or starting; a stop during an unrelated
// connect attempt would silently cancel its timers.
func (m *manager) StopServer(ctx context.Context) error {
	if m.cfg.Server.Mode != model.ModeLocal {
		m.warnRemoteMode("stop_server")
		return nil
	}
	if m.starter == nil {
		return ErrStarterMissing
	}

	m.mu.Lock()
	switch m.conn.Status {
	case model.StatusConnected, model.StatusStarting:
	default:
		m.mu.Unlock()
		return ErrInvalidState
	}
	m.setStatusLocked(model.StatusStopping, nil)
	m.mu.Unlock()

	m.sched.CancelAll()

	err := m.starter.Stop(ctx)

	m.mu.Lock()
	defer m.mu.Unlock()

	if err != nil {
		// The process was at least launched, so this is recoverable.
		m.conn.LastError = err
		m.publishLocked(model.EventError, map[string]any{
			"error":       err.Error(),
			"recoverable": true,
		})
	}

	m.conn = model.Connection{ID: uuid.New(), Status: model.StatusDisconnected}
	m.consecutiveFails = 0
	m.publishStatusLocked()
	m.publishLocked(model.EventServerStopped, nil)
	m.logger.Info("backend server stopped")

	return err
}

// warnRemoteMode emits the no-op warning for local-only operations.
func (m *manager) warnRemoteMode(op string) {
	m.logger.Warn("operation requires local mode", "op", op)
	m.mu.Lock()
	m.publishLocked(model.EventError, map[string]any{
		"warning":     true,
		"recoverable": true,
		"error":       op + " requires local mode",
	})
	m.mu.Unlock()
}

// HealthCheck runs one probe immediately and applies its result.
func (m *manager) HealthCheck(ctx context.Context) model.HealthResult {
	m.mu.Lock()
	connID := m.conn.ID
	m.mu.Unlock()

	return m.healthCheck(ctx, connID, false)
}

// scheduleHealthTickLocked arms the periodic health timer.
func (m *manager) scheduleHealthTickLocked(connID uuid.UUID) {
	m.sched.After(m.cfg.Health.Interval, func() {
		m.healthCheck(context.Background(), connID, true)
	})
}

// healthCheck performs one probe, records metrics, emits HEALTH_CHECK, and
// forces a reconnect once the consecutive-failure threshold is crossed. A
// single failed check never triggers reconnection on its own.
func (m *manager) healthCheck(ctx context.Context, connID uuid.UUID, reschedule bool) model.HealthResult {
	result := m.probe.Check(ctx, m.cfg)
	ok := result.Status != model.HealthUnreachable
	m.metrics.recordHealthCheck(ok, result.Latency)

	m.mu.Lock()
	defer m.mu.Unlock()

	if m.conn.ID != connID {
		return result
	}

	m.conn.LastHealthCheckAt = result.Timestamp
	m.lastHealth = result
	m.publishLocked(model.EventHealthCheck, map[string]any{
		"status":  string(result.Status),
		"latency": result.Latency.String(),
		"detail":  result.Detail,
	})

	if ok {
		m.consecutiveFails = 0
	} else {
		m.consecutiveFails++
		m.logger.Warn("health check failed",
			"consecutive", m.consecutiveFails,
			"threshold", m.cfg.Health.FailureThreshold,
			"detail", result.Detail,
		)
	}

	if m.conn.Status != model.StatusConnected {
		return result
	}

	if !ok && m.consecutiveFails >= m.cfg.Health.FailureThreshold {
		m.metrics.recordReconnection()
		m.publishLocked(model.EventConnectionLost, map[string]any{
			"reason":   "health checks failing",
			"failures": m.consecutiveFails,
		})
		m.conn.ConnectedAt = time.Time{}
		m.conn.RetryCount = 0
		m.consecutiveFails = 0
		m.setStatusLocked(model.StatusReconnecting, nil)

		delay := RetryDelay(m.cfg.Server.RetryBaseDelay, m.cfg.Server.RetryMaxDelay, 1)
		m.sched.After(delay, func() { m.retryTick(connID) })
		return result
	}

	if reschedule {
		m.scheduleHealthTickLocked(connID)
	}
	return result
}

// Status returns the current connection status.
func (m *manager) Status() model.ConnectionStatus {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.conn.Status
}

// Connection returns a copy of the current connection.
func (m *manager) Connection() model.Connection {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.conn
}

// Metrics derives a statistics snapshot.
func (m *manager) Metrics() model.Metrics {
	m.mu.Lock()
	connectedAt := m.conn.ConnectedAt
	m.mu.Unlock()
	return m.metrics.snapshot(connectedAt, m.traffic)
}

// IsHealthy reports whether the connection is up and the last probe passed.
func (m *manager) IsHealthy() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.conn.Status == model.StatusConnected && m.consecutiveFails == 0
}

// LastHealth returns the most recent cached probe result.
func (m *manager) LastHealth() model.HealthResult {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.lastHealth
}

// Subscribe registers a lifecycle event listener.
func (m *manager) Subscribe(kinds ...model.EventType) *events.Subscription {
	return m.bus.Subscribe(kinds...)
}

// Unsubscribe removes a lifecycle event listener.
func (m *manager) Unsubscribe(sub *events.Subscription) {
	m.bus.Unsubscribe(sub)
}

// Close tears the manager down.
func (m *manager) Close() {
	m.Disconnect()
	m.bus.Close()
}

// setStatusLocked applies a status transition and publishes STATUS_CHANGED.
// Callers hold m.mu.
func (m *manager) setStatusLocked(status model.ConnectionStatus, data map[string]any) {
	if m.conn.Status == status {
		return
	}
	old := m.conn.Status
	m.conn.Status = status

	if data == nil {
		data = map[string]any{}
	}
	data["old_status"] = string(old)
	data["new_status"] = string(status)
	m.publishLocked(model.EventStatusChanged, data)

	m.logger.Debug("status changed", "from", old, "to", status)
}

// publishStatusLocked publishes STATUS_CHANGED for the current status.
func (m *manager) publishStatusLocked() {
	m.publishLocked(model.EventStatusChanged, map[string]any{
		"new_status": string(m.conn.Status),
	})
}

// publishLocked emits an event. Callers hold m.mu; Publish never blocks.
func (m *manager) publishLocked(t model.EventType, data map[string]any) {
	m.bus.Publish(model.LifecycleEvent{
		Type:         t,
		Timestamp:    time.Now(),
		ConnectionID: m.conn.ID,
		Data:         data,
	})
}
