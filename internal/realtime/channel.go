package realtime

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"
	"time"

	"github.com/hannesnortje/memlink/internal/config"
	"github.com/hannesnortje/memlink/internal/model"
)

// ReconnectDelay computes the backoff before reconnect attempt number
// attempts (0-based): interval * attempts, capped at max. Non-decreasing
// across consecutive failures. Pure function.
func ReconnectDelay(interval, max time.Duration, attempts int) time.Duration {
	if attempts < 0 {
		attempts = 0
	}
	d := interval * time.Duration(attempts)
	if d > max {
		d = max
	}
	return d
}

// Channel owns the persistent duplex stream for server-pushed updates. It is
// an independent failure domain from the primary connection: it reconnects
// on its own with capped backoff and gives up after a configured number of
// attempts with exactly one terminal signal.
type Channel struct {
	cfg    *config.Config
	logger *slog.Logger

	// newClient builds one websocket session; replaced in tests.
	newClient func() Client

	updates chan model.RealtimeUpdate
	status  chan StatusEvent

	mu             sync.Mutex
	client         Client
	quit           chan struct{} // closes the current session's pump
	intentional    bool          // set before an intentional close
	attempts       int           // reconnect attempts since last open
	gaveUp         bool
	reconnectTimer *time.Timer
	closed         bool

	totalIn  int64 // bytes from finished sessions
	totalOut int64

	decodeErrors int64
}

// NewChannel creates a realtime channel. It does not connect until Connect
// is called.
func NewChannel(cfg *config.Config, logger *slog.Logger) *Channel {
	if logger == nil {
		logger = slog.Default()
	}

	c := &Channel{
		cfg:     cfg,
		logger:  logger,
		updates: make(chan model.RealtimeUpdate, cfg.Realtime.MessageBufferSize),
		status:  make(chan StatusEvent, 16),
	}
	c.newClient = func() Client {
		return NewClient(cfg.Realtime, logger)
	}
	return c
}

// Updates returns the stream of decoded push updates.
func (c *Channel) Updates() <-chan model.RealtimeUpdate {
	return c.updates
}

// StatusEvents returns the stream of coarse connection-status transitions.
func (c *Channel) StatusEvents() <-chan StatusEvent {
	return c.status
}

// Connect opens the stream and subscribes to the configured topics. A call
// while a session is already live is a no-op, and any pending reconnect
// timer is cancelled so only one transport ever exists. On success the
// reconnect attempt counter resets. On failure the reconnect loop takes
// over, so the returned error is informational.
func (c *Channel) Connect(ctx context.Context) error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return ErrAlreadyClosed
	}
	if c.client != nil && c.client.IsConnected() {
		c.mu.Unlock()
		return nil
	}
	if c.reconnectTimer != nil {
		c.reconnectTimer.Stop()
		c.reconnectTimer = nil
	}
	c.intentional = false
	c.gaveUp = false
	cl := c.newClient()
	c.mu.Unlock()

	if err := cl.Connect(ctx); err != nil {
		c.logger.Warn("realtime connect failed", "url", c.cfg.Realtime.URL, "error", err)
		c.handleClose(nil, err)
		return err
	}

	quit := make(chan struct{})

	c.mu.Lock()
	c.client = cl
	c.quit = quit
	c.attempts = 0
	c.mu.Unlock()

	c.subscribe()
	c.emitStatus(StateConnected, nil)

	go c.pump(cl, quit)
	return nil
}

// Disconnect closes the stream intentionally: the close handler will not
// schedule a reconnect, and pending reconnect timers are cleared.
func (c *Channel) Disconnect() {
	c.mu.Lock()
	c.intentional = true
	if c.reconnectTimer != nil {
		c.reconnectTimer.Stop()
		c.reconnectTimer = nil
	}
	cl := c.client
	quit := c.quit
	c.client = nil
	c.quit = nil
	c.mu.Unlock()

	if quit != nil {
		close(quit)
	}
	if cl != nil {
		c.retireClient(cl)
		cl.Close()
		c.emitStatus(StateDisconnected, nil)
	}
}

// Close disconnects and makes the channel unusable.
func (c *Channel) Close() {
	c.Disconnect()
	c.mu.Lock()
	c.closed = true
	c.mu.Unlock()
}

// IsConnected reports whether a live session exists.
func (c *Channel) IsConnected() bool {
	c.mu.Lock()
	cl := c.client
	c.mu.Unlock()
	return cl != nil && cl.IsConnected()
}

// Send marshals and writes a control command, fire-and-forget. When not
// connected the command is logged and dropped, never buffered.
func (c *Channel) Send(cmd Command) {
	c.mu.Lock()
	cl := c.client
	c.mu.Unlock()

	if cl == nil || !cl.IsConnected() {
		c.logger.Debug("realtime channel not connected, dropping command", "type", cmd.Type)
		return
	}

	data, err := json.Marshal(cmd)
	if err != nil {
		c.logger.Warn("failed to marshal command", "type", cmd.Type, "error", err)
		return
	}
	if err := cl.Send(data); err != nil {
		c.logger.Warn("failed to send command", "type", cmd.Type, "error", err)
	}
}

// Traffic returns cumulative byte counters across all sessions.
func (c *Channel) Traffic() (int64, int64) {
	c.mu.Lock()
	in, out := c.totalIn, c.totalOut
	cl := c.client
	c.mu.Unlock()

	if cl != nil {
		ci, co := cl.Traffic()
		in += ci
		out += co
	}
	return in, out
}

// DecodeErrors returns the count of swallowed malformed messages.
func (c *Channel) DecodeErrors() int64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.decodeErrors
}

// subscribe declares the update topics of interest.
func (c *Channel) subscribe() {
	topics := make([]string, 0, len(c.cfg.Realtime.Topics))
	for _, t := range c.cfg.Realtime.Topics {
		topics = append(topics, string(t))
	}
	c.Send(Command{Type: CmdSubscribe, Topics: topics})
}

// retireClient folds a finished session's byte counters into the totals.
func (c *Channel) retireClient(cl Client) {
	in, out := cl.Traffic()
	c.mu.Lock()
	c.totalIn += in
	c.totalOut += out
	c.mu.Unlock()
}

// pump drains one session's messages and errors.
func (c *Channel) pump(cl Client, quit chan struct{}) {
	for {
		select {
		case <-quit:
			return
		case err := <-cl.Errors():
			c.handleClose(cl, err)
			return
		case msg, ok := <-cl.Messages():
			if !ok {
				return
			}
			c.handleMessage(msg)
		}
	}
}

// handleClose reacts to an unrequested close of the failed session:
// publishes the disconnected status first, then schedules a reconnect with
// capped backoff, or gives up terminally after the configured attempt limit.
// failed is nil when a dial never produced a session. A failed session that
// is no longer current is retired quietly; the live session stays untouched.
func (c *Channel) handleClose(failed Client, err error) {
	c.mu.Lock()
	if c.intentional || c.closed {
		c.mu.Unlock()
		return
	}
	if failed != nil && c.client != nil && c.client != failed {
		c.mu.Unlock()
		c.retireClient(failed)
		failed.Close()
		return
	}
	if failed != nil {
		c.client = nil
	}
	c.mu.Unlock()

	if failed != nil {
		c.retireClient(failed)
		failed.Close()
	}

	// Status event fires before the reconnect timer starts.
	c.emitStatus(StateDisconnected, err)

	c.mu.Lock()
	defer c.mu.Unlock()

	// A fresh session may have opened while the status event went out.
	if c.client != nil && c.client.IsConnected() {
		return
	}

	if c.attempts >= c.cfg.Realtime.MaxReconnectAttempts {
		if !c.gaveUp {
			c.gaveUp = true
			c.logger.Error("realtime reconnect attempts exhausted",
				"attempts", c.attempts,
			)
			c.emitStatus(StateError, ErrGaveUp)
		}
		return
	}

	delay := ReconnectDelay(
		c.cfg.Realtime.ReconnectInterval,
		c.cfg.Realtime.ReconnectMaxDelay,
		c.attempts,
	)
	c.attempts++

	c.logger.Info("scheduling realtime reconnect",
		"attempt", c.attempts,
		"delay", delay,
	)

	c.reconnectTimer = time.AfterFunc(delay, func() {
		ctx, cancel := context.WithTimeout(context.Background(), c.cfg.Server.ConnectTimeout)
		defer cancel()
		c.Connect(ctx)
	})
}

// handleMessage decodes one inbound message. Malformed payloads are
// swallowed per message and never tear down the connection.
func (c *Channel) handleMessage(msg TimestampedMessage) {
	var env envelope
	if err := json.Unmarshal(msg.Data, &env); err != nil {
		c.mu.Lock()
		c.decodeErrors++
		c.mu.Unlock()
		c.logger.Debug("dropping malformed realtime message", "error", err)
		return
	}

	switch env.Type {
	case msgHeartbeat:
		c.Send(Command{Type: CmdPong})
		return
	case msgSubscriptionConfirmed:
		c.logger.Debug("realtime subscription confirmed")
		return
	case msgError:
		c.logger.Warn("realtime server error", "data", string(env.Data))
		return
	}

	category, ok := categoryForType(env.Type)
	if !ok {
		c.logger.Debug("skipping unknown realtime message type", "type", env.Type)
		return
	}

	ts := msg.ReceivedAt
	if env.Timestamp > 0 {
		ts = time.UnixMilli(env.Timestamp)
	}

	update := model.RealtimeUpdate{
		Category:  category,
		Payload:   env.Data,
		Timestamp: ts,
	}

	select {
	case c.updates <- update:
	default:
		c.logger.Warn("update buffer full, dropping update", "category", category)
	}
}

// emitStatus publishes a coarse status transition without blocking.
func (c *Channel) emitStatus(state string, err error) {
	ev := StatusEvent{State: state, Err: err, Timestamp: time.Now()}
	select {
	case c.status <- ev:
	default:
		c.logger.Warn("status buffer full, dropping status event", "state", state)
	}
}
