package realtime

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/hannesnortje/memlink/internal/config"
	"github.com/hannesnortje/memlink/internal/model"
)

// Transport is the push-channel surface the distributor drives. *Channel
// satisfies this; tests substitute a fake.
type Transport interface {
	Connect(ctx context.Context) error
	Disconnect()
	Send(cmd Command)
	Updates() <-chan model.RealtimeUpdate
	StatusEvents() <-chan StatusEvent
	IsConnected() bool
}

// DataHandler receives every decoded push update.
type DataHandler func(model.RealtimeUpdate)

// StatusHandler receives coarse connection-status transitions.
type StatusHandler func(StatusEvent)

// FetchFunc fetches the current value of one category on demand; supplied
// by the caller from the request/response API client.
type FetchFunc func(ctx context.Context, category model.UpdateCategory) ([]byte, error)

// Distributor wraps one realtime channel and republishes decoded updates to
// any number of subscribers. It tracks the last-seen timestamp and a
// bounded trailing buffer per update category; consumers never touch the
// transport.
type Distributor struct {
	cfg     *config.Config
	channel Transport
	logger  *slog.Logger

	mu       sync.RWMutex
	data     map[uuid.UUID]DataHandler
	statuses map[uuid.UUID]StatusHandler
	lastSeen map[model.UpdateCategory]time.Time
	buffers  map[model.UpdateCategory]*Ring[model.RealtimeUpdate]
	running  bool
	stop     chan struct{}
	wg       sync.WaitGroup
}

// NewDistributor creates a distributor over the given transport.
func NewDistributor(cfg *config.Config, channel Transport, logger *slog.Logger) *Distributor {
	if logger == nil {
		logger = slog.Default()
	}

	buffers := make(map[model.UpdateCategory]*Ring[model.RealtimeUpdate])
	for _, cat := range model.Categories() {
		buffers[cat] = NewRing[model.RealtimeUpdate](cfg.Realtime.BufferCapacity)
	}

	return &Distributor{
		cfg:      cfg,
		channel:  channel,
		logger:   logger,
		data:     make(map[uuid.UUID]DataHandler),
		statuses: make(map[uuid.UUID]StatusHandler),
		lastSeen: make(map[model.UpdateCategory]time.Time),
		buffers:  buffers,
	}
}

// Start connects the channel and begins distributing. Subscriptions made
// before Start (or while stopped) are preserved.
func (d *Distributor) Start(ctx context.Context) error {
	d.mu.Lock()
	if d.running {
		d.mu.Unlock()
		return nil
	}
	d.running = true
	d.stop = make(chan struct{})
	stop := d.stop
	d.mu.Unlock()

	d.wg.Add(1)
	go d.distribute(stop)

	err := d.channel.Connect(ctx)
	if err != nil {
		// The channel's own reconnect loop keeps trying.
		d.logger.Warn("realtime distributor started without live channel", "error", err)
	} else {
		d.logger.Info("realtime distributor started")
	}
	return err
}

// Stop disconnects the channel and pauses distribution without destroying
// subscriptions; Start resumes them.
func (d *Distributor) Stop() {
	d.mu.Lock()
	if !d.running {
		d.mu.Unlock()
		return
	}
	d.running = false
	stop := d.stop
	d.mu.Unlock()

	close(stop)
	d.channel.Disconnect()
	d.wg.Wait()

	d.logger.Info("realtime distributor stopped")
}

// OnData registers a subscriber for all decoded updates. The returned
// handle removes it via Off.
func (d *Distributor) OnData(h DataHandler) uuid.UUID {
	id := uuid.New()
	d.mu.Lock()
	d.data[id] = h
	d.mu.Unlock()
	return id
}

// OnStatus registers a subscriber for coarse status transitions.
func (d *Distributor) OnStatus(h StatusHandler) uuid.UUID {
	id := uuid.New()
	d.mu.Lock()
	d.statuses[id] = h
	d.mu.Unlock()
	return id
}

// Off removes a subscriber by handle. Safe to call from inside a handler.
func (d *Distributor) Off(id uuid.UUID) {
	d.mu.Lock()
	delete(d.data, id)
	delete(d.statuses, id)
	d.mu.Unlock()
}

// RequestRefresh asks the backend to resend current values for the given
// categories. No-op when the channel is not connected.
func (d *Distributor) RequestRefresh(categories ...model.UpdateCategory) {
	if !d.channel.IsConnected() {
		d.logger.Debug("refresh requested while disconnected, ignoring")
		return
	}

	if len(categories) == 0 {
		categories = model.Categories()
	}
	types := make([]string, 0, len(categories))
	for _, cat := range categories {
		types = append(types, string(cat))
	}
	d.channel.Send(Command{Type: CmdRequestRefresh, DataTypes: types})
}

// Refresh fetches current values for the given categories through fetch,
// concurrently, and injects the successes as cached updates. Failures never
// discard successes already received; the failure count is returned.
func (d *Distributor) Refresh(ctx context.Context, fetch FetchFunc, categories ...model.UpdateCategory) (failed int, err error) {
	if len(categories) == 0 {
		categories = model.Categories()
	}

	var mu sync.Mutex
	g, ctx := errgroup.WithContext(ctx)

	for _, cat := range categories {
		cat := cat
		g.Go(func() error {
			payload, ferr := fetch(ctx, cat)
			if ferr != nil {
				d.logger.Warn("refresh fetch failed", "category", cat, "error", ferr)
				mu.Lock()
				failed++
				mu.Unlock()
				// Keep the other fetches going.
				return nil
			}
			d.ingest(model.RealtimeUpdate{
				Category:  cat,
				Payload:   payload,
				Timestamp: time.Now(),
				Cached:    true,
			})
			return nil
		})
	}

	if werr := g.Wait(); werr != nil {
		return failed, werr
	}
	return failed, nil
}

// GetLastReceived returns the timestamp of the most recent update in a
// category, zero if none arrived yet.
func (d *Distributor) GetLastReceived(category model.UpdateCategory) time.Time {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.lastSeen[category]
}

// Cached returns the trailing buffer of a category, oldest first, each
// entry marked as cached so consumers render it as stale rather than live.
func (d *Distributor) Cached(category model.UpdateCategory) []model.RealtimeUpdate {
	buf, ok := d.buffers[category]
	if !ok {
		return nil
	}
	items := buf.Items()
	for i := range items {
		items[i].Cached = true
	}
	return items
}

// BufferStats returns per-category buffer statistics.
func (d *Distributor) BufferStats() map[model.UpdateCategory]RingStats {
	out := make(map[model.UpdateCategory]RingStats, len(d.buffers))
	for cat, buf := range d.buffers {
		out[cat] = buf.Stats()
	}
	return out
}

// distribute pumps channel updates and status transitions to subscribers.
func (d *Distributor) distribute(stop chan struct{}) {
	defer d.wg.Done()

	for {
		select {
		case <-stop:
			return
		case update := <-d.channel.Updates():
			d.ingest(update)
		case ev := <-d.channel.StatusEvents():
			d.dispatchStatus(ev)
		}
	}
}

// ingest records and republishes one update.
func (d *Distributor) ingest(update model.RealtimeUpdate) {
	d.mu.Lock()
	d.lastSeen[update.Category] = update.Timestamp
	d.mu.Unlock()

	if buf, ok := d.buffers[update.Category]; ok {
		buf.Append(update)
	}

	// Snapshot the handler list so Off during dispatch is safe.
	d.mu.RLock()
	handlers := make([]DataHandler, 0, len(d.data))
	for _, h := range d.data {
		handlers = append(handlers, h)
	}
	d.mu.RUnlock()

	for _, h := range handlers {
		h(update)
	}
}

// dispatchStatus republishes one coarse status transition.
func (d *Distributor) dispatchStatus(ev StatusEvent) {
	d.mu.RLock()
	handlers := make([]StatusHandler, 0, len(d.statuses))
	for _, h := range d.statuses {
		handlers = append(handlers, h)
	}
	d.mu.RUnlock()

	for _, h := range handlers {
		h(ev)
	}
}
