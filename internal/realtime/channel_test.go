package realtime

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/hannesnortje/memlink/internal/config"
	"github.com/hannesnortje/memlink/internal/model"
)

func TestReconnectDelay(t *testing.T) {
	interval := 2 * time.Second
	max := 30 * time.Second

	tests := []struct {
		attempts int
		want     time.Duration
	}{
		{0, 0},
		{1, 2 * time.Second},
		{2, 4 * time.Second},
		{14, 28 * time.Second},
		{15, 30 * time.Second},
		{100, 30 * time.Second},
		{-1, 0},
	}

	for _, tt := range tests {
		if got := ReconnectDelay(interval, max, tt.attempts); got != tt.want {
			t.Errorf("ReconnectDelay(attempts=%d) = %v, want %v", tt.attempts, got, tt.want)
		}
	}
}

func TestReconnectDelay_NonDecreasing(t *testing.T) {
	prev := time.Duration(0)
	for attempts := 0; attempts < 50; attempts++ {
		d := ReconnectDelay(time.Second, 20*time.Second, attempts)
		if d < prev {
			t.Fatalf("delay decreased at attempt %d: %v < %v", attempts, d, prev)
		}
		prev = d
	}
}

func channelTestCfg(url string) *config.Config {
	return &config.Config{
		Server: config.ServerConfig{
			Address:        "http://127.0.0.1:1",
			ConnectTimeout: time.Second,
		},
		Realtime: config.RealtimeConfig{
			URL:                  url,
			Topics:               []model.UpdateCategory{model.CategoryMetrics},
			HeartbeatInterval:    time.Minute,
			StaleTimeout:         time.Minute,
			WriteTimeout:         time.Second,
			ReconnectInterval:    10 * time.Millisecond,
			ReconnectMaxDelay:    50 * time.Millisecond,
			MaxReconnectAttempts: 3,
			BufferCapacity:       8,
			MessageBufferSize:    16,
		},
	}
}

func waitChannelStatus(t *testing.T, ch *Channel, state string) StatusEvent {
	t.Helper()
	deadline := time.After(2 * time.Second)
	for {
		select {
		case ev := <-ch.StatusEvents():
			if ev.State == state {
				return ev
			}
		case <-deadline:
			t.Fatalf("timed out waiting for status %q", state)
		}
	}
}

func TestChannel_DecodesUpdates(t *testing.T) {
	server, wsURL := newMockWSServer(t, func(conn *websocket.Conn) {
		conn.WriteMessage(websocket.TextMessage,
			[]byte(`{"type":"memory_metrics","data":{"total_memories":42},"timestamp":1700000000000}`))
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	})
	defer server.Close()

	ch := NewChannel(channelTestCfg(wsURL), nil)
	defer ch.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	if err := ch.Connect(ctx); err != nil {
		t.Fatalf("Connect() error: %v", err)
	}
	waitChannelStatus(t, ch, StateConnected)

	select {
	case update := <-ch.Updates():
		if update.Category != model.CategoryMetrics {
			t.Errorf("Category = %q, want %q", update.Category, model.CategoryMetrics)
		}
		if !update.Timestamp.Equal(time.UnixMilli(1700000000000)) {
			t.Errorf("Timestamp = %v, want server timestamp", update.Timestamp)
		}
		var payload map[string]int
		if err := json.Unmarshal(update.Payload, &payload); err != nil {
			t.Fatalf("payload not JSON: %v", err)
		}
		if payload["total_memories"] != 42 {
			t.Errorf("payload = %v", payload)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for update")
	}
}

func TestChannel_MalformedMessagesSwallowed(t *testing.T) {
	server, wsURL := newMockWSServer(t, func(conn *websocket.Conn) {
		conn.WriteMessage(websocket.TextMessage, []byte(`not json at all`))
		conn.WriteMessage(websocket.TextMessage,
			[]byte(`{"type":"health_update","data":{"status":"healthy"}}`))
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	})
	defer server.Close()

	ch := NewChannel(channelTestCfg(wsURL), nil)
	defer ch.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	if err := ch.Connect(ctx); err != nil {
		t.Fatalf("Connect() error: %v", err)
	}

	// The malformed message is dropped, the next one still flows.
	select {
	case update := <-ch.Updates():
		if update.Category != model.CategoryHealth {
			t.Errorf("Category = %q, want %q", update.Category, model.CategoryHealth)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("update after malformed message never arrived")
	}

	if n := ch.DecodeErrors(); n != 1 {
		t.Errorf("DecodeErrors() = %d, want 1", n)
	}
}

func TestChannel_SubscribesAndAnswersHeartbeat(t *testing.T) {
	commands := make(chan Command, 4)
	server, wsURL := newMockWSServer(t, func(conn *websocket.Conn) {
		// First inbound frame is the subscription.
		_, data, err := conn.ReadMessage()
		if err != nil {
			return
		}
		var cmd Command
		json.Unmarshal(data, &cmd)
		commands <- cmd

		conn.WriteMessage(websocket.TextMessage, []byte(`{"type":"heartbeat"}`))

		_, data, err = conn.ReadMessage()
		if err != nil {
			return
		}
		json.Unmarshal(data, &cmd)
		commands <- cmd

		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	})
	defer server.Close()

	ch := NewChannel(channelTestCfg(wsURL), nil)
	defer ch.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	if err := ch.Connect(ctx); err != nil {
		t.Fatalf("Connect() error: %v", err)
	}

	select {
	case cmd := <-commands:
		if cmd.Type != CmdSubscribe {
			t.Errorf("first command = %q, want %q", cmd.Type, CmdSubscribe)
		}
		if len(cmd.Topics) != 1 || cmd.Topics[0] != string(model.CategoryMetrics) {
			t.Errorf("subscribe topics = %v", cmd.Topics)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("subscribe command never arrived")
	}

	select {
	case cmd := <-commands:
		if cmd.Type != CmdPong {
			t.Errorf("heartbeat answer = %q, want %q", cmd.Type, CmdPong)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("pong never arrived")
	}
}

func TestChannel_DisconnectDoesNotReconnect(t *testing.T) {
	var connections atomic.Int32
	server, wsURL := newMockWSServer(t, func(conn *websocket.Conn) {
		connections.Add(1)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	})
	defer server.Close()

	ch := NewChannel(channelTestCfg(wsURL), nil)
	defer ch.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	if err := ch.Connect(ctx); err != nil {
		t.Fatalf("Connect() error: %v", err)
	}
	waitChannelStatus(t, ch, StateConnected)

	ch.Disconnect()
	waitChannelStatus(t, ch, StateDisconnected)

	time.Sleep(150 * time.Millisecond)

	if n := connections.Load(); n != 1 {
		t.Errorf("server saw %d connections, want 1 (no reconnect after Disconnect)", n)
	}
	if ch.IsConnected() {
		t.Error("IsConnected() = true after Disconnect")
	}
}

func TestChannel_ReconnectsAfterUnexpectedClose(t *testing.T) {
	var connections atomic.Int32
	server, wsURL := newMockWSServer(t, func(conn *websocket.Conn) {
		n := connections.Add(1)
		if n == 1 {
			// Simulate a backend drop on the first session.
			conn.Close()
			return
		}
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	})
	defer server.Close()

	ch := NewChannel(channelTestCfg(wsURL), nil)
	defer ch.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	if err := ch.Connect(ctx); err != nil {
		t.Fatalf("Connect() error: %v", err)
	}

	// Disconnected fires before the reconnect lands, then connected again.
	waitChannelStatus(t, ch, StateConnected)
	waitChannelStatus(t, ch, StateDisconnected)
	waitChannelStatus(t, ch, StateConnected)

	if !ch.IsConnected() {
		t.Error("IsConnected() = false after reconnect")
	}
	if n := connections.Load(); n < 2 {
		t.Errorf("server saw %d connections, want at least 2", n)
	}
}

// fakeSession is a scriptable Client for driving the reconnect loop without
// a real websocket.
type fakeSession struct {
	failConnect bool

	mu        sync.Mutex
	connected bool
	messages  chan TimestampedMessage
	errors    chan error
}

func newFakeSession(failConnect bool) *fakeSession {
	return &fakeSession{
		failConnect: failConnect,
		messages:    make(chan TimestampedMessage, 16),
		errors:      make(chan error, 1),
	}
}

func (f *fakeSession) Connect(ctx context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failConnect {
		return errors.New("dial refused")
	}
	f.connected = true
	return nil
}

func (f *fakeSession) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.connected = false
	return nil
}

func (f *fakeSession) Send([]byte) error { return nil }

func (f *fakeSession) Messages() <-chan TimestampedMessage { return f.messages }
func (f *fakeSession) Errors() <-chan error                { return f.errors }

func (f *fakeSession) IsConnected() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.connected
}

func (f *fakeSession) Traffic() (int64, int64) { return 0, 0 }

// drop simulates the backend tearing the session down.
func (f *fakeSession) drop(err error) {
	f.mu.Lock()
	f.connected = false
	f.mu.Unlock()
	f.errors <- err
}

// scriptSessions replaces the channel's client factory with a sequence of
// fake sessions; failing indexes refuse to dial.
func scriptSessions(ch *Channel, failing ...int) func() []*fakeSession {
	var mu sync.Mutex
	var made []*fakeSession
	fail := map[int]bool{}
	for _, i := range failing {
		fail[i] = true
	}
	ch.newClient = func() Client {
		mu.Lock()
		defer mu.Unlock()
		s := newFakeSession(fail[len(made)])
		made = append(made, s)
		return s
	}
	return func() []*fakeSession {
		mu.Lock()
		defer mu.Unlock()
		out := make([]*fakeSession, len(made))
		copy(out, made)
		return out
	}
}

func TestChannel_ManualConnectCancelsPendingReconnect(t *testing.T) {
	cfg := channelTestCfg("ws://unused")
	cfg.Realtime.ReconnectInterval = 200 * time.Millisecond
	cfg.Realtime.ReconnectMaxDelay = time.Second
	cfg.Realtime.MaxReconnectAttempts = 5

	ch := NewChannel(cfg, nil)
	defer ch.Close()

	// Session 1 (the immediate retry after the drop) refuses to dial, which
	// arms a delayed reconnect timer.
	sessions := scriptSessions(ch, 1)

	if err := ch.Connect(context.Background()); err != nil {
		t.Fatalf("Connect() error: %v", err)
	}
	waitChannelStatus(t, ch, StateConnected)

	sessions()[0].drop(errors.New("backend dropped"))
	waitChannelStatus(t, ch, StateDisconnected)

	// Wait for the failed immediate retry so the 200ms timer is pending.
	waitFor(t, func() bool { return len(sessions()) == 2 })

	// User reconnects before the timer fires; the timer must not open a
	// second transport on top of this session.
	if err := ch.Connect(context.Background()); err != nil {
		t.Fatalf("manual Connect() error: %v", err)
	}
	waitChannelStatus(t, ch, StateConnected)

	time.Sleep(350 * time.Millisecond)

	live := 0
	for _, s := range sessions() {
		if s.IsConnected() {
			live++
		}
	}
	if live != 1 {
		t.Errorf("live sessions = %d, want 1", live)
	}
	if !sessions()[2].IsConnected() {
		t.Error("manual session was closed by a stale timer")
	}
	if !ch.IsConnected() {
		t.Error("IsConnected() = false after manual reconnect")
	}
}

func TestChannel_ConnectWhileConnectedIsNoop(t *testing.T) {
	ch := NewChannel(channelTestCfg("ws://unused"), nil)
	defer ch.Close()

	sessions := scriptSessions(ch)

	if err := ch.Connect(context.Background()); err != nil {
		t.Fatalf("Connect() error: %v", err)
	}
	if err := ch.Connect(context.Background()); err != nil {
		t.Fatalf("second Connect() error: %v", err)
	}

	if n := len(sessions()); n != 1 {
		t.Errorf("sessions dialed = %d, want 1 (second Connect coalesced)", n)
	}
}

func TestChannel_StaleSessionErrorLeavesCurrentAlone(t *testing.T) {
	cfg := channelTestCfg("ws://unused")
	cfg.Realtime.ReconnectInterval = 10 * time.Millisecond

	ch := NewChannel(cfg, nil)
	defer ch.Close()

	sessions := scriptSessions(ch)

	if err := ch.Connect(context.Background()); err != nil {
		t.Fatalf("Connect() error: %v", err)
	}
	waitChannelStatus(t, ch, StateConnected)

	sessions()[0].drop(errors.New("first drop"))
	waitChannelStatus(t, ch, StateDisconnected)
	waitChannelStatus(t, ch, StateConnected)

	// A late close from the retired session must not touch its successor.
	ch.handleClose(sessions()[0], errors.New("late error from dead session"))

	if !sessions()[1].IsConnected() {
		t.Error("current session closed by a stale session's error")
	}
	if !ch.IsConnected() {
		t.Error("IsConnected() = false after stale error")
	}

	select {
	case ev := <-ch.StatusEvents():
		t.Errorf("stale close emitted status %q", ev.State)
	case <-time.After(50 * time.Millisecond):
	}
}

func TestChannel_GivesUpAfterMaxAttempts(t *testing.T) {
	conns := make(chan *websocket.Conn, 1)
	server, wsURL := newMockWSServer(t, func(conn *websocket.Conn) {
		conns <- conn
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	})

	cfg := channelTestCfg(wsURL)
	cfg.Realtime.MaxReconnectAttempts = 1

	ch := NewChannel(cfg, nil)
	defer ch.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	if err := ch.Connect(ctx); err != nil {
		t.Fatalf("Connect() error: %v", err)
	}
	waitChannelStatus(t, ch, StateConnected)

	// Kill the backend entirely so reconnect attempts fail. Close drops the
	// listener but leaves hijacked websocket sessions open, so sever the
	// live connection explicitly.
	server.Close()
	(<-conns).Close()

	ev := waitChannelStatus(t, ch, StateError)
	if !errors.Is(ev.Err, ErrGaveUp) {
		t.Errorf("terminal error = %v, want ErrGaveUp", ev.Err)
	}

	// The terminal signal fires exactly once.
	deadline := time.After(300 * time.Millisecond)
	for {
		select {
		case ev := <-ch.StatusEvents():
			if ev.State == StateError {
				t.Fatal("second terminal error event observed")
			}
		case <-deadline:
			return
		}
	}
}
