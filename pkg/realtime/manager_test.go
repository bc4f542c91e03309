package realtime

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/scrum-poker/scrumpoker/pkg/domain"
)

const (
	waitFor = 2 * time.Second
	tick    = 5 * time.Millisecond
)

// fakeConn is an in-memory transport session.
type fakeConn struct {
	inbox chan []byte
	done  chan struct{}
	once  sync.Once

	mu         sync.Mutex
	sent       []domain.Message
	readErr    error
	closeCode  int
	closed     bool
	failWrites bool
}

func newFakeConn() *fakeConn {
	return &fakeConn{inbox: make(chan []byte, 16), done: make(chan struct{})}
}

func (c *fakeConn) ReadMessage() ([]byte, error) {
	select {
	case data := <-c.inbox:
		return data, nil
	case <-c.done:
		c.mu.Lock()
		defer c.mu.Unlock()
		if c.readErr != nil {
			return nil, c.readErr
		}
		return nil, errors.New("use of closed connection")
	}
}

func (c *fakeConn) WriteMessage(data []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return errors.New("write on closed connection")
	}
	if c.failWrites {
		return errors.New("broken pipe")
	}
	var msg domain.Message
	if err := json.Unmarshal(data, &msg); err != nil {
		return err
	}
	c.sent = append(c.sent, msg)
	return nil
}

func (c *fakeConn) Close(code int, _ string) error {
	c.mu.Lock()
	c.closed = true
	c.closeCode = code
	c.mu.Unlock()
	c.once.Do(func() { close(c.done) })
	return nil
}

// serverClose ends the session from the remote side.
func (c *fakeConn) serverClose(err error) {
	c.mu.Lock()
	c.readErr = err
	c.mu.Unlock()
	c.once.Do(func() { close(c.done) })
}

func (c *fakeConn) setFailWrites(v bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.failWrites = v
}

func (c *fakeConn) actions() []domain.ActionKind {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]domain.ActionKind, 0, len(c.sent))
	for _, m := range c.sent {
		out = append(out, m.Action)
	}
	return out
}

func (c *fakeConn) count(action domain.ActionKind) int {
	n := 0
	for _, a := range c.actions() {
		if a == action {
			n++
		}
	}
	return n
}

func (c *fakeConn) closedWith() (bool, int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed, c.closeCode
}

// fakeDialer hands out fakeConns and records dialed URLs.
type fakeDialer struct {
	mu    sync.Mutex
	urls  []string
	conns []*fakeConn
	fails int // remaining dials to fail; negative fails forever
}

func (d *fakeDialer) Dial(_ context.Context, url string) (Conn, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.urls = append(d.urls, url)
	if d.fails != 0 {
		if d.fails > 0 {
			d.fails--
		}
		return nil, errors.New("connection refused")
	}
	c := newFakeConn()
	d.conns = append(d.conns, c)
	return c, nil
}

func (d *fakeDialer) dials() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.urls)
}

func (d *fakeDialer) url(i int) string {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.urls[i]
}

func (d *fakeDialer) conn(i int) *fakeConn {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.conns[i]
}

func (d *fakeDialer) lastConn() *fakeConn {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.conns[len(d.conns)-1]
}

func (d *fakeDialer) setFails(n int) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.fails = n
}

// statusLog records every status the manager reports.
type statusLog struct {
	mu   sync.Mutex
	list []Status
}

func (s *statusLog) add(st Status) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.list = append(s.list, st)
}

func (s *statusLog) last() Status {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.list) == 0 {
		return Status{}
	}
	return s.list[len(s.list)-1]
}

func (s *statusLog) count(state State) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, st := range s.list {
		if st.State == state {
			n++
		}
	}
	return n
}

func (s *statusLog) states() []State {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]State, 0, len(s.list))
	for _, st := range s.list {
		out = append(out, st.State)
	}
	return out
}

type harness struct {
	m        *Manager
	clock    *clockwork.FakeClock
	dialer   *fakeDialer
	statuses *statusLog
	msgs     chan domain.Message
}

func newHarness(t *testing.T, userID string) *harness {
	t.Helper()
	h := &harness{
		clock:    clockwork.NewFakeClock(),
		dialer:   &fakeDialer{},
		statuses: &statusLog{},
		msgs:     make(chan domain.Message, 64),
	}
	h.m = NewManager(DefaultConfig("ws://example.test", "r1", userID),
		WithClock(h.clock),
		WithDialer(h.dialer),
		WithStatusHandler(h.statuses.add),
		WithMessageHandler(func(msg domain.Message) { h.msgs <- msg }),
		WithLogger(zerolog.Nop()),
		WithRand(func() float64 { return 0.5 }),
	)
	t.Cleanup(h.m.Close)
	return h
}

func (h *harness) connect(t *testing.T) *fakeConn {
	t.Helper()
	h.m.Connect()
	require.Eventually(t, func() bool {
		return h.m.Connected() && h.statuses.last().State == StateConnected
	}, waitFor, tick)
	return h.dialer.lastConn()
}

// advance waits for n pending timers, then moves the fake clock.
func (h *harness) advance(t *testing.T, n int, d time.Duration) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), waitFor)
	defer cancel()
	require.NoError(t, h.clock.BlockUntilContext(ctx, n))
	h.clock.Advance(d)
}

func (h *harness) recv(t *testing.T) domain.Message {
	t.Helper()
	select {
	case msg := <-h.msgs:
		return msg
	case <-time.After(waitFor):
		t.Fatal("timed out waiting for message")
		return domain.Message{}
	}
}

func frame(t *testing.T, action domain.ActionKind, payload any) []byte {
	t.Helper()
	msg, err := domain.NewMessage(action, payload)
	require.NoError(t, err)
	data, err := json.Marshal(msg)
	require.NoError(t, err)
	return data
}

func TestConnectSendReceive(t *testing.T) {
	h := newHarness(t, "u1")
	conn := h.connect(t)

	assert.Equal(t, "ws://example.test/ws/r1?userId=u1", h.dialer.url(0))
	assert.Equal(t, Status{State: StateConnected}, h.statuses.last())

	ok := h.m.SendMessage(domain.ActionSubmit, domain.SubmitPayload{UserID: "u1", Vote: "5"})
	assert.True(t, ok)
	assert.Equal(t, []domain.ActionKind{domain.ActionSubmit}, conn.actions())

	conn.inbox <- frame(t, domain.ActionPong, nil)
	conn.inbox <- frame(t, domain.ActionJoin, domain.JoinEvent{ID: "u2", Name: "Bob", IsOnline: true})

	got := h.recv(t)
	assert.Equal(t, domain.ActionJoin, got.Action)
	ev, err := domain.DecodeEvent(got)
	require.NoError(t, err)
	assert.Equal(t, domain.JoinEvent{ID: "u2", Name: "Bob", IsOnline: true}, ev)
	assert.Empty(t, h.msgs, "pong must not be forwarded")
}

func TestConnectIsIdempotent(t *testing.T) {
	h := newHarness(t, "u1")
	h.connect(t)

	h.m.Connect()
	h.m.Connect()

	assert.Equal(t, 1, h.dialer.dials())
	assert.Equal(t, 1, h.statuses.count(StateConnecting))
}

func TestQueueFlushedOnceInOrder(t *testing.T) {
	h := newHarness(t, "u1")

	assert.False(t, h.m.SendMessage(domain.ActionSubmit, domain.SubmitPayload{UserID: "u1", Vote: "3"}))
	assert.False(t, h.m.SendMessage(domain.ActionPing, domain.UserPayload{UserID: "u1"}))
	assert.False(t, h.m.SendMessage(domain.ActionRename, domain.RenamePayload{UserID: "u1", Name: "Ally"}))
	assert.False(t, h.m.SendMessage(domain.ActionReveal, domain.UserPayload{UserID: "u1"}))
	assert.Equal(t, 3, h.m.Pending(), "control messages are never queued")

	first := h.connect(t)
	assert.Equal(t, []domain.ActionKind{domain.ActionSubmit, domain.ActionRename, domain.ActionReveal}, first.actions())
	assert.Equal(t, 0, h.m.Pending())

	first.serverClose(errors.New("connection reset"))
	require.Eventually(t, func() bool { return h.statuses.last().State == StateReconnecting }, waitFor, tick)
	h.advance(t, 1, time.Second)
	require.Eventually(t, func() bool { return h.dialer.dials() == 2 && h.m.Connected() }, waitFor, tick)

	assert.Empty(t, h.dialer.conn(1).actions(), "queue must not be replayed twice")
}

func TestAbnormalCloseReconnects(t *testing.T) {
	h := newHarness(t, "u1")
	conn := h.connect(t)

	conn.serverClose(errors.New("unexpected EOF"))
	require.Eventually(t, func() bool { return h.statuses.last().State == StateReconnecting }, waitFor, tick)
	assert.Equal(t, time.Second, h.statuses.last().Delay)
	assert.Equal(t, "Reconnecting in 1s…", h.statuses.last().String())
	assert.False(t, h.m.Connected())

	h.advance(t, 1, time.Second)
	require.Eventually(t, func() bool { return h.dialer.dials() == 2 && h.m.Connected() }, waitFor, tick)
}

func TestNormalCloseDoesNotReconnect(t *testing.T) {
	h := newHarness(t, "u1")
	conn := h.connect(t)

	conn.serverClose(ErrNormalClosure)
	require.Eventually(t, func() bool { return h.statuses.last().State == StateDisconnected }, waitFor, tick)

	h.clock.Advance(time.Minute)
	assert.Never(t, func() bool { return h.dialer.dials() > 1 }, 100*time.Millisecond, tick)
	assert.Equal(t, 0, h.statuses.count(StateReconnecting))
}

func TestMaxRetries(t *testing.T) {
	h := newHarness(t, "u1")
	h.dialer.setFails(-1)

	h.m.Connect()

	want := []time.Duration{1, 2, 4, 8, 16, 30, 30, 30, 30, 30}
	for i, secs := range want {
		require.Eventually(t, func() bool { return h.statuses.count(StateReconnecting) == i+1 }, waitFor, tick)
		assert.Equal(t, secs*time.Second, h.statuses.last().Delay, "attempt %d", i+1)
		h.advance(t, 1, secs*time.Second)
	}

	require.Eventually(t, func() bool { return h.statuses.last().State == StateMaxRetries }, waitFor, tick)
	assert.Equal(t, 11, h.dialer.dials())
	assert.Equal(t, "Disconnected - Max retries reached", h.statuses.last().String())

	h.clock.Advance(time.Hour)
	assert.Never(t, func() bool { return h.dialer.dials() > 11 }, 100*time.Millisecond, tick)

	// An explicit Connect starts over with a fresh budget.
	h.dialer.setFails(0)
	h.connect(t)
	assert.Equal(t, 12, h.dialer.dials())
}

func TestHeartbeatAndLivenessTimeout(t *testing.T) {
	h := newHarness(t, "u1")
	conn := h.connect(t)

	h.advance(t, 1, 15*time.Second)
	require.Eventually(t, func() bool { return conn.count(domain.ActionPing) == 1 }, waitFor, tick)

	h.advance(t, 1, 15*time.Second)
	require.Eventually(t, func() bool { return conn.count(domain.ActionPing) == 2 }, waitFor, tick)
	assert.True(t, h.m.Connected(), "30s of silence is still within the timeout")

	h.advance(t, 1, 15*time.Second)
	require.Eventually(t, func() bool { return h.statuses.last().State == StateReconnecting }, waitFor, tick)

	closed, code := conn.closedWith()
	assert.True(t, closed)
	assert.Equal(t, CloseNormal, code)

	h.advance(t, 1, time.Second)
	require.Eventually(t, func() bool { return h.dialer.dials() == 2 && h.m.Connected() }, waitFor, tick)
}

func TestPingCarriesUserID(t *testing.T) {
	h := newHarness(t, "u1")
	conn := h.connect(t)

	h.advance(t, 1, 15*time.Second)
	require.Eventually(t, func() bool { return conn.count(domain.ActionPing) == 1 }, waitFor, tick)

	conn.mu.Lock()
	payload := conn.sent[0].Payload
	conn.mu.Unlock()
	assert.JSONEq(t, `{"userId":"u1"}`, string(payload))
}

func TestInboundTrafficKeepsSessionAlive(t *testing.T) {
	h := newHarness(t, "u1")
	conn := h.connect(t)

	h.advance(t, 1, 15*time.Second)
	conn.inbox <- frame(t, domain.ActionOnline, domain.OnlineEvent{UserID: "u2"})
	h.recv(t)

	for i := 2; i <= 3; i++ {
		h.advance(t, 1, 15*time.Second)
		require.Eventually(t, func() bool { return conn.count(domain.ActionPing) == i }, waitFor, tick)
	}
	assert.True(t, h.m.Connected())
}

func TestDisconnectCancelsTimers(t *testing.T) {
	h := newHarness(t, "u1")
	conn := h.connect(t)

	h.m.Disconnect()
	closed, code := conn.closedWith()
	assert.True(t, closed)
	assert.Equal(t, CloseNormal, code)
	assert.Equal(t, StateDisconnected, h.statuses.last().State)

	h.clock.Advance(time.Minute)
	assert.Never(t, func() bool { return conn.count(domain.ActionPing) > 0 }, 100*time.Millisecond, tick)
}

func TestDisconnectCancelsPendingReconnect(t *testing.T) {
	h := newHarness(t, "u1")
	conn := h.connect(t)

	conn.serverClose(errors.New("reset"))
	require.Eventually(t, func() bool { return h.statuses.last().State == StateReconnecting }, waitFor, tick)

	h.m.Disconnect()
	assert.Equal(t, StateDisconnected, h.statuses.last().State)

	h.clock.Advance(time.Minute)
	assert.Never(t, func() bool { return h.dialer.dials() > 1 }, 100*time.Millisecond, tick)
}

func TestMissingIdentity(t *testing.T) {
	h := newHarness(t, "")

	h.m.Connect()
	assert.Equal(t, 0, h.dialer.dials())
	assert.Equal(t, "Error: Missing user id", h.statuses.last().String())

	h.advance(t, 1, 2*time.Second)
	require.Eventually(t, func() bool { return h.statuses.count(StateMissingIdentity) == 2 }, waitFor, tick)
	assert.Equal(t, 0, h.dialer.dials())

	h.m.UpdateIdentity("u9")
	require.Eventually(t, h.m.Connected, waitFor, tick)
	assert.Equal(t, "ws://example.test/ws/r1?userId=u9", h.dialer.url(0))
}

func TestUpdateIdentityWhileConnected(t *testing.T) {
	h := newHarness(t, "u1")
	conn := h.connect(t)

	h.m.UpdateIdentity("u2")
	assert.Equal(t, "u2", h.m.Identity())
	assert.Equal(t, 1, h.dialer.dials(), "the live session is kept")

	conn.serverClose(errors.New("reset"))
	require.Eventually(t, func() bool { return h.statuses.last().State == StateReconnecting }, waitFor, tick)
	h.advance(t, 1, time.Second)
	require.Eventually(t, func() bool { return h.dialer.dials() == 2 }, waitFor, tick)
	assert.Equal(t, "ws://example.test/ws/r1?userId=u2", h.dialer.url(1))
}

func TestUpdateIdentityResetsRetries(t *testing.T) {
	h := newHarness(t, "u1")
	h.dialer.setFails(2)

	h.m.Connect()
	require.Eventually(t, func() bool { return h.statuses.count(StateReconnecting) == 1 }, waitFor, tick)
	h.advance(t, 1, time.Second)
	require.Eventually(t, func() bool { return h.statuses.count(StateReconnecting) == 2 }, waitFor, tick)
	assert.Equal(t, 2*time.Second, h.statuses.last().Delay)

	h.m.UpdateIdentity("u2")
	require.Eventually(t, h.m.Connected, waitFor, tick)
	assert.Equal(t, 3, h.dialer.dials())
	assert.Equal(t, "ws://example.test/ws/r1?userId=u2", h.dialer.url(2))

	h.dialer.conn(0).serverClose(errors.New("reset"))
	require.Eventually(t, func() bool { return h.statuses.count(StateReconnecting) == 3 }, waitFor, tick)
	assert.Equal(t, time.Second, h.statuses.last().Delay, "backoff starts over")
}

func TestWriteFailureQueuesAndReconnects(t *testing.T) {
	h := newHarness(t, "u1")
	conn := h.connect(t)
	conn.setFailWrites(true)

	assert.False(t, h.m.SendMessage(domain.ActionSubmit, domain.SubmitPayload{UserID: "u1", Vote: "8"}))
	assert.Equal(t, 1, h.m.Pending())
	assert.False(t, h.m.Connected())
	assert.Equal(t, StateReconnecting, h.statuses.last().State)

	h.advance(t, 1, time.Second)
	require.Eventually(t, func() bool { return h.dialer.dials() == 2 && h.m.Connected() }, waitFor, tick)
	assert.Equal(t, []domain.ActionKind{domain.ActionSubmit}, h.dialer.conn(1).actions())
}

func TestMalformedFrameDropped(t *testing.T) {
	h := newHarness(t, "u1")
	conn := h.connect(t)

	conn.inbox <- []byte("not json")
	conn.inbox <- frame(t, domain.ActionReset, nil)

	assert.Equal(t, domain.ActionReset, h.recv(t).Action)
	assert.True(t, h.m.Connected())
}

func TestCoalescedFrameKeepsOrder(t *testing.T) {
	h := newHarness(t, "u1")
	conn := h.connect(t)

	data := append(frame(t, domain.ActionSubmit, domain.SubmitEvent{UserID: "u2", Vote: "5"}), '\n')
	data = append(data, frame(t, domain.ActionReveal, domain.RevealEvent{Votes: map[string]string{"u2": "5"}})...)
	conn.inbox <- data

	assert.Equal(t, domain.ActionSubmit, h.recv(t).Action)
	assert.Equal(t, domain.ActionReveal, h.recv(t).Action)
}

func TestCloseMakesConnectNoop(t *testing.T) {
	h := newHarness(t, "u1")
	h.connect(t)

	h.m.Close()
	h.m.Connect()

	assert.False(t, h.m.Connected())
	assert.Equal(t, 1, h.dialer.dials())
}

func TestStatusesDeliveredInOrderWithSlowHandler(t *testing.T) {
	dialer := &fakeDialer{}
	statuses := &statusLog{}
	var active atomic.Int32
	var overlapped atomic.Bool

	m := NewManager(DefaultConfig("ws://example.test", "r1", "u1"),
		WithClock(clockwork.NewFakeClock()),
		WithDialer(dialer),
		WithLogger(zerolog.Nop()),
		WithRand(func() float64 { return 0.5 }),
		WithStatusHandler(func(s Status) {
			if active.Add(1) > 1 {
				overlapped.Store(true)
			}
			defer active.Add(-1)
			statuses.add(s)
			if s.State == StateConnected {
				// The session dies while this handler is still busy.
				dialer.lastConn().serverClose(errors.New("connection reset"))
				time.Sleep(100 * time.Millisecond)
			}
		}),
	)
	t.Cleanup(m.Close)

	m.Connect()
	require.Eventually(t, func() bool { return statuses.count(StateReconnecting) == 1 }, waitFor, tick)

	assert.Equal(t, []State{StateConnecting, StateConnected, StateDisconnected, StateReconnecting}, statuses.states())
	assert.Equal(t, m.Status(), statuses.last())
	assert.False(t, overlapped.Load(), "status handler ran concurrently")
}

func TestStatusHandlerMayCallBack(t *testing.T) {
	dialer := &fakeDialer{}
	statuses := &statusLog{}
	var m *Manager
	m = NewManager(DefaultConfig("ws://example.test", "r1", "u1"),
		WithClock(clockwork.NewFakeClock()),
		WithDialer(dialer),
		WithLogger(zerolog.Nop()),
		WithStatusHandler(func(s Status) {
			statuses.add(s)
			if s.State == StateConnected {
				m.Disconnect()
			}
		}),
	)
	t.Cleanup(m.Close)

	m.Connect()
	require.Eventually(t, func() bool { return statuses.last().State == StateDisconnected }, waitFor, tick)
	assert.Equal(t, []State{StateConnecting, StateConnected, StateDisconnected}, statuses.states())
	assert.False(t, m.Connected())
}

func TestUserParam(t *testing.T) {
	for _, param := range []string{"user_id", ""} {
		dialer := &fakeDialer{}
		cfg := DefaultConfig("ws://example.test", "r1", "u1")
		cfg.UserParam = param
		m := NewManager(cfg,
			WithClock(clockwork.NewFakeClock()),
			WithDialer(dialer),
			WithLogger(zerolog.Nop()),
		)
		t.Cleanup(m.Close)

		m.Connect()
		require.Eventually(t, func() bool { return dialer.dials() == 1 }, waitFor, tick)
		want := "ws://example.test/ws/r1?user_id=u1"
		if param == "" {
			want = "ws://example.test/ws/r1?userId=u1"
		}
		assert.Equal(t, want, dialer.url(0))
	}
}
