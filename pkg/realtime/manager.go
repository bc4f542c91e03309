// Package realtime keeps one participant's live session to a room's event
// stream: connect/disconnect, heartbeat, reconnection with backoff and
// outbound queuing while the transport is down.
package realtime

import (
	"context"
	"encoding/json"
	"errors"
	"math/rand/v2"
	"net/url"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/scrum-poker/scrumpoker/pkg/domain"
)

// ErrMissingIdentity is logged when Connect runs before the user id is known.
var ErrMissingIdentity = errors.New("missing user id")

// Config holds the session parameters.
type Config struct {
	URL    string // websocket base, e.g. ws://localhost:8080
	RoomID string
	UserID string
	// UserParam names the query parameter carrying UserID.
	UserParam string

	HeartbeatInterval    time.Duration
	LivenessTimeout      time.Duration
	BaseDelay            time.Duration
	MaxDelay             time.Duration
	MaxAttempts          int
	Jitter               float64
	MissingIdentityRetry time.Duration
}

// DefaultConfig returns the protocol defaults for roomID and userID.
func DefaultConfig(baseURL, roomID, userID string) Config {
	return Config{
		URL:                  baseURL,
		RoomID:               roomID,
		UserID:               userID,
		UserParam:            "userId",
		HeartbeatInterval:    15 * time.Second,
		LivenessTimeout:      30 * time.Second,
		BaseDelay:            time.Second,
		MaxDelay:             30 * time.Second,
		MaxAttempts:          10,
		Jitter:               0.1,
		MissingIdentityRetry: 2 * time.Second,
	}
}

// Option configures a Manager.
type Option func(*Manager)

// WithClock replaces the real clock; tests pass a fake one.
func WithClock(c clockwork.Clock) Option {
	return func(m *Manager) { m.clock = c }
}

// WithDialer replaces the gorilla/websocket dialer.
func WithDialer(d Dialer) Option {
	return func(m *Manager) { m.dialer = d }
}

// WithStatusHandler registers the status callback. Statuses reach it one
// at a time, in the order they occurred; it may call back into the Manager.
func WithStatusHandler(fn func(Status)) Option {
	return func(m *Manager) { m.onStatus = fn }
}

// WithMessageHandler registers the callback for inbound room actions.
func WithMessageHandler(fn func(domain.Message)) Option {
	return func(m *Manager) { m.onMessage = fn }
}

// WithLogger sets the logger.
func WithLogger(l zerolog.Logger) Option {
	return func(m *Manager) { m.log = l }
}

// WithRand replaces the jitter source; fn must return values in [0, 1).
func WithRand(fn func() float64) Option {
	return func(m *Manager) { m.rand = fn }
}

// Manager owns a single logical session to one room for one participant.
// All state below mu is touched only with mu held; callbacks run after it
// is released. Statuses queue in pending and a single goroutine at a time
// (the one holding emitting) delivers them.
type Manager struct {
	cfg       Config
	clock     clockwork.Clock
	dialer    Dialer
	log       zerolog.Logger
	rand      func() float64
	onStatus  func(Status)
	onMessage func(domain.Message)

	mu        sync.Mutex
	userID    string
	gen       uint64 // bumped on every connect and teardown
	conn      Conn
	cancel    context.CancelFunc
	dialing   bool
	connected bool
	closed    bool
	attempts  int
	queue     []domain.Message
	lastSeen  time.Time
	heartbeat clockwork.Timer
	retry     clockwork.Timer
	retrySeq  uint64
	status    Status
	pending   []Status // emitted by unlock
	emitting  bool
}

// NewManager returns an idle Manager. Call Connect to start the session.
func NewManager(cfg Config, opts ...Option) *Manager {
	m := &Manager{
		cfg:       cfg,
		clock:     clockwork.NewRealClock(),
		log:       log.Logger,
		rand:      rand.Float64,
		onStatus:  func(Status) {},
		onMessage: func(domain.Message) {},
		userID:    cfg.UserID,
	}
	for _, opt := range opts {
		opt(m)
	}
	if m.dialer == nil {
		m.dialer = WebsocketDialer{}
	}
	m.log = m.log.With().Str("room_id", cfg.RoomID).Logger()
	return m
}

// Connect starts a session. It is a no-op when already connected; a stale
// or in-flight session is torn down first. Connect also resets the retry
// budget, which is the way out of StateMaxRetries.
func (m *Manager) Connect() {
	m.mu.Lock()
	defer m.unlock()
	if m.connected {
		m.log.Debug().Msg("already connected")
		return
	}
	m.cancelRetryLocked()
	m.attempts = 0
	m.connectLocked()
}

// SendMessage transmits action at once when the transport is open and
// returns true. Otherwise the message is queued (control actions excepted)
// and false is returned.
func (m *Manager) SendMessage(action domain.ActionKind, payload any) bool {
	msg, err := domain.NewMessage(action, payload)
	if err != nil {
		m.log.Error().Err(err).Str("action", string(action)).Msg("dropping unencodable message")
		return false
	}

	m.mu.Lock()
	defer m.unlock()
	if m.connected {
		err := m.writeLocked(msg)
		if err == nil {
			return true
		}
		m.log.Warn().Err(err).Str("action", string(action)).Msg("send failed")
		if !action.IsControl() {
			m.queue = append(m.queue, msg)
		}
		m.dropLocked(0, "write failed")
		return false
	}
	if action.IsControl() {
		return false
	}
	m.log.Debug().Str("action", string(action)).Int("queued", len(m.queue)+1).Msg("not connected, queuing message")
	m.queue = append(m.queue, msg)
	return false
}

// Disconnect cancels heartbeat and reconnect timers and closes the transport
// with a normal closure. No timer callback has any effect once it returns.
func (m *Manager) Disconnect() {
	m.mu.Lock()
	defer m.unlock()
	m.disconnectLocked()
}

// Close disconnects and makes every later Connect a no-op.
func (m *Manager) Close() {
	m.mu.Lock()
	defer m.unlock()
	m.disconnectLocked()
	m.closed = true
}

// UpdateIdentity switches the participant id. A pending reconnect is
// dropped and the retry budget reset; when disconnected a fresh session
// starts at once, otherwise the id is used on the next connect.
func (m *Manager) UpdateIdentity(userID string) {
	m.mu.Lock()
	defer m.unlock()
	if userID == "" {
		m.log.Warn().Msg("ignoring empty user id")
		return
	}
	if userID == m.userID {
		return
	}
	m.log.Info().Str("old_user_id", m.userID).Str("user_id", userID).Msg("identity updated")
	m.userID = userID
	m.cancelRetryLocked()
	m.attempts = 0
	if !m.connected {
		m.connectLocked()
	}
}

// Connected reports whether the transport is open.
func (m *Manager) Connected() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.connected
}

// Pending returns the number of queued outbound messages.
func (m *Manager) Pending() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.queue)
}

// Identity returns the participant id used for the next connect.
func (m *Manager) Identity() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.userID
}

// Status returns the last reported status.
func (m *Manager) Status() Status {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.status
}

// unlock releases mu and delivers pending statuses. When another goroutine
// is already delivering, it picks up what was queued here instead, so the
// handler never sees statuses out of order or concurrently.
func (m *Manager) unlock() {
	if m.emitting {
		m.mu.Unlock()
		return
	}
	m.emitting = true
	for len(m.pending) > 0 {
		batch := m.pending
		m.pending = nil
		m.mu.Unlock()
		for _, s := range batch {
			m.onStatus(s)
		}
		m.mu.Lock()
	}
	m.emitting = false
	m.mu.Unlock()
}

func (m *Manager) setStatusLocked(s Status) {
	m.status = s
	m.pending = append(m.pending, s)
}

func (m *Manager) connectLocked() {
	if m.closed {
		return
	}
	if m.connected {
		return
	}
	if m.dialing || m.conn != nil {
		m.log.Debug().Msg("tearing down stale session")
		m.teardownLocked(CloseNormal, "Normal closure")
	}
	if m.userID == "" {
		m.log.Error().Err(ErrMissingIdentity).Msg("cannot connect")
		m.setStatusLocked(Status{State: StateMissingIdentity})
		if m.retry == nil {
			m.armRetryLocked(m.cfg.MissingIdentityRetry)
		}
		return
	}

	endpoint, err := m.endpoint()
	if err != nil {
		m.log.Error().Err(err).Msg("invalid websocket url")
		m.setStatusLocked(Status{State: StateError})
		return
	}

	m.gen++
	gen := m.gen
	ctx, cancel := context.WithCancel(context.Background())
	m.cancel = cancel
	m.dialing = true
	sessionID := uuid.NewString()
	m.log.Info().Str("session_id", sessionID).Str("user_id", m.userID).Int("attempt", m.attempts).Msg("connecting")
	m.setStatusLocked(Status{State: StateConnecting})

	go m.dial(ctx, gen, endpoint, sessionID)
}

func (m *Manager) endpoint() (string, error) {
	u, err := url.Parse(m.cfg.URL)
	if err != nil {
		return "", err
	}
	u = u.JoinPath("ws", m.cfg.RoomID)
	q := u.Query()
	param := m.cfg.UserParam
	if param == "" {
		param = "userId"
	}
	q.Set(param, m.userID)
	u.RawQuery = q.Encode()
	return u.String(), nil
}

func (m *Manager) dial(ctx context.Context, gen uint64, endpoint, sessionID string) {
	conn, err := m.dialer.Dial(ctx, endpoint)

	m.mu.Lock()
	defer m.unlock()
	if gen != m.gen {
		if conn != nil {
			conn.Close(CloseNormal, "superseded") //nolint:errcheck // stale session
		}
		return
	}
	m.dialing = false
	if err != nil {
		m.log.Warn().Err(err).Str("session_id", sessionID).Msg("connect failed")
		m.cancel()
		m.cancel = nil
		m.setStatusLocked(Status{State: StateError})
		m.scheduleReconnectLocked()
		return
	}

	m.conn = conn
	m.connected = true
	m.attempts = 0
	m.lastSeen = m.clock.Now()
	m.log.Info().Str("session_id", sessionID).Msg("connected")
	m.setStatusLocked(Status{State: StateConnected})
	m.heartbeat = m.clock.AfterFunc(m.cfg.HeartbeatInterval, func() { m.onHeartbeat(gen) })
	m.flushLocked()
	if gen != m.gen {
		return
	}
	go m.readLoop(gen, conn)
}

func (m *Manager) readLoop(gen uint64, conn Conn) {
	for {
		frame, err := conn.ReadMessage()
		if err != nil {
			m.onReadError(gen, err)
			return
		}
		msgs, ok := m.receive(gen, frame)
		if !ok {
			return
		}
		for _, msg := range msgs {
			m.onMessage(msg)
		}
	}
}

// receive records inbound activity and returns the records to forward.
func (m *Manager) receive(gen uint64, frame []byte) ([]domain.Message, bool) {
	m.mu.Lock()
	defer m.unlock()
	if gen != m.gen {
		return nil, false
	}
	m.lastSeen = m.clock.Now()

	msgs, err := domain.DecodeFrame(frame)
	if err != nil {
		m.log.Warn().Err(err).Msg("dropping malformed frame")
	}
	out := msgs[:0]
	for _, msg := range msgs {
		if msg.Action == domain.ActionPong {
			continue
		}
		out = append(out, msg)
	}
	return out, true
}

func (m *Manager) onReadError(gen uint64, err error) {
	m.mu.Lock()
	defer m.unlock()
	if gen != m.gen {
		return
	}
	m.teardownLocked(0, "")
	m.setStatusLocked(Status{State: StateDisconnected})
	if errors.Is(err, ErrNormalClosure) {
		m.log.Info().Msg("connection closed normally, not reconnecting")
		return
	}
	m.log.Warn().Err(err).Msg("connection lost")
	if m.retry != nil {
		return
	}
	m.scheduleReconnectLocked()
}

func (m *Manager) onHeartbeat(gen uint64) {
	m.mu.Lock()
	defer m.unlock()
	if gen != m.gen || !m.connected {
		return
	}
	ping, _ := domain.NewMessage(domain.ActionPing, domain.UserPayload{UserID: m.userID}) //nolint:errcheck // static payload
	if err := m.writeLocked(ping); err != nil {
		m.log.Warn().Err(err).Msg("ping failed")
	}
	if idle := m.clock.Since(m.lastSeen); idle > m.cfg.LivenessTimeout {
		m.log.Warn().Dur("idle", idle).Msg("no traffic within liveness timeout, reconnecting")
		m.dropLocked(CloseNormal, "liveness timeout")
		return
	}
	m.heartbeat = m.clock.AfterFunc(m.cfg.HeartbeatInterval, func() { m.onHeartbeat(gen) })
}

// dropLocked closes a broken session and starts reconnecting.
func (m *Manager) dropLocked(code int, reason string) {
	m.teardownLocked(code, reason)
	m.setStatusLocked(Status{State: StateDisconnected})
	m.scheduleReconnectLocked()
}

func (m *Manager) scheduleReconnectLocked() {
	m.cancelRetryLocked()
	if m.attempts >= m.cfg.MaxAttempts {
		m.log.Error().Int("attempts", m.attempts).Msg("max reconnect attempts reached")
		m.setStatusLocked(Status{State: StateMaxRetries})
		return
	}
	if m.connected {
		return
	}
	m.attempts++
	delay := Backoff(m.attempts, m.cfg.BaseDelay, m.cfg.MaxDelay, m.cfg.Jitter, m.rand)
	m.log.Info().Int("attempt", m.attempts).Int("max_attempts", m.cfg.MaxAttempts).Dur("delay", delay).Msg("scheduling reconnect")
	m.setStatusLocked(Status{State: StateReconnecting, Delay: delay})
	m.armRetryLocked(delay)
}

func (m *Manager) armRetryLocked(delay time.Duration) {
	m.retrySeq++
	seq := m.retrySeq
	m.retry = m.clock.AfterFunc(delay, func() {
		m.mu.Lock()
		defer m.unlock()
		if seq != m.retrySeq {
			return
		}
		m.retry = nil
		if m.connected {
			m.log.Debug().Msg("already connected, skipping reconnect")
			return
		}
		m.connectLocked()
	})
}

func (m *Manager) cancelRetryLocked() {
	m.retrySeq++
	if m.retry != nil {
		m.retry.Stop()
		m.retry = nil
	}
}

func (m *Manager) disconnectLocked() {
	m.cancelRetryLocked()
	active := m.connected || m.dialing || m.conn != nil
	m.teardownLocked(CloseNormal, "Normal closure")
	if active || m.status.State == StateReconnecting || m.status.State == StateMissingIdentity {
		m.setStatusLocked(Status{State: StateDisconnected})
	}
}

// teardownLocked invalidates the current session: its reader, dial and
// heartbeat see a stale generation and do nothing from here on.
func (m *Manager) teardownLocked(code int, reason string) {
	m.gen++
	if m.heartbeat != nil {
		m.heartbeat.Stop()
		m.heartbeat = nil
	}
	if m.cancel != nil {
		m.cancel()
		m.cancel = nil
	}
	if m.conn != nil {
		if err := m.conn.Close(code, reason); err != nil {
			m.log.Debug().Err(err).Msg("close transport")
		}
		m.conn = nil
	}
	m.dialing = false
	m.connected = false
}

// flushLocked sends queued messages in order. On a write failure the unsent
// tail goes back to the front of the queue and the session is dropped.
func (m *Manager) flushLocked() {
	if len(m.queue) == 0 {
		return
	}
	queued := m.queue
	m.queue = nil
	m.log.Info().Int("count", len(queued)).Msg("flushing queued messages")
	for i, msg := range queued {
		if err := m.writeLocked(msg); err != nil {
			m.log.Warn().Err(err).Str("action", string(msg.Action)).Msg("flush failed")
			m.queue = append(queued[i:], m.queue...)
			m.dropLocked(0, "write failed")
			return
		}
	}
}

func (m *Manager) writeLocked(msg domain.Message) error {
	data, err := json.Marshal(msg)
	if err != nil {
		return err
	}
	return m.conn.WriteMessage(data)
}
