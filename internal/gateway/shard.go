// Package gateway implements a single shard of the event gateway: the
// WebSocket handshake, heartbeat keep-alive, event polling, and the
// resume/reconnect protocol, wrapped in a supervisor loop that restarts the
// connection on recoverable failures and surfaces fatal ones.
package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"runtime"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"

	"github.com/concordlib/concord/internal/backoff"
	"github.com/concordlib/concord/internal/ratelimit"
	"github.com/concordlib/concord/internal/version"
)

// ErrNotConnected is returned when sending while no socket is up.
var ErrNotConnected = errors.New("not connected")

const (
	// restartWindow: a connection that died quicker than this is treated as
	// flapping and the next attempt backs off exponentially.
	restartWindow = 30 * time.Second

	// shortRetryDelay paces retries that keep or re-establish a session
	// (must-reconnect, invalid session) where a long backoff would only
	// delay recovery.
	shortRetryDelay = 2 * time.Second

	// The gateway allows 120 commands per minute per shard. A few slots stay
	// reserved so heartbeats are never starved by user commands.
	commandsPerMinute  = 120
	heartbeatReserve   = 5
	identifyPacePeriod = 5 * time.Second

	writeTimeout = 10 * time.Second
)

// EventHandler receives every dispatched event. Handlers run on their own
// goroutine per event; they must not assume any ordering guarantees beyond
// what they build themselves.
type EventHandler func(shard *Shard, event string, data json.RawMessage)

// Config configures a shard.
type Config struct {
	Token string
	URL   string // gateway URL without query parameters

	Version  int  // protocol version (default 10)
	Compress bool // request zlib-stream transport compression

	ShardID    int
	ShardCount int

	Intents         Intents
	LargeThreshold  int
	InitialPresence *Presence

	HandshakeTimeout time.Duration

	// Reconnect pacing.
	BackoffBase float64
	BackoffMax  time.Duration

	Handler EventHandler
	Logger  *slog.Logger
}

func (c *Config) applyDefaults() {
	if c.Version == 0 {
		c.Version = 10
	}
	if c.ShardCount == 0 {
		c.ShardCount = 1
	}
	if c.LargeThreshold == 0 {
		c.LargeThreshold = 250
	}
	if c.HandshakeTimeout == 0 {
		c.HandshakeTimeout = 10 * time.Second
	}
	if c.BackoffBase == 0 {
		c.BackoffBase = 1.85
	}
	if c.BackoffMax == 0 {
		c.BackoffMax = 10 * time.Minute
	}
	if c.Logger == nil {
		c.Logger = slog.Default()
	}
}

// Shard is one gateway connection. All mutable state is owned by the shard;
// nothing is shared across shards except the REST bucket manager, which
// lives elsewhere entirely.
type Shard struct {
	cfg     Config
	logger  *slog.Logger
	connURL string

	limiter    *ratelimit.Window // outbound command budget
	identifyRL *rate.Limiter     // at most one IDENTIFY per pace period
	backoff    *backoff.Exponential

	state   atomic.Int32
	seq     atomic.Int64 // 0 = no sequence yet
	started atomic.Bool

	closeReq  chan struct{}
	closeOnce sync.Once
	readyCh   chan struct{}
	readyOnce sync.Once
	done      chan struct{}
	runErr    error // valid once done is closed

	writeMu sync.Mutex // serializes socket writes

	mu                sync.Mutex
	conn              *websocket.Conn
	sessionID         string
	userID            string
	heartbeatInterval time.Duration
	lastMessageAt     time.Time
	lastHeartbeatAt   time.Time
	latency           time.Duration
	connectedAt       time.Time
	sessionStartedAt  time.Time
	lastRunStartedAt  time.Time
	presence          Presence
	hasPresence       bool
	reconnects        int
}

// NewShard builds a shard from the config. The connection is not opened
// until Start.
func NewShard(cfg Config) (*Shard, error) {
	cfg.applyDefaults()
	if cfg.Token == "" {
		return nil, errors.New("gateway: token is required")
	}
	if cfg.URL == "" {
		return nil, errors.New("gateway: url is required")
	}

	u, err := url.Parse(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("gateway: parse url: %w", err)
	}
	q := u.Query()
	q.Set("v", strconv.Itoa(cfg.Version))
	q.Set("encoding", "json")
	if cfg.Compress {
		q.Set("compress", "zlib-stream")
	}
	u.RawQuery = q.Encode()

	logger := cfg.Logger.With("shard_id", cfg.ShardID)
	s := &Shard{
		cfg:     cfg,
		logger:  logger,
		connURL: u.String(),
		limiter: ratelimit.NewWindow(
			"shard-"+strconv.Itoa(cfg.ShardID),
			time.Minute,
			commandsPerMinute-heartbeatReserve,
			logger,
		),
		identifyRL: rate.NewLimiter(rate.Every(identifyPacePeriod), 1),
		backoff:    backoff.New(cfg.BackoffBase, cfg.BackoffMax, 2),
		closeReq:   make(chan struct{}),
		readyCh:    make(chan struct{}),
		done:       make(chan struct{}),
	}
	if cfg.InitialPresence != nil {
		s.presence = *cfg.InitialPresence
		s.hasPresence = true
	}
	s.state.Store(int32(StateNotRunning))
	return s, nil
}

// ID returns the shard id.
func (s *Shard) ID() int { return s.cfg.ShardID }

// State returns the current lifecycle state.
func (s *Shard) State() State { return State(s.state.Load()) }

// Seq returns the last observed dispatch sequence number, 0 if none yet.
func (s *Shard) Seq() int64 { return s.seq.Load() }

// SessionID returns the current session id, "" if none.
func (s *Shard) SessionID() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.sessionID
}

// Latency returns the most recent heartbeat round-trip time.
func (s *Shard) Latency() time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.latency
}

// Stats is a point-in-time snapshot of a shard's connection health.
type Stats struct {
	State            State
	Seq              int64
	SessionID        string
	UserID           string
	Latency          time.Duration
	ConnectedAt      time.Time
	SessionStartedAt time.Time
	Reconnects       int
}

// Stats snapshots the shard's current connection health.
func (s *Shard) Stats() Stats {
	s.mu.Lock()
	defer s.mu.Unlock()
	return Stats{
		State:            s.State(),
		Seq:              s.seq.Load(),
		SessionID:        s.sessionID,
		UserID:           s.userID,
		Latency:          s.latency,
		ConnectedAt:      s.connectedAt,
		SessionStartedAt: s.sessionStartedAt,
		Reconnects:       s.reconnects,
	}
}

// Start launches the keep-alive loop and blocks until the shard first
// becomes ready, the shard stops, or a fatal error occurs. A startup error
// is returned without waiting for the loop to be joined.
func (s *Shard) Start(ctx context.Context) error {
	if s.started.CompareAndSwap(false, true) {
		go func() {
			s.runErr = s.run(ctx)
			s.state.Store(int32(StateStopped))
			s.limiter.Close()
			close(s.done)
		}()
	}

	select {
	case <-s.readyCh:
		return nil
	case <-s.done:
		if s.runErr != nil {
			return s.runErr
		}
		return ErrShardClosed
	}
}

// Join blocks until the keep-alive loop has fully stopped and returns its
// terminal error, if any.
func (s *Shard) Join() error {
	<-s.done
	return s.runErr
}

// Close requests shutdown and waits for the keep-alive loop to finish. Safe
// to call multiple times and from any goroutine.
func (s *Shard) Close() {
	s.closeOnce.Do(func() {
		if s.State() != StateStopped {
			s.state.Store(int32(StateStopping))
		}
		s.logger.Info("received request to shut down shard")
		close(s.closeReq)
	})
	if s.started.Load() {
		<-s.done
	} else {
		s.state.Store(int32(StateStopped))
	}
}

// UpdatePresence changes the shard's advertised presence.
func (s *Shard) UpdatePresence(ctx context.Context, p Presence) error {
	if err := s.send(ctx, outPayload{Op: opPresenceUpdate, D: p.wire()}); err != nil {
		return err
	}
	s.mu.Lock()
	s.presence = p
	s.hasPresence = true
	s.mu.Unlock()
	return nil
}

// UpdateVoiceState moves the shard's voice connection for a guild. A ""
// channel id disconnects.
func (s *Shard) UpdateVoiceState(ctx context.Context, guildID, channelID string, selfMute, selfDeaf bool) error {
	d := voiceStateUpdateData{GuildID: guildID, SelfMute: selfMute, SelfDeaf: selfDeaf}
	if channelID != "" {
		d.ChannelID = &channelID
	}
	return s.send(ctx, outPayload{Op: opVoiceStateUpdate, D: d})
}

// RequestGuildMembers asks the gateway to stream member chunks for a guild.
func (s *Shard) RequestGuildMembers(ctx context.Context, guildID, query string, limit int) error {
	d := requestGuildMembersData{GuildID: guildID, Query: query, Limit: limit}
	return s.send(ctx, outPayload{Op: opRequestGuildMembers, D: d})
}

// run is the keep-alive supervisor: it repeats connection attempts,
// classifying each outcome into retry (possibly backed off), retry-soon, or
// fatal.
func (s *Shard) run(ctx context.Context) error {
	overrideDelay := time.Duration(-1)

	for {
		select {
		case <-s.closeReq:
			return nil
		case <-ctx.Done():
			return nil
		default:
		}

		delay := overrideDelay
		if delay < 0 {
			delay = s.reconnectDelay()
		}
		overrideDelay = -1
		if delay > 0 {
			s.logger.Debug("backing off before reconnect", "delay", delay)
			select {
			case <-time.After(delay):
			case <-s.closeReq:
				return nil
			case <-ctx.Done():
				return nil
			}
		}

		s.mu.Lock()
		s.lastRunStartedAt = time.Now()
		s.mu.Unlock()

		err := s.runOnce(ctx)

		var (
			invalid  *invalidSessionError
			closeErr *CloseError
			tErr     *transportError
		)
		switch {
		case err == nil:
			return nil

		case errors.Is(err, errZombie):
			s.logger.Warn("zombie connection, will reconnect")

		case errors.Is(err, errReconnect):
			s.logger.Warn("instructed to reconnect, resuming session", "session_id", s.SessionID())
			s.backoff.Reset()
			overrideDelay = shortRetryDelay

		case errors.As(err, &invalid):
			if invalid.resumable {
				s.logger.Warn("invalid session, will attempt to resume", "session_id", s.SessionID())
			} else {
				s.logger.Warn("invalid session, will identify from scratch")
				s.clearSession()
			}
			overrideDelay = shortRetryDelay

		case errors.As(err, &closeErr):
			if closeErr.Fatal() {
				s.logger.Error("server closed connection with fatal code",
					"code", closeErr.Code, "reason", closeErr.Reason)
				s.clearSession()
				return closeErr
			}
			if closeErr.CanResume() {
				s.logger.Warn("server closed connection, will attempt to resume",
					"code", closeErr.Code, "reason", closeErr.Reason)
			} else {
				s.logger.Warn("server closed connection, will identify from scratch",
					"code", closeErr.Code, "reason", closeErr.Reason)
				s.clearSession()
			}

		case errors.As(err, &tErr):
			s.logger.Error("transport failure, will reconnect", "error", tErr.err)

		default:
			// Unknown failures are never silently absorbed.
			s.logger.Error("unrecoverable shard error", "error", err)
			s.clearSession()
			return err
		}

		s.mu.Lock()
		s.reconnects++
		s.mu.Unlock()
	}
}

// reconnectDelay applies the restart-window policy: attempts that follow a
// long-lived connection proceed immediately and reset the backoff; rapid
// restarts pay an exponentially growing delay.
func (s *Shard) reconnectDelay() time.Duration {
	s.mu.Lock()
	last := s.lastRunStartedAt
	s.mu.Unlock()

	if last.IsZero() || time.Since(last) >= restartWindow {
		s.backoff.Reset()
		return 0
	}
	return s.backoff.Next()
}

// runOnce performs a single connection attempt: dial, HELLO, identify or
// resume, then heartbeat and poll loops until something ends the connection.
// The returned error encodes the outcome for the supervisor; nil means a
// clean, client-requested stop.
func (s *Shard) runOnce(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	s.state.Store(int32(StateConnecting))
	s.logger.Debug("connecting to gateway", "url", s.connURL)

	dialer := websocket.Dialer{HandshakeTimeout: s.cfg.HandshakeTimeout}
	conn, _, err := dialer.DialContext(ctx, s.connURL, nil)
	if err != nil {
		s.state.Store(int32(StateNotRunning))
		if s.closeRequested() {
			return nil
		}
		return &transportError{fmt.Errorf("dial gateway: %w", err)}
	}

	now := time.Now()
	s.mu.Lock()
	s.conn = conn
	s.connectedAt = now
	s.lastMessageAt = now
	s.mu.Unlock()

	defer func() {
		s.mu.Lock()
		s.conn = nil
		s.connectedAt = time.Time{}
		s.mu.Unlock()
		conn.Close()
	}()

	// Unblock the reader when shutdown is requested or a sibling task dies.
	watchDone := make(chan struct{})
	defer close(watchDone)
	go func() {
		select {
		case <-s.closeReq:
			s.writeClose(conn, CloseNormal, "client shut down")
			conn.Close()
		case <-ctx.Done():
			conn.Close()
		case <-watchDone:
		}
	}()

	z := newInflater()

	pl, err := s.readPayload(conn, z)
	if err != nil {
		return s.exitError(err)
	}
	if pl.Op != opHello {
		s.writeClose(conn, CloseProtocolError, "expected HELLO")
		return &ProtocolError{Message: fmt.Sprintf("expected HELLO opcode, got %d", pl.Op)}
	}
	var hello helloData
	if err := json.Unmarshal(pl.D, &hello); err != nil || hello.HeartbeatInterval <= 0 {
		return &ProtocolError{Message: "malformed HELLO payload"}
	}
	interval := time.Duration(hello.HeartbeatInterval) * time.Millisecond
	s.mu.Lock()
	s.heartbeatInterval = interval
	s.mu.Unlock()
	s.logger.Info("received HELLO", "heartbeat_interval", interval)

	if s.SessionID() != "" {
		s.state.Store(int32(StateResuming))
		err = s.sendResume(ctx)
	} else {
		s.state.Store(int32(StateWaitingForReady))
		if err := s.identifyRL.Wait(ctx); err != nil {
			return s.exitError(err)
		}
		err = s.sendIdentify(ctx)
	}
	if err != nil {
		return s.exitError(err)
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return s.heartbeatLoop(gctx, interval) })
	g.Go(func() error { return s.pollLoop(gctx, conn, z) })
	go func() {
		<-gctx.Done()
		conn.Close()
	}()

	err = g.Wait()
	s.mu.Lock()
	s.sessionStartedAt = time.Time{}
	s.mu.Unlock()

	return s.exitError(err)
}

// exitError normalizes a connection attempt's terminal error: a requested
// shutdown always wins and reads as a clean stop.
func (s *Shard) exitError(err error) error {
	if s.closeRequested() || err == nil {
		return nil
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return nil
	}
	return err
}

// heartbeatLoop sends a heartbeat every interval, starting immediately, and
// declares the connection a zombie if no message at all has arrived within
// one interval.
func (s *Shard) heartbeatLoop(ctx context.Context, interval time.Duration) error {
	for {
		s.mu.Lock()
		last := s.lastMessageAt
		lastSent := s.lastHeartbeatAt
		s.mu.Unlock()

		if since := time.Since(last); since > interval {
			s.logger.Error("connection is a zombie",
				"since_last_message", since,
				"since_last_heartbeat", time.Since(lastSent),
			)
			return errZombie
		}

		s.logger.Debug("sending HEARTBEAT", "seq", s.Seq())
		if err := s.send(ctx, outPayload{Op: opHeartbeat, D: s.heartbeatSeq()}); err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return &transportError{fmt.Errorf("send heartbeat: %w", err)}
		}
		s.mu.Lock()
		s.lastHeartbeatAt = time.Now()
		s.mu.Unlock()

		select {
		case <-time.After(interval):
		case <-ctx.Done():
			return nil
		}
	}
}

// pollLoop reads and dispatches frames until the connection ends.
func (s *Shard) pollLoop(ctx context.Context, conn *websocket.Conn, z *inflater) error {
	for {
		pl, err := s.readPayload(conn, z)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return err
		}

		switch pl.Op {
		case opDispatch:
			s.handleDispatch(pl)

		case opHeartbeat:
			// Server-requested heartbeat: answer right away.
			s.logger.Debug("received HEARTBEAT request")
			if err := s.send(ctx, outPayload{Op: opHeartbeat, D: s.heartbeatSeq()}); err != nil && ctx.Err() == nil {
				return &transportError{fmt.Errorf("answer heartbeat: %w", err)}
			}

		case opHeartbeatACK:
			s.mu.Lock()
			s.latency = time.Since(s.lastHeartbeatAt)
			lat := s.latency
			s.mu.Unlock()
			s.logger.Debug("received HEARTBEAT ACK", "latency", lat)

		case opReconnect:
			// Closing with a non-1000 code keeps the session resumable.
			s.writeClose(conn, closeDoNotInvalidateSession, "reconnecting")
			return errReconnect

		case opInvalidSession:
			var resumable bool
			_ = json.Unmarshal(pl.D, &resumable)
			if resumable {
				s.writeClose(conn, closeDoNotInvalidateSession, "invalid session, resuming")
			} else {
				s.writeClose(conn, CloseNormal, "invalid session")
			}
			return &invalidSessionError{resumable: resumable}

		default:
			s.logger.Debug("ignoring unrecognised opcode", "op", int(pl.Op))
		}
	}
}

// handleDispatch updates sequence/session bookkeeping and forwards the raw
// event to the consumer without ever blocking the poll loop.
func (s *Shard) handleDispatch(pl *payload) {
	s.seq.Store(pl.S)

	switch pl.T {
	case "READY":
		var ready readyData
		if err := json.Unmarshal(pl.D, &ready); err == nil {
			s.mu.Lock()
			s.sessionID = ready.SessionID
			s.userID = ready.User.ID
			s.sessionStartedAt = time.Now()
			s.mu.Unlock()
			s.logger.Info("shard is ready",
				"session_id", ready.SessionID,
				"user_id", ready.User.ID,
				"user", ready.User.Username,
			)
		}
		s.state.Store(int32(StateReady))
		s.signalReady()

	case "RESUMED":
		s.logger.Info("shard has resumed", "session_id", s.SessionID(), "seq", s.Seq())
		s.state.Store(int32(StateReady))
		s.signalReady()
	}

	if s.cfg.Handler != nil {
		go s.cfg.Handler(s, pl.T, pl.D)
	}
}

// readPayload reads frames until one complete payload is decoded, inflating
// zlib-stream fragments as needed.
func (s *Shard) readPayload(conn *websocket.Conn, z *inflater) (*payload, error) {
	for {
		msgType, data, err := conn.ReadMessage()
		if err != nil {
			return nil, s.wrapReadError(err)
		}

		s.mu.Lock()
		s.lastMessageAt = time.Now()
		s.mu.Unlock()

		var raw []byte
		switch msgType {
		case websocket.BinaryMessage:
			inflated, complete, err := z.push(data)
			if err != nil {
				return nil, &ProtocolError{Message: "inflate message: " + err.Error()}
			}
			if !complete {
				continue
			}
			raw = inflated
		case websocket.TextMessage:
			raw = data
		default:
			continue
		}

		var pl payload
		if err := json.Unmarshal(raw, &pl); err != nil {
			return nil, &ProtocolError{Message: "decode payload: " + err.Error()}
		}
		return &pl, nil
	}
}

// wrapReadError maps a websocket read failure into the error taxonomy: a
// close frame becomes a CloseError, anything else is a transport failure.
func (s *Shard) wrapReadError(err error) error {
	var ce *websocket.CloseError
	if errors.As(err, &ce) {
		return &CloseError{Code: ce.Code, Reason: ce.Text}
	}
	return &transportError{err}
}

func (s *Shard) sendIdentify(ctx context.Context) error {
	d := identifyData{
		Token:          s.cfg.Token,
		Compress:       false,
		LargeThreshold: s.cfg.LargeThreshold,
		Properties: identifyProperties{
			OS:      runtime.GOOS,
			Browser: "concord/" + version.Version,
			Device:  "concord/" + version.Version,
		},
		Shard:   [2]int{s.cfg.ShardID, s.cfg.ShardCount},
		Intents: s.cfg.Intents,
	}
	s.mu.Lock()
	p, hasPresence := s.presence, s.hasPresence
	s.mu.Unlock()
	if hasPresence {
		d.Presence = p.wire()
	}
	s.logger.Debug("sending IDENTIFY", "shard_count", s.cfg.ShardCount, "intents", uint64(s.cfg.Intents))
	return s.send(ctx, outPayload{Op: opIdentify, D: d})
}

func (s *Shard) sendResume(ctx context.Context) error {
	d := resumeData{
		Token:     s.cfg.Token,
		SessionID: s.SessionID(),
		Seq:       s.Seq(),
	}
	s.logger.Debug("sending RESUME", "session_id", d.SessionID, "seq", d.Seq)
	return s.send(ctx, outPayload{Op: opResume, D: d})
}

// send serializes one outbound frame through the command limiter and the
// write lock.
func (s *Shard) send(ctx context.Context, p outPayload) error {
	if err := s.limiter.Acquire(ctx); err != nil {
		return err
	}

	data, err := json.Marshal(p)
	if err != nil {
		return fmt.Errorf("encode payload: %w", err)
	}

	s.mu.Lock()
	conn := s.conn
	s.mu.Unlock()
	if conn == nil {
		return ErrNotConnected
	}

	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	conn.SetWriteDeadline(time.Now().Add(writeTimeout))
	return conn.WriteMessage(websocket.TextMessage, data)
}

// heartbeatSeq is the heartbeat payload: the current sequence, or null if no
// dispatch has been seen yet.
func (s *Shard) heartbeatSeq() any {
	if seq := s.Seq(); seq != 0 {
		return seq
	}
	return nil
}

func (s *Shard) writeClose(conn *websocket.Conn, code int, reason string) {
	msg := websocket.FormatCloseMessage(code, reason)
	_ = conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(writeTimeout))
}

func (s *Shard) signalReady() {
	s.readyOnce.Do(func() { close(s.readyCh) })
}

func (s *Shard) clearSession() {
	s.seq.Store(0)
	s.mu.Lock()
	s.sessionID = ""
	s.mu.Unlock()
}

func (s *Shard) closeRequested() bool {
	select {
	case <-s.closeReq:
		return true
	default:
		return false
	}
}

// transportError is a socket-level failure: dialing, reading, or writing.
// Always retryable by the supervisor.
type transportError struct {
	err error
}

func (e *transportError) Error() string { return "gateway transport: " + e.err.Error() }
func (e *transportError) Unwrap() error { return e.err }
