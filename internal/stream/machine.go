package stream

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/t2o2/betfair-go/internal/orderbook"
	"github.com/t2o2/betfair-go/internal/queue"
	"github.com/t2o2/betfair-go/internal/retry"
	"github.com/t2o2/betfair-go/internal/subscription"
)

// Credentials supplies the app key and session token for authentication.
// It is consulted on every connection attempt.
type Credentials interface {
	Credentials() (appKey, token string, err error)
}

// OrderStore receives order changes on the dispatcher goroutine.
type OrderStore interface {
	ResetMarket(marketID string)
	Apply(u OrderUpdate)
}

// Observer receives connection metrics.
type Observer interface {
	ObserveState(state string)
	ObserveFrame(op string)
	ObserveMalformed()
	ObserveViolation()
	ObserveReconnect()
	ObserveDroppedEvent()
}

type commandKind int

const (
	cmdAuth commandKind = iota + 1
	cmdMarkets
	cmdOrders
	cmdHeartbeat
)

type pendingCommand struct {
	kind    commandKind
	markets []string
}

// Option configures a Machine.
type Option func(*Machine)

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(m *Machine) {
		if logger != nil {
			m.logger = logger
		}
	}
}

// WithDialer replaces the scheme-based Dial.
func WithDialer(d Dialer) Option {
	return func(m *Machine) {
		if d != nil {
			m.dial = d
		}
	}
}

// WithObserver registers a metrics observer.
func WithObserver(o Observer) Option {
	return func(m *Machine) { m.observer = o }
}

// WithOrderStore mirrors order changes into s.
func WithOrderStore(s OrderStore) Option {
	return func(m *Machine) { m.orders = s }
}

// Machine runs the streaming connection lifecycle.
type Machine struct {
	cfg      Config
	creds    Credentials
	engine   *orderbook.Engine
	subs     *subscription.Manager
	policy   *retry.Policy
	logger   *slog.Logger
	dial     Dialer
	observer Observer
	orders   OrderStore
	events   *queue.GrowableBuffer[Event]

	// mu guards state, status and the current connection.
	mu     sync.RWMutex
	state  ConnectionState
	status Status
	tr     Transport
	out    *outbox

	pendingMu sync.Mutex
	pending   map[int64]pendingCommand
	nextID    atomic.Int64

	started  atomic.Bool
	stopping atomic.Bool
	stopOnce sync.Once
	stopCh   chan struct{}
	done     chan struct{}
}

// New creates a Machine. policy supplies the reconnect backoff.
func New(cfg Config, creds Credentials, engine *orderbook.Engine, subs *subscription.Manager, policy *retry.Policy, opts ...Option) *Machine {
	cfg = cfg.withDefaults()

	m := &Machine{
		cfg:     cfg,
		creds:   creds,
		engine:  engine,
		subs:    subs,
		policy:  policy,
		logger:  slog.Default(),
		dial:    Dial,
		events:  queue.NewBounded[Event](cfg.EventBufferSize, cfg.EventQueueLimit),
		pending: make(map[int64]pendingCommand),
		stopCh:  make(chan struct{}),
		done:    make(chan struct{}),
	}
	for _, opt := range opts {
		opt(m)
	}
	m.logger = m.logger.With("component", "stream")
	if m.policy == nil {
		m.policy = retry.New(retry.DefaultConfig(), nil, m.logger)
	}
	return m
}

// Start runs the connection until Stop is called, ctx is cancelled or
// authentication fails MaxAuthAttempts times in a row. Stop and ctx
// cancellation are clean shutdowns and return nil.
func (m *Machine) Start(ctx context.Context) error {
	if !m.started.CompareAndSwap(false, true) {
		return ErrAlreadyStarted
	}
	defer close(m.done)

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	go func() {
		select {
		case <-m.stopCh:
			cancel()
		case <-ctx.Done():
		}
	}()

	attempt := 0
	authFailures := 0
	for {
		if m.stopping.Load() || ctx.Err() != nil {
			m.setState(StateDisconnected)
			return nil
		}

		m.setState(StateConnecting)
		authenticated, err := m.runConnection(ctx, attempt)

		if m.stopping.Load() || ctx.Err() != nil {
			m.setState(StateDisconnected)
			return nil
		}

		if authenticated {
			attempt = 0
			authFailures = 0
		}

		var authErr *AuthError
		if errors.As(err, &authErr) {
			authFailures++
			m.emit(Event{Kind: EventAuthFailed, Err: err})
			m.logger.Error("stream authentication rejected",
				"code", authErr.Code,
				"failures", authFailures,
				"max", m.cfg.MaxAuthAttempts,
			)
			if authFailures >= m.cfg.MaxAuthAttempts {
				m.setState(StateDisconnected)
				return fmt.Errorf("%w: %w", ErrAuthFailed, err)
			}
		}

		m.setState(StateReconnecting)
		delay := m.policy.Backoff(attempt)
		attempt++

		m.mu.Lock()
		m.status.Attempt = attempt
		m.status.Reconnects++
		m.mu.Unlock()
		if m.observer != nil {
			m.observer.ObserveReconnect()
		}

		m.logger.Warn("stream connection lost, reconnecting",
			"error", err,
			"attempt", attempt,
			"delay", delay,
		)

		timer := time.NewTimer(delay)
		select {
		case <-timer.C:
		case <-ctx.Done():
			timer.Stop()
		}
	}
}

// Stop closes the connection and waits for Start to return. The event
// queue is closed afterwards, releasing blocked NextEvent callers.
func (m *Machine) Stop(ctx context.Context) error {
	m.stopOnce.Do(func() {
		m.stopping.Store(true)
		close(m.stopCh)

		m.mu.RLock()
		tr := m.tr
		m.mu.RUnlock()
		if tr != nil {
			tr.Close()
		}
	})

	if !m.started.Load() {
		m.setState(StateDisconnected)
		m.events.Close()
		return nil
	}

	select {
	case <-m.done:
	case <-ctx.Done():
		return ctx.Err()
	}
	m.events.Close()
	return nil
}

// State returns the current connection state.
func (m *Machine) State() ConnectionState {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.state
}

// Status returns connection bookkeeping.
func (m *Machine) Status() Status {
	m.mu.RLock()
	s := m.status
	s.State = m.state
	m.mu.RUnlock()

	s.Subscriptions = m.subs.Len()
	return s
}

// Engine returns the order book engine fed by this machine.
func (m *Machine) Engine() *orderbook.Engine {
	return m.engine
}

// Subscriptions returns the desired-state manager.
func (m *Machine) Subscriptions() *subscription.Manager {
	return m.subs
}

// NextEvent blocks until an event is available. ok is false once the
// machine is stopped and every queued event has been read.
//
// At most Config.EventQueueLimit events wait to be read. Callers that never
// read lose the oldest events first; Status().DroppedEvents counts them.
func (m *Machine) NextEvent() (Event, bool) {
	return m.events.Receive()
}

// NextEventWithin waits up to d for an event.
func (m *Machine) NextEventWithin(d time.Duration) (Event, bool) {
	return m.events.ReceiveWithin(d)
}

// TryNextEvent returns an event if one is queued.
func (m *Machine) TryNextEvent() (Event, bool) {
	return m.events.TryReceive()
}

// Subscribe records sub as desired. While subscribing or streaming the
// market subscription is sent immediately; otherwise it is replayed on
// the next connection.
func (m *Machine) Subscribe(sub subscription.MarketSubscription) error {
	if m.stopping.Load() {
		return ErrStopped
	}
	if _, err := m.subs.Add(sub); err != nil {
		return err
	}
	m.engine.SetDepth(sub.MarketID, sub.Depth)

	if !m.live() {
		return nil
	}
	if _, err := m.sendMarketSubscription(m.subs.DesiredState()); err != nil && !errors.Is(err, ErrNotConnected) {
		return err
	}
	return nil
}

// Unsubscribe removes a market and discards its books. While connected the
// remaining markets are resubscribed.
func (m *Machine) Unsubscribe(marketID string) error {
	if !m.subs.Remove(marketID) {
		return nil
	}
	m.engine.RemoveMarket(marketID)

	if !m.live() {
		return nil
	}
	remaining := m.subs.DesiredState()
	if len(remaining) == 0 {
		// An empty market filter would subscribe to everything; changes
		// for removed markets are dropped by the dispatcher instead.
		return nil
	}
	if _, err := m.sendMarketSubscription(remaining); err != nil && !errors.Is(err, ErrNotConnected) {
		return err
	}
	return nil
}

// SubscribeOrders enables or updates the order stream subscription.
func (m *Machine) SubscribeOrders(sub subscription.OrderSubscription) error {
	if m.stopping.Load() {
		return ErrStopped
	}
	sub.Enabled = true
	m.subs.SetOrders(sub)

	if !m.live() {
		return nil
	}
	if _, err := m.sendOrderSubscription(sub); err != nil && !errors.Is(err, ErrNotConnected) {
		return err
	}
	return nil
}

func (m *Machine) live() bool {
	st := m.State()
	return st == StateSubscribing || st == StateStreaming
}

// session is the per-connection state owned by the dispatcher.
type session struct {
	tr     Transport
	out    *outbox
	logger *slog.Logger

	authID        int64
	authenticated bool
	awaiting      map[int64]struct{}

	heartbeatTimeout time.Duration
	liveness         *time.Timer
	subscribeTimer   *time.Timer
	lastFrameAt      time.Time
	malformedRun     int
}

// runConnection dials, authenticates, subscribes and dispatches until the
// connection fails. authenticated reports whether the exchange accepted
// the session on this connection.
func (m *Machine) runConnection(ctx context.Context, attempt int) (authenticated bool, err error) {
	logger := m.logger.With("conn_attempt", attempt)

	dialCtx, cancel := context.WithTimeout(ctx, m.cfg.ConnectTimeout)
	tr, err := m.dial(dialCtx, m.cfg, logger)
	cancel()
	if err != nil {
		return false, &TransportError{Op: "dial", Err: err}
	}

	s := &session{
		tr:               tr,
		out:              newOutbox(tr, logger),
		logger:           logger,
		awaiting:         make(map[int64]struct{}),
		heartbeatTimeout: m.cfg.HeartbeatInterval * time.Duration(m.cfg.HeartbeatMultiplier),
		liveness:         time.NewTimer(m.cfg.AuthTimeout),
		lastFrameAt:      time.Now(),
	}

	m.mu.Lock()
	if m.stopping.Load() {
		m.mu.Unlock()
		s.out.close()
		tr.Close()
		return false, ErrStopped
	}
	m.tr, m.out = tr, s.out
	m.mu.Unlock()

	defer func() {
		m.mu.Lock()
		m.tr, m.out = nil, nil
		m.mu.Unlock()

		tr.Close()
		s.out.close()
		s.liveness.Stop()
		if s.subscribeTimer != nil {
			s.subscribeTimer.Stop()
		}
		m.pendingMu.Lock()
		clear(m.pending)
		m.pendingMu.Unlock()
	}()

	if err := m.authenticate(s); err != nil {
		return false, err
	}

	keepalive := time.NewTicker(m.cfg.HeartbeatInterval)
	defer keepalive.Stop()

	for {
		var subscribeC <-chan time.Time
		if s.subscribeTimer != nil {
			subscribeC = s.subscribeTimer.C
		}

		select {
		case <-ctx.Done():
			return s.authenticated, ctx.Err()

		case err := <-tr.Errors():
			return s.authenticated, &TransportError{Op: "read", Err: err}

		case err := <-s.out.errors:
			return s.authenticated, &TransportError{Op: "write", Err: err}

		case f := <-tr.Frames():
			s.lastFrameAt = f.ReceivedAt
			m.mu.Lock()
			m.status.LastFrameAt = f.ReceivedAt
			m.mu.Unlock()

			if err := m.handleFrame(s, f); err != nil {
				return s.authenticated, err
			}
			if s.authenticated {
				s.liveness.Reset(s.heartbeatTimeout)
			}

		case <-s.liveness.C:
			if !s.authenticated {
				return false, &TransportError{Op: "authenticate", Err: ErrAuthTimeout}
			}
			return true, &TransportError{Op: "read", Err: ErrHeartbeatTimeout}

		case <-subscribeC:
			s.subscribeTimer = nil
			if m.State() == StateSubscribing {
				logger.Warn("subscription acknowledgements timed out, streaming anyway",
					"outstanding", len(s.awaiting),
				)
				clear(s.awaiting)
				m.setState(StateStreaming)
			}

		case <-keepalive.C:
			if s.authenticated && time.Since(s.lastFrameAt) >= m.cfg.HeartbeatInterval {
				m.sendHeartbeat()
			}
		}
	}
}

func (m *Machine) authenticate(s *session) error {
	appKey, token, err := m.creds.Credentials()
	if err != nil {
		return &AuthError{Code: "NO_SESSION", Message: err.Error()}
	}

	m.setState(StateAuthenticating)

	s.authID = m.nextID.Add(1)
	payload, err := encodeAuthentication(s.authID, appKey, token)
	if err != nil {
		return err
	}
	m.addPending(s.authID, pendingCommand{kind: cmdAuth})
	if !s.out.push(payload) {
		return ErrNotConnected
	}
	return nil
}

// enterSubscribing discards stale books and replays the desired state.
func (m *Machine) enterSubscribing(s *session) error {
	s.authenticated = true
	s.liveness.Reset(s.heartbeatTimeout)

	m.engine.Reset()
	m.setState(StateSubscribing)

	desired := m.subs.DesiredState()
	for _, sub := range desired {
		m.engine.SetDepth(sub.MarketID, sub.Depth)
	}
	if len(desired) > 0 {
		id, err := m.sendMarketSubscription(desired)
		if err != nil {
			return err
		}
		s.awaiting[id] = struct{}{}
	}
	if orders := m.subs.Orders(); orders.Enabled {
		id, err := m.sendOrderSubscription(orders)
		if err != nil {
			return err
		}
		s.awaiting[id] = struct{}{}
	}

	s.logger.Info("stream authenticated, subscriptions replayed",
		"markets", len(desired),
		"awaiting", len(s.awaiting),
	)

	if len(s.awaiting) == 0 {
		m.enterStreaming()
		return nil
	}
	s.subscribeTimer = time.NewTimer(m.cfg.SubscribeTimeout)
	return nil
}

func (m *Machine) enterStreaming() {
	m.mu.Lock()
	m.status.ConnectedAt = time.Now()
	m.status.Attempt = 0
	m.mu.Unlock()
	m.setState(StateStreaming)
}

func (m *Machine) handleFrame(s *session, f Frame) error {
	msg, err := decodeFrame(f.Data)
	if err != nil {
		return m.malformed(s, err)
	}
	if m.observer != nil {
		m.observer.ObserveFrame(msg.Op)
	}

	switch msg.Op {
	case opConnection:
		s.malformedRun = 0
		m.mu.Lock()
		m.status.ConnectionID = msg.ConnectionID
		m.mu.Unlock()
		s.logger.Debug("stream connection established", "connection_id", msg.ConnectionID)
		return nil

	case opStatus:
		s.malformedRun = 0
		return m.handleStatus(s, msg)

	case opMarketChange:
		return m.handleMarketChange(s, msg)

	case opOrderChange:
		s.malformedRun = 0
		m.handleOrderChange(msg, f.ReceivedAt)
		return nil

	case opHeartbeat:
		s.malformedRun = 0
		return nil

	default:
		return m.malformed(s, fmt.Errorf("unexpected op %q", msg.Op))
	}
}

// malformed counts consecutive undecodable frames and escalates once the
// threshold is reached.
func (m *Machine) malformed(s *session, err error) error {
	s.malformedRun++
	m.mu.Lock()
	m.status.MalformedFrames++
	m.mu.Unlock()
	if m.observer != nil {
		m.observer.ObserveMalformed()
	}

	s.logger.Warn("dropping malformed frame", "error", err, "consecutive", s.malformedRun)
	if s.malformedRun >= m.cfg.MalformedThreshold {
		return &ProtocolError{Reason: "malformed frames", Err: ErrTooManyMalformed}
	}
	return nil
}

func (m *Machine) handleStatus(s *session, msg *frameMessage) error {
	cmd, known := m.takePending(msg.ID)

	if msg.StatusCode == statusSuccess {
		if !known {
			return nil
		}
		switch cmd.kind {
		case cmdAuth:
			return m.enterSubscribing(s)
		case cmdMarkets, cmdOrders:
			m.acknowledge(s, msg.ID)
		}
		return nil
	}

	if (known && cmd.kind == cmdAuth) || authErrorCodes[msg.ErrorCode] {
		return &AuthError{Code: msg.ErrorCode, Message: msg.ErrorMessage}
	}

	statusErr := &StatusError{
		ID:               msg.ID,
		Code:             msg.ErrorCode,
		Message:          msg.ErrorMessage,
		ConnectionClosed: msg.ConnectionClosed,
	}
	if msg.ConnectionClosed {
		return statusErr
	}

	if known && (cmd.kind == cmdMarkets || cmd.kind == cmdOrders) {
		s.logger.Warn("subscription rejected",
			"code", msg.ErrorCode,
			"message", msg.ErrorMessage,
			"markets", cmd.markets,
		)
		m.emit(Event{Kind: EventSubscriptionFailed, MarketIDs: cmd.markets, Err: statusErr})
		m.acknowledge(s, msg.ID)
		return nil
	}

	s.logger.Warn("stream status failure", "code", msg.ErrorCode, "message", msg.ErrorMessage, "id", msg.ID)
	return nil
}

// acknowledge resolves a replayed subscription; the last one moves the
// connection to Streaming.
func (m *Machine) acknowledge(s *session, id int64) {
	if _, ok := s.awaiting[id]; !ok {
		return
	}
	delete(s.awaiting, id)
	if len(s.awaiting) == 0 && m.State() == StateSubscribing {
		if s.subscribeTimer != nil {
			s.subscribeTimer.Stop()
			s.subscribeTimer = nil
		}
		m.enterStreaming()
	}
}

func (m *Machine) handleMarketChange(s *session, msg *frameMessage) error {
	if msg.HeartbeatMs > 0 {
		s.heartbeatTimeout = time.Duration(msg.HeartbeatMs) * time.Millisecond * time.Duration(m.cfg.HeartbeatMultiplier)
	}
	if msg.ChangeType == changeHeartbeat {
		s.malformedRun = 0
		return nil
	}

	changes, err := msg.marketChanges()
	if err != nil {
		return m.malformed(s, err)
	}
	s.malformedRun = 0
	if msg.ChangeType == changeSubImage {
		s.logger.Debug("market images received", "markets", len(changes))
	}

	touched := make([]string, 0, len(changes))
	for _, change := range changes {
		sub, ok := m.subs.Get(change.MarketID)
		if !ok {
			s.logger.Debug("dropping change for unsubscribed market", "market_id", change.MarketID)
			continue
		}
		if len(sub.RunnerIDs) > 0 {
			kept := change.Runners[:0]
			for _, rc := range change.Runners {
				if sub.WantsRunner(rc.SelectionID) {
					kept = append(kept, rc)
				}
			}
			change.Runners = kept
		}

		if err := m.engine.ApplyChange(change); err != nil {
			n := countViolations(err)
			m.mu.Lock()
			m.status.Violations += int64(n)
			m.mu.Unlock()
			if m.observer != nil {
				for range n {
					m.observer.ObserveViolation()
				}
			}
		}

		// Unsubscribed while the change was applied.
		if _, ok := m.subs.Get(change.MarketID); !ok {
			m.engine.RemoveMarket(change.MarketID)
			continue
		}
		touched = append(touched, change.MarketID)
	}

	if m.cfg.EmitMarketEvents && len(touched) > 0 {
		m.emit(Event{Kind: EventMarketChanged, MarketIDs: touched})
	}
	return nil
}

func (m *Machine) handleOrderChange(msg *frameMessage, receivedAt time.Time) {
	if msg.ChangeType == changeHeartbeat {
		return
	}

	if m.orders != nil {
		images, closed := msg.orderMarkets()
		for _, id := range images {
			m.orders.ResetMarket(id)
		}
		for _, id := range closed {
			m.orders.ResetMarket(id)
		}
	}

	for _, u := range msg.orderUpdates(receivedAt) {
		if m.orders != nil {
			m.orders.Apply(u)
		}
		m.emit(Event{Kind: EventOrderChanged, Order: &u})
	}
}

func countViolations(err error) int {
	if joined, ok := err.(interface{ Unwrap() []error }); ok {
		return len(joined.Unwrap())
	}
	return 1
}

func (m *Machine) sendMarketSubscription(subs []subscription.MarketSubscription) (int64, error) {
	id := m.nextID.Add(1)
	payload, err := encodeMarketSubscription(id, subs, m.cfg.HeartbeatInterval, m.cfg.ConflateInterval)
	if err != nil {
		return 0, err
	}

	ids := make([]string, len(subs))
	for i, s := range subs {
		ids[i] = s.MarketID
	}
	m.addPending(id, pendingCommand{kind: cmdMarkets, markets: ids})
	return id, m.send(id, payload)
}

func (m *Machine) sendOrderSubscription(sub subscription.OrderSubscription) (int64, error) {
	id := m.nextID.Add(1)
	payload, err := encodeOrderSubscription(id, sub, m.cfg.HeartbeatInterval)
	if err != nil {
		return 0, err
	}
	m.addPending(id, pendingCommand{kind: cmdOrders})
	return id, m.send(id, payload)
}

func (m *Machine) sendHeartbeat() {
	id := m.nextID.Add(1)
	payload, err := encodeHeartbeat(id)
	if err != nil {
		return
	}
	m.addPending(id, pendingCommand{kind: cmdHeartbeat})
	if err := m.send(id, payload); err != nil {
		m.logger.Debug("heartbeat not sent", "error", err)
	}
}

// send queues payload on the current connection's control path.
func (m *Machine) send(id int64, payload []byte) error {
	m.mu.RLock()
	out := m.out
	m.mu.RUnlock()

	if out == nil || !out.push(payload) {
		m.takePending(id)
		return ErrNotConnected
	}
	return nil
}

func (m *Machine) addPending(id int64, cmd pendingCommand) {
	m.pendingMu.Lock()
	m.pending[id] = cmd
	m.pendingMu.Unlock()
}

func (m *Machine) takePending(id int64) (pendingCommand, bool) {
	m.pendingMu.Lock()
	defer m.pendingMu.Unlock()

	cmd, ok := m.pending[id]
	if ok {
		delete(m.pending, id)
	}
	return cmd, ok
}

func (m *Machine) setState(next ConnectionState) {
	m.mu.Lock()
	prev := m.state
	m.state = next
	m.mu.Unlock()

	if prev == next {
		return
	}
	m.logger.Info("stream state changed", "from", prev.String(), "to", next.String())
	if m.observer != nil {
		m.observer.ObserveState(next.String())
	}
	m.emit(Event{Kind: EventStateChanged, State: next, Previous: prev})
}

func (m *Machine) emit(ev Event) {
	if ev.At.IsZero() {
		ev.At = time.Now()
	}
	evicted, _ := m.events.Push(ev)
	if !evicted {
		return
	}
	m.mu.Lock()
	m.status.DroppedEvents++
	m.mu.Unlock()
	if m.observer != nil {
		m.observer.ObserveDroppedEvent()
	}
}
