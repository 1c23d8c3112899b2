// Driftline - Real-Time Chat Event Distribution
// Copyright 2026 Driftline Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/driftline/driftline

// Package client implements the connecting side of the event stream: a
// reconnecting connection manager and the views that reconcile pushed state.
//
// The manager's contract is silence during brief flaps: transient drops are
// retried behind a debounce window and the user only hears about outages
// that persist. There is no replay after reconnect; callers refetch state
// through the API and the views converge from subsequent events.
package client

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/driftline/driftline/internal/logging"
	"github.com/driftline/driftline/internal/transport"
)

// Reconnect delays double from one second to a thirty second ceiling. The
// schedule is deterministic so behavior under outage is predictable.
const (
	initialBackoff  = time.Second
	maxBackoff      = 30 * time.Second
	defaultDebounce = 5 * time.Second
)

// ErrNotConnected is returned by Send while no connection is open.
var ErrNotConnected = errors.New("client: not connected")

// State is the connection manager's lifecycle state.
type State string

const (
	// StateDisconnected is the parked state: no connection and no pending
	// attempt. The manager sits here before Run starts and whenever
	// identity is lost, until SetIdentity releases it.
	StateDisconnected State = "disconnected"
	StateConnecting   State = "connecting"
	StateOpen         State = "open"
	// StateErroring is the transient between losing a live connection and
	// scheduling the next attempt.
	StateErroring State = "erroring"
	StateBackoff  State = "backoff"
	StateClosed   State = "closed"
)

// Notifier receives user-facing connection health changes. Degraded fires at
// most once per outage, only after the debounce window; Restored fires only
// if Degraded fired.
type Notifier interface {
	ConnectionDegraded(err error)
	ConnectionRestored()
}

// NopNotifier discards notifications.
type NopNotifier struct{}

func (NopNotifier) ConnectionDegraded(error) {}
func (NopNotifier) ConnectionRestored()      {}

// Manager maintains one logical connection to the event stream, redialing
// with exponential backoff and feeding received frames to the dispatcher.
//
// Dialing is coupled to identity: the manager assumes credentials are
// present at construction, parks in StateDisconnected when the server
// rejects them or ClearIdentity is called, and resumes only on SetIdentity.
// Losing identity is not an outage, so it never triggers a degraded
// notification.
type Manager struct {
	transport  transport.Transport
	dispatcher *Dispatcher
	notifier   Notifier
	debounce   time.Duration
	newBackOff func() backoff.BackOff

	mu       sync.Mutex
	state    State
	conn     transport.Conn
	outage   *time.Timer
	degraded bool
	closed   bool
	identity bool

	// identityGate is closed while identity is present and replaced with a
	// fresh open channel when it is lost; Run blocks on it between dials.
	identityGate chan struct{}

	closeCh chan struct{}
}

// ManagerOption configures a Manager.
type ManagerOption func(*Manager)

// WithNotifier installs the connection health notifier.
func WithNotifier(n Notifier) ManagerOption {
	return func(m *Manager) {
		if n != nil {
			m.notifier = n
		}
	}
}

// WithDebounce overrides the outage notification window.
func WithDebounce(d time.Duration) ManagerOption {
	return func(m *Manager) {
		if d > 0 {
			m.debounce = d
		}
	}
}

// WithBackOff overrides the reconnect schedule factory.
func WithBackOff(factory func() backoff.BackOff) ManagerOption {
	return func(m *Manager) {
		if factory != nil {
			m.newBackOff = factory
		}
	}
}

// NewManager creates a manager dialing through t and dispatching into d.
// Identity starts present; the transport is expected to carry credentials.
func NewManager(t transport.Transport, d *Dispatcher, opts ...ManagerOption) *Manager {
	gate := make(chan struct{})
	close(gate)
	m := &Manager{
		transport:    t,
		dispatcher:   d,
		notifier:     NopNotifier{},
		debounce:     defaultDebounce,
		newBackOff:   newBackOff,
		state:        StateDisconnected,
		identity:     true,
		identityGate: gate,
		closeCh:      make(chan struct{}),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// newBackOff builds the reconnect schedule: 1s, 2s, 4s, 8s, 16s, then 30s
// forever. No jitter and no give-up deadline.
func newBackOff() backoff.BackOff {
	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = initialBackoff
	bo.MaxInterval = maxBackoff
	bo.Multiplier = 2
	bo.RandomizationFactor = 0
	bo.MaxElapsedTime = 0
	bo.Reset()
	return bo
}

// State returns the current lifecycle state.
func (m *Manager) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// Send writes a frame on the open connection.
func (m *Manager) Send(ctx context.Context, frame []byte) error {
	m.mu.Lock()
	conn := m.conn
	m.mu.Unlock()
	if conn == nil {
		return ErrNotConnected
	}
	return conn.Send(ctx, frame)
}

// SetIdentity marks credentials as present again. A manager parked by
// ClearIdentity or by a rejected handshake resumes dialing.
func (m *Manager) SetIdentity() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.identity || m.closed {
		return
	}
	m.identity = true
	close(m.identityGate)
}

// ClearIdentity marks credentials as gone. An open connection is torn down
// immediately and no dial happens until SetIdentity. A pending outage
// notification is canceled rather than fired.
func (m *Manager) ClearIdentity() {
	m.mu.Lock()
	if !m.identity || m.closed {
		m.mu.Unlock()
		return
	}
	m.identity = false
	m.identityGate = make(chan struct{})
	m.state = StateDisconnected
	m.stopOutageTimerLocked()
	conn := m.conn
	m.conn = nil
	m.mu.Unlock()

	if conn != nil {
		_ = conn.Close()
	}
}

func (m *Manager) hasIdentity() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.identity
}

// Close permanently stops the manager. No reconnect follows; Run returns.
func (m *Manager) Close() error {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return nil
	}
	m.closed = true
	m.state = StateClosed
	conn := m.conn
	m.conn = nil
	m.stopOutageTimerLocked()
	m.mu.Unlock()

	close(m.closeCh)
	if conn != nil {
		return conn.Close()
	}
	return nil
}

// Run connects and keeps reconnecting until ctx is canceled or Close is
// called. Each successful connection resets the backoff schedule.
func (m *Manager) Run(ctx context.Context) error {
	bo := m.newBackOff()

	for attempt := 1; ; attempt++ {
		m.awaitIdentity(ctx)
		if stop, err := m.done(ctx); stop {
			return err
		}

		m.setState(StateConnecting)
		conn, err := m.transport.Open(ctx)
		if err != nil {
			if errors.Is(err, transport.ErrUnauthorized) {
				// The server rejected our credentials. Retrying cannot
				// help until new ones arrive through SetIdentity.
				logging.Warn().Err(err).Msg("event stream rejected credentials")
				m.ClearIdentity()
				bo.Reset()
				attempt = 0
				continue
			}
			logging.Warn().Err(err).Int("attempt", attempt).Msg("event stream dial failed")
			m.noteOutage(err)
			if err := m.waitBackoff(ctx, bo.NextBackOff()); err != nil {
				return err
			}
			continue
		}

		bo.Reset()
		attempt = 0
		m.adoptConn(conn)
		m.noteRecovered()
		logging.Info().Msg("event stream connected")

		readErr := m.consume(conn)
		m.dropConn()

		if stop, err := m.done(ctx); stop {
			return err
		}
		if !m.hasIdentity() {
			// Torn down by ClearIdentity; park quietly until identity
			// returns.
			bo.Reset()
			attempt = 0
			continue
		}

		logging.Warn().Err(readErr).Msg("event stream connection lost")
		m.noteOutage(readErr)
		if err := m.waitBackoff(ctx, bo.NextBackOff()); err != nil {
			return err
		}
	}
}

// consume drains the connection until it dies, dispatching every frame.
func (m *Manager) consume(conn transport.Conn) error {
	for raw := range conn.Receive() {
		if err := m.dispatcher.Dispatch(raw); err != nil {
			// One undecodable frame is dropped, the stream continues.
			logging.Warn().Err(err).Msg("dropping undecodable frame")
		}
	}
	return conn.Err()
}

// noteOutage arms the debounce timer on the first failure of an outage.
// A parked manager stays silent.
func (m *Manager) noteOutage(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed || !m.identity || m.degraded || m.outage != nil {
		return
	}
	m.outage = time.AfterFunc(m.debounce, func() {
		m.mu.Lock()
		if m.closed || m.outage == nil {
			m.mu.Unlock()
			return
		}
		m.degraded = true
		m.outage = nil
		m.mu.Unlock()
		m.notifier.ConnectionDegraded(err)
	})
}

// noteRecovered cancels a pending outage notification, or clears a degraded
// one.
func (m *Manager) noteRecovered() {
	m.mu.Lock()
	wasDegraded := m.degraded
	m.degraded = false
	m.stopOutageTimerLocked()
	m.mu.Unlock()

	if wasDegraded {
		m.notifier.ConnectionRestored()
	}
}

func (m *Manager) stopOutageTimerLocked() {
	if m.outage != nil {
		m.outage.Stop()
		m.outage = nil
	}
}

func (m *Manager) adoptConn(conn transport.Conn) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed || !m.identity {
		// Close or ClearIdentity raced the dial; drop the fresh connection.
		go conn.Close()
		return
	}
	m.conn = conn
	m.state = StateOpen
}

func (m *Manager) dropConn() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.conn != nil {
		_ = m.conn.Close()
		m.conn = nil
	}
	if !m.closed && m.identity {
		m.state = StateErroring
	}
}

func (m *Manager) setState(s State) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.closed {
		m.state = s
	}
}

// waitBackoff sleeps the reconnect delay. Close and cancellation both cut
// the sleep short; the following done check decides what Run returns.
func (m *Manager) waitBackoff(ctx context.Context, delay time.Duration) error {
	m.setState(StateBackoff)
	timer := time.NewTimer(delay)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-m.closeCh:
		return nil
	case <-timer.C:
		return nil
	}
}

// awaitIdentity blocks while no identity is present. Close and cancellation
// also release it; the caller's done check decides what Run returns.
func (m *Manager) awaitIdentity(ctx context.Context) {
	m.mu.Lock()
	gate := m.identityGate
	m.mu.Unlock()
	select {
	case <-gate:
	case <-ctx.Done():
	case <-m.closeCh:
	}
}

// done reports whether Run should stop. Close stops with a nil error;
// cancellation stops with the context error.
func (m *Manager) done(ctx context.Context) (bool, error) {
	select {
	case <-m.closeCh:
		return true, nil
	default:
	}
	if err := ctx.Err(); err != nil {
		return true, err
	}
	return false, nil
}
