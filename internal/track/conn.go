package track

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/looplab/fsm"
)

// Connection lifecycle states.
const (
	StateConnecting    = "connecting"
	StateAuthenticated = "authenticated"
	StateSubscribed    = "subscribed"
	StateClosing       = "closing"
	StateClosed        = "closed"
)

// Lifecycle events.
const (
	EventAuthenticate = "event_authenticate"
	EventSubscribe    = "event_subscribe"
	EventClose        = "event_close"
	EventClosed       = "event_closed"
)

// Conn is one live observer connection. The transport handle itself is
// owned by the WebSocket layer; Conn owns the identity, the lifecycle
// state machine, and the outbound frame buffer the fan-out engine
// writes into.
type Conn struct {
	ID        string
	Identity  Identity
	CreatedAt time.Time

	machine *fsm.FSM

	send    chan []byte
	closed  chan struct{}
	once    sync.Once
	onClose func()

	// Last queued sample timestamp per bus. Live fan-out and the
	// subscribe-time snapshot both race to queue updates; this is the
	// per-connection ordering guard between them.
	seenMu sync.Mutex
	seen   map[string]time.Time

	lastActive atomic.Int64 // unix nanos
}

// NewConn creates a connection in the connecting state with a send
// buffer of bufSize frames.
func NewConn(identity Identity, bufSize int) *Conn {
	now := time.Now()
	c := &Conn{
		ID:        uuid.NewString(),
		Identity:  identity,
		CreatedAt: now,
		send:      make(chan []byte, bufSize),
		closed:    make(chan struct{}),
		seen:      make(map[string]time.Time),
	}
	c.lastActive.Store(now.UnixNano())
	c.machine = fsm.NewFSM(
		StateConnecting,
		fsm.Events{
			{Name: EventAuthenticate, Src: []string{StateConnecting}, Dst: StateAuthenticated},
			// A later SUBSCRIBE replaces the prior target, so
			// subscribed->subscribed is a legal transition.
			{Name: EventSubscribe, Src: []string{StateAuthenticated, StateSubscribed}, Dst: StateSubscribed},
			{Name: EventClose, Src: []string{StateConnecting, StateAuthenticated, StateSubscribed}, Dst: StateClosing},
			{Name: EventClosed, Src: []string{StateClosing}, Dst: StateClosed},
		},
		fsm.Callbacks{},
	)
	return c
}

// OnClose registers the teardown hook (registry detach). Must be set
// before the connection is handed to any other goroutine.
func (c *Conn) OnClose(fn func()) { c.onClose = fn }

// State returns the current lifecycle state.
func (c *Conn) State() string { return c.machine.Current() }

// MarkAuthenticated records the connecting->authenticated transition.
func (c *Conn) MarkAuthenticated(ctx context.Context) error {
	return c.machine.Event(ctx, EventAuthenticate)
}

// MarkSubscribed records an accepted SUBSCRIBE.
func (c *Conn) MarkSubscribed(ctx context.Context) error {
	return c.machine.Event(ctx, EventSubscribe)
}

// Touch stamps inbound or outbound activity.
func (c *Conn) Touch() { c.lastActive.Store(time.Now().UnixNano()) }

// LastActive returns the most recent activity timestamp.
func (c *Conn) LastActive() time.Time { return time.Unix(0, c.lastActive.Load()) }

// Outbox is the frame stream consumed by the connection's write pump.
func (c *Conn) Outbox() <-chan []byte { return c.send }

// Done is closed when the connection enters the closed state.
func (c *Conn) Done() <-chan struct{} { return c.closed }

// Deliver queues one frame without blocking. A closed connection
// returns ErrConnClosed; a full buffer returns ErrBackpressure and the
// frame is dropped for this connection only.
func (c *Conn) Deliver(frame []byte) error {
	select {
	case <-c.closed:
		return ErrConnClosed
	default:
	}
	select {
	case c.send <- frame:
		c.Touch()
		return nil
	case <-c.closed:
		return ErrConnClosed
	default:
		return ErrBackpressure
	}
}

// DeliverUpdate queues a location frame only if ts strictly advances
// the bus's last queued timestamp for this connection. A sample that
// does not advance it returns ErrStale and is skipped: the ingestion
// gate orders the live stream globally, but a snapshot pushed on
// re-subscribe races with live fan-out, and this guard keeps the
// connection from ever queueing an older sample behind a newer one.
func (c *Conn) DeliverUpdate(busID string, ts time.Time, frame []byte) error {
	c.seenMu.Lock()
	if last, ok := c.seen[busID]; ok && !ts.After(last) {
		c.seenMu.Unlock()
		return ErrStale
	}
	c.seen[busID] = ts
	c.seenMu.Unlock()
	return c.Deliver(frame)
}

// Close drives closing->closed and runs the teardown hook exactly once,
// no matter how many close triggers race (client close, idle timeout,
// server shutdown).
func (c *Conn) Close() {
	c.once.Do(func() {
		ctx := context.Background()
		// Transitions can fail only if we were never authenticated;
		// the terminal state is what matters, not the path.
		_ = c.machine.Event(ctx, EventClose)
		_ = c.machine.Event(ctx, EventClosed)
		close(c.closed)
		if c.onClose != nil {
			c.onClose()
		}
	})
}
