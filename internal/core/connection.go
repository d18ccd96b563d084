package core

import (
	"context"
	"errors"
	"log/slog"
	"math/rand/v2"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
)

// ConnectionState is the lifecycle state of a Connection.
type ConnectionState string

const (
	StateIdle         ConnectionState = "idle"
	StateConnected    ConnectionState = "connected"
	StateDisconnected ConnectionState = "disconnected"
	StateReconnecting ConnectionState = "reconnecting"
	StateClosed       ConnectionState = "closed"
)

// minServerTimeout is the lower bound of the server-side watch timeout.
// Each request asks for a random value in [min, 2*min) so that a fleet of
// watches does not expire in lockstep.
const minServerTimeout = 5 * time.Minute

const (
	defaultStableAfter  = 30 * time.Second
	defaultRelistWindow = 5 * time.Second
)

var errNoWatcher = errors.New("watch source returned no watcher")

// ConnectionOption configures a Connection.
type ConnectionOption func(*Connection)

// WithObserver sets the observer that receives signals and results.
func WithObserver(o Observer) ConnectionOption {
	return func(c *Connection) { c.observer = o }
}

// WithNamespace restricts a namespaced collection to one namespace. It
// is ignored for cluster scoped collections.
func WithNamespace(namespace string) ConnectionOption {
	return func(c *Connection) { c.namespace = namespace }
}

// WithLabelSelector filters the watched objects.
func WithLabelSelector(selector string) ConnectionOption {
	return func(c *Connection) { c.labelSelector = selector }
}

// WithIdleTimeout forces a reconnect when no notification arrives within
// d. Zero disables the check.
func WithIdleTimeout(d time.Duration) ConnectionOption {
	return func(c *Connection) { c.idleTimeout = d }
}

// WithSendInitialEvents asks the server to stream the current state
// before change notifications (streaming lists).
func WithSendInitialEvents(enabled bool) ConnectionOption {
	return func(c *Connection) { c.sendInitialEvents = enabled }
}

// WithStableAfter sets how long a stream that delivered nothing must stay
// open before the reconnect attempt counter is reset. A stream that
// delivers any notification other than ERROR resets it regardless.
func WithStableAfter(d time.Duration) ConnectionOption {
	return func(c *Connection) { c.stableAfter = d }
}

// WithRelistWindow ends a relist after d without notifications. Zero
// leaves the relist open until a bookmark or a change arrives.
func WithRelistWindow(d time.Duration) ConnectionOption {
	return func(c *Connection) { c.relistWindow = d }
}

// WithLogger configures a structured logger.
func WithLogger(log *slog.Logger) ConnectionOption {
	return func(c *Connection) { c.log = log }
}

// Connection owns exactly one live subscription to one Collection. All
// observer callbacks run on the goroutine that called Start, one at a
// time and in upstream order.
type Connection struct {
	collection Collection
	source     WatchSource
	policy     ReconnectPolicy
	log        *slog.Logger

	namespace         string
	labelSelector     string
	idleTimeout       time.Duration
	sendInitialEvents bool
	stableAfter       time.Duration
	relistWindow      time.Duration

	mu       sync.Mutex
	observer Observer
	state    ConnectionState
	session  string
	running  bool
	closed   bool
	cancel   context.CancelFunc
	done     chan struct{}

	// resourceVersion is owned by the session goroutine.
	resourceVersion string
}

// NewConnection returns an idle Connection for collection.
func NewConnection(collection Collection, source WatchSource, policy ReconnectPolicy, opts ...ConnectionOption) *Connection {
	c := &Connection{
		collection: collection,
		source:     source,
		policy:     policy,
		observer:   nopObserver{},
		state:      StateIdle,

		stableAfter:  defaultStableAfter,
		relistWindow: defaultRelistWindow,
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.log == nil {
		c.log = slog.Default().With("component", "watch-connection")
	}
	c.log = c.log.With("collection", collection.String())
	if c.observer == nil {
		c.observer = nopObserver{}
	}
	return c
}

// Collection returns the identity this connection is bound to.
func (c *Connection) Collection() Collection {
	return c.collection
}

// State returns the current lifecycle state.
func (c *Connection) State() ConnectionState {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// SessionID returns the ID of the current or last session.
func (c *Connection) SessionID() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.session
}

// Observe replaces the observer. It takes effect on the next Start.
func (c *Connection) Observe(o Observer) {
	if o == nil {
		o = nopObserver{}
	}
	c.mu.Lock()
	c.observer = o
	c.mu.Unlock()
}

// Start runs a watch session and blocks until it ends. It returns nil
// after ctx is cancelled or Shutdown is called, and a
// *TerminalError when the reconnection policy gives up. Calling
// Start again after a terminal fault begins a new session.
func (c *Connection) Start(ctx context.Context) error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return ErrConnectionClosed
	}
	if c.running {
		c.mu.Unlock()
		return ErrAlreadyStarted
	}
	ctx, cancel := context.WithCancel(ctx)
	c.running = true
	c.cancel = cancel
	c.done = make(chan struct{})
	c.session = uuid.NewString()
	c.resourceVersion = ""
	observer := c.observer
	session := c.session
	done := c.done
	c.mu.Unlock()

	defer func() {
		cancel()
		c.mu.Lock()
		c.running = false
		if c.closed {
			c.state = StateClosed
		}
		c.mu.Unlock()
		close(done)
	}()

	return c.run(ctx, observer, session)
}

// Shutdown stops the stream, suppresses any pending reconnect and makes
// later Start calls fail with ErrConnectionClosed. A running session
// emits one final disconnect signal without an error. It does not wait
// for the session to end; use Stop for that.
func (c *Connection) Shutdown() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return
	}
	c.closed = true
	if c.running {
		c.cancel()
		return
	}
	c.state = StateClosed
}

// Stop shuts the connection down and waits for the session goroutine to
// return or ctx to expire.
func (c *Connection) Stop(ctx context.Context) error {
	c.Shutdown()

	c.mu.Lock()
	done := c.done
	c.mu.Unlock()
	if done == nil {
		return nil
	}

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (c *Connection) run(ctx context.Context, observer Observer, session string) error {
	attempt := 0
	for {
		connected, healthy, err := c.stream(ctx, observer, session)
		if ctx.Err() != nil {
			c.setState(StateDisconnected)
			observer.OnDisconnect(c.collection, session, nil)
			return nil
		}

		if connected {
			if healthy {
				attempt = 0
			}
			c.setState(StateDisconnected)
			observer.OnDisconnect(c.collection, session, err)
			if errors.Is(err, ErrStreamExpired) {
				continue
			}
		}
		attempt++

		decision := c.policy.OnDisconnect(err, attempt)
		if !decision.Retry {
			c.setState(StateDisconnected)
			fault := &TerminalError{Collection: c.collection, Attempts: attempt, Last: err}
			observer.OnError(c.collection, session, fault)
			if !connected {
				observer.OnDisconnect(c.collection, session, fault)
			}
			return fault
		}

		c.setState(StateReconnecting)
		observer.OnReconnect(c.collection, session, attempt, decision.Delay)
		if !sleepCtx(ctx, decision.Delay) {
			c.setState(StateDisconnected)
			observer.OnDisconnect(c.collection, session, nil)
			return nil
		}
	}
}

// streamState is what one stream learns while it is pumped.
type streamState struct {
	opened        time.Time
	notified      bool // a notification other than ERROR arrived
	failed        bool // an ERROR notification arrived
	relisting     bool
	initialEvents bool
}

// stream opens one watch and pumps it until it ends. connected reports
// whether the watch was established, healthy whether it lasted long
// enough to reset the attempt counter.
func (c *Connection) stream(ctx context.Context, observer Observer, session string) (connected, healthy bool, err error) {
	opts := c.watchOptions()
	if opts.ResourceVersion != "" {
		c.log.Debug("resuming watch", "resourceVersion", opts.ResourceVersion, "session", session)
	}

	w, err := c.source.Watch(ctx, c.collection, opts)
	if err == nil && w == nil {
		err = &TransportError{Op: "watch " + c.collection.String(), Cause: errNoWatcher}
	}
	if err != nil {
		if ctx.Err() != nil {
			return false, false, ctx.Err()
		}
		observer.OnError(c.collection, session, err)
		return false, false, err
	}
	defer w.Stop()

	c.setState(StateConnected)
	observer.OnConnect(c.collection, session)

	st := &streamState{opened: time.Now(), initialEvents: opts.SendInitialEvents}
	if opts.ResourceVersion == "" {
		st.relisting = true
		observer.OnRelistStart(c.collection, session)
	}

	err = c.pump(ctx, w, observer, session, st)
	healthy = st.notified || time.Since(st.opened) >= c.stableAfter
	if errors.Is(err, ErrStreamClosed) && healthy && !st.failed {
		err = ErrStreamExpired
	}
	return true, healthy, err
}

func (c *Connection) pump(ctx context.Context, w Watcher, observer Observer, session string, st *streamState) error {
	var idle *time.Timer
	var idleC <-chan time.Time
	if c.idleTimeout > 0 {
		idle = time.NewTimer(c.idleTimeout)
		defer idle.Stop()
		idleC = idle.C
	}

	var relist *time.Timer
	var relistC <-chan time.Time
	if st.relisting && c.relistWindow > 0 {
		relist = time.NewTimer(c.relistWindow)
		defer relist.Stop()
		relistC = relist.C
	}

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()

		case <-idleC:
			return ErrIdleTimeout

		case <-relistC:
			relistC = nil
			c.endRelist(observer, session, st)

		case raw, ok := <-w.ResultChan():
			if !ok {
				if ctx.Err() != nil {
					return ctx.Err()
				}
				return ErrStreamClosed
			}
			if ctx.Err() != nil {
				return ctx.Err()
			}
			if idle != nil {
				idle.Reset(c.idleTimeout)
			}
			c.handle(observer, session, st, raw)
			switch {
			case !st.relisting:
				relistC = nil
			case relist != nil:
				relist.Reset(c.relistWindow)
			}
		}
	}
}

func (c *Connection) handle(observer Observer, session string, st *streamState, raw RawEvent) {
	if raw.Type == string(EventError) {
		st.failed = true
	} else {
		st.notified = true
	}

	if raw.Type == bookmarkType {
		if rv := resourceVersionOf(raw.Object); rv != "" {
			c.resourceVersion = rv
		}
	}

	r := Classify(raw)
	if r.Outcome == OutcomeValid {
		env := r.Envelope
		switch {
		case env.Kind == EventError && env.Status.Code == http.StatusGone:
			// The resume point expired; the next watch starts from the
			// current state and replays it as ADDED notifications.
			c.resourceVersion = ""
		case env.Resource != nil && env.Resource.ResourceVersion != "":
			c.resourceVersion = env.Resource.ResourceVersion
		}
	}

	if st.relisting && endsRelist(st, raw, r) {
		c.endRelist(observer, session, st)
	}
	observer.OnResult(c.collection, session, r)
}

// endsRelist reports whether raw closes the replay of the current state.
// With streaming lists only the annotated bookmark does; otherwise any
// bookmark or the first change does.
func endsRelist(st *streamState, raw RawEvent, r Result) bool {
	if raw.Type == bookmarkType {
		return !st.initialEvents || initialEventsEnd(raw.Object)
	}
	if r.Outcome != OutcomeValid {
		return false
	}
	return r.Envelope.Kind == EventModified || r.Envelope.Kind == EventDeleted
}

func (c *Connection) endRelist(observer Observer, session string, st *streamState) {
	st.relisting = false
	observer.OnRelistEnd(c.collection, session)
}

func (c *Connection) watchOptions() WatchOptions {
	opts := WatchOptions{
		LabelSelector:     c.labelSelector,
		ResourceVersion:   c.resourceVersion,
		TimeoutSeconds:    int64(minServerTimeout.Seconds() * (1 + rand.Float64())),
		SendInitialEvents: c.sendInitialEvents && c.resourceVersion == "",
	}
	if c.collection.Namespaced {
		opts.Namespace = c.namespace
	}
	return opts
}

func (c *Connection) setState(s ConnectionState) {
	c.mu.Lock()
	c.state = s
	c.mu.Unlock()
}
