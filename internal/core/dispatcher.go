package core

import (
	"errors"
	"log/slog"
	"sync/atomic"
	"time"
)

// Signal names used for metrics and log records.
const (
	SignalConnect    = "connect"
	SignalDisconnect = "disconnect"
	SignalReconnect  = "reconnect"
	SignalError      = "error"
)

// Recorder receives dispatcher counters. The telemetry package provides
// the OpenTelemetry implementation.
type Recorder interface {
	RecordSignal(c Collection, signal string)
	RecordEvent(c Collection, kind string, outcome Outcome)
}

// StatusReporter is told whether a collection currently has a live
// watch. It drives the health endpoint.
type StatusReporter func(c Collection, serving bool)

// Resyncer reconciles a store with a relist. Entries not written between
// BeginResync and EndResync are removed; EndResync returns how many.
type Resyncer interface {
	BeginResync()
	EndResync() int
}

// Stats is a point-in-time copy of a Dispatcher's counters.
type Stats struct {
	Connects     uint64
	Disconnects  uint64
	Reconnects   uint64
	Errors       uint64
	Delivered    uint64
	StatusErrors uint64
	Dropped      uint64
	Malformed    uint64
}

// DispatcherOption configures a Dispatcher.
type DispatcherOption func(*Dispatcher)

// WithDispatchLogger configures a structured logger.
func WithDispatchLogger(log *slog.Logger) DispatcherOption {
	return func(d *Dispatcher) { d.log = log }
}

// WithRecorder forwards counters to r.
func WithRecorder(r Recorder) DispatcherOption {
	return func(d *Dispatcher) { d.recorder = r }
}

// WithStatusReporter reports serving status on connect and disconnect.
func WithStatusReporter(fn StatusReporter) DispatcherOption {
	return func(d *Dispatcher) { d.status = fn }
}

// WithResyncer prunes r after every relist.
func WithResyncer(r Resyncer) DispatcherOption {
	return func(d *Dispatcher) { d.resyncer = r }
}

// Dispatcher binds a Consumer to a Connection. It observes every
// lifecycle signal for logging and metrics and forwards only valid
// resource envelopes to the consumer.
type Dispatcher struct {
	consumer Consumer
	log      *slog.Logger
	recorder Recorder
	status   StatusReporter
	resyncer Resyncer

	connects     atomic.Uint64
	disconnects  atomic.Uint64
	reconnects   atomic.Uint64
	errors       atomic.Uint64
	delivered    atomic.Uint64
	statusErrors atomic.Uint64
	dropped      atomic.Uint64
	malformed    atomic.Uint64
}

var _ Observer = (*Dispatcher)(nil)

// Register creates a Dispatcher for consumer and installs it as conn's
// observer. It must be called before conn is started.
func Register(conn *Connection, consumer Consumer, opts ...DispatcherOption) *Dispatcher {
	d := &Dispatcher{consumer: consumer}
	for _, opt := range opts {
		opt(d)
	}
	if d.log == nil {
		d.log = slog.Default().With("component", "watch-dispatcher")
	}
	c := conn.Collection()
	d.log = d.log.With("collection", c.String(), "namespaced", c.Namespaced)

	conn.Observe(d)
	return d
}

// Stats returns a snapshot of the counters.
func (d *Dispatcher) Stats() Stats {
	return Stats{
		Connects:     d.connects.Load(),
		Disconnects:  d.disconnects.Load(),
		Reconnects:   d.reconnects.Load(),
		Errors:       d.errors.Load(),
		Delivered:    d.delivered.Load(),
		StatusErrors: d.statusErrors.Load(),
		Dropped:      d.dropped.Load(),
		Malformed:    d.malformed.Load(),
	}
}

func (d *Dispatcher) OnConnect(c Collection, session string) {
	d.connects.Add(1)
	d.signal(c, SignalConnect)
	d.report(c, true)
	d.log.Info("watch connected", "session", session)
}

func (d *Dispatcher) OnDisconnect(c Collection, session string, err error) {
	d.disconnects.Add(1)
	d.signal(c, SignalDisconnect)
	switch {
	case errors.Is(err, ErrStreamExpired):
		// The stream is reopened at once; serving does not change.
		d.log.Info("watch disconnected", "session", session, "reason", err)
		return
	case err == nil:
		d.report(c, false)
		d.log.Info("watch disconnected", "session", session)
		return
	}
	d.report(c, false)
	d.log.Error("watch disconnected", "session", session, "error", err)
}

func (d *Dispatcher) OnReconnect(c Collection, session string, attempt int, delay time.Duration) {
	d.reconnects.Add(1)
	d.signal(c, SignalReconnect)
	d.log.Info("watch reconnecting", "session", session, "attempt", attempt, "delay", delay)
}

func (d *Dispatcher) OnError(c Collection, session string, err error) {
	d.errors.Add(1)
	d.signal(c, SignalError)
	d.log.Error("watch error", "session", session, "error", err)
}

func (d *Dispatcher) OnRelistStart(c Collection, session string) {
	if d.resyncer != nil {
		d.resyncer.BeginResync()
	}
	d.log.Debug("relist started", "session", session)
}

func (d *Dispatcher) OnRelistEnd(c Collection, session string) {
	if d.resyncer == nil {
		d.log.Debug("relist complete", "session", session)
		return
	}
	d.log.Info("relist complete", "session", session, "pruned", d.resyncer.EndResync())
}

func (d *Dispatcher) OnResult(c Collection, session string, r Result) {
	if d.recorder != nil {
		d.recorder.RecordEvent(c, r.Type, r.Outcome)
	}

	switch r.Outcome {
	case OutcomeDropped:
		d.dropped.Add(1)
		d.log.Debug("dropped notification", "session", session, "type", r.Type)

	case OutcomeMalformed:
		d.malformed.Add(1)
		d.log.Error("malformed notification", "session", session, "type", r.Type, "reason", r.Err.Reason)

	case OutcomeValid:
		env := r.Envelope
		if env.Kind == EventError {
			d.statusErrors.Add(1)
			d.log.Error("watch status error",
				"session", session,
				"code", env.Status.Code,
				"reason", env.Status.Reason,
				"message", env.Status.Message,
			)
			return
		}

		d.log.Debug(string(env.Kind)+" to "+c.Name()+": "+env.Resource.Name, "session", session)
		d.delivered.Add(1)
		if d.consumer != nil {
			d.consumer(env)
		}
	}
}

func (d *Dispatcher) signal(c Collection, name string) {
	if d.recorder != nil {
		d.recorder.RecordSignal(c, name)
	}
}

func (d *Dispatcher) report(c Collection, serving bool) {
	if d.status != nil {
		d.status(c, serving)
	}
}
