package watch

import (
	"context"

	"github.com/otterscale/gardenwatch/internal/core"
	"github.com/otterscale/gardenwatch/internal/leader"
	"github.com/otterscale/gardenwatch/internal/transport"
)

// connectionListener adapts a core.Connection to the transport.Listener
// interface so it participates in the managed lifecycle alongside the
// ops server.
type connectionListener struct {
	conn *core.Connection
}

func (l *connectionListener) Start(ctx context.Context) error {
	return l.conn.Start(ctx)
}

func (l *connectionListener) Stop(ctx context.Context) error {
	return l.conn.Stop(ctx)
}

// leaderListener runs its listeners only while holding the leader
// lease. Losing the lease ends Start with an error.
type leaderListener struct {
	elector   *leader.Elector
	listeners []transport.Listener
}

func (l *leaderListener) Start(ctx context.Context) error {
	return l.elector.Run(ctx, func(leading context.Context) error {
		return transport.Serve(leading, l.listeners...)
	})
}

func (l *leaderListener) Stop(_ context.Context) error {
	return nil // election stops when its context is cancelled
}
