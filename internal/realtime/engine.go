package realtime

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/agustinlozano/ur-partner-realtime/internal/directory"
	"github.com/agustinlozano/ur-partner-realtime/internal/transport"
	"github.com/agustinlozano/ur-partner-realtime/pkg/metrics"
)

// Engine fans a payload out to the live connections of a room
type Engine struct {
	dir    directory.Directory
	sender transport.Sender
	log    *slog.Logger
}

func NewEngine(dir directory.Directory, sender transport.Sender, log *slog.Logger) *Engine {
	return &Engine{dir: dir, sender: sender, log: log}
}

// Broadcast delivers payload to every connection of roomID except exclude
// (empty excludes nobody). Legs run concurrently and Broadcast returns once
// all of them settled. Only a failed directory lookup is returned; delivery
// failures are handled per leg and never fail the broadcast.
func (e *Engine) Broadcast(ctx context.Context, roomID string, payload []byte, exclude string) error {
	conns, err := e.dir.ListByRoom(ctx, roomID)
	if err != nil {
		return fmt.Errorf("broadcast %s: %w", roomID, err)
	}

	targets := make([]directory.Connection, 0, len(conns))
	for _, c := range conns {
		if exclude != "" && c.ID == exclude {
			continue
		}
		targets = append(targets, c)
	}
	metrics.BroadcastFanout.Observe(float64(len(targets)))
	e.log.Debug("broadcast.start", "room", roomID, "targets", len(targets), "exclude", exclude)

	var wg sync.WaitGroup
	for _, c := range targets {
		wg.Add(1)
		go func(c directory.Connection) {
			defer wg.Done()
			e.settle(ctx, roomID, c.ID, e.sender.Deliver(ctx, c.ID, payload))
		}(c)
	}
	wg.Wait()
	return nil
}

// settle is the per-leg error policy: stale targets are cleaned up, anything
// else is logged and dropped without retry
func (e *Engine) settle(ctx context.Context, roomID, connID string, err error) {
	switch {
	case err == nil:
		metrics.Deliveries.WithLabelValues(metrics.OutcomeOK).Inc()

	case transport.IsGone(err):
		metrics.Deliveries.WithLabelValues(metrics.OutcomeGone).Inc()
		e.log.Info("broadcast.stale", "room", roomID, "conn", connID)
		if rmErr := e.dir.Remove(ctx, connID); rmErr != nil {
			e.log.Error("broadcast.cleanup_failed", "room", roomID, "conn", connID, "err", rmErr)
			return
		}
		metrics.StaleConnections.Inc()

	default:
		metrics.Deliveries.WithLabelValues(metrics.OutcomeTransient).Inc()
		e.log.Warn("broadcast.deliver_failed", "room", roomID, "conn", connID, "err", err)
	}
}
