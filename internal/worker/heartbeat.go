package worker

import (
	"context"
	"sync/atomic"
	"time"

	tkterrors "github.com/daglabs/ticketwright/internal/errors"
	"go.uber.org/zap"
)

// heartbeater renews a ticket's claim on a fixed period in the
// background and flags when the orchestrator reports the claim as
// stale.
type heartbeater struct {
	cancel context.CancelFunc
	done   chan struct{}
	stale  int32
}

// startHeartbeat begins sending heartbeats for ticketID every period
// until the returned heartbeater's Stop is called or a stale response
// arrives. A non-positive period disables heartbeating entirely.
func (r *Runtime) startHeartbeat(parent context.Context, ticketID, claimToken string, period time.Duration) *heartbeater {
	ctx, cancel := context.WithCancel(parent)
	hb := &heartbeater{cancel: cancel, done: make(chan struct{})}

	if period <= 0 {
		close(hb.done)
		return hb
	}

	go func() {
		defer close(hb.done)
		ticker := time.NewTicker(period)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				if err := r.client.Heartbeat(ctx, ticketID, r.cfg.AgentID, claimToken); err != nil {
					if tkterrors.Is(err, tkterrors.KindStaleClaim) || tkterrors.Is(err, tkterrors.KindStaleState) {
						atomic.StoreInt32(&hb.stale, 1)
						return
					}
					r.logger.Debug("heartbeat failed", zap.String("ticket", ticketID), zap.Error(err))
				}
			}
		}
	}()

	return hb
}

// IsStale reports whether the orchestrator has rejected a heartbeat as
// stale; the caller must abort before committing or pushing further.
func (hb *heartbeater) IsStale() bool {
	return atomic.LoadInt32(&hb.stale) == 1
}

// Stop ends the background heartbeat loop and waits for it to exit.
func (hb *heartbeater) Stop() {
	hb.cancel()
	<-hb.done
}
