package repo

import (
	"context"
	"errors"
	"time"

	"github.com/driftsync/core/internal/model"
)

// ErrNoAdapters is WaitForSync's distinguished error when this document's
// ready-state lists no channel of the requested kind. Only established
// channels are listed there, so a channel still mid-handshake does not
// count.
var ErrNoAdapters = errors.New("repo: no adapters of the requested kind are configured")

// ErrWaitForSyncTimeout is WaitForSync's distinguished timeout error.
var ErrWaitForSyncTimeout = errors.New("repo: waitForSync timed out")

// WaitForSyncOptions configures WaitForSync.
type WaitForSyncOptions struct {
	Kind model.ChannelKind
	// Timeout of zero disables the timeout (spec.md §4.5 "0 disables").
	Timeout time.Duration
	// Ctx supplies cancellation, the Go analogue of an abort signal: a
	// cancelled Ctx rejects immediately with its own error.
	Ctx context.Context
}

// WaitForSync resolves once some channel of opts.Kind reports synced or
// absent for this document. It rejects with ErrNoAdapters if no established
// channel of that kind exists (a channel whose handshake has not completed
// is not counted), ErrWaitForSyncTimeout after opts.Timeout
// elapses (unless zero), or opts.Ctx's error on cancellation (spec.md
// §4.5, §5 "waitForSync respects an abort signal; rejection is
// immediate").
func (h *Handle) WaitForSync(opts WaitForSyncOptions) error {
	ctx := opts.Ctx
	if ctx == nil {
		ctx = context.Background()
	}

	var timeoutCh <-chan time.Time
	if opts.Timeout > 0 {
		timer := time.NewTimer(opts.Timeout)
		defer timer.Stop()
		timeoutCh = timer.C
	}

	changed := make(chan struct{}, 1)
	unsubscribe := h.OnReadyStateChange(func(model.ReadyState) {
		select {
		case changed <- struct{}{}:
		default:
		}
	})
	defer unsubscribe()

	for {
		hasAdapters, synced := h.syncStatus(opts.Kind)
		if !hasAdapters {
			return ErrNoAdapters
		}
		if synced {
			return nil
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-timeoutCh:
			return ErrWaitForSyncTimeout
		case <-changed:
		}
	}
}

// syncStatus reports whether any channel of kind appears in this
// document's ready-state (hasAdapters) and, if so, whether at least one
// of them has settled into synced or absent (synced).
func (h *Handle) syncStatus(kind model.ChannelKind) (hasAdapters, synced bool) {
	state := h.ReadyStates()
	settled := 0
	total := 0
	for _, row := range state.Channels {
		if row.Kind != kind {
			continue
		}
		total++
		if row.Status == model.ReadySynced || row.Status == model.ReadyAbsent {
			settled++
		}
	}
	if total == 0 {
		return false, false
	}
	return true, settled > 0
}

// WaitUntilReady blocks until predicate holds for this document's current
// ready-state, the general form WaitForSync is built from (spec.md §4.5
// "waitUntilReady(predicate)").
func (h *Handle) WaitUntilReady(ctx context.Context, predicate func(model.ReadyState) bool) error {
	if ctx == nil {
		ctx = context.Background()
	}
	if predicate(h.ReadyStates()) {
		return nil
	}

	changed := make(chan struct{}, 1)
	unsubscribe := h.OnReadyStateChange(func(model.ReadyState) {
		select {
		case changed <- struct{}{}:
		default:
		}
	})
	defer unsubscribe()

	for {
		if predicate(h.ReadyStates()) {
			return nil
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-changed:
		}
	}
}
