package outbox

import (
	"context"
	"time"

	"go.uber.org/zap"
)

type Store interface {
	// LockBatch leases up to batchSize pending events (or events whose lease
	// expired) to relayID.
	LockBatch(ctx context.Context, relayID string, batchSize int, lease time.Duration) ([]Event, error)
	MarkSent(ctx context.Context, ids []int64) error
	MarkFailed(ctx context.Context, id int64, errMsg string) error
}

type Relay struct {
	log       *zap.Logger
	store     Store
	dispatch  *Dispatcher
	relayID   string
	batchSize int
	interval  time.Duration
	lease     time.Duration
}

type RelayOption func(*Relay)

func WithInterval(d time.Duration) RelayOption {
	return func(r *Relay) { r.interval = d }
}

func WithBatchSize(n int) RelayOption {
	return func(r *Relay) { r.batchSize = n }
}

func NewRelay(log *zap.Logger, store Store, dispatch *Dispatcher, relayID string, opts ...RelayOption) *Relay {
	r := &Relay{
		log:       log,
		store:     store,
		dispatch:  dispatch,
		relayID:   relayID,
		batchSize: 100,
		interval:  500 * time.Millisecond,
		lease:     5 * time.Second,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Run polls until ctx is cancelled.
func (r *Relay) Run(ctx context.Context) error {
	t := time.NewTicker(r.interval)
	defer t.Stop()

	for {
		select {
		case <-ctx.Done():
			r.log.Info("relay stopping", zap.String("relay_id", r.relayID))
			return nil
		case <-t.C:
			if _, err := r.Flush(ctx); err != nil {
				r.log.Error("relay flush failed", zap.Error(err))
			}
		}
	}
}

// Flush dispatches one batch and returns how many events were sent.
func (r *Relay) Flush(ctx context.Context) (int, error) {
	events, err := r.store.LockBatch(ctx, r.relayID, r.batchSize, r.lease)
	if err != nil {
		return 0, err
	}
	if len(events) == 0 {
		return 0, nil
	}

	ids := make([]int64, 0, len(events))
	for _, e := range events {
		if err := r.dispatch.Dispatch(ctx, e); err != nil {
			if markErr := r.store.MarkFailed(ctx, e.ID, err.Error()); markErr != nil {
				r.log.Error("relay mark failed error", zap.Int64("event_id", e.ID), zap.Error(markErr))
			}
			continue
		}
		ids = append(ids, e.ID)
	}
	if len(ids) > 0 {
		if err := r.store.MarkSent(ctx, ids); err != nil {
			return 0, err
		}
	}
	return len(ids), nil
}
