package notify

import (
	"context"
	"log"
	"time"

	"golang.org/x/time/rate"

	"med-reminder/internal/metrics"
)

const (
	dispatchBatch = 100
	staleAfter    = time.Hour
	keepDelivered = 48 * time.Hour
)

// Deliverer shows a due notification to its recipient.
type Deliverer interface {
	Deliver(ctx context.Context, n Notification) error
}

// Dispatcher pushes due notifications out of the store. It is driven by a
// periodic tick; one tick never overlaps another.
type Dispatcher struct {
	store   *Store
	out     Deliverer
	limiter *rate.Limiter
	now     func() time.Time
	busy    chan struct{}
}

// NewDispatcher builds a dispatcher that sends at most perSecond messages a second.
func NewDispatcher(store *Store, out Deliverer, perSecond float64) *Dispatcher {
	if perSecond <= 0 {
		perSecond = 25
	}
	return &Dispatcher{
		store:   store,
		out:     out,
		limiter: rate.NewLimiter(rate.Limit(perSecond), 1),
		now:     time.Now,
		busy:    make(chan struct{}, 1),
	}
}

// Tick delivers everything due and reports how many were sent.
func (d *Dispatcher) Tick(ctx context.Context) int {
	select {
	case d.busy <- struct{}{}:
		defer func() { <-d.busy }()
	default:
		return 0
	}

	now := d.now()
	due, err := d.store.Due(ctx, now, dispatchBatch)
	if err != nil {
		log.Printf("[error] dispatch: %v", err)
		return 0
	}

	sent := 0
	for _, n := range due {
		if err := d.limiter.Wait(ctx); err != nil {
			return sent
		}
		if err := d.out.Deliver(ctx, n); err != nil {
			metrics.NotificationsDelivered.WithLabelValues("error").Inc()
			log.Printf("[warn] deliver %s: %v", n.ID, err)
			if now.Sub(n.TriggerAt) < staleAfter {
				continue
			}
			log.Printf("[warn] giving up on %s, due since %s", n.ID, n.TriggerAt.Format(time.RFC3339))
		} else {
			metrics.NotificationsDelivered.WithLabelValues("ok").Inc()
			sent++
		}
		if err := d.store.MarkDelivered(ctx, n.ID, now); err != nil {
			log.Printf("[error] %v", err)
		}
	}
	return sent
}

// Prune forgets delivered notifications old enough that nobody will act on them.
func (d *Dispatcher) Prune(ctx context.Context) {
	n, err := d.store.Prune(ctx, d.now().Add(-keepDelivered))
	if err != nil {
		log.Printf("[error] %v", err)
		return
	}
	if n > 0 {
		log.Printf("[info] pruned %d delivered notifications", n)
	}
}
