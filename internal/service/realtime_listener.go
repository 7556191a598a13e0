package service

import (
	"context"
	"fmt"
	"log"
	"strconv"

	"github.com/google/uuid"

	"med-reminder/internal/metrics"
	"med-reminder/internal/realtime"
)

// RealtimeListener keeps a dashboard fresh from change events. Events are
// only hints: a matching one triggers a full reload, never a patch, and
// bursts collapse into one reload.
type RealtimeListener struct {
	feed realtime.Feed
	dash *Dashboard

	schedule chan struct{}
	links    chan struct{}
	done     chan struct{}
}

func NewRealtimeListener(feed realtime.Feed, dash *Dashboard) *RealtimeListener {
	return &RealtimeListener{
		feed:     feed,
		dash:     dash,
		schedule: make(chan struct{}, 1),
		links:    make(chan struct{}, 1),
		done:     make(chan struct{}),
	}
}

// Start subscribes to adherence logs and care links and returns once both
// subscriptions are live. A failed subscription puts the dashboard in an
// error state and is returned; there is no retry here. Everything stops when
// ctx ends.
func (l *RealtimeListener) Start(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)

	if err := l.feed.Subscribe(ctx, realtime.TableAdherenceLogs, l.onAdherence); err != nil {
		cancel()
		return l.failed(realtime.TableAdherenceLogs, err)
	}
	if err := l.feed.Subscribe(ctx, realtime.TableCareLinks, l.onCareLink); err != nil {
		cancel()
		return l.failed(realtime.TableCareLinks, err)
	}

	go func() {
		defer cancel()
		l.run(ctx)
	}()
	return nil
}

// Done is closed when the reload worker has stopped.
func (l *RealtimeListener) Done() <-chan struct{} { return l.done }

func (l *RealtimeListener) onAdherence(ev realtime.Event) {
	selected := l.dash.Selected()
	matched := selected != uuid.Nil && ev.Key("user_id") == selected.String()
	metrics.RealtimeEvents.WithLabelValues(ev.Table, strconv.FormatBool(matched)).Inc()
	if matched {
		signal(l.schedule)
	}
}

func (l *RealtimeListener) onCareLink(ev realtime.Event) {
	matched := ev.Key("caregiver_id") == l.dash.CaregiverID().String()
	metrics.RealtimeEvents.WithLabelValues(ev.Table, strconv.FormatBool(matched)).Inc()
	if matched {
		signal(l.links)
	}
}

func (l *RealtimeListener) run(ctx context.Context) {
	defer close(l.done)
	for {
		select {
		case <-ctx.Done():
			return
		case <-l.links:
			if err := l.dash.LoadCareLinks(ctx); err != nil && ctx.Err() == nil {
				log.Printf("[warn] reload care links for %s: %v", l.dash.CaregiverID(), err)
			}
		case <-l.schedule:
			if err := l.dash.LoadSchedule(ctx); err != nil && ctx.Err() == nil {
				log.Printf("[warn] reload schedule for %s: %v", l.dash.Selected(), err)
			}
		}
	}
}

func (l *RealtimeListener) failed(table string, err error) error {
	err = fmt.Errorf("subscribe %s: %w", table, err)
	l.dash.SetError(err)
	return err
}

// signal posts to a one-slot channel, dropping the post if one is waiting.
func signal(ch chan struct{}) {
	select {
	case ch <- struct{}{}:
	default:
	}
}
