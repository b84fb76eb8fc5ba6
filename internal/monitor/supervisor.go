package monitor

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/alanmeadows/shepherd/internal/provider"
)

// WatchMany watches several PRs concurrently and returns as soon as any
// worker produces an event, cancelling the rest without waiting for them.
// Every worker delivers exactly one outcome, so the first receive cannot
// block past the timeout. An empty input returns an empty slice without
// spawning workers.
func WatchMany(ctx context.Context, backend provider.Backend, numbers []int, timeout time.Duration, opts Options) []PREvent {
	if len(numbers) == 0 {
		return []PREvent{}
	}

	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	// Buffered so cancelled workers can deliver their outcome and exit
	// after the supervisor has stopped listening.
	outcomes := make(chan PREvent, len(numbers))
	for _, number := range numbers {
		go watchWorker(ctx, backend, number, opts, outcomes)
	}

	first := <-outcomes
	return []PREvent{first}
}

// watchWorker polls one PR until it produces an event, then delivers it.
// Fetch failures are tolerated up to the configured bound before being
// surfaced as an ERROR event. Cancellation, deadline exhaustion and a
// panicking provider call are delivered as events too, so the supervisor
// always hears back and sibling workers keep running.
func watchWorker(ctx context.Context, backend provider.Backend, number int, opts Options, out chan<- PREvent) {
	defer func() {
		if r := recover(); r != nil {
			out <- PREvent{PRNumber: number, Event: &Event{
				Type:     EventError,
				PRNumber: number,
				Message:  fmt.Sprintf("watch worker for PR #%d panicked: %v", number, r),
			}}
		}
	}()

	m := New(backend, opts)

	var prevPending []string
	failures := 0
	for {
		if err := ctx.Err(); err != nil {
			out <- PREvent{PRNumber: number, Event: terminalEvent(number, err)}
			return
		}

		ev, st := m.CheckOnce(ctx, number, prevPending)
		if ev != nil && ev.Type == EventError {
			failures++
			if failures < m.opts.MaxFetchFailures {
				slog.Warn("state fetch failed, backing off", "pr", number, "attempt", failures)
				m.sleep(ctx, time.Duration(failures)*m.opts.PollInterval)
				continue
			}
			out <- PREvent{PRNumber: number, Event: ev}
			return
		}
		failures = 0

		if ev != nil {
			out <- PREvent{PRNumber: number, Event: ev, State: st}
			return
		}

		prevPending = st.PendingReviewers
		m.sleep(ctx, m.opts.PollInterval)
	}
}

// terminalEvent converts a context error into the outcome delivered by a
// worker that never observed a PR event.
func terminalEvent(number int, err error) *Event {
	if errors.Is(err, context.DeadlineExceeded) {
		return &Event{
			Type:     EventTimeout,
			PRNumber: number,
			Message:  fmt.Sprintf("timed out waiting on PR #%d", number),
		}
	}
	return &Event{
		Type:     EventError,
		PRNumber: number,
		Message:  fmt.Sprintf("watch cancelled for PR #%d: %v", number, err),
	}
}
