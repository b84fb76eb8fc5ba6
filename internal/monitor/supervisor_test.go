package monitor

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanmeadows/shepherd/internal/provider"
)

func TestWatchManyFirstEventWins(t *testing.T) {
	f := &fakeBackend{}
	f.checksFn = func(number int) ([]provider.CheckRun, error) {
		if number == 2 {
			return []provider.CheckRun{{Name: "build", State: provider.CheckSuccess}}, nil
		}
		return []provider.CheckRun{{Name: "build", State: provider.CheckPending}}, nil
	}

	start := time.Now()
	events := WatchMany(t.Context(), f, []int{1, 2, 3}, 5*time.Second, fastOptions())

	require.Len(t, events, 1)
	assert.Equal(t, 2, events[0].PRNumber)
	require.NotNil(t, events[0].Event)
	assert.Equal(t, EventCIPassed, events[0].Event.Type)
	// The still-pending PRs must not delay the verdict.
	assert.Less(t, time.Since(start), time.Second)
}

func TestWatchManyEmptyInput(t *testing.T) {
	events := WatchMany(t.Context(), &fakeBackend{}, nil, time.Second, fastOptions())

	require.NotNil(t, events)
	assert.Empty(t, events)
}

func TestWatchManyTimeout(t *testing.T) {
	f := &fakeBackend{checkLists: pendingChecks()}

	events := WatchMany(t.Context(), f, []int{1, 2}, 50*time.Millisecond, fastOptions())

	require.Len(t, events, 1)
	assert.Equal(t, EventTimeout, events[0].Event.Type)
	assert.Contains(t, events[0].Event.Message, "timed out")
}

func TestWatchManyCancelled(t *testing.T) {
	f := &fakeBackend{checkLists: pendingChecks()}
	ctx, cancel := context.WithCancel(t.Context())
	go func() {
		time.Sleep(20 * time.Millisecond)
		cancel()
	}()

	events := WatchMany(ctx, f, []int{1}, 5*time.Second, fastOptions())

	require.Len(t, events, 1)
	assert.Equal(t, EventError, events[0].Event.Type)
	assert.Contains(t, events[0].Event.Message, "cancelled")
}

func TestWatchManyWorkerErrorSurfaced(t *testing.T) {
	f := &fakeBackend{}
	f.mergeFn = func(number int) (string, error) {
		return "", errors.New("boom")
	}

	events := WatchMany(t.Context(), f, []int{7}, 5*time.Second, fastOptions())

	require.Len(t, events, 1)
	assert.Equal(t, 7, events[0].PRNumber)
	assert.Equal(t, EventError, events[0].Event.Type)
	assert.Contains(t, events[0].Event.Message, "boom")
}

// panickingBackend panics on the merge-state read for one PR and behaves
// like the plain fake for every other.
type panickingBackend struct {
	fakeBackend
	panicPR int
}

func (p *panickingBackend) MergeState(ctx context.Context, number int) (string, error) {
	if number == p.panicPR {
		panic("boom")
	}
	return p.fakeBackend.MergeState(ctx, number)
}

func TestWatchManyWorkerPanicSurfaced(t *testing.T) {
	b := &panickingBackend{panicPR: 9}
	b.checkLists = pendingChecks()

	events := WatchMany(t.Context(), b, []int{8, 9, 10}, 5*time.Second, fastOptions())

	// The faulting worker delivers its one ERROR outcome; the process and
	// the sibling workers survive the panic.
	require.Len(t, events, 1)
	assert.Equal(t, 9, events[0].PRNumber)
	require.NotNil(t, events[0].Event)
	assert.Equal(t, EventError, events[0].Event.Type)
	assert.Contains(t, events[0].Event.Message, "boom")
}
