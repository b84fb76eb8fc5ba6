package monitor

import (
	"log/slog"
	"sort"

	"github.com/alanmeadows/shepherd/internal/logging"
)

// TransitionEvent is one significant transition in a watch: monitor_start,
// rebase, ci_state_change or monitor_complete.
type TransitionEvent struct {
	Name     string
	PRNumber int
	Fields   map[string]string
}

// emit sanitizes the event's free-text fields, logs it, and forwards it to
// the registered transition handler. PR titles and error messages can carry
// terminal escape sequences; those are stripped before the event leaves the
// monitor.
func (m *Monitor) emit(ev TransitionEvent) {
	clean := make(map[string]string, len(ev.Fields))
	for k, v := range ev.Fields {
		clean[k] = logging.Sanitize(v)
	}
	ev.Fields = clean

	keys := make([]string, 0, len(clean))
	for k := range clean {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	args := make([]any, 0, 2+2*len(keys))
	args = append(args, "pr", ev.PRNumber)
	for _, k := range keys {
		args = append(args, k, clean[k])
	}
	slog.Info(ev.Name, args...)

	if m.onTransition != nil {
		m.onTransition(ev)
	}
}
