package scheduler

import (
	"sort"
	"time"

	"github.com/signalsfoundry/passtrack/model"
)

// queue is an immutable, start-ordered snapshot of pending pass windows.
// Writers build a new queue and publish it; readers never see it change.
type queue struct {
	windows     []model.PassWindow
	refreshedAt time.Time
	version     uint64
}

func emptyQueue() *queue {
	return &queue{}
}

// sortWindows orders windows by start, then key.
func sortWindows(ws []model.PassWindow) {
	sort.SliceStable(ws, func(i, j int) bool {
		if !ws[i].Start.Equal(ws[j].Start) {
			return ws[i].Start.Before(ws[j].Start)
		}
		return ws[i].Key() < ws[j].Key()
	})
}

// pending returns the windows whose end is after cutoff, in queue order.
func (q *queue) pending(cutoff time.Time) []model.PassWindow {
	out := make([]model.PassWindow, 0, len(q.windows))
	for _, w := range q.windows {
		if w.End.After(cutoff) {
			out = append(out, w)
		}
	}
	return out
}

// selectNext picks the window to track next among windows ending after
// cutoff: the earliest window and every window overlapping it compete, and
// the highest max elevation wins. Ties go to the earlier start, then the key.
func (q *queue) selectNext(cutoff time.Time) (model.PassWindow, bool) {
	candidates := q.pending(cutoff)
	if len(candidates) == 0 {
		return model.PassWindow{}, false
	}
	first := candidates[0]
	best := first
	for _, w := range candidates[1:] {
		if !w.Start.Before(first.End) {
			// Ordered by start: nothing later can overlap first.
			break
		}
		if better(w, best) {
			best = w
		}
	}
	return best, true
}

func better(a, b model.PassWindow) bool {
	if a.MaxElevation != b.MaxElevation {
		return a.MaxElevation > b.MaxElevation
	}
	if !a.Start.Equal(b.Start) {
		return a.Start.Before(b.Start)
	}
	return a.Key() < b.Key()
}

// without returns a copy of the queue lacking done and any re-prediction of
// the same pass, i.e. a window of the same object overlapping it.
func (q *queue) without(done model.PassWindow) ([]model.PassWindow, bool) {
	out := make([]model.PassWindow, 0, len(q.windows))
	found := false
	for _, w := range q.windows {
		if w.Key() == done.Key() || (w.ObjectID == done.ObjectID && w.Overlaps(done)) {
			found = true
			continue
		}
		out = append(out, w)
	}
	return out, found
}
