// Package engine is the discrete-event scheduler consumed by the simulation.
// Entries fire in (tick, ordering, insertion sequence) order, so cell steps,
// helper steps, and profiler steps occupy fixed relative priorities at the
// same simulated tick and ties break deterministically.
package engine

import "container/heap"

// Ordering fixes the relative priority of entries at the same tick.
type Ordering int

const (
	OrderingCells Ordering = iota
	OrderingHelpers
	OrderingProfilers
)

// StepFunc is invoked with the current simulated tick.
type StepFunc func(tick uint64)

type entry struct {
	tick     uint64
	ordering Ordering
	seq      uint64
	interval uint64 // 0 for one-shot
	fn       StepFunc
	stopped  bool
	index    int
}

// Handle stops a scheduled entry. Stopping is idempotent; a stopped entry
// never fires again.
type Handle struct{ e *entry }

func (h *Handle) Stop() {
	if h != nil && h.e != nil {
		h.e.stopped = true
	}
}

// Schedule is a tick-ordered queue of steppable entries.
type Schedule struct {
	now     uint64
	nextSeq uint64
	q       entryHeap
}

func New() *Schedule { return &Schedule{} }

// Time returns the current simulated tick.
func (s *Schedule) Time() uint64 { return s.now }

// Resume sets the clock when rebuilding a schedule from a checkpoint. It
// must run before any entries are scheduled.
func (s *Schedule) Resume(tick uint64) {
	if s.q.Len() == 0 {
		s.now = tick
	}
}

// ScheduleOnce fires fn once at the given tick. Ticks in the past fire on
// the next step.
func (s *Schedule) ScheduleOnce(tick uint64, ord Ordering, fn StepFunc) *Handle {
	return s.push(tick, ord, 0, fn)
}

// ScheduleRepeating fires fn at start and then every interval ticks until
// stopped. interval must be at least 1.
func (s *Schedule) ScheduleRepeating(start uint64, ord Ordering, interval uint64, fn StepFunc) *Handle {
	if interval == 0 {
		interval = 1
	}
	return s.push(start, ord, interval, fn)
}

func (s *Schedule) push(tick uint64, ord Ordering, interval uint64, fn StepFunc) *Handle {
	e := &entry{tick: tick, ordering: ord, seq: s.nextSeq, interval: interval, fn: fn}
	s.nextSeq++
	heap.Push(&s.q, e)
	return &Handle{e: e}
}

// Step advances the clock by one tick and fires everything due at it.
// Repeating entries keep their original sequence number so their relative
// order within an ordering class is stable across ticks.
func (s *Schedule) Step() {
	s.now++
	for s.q.Len() > 0 && s.q[0].tick <= s.now {
		e := heap.Pop(&s.q).(*entry)
		if e.stopped {
			continue
		}
		e.fn(s.now)
		if e.interval > 0 && !e.stopped {
			e.tick = s.now + e.interval
			heap.Push(&s.q, e)
		}
	}
}

// Pending returns the number of live entries, used by checkpoint export and
// tests.
func (s *Schedule) Pending() int {
	n := 0
	for _, e := range s.q {
		if !e.stopped {
			n++
		}
	}
	return n
}

type entryHeap []*entry

func (h entryHeap) Len() int { return len(h) }
func (h entryHeap) Less(i, j int) bool {
	if h[i].tick != h[j].tick {
		return h[i].tick < h[j].tick
	}
	if h[i].ordering != h[j].ordering {
		return h[i].ordering < h[j].ordering
	}
	return h[i].seq < h[j].seq
}
func (h entryHeap) Swap(i, j int) {
	h[i], h[j] = h[j], h[i]
	h[i].index = i
	h[j].index = j
}
func (h *entryHeap) Push(x any) {
	e := x.(*entry)
	e.index = len(*h)
	*h = append(*h, e)
}
func (h *entryHeap) Pop() any {
	old := *h
	n := len(old)
	e := old[n-1]
	old[n-1] = nil
	*h = old[:n-1]
	return e
}
