// Package dedupe tracks the submissions already applied to a user so a
// replayed submission id returns its original outcome instead of paying twice.
package dedupe

import (
	"sync"
	"sync/atomic"

	"github.com/okian/ascend/internal/domain/progression"
)

// DefaultMaxSize is the number of submission ids a window keeps per user.
const DefaultMaxSize = 256

// Entry is one remembered submission.
type Entry struct {
	SubmissionID string              `json:"submission_id"`
	Outcome      progression.Outcome `json:"outcome"`
}

// node is a list element; head is the newest entry, tail the oldest.
type node struct {
	entry      Entry
	prev, next *node
}

func (n *node) reset() {
	n.entry = Entry{}
	n.prev = nil
	n.next = nil
}

// Window is a bounded record of applied submissions with FIFO eviction.
// With maxSize <= 0 the window never evicts.
type Window struct {
	mu       sync.RWMutex
	seen     map[string]*node
	head     *node
	tail     *node
	maxSize  int
	size     atomic.Int64
	nodePool sync.Pool
}

// NewWindow creates an empty window.
func NewWindow(opts ...Option) *Window {
	w := &Window{maxSize: DefaultMaxSize}
	for _, opt := range opts {
		opt(w)
	}
	w.seen = make(map[string]*node)
	w.nodePool = sync.Pool{
		New: func() interface{} {
			return &node{}
		},
	}
	return w
}

// Lookup returns the outcome stored for id.
func (w *Window) Lookup(id string) (progression.Outcome, bool) {
	w.mu.RLock()
	defer w.mu.RUnlock()

	n, ok := w.seen[id]
	if !ok {
		return progression.Outcome{}, false
	}
	return n.entry.Outcome, true
}

// Record stores the outcome for id and reports whether it was added.
// An id already present keeps its first outcome.
func (w *Window) Record(id string, o progression.Outcome) bool {
	w.mu.Lock()
	defer w.mu.Unlock()

	if _, exists := w.seen[id]; exists {
		return false
	}
	if w.maxSize > 0 && len(w.seen) >= w.maxSize {
		w.evictOldest()
	}

	n := w.nodePool.Get().(*node)
	n.entry = Entry{SubmissionID: id, Outcome: o}
	n.next = w.head
	if w.head != nil {
		w.head.prev = n
	}
	w.head = n
	if w.tail == nil {
		w.tail = n
	}
	w.seen[id] = n
	w.size.Add(1)
	return true
}

// Size returns the number of remembered submissions.
func (w *Window) Size() int64 {
	return w.size.Load()
}

// evictOldest removes the tail. Must be called with w.mu held.
func (w *Window) evictOldest() {
	if w.tail != nil {
		w.unlink(w.tail)
	}
}

// unlink removes n from the list and map. Must be called with w.mu held.
func (w *Window) unlink(n *node) {
	if n.prev != nil {
		n.prev.next = n.next
	} else {
		w.head = n.next
	}
	if n.next != nil {
		n.next.prev = n.prev
	} else {
		w.tail = n.prev
	}
	delete(w.seen, n.entry.SubmissionID)
	n.reset()
	w.nodePool.Put(n)
	w.size.Add(-1)
}
