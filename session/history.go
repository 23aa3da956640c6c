package session

import (
	"sync"
	"time"

	"github.com/oumi-open-ai/AIShortX-sub001/models"
)

// Entry is one history step: the snapshot to restore and the operation that left it.
type Entry struct {
	Snapshot    *models.ProjectSnapshot
	Kind        OpKind
	Description string
	At          time.Time
}

// History is a pair of bounded undo/redo stacks of deep-cloned snapshots. It never
// touches the live store: Undo and Redo only pop, and the caller pushes the pre-restore
// state onto the opposite stack.
type History struct {
	mu    sync.Mutex
	limit int
	undo  []Entry
	redo  []Entry
	now   func() time.Time
}

// NewHistory returns stacks holding at most limit entries each; limit <= 0 is unbounded.
func NewHistory(limit int) *History {
	return &History{limit: limit, now: time.Now}
}

// Record pushes a deep copy of snap onto the undo stack and clears the redo stack.
func (h *History) Record(snap *models.ProjectSnapshot, kind OpKind, description string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.undo = h.push(h.undo, Entry{Snapshot: snap.Clone(), Kind: kind, Description: description, At: h.now()})
	h.redo = nil
}

func (h *History) Undo() (Entry, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	e, ok := pop(&h.undo)
	if !ok {
		return Entry{}, ErrNothingToUndo
	}
	return e, nil
}

func (h *History) Redo() (Entry, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	e, ok := pop(&h.redo)
	if !ok {
		return Entry{}, ErrNothingToRedo
	}
	return e, nil
}

// PushUndo stores a pre-redo state without touching the redo stack.
func (h *History) PushUndo(e Entry) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.undo = h.push(h.undo, h.owned(e))
}

// PushRedo stores a pre-undo state.
func (h *History) PushRedo(e Entry) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.redo = h.push(h.redo, h.owned(e))
}

func (h *History) PeekUndo() (Entry, bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	return peek(h.undo)
}

func (h *History) PeekRedo() (Entry, bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	return peek(h.redo)
}

// PeekUndoDescription describes what Undo would revert, or "" when empty.
func (h *History) PeekUndoDescription() string {
	e, _ := h.PeekUndo()
	return e.Description
}

func (h *History) PeekRedoDescription() string {
	e, _ := h.PeekRedo()
	return e.Description
}

// Len returns the sizes of the undo and redo stacks.
func (h *History) Len() (undo, redo int) {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.undo), len(h.redo)
}

// Clear drops both stacks.
func (h *History) Clear() {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.undo, h.redo = nil, nil
}

func (h *History) owned(e Entry) Entry {
	e.Snapshot = e.Snapshot.Clone()
	if e.At.IsZero() {
		e.At = h.now()
	}
	return e
}

// push appends e, evicting the oldest entries beyond the limit.
func (h *History) push(stack []Entry, e Entry) []Entry {
	stack = append(stack, e)
	if h.limit > 0 && len(stack) > h.limit {
		drop := len(stack) - h.limit
		for i := 0; i < drop; i++ {
			stack[i] = Entry{}
		}
		stack = append(stack[:0:0], stack[drop:]...)
	}
	return stack
}

func pop(stack *[]Entry) (Entry, bool) {
	s := *stack
	if len(s) == 0 {
		return Entry{}, false
	}
	e := s[len(s)-1]
	s[len(s)-1] = Entry{}
	*stack = s[:len(s)-1]
	return e, true
}

func peek(stack []Entry) (Entry, bool) {
	if len(stack) == 0 {
		return Entry{}, false
	}
	return stack[len(stack)-1], true
}
