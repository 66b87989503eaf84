package undo

// DefaultCapacity bounds the history when no capacity is configured.
const DefaultCapacity = 100

// Log is a cursor-addressed, capacity-bounded undo/redo history.
//
// Entries below the cursor are undoable; entries at or above it are redoable.
// Log is owned by one session and is not safe for concurrent use.
type Log struct {
	buf      []Entry
	cursor   int
	capacity int
}

func NewLog(capacity int) *Log {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	return &Log{capacity: capacity}
}

func (l *Log) Len() int      { return len(l.buf) }
func (l *Log) Cursor() int   { return l.cursor }
func (l *Log) Capacity() int { return l.capacity }

func (l *Log) CanUndo() bool { return l.cursor > 0 }
func (l *Log) CanRedo() bool { return l.cursor < len(l.buf) }

// Push discards any redo history, appends e, and moves the cursor past it.
// When over capacity the oldest entry is dropped.
func (l *Log) Push(e Entry) {
	if e == nil {
		return
	}
	l.buf = append(l.buf[:l.cursor], e)
	l.cursor = len(l.buf)
	if len(l.buf) > l.capacity {
		drop := len(l.buf) - l.capacity
		l.buf = append([]Entry(nil), l.buf[drop:]...)
		l.cursor -= drop
	}
}

// UndoStep moves the cursor back and returns the entry to invert and replay.
func (l *Log) UndoStep() (Entry, bool) {
	if l.cursor <= 0 {
		return nil, false
	}
	l.cursor--
	return l.buf[l.cursor], true
}

// RedoStep returns the entry to replay and moves the cursor forward.
func (l *Log) RedoStep() (Entry, bool) {
	if l.cursor >= len(l.buf) {
		return nil, false
	}
	e := l.buf[l.cursor]
	l.cursor++
	return e, true
}

// SetCursor moves the cursor directly, clamped to [0, Len()].
func (l *Log) SetCursor(c int) {
	if c < 0 {
		c = 0
	}
	if c > len(l.buf) {
		c = len(l.buf)
	}
	l.cursor = c
}

func (l *Log) Entries() []Entry {
	out := make([]Entry, len(l.buf))
	copy(out, l.buf)
	return out
}

// Snapshot is the persisted/wire form of a Log.
type Snapshot struct {
	Entries []Record `json:"entries"`
	Cursor  int      `json:"cursor"`
}

func (l *Log) Snapshot() Snapshot {
	s := Snapshot{Entries: make([]Record, len(l.buf)), Cursor: l.cursor}
	for i, e := range l.buf {
		s.Entries[i] = Record{Entry: e}
	}
	return s
}

// Restore replaces the history with s, keeping at most Capacity newest entries.
func (l *Log) Restore(s Snapshot) {
	l.buf = l.buf[:0]
	for _, r := range s.Entries {
		if r.Entry != nil {
			l.buf = append(l.buf, r.Entry)
		}
	}
	cursor := s.Cursor
	if drop := len(l.buf) - l.capacity; drop > 0 {
		l.buf = append([]Entry(nil), l.buf[drop:]...)
		cursor -= drop
	}
	l.SetCursor(cursor)
}
