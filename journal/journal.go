// Package journal records undo actions for in-memory state so that a failed operation
// can be discarded in full. Engine storage and the in-memory custody collaborators write
// through one shared Journal; the engine proxy takes a snapshot before each call and
// reverts to it when the call fails.
//
// A Journal is not safe for concurrent use. Callers serialize access, which the engine
// proxy does with its call lock.
package journal

// Journal is an append-only stack of undo actions.
type Journal struct {
	entries []func()
}

// New returns an empty journal.
func New() *Journal {
	return &Journal{}
}

// Record pushes an undo action. Undo actions run in reverse order of recording.
func (j *Journal) Record(undo func()) {
	j.entries = append(j.entries, undo)
}

// Snapshot returns a marker that RevertTo can rewind to. A nil journal has nothing
// to rewind.
func (j *Journal) Snapshot() int {
	if j == nil {
		return 0
	}
	return len(j.entries)
}

// RevertTo runs every undo action recorded after snapshot, newest first, and drops them.
func (j *Journal) RevertTo(snapshot int) {
	if j == nil {
		return
	}
	if snapshot < 0 {
		snapshot = 0
	}
	for i := len(j.entries) - 1; i >= snapshot; i-- {
		j.entries[i]()
		j.entries[i] = nil
	}
	if snapshot < len(j.entries) {
		j.entries = j.entries[:snapshot]
	}
}

// Commit forgets every recorded action, making the current state permanent.
func (j *Journal) Commit() {
	clear(j.entries)
	j.entries = j.entries[:0]
}

// Len is the number of pending undo actions.
func (j *Journal) Len() int {
	return len(j.entries)
}

// Set writes m[k] = v and records how to restore the previous entry. A nil j records
// nothing.
func Set[K comparable, V any](j *Journal, m map[K]V, k K, v V) {
	prev, existed := m[k]
	m[k] = v
	if j == nil {
		return
	}
	j.Record(func() {
		if existed {
			m[k] = prev
		} else {
			delete(m, k)
		}
	})
}

// Delete removes m[k] and records how to restore it.
func Delete[K comparable, V any](j *Journal, m map[K]V, k K) {
	prev, existed := m[k]
	if !existed {
		return
	}
	delete(m, k)
	if j == nil {
		return
	}
	j.Record(func() { m[k] = prev })
}
