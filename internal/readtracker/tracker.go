// Package readtracker records which canonical paths have been read or
// written this session and enforces the read-before-write guard.
package readtracker

import "sync"

// Tracker maintains the per-session set of canonical paths that have been
// seen (read or written). Entries are never removed during a session.
type Tracker struct {
	mu          sync.RWMutex
	seen        map[string]bool
	noReadGuard bool
}

// New creates a Tracker. When noReadGuard is true, CanWrite always allows
// writes to existing files without a prior read.
func New(noReadGuard bool) *Tracker {
	return &Tracker{seen: make(map[string]bool), noReadGuard: noReadGuard}
}

// MarkRead records a successful read of canonicalPath.
func (t *Tracker) MarkRead(canonicalPath string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.seen[canonicalPath] = true
}

// MarkWritten records a successful write of canonicalPath — a write also
// counts as having "seen" the file for any subsequent edit in the same
// session.
func (t *Tracker) MarkWritten(canonicalPath string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.seen[canonicalPath] = true
}

// HasSeen reports whether canonicalPath has been read or written this
// session.
func (t *Tracker) HasSeen(canonicalPath string) bool {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.seen[canonicalPath]
}

// CanWrite reports whether a write to canonicalPath is permitted.
// existing indicates whether the destination already exists on disk;
// moveFrom indicates the write is the destination side of a move/rename,
// which is always exempt from the read requirement on the source.
func (t *Tracker) CanWrite(canonicalPath string, existing bool, moveFrom bool) bool {
	if !existing || moveFrom || t.noReadGuard {
		return true
	}
	return t.HasSeen(canonicalPath)
}
