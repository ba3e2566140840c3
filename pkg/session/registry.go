package session

import (
	"sync"
	"time"
)

// PendingCall carries metadata recorded when a call is placed, for the
// media stream that attaches later under the same call SID.
type PendingCall struct {
	To       string
	From     string
	Context  string // optional opening context for reply generation
	PlacedAt time.Time
}

// PendingCalls is a registry of calls that have been placed but whose
// media stream has not connected yet. Entries are stored exactly once
// when the call is placed, claimed exactly once when the stream attaches,
// and expire after a TTL so abandoned calls do not accumulate.
type PendingCalls struct {
	mu      sync.Mutex
	ttl     time.Duration
	now     func() time.Time
	entries map[string]pendingEntry
}

type pendingEntry struct {
	call    PendingCall
	expires time.Time
}

// NewPendingCalls creates a registry whose entries expire after ttl.
func NewPendingCalls(ttl time.Duration) *PendingCalls {
	if ttl <= 0 {
		ttl = 5 * time.Minute
	}
	return &PendingCalls{
		ttl:     ttl,
		now:     time.Now,
		entries: make(map[string]pendingEntry),
	}
}

// Put records metadata for a freshly placed call, replacing any stale
// entry under the same SID.
func (p *PendingCalls) Put(callSID string, call PendingCall) {
	if callSID == "" {
		return
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	p.purgeLocked()
	p.entries[callSID] = pendingEntry{call: call, expires: p.now().Add(p.ttl)}
}

// Claim removes and returns the entry for callSID. The second return is
// false when no live entry exists (never placed, already claimed, or
// expired).
func (p *PendingCalls) Claim(callSID string) (PendingCall, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	entry, ok := p.entries[callSID]
	if !ok {
		return PendingCall{}, false
	}
	delete(p.entries, callSID)
	if p.now().After(entry.expires) {
		return PendingCall{}, false
	}
	return entry.call, true
}

// Len reports the number of live entries.
func (p *PendingCalls) Len() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.purgeLocked()
	return len(p.entries)
}

func (p *PendingCalls) purgeLocked() {
	now := p.now()
	for sid, entry := range p.entries {
		if now.After(entry.expires) {
			delete(p.entries, sid)
		}
	}
}
