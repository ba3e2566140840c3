package session

import (
	"testing"
	"time"
)

func TestPendingCallsClaimOnce(t *testing.T) {
	p := NewPendingCalls(time.Minute)
	p.Put("CA1", PendingCall{To: "+15551234567", From: "+15557654321"})

	call, ok := p.Claim("CA1")
	if !ok {
		t.Fatal("first claim failed")
	}
	if call.To != "+15551234567" {
		t.Errorf("To = %q", call.To)
	}

	if _, ok := p.Claim("CA1"); ok {
		t.Error("second claim succeeded")
	}
	if p.Len() != 0 {
		t.Errorf("Len = %d after claim, want 0", p.Len())
	}
}

func TestPendingCallsUnknownSID(t *testing.T) {
	p := NewPendingCalls(time.Minute)
	if _, ok := p.Claim("CA-missing"); ok {
		t.Error("claim of unknown sid succeeded")
	}
}

func TestPendingCallsExpiry(t *testing.T) {
	p := NewPendingCalls(time.Minute)
	now := time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)
	p.now = func() time.Time { return now }

	p.Put("CA1", PendingCall{To: "+15550000001"})
	p.Put("CA2", PendingCall{To: "+15550000002"})

	now = now.Add(2 * time.Minute)

	if _, ok := p.Claim("CA1"); ok {
		t.Error("expired entry claimed")
	}
	if p.Len() != 0 {
		t.Errorf("Len = %d after expiry, want 0", p.Len())
	}
	if _, ok := p.Claim("CA2"); ok {
		t.Error("expired entry claimed")
	}
}

func TestPendingCallsReplace(t *testing.T) {
	p := NewPendingCalls(time.Minute)
	p.Put("CA1", PendingCall{To: "+15550000001"})
	p.Put("CA1", PendingCall{To: "+15550000002"})

	call, ok := p.Claim("CA1")
	if !ok {
		t.Fatal("claim failed")
	}
	if call.To != "+15550000002" {
		t.Errorf("To = %q, want the replacing entry", call.To)
	}
}
