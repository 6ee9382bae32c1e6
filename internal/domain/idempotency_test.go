package domain

import (
	"fmt"
	"testing"
	"time"
)

func TestIdempotencyRecord_Lifecycle(t *testing.T) {
	now := time.Date(2026, 5, 1, 10, 0, 0, 0, time.UTC)

	tests := []struct {
		status   IdempotencyStatus
		valid    bool
		finished bool
	}{
		{status: IdempotencyStatusProcessing, valid: true},
		{status: IdempotencyStatusDone, valid: true, finished: true},
		{status: IdempotencyStatusFailed, valid: true, finished: true},
		{status: "cancelled"},
	}
	for _, tc := range tests {
		t.Run(string(tc.status), func(t *testing.T) {
			rec := IdempotencyRecord{Status: tc.status, TTLAt: now}
			if got := tc.status.Valid(); got != tc.valid {
				t.Fatalf("Valid()=%v, want %v", got, tc.valid)
			}
			if got := rec.Finished(); got != tc.finished {
				t.Fatalf("Finished()=%v, want %v", got, tc.finished)
			}
		})
	}

	rec := IdempotencyRecord{TTLAt: now}
	if rec.ExpiredAt(now.Add(-time.Second)) {
		t.Fatal("record must be alive before its ttl")
	}
	if !rec.ExpiredAt(now) {
		t.Fatal("record must expire exactly at its ttl")
	}
}

func TestScopedIdempotencyKey(t *testing.T) {
	a := ScopedIdempotencyKey("buyer-1", " checkout-42 ")
	b := ScopedIdempotencyKey("buyer-2", "checkout-42")
	if a != "buyer-1:checkout-42" {
		t.Fatalf("unexpected key %q", a)
	}
	if a == b {
		t.Fatal("keys of different buyers must not collide")
	}
}

func TestIsIdempotencyConflict(t *testing.T) {
	for err, want := range map[error]bool{
		ErrIdempotencyKeyAlreadyExists:                      true,
		fmt.Errorf("redis: %w", ErrIdempotencyHashMismatch): true,
		ErrIdempotencyKeyNotFound:                           false,
	} {
		if got := IsIdempotencyConflict(err); got != want {
			t.Fatalf("IsIdempotencyConflict(%v)=%v, want %v", err, got, want)
		}
	}
}
