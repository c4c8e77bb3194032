package lockout

import (
	"testing"
	"time"
)

var testPolicy = Policy{Threshold: 5, BackoffBase: time.Minute, BackoffCap: time.Hour}

func TestBackoffDoublesUntilCap(t *testing.T) {
	cases := []struct {
		k    int
		want time.Duration
	}{
		{0, time.Minute},
		{1, time.Minute},
		{2, 2 * time.Minute},
		{3, 4 * time.Minute},
		{6, 32 * time.Minute},
		{7, time.Hour},
		{64, time.Hour},
		{1 << 20, time.Hour},
	}
	for _, tc := range cases {
		if got := testPolicy.Backoff(tc.k); got != tc.want {
			t.Fatalf("Backoff(%d) = %v, want %v", tc.k, got, tc.want)
		}
	}
}

func TestOnFailureLocksAtThreshold(t *testing.T) {
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

	for n := 1; n < testPolicy.Threshold; n++ {
		if tr := testPolicy.OnFailure(n, 0, now); tr.Lock {
			t.Fatalf("failure %d must not lock", n)
		}
	}

	tr := testPolicy.OnFailure(testPolicy.Threshold, 0, now)
	if !tr.Lock {
		t.Fatalf("failure %d must lock", testPolicy.Threshold)
	}
	if tr.LockCount != 1 || !tr.Until.Equal(now.Add(time.Minute)) {
		t.Fatalf("unexpected transition %+v", tr)
	}

	tr = testPolicy.OnFailure(testPolicy.Threshold, 2, now)
	if !tr.Until.Equal(now.Add(4 * time.Minute)) {
		t.Fatalf("third lock should back off 4m, got until %v", tr.Until)
	}
}

func TestDisabledPolicyNeverLocks(t *testing.T) {
	p := Policy{}
	if tr := p.OnFailure(1000, 0, time.Now()); tr.Lock {
		t.Fatalf("disabled policy must not lock")
	}
}

func TestStateOfTreatsExpiredLockAsUnlocked(t *testing.T) {
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

	s := StateOf(true, 0, now.Add(time.Minute), now)
	if s.Kind != Locked {
		t.Fatalf("expected locked, got %v", s.Kind)
	}
	if got := s.RetryAfter(now); got != time.Minute {
		t.Fatalf("expected retry-after 1m, got %v", got)
	}

	s = StateOf(true, 0, now, now)
	if s.Kind != Unlocked {
		t.Fatalf("lock expiring exactly now should read unlocked")
	}
	if s.RetryAfter(now) != 0 {
		t.Fatalf("unlocked state has no retry-after")
	}

	s = StateOf(false, 3, time.Time{}, now)
	if s.Kind != Unlocked || s.FailedAttempts != 3 {
		t.Fatalf("unexpected state %+v", s)
	}
}
