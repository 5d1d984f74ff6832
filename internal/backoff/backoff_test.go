package backoff

import (
	"math/rand"
	"testing"
	"time"
)

func TestComputeGrowsExponentially(t *testing.T) {
	rng := rand.New(rand.NewSource(1))
	p := Policy{BaseDelay: time.Second, MaxDelay: 30 * time.Second, MaxAttempts: 5}

	d0 := Compute(0, p, rng)
	d1 := Compute(1, p, rng)
	if d0 < time.Second || d0 >= 2*time.Second {
		t.Fatalf("attempt 0 delay out of range: %v", d0)
	}
	if d1 < 2*time.Second || d1 >= 3*time.Second {
		t.Fatalf("attempt 1 delay out of range: %v", d1)
	}
}

func TestComputeCapsAtMaxDelay(t *testing.T) {
	rng := rand.New(rand.NewSource(1))
	p := Policy{BaseDelay: time.Second, MaxDelay: 5 * time.Second, MaxAttempts: 20}

	d := Compute(10, p, rng)
	if d < 5*time.Second || d >= 6*time.Second {
		t.Fatalf("expected delay capped near maxDelay, got %v", d)
	}
}

func TestValidate(t *testing.T) {
	cases := []struct {
		name    string
		p       Policy
		wantErr bool
	}{
		{"valid", Policy{MaxAttempts: 3, BaseDelay: time.Second, MaxDelay: 10 * time.Second}, false},
		{"zero attempts", Policy{MaxAttempts: 0}, true},
		{"max below base", Policy{MaxAttempts: 1, BaseDelay: 2 * time.Second, MaxDelay: time.Second}, true},
		{"uncapped is fine", Policy{MaxAttempts: 1, BaseDelay: time.Second}, false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			err := tc.p.Validate()
			if tc.wantErr && err == nil {
				t.Fatal("expected error, got nil")
			}
			if !tc.wantErr && err != nil {
				t.Fatalf("expected no error, got %v", err)
			}
		})
	}
}
