package polling

import (
	"testing"
	"time"
)

func TestCronSpecForPeriodUsesEveryShorthand(t *testing.T) {
	got := cronSpecForPeriod(2 * time.Minute)
	want := "@every 2m0s"
	if got != want {
		t.Fatalf("expected %q, got %q", want, got)
	}
}

func TestCronSpecForPeriodDefaultsWhenNonPositive(t *testing.T) {
	got := cronSpecForPeriod(0)
	if got != "@every 1m0s" {
		t.Fatalf("expected a 1-minute default, got %q", got)
	}
}
