package chat

import (
	"math"
	"testing"
	"time"

	"golang.org/x/time/rate"
)

func TestRefillRate(t *testing.T) {
	tests := []struct {
		name     string
		burst    int
		interval time.Duration
		want     rate.Limit
	}{
		{name: "five per second", burst: 5, interval: time.Second, want: 5},
		{name: "one per two seconds", burst: 1, interval: 2 * time.Second, want: 0.5},
		{name: "interval shorter than burst", burst: 10, interval: 5 * time.Nanosecond, want: 2e9},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := refillRate(tt.burst, tt.interval)
			if got == rate.Inf {
				t.Fatalf("refillRate(%d, %s) = Inf", tt.burst, tt.interval)
			}
			if math.Abs(float64(got-tt.want)) > 1e-9*float64(tt.want) {
				t.Errorf("refillRate(%d, %s) = %v, want %v", tt.burst, tt.interval, got, tt.want)
			}
		})
	}
}

func TestRefillRate_ShortIntervalStillLimits(t *testing.T) {
	limiter := rate.NewLimiter(refillRate(3, time.Nanosecond), 3)
	now := time.Now()
	for i := 0; i < 3; i++ {
		if !limiter.AllowN(now, 1) {
			t.Fatalf("frame %d rejected within burst", i)
		}
	}
	if limiter.AllowN(now, 1) {
		t.Error("frame past burst allowed with no time elapsed")
	}
}
