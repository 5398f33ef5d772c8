package scheduler

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNextTimesAlignsToBoundary(t *testing.T) {
	s := NewAlignedScheduler(context.Background(), 5*time.Minute, 10*time.Second)

	now := time.Date(2024, 3, 1, 12, 3, 20, 0, time.UTC)
	nextClose, wakeAt, untilClose, wait := s.nextTimes(now)

	assert.Equal(t, time.Date(2024, 3, 1, 12, 5, 0, 0, time.UTC), nextClose)
	assert.Equal(t, time.Date(2024, 3, 1, 12, 5, 10, 0, time.UTC), wakeAt)
	assert.Equal(t, 100*time.Second, untilClose)
	assert.Equal(t, 110*time.Second, wait)
}

func TestNextTimesOnExactBoundary(t *testing.T) {
	s := NewAlignedScheduler(context.Background(), time.Hour, 0)

	now := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	nextClose, _, untilClose, _ := s.nextTimes(now)

	// 正好在边界上时，下一次执行对齐到下一个收盘
	assert.Equal(t, time.Date(2024, 3, 1, 13, 0, 0, 0, time.UTC), nextClose)
	assert.Equal(t, time.Hour, untilClose)
}

func TestStartStopsOnContextCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	s := NewAlignedScheduler(ctx, time.Hour, 0)

	done := make(chan struct{})
	go func() {
		s.Start(func() { t.Error("task should not run before boundary") })
		close(done)
	}()

	cancel()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("scheduler did not exit after cancel")
	}
}

func TestStartRunImmediately(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	s := NewAlignedScheduler(ctx, time.Hour, 0)
	s.RunImmediately = true

	ran := make(chan struct{}, 1)
	go s.Start(func() {
		select {
		case ran <- struct{}{}:
		default:
		}
		cancel()
	})

	select {
	case <-ran:
	case <-time.After(2 * time.Second):
		t.Fatal("immediate run did not happen")
	}
}

func TestParseIntervalDuration(t *testing.T) {
	cases := []struct {
		in   string
		want time.Duration
		ok   bool
	}{
		{"5m", 5 * time.Minute, true},
		{"15m", 15 * time.Minute, true},
		{"1h", time.Hour, true},
		{"4h", 4 * time.Hour, true},
		{"1d", 24 * time.Hour, true},
		{"1w", 7 * 24 * time.Hour, true},
		{"1H", time.Hour, true},
		{"", 0, false},
		{"m", 0, false},
		{"0m", 0, false},
		{"-5m", 0, false},
		{"5x", 0, false},
	}
	for _, tc := range cases {
		got, ok := ParseIntervalDuration(tc.in)
		require.Equal(t, tc.ok, ok, "input %q", tc.in)
		assert.Equal(t, tc.want, got, "input %q", tc.in)
	}
}
