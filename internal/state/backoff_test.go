package state

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestBackoff(t *testing.T) {
	cases := []struct {
		attempt int
		want    time.Duration
	}{
		{-1, 0},
		{0, 0},
		{1, 50 * time.Millisecond},
		{2, 100 * time.Millisecond},
		{19, 950 * time.Millisecond},
		{20, time.Second},
		{21, time.Second},
		{1 << 30, time.Second},
	}
	for _, tc := range cases {
		assert.Equal(t, tc.want, Backoff(tc.attempt), "attempt %d", tc.attempt)
	}
}

func TestBackoffMonotonic(t *testing.T) {
	prev := time.Duration(0)
	for i := 1; i < 100; i++ {
		d := Backoff(i)
		assert.GreaterOrEqual(t, d, prev)
		assert.LessOrEqual(t, d, time.Second)
		prev = d
	}
}
