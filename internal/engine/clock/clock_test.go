package clock

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCaptureIsMonotonic(t *testing.T) {
	c := NewCapture()
	assert.True(t, c.Now().IsZero())

	base := time.Unix(1700000000, 0)
	c.Observe(base.Add(2 * time.Second))
	c.Observe(base)
	assert.Equal(t, base.Add(2*time.Second), c.Now())
}

func TestCaptureAtEpoch(t *testing.T) {
	c := NewCapture()
	c.Observe(time.Unix(0, 0))
	assert.False(t, c.Now().IsZero())
	assert.Equal(t, int64(0), c.Now().UnixNano())

	c.Observe(time.Unix(10, 0))
	assert.Equal(t, 10*time.Second, c.Now().Sub(time.Unix(0, 0)))
}

func TestCaptureConcurrentObserve(t *testing.T) {
	c := NewCapture()
	base := time.Unix(1700000000, 0)

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			for j := 0; j < 1000; j++ {
				c.Observe(base.Add(time.Duration(i*1000+j) * time.Microsecond))
			}
		}(i)
	}
	wg.Wait()
	assert.Equal(t, base.Add(7999*time.Microsecond), c.Now())
}

func TestParseMode(t *testing.T) {
	m, err := ParseMode("")
	require.NoError(t, err)
	assert.Equal(t, ModeWall, m)

	m, err = ParseMode("capture")
	require.NoError(t, err)
	assert.Equal(t, ModeCapture, m)

	_, err = ParseMode("sundial")
	assert.Error(t, err)
}

func TestFakeAdvance(t *testing.T) {
	start := time.Unix(100, 0)
	f := NewFake(start)
	f.Advance(3 * time.Second)
	assert.Equal(t, start.Add(3*time.Second), f.Now())
}
