package strategy

import (
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestMidTrackerWindowEviction(t *testing.T) {
	mt := NewMidTracker(3)
	base := time.Now()
	for i, p := range []float64{100, 101, 102, 103} {
		mt.Track(p, base.Add(time.Duration(i)*time.Second))
	}
	assert.Equal(t, 3, mt.Len())
	assert.InDelta(t, 102.0, mt.Mean(), 1e-9) // 101,102,103
}

func TestMidTrackerIgnoresNonPositive(t *testing.T) {
	mt := NewMidTracker(10)
	mt.Track(0, time.Now())
	mt.Track(-5, time.Now())
	assert.Equal(t, 0, mt.Len())
}

func TestMidTrackerSigma2(t *testing.T) {
	mt := NewMidTracker(10)
	base := time.Now()

	// Constant mids: every log return is zero, so variance is zero.
	for i := 0; i < 5; i++ {
		mt.Track(100, base.Add(time.Duration(i)*time.Second))
	}
	assert.Zero(t, mt.Sigma2())

	// Alternating returns +r, -r around the mean 0 give variance r^2.
	mt = NewMidTracker(10)
	for i, p := range []float64{100, 110, 100, 110, 100} {
		mt.Track(p, base.Add(time.Duration(i)*time.Second))
	}
	r := math.Log(1.1)
	got := mt.Sigma2()
	// Returns are +r,-r,+r,-r with mean 0 (sums cancel exactly in the
	// alternating pattern up to float error).
	assert.InDelta(t, r*r, got, 1e-9)
}

func TestMidTrackerSigma2NeedsTwoPoints(t *testing.T) {
	mt := NewMidTracker(10)
	mt.Track(100, time.Now())
	assert.Zero(t, mt.Sigma2())
}

func TestMidTrackerVelocity(t *testing.T) {
	mt := NewMidTracker(10)
	base := time.Now()
	mt.Track(100, base)
	mt.Track(101, base.Add(2*time.Second))
	mt.Track(104, base.Add(4*time.Second))
	assert.InDelta(t, 1.0, mt.Velocity(), 1e-9) // (104-100)/4s

	mt = NewMidTracker(10)
	mt.Track(100, base)
	assert.Zero(t, mt.Velocity())
}
