// Package sim simulates taker executions against the local book replica.
package sim

import "math/rand"

// SlippageModel draws a per-level execution price perturbation. Fills execute
// at level_price * (1 + draw).
type SlippageModel interface {
	Draw() float64
}

// UniformSlippage draws uniformly from [min, max]. The generator is seeded so
// replays and tests are deterministic; never use an ambient random source.
type UniformSlippage struct {
	min, max float64
	rng      *rand.Rand
}

// NewUniformSlippage creates a seeded uniform slippage model.
func NewUniformSlippage(min, max float64, seed int64) *UniformSlippage {
	return &UniformSlippage{
		min: min,
		max: max,
		rng: rand.New(rand.NewSource(seed)),
	}
}

// Draw returns the next slippage fraction.
func (u *UniformSlippage) Draw() float64 {
	if u.max <= u.min {
		return u.min
	}
	return u.min + u.rng.Float64()*(u.max-u.min)
}

// NoSlippage executes every fill exactly at the quoted level price.
type NoSlippage struct{}

// Draw always returns 0.
func (NoSlippage) Draw() float64 { return 0 }
