// Package scoring holds the point formulas. Everything here is pure.
package scoring

import "math"

const (
	DefaultLikesPerPointFollower    = 10
	DefaultLikesPerPointNonFollower = 15
)

// band maps an inclusive unit value ceiling to its multiplier.
type band struct {
	maxUnit    int64
	multiplier int64
}

var giftBands = []band{
	{4, 5},
	{9, 6},
	{19, 7},
	{49, 8},
	{99, 10},
	{299, 15},
	{999, 20},
}

const topMultiplier = 30

// Calculator converts raw engagement into points.
type Calculator struct {
	likesPerPointFollower    float64
	likesPerPointNonFollower float64
}

// New returns a calculator with the given like divisors. Non-positive
// divisors fall back to the defaults.
func New(likesPerPointFollower, likesPerPointNonFollower int) Calculator {
	if likesPerPointFollower <= 0 {
		likesPerPointFollower = DefaultLikesPerPointFollower
	}
	if likesPerPointNonFollower <= 0 {
		likesPerPointNonFollower = DefaultLikesPerPointNonFollower
	}
	return Calculator{
		likesPerPointFollower:    float64(likesPerPointFollower),
		likesPerPointNonFollower: float64(likesPerPointNonFollower),
	}
}

// Default uses 10 likes per point for followers and 15 otherwise.
func Default() Calculator {
	return New(DefaultLikesPerPointFollower, DefaultLikesPerPointNonFollower)
}

// LikePoints is fractional; rounding happens only when the leaderboard is presented.
func (c Calculator) LikePoints(count int64, isFollower bool) float64 {
	if count <= 0 {
		return 0
	}
	if isFollower {
		return float64(count) / c.likesPerPointFollower
	}
	return float64(count) / c.likesPerPointNonFollower
}

// GiftMultiplier returns the band multiplier for a gift's unit value.
// Non-positive values have no multiplier.
func GiftMultiplier(unitValue int64) int64 {
	if unitValue <= 0 {
		return 0
	}
	for _, b := range giftBands {
		if unitValue <= b.maxUnit {
			return b.multiplier
		}
	}
	return topMultiplier
}

// GiftFits reports whether unit × multiplier(unit) × quantity fits an
// int64. Non-positive inputs never fit.
func GiftFits(unitValue, quantity int64) bool {
	if unitValue <= 0 || quantity <= 0 {
		return false
	}
	mult := GiftMultiplier(unitValue)
	if unitValue > math.MaxInt64/mult {
		return false
	}
	return quantity <= math.MaxInt64/(unitValue*mult)
}

// GiftPoints = unit × multiplier(unit) × quantity. It is 0 when the
// product is non-positive or does not fit an int64.
func GiftPoints(unitValue, quantity int64) float64 {
	if !GiftFits(unitValue, quantity) {
		return 0
	}
	return float64(unitValue * GiftMultiplier(unitValue) * quantity)
}
