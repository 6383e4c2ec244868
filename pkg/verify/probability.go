package verify

import "math"

// dudEquivalent implements spec §4.4's `d(s, f)` hypergeometric complement:
// the pack-equivalent weight a NOSHOW test contributes, given s open slots
// and f = max(friend_count, 6) friends.
func dudEquivalent(openSlots, friendCount int) float64 {
	s := openSlots
	f := friendCount
	if f < 6 {
		f = 6
	}

	if s < 0 || f < 0 || s >= f || f-(4-s)-1 < s {
		return 1.0
	}

	d := 1 - comb(f-(4-s)-1, s)/comb(f-(4-s), s)
	return clamp01(d)
}

// comb computes C(n, k) for small non-negative n, k without factorial
// overflow — every call site here has n bounded by a friend count, so the
// iterative product form is exact in float64.
func comb(n, k int) float64 {
	if k < 0 || n < 0 || k > n {
		return 0
	}
	if k == 0 || k == n {
		return 1
	}
	if k > n-k {
		k = n - k
	}
	result := 1.0
	for i := 0; i < k; i++ {
		result = result * float64(n-i) / float64(i+1)
	}
	return result
}

func clamp01(x float64) float64 {
	if x < 0 {
		return 0
	}
	if x > 1 {
		return 1
	}
	return x
}

// confidence is spec §4.4's 0-95 scale: w = m + 0.7n weighted test count,
// confidence = min(95, 100*(1 - e^(-w/3))).
func confidence(missTests, noshowTests int) float64 {
	w := float64(missTests) + 0.7*float64(noshowTests)
	c := 100 * (1 - math.Exp(-w/3))
	if c > 95 {
		return 95
	}
	if c < 0 {
		return 0
	}
	return c
}

// recommend maps (probability-alive percent, confidence) to spec §4.4's
// recommendation label, evaluated in the order the spec lists the bands.
func recommend(probabilityAlive, conf float64) string {
	switch {
	case conf < 30:
		return "more tests needed"
	case probabilityAlive > 80 && conf > 50:
		return "likely ALIVE"
	case probabilityAlive > 60 && conf > 40:
		return "possibly ALIVE"
	case probabilityAlive > 30 && conf > 50:
		return "uncertain"
	case probabilityAlive < 30 && conf > 60:
		return "likely DEAD"
	default:
		return "inconclusive"
	}
}
