package verification

import (
	"math"
	"time"
)

// progressCeiling is the highest value shown before the comparator answers.
const progressCeiling = 95

// Progress returns a cosmetic completion percentage for a comparison that has
// been running for elapsed. It approaches the ceiling asymptotically and is
// unrelated to the comparator's actual completion.
func Progress(elapsed, expected time.Duration) int {
	if elapsed <= 0 || expected <= 0 {
		return 0
	}
	p := progressCeiling * (1 - math.Exp(-float64(elapsed)/float64(expected)))
	return int(math.Min(math.Floor(p), progressCeiling))
}
