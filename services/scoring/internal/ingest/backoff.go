package ingest

import "time"

// backoffDelay doubles base for every delivery after the first and stops at
// limit. Delivery counts start at 1; 0 is treated as 1.
func backoffDelay(numDelivered uint64, base, limit time.Duration) time.Duration {
	if numDelivered < 1 {
		numDelivered = 1
	}
	d := base
	for i := uint64(1); i < numDelivered; i++ {
		d *= 2
		if d >= limit {
			return limit
		}
	}
	return min(d, limit)
}
