package realtime

import "time"

// Backoff returns the delay before reconnect attempt n (1-based):
// min(base*2^(n-1), limit), perturbed by ±jitter (a fraction, 0.1 = 10%).
// rnd must return values in [0, 1).
func Backoff(n int, base, limit time.Duration, jitter float64, rnd func() float64) time.Duration {
	if n < 1 {
		n = 1
	}
	d := limit
	if n <= 32 {
		if exp := base << (n - 1); exp > 0 && exp < limit {
			d = exp
		}
	}
	if jitter <= 0 || rnd == nil {
		return d
	}
	return d + time.Duration(float64(d)*jitter*(2*rnd()-1))
}
