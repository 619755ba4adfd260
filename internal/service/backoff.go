package service

import "time"

// backoff is a capped exponential delay.
type backoff struct {
	min time.Duration
	max time.Duration
}

func (b backoff) delay(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	d := b.min
	for i := 1; i < attempt; i++ {
		d *= 2
		if d >= b.max {
			return b.max
		}
	}
	if d > b.max {
		return b.max
	}
	return d
}
