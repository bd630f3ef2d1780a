package backoff

import "time"

// Policy computes exponential backoff delays: Base * 2^attempt, capped at
// Max. The same policy drives both message retries and broker reconnects,
// with different settings.
type Policy struct {
	Base time.Duration
	Max  time.Duration
}

// Delay returns the delay before re-attempting after `attempt` prior
// failures. Delay(0) == Base. The result is non-decreasing in attempt and
// never exceeds Max.
func (p Policy) Delay(attempt int) time.Duration {
	if attempt < 0 {
		attempt = 0
	}
	d := p.Base
	for i := 0; i < attempt; i++ {
		d *= 2
		if d >= p.Max {
			return p.Max
		}
	}
	if d > p.Max {
		return p.Max
	}
	return d
}
