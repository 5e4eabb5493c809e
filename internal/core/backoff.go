package core

import "time"

// BreakerDelay returns how long the global breaker stays open after the k-th
// consecutive refusal: base * 2^min(k-1, cap). Monotonic in k, reset by one
// successful handshake.
func BreakerDelay(base time.Duration, fails, cap int) time.Duration {
	if fails <= 0 {
		return 0
	}
	exp := fails - 1
	if exp > cap {
		exp = cap
	}
	return base * time.Duration(1<<uint(exp))
}

// LinearBackoff returns the pause before local repair attempt n (1-based).
func LinearBackoff(base time.Duration, attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	return base * time.Duration(attempt)
}
