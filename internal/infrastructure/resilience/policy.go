package resilience

import "time"

// RetryPolicy is exponential backoff between attempts of one call.
type RetryPolicy struct {
	Attempts   int
	Initial    time.Duration
	Max        time.Duration
	Multiplier float64
}

// next grows the wait by the multiplier, capped at Max.
func (p RetryPolicy) next(current time.Duration) time.Duration {
	return min(time.Duration(float64(current)*p.Multiplier), p.Max)
}

// BreakerPolicy trips a breaker once FailureRatio of at least MinRequests
// calls failed, and probes with HalfOpenCalls after OpenTimeout.
type BreakerPolicy struct {
	Enabled       bool
	MinRequests   uint32
	FailureRatio  float64
	OpenTimeout   time.Duration
	HalfOpenCalls uint32
}

type Config struct {
	Retry   RetryPolicy
	Breaker BreakerPolicy
}

// DefaultConfig suits fast dependencies: the message bus, the model server
// and the extraction service.
func DefaultConfig() Config {
	return Config{
		Retry: RetryPolicy{Attempts: 3, Initial: 100 * time.Millisecond, Max: 400 * time.Millisecond, Multiplier: 2},
		Breaker: BreakerPolicy{
			Enabled:       true,
			MinRequests:   10,
			FailureRatio:  0.5,
			OpenTimeout:   30 * time.Second,
			HalfOpenCalls: 2,
		},
	}
}

// OracleConfig suits LLM calls. A task issues one call per record field, so
// the breaker needs fewer samples and stays open longer once a model
// server is down.
func OracleConfig() Config {
	cfg := DefaultConfig()
	cfg.Retry.Initial = 500 * time.Millisecond
	cfg.Retry.Max = 5 * time.Second
	cfg.Breaker.MinRequests = 5
	cfg.Breaker.OpenTimeout = time.Minute
	return cfg
}

// WithoutBreaker keeps the retry policy and disables the circuit breaker.
func (c Config) WithoutBreaker() Config {
	c.Breaker.Enabled = false
	return c
}

func (c Config) normalize() Config {
	def := DefaultConfig()
	r, b := c.Retry, c.Breaker

	if r.Attempts <= 0 {
		r.Attempts = def.Retry.Attempts
	}
	if r.Initial <= 0 {
		r.Initial = def.Retry.Initial
	}
	if r.Max <= 0 {
		r.Max = def.Retry.Max
	}
	r.Max = max(r.Max, r.Initial)
	if r.Multiplier < 1 {
		r.Multiplier = def.Retry.Multiplier
	}

	if b.MinRequests == 0 {
		b.MinRequests = def.Breaker.MinRequests
	}
	if b.FailureRatio <= 0 || b.FailureRatio > 1 {
		b.FailureRatio = def.Breaker.FailureRatio
	}
	if b.OpenTimeout <= 0 {
		b.OpenTimeout = def.Breaker.OpenTimeout
	}
	if b.HalfOpenCalls == 0 {
		b.HalfOpenCalls = def.Breaker.HalfOpenCalls
	}
	return Config{Retry: r, Breaker: b}
}
