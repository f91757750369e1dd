// Package governance holds the runtime safety controls wrapped around capability
// calls and run admission: retries with backoff, a circuit breaker and a token
// bucket rate limiter.
package governance
