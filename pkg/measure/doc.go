// Package measure provides measurement providers for the step runner: a
// random simulator, an HTTP instrument client, and a guard that adds retries
// and a circuit breaker around either of them.
package measure
