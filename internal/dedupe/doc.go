// Package dedupe remembers the outcome of idempotent requests for a bounded
// time window so a retried request replays its first result instead of
// repeating the side effect.
package dedupe
