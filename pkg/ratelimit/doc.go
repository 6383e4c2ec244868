// Package ratelimit wraps golang.org/x/time/rate to retry the
// external-thread archive call of spec §4.5: three attempts, exponential
// backoff, honoring an upstream rate-limit hint when the call reports one.
package ratelimit
