// Package ratelimit implements best-effort fixed-window request counters
// keyed by client IP.
//
// Two backends share the Limiter interface: MemoryLimiter for a single
// instance and RedisLimiter when several instances must share a budget.
// Counting is approximate under contention; the account lockout policy in
// package auth is the authoritative brute-force defence.
package ratelimit
