// Package ratelimit provides per-client rate limiting with background
// eviction of idle entries.
//
// It is an in-memory, single-instance limiter that sits in front of the
// request guard. It does not protect against distributed floods or
// bandwidth abuse; those belong to an upstream load balancer or WAF.
package ratelimit
