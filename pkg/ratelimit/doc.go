// Package ratelimit provides per-client token-bucket rate limiting middleware
// for the admin HTTP server, with automatic eviction of idle client buckets.
package ratelimit
