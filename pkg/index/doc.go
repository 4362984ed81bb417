// Package index maintains watch-backed read caches. An Index wraps a shared
// informer: handlers receive apply and delete events in watch order, and
// reads are answered from the local cache without touching the API server.
package index
