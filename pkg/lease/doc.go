// Package lease provides the record model and store adapters for the
// leader-election subsystem. A store reads and writes a single named lease
// record through a versioned compare-and-set interface; the election logic in
// pkg/election makes every decision against the record a store call returned,
// never against a locally cached copy.
package lease
