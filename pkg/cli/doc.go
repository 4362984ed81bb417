// Package cli implements the conductor command tree: run (contend for a
// lease under the full runtime), one-shot lease record operations, a lease
// watch reporter and version.
package cli
