// Package config loads the YAML file configuration for `conductor run`:
// the contended lease, the record store backend, the admin server and
// tracing. Values left empty fall back to the package defaults of the
// component they configure.
package config
