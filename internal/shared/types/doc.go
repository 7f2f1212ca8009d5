// Package types holds the domain model shared across the engine: site
// entries, tab sessions, window state, and navigation decisions.
//
// The package has no behavior beyond small accessors so that every other
// package can depend on it without cycles.
package types
