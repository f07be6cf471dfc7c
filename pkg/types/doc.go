// Package types defines the shared domain types for Quarry: registered
// repositories, alias records, write-lock metadata, write-mode markers and
// refresh jobs. All on-disk JSON formats live here so the file layouts are
// specified in one place.
package types
