// Package layout centralizes the on-disk directory scheme under the golden
// repository root: masters, versioned snapshots, alias records, lock files
// and write-mode markers.
package layout
