// Package tracker provides reference counting for in-flight reads against
// versioned snapshot paths. One tracker instance is shared per process
// between the refresh scheduler, the search orchestrator and the cleanup
// manager, which deletes a snapshot only at zero refs.
package tracker
