// Package jobs runs externally triggered refreshes on a bounded worker pool.
// Every trigger becomes a persisted job with queued, running, completed or
// failed status, so operators can see why a refresh did not land: a genuine
// failure carries the error, while a benign skip (write lock held, nothing
// changed upstream) completes with an explanatory message.
package jobs
