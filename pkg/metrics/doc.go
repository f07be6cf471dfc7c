// Package metrics defines Quarry's Prometheus collectors: refresh cycle
// outcomes and durations, snapshot publishes and retirements, cleanup
// failures and circuit trips, write-lock activity, query-tracker refs and
// search fan-out statistics. All collectors are registered at init and
// exported for scraping via Handler.
package metrics
