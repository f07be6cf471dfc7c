// Package events provides an in-memory broker for Quarry lifecycle events:
// refresh outcomes, snapshot publishes and retirements, lock activity and
// cleanup circuit trips. Delivery is asynchronous with per-subscriber
// buffers; a slow subscriber drops events rather than blocking publishers.
package events
