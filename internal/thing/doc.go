// Package thing bridges a device's GATT characteristics to broker topics.
//
// A Thing owns two interception queues. The publish queue, keyed by
// characteristic UUID, decides what happens to values coming from the
// device; the subscribe queue, keyed by topic, decides what happens to
// messages coming from the broker. Each entry carries a Transform that may
// rewrite a value or suppress it by returning nil.
//
//	device ──ValueUpdated──▶ publish queue ──Transform──▶ broker.Publish
//	device ◀──WriteValue─── subscribe queue ◀─Transform── broker message
//
// A Thing can be physical (backed by a connected peripheral and a broker
// connector), virtual (broker only) or unbacked (neither, before
// registration). Operations needing a missing backing return
// ErrIllegalState.
package thing
