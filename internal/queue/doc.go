// Package queue decouples the webhook-side dispatcher from the
// delivery worker. A batch enqueued for one recipient is handed to the
// consumer in its original order; tasks from different recipients may
// interleave freely around it.
//
// Drivers:
//   - "redis": list-backed (RPUSH/BLPOP), batches pushed in one
//     variadic command so they stay contiguous and ordered
//   - "sqlite": outbox table with a queued/sending/sent lifecycle and
//     crash-recovery requeue of stale claims
//   - "memory": channel-backed, for tests and single-process runs
package queue
