// Package task defines the immutable units of outbound work produced by
// the flow dispatcher and consumed by the delivery worker.
//
// Tasks travel through the queue as JSON; the wire names (send_text,
// send_image, ...) are part of the queue format and must stay stable.
package task
