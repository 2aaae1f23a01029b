// Package storage persists the three durable aggregates of the promo
// flow:
//
//   - recipients: per-recipient conversation state and display name
//   - quota: the singleton send ceiling and counter
//   - delivered: the set of recipients already granted the offer
//
// Admission (delivered check + ceiling check + insert + increment) is
// one serializable unit; see Store.TryAdmit.
package storage
