// Package flow turns inbound events into conversation state changes
// and ordered outbound task batches.
//
// The state machine is a total function: every (state, event kind)
// pair not explicitly handled is a logged no-op. Nothing in here calls
// the messaging gateway; the dispatcher only touches the store and the
// queue, which keeps the webhook path fast and isolates delivery
// failures from conversation state.
package flow
