// Package worker drains the task queue and calls the messaging
// gateway. One task is processed fully before the next is taken; that
// single-consumer loop is what turns the queue's per-recipient batch
// order into actual delivery order. Run exactly one worker instance
// per queue.
package worker
