// Package notify delivers due medication reminders to users.
//
// Delivery is asynchronous: reminders go through a bounded queue into a small
// worker pool that rate-limits sends, retries transient failures with jittered
// exponential backoff, and suppresses duplicates of the same (medicine, slot,
// chat) within a configurable window. Users without a linked chat get their
// reminder written to the log instead of silently losing it.
package notify
