// Package reminders is the scheduling core: it maps each reminder time of a
// medicine to a deterministic alarm id, resolves wall-clock times to their
// next concrete occurrence, and drives the alarm registrar so reminders fire
// today, roll over to tomorrow, and survive restarts via a full reschedule.
package reminders
