// Package registrar implements the process-local alarm clock that reminder
// scheduling builds on. Each alarm is a one-shot timer keyed by an int64 id;
// re-registering an id replaces the previous alarm and cancelling an unknown
// id is a safe no-op, mirroring how platform alarm managers behave.
//
// When an alarm fires it is handed to a small worker pool that invokes the
// installed handler; outcomes are recorded in a bounded history ring and
// published on the event bus.
package registrar
