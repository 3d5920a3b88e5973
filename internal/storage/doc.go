// Package storage persists user accounts and medicine definitions.
//
// Two drivers:
//   - sqlite (default): single database file, WAL mode, embedded schema
//   - file: JSON snapshot, handy for tests and tiny deployments
package storage
