// Package auth provides authentication and authorisation for EcoZone.
//
// It implements four user types (citizen, employee, office, environmental)
// with:
//   - bcrypt password hashing (cost 12 by default)
//   - JWT access and refresh tokens signed with separate secrets
//   - Persisted sessions, at most five active per user, oldest evicted first
//   - An account guard that locks an account after repeated failed logins
//     and unlocks it lazily once the lock window has passed
//   - Role and zone guards over a Principal reloaded on every request
//
// Each user type carries its own Profile variant. Employees are bound to
// one zone and office staff to a set of managed zones; the zone guard uses
// those to scope zone-level resources.
//
// Storage is pluggable: UserRepository and SessionRepository have SQLite
// and in-memory implementations with the same atomicity guarantees.
package auth
