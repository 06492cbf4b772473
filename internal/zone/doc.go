// Package zone is the registry of administrative zones that employee and
// office profiles refer to.
//
// Zone names are compared exactly (case-sensitive) by the authorization
// zone guard, so the registry is the single place that decides which names
// exist. Zones are seeded from configuration at start-up via Ensure.
package zone
