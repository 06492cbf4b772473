// Package api implements the HTTP REST API for the EcoZone auth core.
//
// This package provides:
//   - Account endpoints under /auth (register, login, refresh, logout, profile)
//   - Zone endpoints guarded by user type and zone membership
//   - Office-only audit log and account administration endpoints
//   - Middleware stack (request ID, logging, recovery, metrics, CORS, rate limiting)
//
// # Authentication
//
// Access tokens are read from the Authorization header first, then the
// token query parameter, then the accessToken cookie. Every request is
// checked against the session store, so a logged-out token stops working
// immediately.
//
// # Errors
//
// Every error body has the shape {"success": false, "code": ..., "message": ...}.
// Locked accounts answer 423 with remainingMinutes; throttled clients answer
// 429 with a Retry-After header.
package api
