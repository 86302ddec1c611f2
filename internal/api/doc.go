// Package api implements the HTTP REST API and WebSocket server for EquipWatch Core.
//
// This package provides:
//   - Login, logout and session introspection over opaque bearer tokens
//   - User administration (create, update, deactivate, reactivate)
//   - Audit trail queries and a live audit feed over WebSocket
//   - Middleware stack (request ID, metrics, logging, recovery, CORS, rate limiting)
//   - TLS support for production deployments
//
// # Security
//
// Every route except health, metrics and login requires an
// "Authorization: Bearer <token>" header. Each authenticated request slides
// the session's idle expiry. Permission checks run against the role captured
// when the session was issued.
//
// Login failures are deliberately uniform: unknown users, wrong passwords and
// inactive accounts all produce 401 "invalid credentials".
//
// WebSocket connections use single-use tickets so the bearer token never
// appears in a URL. Feed clients subscribe with an optional filter on
// action, outcome and actor.
package api
