// Package auth provides authentication and authorisation for EquipWatch Core.
//
// It implements a 4-role model (viewer, technician, supervisor, admin) with:
//   - PBKDF2-HMAC-SHA-256 password hashing with a per-user random salt
//   - Opaque, server-side session tokens with sliding idle expiry and an
//     absolute lifetime cap
//   - Static role-permission mapping (compile-time, no database lookup)
//   - An audit trail of every security-relevant outcome
//
// The components are layered leaf-first:
//
//	Hasher, Clock            no dependencies
//	CredentialStore          UserRepository + Hasher + SessionManager
//	SessionManager           SessionStore + Clock
//	AccessController         SessionManager + role table
//
// A session captures the user's role when it is issued. Changing a user's
// role takes effect on their next login, never on sessions already issued.
//
// Every error returned to callers is one of the sentinel errors in types.go
// (possibly wrapped). Callers at a trust boundary must collapse
// ErrInactiveUser into ErrInvalidCredentials before replying so that
// account state cannot be probed; the internal reason is kept in the audit log.
package auth
