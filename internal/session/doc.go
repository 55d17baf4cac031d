// Package session provides server-side session state for the portal gateway.
//
// A session is a small tagged record addressed by an opaque token carried in a
// cookie. The package supports:
//
//   - In-memory storage with background expiry cleanup
//   - Redis-based distributed storage with TTL
//   - Cookie transport with lazy token issuance
//   - Flash notices queued in session state and drained by page handlers
//
// The access gate is the only writer of LastActivity and CurrentPage; login
// and verification handlers write UserID, Role and PendingUserID.
//
// # Thread Safety
//
// All store implementations are safe for concurrent use. Concurrent requests
// for the same session id are resolved last-writer-wins; LastActivity and
// CurrentPage are best-effort bookkeeping fields, not locks.
package session
