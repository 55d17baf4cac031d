// Package userstore provides account lookup and credential verification for
// the portal gateway.
//
// The access gate consumes only ByID, and only to confirm the account behind
// a session still exists and is active. Login handlers use Authenticate for
// credential verification with bcrypt hashes.
//
// NewBreakerStore wraps a Store with a circuit breaker so a failing backend
// degrades into the gate's documented fail-open path (the account-status
// check is skipped) instead of stalling every request.
package userstore
