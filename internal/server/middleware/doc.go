// Package middleware provides the HTTP middleware chain for the portal
// gateway: request logging, panic recovery, tracing, login throttling and the
// access gate that stands between every request and the portal handlers.
//
// The access gate classifies each request path into an access tier, enforces
// session freshness and account status, and applies a referer-based
// navigation-integrity heuristic before a request may reach business logic.
package middleware
