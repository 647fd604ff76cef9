// Package api exposes the conversational service over HTTP.
//
// Routing uses the standard library mux with method patterns. The
// middleware stack, outermost first: recovery, request ID, logging,
// CORS, per-IP rate limiting, bearer auth. Bearer tokens are HMAC-signed
// and bind a caller to exactly one (user, session) pair; handlers never
// accept a session ID from the request body.
//
// Health probes (/health, /ready) bypass the middleware stack.
package api
