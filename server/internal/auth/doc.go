// Package auth guards the two server listeners.
//
// APIKeyInterceptor protects the gRPC ingest service using a key carried in
// request metadata. RequireAPIKey protects the REST API the same way through
// an HTTP header, and additionally accepts "Authorization: Bearer <token>"
// for dashboard sessions when a SessionChecker is supplied.
//
// With mode other than "apikey", or an empty key, both pass every request.
package auth
