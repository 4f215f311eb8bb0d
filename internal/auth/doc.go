// Package auth verifies bearer tokens on the HTTP API and enforces scopes.
//
// Tokens are JWTs signed with HS256 (shared secret) or RS256 (PEM public
// key). They carry a subject and a list of scopes: read for status,
// telemetry for the event and trace streams, control for submitting
// commands. Without a verifier the API is open and every request runs as
// the anonymous controller.
package auth
