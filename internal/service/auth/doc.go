// Package auth verifies API clients. Clients present either an x-api-key
// whose bcrypt hash is configured, or an HMAC-signed bearer token.
package auth
