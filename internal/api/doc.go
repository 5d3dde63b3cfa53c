// Package api exposes the pipeline service over HTTP: multipart submission,
// status polling and queue introspection. Errors are mapped to status codes
// and safe messages here so internal details never reach clients.
package api
