// Package postgres persists request statuses in PostgreSQL so polling
// survives process restarts. Connections come from a pgx pool; the schema is
// managed by goose migrations embedded in the binary.
package postgres
