// Package database wraps the embedded SQLite store used for the durable
// event log. It handles connection setup with WAL mode, embedded schema
// migrations and health checks. Domain repositories build on the DB wrapper
// rather than on database/sql directly.
package database
