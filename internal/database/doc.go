// Package database provides the PostgreSQL connection pool used by the
// status recorder.
package database
