// Package stores keeps the apply history of a router in SQLite: one row per
// cycle with its full report, one row per executed operation, and the
// snapshot each successful cycle made active. The schema is created by
// embedded migrations.
package stores
