// Package audit records security-relevant actions in the audit_logs table.
//
// Writes go through a Recorder, which queues entries on a bounded channel
// and persists them from a single goroutine. Entries that do not fit in the
// queue are dropped with a warning; request handling never waits on SQLite.
package audit
