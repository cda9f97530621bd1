// Package queue persists enhancement jobs and artifact metadata in SQLite
// and enforces the job lifecycle state graph on every status change.
package queue
