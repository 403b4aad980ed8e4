// Package redis persists agent conversation threads in Redis so that several
// service replicas, or a restarted process, continue the same dialogue. Each
// thread is a list of JSON encoded messages under a configurable key prefix,
// trimmed to the configured memory depth and refreshed with an optional TTL.
package redis
