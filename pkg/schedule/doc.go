// Package schedule decides when the janitor runs next.
//
// Every gives a fixed interval; Cron parses a cron expression, with an
// optional leading seconds field and descriptors such as "@every 30s".
package schedule
