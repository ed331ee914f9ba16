// Package services implements the reconciliation pipeline tasks: upstream
// polling, session folding, gap detection and backfill, stale-session
// closing, and consistency validation. This file centralizes common
// service-level error values so that they can be consistently returned by
// service methods and checked by callers.
package services

import "errors"

// ErrUnknownTask is returned when a manual trigger names a task the runner
// does not manage.
var ErrUnknownTask = errors.New("unknown task")
