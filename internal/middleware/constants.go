package middleware

import "time"

// BucketGCInterval is how often the in-process rate-limit bucket map is
// swept (see ratelimit.InProcess.GC); cmd/main.go's cron scheduler runs
// that sweep at this interval.
const BucketGCInterval = 5 * time.Minute
