package util

import "time"

// NowMillis returns the current Unix time in milliseconds.
// All engine timestamps (orders, events) use this resolution.
func NowMillis() int64 { return time.Now().UnixMilli() }
