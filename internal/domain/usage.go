package domain

import "time"

// UsageLog aggregates what one finished batch cost and saved.
type UsageLog struct {
	UserID          string
	JobID           string
	FilesProcessed  int64
	PixelsProcessed int64
	BytesSaved      int64
	ComputeTimeMS   int64
	CreatedAt       time.Time
}
