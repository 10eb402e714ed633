package state

import "time"

// Key layout shared with every collaborator that reads the store.
const (
	QueueKey          = "queue:frames"
	MetricsCurrentKey = "metrics:current"

	sessionKeyPrefix        = "session:"
	uploadKeyPrefix         = "upload:"
	metricsHistoryKeyPrefix = "metrics:history:"

	// HistoryDateLayout names the per-day history bucket (UTC).
	HistoryDateLayout = "2006-01-02"
)

const (
	SessionTTL        = 24 * time.Hour
	UploadTTL         = time.Hour
	MetricsCurrentTTL = time.Hour
	MetricsHistoryTTL = 24 * time.Hour

	// MetricsHistoryCap keeps one day of minute samples plus one guard entry.
	MetricsHistoryCap = 24*60 + 1
)

func SessionKey(sessionID string) string { return sessionKeyPrefix + sessionID }

func UploadKey(sessionID string) string { return uploadKeyPrefix + sessionID }

func MetricsHistoryKey(date string) string { return metricsHistoryKeyPrefix + date }
