package services

import (
	"strconv"
	"time"
)

// FrameTTL bounds how long extracted frames and partial results stay cached.
const FrameTTL = time.Hour

func FrameKey(sessionID string, n int64) string {
	return "frame:" + sessionID + ":" + strconv.FormatInt(n, 10)
}

func frameResultKey(sessionID string, n int64) string {
	return FrameKey(sessionID, n) + ":result"
}

func pendingKey(sessionID string) string { return "analysis:" + sessionID }

func doneKey(sessionID string) string { return "analysis:" + sessionID + ":done" }
