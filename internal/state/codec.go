package state

import (
	"fmt"
	"strconv"
	"time"

	json "github.com/goccy/go-json"

	"github.com/yoockh/deepfake-detector/internal/models"
)

// Hash field names, shared with the collaborators that read the store.
const (
	fieldSessionID            = "sessionId"
	fieldStatus               = "status"
	fieldCurrentFrame         = "currentFrame"
	fieldTotalFrames          = "totalFrames"
	fieldProcessingSpeed      = "processingSpeed"
	fieldWebsocketConnections = "websocketConnections"
	fieldStartTime            = "startTime"
	fieldLastUpdate           = "lastUpdate"
	fieldProgress             = "progress"
	fieldEstimatedCompletion  = "estimatedCompletion"

	fieldFrameNumber             = "frameNumber"
	fieldRetryCount              = "retryCount"
	fieldEstimatedProcessingTime = "estimatedProcessingTime"

	fieldTimestamp         = "timestamp"
	fieldQueueLength       = "queueLength"
	fieldActiveConnections = "activeConnections"
	fieldMemoryUsage       = "memoryUsage"
	fieldCPUUsage          = "cpuUsage"
	fieldErrorRate         = "errorRate"
	fieldThroughput        = "throughput"
	fieldLatency           = "latency"

	fieldIsUploading   = "isUploading"
	fieldError         = "error"
	fieldBytesUploaded = "bytesUploaded"
	fieldTotalBytes    = "totalBytes"
	fieldUploadSpeed   = "uploadSpeed"
)

// decodeError describes why a stored field could not be decoded.
type decodeError struct {
	Field string
	Value string
	Err   error
}

func (e *decodeError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("field %q (%q): %v", e.Field, e.Value, e.Err)
	}
	return fmt.Sprintf("field %q missing", e.Field)
}

func (e *decodeError) Unwrap() error { return e.Err }

func formatInt(v int64) string     { return strconv.FormatInt(v, 10) }
func formatFloat(v float64) string { return strconv.FormatFloat(v, 'g', -1, 64) }
func formatTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339Nano)
}

// hashReader decodes typed values out of an HGETALL result and remembers the
// first failure.
type hashReader struct {
	data map[string]string
	err  error
}

func (r *hashReader) raw(field string, required bool) (string, bool) {
	v, ok := r.data[field]
	if !ok && required && r.err == nil {
		r.err = &decodeError{Field: field}
	}
	return v, ok
}

func (r *hashReader) fail(field, value string, err error) {
	if r.err == nil {
		r.err = &decodeError{Field: field, Value: value, Err: err}
	}
}

func (r *hashReader) str(field string) string {
	v, _ := r.raw(field, true)
	return v
}

func (r *hashReader) integer(field string, required bool) int64 {
	v, ok := r.raw(field, required)
	if !ok || (!required && v == "") {
		return 0
	}
	n, err := strconv.ParseInt(v, 10, 64)
	if err != nil {
		r.fail(field, v, err)
	}
	return n
}

func (r *hashReader) number(field string, required bool) float64 {
	v, ok := r.raw(field, required)
	if !ok || (!required && v == "") {
		return 0
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		r.fail(field, v, err)
	}
	return f
}

func (r *hashReader) boolean(field string) bool {
	v, ok := r.raw(field, true)
	if !ok {
		return false
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		r.fail(field, v, err)
	}
	return b
}

func (r *hashReader) timestamp(field string) time.Time {
	v, ok := r.raw(field, true)
	if !ok {
		return time.Time{}
	}
	t, err := time.Parse(time.RFC3339Nano, v)
	if err != nil {
		r.fail(field, v, err)
	}
	return t
}

// optionalTimestamp treats a missing or empty field as absent.
func (r *hashReader) optionalTimestamp(field string) *time.Time {
	v, ok := r.raw(field, false)
	if !ok || v == "" {
		return nil
	}
	t, err := time.Parse(time.RFC3339Nano, v)
	if err != nil {
		r.fail(field, v, err)
		return nil
	}
	return &t
}

func encodeConnections(ids []string) (string, error) {
	if ids == nil {
		ids = []string{}
	}
	b, err := json.Marshal(ids)
	return string(b), err
}

// decodeConnections accepts an absent field as an empty list.
func decodeConnections(raw string) ([]string, error) {
	if raw == "" {
		return []string{}, nil
	}
	var ids []string
	if err := json.Unmarshal([]byte(raw), &ids); err != nil {
		return nil, &decodeError{Field: fieldWebsocketConnections, Value: raw, Err: err}
	}
	if ids == nil {
		ids = []string{}
	}
	return ids, nil
}

func encodeSession(s *models.SessionState) (map[string]any, error) {
	conns, err := encodeConnections(s.WebsocketConnections)
	if err != nil {
		return nil, err
	}
	eta := ""
	if s.EstimatedCompletion != nil {
		eta = formatTime(*s.EstimatedCompletion)
	}
	return map[string]any{
		fieldSessionID:            s.SessionID,
		fieldStatus:               string(s.Status),
		fieldCurrentFrame:         formatInt(s.CurrentFrame),
		fieldTotalFrames:          formatInt(s.TotalFrames),
		fieldProcessingSpeed:      formatFloat(s.ProcessingSpeed),
		fieldWebsocketConnections: conns,
		fieldStartTime:            formatTime(s.StartTime),
		fieldLastUpdate:           formatTime(s.LastUpdate),
		fieldProgress:             formatFloat(s.Progress),
		fieldEstimatedCompletion:  eta,
	}, nil
}

func decodeSession(data map[string]string) (*models.SessionState, error) {
	r := &hashReader{data: data}
	s := &models.SessionState{
		SessionID:           r.str(fieldSessionID),
		Status:              models.SessionStatus(r.str(fieldStatus)),
		CurrentFrame:        r.integer(fieldCurrentFrame, true),
		TotalFrames:         r.integer(fieldTotalFrames, true),
		ProcessingSpeed:     r.number(fieldProcessingSpeed, true),
		StartTime:           r.timestamp(fieldStartTime),
		LastUpdate:          r.timestamp(fieldLastUpdate),
		Progress:            r.number(fieldProgress, true),
		EstimatedCompletion: r.optionalTimestamp(fieldEstimatedCompletion),
	}
	if r.err != nil {
		return nil, r.err
	}
	if !s.Status.Valid() {
		return nil, &decodeError{Field: fieldStatus, Value: string(s.Status), Err: fmt.Errorf("unknown status")}
	}
	conns, err := decodeConnections(data[fieldWebsocketConnections])
	if err != nil {
		return nil, err
	}
	s.WebsocketConnections = conns
	return s, nil
}

// queueItemWire keeps every field as a string, which is how queue members
// have always been laid out in the sorted set.
type queueItemWire struct {
	SessionID               string `json:"sessionId"`
	FrameNumber             string `json:"frameNumber"`
	Priority                string `json:"priority"`
	Timestamp               string `json:"timestamp"`
	RetryCount              string `json:"retryCount"`
	EstimatedProcessingTime string `json:"estimatedProcessingTime"`
}

func encodeQueueItem(q *models.QueueItem) (string, error) {
	b, err := json.Marshal(queueItemWire{
		SessionID:               q.SessionID,
		FrameNumber:             formatInt(q.FrameNumber),
		Priority:                formatFloat(q.Priority),
		Timestamp:               formatTime(q.Timestamp),
		RetryCount:              formatInt(q.RetryCount),
		EstimatedProcessingTime: formatInt(q.EstimatedProcessingTime),
	})
	return string(b), err
}

// decodeQueueItem takes the priority from the sorted-set score.
func decodeQueueItem(member string, score float64) (*models.QueueItem, error) {
	var w queueItemWire
	if err := json.Unmarshal([]byte(member), &w); err != nil {
		return nil, &decodeError{Field: "member", Value: member, Err: err}
	}
	r := &hashReader{data: map[string]string{
		fieldSessionID:               w.SessionID,
		fieldFrameNumber:             w.FrameNumber,
		fieldTimestamp:               w.Timestamp,
		fieldRetryCount:              w.RetryCount,
		fieldEstimatedProcessingTime: w.EstimatedProcessingTime,
	}}
	q := &models.QueueItem{
		SessionID:               r.str(fieldSessionID),
		FrameNumber:             r.integer(fieldFrameNumber, true),
		Priority:                score,
		Timestamp:               r.timestamp(fieldTimestamp),
		RetryCount:              r.integer(fieldRetryCount, false),
		EstimatedProcessingTime: r.integer(fieldEstimatedProcessingTime, false),
	}
	if r.err != nil {
		return nil, r.err
	}
	if q.SessionID == "" {
		return nil, &decodeError{Field: fieldSessionID}
	}
	return q, nil
}

func encodeMetricsHash(m *models.MetricsSnapshot) map[string]any {
	return map[string]any{
		fieldTimestamp:         formatTime(m.Timestamp),
		fieldProcessingSpeed:   formatFloat(m.ProcessingSpeed),
		fieldQueueLength:       formatInt(m.QueueLength),
		fieldActiveConnections: formatInt(m.ActiveConnections),
		fieldMemoryUsage:       formatFloat(m.MemoryUsage),
		fieldCPUUsage:          formatFloat(m.CPUUsage),
		fieldErrorRate:         formatFloat(m.ErrorRate),
		fieldThroughput:        formatFloat(m.Throughput),
		fieldLatency:           formatFloat(m.Latency),
	}
}

func decodeMetricsHash(data map[string]string) (*models.MetricsSnapshot, error) {
	r := &hashReader{data: data}
	m := &models.MetricsSnapshot{
		Timestamp:         r.timestamp(fieldTimestamp),
		ProcessingSpeed:   r.number(fieldProcessingSpeed, true),
		QueueLength:       r.integer(fieldQueueLength, true),
		ActiveConnections: r.integer(fieldActiveConnections, true),
		MemoryUsage:       r.number(fieldMemoryUsage, true),
		CPUUsage:          r.number(fieldCPUUsage, true),
		ErrorRate:         r.number(fieldErrorRate, true),
		Throughput:        r.number(fieldThroughput, true),
		Latency:           r.number(fieldLatency, true),
	}
	if r.err != nil {
		return nil, r.err
	}
	return m, nil
}

// metricsWire is the JSON document pushed onto the history list.
type metricsWire struct {
	Timestamp         time.Time `json:"timestamp"`
	ProcessingSpeed   float64   `json:"processingSpeed"`
	QueueLength       int64     `json:"queueLength"`
	ActiveConnections int64     `json:"activeConnections"`
	MemoryUsage       float64   `json:"memoryUsage"`
	CPUUsage          float64   `json:"cpuUsage"`
	ErrorRate         float64   `json:"errorRate"`
	Throughput        float64   `json:"throughput"`
	Latency           float64   `json:"latency"`
}

func encodeMetricsJSON(m *models.MetricsSnapshot) (string, error) {
	b, err := json.Marshal(metricsWire(*m))
	return string(b), err
}

func decodeMetricsJSON(raw string) (*models.MetricsSnapshot, error) {
	var w metricsWire
	if err := json.Unmarshal([]byte(raw), &w); err != nil {
		return nil, &decodeError{Field: "history", Value: raw, Err: err}
	}
	m := models.MetricsSnapshot(w)
	return &m, nil
}

func encodeUpload(u *models.UploadState) map[string]any {
	return map[string]any{
		fieldIsUploading:   strconv.FormatBool(u.IsUploading),
		fieldProgress:      formatFloat(u.Progress),
		fieldError:         u.Error,
		fieldBytesUploaded: formatInt(u.BytesUploaded),
		fieldTotalBytes:    formatInt(u.TotalBytes),
		fieldUploadSpeed:   formatFloat(u.UploadSpeed),
	}
}

func decodeUpload(data map[string]string) (*models.UploadState, error) {
	r := &hashReader{data: data}
	u := &models.UploadState{
		IsUploading:   r.boolean(fieldIsUploading),
		Progress:      r.number(fieldProgress, true),
		BytesUploaded: r.integer(fieldBytesUploaded, false),
		TotalBytes:    r.integer(fieldTotalBytes, false),
		UploadSpeed:   r.number(fieldUploadSpeed, false),
	}
	u.Error, _ = r.raw(fieldError, false)
	if r.err != nil {
		return nil, r.err
	}
	return u, nil
}
