package models

type UploadState struct {
	IsUploading   bool    `json:"is_uploading"`
	Progress      float64 `json:"progress"`
	Error         string  `json:"error,omitempty"`
	BytesUploaded int64   `json:"bytes_uploaded"`
	TotalBytes    int64   `json:"total_bytes"`
	UploadSpeed   float64 `json:"upload_speed"` // bytes/sec
}
