package utils

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

// GenerateRequestID returns an ID used to correlate the log lines of one request.
func GenerateRequestID() string {
	return fmt.Sprintf("req_%d_%s", time.Now().Unix(), uuid.NewString()[:8])
}

// GenerateUploadName builds a unique object name for an uploaded payment proof.
func GenerateUploadName(ext string) string {
	return fmt.Sprintf("proof_%d_%s%s", time.Now().UnixMilli(), uuid.NewString(), ext)
}
