package trigger

import (
	"encoding/json"
	"fmt"
	"net/url"
	"time"
)

// s3Notification is the wire shape of an S3 event notification payload.
type s3Notification struct {
	Records []struct {
		EventSource string    `json:"eventSource"`
		EventTime   time.Time `json:"eventTime"`
		S3          struct {
			Bucket struct {
				Name string `json:"name"`
			} `json:"bucket"`
			Object struct {
				Key string `json:"key"`
			} `json:"object"`
		} `json:"s3"`
	} `json:"Records"`
}

// ParseNotification decodes an S3 event notification into upload events.
// Non-S3 records are skipped. Object keys arrive URL-encoded on the wire.
func ParseNotification(data []byte) ([]UploadEvent, error) {
	var n s3Notification
	if err := json.Unmarshal(data, &n); err != nil {
		return nil, fmt.Errorf("parsing event notification: %w", err)
	}

	var events []UploadEvent
	for _, rec := range n.Records {
		if rec.EventSource != "aws:s3" {
			continue
		}
		key, err := url.QueryUnescape(rec.S3.Object.Key)
		if err != nil {
			key = rec.S3.Object.Key
		}
		events = append(events, UploadEvent{
			Bucket:    rec.S3.Bucket.Name,
			Key:       key,
			EventTime: rec.EventTime,
		})
	}
	return events, nil
}
