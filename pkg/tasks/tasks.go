// Package tasks defines the structure for tasks that are sent to Kafka.
package tasks

// UploadCompleteTask is the upload-completion event: trusted metadata plus the stored file.
type UploadCompleteTask struct {
	Metadata TaskMetadata `json:"metadata"`
	File     TaskFile     `json:"file"`
}

// TaskMetadata carries the identity established by the session gate.
type TaskMetadata struct {
	UserID string `json:"userId"`
}

// TaskFile describes the object in storage.
type TaskFile struct {
	Key  string `json:"key"`
	Name string `json:"name"`
	URL  string `json:"url"`
}
