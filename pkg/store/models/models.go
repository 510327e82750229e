// Package models defines the persistent schema for the telarch archive store:
// content-addressed file records, the source-id dedup map, large-file jobs
// with their attempt log, and short-lived auth secrets.
package models

import "time"

// JobState is the lifecycle state of a large-file job.
type JobState string

const (
	JobStatePending    JobState = "PENDING"
	JobStateProcessing JobState = "PROCESSING"
	JobStateCompleted  JobState = "COMPLETED"
	JobStateFailed     JobState = "FAILED"
	JobStateRetrying   JobState = "RETRYING"
	JobStateCancelled  JobState = "CANCELLED"
)

// IsValid checks if the state is a known JobState.
func (s JobState) IsValid() bool {
	switch s {
	case JobStatePending, JobStateProcessing, JobStateCompleted,
		JobStateFailed, JobStateRetrying, JobStateCancelled:
		return true
	}
	return false
}

// Terminal reports whether the state ends the normal job lifecycle.
// Terminal jobs only leave their state through an explicit retry.
func (s JobState) Terminal() bool {
	return s == JobStateCompleted || s == JobStateFailed || s == JobStateCancelled
}

// Retryable reports whether an explicit retry may move the job back to PENDING.
func (s JobState) Retryable() bool {
	return s == JobStateFailed || s == JobStateCancelled
}

// FileRecord is a content-addressed archive entry. The SHA-256 of the raw
// bytes is the primary key; no two records share a hash.
type FileRecord struct {
	SHA256    string    `gorm:"primaryKey;size:64;column:sha256" json:"sha256"`
	S3Key     string    `gorm:"not null;column:s3_key" json:"s3_key"`
	SizeBytes int64     `gorm:"column:size_bytes" json:"size_bytes"`
	MIME      string    `gorm:"size:255;column:mime" json:"mime,omitempty"`
	CreatedAt time.Time `gorm:"index;autoCreateTime" json:"created_at"`
}

// TableName returns the table name for FileRecord.
func (FileRecord) TableName() string { return "files" }

// SourceMap maps the chat platform's stable file_unique_id to a content hash,
// enabling fast-path dedup without downloading.
type SourceMap struct {
	FileUniqueID string `gorm:"primaryKey;size:255;column:file_unique_id" json:"file_unique_id"`
	SHA256       string `gorm:"index;not null;size:64;column:sha256" json:"sha256"`
}

// TableName returns the table name for SourceMap.
func (SourceMap) TableName() string { return "tg_map" }

// MessageSeen records message/chat/group tuples. Reserved for future use;
// the ingestion pipeline does not write it.
type MessageSeen struct {
	MessageID    string    `gorm:"primaryKey;size:64;column:message_id" json:"message_id"`
	ChatID       string    `gorm:"primaryKey;size:64;column:chat_id" json:"chat_id"`
	MediaGroupID string    `gorm:"index;size:64;column:media_group_id" json:"media_group_id,omitempty"`
	CreatedAt    time.Time `gorm:"autoCreateTime" json:"created_at"`
}

// TableName returns the table name for MessageSeen.
func (MessageSeen) TableName() string { return "messages" }

// Job is one unit of work for the large-file path.
type Job struct {
	JobID       string    `gorm:"primaryKey;size:36;column:job_id" json:"job_id"`
	UserID      int64     `gorm:"column:user_id" json:"user_id"`
	ChatID      int64     `gorm:"column:chat_id" json:"chat_id"`
	MessageID   int64     `gorm:"column:message_id" json:"message_id"`
	State       JobState  `gorm:"index;size:16;column:state" json:"state"`
	Priority    int       `gorm:"column:priority" json:"priority"`
	CreatedAt   time.Time `gorm:"column:created_at" json:"created_at"`
	UpdatedAt   time.Time `gorm:"column:updated_at" json:"updated_at"`
	LastError   string    `gorm:"column:last_error" json:"last_error,omitempty"`
	PayloadJSON string    `gorm:"column:payload_json" json:"payload_json,omitempty"`
}

// TableName returns the table name for Job.
func (Job) TableName() string { return "jobs" }

// JobAttempt is one entry in the append-only retry log of a job.
type JobAttempt struct {
	ID         uint       `gorm:"primaryKey;autoIncrement" json:"id"`
	JobID      string     `gorm:"index;size:36;column:job_id" json:"job_id"`
	Attempt    int        `gorm:"column:attempt" json:"attempt"`
	StartedAt  time.Time  `gorm:"column:started_at" json:"started_at"`
	FinishedAt *time.Time `gorm:"column:finished_at" json:"finished_at,omitempty"`
	Success    bool       `gorm:"column:success" json:"success"`
	Error      string     `gorm:"column:error" json:"error,omitempty"`
}

// TableName returns the table name for JobAttempt.
func (JobAttempt) TableName() string { return "job_attempts" }

// AuthSecret is a short-lived key-value pair used by the interactive login
// flow. Recognized keys are "code" (single-use) and "password" (persistent).
type AuthSecret struct {
	Key       string    `gorm:"primaryKey;size:64;column:key" json:"key"`
	Value     string    `gorm:"not null;column:value" json:"-"`
	CreatedAt time.Time `gorm:"column:created_at" json:"created_at"`
}

// TableName returns the table name for AuthSecret.
func (AuthSecret) TableName() string { return "auth_secrets" }

// WorkerStatus is the single-row heartbeat the large-file worker publishes so
// the bot can report it without reaching into the worker's process.
type WorkerStatus struct {
	ID           int       `gorm:"primaryKey;column:id" json:"-"`
	Mode         string    `gorm:"size:16;column:mode" json:"mode"`
	Authorized   bool      `gorm:"column:authorized" json:"authorized"`
	AuthFailures int       `gorm:"column:auth_failures" json:"auth_failures"`
	LastProbeAt  time.Time `gorm:"column:last_probe_at" json:"last_probe_at"`
	UpdatedAt    time.Time `gorm:"column:updated_at" json:"updated_at"`
}

// TableName returns the table name for WorkerStatus.
func (WorkerStatus) TableName() string { return "worker_status" }

// AllModels returns every model for schema migration.
func AllModels() []any {
	return []any{
		&FileRecord{},
		&SourceMap{},
		&MessageSeen{},
		&Job{},
		&JobAttempt{},
		&AuthSecret{},
		&WorkerStatus{},
	}
}
