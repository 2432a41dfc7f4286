// Copyright (c) 2023-2025 RapidaAI
// Author: Prashant Srivastav <prashant@rapida.ai>
//
// Licensed under GPL-2.0 with Rapida Additional Terms.
// See LICENSE.md or contact sales@rapida.ai for commercial usage.
package internal_entity

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// Call status constants.
const (
	CallStatusInProgress = "in-progress"
	CallStatusCompleted  = "completed"
	CallStatusFailed     = "failed"
)

// Call is one telephony call handled by the bridge. Created when the
// session starts and finalized at session end.
type Call struct {
	Id           string     `json:"id" gorm:"column:id;type:varchar(36);primaryKey;<-:create"`
	OwnerId      string     `json:"ownerId" gorm:"column:owner_id;type:varchar(36);not null;index"`
	AgentId      string     `json:"agentId" gorm:"column:agent_id;type:varchar(36);not null;index"`
	CallerNumber string     `json:"callerNumber" gorm:"column:caller_number;type:varchar(50);not null;default:''"`
	ChannelId    string     `json:"channelId" gorm:"column:channel_id;type:varchar(200);not null;default:''"`
	Status       string     `json:"status" gorm:"column:status;type:varchar(20);not null;default:in-progress;index"`
	Duration     int        `json:"duration" gorm:"column:duration;not null;default:0"` // seconds
	StartedAt    time.Time  `json:"startedAt" gorm:"column:started_at;type:timestamp"`
	EndedAt      *time.Time `json:"endedAt" gorm:"column:ended_at;type:timestamp"`
	CreatedDate  time.Time  `json:"createdDate" gorm:"column:created_date;type:timestamp;not null;<-:create"`
	UpdatedDate  time.Time  `json:"updatedDate" gorm:"column:updated_date;type:timestamp"`
}

func (Call) TableName() string {
	return "calls"
}

func (c *Call) BeforeCreate(tx *gorm.DB) error {
	if c.Id == "" {
		c.Id = uuid.New().String()
	}
	if c.CreatedDate.IsZero() {
		c.CreatedDate = time.Now()
	}
	return nil
}

// CallRecording references the stored audio blob of one call.
type CallRecording struct {
	Id          string    `json:"id" gorm:"column:id;type:varchar(36);primaryKey;<-:create"`
	CallId      string    `json:"callId" gorm:"column:call_id;type:varchar(36);not null;index"`
	StorageUrl  string    `json:"storageUrl" gorm:"column:storage_url;type:varchar(500);not null"`
	StorageType string    `json:"storageType" gorm:"column:storage_type;type:varchar(20);not null;default:local"`
	MimeType    string    `json:"mimeType" gorm:"column:mime_type;type:varchar(50);not null;default:audio/wav"`
	FileSize    int       `json:"fileSize" gorm:"column:file_size;not null;default:0"`
	Duration    int       `json:"duration" gorm:"column:duration;not null;default:0"` // seconds
	CreatedDate time.Time `json:"createdDate" gorm:"column:created_date;type:timestamp;not null;<-:create"`
}

func (CallRecording) TableName() string {
	return "call_recordings"
}

func (r *CallRecording) BeforeCreate(tx *gorm.DB) error {
	if r.Id == "" {
		r.Id = uuid.New().String()
	}
	if r.CreatedDate.IsZero() {
		r.CreatedDate = time.Now()
	}
	return nil
}

// CallTranscript stores the ordered transcript of one call. Segments is the
// JSON-serialized segment list; FullText is the joined text used for lead
// qualification and search.
type CallTranscript struct {
	Id          string    `json:"id" gorm:"column:id;type:varchar(36);primaryKey;<-:create"`
	CallId      string    `json:"callId" gorm:"column:call_id;type:varchar(36);not null;index"`
	Segments    string    `json:"segments" gorm:"column:segments;type:text;not null;default:'[]'"`
	FullText    string    `json:"fullText" gorm:"column:full_text;type:text;not null;default:''"`
	CreatedDate time.Time `json:"createdDate" gorm:"column:created_date;type:timestamp;not null;<-:create"`
}

func (CallTranscript) TableName() string {
	return "call_transcripts"
}

func (t *CallTranscript) BeforeCreate(tx *gorm.DB) error {
	if t.Id == "" {
		t.Id = uuid.New().String()
	}
	if t.CreatedDate.IsZero() {
		t.CreatedDate = time.Now()
	}
	return nil
}
