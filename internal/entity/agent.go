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

// Agent is a configured conversational phone agent. The bridge only reads
// this table; agent CRUD lives in the dashboard backend.
type Agent struct {
	Id             string    `json:"id" gorm:"column:id;type:varchar(36);primaryKey;<-:create"`
	OwnerId        string    `json:"ownerId" gorm:"column:owner_id;type:varchar(36);not null;index"`
	Name           string    `json:"name" gorm:"column:name;type:varchar(200);not null"`
	SystemPrompt   string    `json:"systemPrompt" gorm:"column:system_prompt;type:text;not null"`
	KnowledgeContext string  `json:"knowledgeContext" gorm:"column:knowledge_context;type:text;not null;default:''"`
	Voice          string    `json:"voice" gorm:"column:voice;type:varchar(50);not null;default:''"`
	Extension      string    `json:"extension" gorm:"column:extension;type:varchar(50);uniqueIndex"`
	Active         bool      `json:"active" gorm:"column:active;not null;default:true"`
	CreatedDate    time.Time `json:"createdDate" gorm:"column:created_date;type:timestamp;not null;<-:create"`
	UpdatedDate    time.Time `json:"updatedDate" gorm:"column:updated_date;type:timestamp"`
}

func (Agent) TableName() string {
	return "agents"
}

func (a *Agent) BeforeCreate(tx *gorm.DB) error {
	if a.Id == "" {
		a.Id = uuid.New().String()
	}
	if a.CreatedDate.IsZero() {
		a.CreatedDate = time.Now()
	}
	return nil
}
