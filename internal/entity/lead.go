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

// Lead is a qualified prospect derived from a call transcript.
type Lead struct {
	Id          string    `json:"id" gorm:"column:id;type:varchar(36);primaryKey;<-:create"`
	OwnerId     string    `json:"ownerId" gorm:"column:owner_id;type:varchar(36);not null;index"`
	CallId      string    `json:"callId" gorm:"column:call_id;type:varchar(36);index"`
	Phone       string    `json:"phone" gorm:"column:phone;type:varchar(50);not null;index"`
	Status      string    `json:"status" gorm:"column:status;type:varchar(20);not null;default:new"`
	Score       int       `json:"score" gorm:"column:score;not null;default:0"`
	Source      string    `json:"source" gorm:"column:source;type:varchar(20);not null;default:call"`
	CreatedDate time.Time `json:"createdDate" gorm:"column:created_date;type:timestamp;not null;<-:create"`
}

func (Lead) TableName() string {
	return "leads"
}

func (l *Lead) BeforeCreate(tx *gorm.DB) error {
	if l.Id == "" {
		l.Id = uuid.New().String()
	}
	if l.CreatedDate.IsZero() {
		l.CreatedDate = time.Now()
	}
	return nil
}
