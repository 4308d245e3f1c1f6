package models

import (
	"time"
)

type Poll struct {
	ID                string    `json:"id" gorm:"primaryKey;size:36"`
	Title             string    `json:"title" gorm:"not null"`
	CreatorSecretHash string    `json:"-" gorm:"not null"`
	JoinCode          string    `json:"joinCode" gorm:"uniqueIndex;size:16;not null"`
	ActiveQuestionID  *string   `json:"activeQuestionId" gorm:"size:36"`
	CreatedAt         time.Time `json:"createdAt"`
	UpdatedAt         time.Time `json:"updatedAt"`

	// Relationships
	Questions []Question `json:"questions" gorm:"foreignKey:PollID"`
}
