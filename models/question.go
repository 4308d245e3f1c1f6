package models

import (
	"time"
)

type Question struct {
	ID        string    `json:"id" gorm:"primaryKey;size:36"`
	PollID    string    `json:"pollId" gorm:"size:36;not null;index"`
	Text      string    `json:"text" gorm:"not null"`
	Position  int       `json:"order" gorm:"not null"` // submitted order, 0-based
	CreatedAt time.Time `json:"createdAt"`

	// Relationships
	Options []Option `json:"options" gorm:"foreignKey:QuestionID"`
}
