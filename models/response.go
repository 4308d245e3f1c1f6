package models

import (
	"time"
)

// Response is a single vote. Rows are append-only; a participant may vote
// on the same question more than once.
type Response struct {
	ID            string    `json:"id" gorm:"primaryKey;size:36"`
	QuestionID    string    `json:"questionId" gorm:"size:36;not null;index"`
	OptionID      string    `json:"optionId" gorm:"size:36;not null;index"`
	ParticipantID string    `json:"participantId" gorm:"size:64;not null"`
	CreatedAt     time.Time `json:"createdAt"`
}
