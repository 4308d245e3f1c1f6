package models

import (
	"time"
)

type Option struct {
	ID         string    `json:"id" gorm:"primaryKey;size:36"`
	QuestionID string    `json:"questionId" gorm:"size:36;not null;index"`
	Text       string    `json:"text" gorm:"not null"`
	IsCorrect  bool      `json:"isCorrect" gorm:"not null;default:false"`
	Position   int       `json:"order" gorm:"not null"`
	CreatedAt  time.Time `json:"createdAt"`
}
