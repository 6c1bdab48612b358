package model

import (
	"time"

	"github.com/google/uuid"
)

// Student represents an examinee on the class roster.
type Student struct {
	ID         uuid.UUID `json:"id"`
	Name       string    `json:"name"`
	RollNumber string    `json:"roll_number"`
	Class      string    `json:"class"`
	Section    string    `json:"section"`
	CreatedAt  time.Time `json:"created_at"`
}

// StartExamRequest is the payload for a student entering the exam.
type StartExamRequest struct {
	StudentID  string `json:"student_id" binding:"required,uuid"`
	AccessCode string `json:"access_code" binding:"required,min=4,max=32"`
}
