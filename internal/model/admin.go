package model

import (
	"time"

	"github.com/google/uuid"
)

// Admin represents a proctor account.
type Admin struct {
	ID           int       `json:"id"`
	Email        string    `json:"email"`
	Name         string    `json:"name"`
	PasswordHash string    `json:"-"`
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`
}

// AdminLoginRequest is the payload for admin authentication.
type AdminLoginRequest struct {
	Email    string `json:"email" binding:"required,email,max=255"`
	Password string `json:"password" binding:"required,min=6,max=128"`
}

// AdminLoginResponse is returned after successful admin login.
type AdminLoginResponse struct {
	Token string `json:"token"`
	Admin Admin  `json:"admin"`
}

// ExamResult is one row of the results listing and CSV export.
type ExamResult struct {
	SessionID    uuid.UUID  `json:"session_id"`
	StudentID    uuid.UUID  `json:"student_id"`
	Name         string     `json:"name"`
	RollNumber   string     `json:"roll_number"`
	Class        string     `json:"class"`
	Section      string     `json:"section"`
	Phase        Phase      `json:"phase"`
	StartTime    time.Time  `json:"start_time"`
	EndTime      *time.Time `json:"end_time,omitempty"`
	CodingScore  int        `json:"coding_score"`
	MCQScore     int        `json:"mcq_score"`
	TotalScore   int        `json:"total_score"`
	ExitAttempts int        `json:"exit_attempts"`
}
