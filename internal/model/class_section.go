package model

import "time"

// ClassSection gates exam entry for one (class, section) pair.
type ClassSection struct {
	Class           string    `json:"class"`
	Section         string    `json:"section"`
	AccessCode      string    `json:"access_code"`
	DurationMinutes int       `json:"duration_minutes"`
	UpdatedAt       time.Time `json:"updated_at"`
}

// Duration returns the exam length for this section.
func (cs *ClassSection) Duration() time.Duration {
	return time.Duration(cs.DurationMinutes) * time.Minute
}

// RotateAccessCodeRequest is the payload for replacing a section's access code.
type RotateAccessCodeRequest struct {
	AccessCode string `json:"access_code" binding:"required,min=4,max=32,alphanum"`
}
