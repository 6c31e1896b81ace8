package types

import (
	"time"
)

const (
	StatusPending   = "Pending"
	StatusEscalated = "Escalated"
	StatusAnswered  = "Answered"
)

// ValidStatus reports whether s is one of the question statuses
// the dashboard understands.
func ValidStatus(s string) bool {
	return s == StatusPending || s == StatusEscalated || s == StatusAnswered
}

type User struct {
	Id           int       `json:"id"`
	Username     string    `json:"username"`
	EmailAddress string    `json:"email_address,omitempty"`
	Password     string    `json:"-"`
	CreatedAt    time.Time `json:"created_at,omitempty"`
	UpdatedAt    time.Time `json:"updated_at,omitempty"`
}

type Question struct {
	Id         int       `json:"-"`
	ExternalId string    `json:"question_id"`
	Message    string    `json:"message"`
	Status     string    `json:"status"`
	UserId     int       `json:"user_id,omitempty"`
	Username   string    `json:"username"`
	CreatedAt  time.Time `json:"created_at,omitempty"`
	UpdatedAt  time.Time `json:"updated_at,omitempty"`
}

type Answer struct {
	Id         int       `json:"id"`
	QuestionId string    `json:"question_id"`
	Content    string    `json:"answer"`
	UserId     int       `json:"user_id,omitempty"`
	Username   string    `json:"username"`
	CreatedAt  time.Time `json:"created_at,omitempty"`
}

type Suggestion struct {
	QuestionId string `json:"question_id"`
	Text       string `json:"suggestion"`
}
