package database

import "time"

type User struct {
	Id           int
	Username     string
	EmailAddress string
	PasswordHash string
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

type Question struct {
	Id         int
	ExternalId string
	UserId     int
	Username   string
	Message    string
	Status     string
	CreatedAt  time.Time
	UpdatedAt  time.Time
}

type Answer struct {
	Id         int
	QuestionId int
	UserId     int
	Username   string
	Content    string
	CreatedAt  time.Time
}

type CreateAccountParams struct {
	Username     string
	EmailAddress string
	PasswordHash string
}

type CreateQuestionParams struct {
	ExternalId string
	UserId     int
	Message    string
}

type CreateAnswerParams struct {
	QuestionId int
	UserId     int
	Content    string
}
