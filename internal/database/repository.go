package database

type QnaRepository interface {
	Ping() error
	CreateAccount(params CreateAccountParams) (User, error)
	GetAccountById(accountId int) (User, error)
	GetAccountByEmail(email string) (User, error)
	CreateQuestion(params CreateQuestionParams) (Question, error)
	GetQuestionByExternalId(externalId string) (Question, error)
	ListQuestions() ([]Question, error)
	UpdateQuestionStatus(questionId int, status string) (Question, error)
	CreateAnswer(params CreateAnswerParams) (Answer, error)
	ListAnswersByQuestionId(questionId int) ([]Answer, error)
}
