package database

import (
	"database/sql"
	"time"
)

const anonymousUsername = "Anonymous"

func nullableUserId(userId int) sql.NullInt64 {
	if userId == 0 {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: int64(userId), Valid: true}
}

func (db *PgQnaRepository) CreateAccount(params CreateAccountParams) (User, error) {
	res := db.conn.QueryRow(
		"INSERT INTO accounts (username, email, password_hash, created_at) "+
			"VALUES ($1, $2, $3, $4) RETURNING id, username, email, created_at",
		params.Username,
		params.EmailAddress,
		params.PasswordHash,
		time.Now().UTC(),
	)

	var u User
	err := res.Scan(
		&u.Id,
		&u.Username,
		&u.EmailAddress,
		&u.CreatedAt,
	)

	return u, err
}

func (db *PgQnaRepository) GetAccountById(id int) (User, error) {
	row := db.conn.QueryRow(
		"SELECT id, username, email, created_at FROM accounts "+
			"WHERE id = $1 LIMIT 1",
		id,
	)

	var user User
	err := row.Scan(
		&user.Id,
		&user.Username,
		&user.EmailAddress,
		&user.CreatedAt,
	)

	return user, err
}

func (db *PgQnaRepository) GetAccountByEmail(email string) (User, error) {
	row := db.conn.QueryRow(
		"SELECT id, username, email, password_hash, created_at FROM accounts "+
			"WHERE email = $1 LIMIT 1",
		email,
	)

	var user User
	err := row.Scan(
		&user.Id,
		&user.Username,
		&user.EmailAddress,
		&user.PasswordHash,
		&user.CreatedAt,
	)

	return user, err
}

func (db *PgQnaRepository) CreateQuestion(params CreateQuestionParams) (Question, error) {
	res := db.conn.QueryRow(
		"INSERT INTO questions (external_id, account_id, message, status, created_at) "+
			"VALUES ($1, $2, $3, $4, $5) RETURNING id, external_id, message, status, created_at, updated_at",
		params.ExternalId,
		nullableUserId(params.UserId),
		params.Message,
		"Pending",
		time.Now().UTC(),
	)

	var q Question
	err := res.Scan(
		&q.Id,
		&q.ExternalId,
		&q.Message,
		&q.Status,
		&q.CreatedAt,
		&q.UpdatedAt,
	)
	if err != nil {
		return Question{}, err
	}

	q.UserId = params.UserId
	q.Username = db.usernameFor(params.UserId)

	return q, nil
}

func (db *PgQnaRepository) GetQuestionByExternalId(externalId string) (Question, error) {
	row := db.conn.QueryRow(
		"SELECT q.id, q.external_id, COALESCE(q.account_id, 0), COALESCE(a.username, $2), "+
			"q.message, q.status, q.created_at, q.updated_at "+
			"FROM questions q LEFT JOIN accounts a ON q.account_id = a.id "+
			"WHERE q.external_id = $1 LIMIT 1",
		externalId,
		anonymousUsername,
	)

	return scanQuestion(row)
}

func (db *PgQnaRepository) ListQuestions() ([]Question, error) {
	// Escalated questions surface first, newest within each group.
	rows, err := db.conn.Query(
		"SELECT q.id, q.external_id, COALESCE(q.account_id, 0), COALESCE(a.username, $1), " +
			"q.message, q.status, q.created_at, q.updated_at " +
			"FROM questions q LEFT JOIN accounts a ON q.account_id = a.id " +
			"ORDER BY (q.status = 'Escalated') DESC, q.created_at DESC",
		anonymousUsername,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var questions []Question
	for rows.Next() {
		q, err := scanQuestion(rows)
		if err != nil {
			return nil, err
		}
		questions = append(questions, q)
	}

	return questions, rows.Err()
}

func (db *PgQnaRepository) UpdateQuestionStatus(questionId int, status string) (Question, error) {
	row := db.conn.QueryRow(
		"UPDATE questions SET status = $2, updated_at = $3 WHERE id = $1 "+
			"RETURNING id, external_id, COALESCE(account_id, 0), message, status, created_at, updated_at",
		questionId,
		status,
		time.Now().UTC(),
	)

	var q Question
	err := row.Scan(
		&q.Id,
		&q.ExternalId,
		&q.UserId,
		&q.Message,
		&q.Status,
		&q.CreatedAt,
		&q.UpdatedAt,
	)
	if err != nil {
		return Question{}, err
	}

	q.Username = db.usernameFor(q.UserId)

	return q, nil
}

func (db *PgQnaRepository) CreateAnswer(params CreateAnswerParams) (Answer, error) {
	res := db.conn.QueryRow(
		"INSERT INTO answers (question_id, account_id, content, created_at) "+
			"VALUES ($1, $2, $3, $4) RETURNING id, question_id, content, created_at",
		params.QuestionId,
		nullableUserId(params.UserId),
		params.Content,
		time.Now().UTC(),
	)

	var a Answer
	err := res.Scan(
		&a.Id,
		&a.QuestionId,
		&a.Content,
		&a.CreatedAt,
	)
	if err != nil {
		return Answer{}, err
	}

	a.UserId = params.UserId
	a.Username = db.usernameFor(params.UserId)

	return a, nil
}

func (db *PgQnaRepository) ListAnswersByQuestionId(questionId int) ([]Answer, error) {
	rows, err := db.conn.Query(
		"SELECT ans.id, ans.question_id, COALESCE(ans.account_id, 0), COALESCE(a.username, $2), "+
			"ans.content, ans.created_at "+
			"FROM answers ans LEFT JOIN accounts a ON ans.account_id = a.id "+
			"WHERE ans.question_id = $1 ORDER BY ans.created_at ASC",
		questionId,
		anonymousUsername,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var answers []Answer
	for rows.Next() {
		var a Answer
		if err := rows.Scan(
			&a.Id,
			&a.QuestionId,
			&a.UserId,
			&a.Username,
			&a.Content,
			&a.CreatedAt,
		); err != nil {
			return nil, err
		}
		answers = append(answers, a)
	}

	return answers, rows.Err()
}

func (db *PgQnaRepository) usernameFor(userId int) string {
	if userId == 0 {
		return anonymousUsername
	}

	user, err := db.GetAccountById(userId)
	if err != nil {
		return anonymousUsername
	}

	return user.Username
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanQuestion(row rowScanner) (Question, error) {
	var q Question
	err := row.Scan(
		&q.Id,
		&q.ExternalId,
		&q.UserId,
		&q.Username,
		&q.Message,
		&q.Status,
		&q.CreatedAt,
		&q.UpdatedAt,
	)

	return q, err
}
