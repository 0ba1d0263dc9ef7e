package main

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// ErrNoQuestion is returned when the store holds no question matching
// the requested difficulties. Transient store failures return their own
// errors so callers can tell the two apart.
var ErrNoQuestion = errors.New("no matching question")

// Answer is one revealable answer of a question, worth a fixed number
// of points.
type Answer struct {
	Text   string `json:"text"`
	Points int    `json:"points"`
}

// Question is a prompt with its ordered list of answers.
type Question struct {
	Text    string
	Answers []Answer
}

// QuestionProvider hands out one random question restricted to a set of
// difficulty labels.
type QuestionProvider interface {
	RandomQuestion(ctx context.Context, difficulties []string) (*Question, error)
}

// questionStore is the Postgres-backed QuestionProvider.
type questionStore struct {
	db *pgxpool.Pool
}

func newQuestionStore(ctx context.Context, cfg *Config) (*questionStore, error) {
	pool, err := pgxpool.New(ctx, cfg.databaseURL)
	if err != nil {
		return nil, fmt.Errorf("parsing database url: %w", err)
	}

	const maxRetries = 3
	for attempt := 1; ; attempt++ {
		err = pool.Ping(ctx)
		if err == nil {
			break
		}
		if attempt == maxRetries {
			pool.Close()
			return nil, fmt.Errorf("connecting to question store: %w", err)
		}
		time.Sleep(time.Second)
	}

	logf(cfg, "START: Connected to question store")

	return &questionStore{db: pool}, nil
}

func (s *questionStore) Close() {
	s.db.Close()
}

func (s *questionStore) RandomQuestion(ctx context.Context, difficulties []string) (*Question, error) {
	var (
		id   int64
		text string
	)

	err := s.db.QueryRow(ctx,
		`SELECT id, question_text
		 FROM questions
		 WHERE difficulty_label = ANY($1)
		 ORDER BY RANDOM()
		 LIMIT 1`,
		difficulties,
	).Scan(&id, &text)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNoQuestion
	}
	if err != nil {
		return nil, fmt.Errorf("selecting question: %w", err)
	}

	rows, err := s.db.Query(ctx,
		`SELECT answer_text, difficulty_score
		 FROM answers
		 WHERE question_id = $1
		 ORDER BY display_order`,
		id,
	)
	if err != nil {
		return nil, fmt.Errorf("selecting answers: %w", err)
	}
	defer rows.Close()

	q := &Question{Text: text}
	for rows.Next() {
		var a Answer
		if err := rows.Scan(&a.Text, &a.Points); err != nil {
			return nil, fmt.Errorf("scanning answer: %w", err)
		}
		q.Answers = append(q.Answers, a)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("reading answers: %w", err)
	}

	return q, nil
}
