package memory

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
)

// PostgresStore persists conversation history in PostgreSQL.
type PostgresStore struct {
	pool  *pgxpool.Pool
	limit int
}

func NewPostgresStore(ctx context.Context, databaseURL string, limit int) (*PostgresStore, error) {
	if limit <= 0 {
		limit = 20
	}
	pool, err := pgxpool.New(ctx, databaseURL)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}

	if err := initSchema(ctx, pool); err != nil {
		pool.Close()
		return nil, err
	}

	return &PostgresStore{pool: pool, limit: limit}, nil
}

func initSchema(ctx context.Context, pool *pgxpool.Pool) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS conversation_messages (
			id BIGSERIAL PRIMARY KEY,
			user_id TEXT NOT NULL,
			role TEXT NOT NULL,
			content TEXT NOT NULL,
			created_at TIMESTAMPTZ NOT NULL DEFAULT now()
		);`,
		`CREATE INDEX IF NOT EXISTS idx_conversation_messages_user ON conversation_messages (user_id, id);`,
	}

	for _, stmt := range stmts {
		if _, err := pool.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("init schema failed on %q: %w", stmt, err)
		}
	}
	return nil
}

func (s *PostgresStore) AppendExchange(ctx context.Context, userID, userMsg, assistantMsg string) error {
	// A single insert keeps the serial ids of the pair adjacent, so ordering
	// within an exchange never depends on clock resolution.
	_, err := s.pool.Exec(ctx,
		`INSERT INTO conversation_messages (user_id, role, content)
		 VALUES ($1, $2, $3), ($1, $4, $5)`,
		userID, RoleUser, userMsg, RoleAssistant, assistantMsg,
	)
	if err != nil {
		return fmt.Errorf("append exchange: %w", err)
	}

	_, err = s.pool.Exec(ctx,
		`DELETE FROM conversation_messages
		 WHERE user_id = $1
		   AND id NOT IN (
			SELECT id FROM conversation_messages
			WHERE user_id = $1
			ORDER BY id DESC
			LIMIT $2
		   )`,
		userID, s.limit,
	)
	if err != nil {
		return fmt.Errorf("trim history: %w", err)
	}
	return nil
}

func (s *PostgresStore) Recent(ctx context.Context, userID string, n int) ([]Message, error) {
	if n <= 0 {
		n = s.limit
	}

	rows, err := s.pool.Query(ctx,
		`SELECT role, content FROM conversation_messages
		 WHERE user_id = $1 ORDER BY id DESC LIMIT $2`,
		userID, n,
	)
	if err != nil {
		return nil, fmt.Errorf("query history: %w", err)
	}
	defer rows.Close()

	items := make([]Message, 0, n)
	for rows.Next() {
		var m Message
		if err := rows.Scan(&m.Role, &m.Content); err != nil {
			return nil, fmt.Errorf("scan history row: %w", err)
		}
		items = append(items, m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate history rows: %w", err)
	}

	// Reverse into chronological order for prompt coherence.
	for i, j := 0, len(items)-1; i < j; i, j = i+1, j-1 {
		items[i], items[j] = items[j], items[i]
	}

	return items, nil
}

func (s *PostgresStore) Clear(ctx context.Context, userID string) error {
	if _, err := s.pool.Exec(ctx,
		`DELETE FROM conversation_messages WHERE user_id = $1`, userID,
	); err != nil {
		return fmt.Errorf("clear history: %w", err)
	}
	return nil
}

func (s *PostgresStore) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

func (s *PostgresStore) Close() error {
	s.pool.Close()
	return nil
}
