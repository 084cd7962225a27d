// Package archive persists finished study plans and quiz outcomes to
// Postgres. The archive is optional: the application runs fully without a
// configured database, and archive writes are fire-and-forget so a slow or
// broken database never blocks a view transition.
package archive

import (
	"context"
	"database/sql"
	"embed"
	"fmt"
	"log/slog"
	"strings"

	"github.com/jackc/pgx/v5/pgxpool"
	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/pressly/goose/v3"

	"github.com/kareemblessed/CrammAI/pkg/core/types"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// Archive records study activity.
type Archive struct {
	pool   *pgxpool.Pool
	logger *slog.Logger
}

// Open connects to the database and applies pending migrations.
func Open(ctx context.Context, dsn string, logger *slog.Logger) (*Archive, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if err := migrate(dsn); err != nil {
		return nil, fmt.Errorf("apply archive migrations: %w", err)
	}
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("open archive pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping archive: %w", err)
	}
	return &Archive{pool: pool, logger: logger}, nil
}

func migrate(dsn string) error {
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return err
	}
	defer db.Close()

	goose.SetBaseFS(migrationsFS)
	if err := goose.SetDialect("postgres"); err != nil {
		return err
	}
	return goose.Up(db, "migrations")
}

// SavePlan stores one generated plan with its topics.
func (a *Archive) SavePlan(ctx context.Context, generation string, mode types.Mode, topics []types.Topic) error {
	tx, err := a.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin save plan: %w", err)
	}
	defer tx.Rollback(ctx)

	var planID int64
	err = tx.QueryRow(ctx,
		`INSERT INTO study_plans (generation, mode) VALUES ($1, $2) RETURNING id`,
		generation, string(mode),
	).Scan(&planID)
	if err != nil {
		return fmt.Errorf("insert plan: %w", err)
	}
	for position, topic := range topics {
		_, err = tx.Exec(ctx,
			`INSERT INTO study_topics (plan_id, position, name, rationale, key_points)
			 VALUES ($1, $2, $3, $4, $5)`,
			planID, position, topic.Name, topic.Rationale, strings.Join(topic.KeyPoints, "\n"),
		)
		if err != nil {
			return fmt.Errorf("insert topic %q: %w", topic.Name, err)
		}
	}
	return tx.Commit(ctx)
}

// SaveNotes updates the stored notes text for a topic of a plan.
func (a *Archive) SaveNotes(ctx context.Context, generation, topicName, notes string) error {
	_, err := a.pool.Exec(ctx,
		`UPDATE study_topics SET notes = $3
		 WHERE name = $2
		   AND plan_id = (SELECT id FROM study_plans WHERE generation = $1)`,
		generation, topicName, notes,
	)
	if err != nil {
		return fmt.Errorf("save notes for %q: %w", topicName, err)
	}
	return nil
}

// RecordQuizResult stores one finished quiz outcome.
func (a *Archive) RecordQuizResult(ctx context.Context, generation, topicName string, score, total int) error {
	_, err := a.pool.Exec(ctx,
		`INSERT INTO quiz_results (generation, topic_name, score, total) VALUES ($1, $2, $3, $4)`,
		generation, topicName, score, total,
	)
	if err != nil {
		return fmt.Errorf("record quiz result for %q: %w", topicName, err)
	}
	return nil
}

// Close releases the connection pool.
func (a *Archive) Close() {
	if a != nil && a.pool != nil {
		a.pool.Close()
	}
}
