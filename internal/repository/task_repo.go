package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgtype"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"

	"reminder-service/internal/model"
)

type TaskRepository struct {
	db     *pgxpool.Pool
	logger *zap.Logger
}

func NewTaskRepository(db *pgxpool.Pool, logger *zap.Logger) *TaskRepository {
	return &TaskRepository{
		db:     db,
		logger: logger,
	}
}

// ListIncompleteDueBy returns incomplete tasks with due_date <= day, oldest due first
func (r *TaskRepository) ListIncompleteDueBy(ctx context.Context, day model.Date) ([]model.Task, error) {
	query := `
        SELECT id, user_id, description, due_date, completed, created_at, updated_at
        FROM tasks
        WHERE completed = FALSE
          AND due_date IS NOT NULL
          AND due_date <= $1::date
        ORDER BY due_date ASC, created_at ASC, id ASC
    `
	rows, err := r.db.Query(ctx, query, day.String())
	if err != nil {
		r.logger.Error("Failed to query due tasks",
			zap.String("day", day.String()),
			zap.Error(err),
		)
		return nil, fmt.Errorf("query due tasks: %w", err)
	}
	defer rows.Close()

	var tasks []model.Task
	for rows.Next() {
		var (
			t       model.Task
			dueDate pgtype.Date
		)
		if err := rows.Scan(
			&t.ID,
			&t.UserID,
			&t.Description,
			&dueDate,
			&t.Completed,
			&t.CreatedAt,
			&t.UpdatedAt,
		); err != nil {
			return nil, fmt.Errorf("scan task: %w", err)
		}
		if dueDate.Valid {
			d := model.DateOf(dueDate.Time.In(time.UTC))
			t.DueDate = &d
		}
		tasks = append(tasks, t)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate tasks: %w", err)
	}

	r.logger.Debug("Loaded due tasks",
		zap.String("day", day.String()),
		zap.Int("count", len(tasks)),
	)
	return tasks, nil
}

// CountPendingForUser counts one user's incomplete tasks due on or before day
func (r *TaskRepository) CountPendingForUser(ctx context.Context, userID string, day model.Date) (int, error) {
	query := `
        SELECT COUNT(*)
        FROM tasks
        WHERE user_id = $1
          AND completed = FALSE
          AND due_date IS NOT NULL
          AND due_date <= $2::date
    `
	var n int
	if err := r.db.QueryRow(ctx, query, userID, day.String()).Scan(&n); err != nil {
		return 0, fmt.Errorf("count pending tasks: %w", err)
	}
	return n, nil
}
