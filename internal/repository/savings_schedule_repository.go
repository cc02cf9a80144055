package repository

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/noah-isme/sibudis-api/internal/models"
)

const savingsScheduleColumns = "id, class_id, goal_name, weekday, target_amount, target_date, created_at, updated_at"

// SavingsScheduleRepository persists class savings goals.
type SavingsScheduleRepository struct {
	db *sqlx.DB
}

// NewSavingsScheduleRepository constructs the repository.
func NewSavingsScheduleRepository(db *sqlx.DB) *SavingsScheduleRepository {
	return &SavingsScheduleRepository{db: db}
}

// List returns schedules ordered by target date.
func (r *SavingsScheduleRepository) List(ctx context.Context, filter models.SavingsScheduleFilter) ([]models.SavingsSchedule, error) {
	conditions := []string{"1=1"}
	args := []interface{}{}
	if filter.ClassID != "" {
		args = append(args, filter.ClassID)
		conditions = append(conditions, fmt.Sprintf("class_id = $%d", len(args)))
	}
	if filter.Weekday != "" {
		args = append(args, filter.Weekday)
		conditions = append(conditions, fmt.Sprintf("weekday = $%d", len(args)))
	}
	query := fmt.Sprintf("SELECT %s FROM savings_schedules WHERE %s ORDER BY target_date ASC, goal_name ASC", savingsScheduleColumns, strings.Join(conditions, " AND "))

	var schedules []models.SavingsSchedule
	if err := r.db.SelectContext(ctx, &schedules, query, args...); err != nil {
		return nil, fmt.Errorf("list savings schedules: %w", err)
	}
	return schedules, nil
}

// HasScheduleOn reports whether the class saves on the given weekday.
func (r *SavingsScheduleRepository) HasScheduleOn(ctx context.Context, classID string, day models.Weekday) (bool, error) {
	var exists int
	err := r.db.GetContext(ctx, &exists, "SELECT 1 FROM savings_schedules WHERE class_id = $1 AND weekday = $2 LIMIT 1", classID, day)
	if err != nil {
		if err == sql.ErrNoRows {
			return false, nil
		}
		return false, fmt.Errorf("check deposit window: %w", err)
	}
	return true, nil
}

// FindByID fetches a schedule.
func (r *SavingsScheduleRepository) FindByID(ctx context.Context, id string) (*models.SavingsSchedule, error) {
	var schedule models.SavingsSchedule
	query := fmt.Sprintf("SELECT %s FROM savings_schedules WHERE id = $1", savingsScheduleColumns)
	if err := r.db.GetContext(ctx, &schedule, query, id); err != nil {
		return nil, err
	}
	return &schedule, nil
}

// Create inserts a schedule.
func (r *SavingsScheduleRepository) Create(ctx context.Context, schedule *models.SavingsSchedule) error {
	if schedule.ID == "" {
		schedule.ID = uuid.NewString()
	}
	now := time.Now().UTC()
	schedule.CreatedAt = now
	schedule.UpdatedAt = now
	const query = `INSERT INTO savings_schedules (id, class_id, goal_name, weekday, target_amount, target_date, created_at, updated_at)
        VALUES (:id, :class_id, :goal_name, :weekday, :target_amount, :target_date, :created_at, :updated_at)`
	if _, err := r.db.NamedExecContext(ctx, query, schedule); err != nil {
		return fmt.Errorf("create savings schedule: %w", err)
	}
	return nil
}

// Update modifies a schedule.
func (r *SavingsScheduleRepository) Update(ctx context.Context, schedule *models.SavingsSchedule) error {
	schedule.UpdatedAt = time.Now().UTC()
	const query = `UPDATE savings_schedules SET class_id = :class_id, goal_name = :goal_name, weekday = :weekday,
        target_amount = :target_amount, target_date = :target_date, updated_at = :updated_at WHERE id = :id`
	res, err := r.db.NamedExecContext(ctx, query, schedule)
	if err != nil {
		return fmt.Errorf("update savings schedule: %w", err)
	}
	if rows, _ := res.RowsAffected(); rows == 0 {
		return sql.ErrNoRows
	}
	return nil
}

// Delete removes a schedule.
func (r *SavingsScheduleRepository) Delete(ctx context.Context, id string) error {
	res, err := r.db.ExecContext(ctx, "DELETE FROM savings_schedules WHERE id = $1", id)
	if err != nil {
		return fmt.Errorf("delete savings schedule: %w", err)
	}
	if rows, _ := res.RowsAffected(); rows == 0 {
		return sql.ErrNoRows
	}
	return nil
}
