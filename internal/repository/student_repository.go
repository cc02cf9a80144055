package repository

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"

	"github.com/noah-isme/sibudis-api/internal/models"
)

const studentColumns = "id, name, class, nisn, guardian_id, balance, created_at, updated_at"

// StudentRepository manages persistence for student records. Balances are
// never written here; the ledger owns them.
type StudentRepository struct {
	db *sqlx.DB
}

// NewStudentRepository constructs a StudentRepository.
func NewStudentRepository(db *sqlx.DB) *StudentRepository {
	return &StudentRepository{db: db}
}

// List returns students matching the provided filters ordered by name.
func (r *StudentRepository) List(ctx context.Context, filter models.StudentFilter) ([]models.Student, error) {
	conditions := []string{"1=1"}
	args := []interface{}{}

	if filter.Class != "" {
		args = append(args, filter.Class)
		conditions = append(conditions, fmt.Sprintf("class = $%d", len(args)))
	}
	if filter.GuardianID != "" {
		args = append(args, filter.GuardianID)
		conditions = append(conditions, fmt.Sprintf("guardian_id = $%d", len(args)))
	}
	if filter.Search != "" {
		args = append(args, "%"+strings.ToLower(filter.Search)+"%")
		conditions = append(conditions, fmt.Sprintf("(LOWER(name) LIKE $%d OR nisn LIKE $%d)", len(args), len(args)))
	}
	if len(filter.IDs) > 0 {
		args = append(args, pq.Array(filter.IDs))
		conditions = append(conditions, fmt.Sprintf("id = ANY($%d)", len(args)))
	}

	query := fmt.Sprintf("SELECT %s FROM students WHERE %s ORDER BY name ASC, id ASC", studentColumns, strings.Join(conditions, " AND "))

	var students []models.Student
	if err := r.db.SelectContext(ctx, &students, query, args...); err != nil {
		return nil, fmt.Errorf("list students: %w", err)
	}
	return students, nil
}

// FindByID fetches a student by ID.
func (r *StudentRepository) FindByID(ctx context.Context, id string) (*models.Student, error) {
	var student models.Student
	query := fmt.Sprintf("SELECT %s FROM students WHERE id = $1", studentColumns)
	if err := r.db.GetContext(ctx, &student, query, id); err != nil {
		return nil, err
	}
	return &student, nil
}

// FindByNISN fetches a student by national student number.
func (r *StudentRepository) FindByNISN(ctx context.Context, nisn string) (*models.Student, error) {
	var student models.Student
	query := fmt.Sprintf("SELECT %s FROM students WHERE nisn = $1", studentColumns)
	if err := r.db.GetContext(ctx, &student, query, nisn); err != nil {
		return nil, err
	}
	return &student, nil
}

// ListByGuardian returns every student linked to the guardian account.
func (r *StudentRepository) ListByGuardian(ctx context.Context, guardianID string) ([]models.Student, error) {
	var students []models.Student
	query := fmt.Sprintf("SELECT %s FROM students WHERE guardian_id = $1 ORDER BY name ASC", studentColumns)
	if err := r.db.SelectContext(ctx, &students, query, guardianID); err != nil {
		return nil, fmt.Errorf("list students by guardian: %w", err)
	}
	return students, nil
}

// ExistsByNISN checks if a student with given NISN exists optionally excluding an ID.
func (r *StudentRepository) ExistsByNISN(ctx context.Context, nisn string, excludeID string) (bool, error) {
	query := "SELECT 1 FROM students WHERE nisn = $1"
	args := []interface{}{nisn}
	if excludeID != "" {
		query += " AND id <> $2"
		args = append(args, excludeID)
	}
	var exists int
	if err := r.db.GetContext(ctx, &exists, query+" LIMIT 1", args...); err != nil {
		if err == sql.ErrNoRows {
			return false, nil
		}
		return false, fmt.Errorf("check nisn: %w", err)
	}
	return true, nil
}

// ExistingNISNs returns the subset of nisns already stored.
func (r *StudentRepository) ExistingNISNs(ctx context.Context, nisns []string) (map[string]struct{}, error) {
	result := make(map[string]struct{})
	if len(nisns) == 0 {
		return result, nil
	}
	var found []string
	if err := r.db.SelectContext(ctx, &found, "SELECT nisn FROM students WHERE nisn = ANY($1)", pq.Array(nisns)); err != nil {
		return nil, fmt.Errorf("lookup nisns: %w", err)
	}
	for _, n := range found {
		result[n] = struct{}{}
	}
	return result, nil
}

// Create inserts a new student record with a zero balance.
func (r *StudentRepository) Create(ctx context.Context, student *models.Student) error {
	prepareNewStudent(student, time.Now().UTC())
	const query = `INSERT INTO students (id, name, class, nisn, guardian_id, balance, created_at, updated_at)
        VALUES (:id, :name, :class, :nisn, :guardian_id, :balance, :created_at, :updated_at)`
	if _, err := r.db.NamedExecContext(ctx, query, student); err != nil {
		return fmt.Errorf("create student: %w", err)
	}
	return nil
}

// CreateMany inserts students in a single transaction.
func (r *StudentRepository) CreateMany(ctx context.Context, students []models.Student) error {
	if len(students) == 0 {
		return nil
	}
	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin import tx: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck

	now := time.Now().UTC()
	const query = `INSERT INTO students (id, name, class, nisn, guardian_id, balance, created_at, updated_at)
        VALUES (:id, :name, :class, :nisn, :guardian_id, :balance, :created_at, :updated_at)`
	for i := range students {
		prepareNewStudent(&students[i], now)
		if _, err := tx.NamedExecContext(ctx, query, &students[i]); err != nil {
			return fmt.Errorf("import student %s: %w", students[i].NISN, err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit import tx: %w", err)
	}
	return nil
}

// Update modifies the descriptive fields of a student.
func (r *StudentRepository) Update(ctx context.Context, student *models.Student) error {
	student.UpdatedAt = time.Now().UTC()
	const query = `UPDATE students SET name = :name, class = :class, nisn = :nisn, updated_at = :updated_at WHERE id = :id`
	if _, err := r.db.NamedExecContext(ctx, query, student); err != nil {
		return fmt.Errorf("update student: %w", err)
	}
	return nil
}

// SetGuardian links or unlinks a guardian account.
func (r *StudentRepository) SetGuardian(ctx context.Context, studentID string, guardianID *string) error {
	res, err := r.db.ExecContext(ctx, "UPDATE students SET guardian_id = $2, updated_at = $3 WHERE id = $1", studentID, guardianID, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("set guardian: %w", err)
	}
	if rows, _ := res.RowsAffected(); rows == 0 {
		return sql.ErrNoRows
	}
	return nil
}

// Delete removes a student. Ledger entries cascade.
func (r *StudentRepository) Delete(ctx context.Context, id string) error {
	res, err := r.db.ExecContext(ctx, "DELETE FROM students WHERE id = $1", id)
	if err != nil {
		return fmt.Errorf("delete student: %w", err)
	}
	if rows, _ := res.RowsAffected(); rows == 0 {
		return sql.ErrNoRows
	}
	return nil
}

func prepareNewStudent(student *models.Student, now time.Time) {
	if student.ID == "" {
		student.ID = uuid.NewString()
	}
	student.Balance = 0
	if student.CreatedAt.IsZero() {
		student.CreatedAt = now
	}
	student.UpdatedAt = now
}
