package service

import (
	"strings"
	"time"

	"github.com/noah-isme/sibudis-api/internal/models"
)

// StudentQuery holds the optional narrowing a caller asks for. Class is only
// honoured for administrators; other roles are already pinned to a scope.
type StudentQuery struct {
	Search string
	Class  string
}

func (q StudentQuery) narrows(p models.Principal) bool {
	return strings.TrimSpace(q.Search) != "" || (p.IsAdmin() && strings.TrimSpace(q.Class) != "")
}

// TransactionQuery narrows the ledger history. From is inclusive, To is
// exclusive and zero values are unbounded.
type TransactionQuery struct {
	Students  StudentQuery
	StudentID string
	Kind      models.TransactionKind
	From      time.Time
	To        time.Time
}

// CanViewStudent reports whether the principal's scope covers the student.
func CanViewStudent(p models.Principal, s models.Student) bool {
	switch p.Role {
	case models.RoleAdmin:
		return true
	case models.RoleTeacher:
		return p.AssignedClass != "" && s.Class == p.AssignedClass
	case models.RoleParent:
		return p.LinkedStudentID != "" && s.ID == p.LinkedStudentID
	default:
		return false
	}
}

// FilterStudents returns the students the principal may see that also match
// the query, preserving input order.
func FilterStudents(p models.Principal, students []models.Student, q StudentQuery) []models.Student {
	search := strings.ToLower(strings.TrimSpace(q.Search))
	class := strings.TrimSpace(q.Class)

	out := make([]models.Student, 0, len(students))
	for _, s := range students {
		if !CanViewStudent(p, s) {
			continue
		}
		if search != "" && !strings.Contains(strings.ToLower(s.Name), search) && !strings.Contains(s.NISN, search) {
			continue
		}
		if p.IsAdmin() && class != "" && s.Class != class {
			continue
		}
		out = append(out, s)
	}
	return out
}

// FilterTransactions returns the entries the principal may see. visible must be
// the principal's already filtered students; for teachers and parents an entry
// is kept only when its student is in that set. Admins are narrowed by the set
// only when the query itself narrows students.
func FilterTransactions(p models.Principal, txs []models.Transaction, visible []models.Student, q TransactionQuery) []models.Transaction {
	if !p.Role.Valid() {
		return []models.Transaction{}
	}

	requireMembership := !p.IsAdmin() || q.Students.narrows(p)
	members := make(map[string]struct{}, len(visible))
	if requireMembership {
		for _, s := range visible {
			members[s.ID] = struct{}{}
		}
	}

	out := make([]models.Transaction, 0, len(txs))
	for _, tx := range txs {
		if requireMembership {
			if _, ok := members[tx.StudentID]; !ok {
				continue
			}
		}
		if q.StudentID != "" && tx.StudentID != q.StudentID {
			continue
		}
		if q.Kind != "" && tx.Kind != q.Kind {
			continue
		}
		if !q.From.IsZero() && tx.CreatedAt.Before(q.From) {
			continue
		}
		if !q.To.IsZero() && !tx.CreatedAt.Before(q.To) {
			continue
		}
		out = append(out, tx)
	}
	return out
}
