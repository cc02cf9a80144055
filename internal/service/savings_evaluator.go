package service

import (
	"github.com/shopspring/decimal"

	"github.com/noah-isme/sibudis-api/internal/models"
)

// DefaultBehindThreshold is the share of the target below which a schedule is
// reported as behind.
var DefaultBehindThreshold = decimal.RequireFromString("0.8")

var hundred = decimal.NewFromInt(100)

// EvaluateSchedule derives the live progress of a schedule from the balances
// of the students in its class. Students from other classes are ignored.
func EvaluateSchedule(schedule models.SavingsSchedule, students []models.Student, threshold decimal.Decimal) models.ScheduleProgress {
	var saved int64
	for _, s := range students {
		if s.Class == schedule.ClassID {
			saved += s.Balance
		}
	}

	progress := models.ScheduleProgress{SavingsSchedule: schedule, CurrentSaved: saved}
	target := decimal.NewFromInt(schedule.TargetAmount)
	current := decimal.NewFromInt(saved)

	switch {
	case current.GreaterThanOrEqual(target):
		progress.Status = models.ScheduleCompleted
	case current.LessThan(target.Mul(threshold)):
		progress.Status = models.ScheduleBehind
	default:
		progress.Status = models.ScheduleOnTrack
	}

	if target.IsPositive() {
		progress.ProgressPercent = current.Mul(hundred).Div(target).Round(2).InexactFloat64()
	} else {
		progress.ProgressPercent = 100
	}
	return progress
}

// EvaluateSchedules evaluates each schedule against the same student set.
func EvaluateSchedules(schedules []models.SavingsSchedule, students []models.Student, threshold decimal.Decimal) []models.ScheduleProgress {
	out := make([]models.ScheduleProgress, 0, len(schedules))
	for _, schedule := range schedules {
		out = append(out, EvaluateSchedule(schedule, students, threshold))
	}
	return out
}
