package service

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"

	"github.com/noah-isme/sibudis-api/internal/models"
)

func classThreeStudents(balances ...int64) []models.Student {
	students := []models.Student{{ID: "other", Class: "4", Balance: 900000}}
	for i, b := range balances {
		students = append(students, models.Student{ID: string(rune('a' + i)), Class: "3", Balance: b})
	}
	return students
}

func TestEvaluateScheduleStatuses(t *testing.T) {
	schedule := models.SavingsSchedule{ID: "sch1", ClassID: "3", TargetAmount: 1000000}

	cases := []struct {
		name     string
		balances []int64
		status   models.ScheduleStatus
		saved    int64
		percent  float64
	}{
		{"behind", []int64{500000, 250000}, models.ScheduleBehind, 750000, 75},
		{"on track", []int64{600000, 250000}, models.ScheduleOnTrack, 850000, 85},
		{"exactly at threshold", []int64{800000}, models.ScheduleOnTrack, 800000, 80},
		{"completed", []int64{400000, 600000}, models.ScheduleCompleted, 1000000, 100},
		{"over target", []int64{1200000}, models.ScheduleCompleted, 1200000, 120},
		{"empty class", nil, models.ScheduleBehind, 0, 0},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			progress := EvaluateSchedule(schedule, classThreeStudents(tc.balances...), DefaultBehindThreshold)
			assert.Equal(t, tc.status, progress.Status)
			assert.Equal(t, tc.saved, progress.CurrentSaved)
			assert.InDelta(t, tc.percent, progress.ProgressPercent, 0.001)
			assert.Equal(t, "sch1", progress.ID)
		})
	}
}

func TestEvaluateScheduleThresholdIsExact(t *testing.T) {
	// 0.7 * 10 is not exactly 7 in binary floating point.
	schedule := models.SavingsSchedule{ClassID: "3", TargetAmount: 10}
	progress := EvaluateSchedule(schedule, []models.Student{{Class: "3", Balance: 7}}, decimal.RequireFromString("0.7"))
	assert.Equal(t, models.ScheduleOnTrack, progress.Status)
}

func TestEvaluateSchedulesKeepsOrder(t *testing.T) {
	schedules := []models.SavingsSchedule{
		{ID: "b", ClassID: "3", TargetAmount: 100},
		{ID: "a", ClassID: "4", TargetAmount: 100},
	}
	out := EvaluateSchedules(schedules, []models.Student{{Class: "4", Balance: 100}}, DefaultBehindThreshold)
	if assert.Len(t, out, 2) {
		assert.Equal(t, "b", out[0].ID)
		assert.Equal(t, models.ScheduleBehind, out[0].Status)
		assert.Equal(t, models.ScheduleCompleted, out[1].Status)
	}
}
