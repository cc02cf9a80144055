package models

import "time"

// SavingsSchedule is a class savings goal with a recurring deposit day.
type SavingsSchedule struct {
	ID           string    `db:"id" json:"id"`
	ClassID      string    `db:"class_id" json:"class_id"`
	GoalName     string    `db:"goal_name" json:"goal_name"`
	Weekday      Weekday   `db:"weekday" json:"day_of_week"`
	TargetAmount int64     `db:"target_amount" json:"target_amount"`
	TargetDate   time.Time `db:"target_date" json:"target_date"`
	CreatedAt    time.Time `db:"created_at" json:"created_at"`
	UpdatedAt    time.Time `db:"updated_at" json:"updated_at"`
}

// ScheduleStatus is derived on every read and never stored.
type ScheduleStatus string

const (
	ScheduleCompleted ScheduleStatus = "completed"
	ScheduleOnTrack   ScheduleStatus = "on-track"
	ScheduleBehind    ScheduleStatus = "behind"
)

// ScheduleProgress pairs a schedule with its live evaluation.
type ScheduleProgress struct {
	SavingsSchedule
	CurrentSaved    int64          `json:"current_saved"`
	Status          ScheduleStatus `json:"status"`
	ProgressPercent float64        `json:"progress_percent"`
}

// SavingsScheduleFilter narrows schedule reads.
type SavingsScheduleFilter struct {
	ClassID string
	Weekday Weekday
}
