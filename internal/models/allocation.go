package models

import "time"

// Allocation is one committed (teacher, course, room, day, slot) assignment.
type Allocation struct {
	ID        string    `db:"id" json:"id"`
	TeacherID string    `db:"teacher_id" json:"teacher_id"`
	CourseID  string    `db:"course_id" json:"course_id"`
	RoomID    string    `db:"room_id" json:"room_id"`
	DayID     string    `db:"day_id" json:"day_id"`
	SlotID    string    `db:"slot_id" json:"slot_id"`
	CreatedAt time.Time `db:"created_at" json:"created_at"`
}

// AllocationDetail joins an allocation with its display fields.
type AllocationDetail struct {
	ID          string  `db:"id" json:"id"`
	TeacherID   string  `db:"teacher_id" json:"teacher_id"`
	CourseID    string  `db:"course_id" json:"course_id"`
	RoomID      string  `db:"room_id" json:"room_id"`
	DayID       string  `db:"day_id" json:"day_id"`
	SlotID      string  `db:"slot_id" json:"slot_id"`
	TeacherName string  `db:"teacher_name" json:"teacher_name"`
	CourseCode  string  `db:"course_code" json:"course_code"`
	CourseName  string  `db:"course_name" json:"course_name"`
	CreditHours float64 `db:"credit_hours" json:"credit_hours"`
	RoomNumber  string  `db:"room_number" json:"room_number"`
	DayName     string  `db:"day_name" json:"day_name"`
	DayOrdinal  int     `db:"day_ordinal" json:"-"`
	StartTime   string  `db:"start_time" json:"start_time"`
	EndTime     string  `db:"end_time" json:"end_time"`
	SlotOrdinal int     `db:"slot_ordinal" json:"-"`
}

// AllocationCandidate is a proposed assignment that has not been validated.
type AllocationCandidate struct {
	TeacherID string `json:"teacher_id"`
	CourseID  string `json:"course_id"`
	RoomID    string `json:"room_id"`
	DayID     string `json:"day_id"`
	SlotID    string `json:"slot_id"`
}

// AllocationDeleted reports the capacity released by removing an allocation.
type AllocationDeleted struct {
	CourseID          string `json:"course_id"`
	RemainingCapacity int    `json:"new_availability"`
}
