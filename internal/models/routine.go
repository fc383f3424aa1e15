package models

// RoutineCell is one displayable cell of the compiled timetable. A zero cell
// marks a (day, slot) pair with no allocation; renderers can probe every cell.
type RoutineCell struct {
	CourseCode  string `json:"course_code"`
	RoomNumber  string `json:"room_number"`
	TeacherName string `json:"teacher_name"`
}

// Empty reports whether the cell holds no allocation.
func (c RoutineCell) Empty() bool {
	return c == RoutineCell{}
}

// Routine maps day name to slot label to cell. Every catalog (day, slot)
// combination is present.
type Routine map[string]map[string]RoutineCell

// TeacherScheduleEntry is one row of a teacher's personal schedule view.
type TeacherScheduleEntry struct {
	DayName     string  `json:"day_name"`
	StartTime   string  `json:"start_time"`
	EndTime     string  `json:"end_time"`
	CourseCode  string  `json:"course_code"`
	CourseName  string  `json:"course_name"`
	RoomNumber  string  `json:"room_number"`
	CreditHours float64 `json:"credit_hours"`
}

// TeacherSchedule bundles a teacher's entries with current workload sums.
type TeacherSchedule struct {
	TeacherID   string                 `json:"teacher_id"`
	TeacherName string                 `json:"teacher_name"`
	Entries     []TeacherScheduleEntry `json:"entries"`
	DailyLoad   map[string]float64     `json:"daily_load"`
	WeeklyLoad  float64                `json:"weekly_load"`
}
