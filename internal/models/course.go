package models

import "time"

// Course represents a course offering. RemainingCapacity counts the weekly
// session instances still unassigned; only the allocation ledger mutates it.
type Course struct {
	ID                string    `db:"id" json:"id"`
	Code              string    `db:"code" json:"code"`
	Name              string    `db:"name" json:"name"`
	CreditHours       float64   `db:"credit_hours" json:"credit_hours"`
	RemainingCapacity int       `db:"remaining_capacity" json:"remaining_capacity"`
	CreatedAt         time.Time `db:"created_at" json:"created_at"`
	UpdatedAt         time.Time `db:"updated_at" json:"updated_at"`
}

// SessionsForCreditHours derives weekly session capacity from credit hours:
// a 3 credit-hour course meets twice a week, a 1.5 credit-hour course once.
func SessionsForCreditHours(creditHours float64) int {
	if creditHours >= 3 {
		return 2
	}
	return 1
}

// CourseFilter captures filtering options for listing courses.
type CourseFilter struct {
	Search    string
	Page      int
	PageSize  int
	SortBy    string
	SortOrder string
}
