package models

import "fmt"

// Day is a fixed catalog row for a teaching day. Ordinal drives display order.
type Day struct {
	ID      string `db:"id" json:"id"`
	Name    string `db:"name" json:"name"`
	Ordinal int    `db:"ordinal" json:"ordinal"`
}

// TimeSlot is a fixed period of the academic day.
type TimeSlot struct {
	ID        string `db:"id" json:"id"`
	StartTime string `db:"start_time" json:"start_time"`
	EndTime   string `db:"end_time" json:"end_time"`
	Ordinal   int    `db:"ordinal" json:"ordinal"`
}

// Label renders the display label used as the routine grid column key.
func (t TimeSlot) Label() string {
	return fmt.Sprintf("%s - %s", t.StartTime, t.EndTime)
}
