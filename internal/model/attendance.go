package model

// Attendance status values.
const (
	StatusPresent = "Present"
)

// Attendance is one marked presence. Date and Time are stored as
// YYYY-MM-DD and HH:MM:SS strings in the configured time zone.
type Attendance struct {
	ID       int64  `json:"id" db:"id"`
	Identity string `json:"identity" db:"identity"`
	Date     string `json:"date" db:"attendance_date"`
	Time     string `json:"time" db:"attendance_time"`
	Category string `json:"category" db:"category"`
	Status   string `json:"status" db:"status"`
}

// AttendanceEntry is an attendance row joined with the enrolled user's name.
type AttendanceEntry struct {
	Attendance
	Name string `json:"name" db:"name"`
}

// AttendanceFilter narrows attendance listings. Empty fields match everything.
type AttendanceFilter struct {
	Date     string
	Category string
}
