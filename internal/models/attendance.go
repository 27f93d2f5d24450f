package models

import "time"

// AttendanceStatus represents the status for attendance records.
type AttendanceStatus string

const (
	AttendanceStatusPresent AttendanceStatus = "present"
	AttendanceStatusAbsent  AttendanceStatus = "absent"
	AttendanceStatusLate    AttendanceStatus = "late"
)

// StudentAttendance is one student's status on one day.
type StudentAttendance struct {
	ID        string     `db:"id" json:"id"`
	StudentID string     `db:"student_id" json:"student_id"`
	Date      time.Time  `db:"date" json:"date"`
	Status    string     `db:"status" json:"status"`
	Student   StudentRef `db:"student" json:"student"`
}

// StaffRef is the subset of user columns embedded into staff attendance rows.
type StaffRef struct {
	FullName string `db:"full_name" json:"full_name"`
	Email    string `db:"email" json:"email"`
}

// StaffAttendance is one staff member's status on one day.
type StaffAttendance struct {
	ID     string    `db:"id" json:"id"`
	UserID string    `db:"user_id" json:"user_id"`
	Date   time.Time `db:"date" json:"date"`
	Status string    `db:"status" json:"status"`
	Staff  StaffRef  `db:"staff" json:"staff"`
}

// MonthlyAttendanceSummary is a row of get_monthly_attendance_summary.
type MonthlyAttendanceSummary struct {
	StudentID            string    `db:"student_id" json:"student_id"`
	PresentDays          int       `db:"present_days" json:"present_days"`
	AbsentDays           int       `db:"absent_days" json:"absent_days"`
	LateDays             int       `db:"late_days" json:"late_days"`
	TotalDays            int       `db:"total_days" json:"total_days"`
	AttendancePercentage RawAmount `db:"attendance_percentage" json:"attendance_percentage"`
}
