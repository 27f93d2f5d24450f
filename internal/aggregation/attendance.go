package aggregation

import (
	"strings"

	"github.com/noah-isme/school-admin-api/internal/models"
)

// AttendanceBreakdown counts statuses and their share of the total.
type AttendanceBreakdown struct {
	Present    int `json:"present"`
	Absent     int `json:"absent"`
	Late       int `json:"late"`
	Total      int `json:"total"`
	PresentPct int `json:"present_pct"`
	AbsentPct  int `json:"absent_pct"`
	LatePct    int `json:"late_pct"`
}

// ComputeAttendanceBreakdown tallies present/absent/late. Unknown statuses are ignored and do not count toward the total.
func ComputeAttendanceBreakdown(statuses []string) AttendanceBreakdown {
	var b AttendanceBreakdown
	for _, s := range statuses {
		switch models.AttendanceStatus(strings.ToLower(strings.TrimSpace(s))) {
		case models.AttendanceStatusPresent:
			b.Present++
		case models.AttendanceStatusAbsent:
			b.Absent++
		case models.AttendanceStatusLate:
			b.Late++
		default:
			continue
		}
		b.Total++
	}
	b.PresentPct = Percent(b.Present, b.Total)
	b.AbsentPct = Percent(b.Absent, b.Total)
	b.LatePct = Percent(b.Late, b.Total)
	return b
}

// StudentStatuses extracts statuses from student attendance rows.
func StudentStatuses(rows []models.StudentAttendance) []string {
	out := make([]string, len(rows))
	for i, r := range rows {
		out[i] = r.Status
	}
	return out
}

// StaffStatuses extracts statuses from staff attendance rows.
func StaffStatuses(rows []models.StaffAttendance) []string {
	out := make([]string, len(rows))
	for i, r := range rows {
		out[i] = r.Status
	}
	return out
}
