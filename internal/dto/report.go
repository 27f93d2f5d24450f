package dto

import (
	"time"

	"github.com/noah-isme/school-admin-api/internal/aggregation"
	appErrors "github.com/noah-isme/school-admin-api/pkg/errors"
)

// ReportType enumerates the report views the composer can build.
type ReportType string

const (
	ReportAdmissions        ReportType = "admissions"
	ReportFeeCollection     ReportType = "fee_collection"
	ReportStudentAttendance ReportType = "student_attendance"
	ReportStaffAttendance   ReportType = "staff_attendance"
	ReportExpenses          ReportType = "expenses"
	ReportIncomeStatement   ReportType = "income_statement"
	ReportDaily             ReportType = "daily"
	ReportStudentMonthly    ReportType = "student_monthly"
)

// ReportTypes lists every supported type.
var ReportTypes = []ReportType{
	ReportAdmissions,
	ReportFeeCollection,
	ReportStudentAttendance,
	ReportStaffAttendance,
	ReportExpenses,
	ReportIncomeStatement,
	ReportDaily,
	ReportStudentMonthly,
}

// Valid reports whether t is a supported report type.
func (t ReportType) Valid() bool {
	for _, known := range ReportTypes {
		if t == known {
			return true
		}
	}
	return false
}

// ReportParams is the raw parameter set of a report request. Dates use YYYY-MM-DD.
type ReportParams struct {
	Type      ReportType `json:"type" form:"-"`
	StartDate string     `json:"start_date,omitempty" form:"startDate"`
	EndDate   string     `json:"end_date,omitempty" form:"endDate"`
	Month     int        `json:"month,omitempty" form:"month"`
	Year      int        `json:"year,omitempty" form:"year"`
	Date      string     `json:"date,omitempty" form:"date"`
}

// SummaryCard is a headline figure of a report.
type SummaryCard struct {
	Key   string `json:"key"`
	Label string `json:"label"`
	Value string `json:"value"`
}

// ReportView is the presentation-ready result of a composition.
type ReportView struct {
	Type        ReportType                        `json:"type"`
	Title       string                            `json:"title"`
	Range       aggregation.DateRange             `json:"range"`
	Cards       []SummaryCard                     `json:"cards"`
	Breakdowns  map[string][]aggregation.KeyTotal `json:"breakdowns,omitempty"`
	Columns     []string                          `json:"columns"`
	Rows        []map[string]string               `json:"rows"`
	Warnings    []string                          `json:"warnings,omitempty"`
	GeneratedAt time.Time                         `json:"generated_at"`
}

// ReportSessionSnapshot is the observable state of a user's report session.
type ReportSessionSnapshot struct {
	State      string           `json:"state"`
	Generation uint64           `json:"generation"`
	Params     *ReportParams    `json:"params,omitempty"`
	View       *ReportView      `json:"view,omitempty"`
	Error      *appErrors.Error `json:"error,omitempty"`
	UpdatedAt  time.Time        `json:"updated_at"`
}
