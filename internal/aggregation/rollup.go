package aggregation

import (
	"time"

	"github.com/shopspring/decimal"

	"github.com/noah-isme/school-admin-api/internal/models"
)

// DailySummary combines one day's activity across every source.
type DailySummary struct {
	AdmissionsCount     int                        `json:"admissions_count"`
	PaymentCount        int                        `json:"payment_count"`
	FeeCollectionTotal  decimal.Decimal            `json:"fee_collection_total"`
	CollectionsByMethod map[string]decimal.Decimal `json:"collections_by_method"`
	ExpenseCount        int                        `json:"expense_count"`
	ExpensesTotal       decimal.Decimal            `json:"expenses_total"`
	ExpensesByCategory  map[string]decimal.Decimal `json:"expenses_by_category"`
	StudentAttendance   AttendanceBreakdown        `json:"student_attendance"`
	StaffAttendance     AttendanceBreakdown        `json:"staff_attendance"`
	NetIncome           NetIncome                  `json:"net_income"`
	MalformedAmounts    int                        `json:"malformed_amounts"`
}

// CombineDailyRollup reduces the five row sets of a day. The result does not depend on row order.
func CombineDailyRollup(
	admissions []models.Student,
	payments []models.FeePayment,
	studentAttendance []models.StudentAttendance,
	staffAttendance []models.StaffAttendance,
	expenses []models.Expense,
) DailySummary {
	fees := SummarizeFeeCollection(payments)
	spend := SummarizeExpenses(expenses)
	return DailySummary{
		AdmissionsCount:     len(admissions),
		PaymentCount:        fees.PaymentCount,
		FeeCollectionTotal:  fees.Total,
		CollectionsByMethod: fees.ByMethod,
		ExpenseCount:        spend.Count,
		ExpensesTotal:       spend.Total,
		ExpensesByCategory:  spend.ByCategory,
		StudentAttendance:   ComputeAttendanceBreakdown(StudentStatuses(studentAttendance)),
		StaffAttendance:     ComputeAttendanceBreakdown(StaffStatuses(staffAttendance)),
		NetIncome:           ComputeNetIncome(fees.Total, spend.Total),
		MalformedAmounts:    fees.MalformedAmounts + spend.MalformedAmounts,
	}
}

// StudentMonthlyRecord is an admitted student with their attendance for the month, when any was recorded.
type StudentMonthlyRecord struct {
	StudentID            string           `json:"student_id"`
	FullName             string           `json:"full_name"`
	GRNumber             string           `json:"gr_number"`
	Class                string           `json:"class"`
	Section              *string          `json:"section,omitempty"`
	AdmissionDate        time.Time        `json:"admission_date"`
	FatherName           *string          `json:"father_name,omitempty"`
	PresentDays          *int             `json:"present_days"`
	AbsentDays           *int             `json:"absent_days"`
	LateDays             *int             `json:"late_days"`
	TotalDays            *int             `json:"total_days"`
	AttendancePercentage *decimal.Decimal `json:"attendance_percentage"`
}

// BuildStudentMonthlyRollup left-joins admissions to attendance summary rows on student id.
// Students without a summary row keep nil attendance fields. Output follows admission order.
func BuildStudentMonthlyRollup(admissions []models.Student, summaries []models.MonthlyAttendanceSummary) []StudentMonthlyRecord {
	byStudent := make(map[string]models.MonthlyAttendanceSummary, len(summaries))
	for _, s := range summaries {
		byStudent[s.StudentID] = s
	}
	out := make([]StudentMonthlyRecord, 0, len(admissions))
	for _, st := range admissions {
		rec := StudentMonthlyRecord{
			StudentID:     st.ID,
			FullName:      st.FullName,
			GRNumber:      st.GRNumber,
			Class:         st.Class,
			Section:       st.Section,
			AdmissionDate: st.AdmissionDate,
			FatherName:    st.Family.FatherName,
		}
		if s, ok := byStudent[st.ID]; ok {
			present, absent, late, total := s.PresentDays, s.AbsentDays, s.LateDays, s.TotalDays
			pct := Amount(s.AttendancePercentage.String())
			rec.PresentDays = &present
			rec.AbsentDays = &absent
			rec.LateDays = &late
			rec.TotalDays = &total
			rec.AttendancePercentage = &pct
		}
		out = append(out, rec)
	}
	return out
}
