package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/noah-isme/school-admin-api/internal/aggregation"
	"github.com/noah-isme/school-admin-api/internal/models"
	"github.com/noah-isme/school-admin-api/pkg/dataservice"
)

const dateLayout = "2006-01-02"

var (
	studentRefColumns = []string{"full_name", "gr_number", "class", "section"}
	feeRefColumns     = []string{"student_id", "fee_type", "fee_category", "total_amount", "discount_amount", "fine_amount"}
)

// ReportRepository fetches the row sets reports are composed from.
type ReportRepository struct {
	ds *dataservice.Client
}

// NewReportRepository constructs a report repository.
func NewReportRepository(ds *dataservice.Client) *ReportRepository {
	return &ReportRepository{ds: ds}
}

// rangeFilters selects rows whose column falls on a day within r: column >= start AND column < end+1day.
func rangeFilters(column string, r aggregation.DateRange) []dataservice.Filter {
	return []dataservice.Filter{
		dataservice.Gte(column, r.Start.Format(dateLayout)),
		dataservice.Lt(column, r.End.AddDate(0, 0, 1).Format(dateLayout)),
	}
}

// Admissions returns students admitted within the range with their family contact.
func (r *ReportRepository) Admissions(ctx context.Context, dr aggregation.DateRange) ([]models.Student, error) {
	var rows []models.Student
	err := r.ds.Select(ctx, dataservice.Query{
		Table:   "students",
		Columns: []string{"id", "full_name", "gr_number", "class", "section", "admission_date", "status", "family_id"},
		Joins: []dataservice.Join{{
			Table:   "families",
			Alias:   "family",
			Local:   "family_id",
			Columns: []string{"id", "father_name", "contact_number"},
		}},
		Filters: rangeFilters("admission_date", dr),
		Order:   []dataservice.Order{{Column: "admission_date"}, {Column: "full_name"}},
	}, &rows)
	if err != nil {
		return nil, fmt.Errorf("fetch admissions: %w", err)
	}
	return rows, nil
}

// FeePayments returns payments within the range with their fee and student.
func (r *ReportRepository) FeePayments(ctx context.Context, dr aggregation.DateRange) ([]models.FeePayment, error) {
	var rows []models.FeePayment
	err := r.ds.Select(ctx, dataservice.Query{
		Table: "fee_payments",
		Joins: []dataservice.Join{
			{Table: "student_fees", Alias: "fee", Local: "student_fee_id", Columns: feeRefColumns, Inner: true},
			{Table: "students", Alias: "student", From: "fee", Local: "student_id", Columns: studentRefColumns, Inner: true},
		},
		Filters: rangeFilters("payment_date", dr),
		Order:   []dataservice.Order{{Column: "payment_date"}, {Column: "receipt_number"}},
	}, &rows)
	if err != nil {
		return nil, fmt.Errorf("fetch fee payments: %w", err)
	}
	return rows, nil
}

// PaymentsForFees returns every payment made against the fees up to and including the
// given day, regardless of when the reporting range starts.
func (r *ReportRepository) PaymentsForFees(ctx context.Context, feeIDs []string, through time.Time) ([]models.FeePaymentAmount, error) {
	if len(feeIDs) == 0 {
		return []models.FeePaymentAmount{}, nil
	}
	var rows []models.FeePaymentAmount
	err := r.ds.Select(ctx, dataservice.Query{
		Table:   "fee_payments",
		Columns: []string{"student_fee_id", "amount_paid"},
		Filters: []dataservice.Filter{
			dataservice.In("student_fee_id", feeIDs),
			dataservice.Lt("payment_date", through.AddDate(0, 0, 1).Format(dateLayout)),
		},
	}, &rows)
	if err != nil {
		return nil, fmt.Errorf("fetch fee payment history: %w", err)
	}
	return rows, nil
}

// StudentAttendance returns student attendance rows within the range.
func (r *ReportRepository) StudentAttendance(ctx context.Context, dr aggregation.DateRange) ([]models.StudentAttendance, error) {
	var rows []models.StudentAttendance
	err := r.ds.Select(ctx, dataservice.Query{
		Table: "student_attendance",
		Joins: []dataservice.Join{
			{Table: "students", Alias: "student", Local: "student_id", Columns: studentRefColumns, Inner: true},
		},
		Filters: rangeFilters("date", dr),
		Order:   []dataservice.Order{{Column: "date"}, {Column: "student.full_name"}},
	}, &rows)
	if err != nil {
		return nil, fmt.Errorf("fetch student attendance: %w", err)
	}
	return rows, nil
}

// StaffAttendance returns staff attendance rows within the range.
func (r *ReportRepository) StaffAttendance(ctx context.Context, dr aggregation.DateRange) ([]models.StaffAttendance, error) {
	var rows []models.StaffAttendance
	err := r.ds.Select(ctx, dataservice.Query{
		Table: "staff_attendance",
		Joins: []dataservice.Join{
			{Table: "users", Alias: "staff", Local: "user_id", Columns: []string{"full_name", "email"}, Inner: true},
		},
		Filters: rangeFilters("date", dr),
		Order:   []dataservice.Order{{Column: "date"}, {Column: "staff.full_name"}},
	}, &rows)
	if err != nil {
		return nil, fmt.Errorf("fetch staff attendance: %w", err)
	}
	return rows, nil
}

// Expenses returns expenses within the range.
func (r *ReportRepository) Expenses(ctx context.Context, dr aggregation.DateRange) ([]models.Expense, error) {
	var rows []models.Expense
	err := r.ds.Select(ctx, dataservice.Query{
		Table:   "expenses",
		Filters: rangeFilters("date", dr),
		Order:   []dataservice.Order{{Column: "date"}, {Column: "title"}},
	}, &rows)
	if err != nil {
		return nil, fmt.Errorf("fetch expenses: %w", err)
	}
	return rows, nil
}

// MonthlyAttendanceSummary calls get_monthly_attendance_summary.
func (r *ReportRepository) MonthlyAttendanceSummary(ctx context.Context, month time.Month, year int) ([]models.MonthlyAttendanceSummary, error) {
	var rows []models.MonthlyAttendanceSummary
	err := r.ds.Call(ctx, "get_monthly_attendance_summary", map[string]interface{}{
		"p_month": int(month),
		"p_year":  year,
	}, &rows)
	if err != nil {
		return nil, fmt.Errorf("fetch monthly attendance summary: %w", err)
	}
	return rows, nil
}

// IncomeStatement calls get_income_statement.
func (r *ReportRepository) IncomeStatement(ctx context.Context, dr aggregation.DateRange) ([]models.IncomeStatementLine, error) {
	var rows []models.IncomeStatementLine
	err := r.ds.Call(ctx, "get_income_statement", map[string]interface{}{
		"p_start_date": dr.Start.Format(dateLayout),
		"p_end_date":   dr.End.Format(dateLayout),
	}, &rows)
	if err != nil {
		return nil, fmt.Errorf("fetch income statement: %w", err)
	}
	return rows, nil
}
