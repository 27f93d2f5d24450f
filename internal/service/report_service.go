package service

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/noah-isme/school-admin-api/internal/aggregation"
	"github.com/noah-isme/school-admin-api/internal/dto"
	"github.com/noah-isme/school-admin-api/internal/models"
	appErrors "github.com/noah-isme/school-admin-api/pkg/errors"
)

const (
	dateLayout     = "2006-01-02"
	minReportYear  = 2000
	maxReportYear  = 2100
	reportCacheKey = "report:"
)

type reportDataSource interface {
	Admissions(ctx context.Context, r aggregation.DateRange) ([]models.Student, error)
	FeePayments(ctx context.Context, r aggregation.DateRange) ([]models.FeePayment, error)
	PaymentsForFees(ctx context.Context, feeIDs []string, through time.Time) ([]models.FeePaymentAmount, error)
	StudentAttendance(ctx context.Context, r aggregation.DateRange) ([]models.StudentAttendance, error)
	StaffAttendance(ctx context.Context, r aggregation.DateRange) ([]models.StaffAttendance, error)
	Expenses(ctx context.Context, r aggregation.DateRange) ([]models.Expense, error)
	MonthlyAttendanceSummary(ctx context.Context, month time.Month, year int) ([]models.MonthlyAttendanceSummary, error)
	IncomeStatement(ctx context.Context, r aggregation.DateRange) ([]models.IncomeStatementLine, error)
}

// ReportRequest is a validated report parameter set.
type ReportRequest struct {
	Type  dto.ReportType
	Range aggregation.DateRange
	Month time.Month
	Year  int
}

// CacheKey identifies the composed view in the cache.
func (r ReportRequest) CacheKey() string {
	return fmt.Sprintf("%s%s:%s:%s", reportCacheKey, r.Type, r.Range.Start.Format(dateLayout), r.Range.End.Format(dateLayout))
}

// ReportServiceConfig tunes report composition.
type ReportServiceConfig struct {
	CacheTTL time.Duration
}

// ReportService validates report parameters, fetches rows and reduces them into views.
type ReportService struct {
	repo    reportDataSource
	cache   *CacheService
	metrics *MetricsService
	logger  *zap.Logger
	now     func() time.Time
	cfg     ReportServiceConfig

	generations cacheGenerations
}

// NewReportService constructs the report composer.
func NewReportService(repo reportDataSource, cache *CacheService, metrics *MetricsService, logger *zap.Logger, cfg ReportServiceConfig) *ReportService {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ReportService{repo: repo, cache: cache, metrics: metrics, logger: logger, now: time.Now, cfg: cfg}
}

// MonthRange returns the first and last calendar day of the month.
func MonthRange(month time.Month, year int) aggregation.DateRange {
	start := time.Date(year, month, 1, 0, 0, 0, 0, time.UTC)
	// day 0 of the next month is the last day of this one
	end := time.Date(year, month+1, 0, 0, 0, 0, 0, time.UTC)
	return aggregation.DateRange{Start: start, End: end}
}

func validationError(format string, args ...interface{}) error {
	return appErrors.Clone(appErrors.ErrValidation, fmt.Sprintf(format, args...))
}

func parseDay(field, raw string) (time.Time, error) {
	t, err := time.Parse(dateLayout, strings.TrimSpace(raw))
	if err != nil {
		return time.Time{}, validationError("%s must be a date in YYYY-MM-DD format", field)
	}
	return t, nil
}

func validateMonthYear(month, year int) error {
	if month < 1 || month > 12 {
		return validationError("month must be between 1 and 12")
	}
	if year < minReportYear || year > maxReportYear {
		return validationError("year must be between %d and %d", minReportYear, maxReportYear)
	}
	return nil
}

// Validate checks parameters before anything is fetched and resolves the date range.
func (s *ReportService) Validate(params dto.ReportParams) (ReportRequest, error) {
	req := ReportRequest{Type: params.Type}
	if !params.Type.Valid() {
		return req, validationError("unknown report type %q", params.Type)
	}

	switch params.Type {
	case dto.ReportDaily:
		raw := params.Date
		if raw == "" {
			raw = params.StartDate
		}
		if raw == "" {
			return req, validationError("date is required")
		}
		day, err := parseDay("date", raw)
		if err != nil {
			return req, err
		}
		req.Range = aggregation.DateRange{Start: day, End: day}
		return req, nil

	case dto.ReportStudentMonthly:
		if params.Month == 0 || params.Year == 0 {
			return req, validationError("month and year are required")
		}
		if err := validateMonthYear(params.Month, params.Year); err != nil {
			return req, err
		}
		req.Month, req.Year = time.Month(params.Month), params.Year
		req.Range = MonthRange(req.Month, req.Year)
		return req, nil
	}

	if params.StartDate == "" && params.EndDate == "" && (params.Month != 0 || params.Year != 0) {
		if err := validateMonthYear(params.Month, params.Year); err != nil {
			return req, err
		}
		req.Month, req.Year = time.Month(params.Month), params.Year
		req.Range = MonthRange(req.Month, req.Year)
		return req, nil
	}
	if params.StartDate == "" || params.EndDate == "" {
		return req, validationError("startDate and endDate are required")
	}
	start, err := parseDay("startDate", params.StartDate)
	if err != nil {
		return req, err
	}
	end, err := parseDay("endDate", params.EndDate)
	if err != nil {
		return req, err
	}
	if start.After(end) {
		return req, validationError("startDate must not be after endDate")
	}
	req.Range = aggregation.DateRange{Start: start, End: end}
	return req, nil
}

// Compose validates params, then returns the report view and whether it came from cache.
func (s *ReportService) Compose(ctx context.Context, params dto.ReportParams) (*dto.ReportView, bool, error) {
	req, err := s.Validate(params)
	if err != nil {
		s.metrics.RecordReport(string(params.Type), "invalid", 0)
		return nil, false, err
	}

	key := req.CacheKey()
	var cached dto.ReportView
	if s.cache.Get(ctx, key, &cached) {
		s.metrics.RecordReport(string(req.Type), "cached", 0)
		return &cached, true, nil
	}

	mark := s.generations.mark(key)
	start := time.Now()
	view, err := s.build(ctx, req)
	if err != nil {
		s.metrics.RecordReport(string(req.Type), "failed", 0)
		s.logger.Warn("report composition failed", zap.String("type", string(req.Type)), zap.Error(err))
		return nil, false, err
	}
	s.metrics.RecordReport(string(req.Type), "ok", time.Since(start))

	view.Type = req.Type
	view.Range = req.Range
	view.GeneratedAt = s.now().UTC()
	s.generations.storeIfCurrent(key, mark, func() {
		s.cache.Set(ctx, key, view, s.cfg.CacheTTL)
	})
	return view, false, nil
}

// InvalidateCache drops every cached report view.
func (s *ReportService) InvalidateCache(ctx context.Context) error {
	s.generations.bumpAll()
	return s.cache.Invalidate(ctx, reportCacheKey+"*")
}

func fetchError(what string, err error) error {
	return appErrors.WrapAs(appErrors.ErrDataFetch, err, "failed to fetch "+what)
}

func (s *ReportService) build(ctx context.Context, req ReportRequest) (*dto.ReportView, error) {
	switch req.Type {
	case dto.ReportAdmissions:
		return s.admissions(ctx, req.Range)
	case dto.ReportFeeCollection:
		return s.feeCollection(ctx, req.Range)
	case dto.ReportStudentAttendance:
		return s.studentAttendance(ctx, req.Range)
	case dto.ReportStaffAttendance:
		return s.staffAttendance(ctx, req.Range)
	case dto.ReportExpenses:
		return s.expenses(ctx, req.Range)
	case dto.ReportIncomeStatement:
		return s.incomeStatement(ctx, req.Range)
	case dto.ReportDaily:
		return s.daily(ctx, req.Range)
	case dto.ReportStudentMonthly:
		return s.studentMonthly(ctx, req)
	}
	return nil, validationError("unknown report type %q", req.Type)
}

func (s *ReportService) warnMalformed(view *dto.ReportView, source string, n int) {
	if n == 0 {
		return
	}
	s.logger.Warn("malformed amounts treated as zero", zap.String("source", source), zap.Int("rows", n))
	view.Warnings = append(view.Warnings, fmt.Sprintf("%d %s rows had unreadable amounts and were counted as 0", n, source))
}

func (s *ReportService) admissions(ctx context.Context, r aggregation.DateRange) (*dto.ReportView, error) {
	rows, err := s.repo.Admissions(ctx, r)
	if err != nil {
		return nil, fetchError("admissions", err)
	}
	rows = aggregation.FilterByDate(rows, func(st models.Student) time.Time { return st.AdmissionDate }, r)
	summary := aggregation.SummarizeAdmissions(rows)

	view := &dto.ReportView{
		Title: "Admissions",
		Cards: []dto.SummaryCard{
			{Key: "total", Label: "Total admissions", Value: strconv.Itoa(summary.Count)},
			{Key: "classes", Label: "Classes", Value: strconv.Itoa(len(summary.ByClass))},
		},
		Columns: []string{"GR Number", "Name", "Class", "Section", "Admission Date", "Father Name", "Contact"},
	}
	for _, st := range rows {
		view.Rows = append(view.Rows, map[string]string{
			"GR Number":      st.GRNumber,
			"Name":           st.FullName,
			"Class":          st.Class,
			"Section":        text(st.Section),
			"Admission Date": st.AdmissionDate.Format(dateLayout),
			"Father Name":    text(st.Family.FatherName),
			"Contact":        text(st.Family.ContactNumber),
		})
	}
	return view, nil
}

func (s *ReportService) feeCollection(ctx context.Context, r aggregation.DateRange) (*dto.ReportView, error) {
	rows, err := s.repo.FeePayments(ctx, r)
	if err != nil {
		return nil, fetchError("fee payments", err)
	}
	rows = aggregation.FilterByDate(rows, func(p models.FeePayment) time.Time { return p.PaymentDate }, r)
	summary := aggregation.SummarizeFeeCollection(rows)
	history, err := s.repo.PaymentsForFees(ctx, summary.FeeIDs(), r.End)
	if err != nil {
		return nil, fetchError("fee payment history", err)
	}
	summary.SettleAgainst(aggregation.PaidToDate(history))

	view := &dto.ReportView{
		Title: "Fee Collection",
		Cards: []dto.SummaryCard{
			{Key: "total", Label: "Total collected", Value: money(summary.Total)},
			{Key: "payments", Label: "Payments", Value: strconv.Itoa(summary.PaymentCount)},
			{Key: "outstanding", Label: "Outstanding balance", Value: money(summary.TotalOutstanding)},
		},
		Breakdowns: map[string][]aggregation.KeyTotal{
			"by_method":   aggregation.SortedTotals(summary.ByMethod),
			"by_category": aggregation.SortedTotals(summary.ByCategory),
			"by_fee_type": aggregation.SortedTotals(summary.ByFeeType),
		},
		Columns: []string{"Receipt", "Date", "Student", "GR Number", "Class", "Fee Type", "Method", "Amount", "Received By"},
	}
	for _, p := range rows {
		view.Rows = append(view.Rows, map[string]string{
			"Receipt":     text(p.ReceiptNumber),
			"Date":        p.PaymentDate.Format(dateLayout),
			"Student":     p.Student.FullName,
			"GR Number":   p.Student.GRNumber,
			"Class":       p.Student.Class,
			"Fee Type":    aggregation.DisplayKey(text(p.Fee.FeeType)),
			"Method":      aggregation.DisplayKey(text(p.PaymentMethod)),
			"Amount":      money(aggregation.Amount(p.AmountPaid.String())),
			"Received By": text(p.ReceivedBy),
		})
	}
	s.warnMalformed(view, "payment", summary.MalformedAmounts)
	return view, nil
}

func attendanceCards(b aggregation.AttendanceBreakdown) []dto.SummaryCard {
	return []dto.SummaryCard{
		{Key: "present", Label: "Present", Value: strconv.Itoa(b.Present)},
		{Key: "absent", Label: "Absent", Value: strconv.Itoa(b.Absent)},
		{Key: "late", Label: "Late", Value: strconv.Itoa(b.Late)},
		{Key: "present_pct", Label: "Attendance rate", Value: strconv.Itoa(b.PresentPct) + "%"},
	}
}

func (s *ReportService) studentAttendance(ctx context.Context, r aggregation.DateRange) (*dto.ReportView, error) {
	rows, err := s.repo.StudentAttendance(ctx, r)
	if err != nil {
		return nil, fetchError("student attendance", err)
	}
	rows = aggregation.FilterByDate(rows, func(a models.StudentAttendance) time.Time { return a.Date }, r)
	breakdown := aggregation.ComputeAttendanceBreakdown(aggregation.StudentStatuses(rows))

	view := &dto.ReportView{
		Title:   "Student Attendance",
		Cards:   attendanceCards(breakdown),
		Columns: []string{"Date", "Student", "GR Number", "Class", "Status"},
	}
	for _, a := range rows {
		view.Rows = append(view.Rows, map[string]string{
			"Date":      a.Date.Format(dateLayout),
			"Student":   a.Student.FullName,
			"GR Number": a.Student.GRNumber,
			"Class":     a.Student.Class,
			"Status":    a.Status,
		})
	}
	return view, nil
}

func (s *ReportService) staffAttendance(ctx context.Context, r aggregation.DateRange) (*dto.ReportView, error) {
	rows, err := s.repo.StaffAttendance(ctx, r)
	if err != nil {
		return nil, fetchError("staff attendance", err)
	}
	rows = aggregation.FilterByDate(rows, func(a models.StaffAttendance) time.Time { return a.Date }, r)
	breakdown := aggregation.ComputeAttendanceBreakdown(aggregation.StaffStatuses(rows))

	view := &dto.ReportView{
		Title:   "Staff Attendance",
		Cards:   attendanceCards(breakdown),
		Columns: []string{"Date", "Staff", "Email", "Status"},
	}
	for _, a := range rows {
		view.Rows = append(view.Rows, map[string]string{
			"Date":   a.Date.Format(dateLayout),
			"Staff":  a.Staff.FullName,
			"Email":  a.Staff.Email,
			"Status": a.Status,
		})
	}
	return view, nil
}

func (s *ReportService) expenses(ctx context.Context, r aggregation.DateRange) (*dto.ReportView, error) {
	rows, err := s.repo.Expenses(ctx, r)
	if err != nil {
		return nil, fetchError("expenses", err)
	}
	rows = aggregation.FilterByDate(rows, func(e models.Expense) time.Time { return e.Date }, r)
	summary := aggregation.SummarizeExpenses(rows)

	view := &dto.ReportView{
		Title: "Expenses",
		Cards: []dto.SummaryCard{
			{Key: "total", Label: "Total expenses", Value: money(summary.Total)},
			{Key: "count", Label: "Entries", Value: strconv.Itoa(summary.Count)},
		},
		Breakdowns: map[string][]aggregation.KeyTotal{
			"by_category": aggregation.SortedTotals(summary.ByCategory),
		},
		Columns: []string{"Date", "Title", "Category", "Amount", "Description"},
	}
	for _, e := range rows {
		view.Rows = append(view.Rows, map[string]string{
			"Date":        e.Date.Format(dateLayout),
			"Title":       e.Title,
			"Category":    aggregation.DisplayKey(text(e.Category)),
			"Amount":      money(aggregation.Amount(e.Amount.String())),
			"Description": text(e.Description),
		})
	}
	s.warnMalformed(view, "expense", summary.MalformedAmounts)
	return view, nil
}

func (s *ReportService) incomeStatement(ctx context.Context, r aggregation.DateRange) (*dto.ReportView, error) {
	lines, err := s.repo.IncomeStatement(ctx, r)
	if err != nil {
		return nil, fetchError("income statement", err)
	}
	st := aggregation.BuildIncomeStatement(lines)

	view := &dto.ReportView{
		Title: "Income Statement",
		Cards: []dto.SummaryCard{
			{Key: "total_income", Label: "Total income", Value: money(st.TotalIncome)},
			{Key: "total_expense", Label: "Total expenses", Value: money(st.TotalExpense)},
			{Key: "net", Label: profitLabel(st.Net), Value: money(st.Net.Net)},
		},
		Breakdowns: map[string][]aggregation.KeyTotal{
			"income":   st.Income,
			"expenses": st.Expenses,
		},
		Columns: []string{"Kind", "Category", "Amount"},
	}
	for _, line := range st.Income {
		view.Rows = append(view.Rows, map[string]string{"Kind": "Income", "Category": line.Label, "Amount": money(line.Amount)})
	}
	for _, line := range st.Expenses {
		view.Rows = append(view.Rows, map[string]string{"Kind": "Expense", "Category": line.Label, "Amount": money(line.Amount)})
	}
	return view, nil
}

func (s *ReportService) daily(ctx context.Context, r aggregation.DateRange) (*dto.ReportView, error) {
	var (
		admissions []models.Student
		payments   []models.FeePayment
		students   []models.StudentAttendance
		staff      []models.StaffAttendance
		expenses   []models.Expense
	)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() (err error) {
		if admissions, err = s.repo.Admissions(gctx, r); err != nil {
			return fetchError("admissions", err)
		}
		return nil
	})
	g.Go(func() (err error) {
		if payments, err = s.repo.FeePayments(gctx, r); err != nil {
			return fetchError("fee payments", err)
		}
		return nil
	})
	g.Go(func() (err error) {
		if students, err = s.repo.StudentAttendance(gctx, r); err != nil {
			return fetchError("student attendance", err)
		}
		return nil
	})
	g.Go(func() (err error) {
		if staff, err = s.repo.StaffAttendance(gctx, r); err != nil {
			return fetchError("staff attendance", err)
		}
		return nil
	})
	g.Go(func() (err error) {
		if expenses, err = s.repo.Expenses(gctx, r); err != nil {
			return fetchError("expenses", err)
		}
		return nil
	})
	if err := g.Wait(); err != nil {
		return nil, err
	}

	summary := aggregation.CombineDailyRollup(
		aggregation.FilterByDate(admissions, func(st models.Student) time.Time { return st.AdmissionDate }, r),
		aggregation.FilterByDate(payments, func(p models.FeePayment) time.Time { return p.PaymentDate }, r),
		aggregation.FilterByDate(students, func(a models.StudentAttendance) time.Time { return a.Date }, r),
		aggregation.FilterByDate(staff, func(a models.StaffAttendance) time.Time { return a.Date }, r),
		aggregation.FilterByDate(expenses, func(e models.Expense) time.Time { return e.Date }, r),
	)

	cards := []dto.SummaryCard{
		{Key: "admissions", Label: "New admissions", Value: strconv.Itoa(summary.AdmissionsCount)},
		{Key: "fee_collection", Label: "Fees collected", Value: money(summary.FeeCollectionTotal)},
		{Key: "expenses", Label: "Expenses", Value: money(summary.ExpensesTotal)},
		{Key: "net", Label: profitLabel(summary.NetIncome), Value: money(summary.NetIncome.Net)},
		{Key: "student_present_pct", Label: "Student attendance", Value: strconv.Itoa(summary.StudentAttendance.PresentPct) + "%"},
		{Key: "staff_present_pct", Label: "Staff attendance", Value: strconv.Itoa(summary.StaffAttendance.PresentPct) + "%"},
	}
	view := &dto.ReportView{
		Title: "Daily Summary",
		Cards: cards,
		Breakdowns: map[string][]aggregation.KeyTotal{
			"collections_by_method": aggregation.SortedTotals(summary.CollectionsByMethod),
			"expenses_by_category":  aggregation.SortedTotals(summary.ExpensesByCategory),
		},
		Columns: []string{"Metric", "Value"},
	}
	for _, c := range cards {
		view.Rows = append(view.Rows, map[string]string{"Metric": c.Label, "Value": c.Value})
	}
	for _, b := range []struct {
		label string
		v     aggregation.AttendanceBreakdown
	}{{"Students", summary.StudentAttendance}, {"Staff", summary.StaffAttendance}} {
		view.Rows = append(view.Rows,
			map[string]string{"Metric": b.label + " present", "Value": strconv.Itoa(b.v.Present)},
			map[string]string{"Metric": b.label + " absent", "Value": strconv.Itoa(b.v.Absent)},
			map[string]string{"Metric": b.label + " late", "Value": strconv.Itoa(b.v.Late)},
		)
	}
	s.warnMalformed(view, "payment or expense", summary.MalformedAmounts)
	return view, nil
}

func (s *ReportService) studentMonthly(ctx context.Context, req ReportRequest) (*dto.ReportView, error) {
	var (
		admissions []models.Student
		summaries  []models.MonthlyAttendanceSummary
	)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() (err error) {
		if admissions, err = s.repo.Admissions(gctx, req.Range); err != nil {
			return fetchError("admissions", err)
		}
		return nil
	})
	g.Go(func() (err error) {
		if summaries, err = s.repo.MonthlyAttendanceSummary(gctx, req.Month, req.Year); err != nil {
			return fetchError("monthly attendance summary", err)
		}
		return nil
	})
	if err := g.Wait(); err != nil {
		return nil, err
	}

	admissions = aggregation.FilterByDate(admissions, func(st models.Student) time.Time { return st.AdmissionDate }, req.Range)
	records := aggregation.BuildStudentMonthlyRollup(admissions, summaries)

	withAttendance := 0
	for _, rec := range records {
		if rec.TotalDays != nil {
			withAttendance++
		}
	}
	view := &dto.ReportView{
		Title: fmt.Sprintf("Student Monthly Report %s %d", req.Month, req.Year),
		Cards: []dto.SummaryCard{
			{Key: "admissions", Label: "Admitted this month", Value: strconv.Itoa(len(records))},
			{Key: "with_attendance", Label: "With attendance records", Value: strconv.Itoa(withAttendance)},
		},
		Columns: []string{"GR Number", "Name", "Class", "Admission Date", "Father Name", "Present", "Absent", "Late", "Total Days", "Attendance %"},
	}
	for _, rec := range records {
		row := map[string]string{
			"GR Number":      rec.GRNumber,
			"Name":           rec.FullName,
			"Class":          rec.Class,
			"Admission Date": rec.AdmissionDate.Format(dateLayout),
			"Father Name":    text(rec.FatherName),
			"Present":        count(rec.PresentDays),
			"Absent":         count(rec.AbsentDays),
			"Late":           count(rec.LateDays),
			"Total Days":     count(rec.TotalDays),
			"Attendance %":   "",
		}
		if rec.AttendancePercentage != nil {
			row["Attendance %"] = rec.AttendancePercentage.StringFixed(2)
		}
		view.Rows = append(view.Rows, row)
	}
	return view, nil
}
