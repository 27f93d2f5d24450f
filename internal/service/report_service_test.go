package service

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/noah-isme/school-admin-api/internal/aggregation"
	"github.com/noah-isme/school-admin-api/internal/dto"
	"github.com/noah-isme/school-admin-api/internal/models"
	appErrors "github.com/noah-isme/school-admin-api/pkg/errors"
)

type fakeReportSource struct {
	mu         sync.Mutex
	admissions []models.Student
	payments   []models.FeePayment
	students   []models.StudentAttendance
	staff      []models.StaffAttendance
	expenses   []models.Expense
	monthly    []models.MonthlyAttendanceSummary
	income     []models.IncomeStatementLine
	history    []models.FeePaymentAmount
	historyFor []string
	err        error
	calls      int
	ranges     []aggregation.DateRange
}

func (f *fakeReportSource) record(r aggregation.DateRange) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	f.ranges = append(f.ranges, r)
	return f.err
}

func (f *fakeReportSource) Admissions(_ context.Context, r aggregation.DateRange) ([]models.Student, error) {
	return f.admissions, f.record(r)
}

func (f *fakeReportSource) FeePayments(_ context.Context, r aggregation.DateRange) ([]models.FeePayment, error) {
	return f.payments, f.record(r)
}

func (f *fakeReportSource) PaymentsForFees(_ context.Context, feeIDs []string, _ time.Time) ([]models.FeePaymentAmount, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.historyFor = append([]string(nil), feeIDs...)
	want := make(map[string]bool, len(feeIDs))
	for _, id := range feeIDs {
		want[id] = true
	}
	var out []models.FeePaymentAmount
	for _, h := range f.history {
		if want[h.StudentFeeID] {
			out = append(out, h)
		}
	}
	return out, f.err
}

func (f *fakeReportSource) StudentAttendance(_ context.Context, r aggregation.DateRange) ([]models.StudentAttendance, error) {
	return f.students, f.record(r)
}

func (f *fakeReportSource) StaffAttendance(_ context.Context, r aggregation.DateRange) ([]models.StaffAttendance, error) {
	return f.staff, f.record(r)
}

func (f *fakeReportSource) Expenses(_ context.Context, r aggregation.DateRange) ([]models.Expense, error) {
	return f.expenses, f.record(r)
}

func (f *fakeReportSource) MonthlyAttendanceSummary(_ context.Context, month time.Month, year int) ([]models.MonthlyAttendanceSummary, error) {
	return f.monthly, f.record(MonthRange(month, year))
}

func (f *fakeReportSource) IncomeStatement(_ context.Context, r aggregation.DateRange) ([]models.IncomeStatementLine, error) {
	return f.income, f.record(r)
}

func day(raw string) time.Time {
	t, _ := time.Parse(dateLayout, raw)
	return t
}

func newReportServiceForTest(src *fakeReportSource) (*ReportService, *memoryCacheRepo) {
	repo := newMemoryCacheRepo()
	svc := NewReportService(src, newTestCache(repo), nil, zap.NewNop(), ReportServiceConfig{CacheTTL: time.Minute})
	svc.now = func() time.Time { return day("2024-03-31") }
	return svc, repo
}

func TestMonthRange(t *testing.T) {
	r := MonthRange(time.February, 2024)
	assert.Equal(t, "2024-02-01", r.Start.Format(dateLayout))
	assert.Equal(t, "2024-02-29", r.End.Format(dateLayout))

	r = MonthRange(time.February, 2023)
	assert.Equal(t, "2023-02-01", r.Start.Format(dateLayout))
	assert.Equal(t, "2023-02-28", r.End.Format(dateLayout))

	r = MonthRange(time.December, 2023)
	assert.Equal(t, "2023-12-31", r.End.Format(dateLayout))
}

func TestReportServiceValidate(t *testing.T) {
	svc, _ := newReportServiceForTest(&fakeReportSource{})

	cases := []struct {
		name   string
		params dto.ReportParams
	}{
		{"unknown type", dto.ReportParams{Type: "grades", StartDate: "2024-01-01", EndDate: "2024-01-31"}},
		{"missing dates", dto.ReportParams{Type: dto.ReportExpenses}},
		{"missing end", dto.ReportParams{Type: dto.ReportExpenses, StartDate: "2024-01-01"}},
		{"start after end", dto.ReportParams{Type: dto.ReportExpenses, StartDate: "2024-02-01", EndDate: "2024-01-01"}},
		{"bad date", dto.ReportParams{Type: dto.ReportExpenses, StartDate: "01/02/2024", EndDate: "2024-01-01"}},
		{"month out of range", dto.ReportParams{Type: dto.ReportStudentMonthly, Month: 13, Year: 2024}},
		{"year out of range", dto.ReportParams{Type: dto.ReportStudentMonthly, Month: 1, Year: 1999}},
		{"monthly without year", dto.ReportParams{Type: dto.ReportStudentMonthly, Month: 1}},
		{"daily without date", dto.ReportParams{Type: dto.ReportDaily}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := svc.Validate(tc.params)
			require.Error(t, err)
			assert.True(t, errors.Is(err, appErrors.ErrValidation))
		})
	}

	req, err := svc.Validate(dto.ReportParams{Type: dto.ReportFeeCollection, Month: 2, Year: 2024})
	require.NoError(t, err)
	assert.Equal(t, "report:fee_collection:2024-02-01:2024-02-29", req.CacheKey())

	req, err = svc.Validate(dto.ReportParams{Type: dto.ReportExpenses, Month: 2, Year: 2023})
	require.NoError(t, err)
	assert.Equal(t, "2023-02-01", req.Range.Start.Format(dateLayout))
	assert.Equal(t, "2023-02-28", req.Range.End.Format(dateLayout))

	req, err = svc.Validate(dto.ReportParams{Type: dto.ReportExpenses, StartDate: "2024-01-05", EndDate: "2024-01-05"})
	require.NoError(t, err)
	assert.True(t, req.Range.Start.Equal(req.Range.End))
}

func TestReportServiceInvalidParamsNeverFetch(t *testing.T) {
	src := &fakeReportSource{}
	svc, _ := newReportServiceForTest(src)

	_, _, err := svc.Compose(context.Background(), dto.ReportParams{Type: dto.ReportAdmissions, StartDate: "2024-03-01", EndDate: "2024-02-01"})
	require.Error(t, err)
	assert.Zero(t, src.calls)
}

func TestReportServiceFeeCollection(t *testing.T) {
	src := &fakeReportSource{payments: []models.FeePayment{
		{ID: "p1", StudentFeeID: "f1", AmountPaid: "100", PaymentDate: day("2024-01-10"), PaymentMethod: strPtr("cash"),
			Fee: models.FeeRef{FeeType: strPtr("tuition"), TotalAmount: "300"}, Student: models.StudentRef{FullName: "Ayu"}},
		{ID: "p2", StudentFeeID: "f1", AmountPaid: "25", PaymentDate: day("2024-01-11"), PaymentMethod: strPtr("cash"),
			Fee: models.FeeRef{FeeType: strPtr("tuition"), TotalAmount: "300"}, Student: models.StudentRef{FullName: "Ayu"}},
		{ID: "p3", StudentFeeID: "f2", AmountPaid: "50", PaymentDate: day("2024-01-12"), PaymentMethod: strPtr("bank_transfer"),
			Fee: models.FeeRef{TotalAmount: "50"}, Student: models.StudentRef{FullName: "Budi"}},
		{ID: "p4", StudentFeeID: "f3", AmountPaid: "999", PaymentDate: day("2024-02-01"), PaymentMethod: strPtr("cash")},
	}}
	svc, _ := newReportServiceForTest(src)

	view, hit, err := svc.Compose(context.Background(), dto.ReportParams{Type: dto.ReportFeeCollection, StartDate: "2024-01-01", EndDate: "2024-01-31"})
	require.NoError(t, err)
	assert.False(t, hit)
	require.Len(t, view.Rows, 3)
	assert.Equal(t, "175.00", view.Cards[0].Value)
	assert.Equal(t, "3", view.Cards[1].Value)
	assert.Equal(t, "175.00", view.Cards[2].Value)

	methods := view.Breakdowns["by_method"]
	require.Len(t, methods, 2)
	assert.Equal(t, "cash", methods[0].Key)
	assert.Equal(t, "125", methods[0].Amount.String())
	assert.Equal(t, "bank_transfer", methods[1].Key)
	assert.Equal(t, "50", methods[1].Amount.String())

	types := view.Breakdowns["by_fee_type"]
	require.Len(t, types, 2)
	assert.Equal(t, aggregation.UndefinedKey, types[1].Key)
	assert.Empty(t, view.Warnings)
}

func TestReportServiceFeeCollectionOutstandingCountsEarlierPayments(t *testing.T) {
	fee := models.FeeRef{FeeType: strPtr("tuition"), TotalAmount: "300"}
	src := &fakeReportSource{
		payments: []models.FeePayment{
			{ID: "p2", StudentFeeID: "f1", AmountPaid: "50", PaymentDate: day("2024-02-10"), PaymentMethod: strPtr("cash"), Fee: fee},
		},
		history: []models.FeePaymentAmount{
			{StudentFeeID: "f1", AmountPaid: "200"},
			{StudentFeeID: "f1", AmountPaid: "50"},
			{StudentFeeID: "f9", AmountPaid: "10"},
		},
	}
	svc, _ := newReportServiceForTest(src)

	view, _, err := svc.Compose(context.Background(), dto.ReportParams{Type: dto.ReportFeeCollection, StartDate: "2024-02-01", EndDate: "2024-02-29"})
	require.NoError(t, err)
	assert.Equal(t, []string{"f1"}, src.historyFor)
	assert.Equal(t, "50.00", view.Cards[0].Value)
	assert.Equal(t, "Outstanding balance", view.Cards[2].Label)
	assert.Equal(t, "50.00", view.Cards[2].Value)
}

func TestReportServiceMalformedAmountWarns(t *testing.T) {
	src := &fakeReportSource{expenses: []models.Expense{
		{Title: "Paper", Amount: "12.50", Date: day("2024-01-03"), Category: strPtr("supplies")},
		{Title: "Broken", Amount: "twelve", Date: day("2024-01-03")},
	}}
	svc, _ := newReportServiceForTest(src)

	view, _, err := svc.Compose(context.Background(), dto.ReportParams{Type: dto.ReportExpenses, StartDate: "2024-01-01", EndDate: "2024-01-31"})
	require.NoError(t, err)
	assert.Equal(t, "12.50", view.Cards[0].Value)
	require.Len(t, view.Warnings, 1)
	assert.Contains(t, view.Warnings[0], "1 expense rows")
}

func TestReportServiceCachesByTypeAndRange(t *testing.T) {
	src := &fakeReportSource{admissions: []models.Student{{ID: "s1", FullName: "Ayu", Class: "X", AdmissionDate: day("2024-01-02")}}}
	svc, cache := newReportServiceForTest(src)
	params := dto.ReportParams{Type: dto.ReportAdmissions, StartDate: "2024-01-01", EndDate: "2024-01-31"}

	_, hit, err := svc.Compose(context.Background(), params)
	require.NoError(t, err)
	assert.False(t, hit)
	calls := src.calls

	view, hit, err := svc.Compose(context.Background(), params)
	require.NoError(t, err)
	assert.True(t, hit)
	assert.Equal(t, calls, src.calls)
	assert.Equal(t, "1", view.Cards[0].Value)

	require.NoError(t, svc.InvalidateCache(context.Background()))
	assert.False(t, cache.has("report:admissions:2024-01-01:2024-01-31"))
	_, hit, err = svc.Compose(context.Background(), params)
	require.NoError(t, err)
	assert.False(t, hit)
}

func TestReportServiceFetchFailure(t *testing.T) {
	src := &fakeReportSource{err: errors.New("connection refused")}
	svc, cache := newReportServiceForTest(src)

	_, _, err := svc.Compose(context.Background(), dto.ReportParams{Type: dto.ReportStaffAttendance, StartDate: "2024-01-01", EndDate: "2024-01-31"})
	require.Error(t, err)
	assert.True(t, errors.Is(err, appErrors.ErrDataFetch))
	assert.Zero(t, cache.sets)
}

func TestReportServiceDaily(t *testing.T) {
	src := &fakeReportSource{
		admissions: []models.Student{{ID: "s1", AdmissionDate: day("2024-01-15")}},
		payments: []models.FeePayment{
			{AmountPaid: "200", PaymentDate: day("2024-01-15"), PaymentMethod: strPtr("cash")},
		},
		students: []models.StudentAttendance{
			{Status: "present", Date: day("2024-01-15")},
			{Status: "absent", Date: day("2024-01-15")},
		},
		staff:    []models.StaffAttendance{{Status: "late", Date: day("2024-01-15")}},
		expenses: []models.Expense{{Amount: "250", Date: day("2024-01-15")}},
	}
	svc, _ := newReportServiceForTest(src)

	view, _, err := svc.Compose(context.Background(), dto.ReportParams{Type: dto.ReportDaily, Date: "2024-01-15"})
	require.NoError(t, err)
	assert.Equal(t, 5, src.calls)
	for _, r := range src.ranges {
		assert.Equal(t, "2024-01-15", r.Start.Format(dateLayout))
		assert.Equal(t, "2024-01-15", r.End.Format(dateLayout))
	}

	cards := map[string]dto.SummaryCard{}
	for _, c := range view.Cards {
		cards[c.Key] = c
	}
	assert.Equal(t, "1", cards["admissions"].Value)
	assert.Equal(t, "200.00", cards["fee_collection"].Value)
	assert.Equal(t, "-50.00", cards["net"].Value)
	assert.Equal(t, "Net loss", cards["net"].Label)
	assert.Equal(t, "50%", cards["student_present_pct"].Value)
	assert.Equal(t, "0%", cards["staff_present_pct"].Value)
}

func TestReportServiceStudentMonthly(t *testing.T) {
	src := &fakeReportSource{
		admissions: []models.Student{
			{ID: "s1", FullName: "Ayu", GRNumber: "GR1", AdmissionDate: day("2024-02-03")},
			{ID: "s2", FullName: "Budi", GRNumber: "GR2", AdmissionDate: day("2024-02-10")},
		},
		monthly: []models.MonthlyAttendanceSummary{
			{StudentID: "s1", PresentDays: 18, AbsentDays: 1, LateDays: 1, TotalDays: 20, AttendancePercentage: "90"},
		},
	}
	svc, _ := newReportServiceForTest(src)

	view, _, err := svc.Compose(context.Background(), dto.ReportParams{Type: dto.ReportStudentMonthly, Month: 2, Year: 2024})
	require.NoError(t, err)
	require.Len(t, view.Rows, 2)
	assert.Equal(t, "18", view.Rows[0]["Present"])
	assert.Equal(t, "90.00", view.Rows[0]["Attendance %"])
	assert.Equal(t, "", view.Rows[1]["Present"])
	assert.Equal(t, "1", view.Cards[1].Value)
	assert.Equal(t, "2024-02-29", view.Range.End.Format(dateLayout))
}

func TestReportServiceIncomeStatement(t *testing.T) {
	src := &fakeReportSource{income: []models.IncomeStatementLine{
		{Kind: models.IncomeStatementKindIncome, Category: strPtr("tuition"), Total: "1000"},
		{Kind: models.IncomeStatementKindExpense, Category: strPtr("salaries"), Total: "400"},
		{Kind: models.IncomeStatementKindExpense, Total: "100"},
	}}
	svc, _ := newReportServiceForTest(src)

	view, _, err := svc.Compose(context.Background(), dto.ReportParams{Type: dto.ReportIncomeStatement, StartDate: "2024-01-01", EndDate: "2024-12-31"})
	require.NoError(t, err)
	assert.Equal(t, "1000.00", view.Cards[0].Value)
	assert.Equal(t, "500.00", view.Cards[1].Value)
	assert.Equal(t, "500.00", view.Cards[2].Value)
	assert.Equal(t, "Net profit", view.Cards[2].Label)
	assert.Len(t, view.Rows, 3)
}

type blockingAdmissionsSource struct {
	*fakeReportSource
	entered chan struct{}
	release chan struct{}
}

func (b *blockingAdmissionsSource) Admissions(ctx context.Context, r aggregation.DateRange) ([]models.Student, error) {
	rows, err := b.fakeReportSource.Admissions(ctx, r)
	select {
	case b.entered <- struct{}{}:
		<-b.release
	default:
	}
	return rows, err
}

func TestReportServiceInvalidateDuringComposeSkipsCacheWrite(t *testing.T) {
	src := &blockingAdmissionsSource{
		fakeReportSource: &fakeReportSource{admissions: []models.Student{{ID: "s1", FullName: "Ayu", Class: "X", AdmissionDate: day("2024-01-02")}}},
		entered:          make(chan struct{}),
		release:          make(chan struct{}),
	}
	cache := newMemoryCacheRepo()
	svc := NewReportService(src, newTestCache(cache), nil, zap.NewNop(), ReportServiceConfig{CacheTTL: time.Minute})
	params := dto.ReportParams{Type: dto.ReportAdmissions, StartDate: "2024-01-01", EndDate: "2024-01-31"}

	done := make(chan struct{})
	go func() {
		defer close(done)
		_, _, err := svc.Compose(context.Background(), params)
		assert.NoError(t, err)
	}()

	<-src.entered
	require.NoError(t, svc.InvalidateCache(context.Background()))
	close(src.release)
	<-done

	assert.False(t, cache.has("report:admissions:2024-01-01:2024-01-31"))

	_, hit, err := svc.Compose(context.Background(), params)
	require.NoError(t, err)
	assert.False(t, hit)
	assert.True(t, cache.has("report:admissions:2024-01-01:2024-01-31"))
}
