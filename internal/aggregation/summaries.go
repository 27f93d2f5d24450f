package aggregation

import (
	"sort"

	"github.com/shopspring/decimal"

	"github.com/noah-isme/school-admin-api/internal/models"
)

func paymentAmount(p models.FeePayment) decimal.Decimal { return Amount(p.AmountPaid.String()) }
func paymentMethod(p models.FeePayment) (string, bool) { return OptionalKey(p.PaymentMethod) }
func expenseAmount(e models.Expense) decimal.Decimal    { return Amount(e.Amount.String()) }
func expenseCategory(e models.Expense) (string, bool)   { return OptionalKey(e.Category) }

// FeeBalance is what remains due on one fee: total - discount + fine - paid.
// PaidInPeriod only counts the summarized payments; Paid counts every payment known.
type FeeBalance struct {
	StudentFeeID string          `json:"student_fee_id"`
	StudentID    string          `json:"student_id"`
	StudentName  string          `json:"student_name"`
	FeeType      string          `json:"fee_type"`
	Due          decimal.Decimal `json:"due"`
	PaidInPeriod decimal.Decimal `json:"paid_in_period"`
	Paid         decimal.Decimal `json:"paid"`
	Outstanding  decimal.Decimal `json:"outstanding"`
}

// OutstandingBalance computes total - discount + fine - paid.
func OutstandingBalance(total, discount, fine, paid decimal.Decimal) decimal.Decimal {
	return total.Sub(discount).Add(fine).Sub(paid)
}

// FeeCollectionSummary totals payments in a range.
type FeeCollectionSummary struct {
	Total            decimal.Decimal            `json:"total"`
	PaymentCount     int                        `json:"payment_count"`
	ByMethod         map[string]decimal.Decimal `json:"by_method"`
	ByCategory       map[string]decimal.Decimal `json:"by_category"`
	ByFeeType        map[string]decimal.Decimal `json:"by_fee_type"`
	Balances         []FeeBalance               `json:"balances"`
	TotalOutstanding decimal.Decimal            `json:"total_outstanding"`
	MalformedAmounts int                        `json:"malformed_amounts"`
}

// SummarizeFeeCollection groups payments by method, fee category and fee type, and derives
// the balance of every fee paid against. Until SettleAgainst is applied, balances only see
// the payments given.
func SummarizeFeeCollection(payments []models.FeePayment) FeeCollectionSummary {
	s := FeeCollectionSummary{
		Total:            Sum(payments, paymentAmount),
		PaymentCount:     len(payments),
		ByMethod:         SumByKey(payments, paymentAmount, paymentMethod),
		ByCategory:       SumByKey(payments, paymentAmount, func(p models.FeePayment) (string, bool) { return OptionalKey(p.Fee.FeeCategory) }),
		ByFeeType:        SumByKey(payments, paymentAmount, func(p models.FeePayment) (string, bool) { return OptionalKey(p.Fee.FeeType) }),
		MalformedAmounts: CountMalformed(payments, func(p models.FeePayment) string { return p.AmountPaid.String() }),
		TotalOutstanding: decimal.Zero,
	}

	index := make(map[string]int)
	for _, p := range payments {
		i, seen := index[p.StudentFeeID]
		if !seen {
			feeType, _ := OptionalKey(p.Fee.FeeType)
			due := OutstandingBalance(Amount(p.Fee.TotalAmount.String()), Amount(p.Fee.DiscountAmount.String()), Amount(p.Fee.FineAmount.String()), decimal.Zero)
			s.Balances = append(s.Balances, FeeBalance{
				StudentFeeID: p.StudentFeeID,
				StudentID:    p.Fee.StudentID,
				StudentName:  p.Student.FullName,
				FeeType:      feeType,
				Due:          due,
				PaidInPeriod: decimal.Zero,
			})
			i = len(s.Balances) - 1
			index[p.StudentFeeID] = i
		}
		s.Balances[i].PaidInPeriod = s.Balances[i].PaidInPeriod.Add(paymentAmount(p))
	}
	s.SettleAgainst(nil)
	return s
}

// FeeIDs lists the fees that received a payment, in first-payment order.
func (s FeeCollectionSummary) FeeIDs() []string {
	ids := make([]string, 0, len(s.Balances))
	for _, b := range s.Balances {
		ids = append(ids, b.StudentFeeID)
	}
	return ids
}

// SettleAgainst recomputes balances from the total paid to date per fee. Fees missing from
// paidToDate fall back to their in-period payments.
func (s *FeeCollectionSummary) SettleAgainst(paidToDate map[string]decimal.Decimal) {
	s.TotalOutstanding = decimal.Zero
	for i := range s.Balances {
		b := &s.Balances[i]
		b.Paid = b.PaidInPeriod
		if paid, ok := paidToDate[b.StudentFeeID]; ok {
			b.Paid = paid
		}
		b.Outstanding = b.Due.Sub(b.Paid)
		s.TotalOutstanding = s.TotalOutstanding.Add(b.Outstanding)
	}
}

// PaidToDate totals payment history per fee.
func PaidToDate(rows []models.FeePaymentAmount) map[string]decimal.Decimal {
	return SumByKey(rows,
		func(r models.FeePaymentAmount) decimal.Decimal { return Amount(r.AmountPaid.String()) },
		func(r models.FeePaymentAmount) (string, bool) { return r.StudentFeeID, r.StudentFeeID != "" },
		SumOptions{Missing: SkipMissing},
	)
}

// ExpenseSummary totals expenses in a range.
type ExpenseSummary struct {
	Total            decimal.Decimal            `json:"total"`
	Count            int                        `json:"count"`
	ByCategory       map[string]decimal.Decimal `json:"by_category"`
	MalformedAmounts int                        `json:"malformed_amounts"`
}

// SummarizeExpenses groups expenses by category.
func SummarizeExpenses(expenses []models.Expense) ExpenseSummary {
	return ExpenseSummary{
		Total:            Sum(expenses, expenseAmount),
		Count:            len(expenses),
		ByCategory:       SumByKey(expenses, expenseAmount, expenseCategory),
		MalformedAmounts: CountMalformed(expenses, func(e models.Expense) string { return e.Amount.String() }),
	}
}

// ClassCount is the number of admissions into one class.
type ClassCount struct {
	Class string `json:"class"`
	Count int    `json:"count"`
}

// AdmissionSummary counts admissions in a range.
type AdmissionSummary struct {
	Count   int          `json:"count"`
	ByClass []ClassCount `json:"by_class"`
}

// SummarizeAdmissions counts students per class, ordered by class name.
func SummarizeAdmissions(students []models.Student) AdmissionSummary {
	counts := make(map[string]int)
	for _, st := range students {
		class := st.Class
		if class == "" {
			class = UndefinedKey
		}
		counts[class]++
	}
	byClass := make([]ClassCount, 0, len(counts))
	for class, n := range counts {
		byClass = append(byClass, ClassCount{Class: class, Count: n})
	}
	sort.Slice(byClass, func(i, j int) bool { return byClass[i].Class < byClass[j].Class })
	return AdmissionSummary{Count: len(students), ByClass: byClass}
}

// IncomeStatement splits procedure rows into income and expense lines.
type IncomeStatement struct {
	Income       []KeyTotal      `json:"income"`
	Expenses     []KeyTotal      `json:"expenses"`
	TotalIncome  decimal.Decimal `json:"total_income"`
	TotalExpense decimal.Decimal `json:"total_expense"`
	Net          NetIncome       `json:"net"`
}

// BuildIncomeStatement totals income and expense lines by category. Rows of any other kind are ignored.
func BuildIncomeStatement(lines []models.IncomeStatementLine) IncomeStatement {
	var income, expense []models.IncomeStatementLine
	for _, l := range lines {
		switch l.Kind {
		case models.IncomeStatementKindIncome:
			income = append(income, l)
		case models.IncomeStatementKindExpense:
			expense = append(expense, l)
		}
	}
	amount := func(l models.IncomeStatementLine) decimal.Decimal { return Amount(l.Total.String()) }
	category := func(l models.IncomeStatementLine) (string, bool) { return OptionalKey(l.Category) }

	st := IncomeStatement{
		Income:       SortedTotals(SumByKey(income, amount, category)),
		Expenses:     SortedTotals(SumByKey(expense, amount, category)),
		TotalIncome:  Sum(income, amount),
		TotalExpense: Sum(expense, amount),
	}
	st.Net = ComputeNetIncome(st.TotalIncome, st.TotalExpense)
	return st
}
