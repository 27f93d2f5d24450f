package models

import "time"

// StudentFee is a charge levied on a student.
type StudentFee struct {
	ID             string     `db:"id" json:"id"`
	StudentID      string     `db:"student_id" json:"student_id"`
	FeeType        *string    `db:"fee_type" json:"fee_type,omitempty"`
	TotalAmount    RawAmount  `db:"total_amount" json:"total_amount"`
	DiscountAmount RawAmount  `db:"discount_amount" json:"discount_amount"`
	FineAmount     RawAmount  `db:"fine_amount" json:"fine_amount"`
	FeeCategory    *string    `db:"fee_category" json:"fee_category,omitempty"`
	Student        StudentRef `db:"student" json:"student"`
}

// FeeRef is the subset of fee columns embedded into payment rows.
type FeeRef struct {
	StudentID      string    `db:"student_id" json:"student_id"`
	FeeType        *string   `db:"fee_type" json:"fee_type,omitempty"`
	FeeCategory    *string   `db:"fee_category" json:"fee_category,omitempty"`
	TotalAmount    RawAmount `db:"total_amount" json:"total_amount"`
	DiscountAmount RawAmount `db:"discount_amount" json:"discount_amount"`
	FineAmount     RawAmount `db:"fine_amount" json:"fine_amount"`
}

// FeePayment records money received against one StudentFee.
type FeePayment struct {
	ID            string     `db:"id" json:"id"`
	StudentFeeID  string     `db:"student_fee_id" json:"student_fee_id"`
	AmountPaid    RawAmount  `db:"amount_paid" json:"amount_paid"`
	PaymentDate   time.Time  `db:"payment_date" json:"payment_date"`
	PaymentMethod *string    `db:"payment_method" json:"payment_method,omitempty"`
	ReceivedBy    *string    `db:"received_by" json:"received_by,omitempty"`
	ReceiptNumber *string    `db:"receipt_number" json:"receipt_number,omitempty"`
	Fee           FeeRef     `db:"fee" json:"fee"`
	Student       StudentRef `db:"student" json:"student"`
}

// FeePaymentAmount is the slice of a payment needed to settle fee balances.
type FeePaymentAmount struct {
	StudentFeeID string    `db:"student_fee_id" json:"student_fee_id"`
	AmountPaid   RawAmount `db:"amount_paid" json:"amount_paid"`
}

// Expense is money spent by the school.
type Expense struct {
	ID          string    `db:"id" json:"id"`
	Title       string    `db:"title" json:"title"`
	Amount      RawAmount `db:"amount" json:"amount"`
	Date        time.Time `db:"date" json:"date"`
	Category    *string   `db:"category" json:"category,omitempty"`
	Description *string   `db:"description" json:"description,omitempty"`
}

// IncomeStatementLine is a row of get_income_statement.
type IncomeStatementLine struct {
	Kind     string    `db:"kind" json:"kind"`
	Category *string   `db:"category" json:"category,omitempty"`
	Total    RawAmount `db:"total" json:"total"`
}

const (
	IncomeStatementKindIncome  = "income"
	IncomeStatementKindExpense = "expense"
)
