package aggregation

import (
	"strings"

	"github.com/shopspring/decimal"
)

var hundred = decimal.NewFromInt(100)

// ParseAmount converts a raw numeric column. Blank or non-numeric input yields zero with ok=false.
func ParseAmount(raw string) (decimal.Decimal, bool) {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return decimal.Zero, false
	}
	d, err := decimal.NewFromString(trimmed)
	if err != nil {
		return decimal.Zero, false
	}
	return d, true
}

// Amount is ParseAmount without the ok flag.
func Amount(raw string) decimal.Decimal {
	d, _ := ParseAmount(raw)
	return d
}

// CountMalformed reports how many rows carry an amount that ParseAmount could not read.
func CountMalformed[T any](rows []T, raw func(T) string) int {
	n := 0
	for _, row := range rows {
		if _, ok := ParseAmount(raw(row)); !ok {
			n++
		}
	}
	return n
}

// Percent returns round(num / den * 100), or 0 when den is 0.
func Percent(num, den int) int {
	if den == 0 {
		return 0
	}
	return int(decimal.NewFromInt(int64(num)).Mul(hundred).Div(decimal.NewFromInt(int64(den))).Round(0).IntPart())
}

// NetIncome is income minus expense. A zero net counts as profit.
type NetIncome struct {
	Net      decimal.Decimal `json:"net"`
	IsProfit bool            `json:"is_profit"`
}

// ComputeNetIncome derives the net position.
func ComputeNetIncome(income, expense decimal.Decimal) NetIncome {
	net := income.Sub(expense)
	return NetIncome{Net: net, IsProfit: !net.IsNegative()}
}
