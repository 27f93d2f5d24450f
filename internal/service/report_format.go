package service

import (
	"strconv"

	"github.com/shopspring/decimal"

	"github.com/noah-isme/school-admin-api/internal/aggregation"
)

func money(d decimal.Decimal) string {
	return d.StringFixed(2)
}

func text(v *string) string {
	if v == nil {
		return ""
	}
	return *v
}

func count(v *int) string {
	if v == nil {
		return ""
	}
	return strconv.Itoa(*v)
}

func profitLabel(n aggregation.NetIncome) string {
	if n.IsProfit {
		return "Net profit"
	}
	return "Net loss"
}
