// Package aggregation reduces fetched rows into report figures. Every function is pure:
// malformed input degrades to zero, nothing here returns an error or panics on bad rows.
package aggregation

import (
	"sort"
	"strings"

	"github.com/shopspring/decimal"
)

// UndefinedKey buckets rows whose grouping key is missing.
const UndefinedKey = "undefined"

// MissingKeyPolicy decides what SumByKey does with rows lacking a key.
type MissingKeyPolicy int

const (
	// BucketMissing sums keyless rows under UndefinedKey.
	BucketMissing MissingKeyPolicy = iota
	// SkipMissing drops keyless rows.
	SkipMissing
)

// SumOptions tunes SumByKey.
type SumOptions struct {
	Missing MissingKeyPolicy
}

// SumByKey groups rows by the raw key and totals their amounts.
func SumByKey[T any](rows []T, amount func(T) decimal.Decimal, key func(T) (string, bool), opts ...SumOptions) map[string]decimal.Decimal {
	var opt SumOptions
	if len(opts) > 0 {
		opt = opts[0]
	}
	totals := make(map[string]decimal.Decimal)
	for _, row := range rows {
		k, ok := key(row)
		if !ok || strings.TrimSpace(k) == "" {
			if opt.Missing == SkipMissing {
				continue
			}
			k = UndefinedKey
		}
		totals[k] = totals[k].Add(amount(row))
	}
	return totals
}

// Sum totals the amounts of all rows.
func Sum[T any](rows []T, amount func(T) decimal.Decimal) decimal.Decimal {
	total := decimal.Zero
	for _, row := range rows {
		total = total.Add(amount(row))
	}
	return total
}

// DisplayKey formats a raw key for presentation: lower-case with underscores as spaces.
func DisplayKey(raw string) string {
	return strings.ReplaceAll(strings.ToLower(raw), "_", " ")
}

// KeyTotal is one entry of a grouped total, ready for presentation.
type KeyTotal struct {
	Key    string          `json:"key"`
	Label  string          `json:"label"`
	Amount decimal.Decimal `json:"amount"`
}

// SortedTotals flattens a grouped total, largest amount first, ties broken by key.
func SortedTotals(totals map[string]decimal.Decimal) []KeyTotal {
	out := make([]KeyTotal, 0, len(totals))
	for k, v := range totals {
		out = append(out, KeyTotal{Key: k, Label: DisplayKey(k), Amount: v})
	}
	sort.Slice(out, func(i, j int) bool {
		if c := out[i].Amount.Cmp(out[j].Amount); c != 0 {
			return c > 0
		}
		return out[i].Key < out[j].Key
	})
	return out
}

// OptionalKey adapts a nullable column to SumByKey's key accessor shape.
func OptionalKey(v *string) (string, bool) {
	if v == nil {
		return "", false
	}
	return *v, true
}
