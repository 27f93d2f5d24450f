package aggregation

import "time"

// DateRange is an inclusive range of calendar days.
type DateRange struct {
	Start time.Time `json:"start"`
	End   time.Time `json:"end"`
}

func dayKey(t time.Time) int {
	return t.Year()*10000 + int(t.Month())*100 + t.Day()
}

// Contains reports whether t falls on a day within the range, ignoring time of day.
func (r DateRange) Contains(t time.Time) bool {
	k := dayKey(t)
	return k >= dayKey(r.Start) && k <= dayKey(r.End)
}

// FilterByDate keeps the rows whose date falls within r.
func FilterByDate[T any](rows []T, date func(T) time.Time, r DateRange) []T {
	out := make([]T, 0, len(rows))
	for _, row := range rows {
		if r.Contains(date(row)) {
			out = append(out, row)
		}
	}
	return out
}
