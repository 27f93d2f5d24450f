package models

import (
	"database/sql/driver"
	"fmt"
	"strconv"
)

// RawAmount is a numeric column as delivered by the driver. NULL scans to an empty string;
// parsing into a decimal is left to the aggregation layer so malformed values degrade instead of failing the scan.
type RawAmount string

// Scan implements sql.Scanner.
func (a *RawAmount) Scan(src interface{}) error {
	switch v := src.(type) {
	case nil:
		*a = ""
	case []byte:
		*a = RawAmount(v)
	case string:
		*a = RawAmount(v)
	case int64:
		*a = RawAmount(strconv.FormatInt(v, 10))
	case float64:
		*a = RawAmount(strconv.FormatFloat(v, 'f', -1, 64))
	default:
		return fmt.Errorf("unsupported amount type %T", src)
	}
	return nil
}

// Value implements driver.Valuer.
func (a RawAmount) Value() (driver.Value, error) {
	if a == "" {
		return nil, nil
	}
	return string(a), nil
}

// String returns the raw text.
func (a RawAmount) String() string {
	return string(a)
}
