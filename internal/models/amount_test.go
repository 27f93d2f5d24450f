package models

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestRawAmountScan(t *testing.T) {
	var a RawAmount
	assert.NoError(t, a.Scan([]byte("125.50")))
	assert.Equal(t, "125.50", a.String())

	assert.NoError(t, a.Scan(nil))
	assert.Equal(t, "", a.String())

	assert.NoError(t, a.Scan(int64(40)))
	assert.Equal(t, "40", a.String())

	assert.NoError(t, a.Scan(12.5))
	assert.Equal(t, "12.5", a.String())

	assert.Error(t, a.Scan(true))
}
