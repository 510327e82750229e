package output

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestPrintTable(t *testing.T) {
	var buf bytes.Buffer
	PrintTable(&buf, []string{"Job", "State"}, [][]string{
		{"abc-123", "PENDING"},
		{"def-456", "COMPLETED"},
	})

	out := buf.String()
	assert.Contains(t, out, "JOB")
	assert.Contains(t, out, "STATE")
	assert.Contains(t, out, "abc-123")
	assert.Contains(t, out, "COMPLETED")
}

func TestPrintKV(t *testing.T) {
	var buf bytes.Buffer
	PrintKV(&buf, [][2]string{
		{"State", "FAILED"},
		{"Last error", "timeout"},
	})

	out := buf.String()
	assert.Contains(t, out, "State")
	assert.Contains(t, out, "FAILED")
	assert.Contains(t, out, "timeout")
}
