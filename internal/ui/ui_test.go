package ui

import (
	"bytes"
	"testing"

	"github.com/fatih/color"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func capture(t *testing.T) *bytes.Buffer {
	t.Helper()
	var buf bytes.Buffer
	prevOut, prevErr, prevNoColor := Out, Err, color.NoColor
	Out, Err, color.NoColor = &buf, &buf, true
	t.Cleanup(func() { Out, Err, color.NoColor = prevOut, prevErr, prevNoColor })
	return &buf
}

func TestPrintMessages(t *testing.T) {
	buf := capture(t)
	PrintSuccess("applied %d evolutions", 2)
	PrintError("failed on %q", "library")
	PrintList([]string{"0001_initial"})

	out := buf.String()
	assert.Contains(t, out, "applied 2 evolutions")
	assert.Contains(t, out, `failed on "library"`)
	assert.Contains(t, out, "  • 0001_initial")
}

func TestPrintTable(t *testing.T) {
	buf := capture(t)
	require.NoError(t, PrintTable([]string{"App", "Label"}, [][]string{{"library", "0001_initial"}}))
	assert.Contains(t, buf.String(), "0001_initial")
}

func TestHighlightSQLWithoutColor(t *testing.T) {
	capture(t)
	stmt := "ALTER TABLE library_book ADD COLUMN pages integer;"
	assert.Equal(t, stmt, HighlightSQL(stmt))
}

func TestConfirmWithoutInput(t *testing.T) {
	ok, err := Confirm("Delete?", true)
	require.NoError(t, err)
	assert.True(t, ok)
}
