package export

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func routineTable() Table {
	return Table{
		Headers: []string{"Day", "08:00 - 09:15", "09:15 - 10:30"},
		Rows: [][]string{
			{"Saturday", "CSE101 / 301 / Teacher One", "-"},
			{"Sunday", "-", "CSE102 / 302 / Teacher Two"},
		},
	}
}

func TestCSVExporterRender(t *testing.T) {
	data, err := NewCSVExporter().Render(routineTable())
	require.NoError(t, err)

	lines := strings.Split(strings.TrimSpace(string(data)), "\n")
	require.Len(t, lines, 3)
	assert.Equal(t, "Day,08:00 - 09:15,09:15 - 10:30", lines[0])
	assert.Contains(t, lines[1], "CSE101 / 301 / Teacher One")
}

func TestCSVExporterPadsShortRows(t *testing.T) {
	table := Table{
		Headers: []string{"Day", "08:00 - 09:15"},
		Rows:    [][]string{{"Saturday"}},
	}
	data, err := NewCSVExporter().Render(table)
	require.NoError(t, err)
	assert.Contains(t, string(data), "Saturday,")
}

func TestCSVExporterRequiresHeaders(t *testing.T) {
	_, err := NewCSVExporter().Render(Table{})
	require.Error(t, err)
}

func TestPDFExporterRender(t *testing.T) {
	data, err := NewPDFExporter().Render(routineTable(), "Weekly Class Routine")
	require.NoError(t, err)
	require.NotEmpty(t, data)
	assert.Equal(t, "%PDF", string(data[:4]))
}

func TestPDFExporterRequiresHeaders(t *testing.T) {
	_, err := NewPDFExporter().Render(Table{}, "")
	require.Error(t, err)
}
