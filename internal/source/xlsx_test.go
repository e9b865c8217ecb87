package source

import (
	"context"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tealeg/xlsx/v2"

	"github.com/sells-group/lineage-cli/internal/resilience"
)

func createTestXLSX(t *testing.T, sheets map[string][][]string) string {
	t.Helper()
	f := xlsx.NewFile()
	for name, rows := range sheets {
		sheet, err := f.AddSheet(name)
		require.NoError(t, err)
		for _, rowData := range rows {
			row := sheet.AddRow()
			for _, cellData := range rowData {
				cell := row.AddCell()
				cell.SetString(cellData)
			}
		}
	}
	path := filepath.Join(t.TempDir(), "test.xlsx")
	err := f.Save(path)
	require.NoError(t, err)
	return path
}

func TestXLSXSource_FetchTabular(t *testing.T) {
	path := createTestXLSX(t, map[string][][]string{
		"Income": {
			{"Metric", "2024", "2023"},
			{"Total Revenue", "$100", "$90"},
			{"Net Income", "(5)", "N/A"},
		},
	})

	src := NewXLSXSource(path, XLSXOptions{SheetName: "Income"})
	tbl, err := src.FetchTabular(context.Background())
	require.NoError(t, err)

	assert.Equal(t, []string{"Total Revenue", "Net Income"}, tbl.Fields)
	assert.Equal(t, []string{"2024", "2023"}, tbl.Periods)
	assert.Equal(t, "100 USD", tbl.Rows[0][0].String())
	assert.Equal(t, "-5", tbl.Rows[1][0].Amount.String())
	assert.True(t, tbl.Rows[1][1].IsMissing())
	assert.Equal(t, "xlsx:"+path+"#Income", tbl.SourceIdentity)
}

func TestXLSXSource_SheetNameNotFound(t *testing.T) {
	path := createTestXLSX(t, map[string][][]string{
		"Sheet1": {{"a"}},
	})

	_, err := NewXLSXSource(path, XLSXOptions{SheetName: "Missing"}).FetchTabular(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "not found")
}

func TestXLSXSource_SheetIndexOutOfRange(t *testing.T) {
	path := createTestXLSX(t, map[string][][]string{
		"Sheet1": {{"a"}},
	})

	_, err := NewXLSXSource(path, XLSXOptions{SheetIndex: 5}).FetchTabular(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "out of range")
}

func TestCSVSource_FetchTabular(t *testing.T) {
	path := filepath.Join(t.TempDir(), "aapl.csv")
	require.NoError(t, os.WriteFile(path, []byte("Metric,2024,2023\nTotal Revenue,\"1,000\",900\n"), 0o600))

	tbl, err := NewCSVSource(path, CSVOptions{Table: TableOptions{Values: ValueOptions{Unit: "USD"}}}).
		FetchTabular(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "1000 USD", tbl.Rows[0][0].String())
	assert.Equal(t, "csv:"+path, tbl.SourceIdentity)
}

func TestCSVSource_CancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := ReadCSVTable(ctx, strings.NewReader("a,2024\n"), "x", CSVOptions{})
	require.Error(t, err)
}

func TestHTTPSource_CSV(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "lineage-test", r.Header.Get("User-Agent"))
		_, _ = w.Write([]byte("Metric,2024\nRevenue,42\n"))
	}))
	defer srv.Close()

	src := NewHTTPSource(srv.URL+"/export.csv", HTTPOptions{UserAgent: "lineage-test"})
	tbl, err := src.FetchTabular(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "42", tbl.Rows[0][0].Amount.String())
}

func TestHTTPSource_TransientStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	_, err := NewHTTPSource(srv.URL, HTTPOptions{}).FetchTabular(context.Background())
	require.Error(t, err)
	assert.True(t, resilience.IsTransient(err))
}

func TestHTTPSource_PermanentStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}))
	defer srv.Close()

	_, err := NewHTTPSource(srv.URL, HTTPOptions{}).FetchTabular(context.Background())
	require.Error(t, err)
	assert.False(t, resilience.IsTransient(err))
}
