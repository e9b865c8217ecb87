package main

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/lineage-cli/internal/config"
	"github.com/sells-group/lineage-cli/internal/source"
)

func TestBuildSource(t *testing.T) {
	sc := config.SourceConfig{TimeoutSecs: 5, RateLimitPerSec: 2, UserAgent: "lineage-test"}

	tests := []struct {
		name     string
		target   string
		flags    ingestFlags
		wantType any
		identity string
	}{
		{name: "csv by default", target: "data/aapl.csv", wantType: &source.CSVSource{}, identity: "csv:data/aapl.csv"},
		{name: "xlsx by extension", target: "data/aapl.XLSX", wantType: &source.XLSXSource{}, identity: "xlsx:data/aapl.XLSX#0"},
		{name: "xlsx sheet", target: "book.xlsx", flags: ingestFlags{sheet: "Income"}, wantType: &source.XLSXSource{}, identity: "xlsx:book.xlsx#Income"},
		{name: "format override", target: "export.bin", flags: ingestFlags{format: "xlsx"}, wantType: &source.XLSXSource{}, identity: "xlsx:export.bin#0"},
		{name: "http", target: "https://example.com/aapl.csv", wantType: &source.HTTPSource{}, identity: "http:https://example.com/aapl.csv"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			src, err := buildSource(tt.target, tt.flags, sc)
			require.NoError(t, err)
			assert.IsType(t, tt.wantType, src)
			assert.Equal(t, tt.identity, src.Identity())
		})
	}
}

func TestBuildSource_Options(t *testing.T) {
	src, err := buildSource("a.csv", ingestFlags{unit: "USD millions", delimiter: ";", autoHeader: true}, config.SourceConfig{})
	require.NoError(t, err)
	csv, ok := src.(*source.CSVSource)
	require.True(t, ok)
	assert.Equal(t, ';', csv.Opts.Delimiter)
	assert.True(t, csv.Opts.Table.AutoHeader)
	assert.Equal(t, "USD millions", csv.Opts.Table.Values.Unit)
}

func TestBuildSource_Errors(t *testing.T) {
	_, err := buildSource("a.csv", ingestFlags{format: "json"}, config.SourceConfig{})
	assert.ErrorContains(t, err, "unknown format")

	_, err = buildSource("a.csv", ingestFlags{delimiter: "||"}, config.SourceConfig{})
	assert.ErrorContains(t, err, "one character")
}
