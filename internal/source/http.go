package source

import (
	"bytes"
	"context"
	"io"
	"net/http"
	"path"
	"strings"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/sells-group/lineage-cli/internal/model"
	"github.com/sells-group/lineage-cli/internal/resilience"
)

// Format selects the decoder for an HTTP-hosted table.
type Format string

const (
	FormatCSV  Format = "csv"
	FormatXLSX Format = "xlsx"
)

// HTTPOptions configures the HTTP adapter.
type HTTPOptions struct {
	UserAgent string
	Timeout   time.Duration
	Limiter   *rate.Limiter
	Format    Format // inferred from the URL extension when empty
	CSV       CSVOptions
	XLSX      XLSXOptions
	MaxBytes  int64 // default 64 MiB
}

// HTTPSource downloads an exported statement (CSV or XLSX) with a shared
// rate limiter. Authentication is the embedding application's concern; the
// already-authorized URL is all this adapter sees.
type HTTPSource struct {
	URL    string
	client *http.Client
	opts   HTTPOptions
}

// NewHTTPSource creates an HTTPSource.
func NewHTTPSource(url string, opts HTTPOptions) *HTTPSource {
	if opts.Timeout == 0 {
		opts.Timeout = 30 * time.Second
	}
	if opts.UserAgent == "" {
		opts.UserAgent = "lineage-cli/1.0"
	}
	if opts.MaxBytes == 0 {
		opts.MaxBytes = 64 << 20
	}
	if opts.Format == "" {
		if strings.EqualFold(path.Ext(strings.SplitN(url, "?", 2)[0]), ".xlsx") {
			opts.Format = FormatXLSX
		} else {
			opts.Format = FormatCSV
		}
	}
	return &HTTPSource{
		URL:    url,
		client: &http.Client{Timeout: opts.Timeout},
		opts:   opts,
	}
}

// Identity returns "http:<url>".
func (s *HTTPSource) Identity() string {
	return "http:" + s.URL
}

// FetchTabular downloads and decodes the table. 429 and 5xx responses come
// back as resilience.TransientError so callers can decide to retry.
func (s *HTTPSource) FetchTabular(ctx context.Context) (*model.Table, error) {
	if s.opts.Limiter != nil {
		if err := s.opts.Limiter.Wait(ctx); err != nil {
			return nil, eris.Wrap(err, "http: rate limiter wait")
		}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, s.URL, nil)
	if err != nil {
		return nil, eris.Wrap(err, "http: create request")
	}
	req.Header.Set("User-Agent", s.opts.UserAgent)

	resp, err := s.client.Do(req)
	if err != nil {
		return nil, resilience.NewTransientError(eris.Wrapf(err, "http: get %s", s.URL), 0)
	}
	defer resp.Body.Close() //nolint:errcheck

	if resp.StatusCode != http.StatusOK {
		err := eris.Errorf("http: unexpected status %d for %s", resp.StatusCode, s.URL)
		if resilience.IsTransientHTTPStatus(resp.StatusCode) {
			return nil, resilience.NewTransientError(err, resp.StatusCode)
		}
		return nil, err
	}

	data, err := io.ReadAll(io.LimitReader(resp.Body, s.opts.MaxBytes))
	if err != nil {
		return nil, resilience.NewTransientError(eris.Wrap(err, "http: read body"), 0)
	}

	zap.L().Debug("http: fetched table",
		zap.String("url", s.URL),
		zap.Int("bytes", len(data)),
		zap.String("format", string(s.opts.Format)),
	)

	switch s.opts.Format {
	case FormatXLSX:
		return ReadXLSXBytes(ctx, data, s.Identity(), s.opts.XLSX)
	default:
		return ReadCSVTable(ctx, bytes.NewReader(data), s.Identity(), s.opts.CSV)
	}
}
