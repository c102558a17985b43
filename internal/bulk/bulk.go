// Package bulk turns CSV exports into post metrics and analyzes them in
// parallel.
package bulk

import (
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"

	"golang.org/x/sync/errgroup"

	"github.com/xyrax/instra/internal/features"
	"github.com/xyrax/instra/internal/predict"
)

// DefaultConcurrency bounds parallel analyses when none is configured.
const DefaultConcurrency = 4

// ErrNoColumns is returned when the header names none of the metric columns.
var ErrNoColumns = errors.New("csv header has no recognised metric columns")

// Row is one parsed data row. Err is set when a cell could not be read.
type Row struct {
	Line    int
	Metrics features.PostMetrics
	Err     error
}

// Parse reads a CSV with a header row. Header names are matched to metric
// names case-insensitively; unknown columns are ignored and empty cells are
// absent fields.
func Parse(r io.Reader) ([]Row, error) {
	cr := csv.NewReader(r)
	cr.FieldsPerRecord = -1
	cr.TrimLeadingSpace = true

	header, err := cr.Read()
	if err == io.EOF {
		return nil, ErrNoColumns
	}
	if err != nil {
		return nil, fmt.Errorf("reading csv header: %w", err)
	}

	var cols []column
	for i, h := range header {
		name := strings.ToLower(strings.TrimSpace(strings.TrimPrefix(h, "\ufeff")))
		if idx := features.Index(name); idx >= 0 && idx < features.SaveToLikeRatio {
			cols = append(cols, column{index: i, name: name})
		}
	}
	if len(cols) == 0 {
		return nil, ErrNoColumns
	}

	var rows []Row
	for {
		rec, err := cr.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("reading csv: %w", err)
		}
		if blank(rec) {
			continue
		}
		line, _ := cr.FieldPos(0)
		row := Row{Line: line}
		row.Metrics, row.Err = parseRecord(rec, cols)
		rows = append(rows, row)
	}
	return rows, nil
}

func blank(rec []string) bool {
	for _, v := range rec {
		if strings.TrimSpace(v) != "" {
			return false
		}
	}
	return true
}

// column maps a CSV field position to a metric name.
type column struct {
	index int
	name  string
}

// parseRecord reads cols in header order, so the first bad cell from the left
// is the one reported.
func parseRecord(rec []string, cols []column) (features.PostMetrics, error) {
	var m features.PostMetrics
	for _, col := range cols {
		if col.index >= len(rec) {
			continue
		}
		cell := strings.TrimSpace(rec[col.index])
		if cell == "" {
			continue
		}
		n, err := strconv.Atoi(cell)
		if err != nil {
			return features.PostMetrics{}, fmt.Errorf("column %s: %q is not an integer", col.name, cell)
		}
		*m.Field(col.name) = features.Int(n)
	}
	return m, nil
}

// Analyzer runs one analysis.
type Analyzer interface {
	Analyze(m features.PostMetrics) (predict.Result, error)
}

// Outcome is the result for one row. Exactly one of Result and Err is set.
type Outcome struct {
	Line   int
	Result *predict.Result
	Err    error
}

// AnalyzeAll analyzes every row with at most concurrency analyses in
// flight. Outcomes keep row order. Row errors are recorded per outcome; only
// context cancellation fails the whole batch.
func AnalyzeAll(ctx context.Context, a Analyzer, rows []Row, concurrency int) ([]Outcome, error) {
	if concurrency <= 0 {
		concurrency = DefaultConcurrency
	}
	out := make([]Outcome, len(rows))
	g, gCtx := errgroup.WithContext(ctx)
	g.SetLimit(concurrency)

	for i, row := range rows {
		out[i].Line = row.Line
		if row.Err != nil {
			out[i].Err = row.Err
			continue
		}
		g.Go(func() error {
			if err := gCtx.Err(); err != nil {
				return err
			}
			res, err := a.Analyze(row.Metrics)
			if err != nil {
				out[i].Err = err
				return nil
			}
			out[i].Result = &res
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return nil, err
	}
	return out, nil
}
