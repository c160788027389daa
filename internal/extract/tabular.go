package extract

import (
	"context"
	"encoding/csv"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"
)

const defaultTabularSampleRows = 10

// TabularOptions configures the tabular plugin.
type TabularOptions struct {
	// SampleRows is how many data rows feed column type detection and
	// per-column statistics.
	SampleRows int
}

// TabularOptionsFrom reads tabular plugin options from an open option map.
func TabularOptionsFrom(m map[string]any) TabularOptions {
	return TabularOptions{
		SampleRows: optInt(m, "sample_rows", defaultTabularSampleRows),
	}
}

// Tabular extracts column structure from delimited files: header names,
// row and column counts, and per-column types detected from a sample of
// rows. The delimiter follows the extension (comma for .csv, tab for
// .tsv).
type Tabular struct {
	opts TabularOptions
}

// NewTabular creates the tabular plugin.
func NewTabular(opts TabularOptions) (*Tabular, error) {
	if opts.SampleRows <= 0 {
		opts.SampleRows = defaultTabularSampleRows
	}
	return &Tabular{opts: opts}, nil
}

func (t *Tabular) Name() string { return "tabular" }

func (t *Tabular) Applicable(path string, entry Entry) bool {
	ext := strings.ToLower(filepath.Ext(path))
	return ext == ".csv" || ext == ".tsv"
}

func (t *Tabular) Extract(ctx context.Context, path string, entry Entry) Record {
	f, err := os.Open(path)
	if err != nil {
		return Failed(path, t.Name(), fmt.Errorf("open: %w", err))
	}
	defer f.Close()

	r := csv.NewReader(f)
	if strings.ToLower(filepath.Ext(path)) == ".tsv" {
		r.Comma = '\t'
	}
	// Ragged rows are data quality, not a reason to fail the record.
	r.FieldsPerRecord = -1
	r.LazyQuotes = true

	header, err := r.Read()
	if err == io.EOF {
		return Success(path, t.Name(), map[string]any{
			"row_count":    0,
			"column_count": 0,
		})
	}
	if err != nil {
		return Failed(path, t.Name(), fmt.Errorf("parse: %w", err))
	}

	var sample [][]string
	rows := 1 // header line counts toward the total
	for {
		rec, err := r.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return Failed(path, t.Name(), fmt.Errorf("parse row %d: %w", rows+1, err))
		}
		rows++
		if len(sample) < t.opts.SampleRows {
			sample = append(sample, rec)
		}
	}

	fields := map[string]any{
		"column_count": len(header),
		"columns":      header,
		"row_count":    rows,
		"column_types": detectColumnTypes(header, sample),
	}
	if stats := columnStatistics(header, sample); len(stats) > 0 {
		fields["sample_statistics"] = stats
	}

	return Success(path, t.Name(), fields)
}

// detectColumnTypes classifies each column from the sampled rows as
// integer, float, date, boolean, string, or empty.
func detectColumnTypes(columns []string, sample [][]string) map[string]string {
	types := make(map[string]string, len(columns))
	for i, col := range columns {
		if len(sample) == 0 {
			types[col] = "unknown"
			continue
		}
		types[col] = detectValueType(columnValues(sample, i))
	}
	return types
}

func columnValues(sample [][]string, i int) []string {
	values := make([]string, 0, len(sample))
	for _, row := range sample {
		if i < len(row) {
			values = append(values, row[i])
		} else {
			values = append(values, "")
		}
	}
	return values
}

var datePatterns = []*regexp.Regexp{
	regexp.MustCompile(`^\d{4}-\d{2}-\d{2}`),
	regexp.MustCompile(`^\d{2}/\d{2}/\d{4}`),
	regexp.MustCompile(`^\d{2}-\d{2}-\d{4}`),
}

func detectValueType(values []string) string {
	nonEmpty := make([]string, 0, len(values))
	for _, v := range values {
		if v != "" {
			nonEmpty = append(nonEmpty, v)
		}
	}
	if len(nonEmpty) == 0 {
		return "empty"
	}

	integers, floats := 0, 0
	for _, v := range nonEmpty {
		if _, err := strconv.ParseInt(v, 10, 64); err == nil {
			integers++
			continue
		}
		if _, err := strconv.ParseFloat(v, 64); err == nil {
			floats++
		}
	}
	if integers == len(nonEmpty) {
		return "integer"
	}
	if integers+floats == len(nonEmpty) {
		return "float"
	}

	dates := 0
	for _, v := range nonEmpty {
		for _, p := range datePatterns {
			if p.MatchString(v) {
				dates++
				break
			}
		}
	}
	if dates == len(nonEmpty) {
		return "date"
	}

	booleans := 0
	for _, v := range nonEmpty {
		switch strings.ToLower(v) {
		case "true", "false", "yes", "no", "1", "0", "t", "f", "y", "n":
			booleans++
		}
	}
	if booleans == len(nonEmpty) {
		return "boolean"
	}

	return "string"
}

// columnStatistics computes count, null count, and min/max/mean for the
// numeric columns of the sample.
func columnStatistics(columns []string, sample [][]string) map[string]map[string]any {
	if len(sample) == 0 {
		return nil
	}
	stats := make(map[string]map[string]any, len(columns))
	for i, col := range columns {
		values := columnValues(sample, i)

		nulls := 0
		var nums []float64
		for _, v := range values {
			if v == "" {
				nulls++
				continue
			}
			if n, err := strconv.ParseFloat(v, 64); err == nil {
				nums = append(nums, n)
			}
		}

		colStats := map[string]any{
			"count":      len(values),
			"null_count": nulls,
		}
		if len(nums) > 0 {
			min, max, sum := nums[0], nums[0], 0.0
			for _, n := range nums {
				if n < min {
					min = n
				}
				if n > max {
					max = n
				}
				sum += n
			}
			colStats["min"] = min
			colStats["max"] = max
			colStats["mean"] = sum / float64(len(nums))
		}
		stats[col] = colStats
	}
	return stats
}

var _ Plugin = (*Tabular)(nil)
