package assembler

import (
	"encoding/json"
	"errors"
	"strings"
	"testing"

	"CommissionEngine/internal/config"
	"CommissionEngine/internal/logsink"
)

type row struct {
	N int `json:"n"`
}

func rows(n int) []row {
	out := make([]row, n)
	for i := range out {
		out[i] = row{N: i}
	}
	return out
}

func TestAttachCapsAndCounts(t *testing.T) {
	t.Parallel()

	a := New(Options{
		ReturnMode:      ModeDetailed,
		MaxRowsPerTable: 1200,
		Include:         map[string]bool{TablePayableLines: true, TableLines: true},
	})
	var chunks []int
	a.OnProgress(func(table string, done, total int) {
		if table == TableLines {
			chunks = append(chunks, done)
		}
	})

	var doc Document
	err := a.Attach(&doc,
		NewTable(TablePayableLines, rows(10)),
		NewTable(TableLines, rows(3000)),
		NewTable(TableMovements, rows(4)),
	)
	if err != nil {
		t.Fatalf("Attach: %v", err)
	}

	if len(doc.PayableLines) != 10 || len(doc.Lines) != 1200 || doc.Movements != nil {
		t.Fatalf("sizes = %d/%d/%v", len(doc.PayableLines), len(doc.Lines), doc.Movements)
	}
	want := map[string]int{
		"payable_lines_total": 10, "payable_lines_sent": 10,
		"lines_total": 3000, "lines_sent": 1200,
		"movements_total": 4, "movements_sent": 0,
	}
	for k, v := range want {
		if doc.Meta.RowCounts[k] != v {
			t.Errorf("row_counts[%s] = %d, want %d", k, doc.Meta.RowCounts[k], v)
		}
	}
	if strings.Join(doc.Meta.TablesIncluded, ",") != "payable_lines,lines" {
		t.Errorf("tables_included = %v", doc.Meta.TablesIncluded)
	}
	if got := []int{500, 1000, 1200}; len(chunks) != 3 || chunks[0] != got[0] || chunks[2] != got[2] {
		t.Errorf("progress = %v, want %v", chunks, got)
	}
	if string(doc.Lines[1199]) != `{"n":1199}` {
		t.Errorf("last row = %s", doc.Lines[1199])
	}
}

func TestAttachSkipsLargeTablesInSummary(t *testing.T) {
	t.Parallel()

	a := New(Options{ReturnMode: ModeSummary, MaxRowsPerTable: 10, Include: map[string]bool{TableLines: true, TableAnalysis: true}})
	var doc Document
	if err := a.Attach(&doc, NewTable(TableLines, rows(config.LargeTableThreshold+1)), NewTable(TableAnalysis, rows(3))); err != nil {
		t.Fatalf("Attach: %v", err)
	}
	if doc.Lines != nil {
		t.Fatalf("large table should be skipped in summary mode")
	}
	if len(doc.Meta.TablesSkipped) != 1 || doc.Meta.TablesSkipped[0] != TableLines {
		t.Fatalf("tables_skipped = %v", doc.Meta.TablesSkipped)
	}
	if doc.Meta.RowCounts["lines_sent"] != 0 || len(doc.Analysis) != 3 {
		t.Fatalf("analysis = %d rows, lines_sent = %d", len(doc.Analysis), doc.Meta.RowCounts["lines_sent"])
	}
}

func TestNewNormalizesReturnMode(t *testing.T) {
	t.Parallel()

	for _, mode := range []string{"Summary", " summary ", "SUMMARY", ""} {
		a := New(Options{ReturnMode: mode, Include: map[string]bool{TableLines: true}})
		var doc Document
		if err := a.Attach(&doc, NewTable(TableLines, rows(config.LargeTableThreshold+1))); err != nil {
			t.Fatalf("%q: Attach: %v", mode, err)
		}
		if doc.Meta.ReturnMode != ModeSummary || doc.Lines != nil || doc.Meta.RowCounts["lines_sent"] != 0 {
			t.Fatalf("%q: return_mode = %q, lines_sent = %d", mode, doc.Meta.ReturnMode, doc.Meta.RowCounts["lines_sent"])
		}
	}
}

func TestAttachLogsRespectsBudget(t *testing.T) {
	t.Parallel()

	sink := logsink.Discard(1 << 20)
	for i := 0; i < 500; i++ {
		sink.Printf("line %03d of the run", i)
	}
	a := New(Options{IncludeLogs: true, LogBudget: 1000})
	var doc Document
	a.AttachLogs(&doc, sink)
	if len(doc.Logs) > 1000 {
		t.Fatalf("logs = %d bytes, budget 1000", len(doc.Logs))
	}
	if !doc.Meta.LogsTruncated || !strings.HasPrefix(doc.Logs, "line 000") || !strings.HasSuffix(doc.Logs, "line 499 of the run") {
		t.Fatalf("unexpected log shape: truncated=%v head=%q", doc.Meta.LogsTruncated, doc.Logs[:20])
	}

	quiet := New(Options{IncludeLogs: false})
	var none Document
	quiet.AttachLogs(&none, sink)
	if none.Logs != "" {
		t.Fatalf("logs attached although include_logs is false")
	}
}

func TestEncodeTiers(t *testing.T) {
	t.Parallel()

	errEncode := errors.New("boom")
	doc := Document{Success: true, Logs: strings.Repeat("x", 10), Meta: Meta{RowCounts: map[string]int{}}}

	tests := []struct {
		name     string
		failWhen func(v any) bool
		wantTier string
		wantLogs bool
	}{
		{"full", func(any) bool { return false }, TierFull, true},
		{"logs re-attached", func(v any) bool {
			d, ok := v.(Document)
			return ok && d.Meta.Tier == TierFull
		}, TierReducedLogs, true},
		{"logs dropped", func(v any) bool {
			d, ok := v.(Document)
			return ok && d.Logs != ""
		}, TierReducedLogs, false},
		{"minimal", func(v any) bool {
			_, ok := v.(Document)
			return ok
		}, TierMinimal, false},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			a := New(Options{}).WithEncoder(func(v any) ([]byte, error) {
				if tc.failWhen(v) {
					return nil, errEncode
				}
				return json.Marshal(v)
			})
			var out map[string]any
			if err := json.Unmarshal(a.Encode(doc), &out); err != nil {
				t.Fatalf("output is not JSON: %v", err)
			}
			meta := out["meta"].(map[string]any)
			if meta["serialization_tier"] != tc.wantTier {
				t.Fatalf("tier = %v, want %s", meta["serialization_tier"], tc.wantTier)
			}
			if _, has := out["logs"]; has != tc.wantLogs {
				t.Fatalf("logs present = %v, want %v", has, tc.wantLogs)
			}
			if out["success"] != true {
				t.Fatalf("success flag lost")
			}
		})
	}
}

func TestEncodeLastResort(t *testing.T) {
	t.Parallel()

	a := New(Options{}).WithEncoder(func(any) ([]byte, error) { return nil, errors.New("boom") })
	var out map[string]any
	if err := json.Unmarshal(a.Encode(Document{Success: true}), &out); err != nil {
		t.Fatalf("last resort is not JSON: %v", err)
	}
	if out["success"] != false {
		t.Fatalf("last resort should report failure")
	}
}
