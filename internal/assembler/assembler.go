package assembler

import (
	"encoding/json"
	"fmt"
	"strings"

	"CommissionEngine/internal/config"
	"CommissionEngine/internal/logsink"
)

// Options are the per-run output switches.
type Options struct {
	ReturnMode      string
	MaxRowsPerTable int
	IncludeLogs     bool
	Include         map[string]bool
	LogBudget       int
}

// ProgressFunc is called after every converted chunk.
type ProgressFunc func(table string, done, total int)

// EncodeFunc serializes the final document.
type EncodeFunc func(v any) ([]byte, error)

// Table is one named output table, rows already typed by the caller.
type Table struct {
	Name string
	rows []any
}

func NewTable[T any](name string, rows []T) Table {
	out := make([]any, len(rows))
	for i := range rows {
		out[i] = rows[i]
	}
	return Table{Name: name, rows: out}
}

func (t Table) Len() int { return len(t.rows) }

type Assembler struct {
	opts      Options
	chunk     int
	threshold int
	progress  ProgressFunc
	encode    EncodeFunc
}

func New(opts Options) *Assembler {
	opts.ReturnMode = strings.ToLower(strings.TrimSpace(opts.ReturnMode))
	if opts.ReturnMode == "" {
		opts.ReturnMode = ModeSummary
	}
	if opts.MaxRowsPerTable <= 0 {
		opts.MaxRowsPerTable = config.DefaultMaxRowsPerTable
	}
	if opts.LogBudget <= 0 {
		opts.LogBudget = config.MaxLogBytes
	}
	return &Assembler{
		opts:      opts,
		chunk:     config.ChunkSize,
		threshold: config.LargeTableThreshold,
		encode:    json.Marshal,
	}
}

func (a *Assembler) OnProgress(fn ProgressFunc) { a.progress = fn }

func (a *Assembler) WithEncoder(fn EncodeFunc) *Assembler {
	a.encode = fn
	return a
}

// Attach fills the requested tables of doc, converts them chunk by chunk and records the row
// counts in doc.Meta. Tables not requested are counted but never converted.
func (a *Assembler) Attach(doc *Document, tables ...Table) error {
	doc.Meta.ReturnMode = a.opts.ReturnMode
	doc.Meta.MaxRowsPerTable = a.opts.MaxRowsPerTable
	if doc.Meta.RowCounts == nil {
		doc.Meta.RowCounts = make(map[string]int)
	}
	if doc.Meta.TablesIncluded == nil {
		doc.Meta.TablesIncluded = []string{}
	}

	for _, t := range tables {
		total := t.Len()
		doc.Meta.RowCounts[t.Name+"_total"] = total
		doc.Meta.RowCounts[t.Name+"_sent"] = 0
		if !a.opts.Include[t.Name] {
			continue
		}
		if a.opts.ReturnMode == ModeSummary && total > a.threshold {
			doc.Meta.TablesSkipped = append(doc.Meta.TablesSkipped, t.Name)
			continue
		}

		limit := min(total, a.opts.MaxRowsPerTable)
		rows, err := a.convert(t.Name, t.rows[:limit])
		if err != nil {
			return fmt.Errorf("convert %s: %w", t.Name, err)
		}
		doc.setTable(t.Name, rows)
		doc.Meta.RowCounts[t.Name+"_sent"] = len(rows)
		doc.Meta.TablesIncluded = append(doc.Meta.TablesIncluded, t.Name)
	}
	return nil
}

func (a *Assembler) convert(name string, rows []any) ([]json.RawMessage, error) {
	out := make([]json.RawMessage, 0, len(rows))
	for start := 0; start < len(rows); start += a.chunk {
		end := min(start+a.chunk, len(rows))
		for _, r := range rows[start:end] {
			b, err := json.Marshal(r)
			if err != nil {
				return nil, err
			}
			out = append(out, b)
		}
		if a.progress != nil {
			a.progress(name, end, len(rows))
		}
	}
	return out, nil
}

// AttachLogs renders the run log into doc within the log budget.
func (a *Assembler) AttachLogs(doc *Document, sink *logsink.Sink) {
	if !a.opts.IncludeLogs || sink == nil {
		return
	}
	doc.Logs = sink.Render(a.opts.LogBudget)
	doc.Meta.LogsTruncated = strings.Contains(doc.Logs, "[LOGS TRUNCATED:")
}

// Encode serializes doc, degrading when encoding fails: first without logs and then with logs
// cut to the secondary budget, finally to {success, error, meta}.
func (a *Assembler) Encode(doc Document) []byte {
	doc.Meta.Tier = TierFull
	if b, err := a.encode(doc); err == nil {
		return b
	}

	logs := doc.Logs
	doc.Logs = ""
	doc.Meta.Tier = TierReducedLogs
	if b, err := a.encode(doc); err == nil {
		if logs == "" {
			return b
		}
		doc.Logs = logsink.Truncate(logs, config.SecondaryLogBytes, config.LogHeadShare)
		doc.Meta.LogsTruncated = doc.Logs != logs
		if withLogs, err := a.encode(doc); err == nil {
			return withLogs
		}
		return b
	}

	doc.Meta.Tier = TierMinimal
	b, err := a.encode(minimal{Success: doc.Success, Error: doc.Error, Meta: doc.Meta})
	if err != nil {
		return []byte(`{"success":false,"error":"failed to serialize result"}`)
	}
	return b
}
