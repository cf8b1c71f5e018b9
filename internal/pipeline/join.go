package pipeline

type JoinStatus string

const (
	JoinExact JoinStatus = "exact"
	JoinLossy JoinStatus = "lossy"
)

// JoinReport compares the row count before and after a left join. Any drift is lossy.
type JoinReport struct {
	Name     string     `json:"name"`
	Expected int        `json:"expected"`
	Actual   int        `json:"actual"`
	Status   JoinStatus `json:"status"`
}

func report(name string, expected, actual int) JoinReport {
	status := JoinExact
	if expected != actual {
		status = JoinLossy
	}
	return JoinReport{Name: name, Expected: expected, Actual: actual, Status: status}
}

// IndexBy groups rows by key, keeping their input order.
func IndexBy[R any, K comparable](rows []R, key func(R) K) map[K][]R {
	idx := make(map[K][]R, len(rows))
	for _, r := range rows {
		k := key(r)
		idx[k] = append(idx[k], r)
	}
	return idx
}

// LeftJoin keeps every left row. A left row with several matches is emitted once per match,
// which the report surfaces as lossy.
func LeftJoin[L, R any, K comparable](name string, left []L, key func(L) K, right map[K][]R, merge func(L, R, bool) L) ([]L, JoinReport) {
	out := make([]L, 0, len(left))
	for _, l := range left {
		matches := right[key(l)]
		if len(matches) == 0 {
			var zero R
			out = append(out, merge(l, zero, false))
			continue
		}
		for _, r := range matches {
			out = append(out, merge(l, r, true))
		}
	}
	return out, report(name, len(left), len(out))
}

// LookupJoin is LeftJoin against a table already unique by key.
func LookupJoin[L, V any](name string, left []L, key func(L) string, table map[string]V, merge func(L, V, bool) L) ([]L, JoinReport) {
	out := make([]L, 0, len(left))
	for _, l := range left {
		v, ok := table[key(l)]
		out = append(out, merge(l, v, ok))
	}
	return out, report(name, len(left), len(out))
}
