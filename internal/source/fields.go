package source

import (
	"bytes"
	"encoding/json"
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// text accepts any JSON scalar. The report indexes are not consistent about whether numbers,
// flags and codes are stored as strings or as native values.
type text string

func (t *text) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	if len(b) == 0 || bytes.Equal(b, []byte("null")) {
		*t = ""
		return nil
	}
	if b[0] == '"' {
		var s string
		if err := json.Unmarshal(b, &s); err != nil {
			return err
		}
		*t = text(strings.TrimSpace(s))
		return nil
	}
	*t = text(b)
	return nil
}

func (t text) String() string { return string(t) }

var dateLayouts = []string{
	"2006-01-02",
	"2006-01-02T15:04:05",
	"2006-01-02T15:04:05Z07:00",
	"2006-01-02T15:04:05.000Z07:00",
	"2006-01-02 15:04:05",
	"02/01/2006",
}

// Date parses the date part of t. Unparseable values yield the zero time.
func (t text) Date() time.Time {
	s := string(t)
	if s == "" {
		return time.Time{}
	}
	for _, layout := range dateLayouts {
		if d, err := time.Parse(layout, s); err == nil {
			y, m, day := d.Date()
			return time.Date(y, m, day, 0, 0, 0, 0, time.UTC)
		}
	}
	if ms, err := strconv.ParseInt(s, 10, 64); err == nil {
		y, m, day := time.UnixMilli(ms).UTC().Date()
		return time.Date(y, m, day, 0, 0, 0, 0, time.UTC)
	}
	return time.Time{}
}

func (t text) Int() int {
	s := string(t)
	if i := strings.IndexByte(s, '.'); i >= 0 {
		s = s[:i]
	}
	n, _ := strconv.Atoi(s)
	return n
}

func (t text) Decimal() decimal.Decimal {
	d, err := decimal.NewFromString(string(t))
	if err != nil {
		return decimal.Zero
	}
	return d
}

// Bool understands true/false, 1/0 and S/N.
func (t text) Bool() bool {
	switch strings.ToUpper(string(t)) {
	case "TRUE", "1", "S", "SIM", "Y", "YES":
		return true
	default:
		return false
	}
}
