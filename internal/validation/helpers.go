package validation

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
)

// ExtractField reads the request body once, returns the named string field and restores the body
// for the handler. JSON bodies are tried first, then form values.
func ExtractField(r *http.Request, field string) (string, error) {
	body, err := io.ReadAll(r.Body)
	if err != nil {
		return "", fmt.Errorf("failed to read body: %w", err)
	}
	defer r.Body.Close()

	var reqMap map[string]any
	if err := json.Unmarshal(body, &reqMap); err == nil {
		if v, ok := reqMap[field].(string); ok && v != "" {
			r.Body = io.NopCloser(bytes.NewBuffer(body))
			return v, nil
		}
	}

	r.Body = io.NopCloser(bytes.NewBuffer(body))
	ct := r.Header.Get("Content-Type")
	if strings.Contains(strings.ToLower(ct), "application/x-www-form-urlencoded") {
		if err := r.ParseForm(); err == nil {
			if v := r.FormValue(field); v != "" {
				r.Body = io.NopCloser(bytes.NewBuffer(body))
				return v, nil
			}
		}
	}

	r.Body = io.NopCloser(bytes.NewBuffer(body))
	return "", fmt.Errorf("%s not found in request", field)
}

// RunID validates a run id taken from a path segment.
func RunID(s string) (string, error) {
	s = strings.TrimSpace(s)
	if s == "" || len(s) > 64 || strings.ContainsAny(s, " /\\") {
		return "", fmt.Errorf("invalid run id %q", s)
	}
	return s, nil
}
