package validation

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"CommissionEngine/internal/config"
)

var (
	ErrInvalidMode       = errors.New("invalid mode")
	ErrMissingPeriod     = errors.New("start_date and end_date are required in period mode")
	ErrInvalidDate       = errors.New("invalid date")
	ErrInvertedPeriod    = errors.New("start_date is after end_date")
	ErrInvalidReturnMode = errors.New("invalid return_mode")
)

type Mode string

const (
	ModeAutomatic Mode = "automatic"
	ModePeriod    Mode = "period"
)

// RunRequest is the raw, caller-supplied part of a run configuration.
type RunRequest struct {
	Mode       string
	StartDate  string
	EndDate    string
	ReturnMode string
}

// ValidationResult holds a run request after every field was checked.
type ValidationResult struct {
	Mode       Mode
	Start      time.Time
	End        time.Time
	ReturnMode string
}

// PreValidateRun checks a run request before anything touches an upstream. Nothing here does I/O.
func PreValidateRun(req RunRequest) (*ValidationResult, error) {
	mode, err := ParseMode(req.Mode)
	if err != nil {
		return nil, err
	}
	result := &ValidationResult{Mode: mode, ReturnMode: "summary"}

	switch rm := strings.ToLower(strings.TrimSpace(req.ReturnMode)); rm {
	case "":
	case "summary", "detailed":
		result.ReturnMode = rm
	default:
		return nil, fmt.Errorf("%w: %q", ErrInvalidReturnMode, req.ReturnMode)
	}

	if mode == ModeAutomatic {
		return result, nil
	}
	if strings.TrimSpace(req.StartDate) == "" || strings.TrimSpace(req.EndDate) == "" {
		return nil, ErrMissingPeriod
	}
	if result.Start, err = ParseDate(req.StartDate); err != nil {
		return nil, err
	}
	if result.End, err = ParseDate(req.EndDate); err != nil {
		return nil, err
	}
	if result.Start.After(result.End) {
		return nil, ErrInvertedPeriod
	}
	return result, nil
}

// ParseMode accepts the English names and the Portuguese ones still sent by older clients.
// An empty mode means automatic.
func ParseMode(s string) (Mode, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "automatic", "automatico", "automático":
		return ModeAutomatic, nil
	case "period", "periodo", "período":
		return ModePeriod, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrInvalidMode, s)
	}
}

func ParseDate(s string) (time.Time, error) {
	t, err := time.Parse(config.DateFormat, strings.TrimSpace(s))
	if err != nil {
		return time.Time{}, fmt.Errorf("%w %q: expected YYYY-MM-DD", ErrInvalidDate, s)
	}
	return t, nil
}
