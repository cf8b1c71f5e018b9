package engine

import (
	"errors"
	"time"

	"CommissionEngine/internal/config"
	"CommissionEngine/internal/model"
	"CommissionEngine/internal/validation"
)

// ErrBeforeCutover is returned for runs requested before the engine went live.
var ErrBeforeCutover = errors.New("before cutover date")

// Window is the competence period of a run.
type Window struct {
	PaymentDate time.Time
	Start       time.Time
	End         time.Time
	// Competence is the ordinal of the run within the payment month.
	Competence int
}

// ComputeWindow derives the period from the validated request. In automatic mode the period ends
// on the previous business day and starts 30 calendar days earlier.
func ComputeWindow(v *validation.ValidationResult, today time.Time) (Window, error) {
	today = model.Day(today)
	if today.Before(config.Cutover) {
		return Window{}, ErrBeforeCutover
	}
	w := Window{PaymentDate: today, Competence: today.Day()}
	switch v.Mode {
	case validation.ModePeriod:
		w.Start, w.End = model.Day(v.Start), model.Day(v.End)
	default:
		w.End = SubtractBusinessDays(today, 1)
		w.Start = w.End.AddDate(0, 0, -30)
	}
	return w, nil
}

// SubtractBusinessDays walks back n weekdays from d. Holidays are not considered.
func SubtractBusinessDays(d time.Time, n int) time.Time {
	for n > 0 {
		d = d.AddDate(0, 0, -1)
		if wd := d.Weekday(); wd != time.Saturday && wd != time.Sunday {
			n--
		}
	}
	return d
}
