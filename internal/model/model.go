// Package model holds the small value types shared by every stage of a commission run.
package model

import (
	"strings"
	"time"
	"unicode"
)

type Role string

const (
	RoleBroker     Role = "broker"
	RoleSupervisor Role = "supervisor"
)

// NormalizeCPF keeps the digits of a CPF and left-pads it to 11 characters.
func NormalizeCPF(cpf string) string {
	var b strings.Builder
	for _, r := range cpf {
		if unicode.IsDigit(r) {
			b.WriteRune(r)
		}
	}
	digits := b.String()
	if len(digits) >= 11 {
		return digits
	}
	return strings.Repeat("0", 11-len(digits)) + digits
}

// NormalizeName upper-cases and trims a free-text name.
func NormalizeName(s string) string {
	return strings.ToUpper(strings.TrimSpace(s))
}

// Day truncates t to its calendar date in UTC.
func Day(t time.Time) time.Time {
	if t.IsZero() {
		return t
	}
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

// AgeAt returns the completed years between birth and at.
func AgeAt(birth, at time.Time) int {
	if birth.IsZero() {
		return 0
	}
	age := at.Year() - birth.Year()
	if at.Month() < birth.Month() || (at.Month() == birth.Month() && at.Day() < birth.Day()) {
		age--
	}
	return age
}

var monthAbbrev = [...]string{"Jan", "Feb", "Mar", "Apr", "May", "Jun", "Jul", "Aug", "Sep", "Oct", "Nov", "Dec"}

// MonthYear renders t as "Jan/24".
func MonthYear(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return monthAbbrev[t.Month()-1] + "/" + t.Format("06")
}

// LedgerEntry is one settled line of the historical unified ledger. It is read, never written.
type LedgerEntry struct {
	Proposal       string
	BrokerCPF      string
	SupervisorCPF  string
	BeneficiaryCPF string
	AnalysisDate   time.Time
}
