package config

import "time"

const (
	DefaultTimeZone = "America/Sao_Paulo"
	DateFormat      = "2006-01-02"
	DateTimeFormat  = "2006-01-02 15:04:05"

	// Wildcard marks "any entity" / "any plan" rows in the rule tables.
	Wildcard = "-"

	// NotEligibleBand is the band label that pays nothing by definition.
	NotEligibleBand = "Não Elegível"

	// Discount netting
	DiscountCapRatio = "0.45"
	MovementType     = "desconto realizado"
	MovementOrigin   = "commission_engine"

	// Output assembly
	DefaultMaxRowsPerTable = 5000
	ChunkSize              = 500
	LargeTableThreshold    = 2000
	MaxLogBytes            = 5 * 1024 * 1024
	SecondaryLogBytes      = 1024 * 1024
	LogHeadShare           = 0.10

	// Upstream search
	MaxSearchResults    = 20000
	ScrollPageSize      = 10000
	MaxScrollIterations = 10000
	ScrollKeepAlive     = 30 * time.Second
	SearchTimeout       = 90 * time.Second

	// Maintenance jobs
	DefaultLedgerSweepSchedule    = "*/30 * * * *"
	DefaultStagingCleanupSchedule = "*/15 * * * *"
	DefaultSessionTTL             = 30 * time.Minute
)

var (
	// Cutover is the first day the engine is allowed to run.
	Cutover = time.Date(2025, time.October, 1, 0, 0, 0, 0, time.UTC)

	// LedgerRoleCutoff splits the unified ledger: before it, the paid recipient may have been
	// either the broker or the supervisor.
	LedgerRoleCutoff = time.Date(2025, time.September, 25, 0, 0, 0, 0, time.UTC)
)
