package constants

// Common error messages
const (
	ErrInvalidJSON       = "invalid json or missing fields"
	ErrInvalidRunID      = "invalid run_id"
	ErrRunInProgress     = "a run for this reference date is already in progress"
	ErrSessionNotFound   = "session not found"
	ErrLedgerUnavailable = "ledger unavailable"
	ErrMethodNotAllowed  = "Method Not Allowed"
	ErrRouteNotFound     = "404 - Route not found"
)

// Headers and content types
const (
	ContentTypeJSON    = "application/json"
	HeaderContentType  = "Content-Type"
	HeaderForwardedFor = "X-Forwarded-For"
	HeaderRequestID    = "X-Request-ID"
	HeaderOperatorID   = "X-Operator-ID"
)

// Gateway defaults
const (
	DefaultGatewayAddr     = ":8081"
	DefaultShutdownTimeout = 10
)
