package ports

import "errors"

// Standard application-level errors.
// Adapters and engine components wrap their failures with these sentinels.
var (
	// General Errors
	ErrUnknown            = errors.New("unknown error occurred")
	ErrInvalidRequest     = errors.New("invalid request parameters or format")
	ErrNotFound           = errors.New("resource not found")
	ErrTimeout            = errors.New("operation timed out")
	ErrContextCanceled    = errors.New("operation canceled via context")
	ErrConfigurationError = errors.New("invalid or missing configuration")

	// Engine Errors
	ErrInvalidSignal           = errors.New("invalid signal risk fields")
	ErrPositionAlreadyActive   = errors.New("position already active for instrument")
	ErrNoActivePosition        = errors.New("no active position for instrument")
	ErrOutOfOrderBar           = errors.New("bar timestamp is out of chronological order")
	ErrMissingCollaboratorData = errors.New("collaborator data unavailable")
	ErrInactive                = errors.New("trade manager is deactivated")
	ErrRiskLimitExceeded       = errors.New("risk limit exceeded")

	// Market Data Errors
	ErrMarketDataUnavailable = errors.New("market data API is unavailable")
	ErrConnectionFailed      = errors.New("failed to connect to market data provider")
	ErrRateLimited           = errors.New("API rate limit exceeded")

	// Message Bus Errors
	ErrPublishFailure = errors.New("failed to publish message")

	// Database Specific Errors
	ErrDuplicateEntry = errors.New("database record already exists")
	ErrDBConnection   = errors.New("database connection error")
	ErrQueryFailed    = errors.New("database query failed")
)
