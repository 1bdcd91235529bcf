package protocol

import "errors"

// Error taxonomy for instruction failures. Every error aborts and rolls back
// the whole instruction; nothing is retried internally.
var (
	ErrInvalidPriceRange       = errors.New("invalid price range: min must be less than max")
	ErrInvalidPositionID       = errors.New("invalid position id")
	ErrPositionPaused          = errors.New("position is paused")
	ErrInsufficientBalance     = errors.New("insufficient balance")
	ErrInvalidPercentage       = errors.New("invalid percentage: must be between 1 and 100")
	ErrPositionNotEmpty        = errors.New("position not empty: withdraw all funds before closing")
	ErrStalePriceData          = errors.New("stale price data from oracle")
	ErrBatchTooLarge           = errors.New("batch size too large")
	ErrSlippageExceeded        = errors.New("slippage tolerance exceeded")
	ErrExternalProtocol        = errors.New("external protocol error")
	ErrMathOverflow            = errors.New("math overflow")
	ErrUnauthorizedKeeper      = errors.New("unauthorized keeper")
	ErrPositionAlreadyExists   = errors.New("position already exists")
	ErrLPPositionNotFound      = errors.New("lp position not found")
	ErrLendingPositionNotFound = errors.New("lending position not found")
)
