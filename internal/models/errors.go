package models

import "errors"

// Custom errors
var (
	ErrMissingID          = errors.New("opportunity id is required")
	ErrInvalidOpportunity = errors.New("invalid opportunity")
	ErrUnknownStrategy    = errors.New("unknown strategy")
	ErrNotFound           = errors.New("record not found")
)
