package domain

import "errors"

var (
	ErrNotFound             = errors.New("not found")
	ErrEmptyQuestion        = errors.New("question must not be empty")
	ErrQuestionTooLong      = errors.New("question too long")
	ErrInvalidBallot        = errors.New("invalid ballot")
	ErrInvalidOutcome       = errors.New("invalid outcome")
	ErrMarketLocked         = errors.New("market is locked")
	ErrConfirmationRequired = errors.New("delete confirmation required")
	ErrRateLimited          = errors.New("rate limited")
	ErrLockHeld             = errors.New("lock already held")
)
