package domain

import "errors"

var (
	ErrEmptyMessage    = errors.New("message is required")
	ErrUnknownMode     = errors.New("unknown mode")
	ErrUnknownProvider = errors.New("unknown provider")
	ErrNoDebate        = errors.New("no debate to continue")
	ErrBusy            = errors.New("a request is already in progress")
	ErrProviderFailure = errors.New("provider request failed")
)
