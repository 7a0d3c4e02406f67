package model

import "github.com/m-mizutani/goerr/v2"

var (
	// ErrConfiguration is the root of errors caused by invalid caller input or
	// setup: unknown splitter, malformed arguments, unknown model, tool mode on a
	// model without function calling. Never retried.
	ErrConfiguration = goerr.New("configuration error")

	// ErrDisallowedFileType is returned when an upload is rejected by policy
	ErrDisallowedFileType = goerr.New("file type not allowed")

	// ErrSessionNotFound is used by history stores; callers treat it as empty history
	ErrSessionNotFound = goerr.New("session not found")
)
