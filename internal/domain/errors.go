package domain

import "errors"

var (
	// ErrInvalidInput is returned for empty text or malformed requests.
	ErrInvalidInput = errors.New("invalid input")

	// ErrLinkAnalysis wraps a failed link-analysis batch.
	ErrLinkAnalysis = errors.New("link analysis failed")

	// ErrAIUnavailable wraps a failed or unparsable model call.
	ErrAIUnavailable = errors.New("ai assessment unavailable")

	// ErrQuotaExceeded is returned when a user exhausts the daily limit.
	ErrQuotaExceeded = errors.New("daily analysis quota exceeded")
)
