package providers

import (
	"encoding/base64"
	"errors"
)

// maxTokensOrDefault applies a provider's fallback max-token value when the
// request didn't specify one.
func maxTokensOrDefault(requested, fallback int) int {
	if requested > 0 {
		return requested
	}
	return fallback
}

func encodeBase64(data []byte) string {
	return base64.StdEncoding.EncodeToString(data)
}

// statusHTTPError is implemented by SDK error types that carry a response
// status code (anthropic-sdk-go, go-openai and aws-sdk-go-v2 all expose
// their own variant of this).
type statusHTTPError interface {
	error
	StatusCode() int
}

// statusFromErr extracts an HTTP status code from an SDK error when one is
// available, so wrapError can classify precisely instead of falling back to
// substring matching on the error text.
func statusFromErr(err error) int {
	var se statusHTTPError
	if errors.As(err, &se) {
		return se.StatusCode()
	}
	return 0
}
