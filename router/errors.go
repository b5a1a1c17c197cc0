package router

import (
	"fmt"
)

// Maximum length of the response body excerpt kept in the error.
const maxBodyExcerptLength = 256

// Error returned when the router answers with a non-success status code.
type HTTPStatusError struct {
	Method     string
	URL        string
	StatusCode int
	Body       string
}

// Creates the status error and trims the body excerpt.
func newHTTPStatusError(method, url string, statusCode int, body string) *HTTPStatusError {
	if len(body) > maxBodyExcerptLength {
		body = body[:maxBodyExcerptLength] + "..."
	}
	return &HTTPStatusError{
		Method:     method,
		URL:        url,
		StatusCode: statusCode,
		Body:       body,
	}
}

// Returns the error text.
func (e *HTTPStatusError) Error() string {
	return fmt.Sprintf("%s %s returned status %d", e.Method, e.URL, e.StatusCode)
}

// Error returned when the web UI still shows the login page after
// authenticating.
type AccessDeniedError struct {
	Login string
}

// Returns the error text.
func (e *AccessDeniedError) Error() string {
	return fmt.Sprintf("access to the router UI denied for user '%s'", e.Login)
}

// Error returned when a required element is missing in the HTML page
// returned by the router.
type ExtractionError struct {
	Element string
}

// Returns the error text.
func (e *ExtractionError) Error() string {
	return fmt.Sprintf("cannot find %s in the HTML page", e.Element)
}
