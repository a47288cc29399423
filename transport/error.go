package transport

import "fmt"

// Error is returned by a Client when the server responded with a non-2xx status code.
type Error struct {
	StatusCode int
	Body       []byte
	// Data holds Body parsed as a JSON object, or nil if it isn't one.
	Data map[string]interface{}
}

func (e *Error) Error() string {
	return fmt.Sprintf("request failed with status code %d", e.StatusCode)
}
