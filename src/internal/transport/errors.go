// FILE: src/internal/transport/errors.go
package transport

import (
	"errors"
	"fmt"
)

// ErrNoDocument reports a reply frame that carried no document.
var ErrNoDocument = errors.New("no document returned")

// ServerError is a command the server executed and rejected, such as a
// failed authentication step. Code and Message come from the reply's
// "code" and "errmsg" fields.
type ServerError struct {
	Code    int32
	Message string
}

func (e *ServerError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("server error (code %d)", e.Code)
	}
	return fmt.Sprintf("server error (code %d): %s", e.Code, e.Message)
}
