package mailbox

import (
	"errors"
	"fmt"
)

// AuthError indicates that the mail server rejected the credentials.
type AuthError struct {
	Username string
	Err      error
}

func (e *AuthError) Error() string {
	return fmt.Sprintf("authentication failed for %s: %v", e.Username, e.Err)
}

func (e *AuthError) Unwrap() error { return e.Err }

// TransportError is a connection or protocol failure talking to the
// mail store or the transfer agent.
type TransportError struct {
	Op  string
	Err error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

func (e *TransportError) Unwrap() error { return e.Err }

// NotFoundError reports a message id that does not resolve in the
// selected mailbox.
type NotFoundError struct {
	ID string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("message %s not found", e.ID)
}

// InvalidIDError reports an id that is not a valid mailbox UID.
type InvalidIDError struct {
	ID string
}

func (e *InvalidIDError) Error() string {
	return fmt.Sprintf("invalid message id %q", e.ID)
}

// IsAuthError reports whether err (or any error in its chain) is an AuthError.
func IsAuthError(err error) bool {
	var authErr *AuthError
	return errors.As(err, &authErr)
}

// IsNotFound reports whether err (or any error in its chain) is a
// NotFoundError.
func IsNotFound(err error) bool {
	var nf *NotFoundError
	return errors.As(err, &nf)
}

func transportErr(op string, err error) error {
	if err == nil {
		return nil
	}
	var (
		te   *TransportError
		ae   *AuthError
		nf   *NotFoundError
		inva *InvalidIDError
	)
	if errors.As(err, &te) || errors.As(err, &ae) ||
		errors.As(err, &nf) || errors.As(err, &inva) {
		return err
	}
	return &TransportError{Op: op, Err: err}
}
