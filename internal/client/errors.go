package client

import (
	"errors"
	"fmt"

	apperrors "github.com/globetrotter/auth-service/pkg/util/errorutil"
)

// ErrNoSession is returned by authenticated calls when the slot is empty.
var ErrNoSession = errors.New("client: no stored credential")

// APIError is a rejection rendered by the server.
type APIError struct {
	Status  int            `json:"-"`
	Code    string         `json:"code"`
	Message string         `json:"message"`
	Details map[string]any `json:"details,omitempty"`
}

func (e *APIError) Error() string {
	return fmt.Sprintf("%s (%d): %s", e.Code, e.Status, e.Message)
}

// Terminal reports whether the rejection ends the session. Only an
// expired credential can be recovered by refreshing.
func (e *APIError) Terminal() bool {
	_, ok := sessionCodes[e.Code]
	return ok && e.Code != apperrors.CodeTokenExpired
}

var sessionCodes = map[string]struct{}{
	apperrors.CodeNoToken:            {},
	apperrors.CodeInvalidToken:       {},
	apperrors.CodeTokenExpired:       {},
	apperrors.CodeTokenRevoked:       {},
	apperrors.CodeUserNotFound:       {},
	apperrors.CodeAccountDeactivated: {},
}

// IsCode reports whether err is an APIError carrying code.
func IsCode(err error, code string) bool {
	var apiErr *APIError
	return errors.As(err, &apiErr) && apiErr.Code == code
}

// IsTransport reports whether err is a failure to reach the server rather
// than a rejection from it.
func IsTransport(err error) bool {
	var apiErr *APIError
	return err != nil && !errors.As(err, &apiErr) && !errors.Is(err, ErrNoSession)
}
