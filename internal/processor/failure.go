package processor

import (
	"errors"
	"strings"

	"github.com/nhle/mailsort/internal/credential"
	"github.com/nhle/mailsort/internal/model"
	"github.com/nhle/mailsort/internal/provider"
	"github.com/nhle/mailsort/internal/store"
)

// ErrConnectionInactive is returned when a run is requested for a
// connection that is not ACTIVE.
var ErrConnectionInactive = errors.New("connection is not active")

var authHints = []string{
	"auth",
	"token",
	"invalid_grant",
	"credential",
	"login",
	"unauthorized",
	"password",
}

// storeError marks a run-level failure of the local store. It never means
// the mailbox rejected the user.
type storeError struct{ err error }

func (e *storeError) Error() string { return e.err.Error() }
func (e *storeError) Unwrap() error { return e.err }

func storeFailure(err error) error {
	return &storeError{err: err}
}

// ClassifyFailure maps a run-level error to the connection status shown to
// the user: NEEDS_REAUTH for auth or token shaped failures, ERROR
// otherwise. Only the innermost cause is matched against auth hints, so
// wrapping context added along the way cannot change the verdict.
func ClassifyFailure(err error) model.ConnectionStatus {
	if err == nil {
		return model.StatusActive
	}
	if provider.IsAuthError(err) {
		return model.StatusNeedsReauth
	}

	var se *storeError
	switch {
	case errors.As(err, &se),
		errors.Is(err, credential.ErrDecrypt),
		errors.Is(err, provider.ErrInvalidPageToken),
		errors.Is(err, store.ErrNotFound),
		errors.Is(err, store.ErrDuplicate):
		return model.StatusError
	}

	msg := strings.ToLower(rootCause(err).Error())
	for _, hint := range authHints {
		if strings.Contains(msg, hint) {
			return model.StatusNeedsReauth
		}
	}
	return model.StatusError
}

func rootCause(err error) error {
	for {
		next := errors.Unwrap(err)
		if next == nil {
			return err
		}
		err = next
	}
}
