package runtime

import "errors"

// permanentError marks a handler failure that no amount of retrying will
// fix. The partition loop routes these straight to the dead-letter topic.
type permanentError struct {
	err error
}

func (p *permanentError) Error() string { return p.err.Error() }
func (p *permanentError) Unwrap() error { return p.err }

// Permanent wraps an error so the runtime skips retries and dead-letters
// the record. Handlers use it for failures rooted in the record itself.
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return &permanentError{err: err}
}

// IsPermanent reports whether the error carries the permanent marker.
func IsPermanent(err error) bool {
	var p *permanentError
	return errors.As(err, &p)
}
