package agent

import (
	"context"
	"errors"
)

// ErrUnavailable is returned by Unavailable when it carries no error.
var ErrUnavailable = errors.New("external agent unavailable")

// Unavailable is an External that always fails. It stands in for the remote
// model in offline runs and tests.
type Unavailable struct {
	Err error
}

func (u Unavailable) Reply(context.Context, []Message) (string, error) {
	if u.Err != nil {
		return "", u.Err
	}
	return "", ErrUnavailable
}

// Canned is an External that always answers with the same text.
type Canned string

func (c Canned) Reply(context.Context, []Message) (string, error) {
	return string(c), nil
}
