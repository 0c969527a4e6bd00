package tenantctx

import (
	"errors"
	"fmt"
	"strings"
)

// ErrOverridesNotFound is returned by an OverrideStore when no override row
// exists for a scope. It is not a failure: the outer level applies.
var ErrOverridesNotFound = errors.New("overrides not found")

// NotFoundError reports a tenant, company or branch that does not exist or
// does not belong to the stated parent.
type NotFoundError struct {
	Kind string
	ID   string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%s %s not found", e.Kind, e.ID)
}

// ConfigurationError reports a missing or malformed override at one level.
// It is recovered by substituting the outer level's value.
type ConfigurationError struct {
	Level   Level
	Section string
	Err     error
}

func (e *ConfigurationError) Error() string {
	return fmt.Sprintf("%s configuration %s: %v", e.Level, e.Section, e.Err)
}

func (e *ConfigurationError) Unwrap() error { return e.Err }

// UnexpectedError wraps any other failure during resolution.
type UnexpectedError struct {
	Err error
}

func (e *UnexpectedError) Error() string {
	return fmt.Sprintf("resolve tenant context: %v", e.Err)
}

func (e *UnexpectedError) Unwrap() error { return e.Err }

func IsNotFound(err error) bool {
	var nf *NotFoundError
	return errors.As(err, &nf)
}

func configErr(level Level, section string, err error) *ConfigurationError {
	return &ConfigurationError{Level: level, Section: section, Err: err}
}

// RejectedError lists every problem found while checking an override
// document before it is stored.
type RejectedError struct {
	Problems []*ConfigurationError
}

func (e *RejectedError) Error() string {
	return fmt.Sprintf("override document rejected: %s", strings.Join(e.Messages(), "; "))
}

// Messages returns one line per problem.
func (e *RejectedError) Messages() []string {
	msgs := make([]string, len(e.Problems))
	for i, p := range e.Problems {
		msgs[i] = p.Error()
	}
	return msgs
}
