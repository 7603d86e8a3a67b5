package model

import (
	"errors"
	"fmt"
)

// Sentinel kinds for model errors.
var (
	ErrModelIncomplete       = errors.New("model incomplete")
	ErrModelDiverged         = errors.New("model diverged")
	ErrModelStore            = errors.New("model store corrupt")
	ErrUnknownTeam           = errors.New("unknown team")
	ErrMalformedDistribution = errors.New("malformed distribution")
)

// ModelIncompleteError reports a sampling attempt against a missing or empty
// distribution.
type ModelIncompleteError struct {
	Team      string
	Location  Location
	StartType string
	Reason    string
}

func (e *ModelIncompleteError) Error() string {
	if e.StartType == "" {
		return fmt.Sprintf("model incomplete: team %s %s: %s", e.Team, e.Location, e.Reason)
	}
	return fmt.Sprintf("model incomplete: team %s %s start %q: %s", e.Team, e.Location, e.StartType, e.Reason)
}

// Is matches ErrModelIncomplete.
func (e *ModelIncompleteError) Is(target error) bool { return target == ErrModelIncomplete }

// ModelDivergedError reports an expected possession count below one.
type ModelDivergedError struct {
	Team        string
	Location    Location
	Possessions float64
}

func (e *ModelDivergedError) Error() string {
	return fmt.Sprintf("model diverged: team %s %s expected possessions %.3f", e.Team, e.Location, e.Possessions)
}

// Is matches ErrModelDiverged.
func (e *ModelDivergedError) Is(target error) bool { return target == ErrModelDiverged }
