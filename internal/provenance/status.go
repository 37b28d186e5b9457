package provenance

import (
	"fmt"

	"drillflow/internal/ports"
)

// QueryStatus is the lifecycle state of a QueryRecord.
type QueryStatus string

const (
	StatusPending QueryStatus = "pending"
	StatusSuccess QueryStatus = "success"
	StatusPartial QueryStatus = "partial"
	StatusFailed  QueryStatus = "failed"
)

// Terminal reports whether the status ends a query's lifecycle.
func (s QueryStatus) Terminal() bool {
	switch s {
	case StatusSuccess, StatusPartial, StatusFailed:
		return true
	case StatusPending:
		return false
	default:
		return false
	}
}

// Valid reports whether s is one of the known statuses.
func (s QueryStatus) Valid() bool {
	switch s {
	case StatusPending, StatusSuccess, StatusPartial, StatusFailed:
		return true
	default:
		return false
	}
}

// StatusFromRun maps a runner status onto the query lifecycle.
func StatusFromRun(status ports.RunStatus) (QueryStatus, error) {
	switch status {
	case ports.RunSuccess:
		return StatusSuccess, nil
	case ports.RunPartial:
		return StatusPartial, nil
	case ports.RunFailed:
		return StatusFailed, nil
	default:
		return "", fmt.Errorf("unknown run status %q", status)
	}
}

// IterationKind tags an iteration as the initial round or the drilldown.
type IterationKind = ports.Stage

const (
	KindInitial   IterationKind = ports.StageInitial
	KindDrilldown IterationKind = ports.StageDrilldown
)
