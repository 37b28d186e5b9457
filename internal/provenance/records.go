package provenance

import (
	"fmt"
	"time"

	"drillflow/internal/ports"
)

// QueryID identifies a query by its iteration and its 1-based position in
// that iteration.
type QueryID struct {
	Iteration int `json:"iteration"`
	Sequence  int `json:"sequence"`
}

func (id QueryID) String() string {
	return fmt.Sprintf("q%d_iter%d", id.Sequence, id.Iteration)
}

// ParseQueryID parses the q{seq}_iter{iter} form produced by String.
func ParseQueryID(s string) (QueryID, error) {
	var id QueryID
	if _, err := fmt.Sscanf(s, "q%d_iter%d", &id.Sequence, &id.Iteration); err != nil {
		return QueryID{}, fmt.Errorf("parse query id %q: %w", s, err)
	}
	if id.Sequence < 1 || id.Iteration < 1 || id.String() != s {
		return QueryID{}, fmt.Errorf("parse query id %q: malformed", s)
	}
	return id, nil
}

// MarshalText renders the id in its string form.
func (id QueryID) MarshalText() ([]byte, error) {
	return []byte(id.String()), nil
}

// UnmarshalText parses the q{seq}_iter{iter} form.
func (id *QueryID) UnmarshalText(text []byte) error {
	parsed, err := ParseQueryID(string(text))
	if err != nil {
		return err
	}
	*id = parsed
	return nil
}

// QueryRecord is a value snapshot of one instruction's execution.
type QueryRecord struct {
	ID              QueryID           `json:"id"`
	IterationID     int               `json:"iteration_id"`
	Sequence        int               `json:"query_sequence"`
	Instruction     string            `json:"instruction"`
	Parameters      ports.Instruction `json:"parameters"`
	ContentHash     string            `json:"content_hash"`
	Status          QueryStatus       `json:"status"`
	ServedFromCache bool              `json:"served_from_cache"`
	Artifact        *ports.Artifact   `json:"artifact,omitempty"`
	Statement       string            `json:"statement,omitempty"`
	Output          string            `json:"output,omitempty"`
	Error           string            `json:"error,omitempty"`
	ExecutionTime   time.Duration     `json:"execution_time_ns,omitempty"`
	CreatedAt       time.Time         `json:"created_at"`
	CompletedAt     *time.Time        `json:"completed_at,omitempty"`
}

// Outcome converts the record to the view handed to collaborators.
func (q QueryRecord) Outcome() ports.QueryOutcome {
	return ports.QueryOutcome{
		QueryID:         q.ID.String(),
		Instruction:     q.Instruction,
		Parameters:      q.Parameters,
		Status:          string(q.Status),
		ServedFromCache: q.ServedFromCache,
		Artifact:        q.Artifact.Clone(),
		Statement:       q.Statement,
		Output:          q.Output,
		Error:           q.Error,
	}
}

// IterationRecord is a value snapshot of one phase.
type IterationRecord struct {
	ID          int           `json:"id"`
	Kind        IterationKind `json:"kind"`
	Name        string        `json:"name"`
	Description string        `json:"description,omitempty"`
	OpenedAt    time.Time     `json:"opened_at"`
	ClosedAt    *time.Time    `json:"closed_at,omitempty"`
	Queries     []QueryRecord `json:"queries"`
}

// Open reports whether the iteration has not been closed yet.
func (it IterationRecord) Open() bool {
	return it.ClosedAt == nil
}

// SuccessCount returns the number of successful queries in the iteration.
func (it IterationRecord) SuccessCount() int {
	n := 0
	for _, q := range it.Queries {
		if q.Status == StatusSuccess {
			n++
		}
	}
	return n
}

// Outcome is the terminal result applied to a pending query.
type Outcome struct {
	Status          QueryStatus
	ServedFromCache bool
	Artifact        *ports.Artifact
	Statement       string
	Output          string
	Error           string
	ExecutionTime   time.Duration
}

// ArtifactRef is an artifact together with the query that produced it.
type ArtifactRef struct {
	QueryID       QueryID        `json:"query_id"`
	IterationID   int            `json:"iteration_id"`
	QuerySequence int            `json:"query_sequence"`
	Instruction   string         `json:"instruction"`
	Statement     string         `json:"statement,omitempty"`
	Artifact      ports.Artifact `json:"artifact"`
}

// StatementRef is a generated statement with its execution context.
type StatementRef struct {
	QueryID       QueryID       `json:"query_id"`
	IterationID   int           `json:"iteration_id"`
	QuerySequence int           `json:"query_sequence"`
	Instruction   string        `json:"instruction"`
	Statement     string        `json:"statement"`
	Status        QueryStatus   `json:"status"`
	ExecutionTime time.Duration `json:"execution_time_ns,omitempty"`
	ExecutedAt    *time.Time    `json:"executed_at,omitempty"`
}
