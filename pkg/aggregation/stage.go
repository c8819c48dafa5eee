// Package aggregation builds aggregation pipelines in the document store's wire format.
//
// A pipeline is an ordered list of stages, each a document with a single operator
// key. The Builder's convenience methods always mint a fresh stage per call, so
// pipelines built through them hold one operator per stage. A StageBuilder obtained
// from Builder.Stage is the raw escape hatch: every setter merges into the same
// stage document.
package aggregation

import (
	"maps"

	"go.mongodb.org/mongo-driver/v2/bson"
)

const (
	OpLimit  = "$limit"
	OpSkip   = "$skip"
	OpSort   = "$sort"
	OpMatch  = "$match"
	OpLookup = "$lookup"
	OpUnwind = "$unwind"
)

// Stage is one pipeline stage document.
type Stage = bson.M

const (
	Ascending  = 1
	Descending = -1
)

// SortDirection normalises a sort direction. "asc" and "ascending" map to 1,
// "desc" and "descending" map to -1, nil maps to 1. Anything else is returned
// unchanged and is assumed to already be 1 or -1.
func SortDirection(direction any) any {
	switch d := direction.(type) {
	case nil:
		return Ascending
	case string:
		switch d {
		case "asc", "ascending":
			return Ascending
		case "desc", "descending":
			return Descending
		}
	}

	return direction
}

// StageBuilder populates a single stage document.
type StageBuilder struct {
	stage Stage
}

// NewStageBuilder returns a builder over an empty stage.
func NewStageBuilder() *StageBuilder {
	return &StageBuilder{stage: Stage{}}
}

func (s *StageBuilder) set(op string, value any) *StageBuilder {
	s.stage[op] = value
	return s
}

func (s *StageBuilder) Limit(n int64) *StageBuilder {
	return s.set(OpLimit, n)
}

func (s *StageBuilder) Skip(n int64) *StageBuilder {
	return s.set(OpSkip, n)
}

func (s *StageBuilder) Match(criteria bson.M) *StageBuilder {
	return s.set(OpMatch, criteria)
}

// Sort sets a single column sort. direction goes through SortDirection.
func (s *StageBuilder) Sort(column string, direction any) *StageBuilder {
	return s.set(OpSort, bson.D{{Key: column, Value: SortDirection(direction)}})
}

// SortBy sets a multi column sort, normalising every direction through SortDirection.
// Column order is kept.
func (s *StageBuilder) SortBy(columns bson.D) *StageBuilder {
	sort := make(bson.D, 0, len(columns))
	for _, c := range columns {
		sort = append(sort, bson.E{Key: c.Key, Value: SortDirection(c.Value)})
	}
	return s.set(OpSort, sort)
}

func (s *StageBuilder) Lookup(opts LookupOptions) *StageBuilder {
	return s.set(OpLookup, opts.Document())
}

func (s *StageBuilder) Unwind(opts UnwindOptions) *StageBuilder {
	return s.set(OpUnwind, opts.Document())
}

// Stage returns a copy of the stage document built so far.
func (s *StageBuilder) Stage() Stage {
	return maps.Clone(s.stage)
}
