package aggregation

import (
	"go.mongodb.org/mongo-driver/v2/bson"
)

// Builder accumulates the ordered stages of one pipeline.
type Builder struct {
	stages []*StageBuilder
}

func New() *Builder {
	return &Builder{}
}

// Stage mints a new stage, appends it to the pipeline and returns it for the caller
// to populate. The stage is part of the pipeline even if it is never populated.
func (b *Builder) Stage() *StageBuilder {
	s := NewStageBuilder()
	b.stages = append(b.stages, s)
	return s
}

func (b *Builder) Limit(n int64) *Builder {
	b.Stage().Limit(n)
	return b
}

func (b *Builder) Skip(n int64) *Builder {
	b.Stage().Skip(n)
	return b
}

func (b *Builder) Sort(column string, direction any) *Builder {
	b.Stage().Sort(column, direction)
	return b
}

func (b *Builder) SortBy(columns bson.D) *Builder {
	b.Stage().SortBy(columns)
	return b
}

func (b *Builder) Match(criteria bson.M) *Builder {
	b.Stage().Match(criteria)
	return b
}

func (b *Builder) Lookup(opts LookupOptions) *Builder {
	b.Stage().Lookup(opts)
	return b
}

// LookupWith passes a LookupBuilder seeded with empty options to fn and appends the
// resulting $lookup stage.
func (b *Builder) LookupWith(fn func(*LookupBuilder)) *Builder {
	var opts LookupOptions
	fn(NewLookupBuilder(&opts))
	return b.Lookup(opts)
}

func (b *Builder) Unwind(opts UnwindOptions) *Builder {
	b.Stage().Unwind(opts)
	return b
}

// UnwindWith passes an UnwindBuilder seeded with empty options to fn and appends the
// resulting $unwind stage.
func (b *Builder) UnwindWith(fn func(*UnwindBuilder)) *Builder {
	var opts UnwindOptions
	fn(NewUnwindBuilder(&opts))
	return b.Unwind(opts)
}

// Len returns the number of stages appended so far.
func (b *Builder) Len() int {
	return len(b.stages)
}

// Pipeline renders the stages in append order. It does not change the builder.
func (b *Builder) Pipeline() []Stage {
	pipeline := make([]Stage, 0, len(b.stages))
	for _, s := range b.stages {
		pipeline = append(pipeline, s.Stage())
	}
	return pipeline
}
