package aggregation

import (
	"strings"

	"go.mongodb.org/mongo-driver/v2/bson"
)

// LookupOptions is the body of a $lookup stage.
type LookupOptions struct {
	From         string
	As           string
	LocalField   string
	ForeignField string
	Let          bson.M
	Pipeline     []Stage
}

// Document renders the options as {from, as, localField?, foreignField?, let?, pipeline?}.
func (o LookupOptions) Document() bson.M {
	doc := bson.M{
		"from": o.From,
		"as":   o.As,
	}
	if o.LocalField != "" {
		doc["localField"] = o.LocalField
	}
	if o.ForeignField != "" {
		doc["foreignField"] = o.ForeignField
	}
	if o.Let != nil {
		doc["let"] = o.Let
	}
	if o.Pipeline != nil {
		doc["pipeline"] = o.Pipeline
	}
	return doc
}

// LookupBuilder fills a caller owned LookupOptions in place.
type LookupBuilder struct {
	opts *LookupOptions
}

func NewLookupBuilder(opts *LookupOptions) *LookupBuilder {
	return &LookupBuilder{opts: opts}
}

func (l *LookupBuilder) From(collection string) *LookupBuilder {
	l.opts.From = collection
	return l
}

func (l *LookupBuilder) As(field string) *LookupBuilder {
	l.opts.As = field
	return l
}

func (l *LookupBuilder) LocalField(field string) *LookupBuilder {
	l.opts.LocalField = field
	return l
}

func (l *LookupBuilder) ForeignField(field string) *LookupBuilder {
	l.opts.ForeignField = field
	return l
}

func (l *LookupBuilder) Let(vars bson.M) *LookupBuilder {
	l.opts.Let = vars
	return l
}

func (l *LookupBuilder) Pipeline(stages ...Stage) *LookupBuilder {
	l.opts.Pipeline = stages
	return l
}

// Options returns the options being built.
func (l *LookupBuilder) Options() *LookupOptions {
	return l.opts
}

// UnwindOptions is the body of an $unwind stage.
type UnwindOptions struct {
	Path                       string
	PreserveNullAndEmptyArrays bool
	IncludeArrayIndex          string
}

// Document renders the options as {path, preserveNullAndEmptyArrays?, includeArrayIndex?}.
// The path is emitted as given.
func (o UnwindOptions) Document() bson.M {
	doc := bson.M{"path": o.Path}
	if o.PreserveNullAndEmptyArrays {
		doc["preserveNullAndEmptyArrays"] = true
	}
	if o.IncludeArrayIndex != "" {
		doc["includeArrayIndex"] = o.IncludeArrayIndex
	}
	return doc
}

// UnwindBuilder fills a caller owned UnwindOptions in place.
type UnwindBuilder struct {
	opts *UnwindOptions
}

func NewUnwindBuilder(opts *UnwindOptions) *UnwindBuilder {
	return &UnwindBuilder{opts: opts}
}

func (u *UnwindBuilder) Path(path string) *UnwindBuilder {
	u.opts.Path = path
	return u
}

// PreserveNullAndEmptyArrays keeps documents whose path is null, missing or an empty array.
// There is no way to unset it.
func (u *UnwindBuilder) PreserveNullAndEmptyArrays() *UnwindBuilder {
	u.opts.PreserveNullAndEmptyArrays = true
	return u
}

// IncludeArrayIndexForField stores the array index under name. A single leading "$" is dropped.
func (u *UnwindBuilder) IncludeArrayIndexForField(name string) *UnwindBuilder {
	u.opts.IncludeArrayIndex = strings.TrimPrefix(name, "$")
	return u
}

func (u *UnwindBuilder) Options() *UnwindOptions {
	return u.opts
}
