package storage

import (
	"go.mongodb.org/mongo-driver/v2/bson"
)

// FindOptions are the execution options recognised by Find and FindOne.
type FindOptions struct {
	Projection any
	Sort       any
	Limit      *int64
	Skip       *int64
	Hint       any
}

// AggregateOptions are the execution options recognised by Aggregate.
type AggregateOptions struct {
	AllowDiskUse *bool
	BatchSize    *int32
	Hint         any
}

// CountOptions are the execution options recognised by CountDocuments.
type CountOptions struct {
	Limit *int64
	Skip  *int64
	Hint  any
}

// UpdateOptions are the execution options recognised by UpdateMany and UpdateOne.
type UpdateOptions struct {
	Upsert *bool
	Hint   any
}

// DeleteOptions are the execution options recognised by DeleteMany and DeleteOne.
type DeleteOptions struct {
	Hint any
}

// ParseFindOptions reads the find related keys of opts. Other keys are ignored.
func ParseFindOptions(opts bson.M) (FindOptions, error) {
	var out FindOptions
	var err error

	out.Projection = opts["projection"]
	out.Sort = opts["sort"]
	out.Hint = opts["hint"]
	if out.Limit, err = int64Option(opts, "limit"); err != nil {
		return out, err
	}
	if out.Skip, err = int64Option(opts, "skip"); err != nil {
		return out, err
	}

	return out, nil
}

// ParseAggregateOptions reads the aggregate related keys of opts. Other keys are ignored.
func ParseAggregateOptions(opts bson.M) (AggregateOptions, error) {
	var out AggregateOptions
	var err error

	out.Hint = opts["hint"]
	if out.AllowDiskUse, err = boolOption(opts, "allowDiskUse"); err != nil {
		return out, err
	}
	batch, err := int64Option(opts, "batchSize")
	if err != nil {
		return out, err
	}
	if batch != nil {
		size := int32(*batch)
		out.BatchSize = &size
	}

	return out, nil
}

// ParseCountOptions reads the count related keys of opts. Other keys are ignored.
func ParseCountOptions(opts bson.M) (CountOptions, error) {
	var out CountOptions
	var err error

	out.Hint = opts["hint"]
	if out.Limit, err = int64Option(opts, "limit"); err != nil {
		return out, err
	}
	if out.Skip, err = int64Option(opts, "skip"); err != nil {
		return out, err
	}

	return out, nil
}

// ParseUpdateOptions reads the update related keys of opts. Other keys are ignored.
func ParseUpdateOptions(opts bson.M) (UpdateOptions, error) {
	var out UpdateOptions
	var err error

	out.Hint = opts["hint"]
	if out.Upsert, err = boolOption(opts, "upsert"); err != nil {
		return out, err
	}

	return out, nil
}

// ParseDeleteOptions reads the delete related keys of opts. Other keys are ignored.
func ParseDeleteOptions(opts bson.M) (DeleteOptions, error) {
	return DeleteOptions{Hint: opts["hint"]}, nil
}

func int64Option(opts bson.M, key string) (*int64, error) {
	raw, ok := opts[key]
	if !ok || raw == nil {
		return nil, nil
	}

	var v int64
	switch n := raw.(type) {
	case int:
		v = int64(n)
	case int32:
		v = int64(n)
	case int64:
		v = n
	case float64:
		if n != float64(int64(n)) {
			return nil, InvalidOptionError(key, raw)
		}
		v = int64(n)
	default:
		return nil, InvalidOptionError(key, raw)
	}

	return &v, nil
}

func boolOption(opts bson.M, key string) (*bool, error) {
	raw, ok := opts[key]
	if !ok || raw == nil {
		return nil, nil
	}

	v, ok := raw.(bool)
	if !ok {
		return nil, InvalidOptionError(key, raw)
	}

	return &v, nil
}
