package memory

import (
	"slices"
	"strings"

	"go.mongodb.org/mongo-driver/v2/bson"

	"github.com/docmodel/docmodel/pkg/storage"
)

// foreignReader returns a snapshot of another collection of the same database.
type foreignReader func(collection string) []bson.M

// runPipeline evaluates the $match, $sort, $limit, $skip, $unwind and equality $lookup
// stages. Stages must hold exactly one operator, as the store requires.
func runPipeline(docs []bson.M, pipeline []bson.M, foreign foreignReader) ([]bson.M, error) {
	for i, raw := range pipeline {
		stage := normalize(raw).(bson.M)
		if len(stage) != 1 {
			return nil, storage.InvalidPipelineError(i, "a pipeline stage specification object must contain exactly one field")
		}

		var err error
		for op, arg := range stage {
			switch op {
			case "$match":
				docs, err = stageMatch(docs, arg, i)
			case "$sort":
				docs, err = stageSort(docs, raw[op], i)
			case "$limit":
				docs, err = stageLimit(docs, arg, i)
			case "$skip":
				docs, err = stageSkip(docs, arg, i)
			case "$unwind":
				docs, err = stageUnwind(docs, arg, i)
			case "$lookup":
				docs, err = stageLookup(docs, arg, i, foreign)
			default:
				err = storage.InvalidPipelineError(i, "unrecognized pipeline stage name: "+op)
			}
		}
		if err != nil {
			return nil, err
		}
	}
	return docs, nil
}

func stageMatch(docs []bson.M, arg any, i int) ([]bson.M, error) {
	filter, ok := arg.(bson.M)
	if !ok {
		return nil, storage.InvalidPipelineError(i, "the match filter must be an expression in an object")
	}
	out := make([]bson.M, 0, len(docs))
	for _, d := range docs {
		ok, err := matches(d, filter)
		if err != nil {
			return nil, err
		}
		if ok {
			out = append(out, d)
		}
	}
	return out, nil
}

// sortKeys reads an ordered sort specification. A bson.M is only accepted with a single
// key since its iteration order is undefined.
func sortKeys(spec any) (bson.D, bool) {
	switch s := spec.(type) {
	case bson.D:
		return s, len(s) > 0
	case bson.M:
		if len(s) != 1 {
			return nil, false
		}
		for k, v := range s {
			return bson.D{{Key: k, Value: v}}, true
		}
	}
	return nil, false
}

func sortDocuments(docs []bson.M, keys bson.D) bool {
	for _, k := range keys {
		if dir := toFloat(k.Value); typeOrder(k.Value) != 2 || (dir != 1 && dir != -1) {
			return false
		}
	}

	slices.SortStableFunc(docs, func(a, b bson.M) int {
		for _, k := range keys {
			va, _ := lookup(a, k.Key)
			vb, _ := lookup(b, k.Key)
			c := compare(va, vb)
			if toFloat(k.Value) < 0 {
				c = -c
			}
			if c != 0 {
				return c
			}
		}
		return 0
	})
	return true
}

func stageSort(docs []bson.M, arg any, i int) ([]bson.M, error) {
	keys, ok := sortKeys(arg)
	if !ok {
		return nil, storage.InvalidPipelineError(i, "$sort key specification must be a non empty ordered document")
	}
	out := slices.Clone(docs)
	if !sortDocuments(out, keys) {
		return nil, storage.InvalidPipelineError(i, "$sort key ordering must be 1 (for ascending) or -1 (for descending)")
	}
	return out, nil
}

func nonNegative(arg any) (int, bool) {
	if typeOrder(arg) != 2 {
		return 0, false
	}
	f := toFloat(arg)
	if f < 0 || f != float64(int64(f)) {
		return 0, false
	}
	return int(f), true
}

func stageLimit(docs []bson.M, arg any, i int) ([]bson.M, error) {
	n, ok := nonNegative(arg)
	if !ok || n == 0 {
		return nil, storage.InvalidPipelineError(i, "the limit must be positive")
	}
	if n < len(docs) {
		docs = docs[:n]
	}
	return docs, nil
}

func stageSkip(docs []bson.M, arg any, i int) ([]bson.M, error) {
	n, ok := nonNegative(arg)
	if !ok {
		return nil, storage.InvalidPipelineError(i, "invalid argument to $skip stage")
	}
	if n >= len(docs) {
		return []bson.M{}, nil
	}
	return docs[n:], nil
}

func stageUnwind(docs []bson.M, arg any, i int) ([]bson.M, error) {
	var path, indexField string
	var preserve bool

	switch a := arg.(type) {
	case string:
		path = a
	case bson.M:
		path, _ = a["path"].(string)
		preserve, _ = a["preserveNullAndEmptyArrays"].(bool)
		indexField, _ = a["includeArrayIndex"].(string)
	default:
		return nil, storage.InvalidPipelineError(i, "expected either a string or an object as specification for $unwind stage")
	}
	if !strings.HasPrefix(path, "$") {
		return nil, storage.InvalidPipelineError(i, "path option to $unwind stage should be prefixed with a '$': "+path)
	}
	field := strings.TrimPrefix(path, "$")

	var out []bson.M
	for _, d := range docs {
		value, exists := lookup(d, field)
		arr, isArr := value.(bson.A)

		switch {
		case !exists || value == nil || (isArr && len(arr) == 0):
			if preserve {
				c := cloneDocument(d)
				if indexField != "" {
					c[indexField] = nil
				}
				out = append(out, c)
			}
		case !isArr:
			c := cloneDocument(d)
			if indexField != "" {
				c[indexField] = nil
			}
			out = append(out, c)
		default:
			for idx, el := range arr {
				c := cloneDocument(d)
				setPath(c, field, el)
				if indexField != "" {
					c[indexField] = int64(idx)
				}
				out = append(out, c)
			}
		}
	}
	return out, nil
}

func stageLookup(docs []bson.M, arg any, i int, foreign foreignReader) ([]bson.M, error) {
	spec, ok := arg.(bson.M)
	if !ok {
		return nil, storage.InvalidPipelineError(i, "the $lookup stage specification must be an object")
	}
	from, _ := spec["from"].(string)
	as, _ := spec["as"].(string)
	localField, _ := spec["localField"].(string)
	foreignField, _ := spec["foreignField"].(string)

	if as == "" {
		return nil, storage.InvalidPipelineError(i, "must specify 'as' field for a $lookup")
	}
	if _, hasPipeline := spec["pipeline"]; hasPipeline {
		return nil, storage.UnsupportedOperatorError("$lookup with pipeline")
	}
	if from == "" || localField == "" || foreignField == "" {
		return nil, storage.InvalidPipelineError(i, "$lookup requires from, localField and foreignField")
	}

	others := foreign(from)
	out := make([]bson.M, 0, len(docs))
	for _, d := range docs {
		local, _ := lookup(d, localField)
		joined := bson.A{}
		for _, o := range others {
			remote, _ := lookup(o, foreignField)
			if equalsOrContains(remote, local) || equalsOrContains(local, remote) {
				joined = append(joined, cloneDocument(o))
			}
		}
		c := cloneDocument(d)
		setPath(c, as, joined)
		out = append(out, c)
	}
	return out, nil
}
