package memory

import (
	"bytes"
	"strings"
	"time"

	"go.mongodb.org/mongo-driver/v2/bson"
)

// normalize converts a decoded value to the shapes the evaluator works on:
// documents become bson.M and arrays become bson.A, recursively.
func normalize(v any) any {
	switch t := v.(type) {
	case bson.M:
		out := make(bson.M, len(t))
		for k, val := range t {
			out[k] = normalize(val)
		}
		return out
	case map[string]any:
		out := make(bson.M, len(t))
		for k, val := range t {
			out[k] = normalize(val)
		}
		return out
	case bson.D:
		out := make(bson.M, len(t))
		for _, e := range t {
			out[e.Key] = normalize(e.Value)
		}
		return out
	case bson.A:
		out := make(bson.A, len(t))
		for i, val := range t {
			out[i] = normalize(val)
		}
		return out
	case []any:
		out := make(bson.A, len(t))
		for i, val := range t {
			out[i] = normalize(val)
		}
		return out
	default:
		return v
	}
}

// toDocument round trips document through bson so structs, maps and bson.D all end up
// as a normalised bson.M.
func toDocument(document any) (bson.M, error) {
	data, err := bson.Marshal(document)
	if err != nil {
		return nil, err
	}

	var out bson.M
	if err := bson.Unmarshal(data, &out); err != nil {
		return nil, err
	}
	return normalize(out).(bson.M), nil
}

func cloneDocument(doc bson.M) bson.M {
	return normalize(doc).(bson.M)
}

// lookup resolves a dotted path. Traversing an array collects the path from every
// element, as the store does for queries on embedded arrays.
func lookup(doc any, path string) (any, bool) {
	head, rest, nested := strings.Cut(path, ".")

	switch t := doc.(type) {
	case bson.M:
		v, ok := t[head]
		if !ok {
			return nil, false
		}
		if !nested {
			return v, true
		}
		return lookup(v, rest)
	case bson.A:
		var out bson.A
		for _, el := range t {
			if v, ok := lookup(el, path); ok {
				out = append(out, v)
			}
		}
		if len(out) == 0 {
			return nil, false
		}
		return out, true
	default:
		return nil, false
	}
}

// setPath assigns value at a dotted path, creating intermediate documents.
func setPath(doc bson.M, path string, value any) {
	head, rest, nested := strings.Cut(path, ".")
	if !nested {
		doc[head] = value
		return
	}

	child, ok := doc[head].(bson.M)
	if !ok {
		child = bson.M{}
		doc[head] = child
	}
	setPath(child, rest, value)
}

func unsetPath(doc bson.M, path string) {
	head, rest, nested := strings.Cut(path, ".")
	if !nested {
		delete(doc, head)
		return
	}
	if child, ok := doc[head].(bson.M); ok {
		unsetPath(child, rest)
	}
}

// typeOrder follows the store's cross type comparison order.
func typeOrder(v any) int {
	switch v.(type) {
	case nil:
		return 1
	case int, int32, int64, float64, float32:
		return 2
	case string:
		return 3
	case bson.M:
		return 4
	case bson.A:
		return 5
	case []byte, bson.Binary:
		return 6
	case bson.ObjectID:
		return 7
	case bool:
		return 8
	case time.Time, bson.DateTime:
		return 9
	default:
		return 10
	}
}

func toFloat(v any) float64 {
	switch n := v.(type) {
	case int:
		return float64(n)
	case int32:
		return float64(n)
	case int64:
		return float64(n)
	case float32:
		return float64(n)
	case float64:
		return n
	}
	return 0
}

func toTime(v any) time.Time {
	switch t := v.(type) {
	case time.Time:
		return t
	case bson.DateTime:
		return t.Time()
	}
	return time.Time{}
}

// compare orders a and b. Values of different types are ordered by typeOrder.
func compare(a, b any) int {
	ta, tb := typeOrder(a), typeOrder(b)
	if ta != tb {
		return ta - tb
	}

	switch ta {
	case 1:
		return 0
	case 2:
		fa, fb := toFloat(a), toFloat(b)
		switch {
		case fa < fb:
			return -1
		case fa > fb:
			return 1
		}
		return 0
	case 3:
		return strings.Compare(a.(string), b.(string))
	case 7:
		oa, ob := a.(bson.ObjectID), b.(bson.ObjectID)
		return bytes.Compare(oa[:], ob[:])
	case 8:
		ba, bb := a.(bool), b.(bool)
		switch {
		case ba == bb:
			return 0
		case !ba:
			return -1
		}
		return 1
	case 9:
		return toTime(a).Compare(toTime(b))
	case 4:
		return compareDocuments(a.(bson.M), b.(bson.M))
	case 5:
		return compareArrays(a.(bson.A), b.(bson.A))
	}

	return 0
}

func compareArrays(a, b bson.A) int {
	for i := 0; i < len(a) && i < len(b); i++ {
		if c := compare(a[i], b[i]); c != 0 {
			return c
		}
	}
	return len(a) - len(b)
}

func compareDocuments(a, b bson.M) int {
	if len(a) != len(b) {
		return len(a) - len(b)
	}
	for k, va := range a {
		vb, ok := b[k]
		if !ok {
			return 1
		}
		if c := compare(va, vb); c != 0 {
			return c
		}
	}
	return 0
}

func equal(a, b any) bool {
	if typeOrder(a) != typeOrder(b) {
		return false
	}
	return compare(a, b) == 0
}
