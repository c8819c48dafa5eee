package memory

import (
	"strings"

	"go.mongodb.org/mongo-driver/v2/bson"

	"github.com/docmodel/docmodel/pkg/storage"
)

// applyUpdate applies the $set, $unset and $inc operators of update to doc in place.
// Updating _id is rejected, and so is a document without operators.
func applyUpdate(doc bson.M, update bson.M) error {
	if len(update) == 0 {
		return storage.UnsupportedOperatorError("update document must contain update operators")
	}

	for op, fields := range update {
		if !strings.HasPrefix(op, "$") {
			return storage.UnsupportedOperatorError("update document must contain only update operators, found " + op)
		}
		spec, ok := normalize(fields).(bson.M)
		if !ok {
			return storage.UnsupportedOperatorError(op + " expects a document")
		}

		for path, value := range spec {
			if path == storage.IDField {
				return storage.UnsupportedOperatorError("updating the immutable field _id")
			}

			switch op {
			case "$set":
				setPath(doc, path, value)
			case "$unset":
				unsetPath(doc, path)
			case "$inc":
				current, _ := lookup(doc, path)
				sum, err := increment(current, value)
				if err != nil {
					return err
				}
				setPath(doc, path, sum)
			default:
				return storage.UnsupportedOperatorError(op)
			}
		}
	}
	return nil
}

func increment(current, delta any) (any, error) {
	if typeOrder(delta) != 2 || (current != nil && typeOrder(current) != 2) {
		return nil, storage.UnsupportedOperatorError("$inc on a non numeric value")
	}

	_, curFloat := current.(float64)
	_, deltaFloat := delta.(float64)
	if curFloat || deltaFloat {
		return toFloat(current) + toFloat(delta), nil
	}

	sum := int64(toFloat(current)) + int64(toFloat(delta))
	if sum >= -1<<31 && sum < 1<<31 {
		if _, is64 := current.(int64); !is64 {
			if _, d64 := delta.(int64); !d64 {
				return int32(sum), nil
			}
		}
	}
	return sum, nil
}

// upsertSeed returns the document an upsert starts from: the top level equality
// conditions of filter.
func upsertSeed(filter bson.M) bson.M {
	seed := bson.M{}
	for k, v := range filter {
		if strings.HasPrefix(k, "$") {
			continue
		}
		if _, isOp := isOperatorDocument(normalize(v)); isOp {
			continue
		}
		setPath(seed, k, normalize(v))
	}
	return seed
}
