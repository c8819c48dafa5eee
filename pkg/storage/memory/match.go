package memory

import (
	"strings"

	"go.mongodb.org/mongo-driver/v2/bson"

	"github.com/docmodel/docmodel/pkg/storage"
)

// matches reports whether doc satisfies filter. Supported are implicit equality and the
// $eq, $ne, $gt, $gte, $lt, $lte, $in, $nin, $exists, $and, $or and $nor operators.
func matches(doc bson.M, filter bson.M) (bool, error) {
	for key, cond := range filter {
		var ok bool
		var err error

		switch key {
		case "$and":
			ok, err = matchAll(doc, cond, key)
		case "$or":
			ok, err = matchAny(doc, cond, key)
		case "$nor":
			ok, err = matchAny(doc, cond, key)
			ok = !ok
		default:
			if strings.HasPrefix(key, "$") {
				return false, storage.UnsupportedOperatorError(key)
			}
			ok, err = matchField(doc, key, normalize(cond))
		}

		if err != nil || !ok {
			return false, err
		}
	}
	return true, nil
}

func subFilters(cond any, op string) ([]bson.M, error) {
	arr, ok := normalize(cond).(bson.A)
	if !ok {
		return nil, storage.UnsupportedOperatorError(op + " expects an array")
	}
	out := make([]bson.M, 0, len(arr))
	for _, el := range arr {
		f, ok := el.(bson.M)
		if !ok {
			return nil, storage.UnsupportedOperatorError(op + " expects an array of documents")
		}
		out = append(out, f)
	}
	return out, nil
}

func matchAll(doc bson.M, cond any, op string) (bool, error) {
	filters, err := subFilters(cond, op)
	if err != nil {
		return false, err
	}
	for _, f := range filters {
		ok, err := matches(doc, f)
		if err != nil || !ok {
			return false, err
		}
	}
	return true, nil
}

func matchAny(doc bson.M, cond any, op string) (bool, error) {
	filters, err := subFilters(cond, op)
	if err != nil {
		return false, err
	}
	for _, f := range filters {
		ok, err := matches(doc, f)
		if err != nil {
			return false, err
		}
		if ok {
			return true, nil
		}
	}
	return false, nil
}

func isOperatorDocument(cond any) (bson.M, bool) {
	m, ok := cond.(bson.M)
	if !ok || len(m) == 0 {
		return nil, false
	}
	for k := range m {
		if !strings.HasPrefix(k, "$") {
			return nil, false
		}
	}
	return m, true
}

func matchField(doc bson.M, path string, cond any) (bool, error) {
	value, exists := lookup(doc, path)

	ops, ok := isOperatorDocument(cond)
	if !ok {
		return exists && equalsOrContains(value, cond), nil
	}

	for op, operand := range ops {
		var ok bool
		switch op {
		case "$eq":
			ok = exists && equalsOrContains(value, operand)
		case "$ne":
			ok = !exists || !equalsOrContains(value, operand)
		case "$gt":
			ok = exists && anyCompare(value, operand, func(c int) bool { return c > 0 })
		case "$gte":
			ok = exists && anyCompare(value, operand, func(c int) bool { return c >= 0 })
		case "$lt":
			ok = exists && anyCompare(value, operand, func(c int) bool { return c < 0 })
		case "$lte":
			ok = exists && anyCompare(value, operand, func(c int) bool { return c <= 0 })
		case "$in":
			candidates, isArr := operand.(bson.A)
			if !isArr {
				return false, storage.UnsupportedOperatorError("$in expects an array")
			}
			ok = exists && inAny(value, candidates)
		case "$nin":
			candidates, isArr := operand.(bson.A)
			if !isArr {
				return false, storage.UnsupportedOperatorError("$nin expects an array")
			}
			ok = !exists || !inAny(value, candidates)
		case "$exists":
			want, _ := operand.(bool)
			ok = exists == want
		default:
			return false, storage.UnsupportedOperatorError(op)
		}
		if !ok {
			return false, nil
		}
	}
	return true, nil
}

// equalsOrContains is equality, extended to array values containing the operand.
func equalsOrContains(value, operand any) bool {
	if equal(value, operand) {
		return true
	}
	if arr, ok := value.(bson.A); ok {
		for _, el := range arr {
			if equal(el, operand) {
				return true
			}
		}
	}
	return false
}

// anyCompare applies pred to value, or to any element when value is an array.
// Values of different types never satisfy a range comparison.
func anyCompare(value, operand any, pred func(int) bool) bool {
	check := func(v any) bool {
		return typeOrder(v) == typeOrder(operand) && pred(compare(v, operand))
	}
	if arr, ok := value.(bson.A); ok {
		for _, el := range arr {
			if check(el) {
				return true
			}
		}
		return false
	}
	return check(value)
}

func inAny(value any, candidates bson.A) bool {
	for _, c := range candidates {
		if equalsOrContains(value, c) {
			return true
		}
	}
	return false
}
