package storage

import (
	"errors"
	"fmt"
)

var (
	// ErrCollision if a collection or document already exists within the store.
	ErrCollision = errors.New("item already exists")

	// ErrNotFound if a single document lookup has no match.
	ErrNotFound = errors.New("not found")

	// ErrClientClosed if an operation is issued on a client that was never connected or has been disconnected.
	ErrClientClosed = errors.New("client is disconnected")

	// ErrInvalidPipeline if an aggregation stage cannot be executed.
	ErrInvalidPipeline = errors.New("invalid aggregation pipeline")

	// ErrInvalidOption if an execution option has a value of the wrong type.
	ErrInvalidOption = errors.New("invalid execution option")

	// ErrUnsupportedOperator if a filter or update uses an operator the store cannot evaluate.
	ErrUnsupportedOperator = errors.New("unsupported operator")
)

// InvalidPipelineError reports the offending stage index.
func InvalidPipelineError(stage int, reason string) error {
	return fmt.Errorf("stage %d: %s: %w", stage, reason, ErrInvalidPipeline)
}

// InvalidOptionError reports the offending option key.
func InvalidOptionError(key string, value any) error {
	return fmt.Errorf("option %q has unexpected value %v (%T): %w", key, value, value, ErrInvalidOption)
}

// UnsupportedOperatorError reports the offending operator.
func UnsupportedOperatorError(op string) error {
	return fmt.Errorf("%s: %w", op, ErrUnsupportedOperator)
}
