package kv

import (
	"errors"
	"fmt"
)

// ErrStorage matches every persistence failure returned by this package.
var ErrStorage = errors.New("storage error")

// ErrNoChange, returned from an UpdateFunc, ends the update without writing.
var ErrNoChange = errors.New("no change")

// StorageError describes a failed read or write against the key-value store.
type StorageError struct {
	Op  string
	Key string
	Err error
}

func (e *StorageError) Error() string {
	if e.Key == "" {
		return fmt.Sprintf("storage %s: %v", e.Op, e.Err)
	}
	return fmt.Sprintf("storage %s %q: %v", e.Op, e.Key, e.Err)
}

func (e *StorageError) Unwrap() error {
	return e.Err
}

// Is reports ErrStorage for every StorageError so callers can test the class
// without caring about the operation.
func (e *StorageError) Is(target error) bool {
	return target == ErrStorage
}

func wrap(op, key string, err error) error {
	if err == nil {
		return nil
	}
	return &StorageError{Op: op, Key: key, Err: err}
}
