package storage

import (
	"encoding/json"
	"reflect"
	"strings"
)

// ValidateKey checks that a key is usable by every adapter. Keys must be
// non-empty and must not contain NUL, which the graph adapter reserves as
// its composite-key separator.
func ValidateKey(key string) error {
	if key == "" {
		return NewError(CodeInvalidKey, "key cannot be empty")
	}
	if strings.ContainsRune(key, '\x00') {
		return NewError(CodeInvalidKey, "key cannot contain NUL bytes").WithDetail("key", key)
	}
	return nil
}

// ValidateValue checks that a value can round-trip through the adapters'
// serialized representations.
func ValidateValue(value any) error {
	if isNilValue(value) {
		return NewError(CodeInvalidValue, "value cannot be nil")
	}
	if _, err := json.Marshal(value); err != nil {
		return WrapError(CodeInvalidValue, err, "value is not serializable")
	}
	return nil
}

// isNilValue catches both an untyped nil and a typed nil boxed into the
// interface, such as a nil map or pointer: either would serialize to a
// JSON null and resurface as an absent-looking value.
func isNilValue(value any) bool {
	if value == nil {
		return true
	}
	rv := reflect.ValueOf(value)
	switch rv.Kind() {
	case reflect.Map, reflect.Slice, reflect.Pointer, reflect.Interface, reflect.Func, reflect.Chan:
		return rv.IsNil()
	}
	return false
}

// validateEntries applies key and value validation to a whole entry set
// before any of it is written. The first invalid entry aborts.
func validateEntries[T any](entries map[string]T) error {
	for key, value := range entries {
		if err := ValidateKey(key); err != nil {
			return err
		}
		if err := ValidateValue(value); err != nil {
			return err
		}
	}
	return nil
}

// validateOperations checks every operation in a batch up front. Set
// operations need a valid key and value, deletes a valid key, clears
// nothing.
func validateOperations[T any](ops []Operation[T]) error {
	for i, op := range ops {
		switch op.Kind {
		case OpSet:
			if err := ValidateKey(op.Key); err != nil {
				return err
			}
			if err := ValidateValue(op.Value); err != nil {
				return err
			}
		case OpDelete:
			if err := ValidateKey(op.Key); err != nil {
				return err
			}
		case OpClear:
		default:
			return NewError(CodeInvalidValue, "unknown batch operation kind %q at index %d", op.Kind, i)
		}
	}
	return nil
}
