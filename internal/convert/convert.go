package convert

import (
	"fmt"
	"strconv"
	"strings"
)

// Value is the closed set of Go types a signal value string may convert to.
type Value interface {
	~bool |
		~int | ~int8 | ~int16 | ~int32 | ~int64 |
		~uint | ~uint8 | ~uint16 | ~uint32 | ~uint64 |
		~float32 | ~float64 |
		~string
}

// As parses s into type T. On failure it returns the zero value of T and an
// error describing the rejected input.
func As[T Value](s string) (T, error) {
	var zero T

	switch any(zero).(type) {
	case string:
		return any(s).(T), nil

	case bool:
		v, err := parseBool(s)
		if err != nil {
			return zero, err
		}
		return any(v).(T), nil

	case int:
		return parseInt[T](s, strconv.IntSize)
	case int8:
		return parseInt[T](s, 8)
	case int16:
		return parseInt[T](s, 16)
	case int32:
		return parseInt[T](s, 32)
	case int64:
		return parseInt[T](s, 64)

	case uint:
		return parseUint[T](s, strconv.IntSize)
	case uint8:
		return parseUint[T](s, 8)
	case uint16:
		return parseUint[T](s, 16)
	case uint32:
		return parseUint[T](s, 32)
	case uint64:
		return parseUint[T](s, 64)

	case float32:
		return parseFloat[T](s, 32)
	case float64:
		return parseFloat[T](s, 64)

	default:
		return zero, fmt.Errorf("convert: unsupported target type %T", zero)
	}
}

func parseBool(s string) (bool, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "true", "1":
		return true, nil
	case "false", "0":
		return false, nil
	default:
		return false, fmt.Errorf("convert: %q is not a boolean", s)
	}
}

func parseInt[T Value](s string, bits int) (T, error) {
	var zero T
	v, err := strconv.ParseInt(strings.TrimSpace(s), 10, bits)
	if err != nil {
		return zero, fmt.Errorf("convert: %q is not a %d-bit integer", s, bits)
	}
	return castInt[T](v), nil
}

func parseUint[T Value](s string, bits int) (T, error) {
	var zero T
	v, err := strconv.ParseUint(strings.TrimSpace(s), 10, bits)
	if err != nil {
		return zero, fmt.Errorf("convert: %q is not a %d-bit unsigned integer", s, bits)
	}
	return castUint[T](v), nil
}

func parseFloat[T Value](s string, bits int) (T, error) {
	var zero T
	v, err := strconv.ParseFloat(strings.TrimSpace(s), bits)
	if err != nil {
		return zero, fmt.Errorf("convert: %q is not a %d-bit float", s, bits)
	}
	return castFloat[T](v), nil
}

// The cast helpers narrow after ParseInt/ParseUint/ParseFloat already
// range-checked against the requested bit width.

func castInt[T Value](v int64) T {
	var zero T
	switch any(zero).(type) {
	case int:
		return any(int(v)).(T)
	case int8:
		return any(int8(v)).(T)
	case int16:
		return any(int16(v)).(T)
	case int32:
		return any(int32(v)).(T)
	default:
		return any(v).(T)
	}
}

func castUint[T Value](v uint64) T {
	var zero T
	switch any(zero).(type) {
	case uint:
		return any(uint(v)).(T)
	case uint8:
		return any(uint8(v)).(T)
	case uint16:
		return any(uint16(v)).(T)
	case uint32:
		return any(uint32(v)).(T)
	default:
		return any(v).(T)
	}
}

func castFloat[T Value](v float64) T {
	var zero T
	if _, ok := any(zero).(float32); ok {
		return any(float32(v)).(T)
	}
	return any(v).(T)
}
