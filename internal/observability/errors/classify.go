package errors

import (
	goerrors "errors"
	"reflect"
	"strings"

	mmerrors "github.com/merrymaker/scanner/internal/errors"
)

// Classify returns a normalized error type name suitable for tagging metrics/logs.
// An *mmerrors.AppError classifies by its own Code (e.g. "lease_lost",
// "transient") rather than its Go type, since every adapter in this tree
// already wraps failures into one of those codes before they reach a sink or
// the job runner; anything else falls back to unwrapping and reflecting on
// the concrete type.
func Classify(err error) string {
	if err == nil {
		return ""
	}

	if code := mmerrors.GetCode(err); code != "" {
		return string(code)
	}

	// Unwrap to the innermost error for better signal.
	for {
		unwrapped := goerrors.Unwrap(err)
		if unwrapped == nil {
			break
		}
		err = unwrapped
	}

	t := reflect.TypeOf(err)
	for t != nil && t.Kind() == reflect.Pointer {
		t = t.Elem()
	}
	if t == nil {
		return "unknown"
	}

	name := strings.ToLower(strings.ReplaceAll(t.String(), "*", ""))
	name = strings.ReplaceAll(name, ".", "_")
	if name == "" {
		return "unknown"
	}
	return name
}
