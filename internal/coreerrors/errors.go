// Copyright 2018-2020 (c) Cognizant Digital Business, Evolutionary AI. All rights reserved. Issued under the Apache 2.0 License.

// Package coreerrors implements the error taxonomy described by the core
// design: a closed set of kinds, each constructed as a kv.Error carrying a
// "kind" field plus a captured call stack, following the pattern used
// throughout the teacher codebase (kv.Wrap(errGo).With("stack", ...)).
package coreerrors

import (
	"github.com/go-stack/stack"
	"github.com/jjeffery/kv"
)

// Kind enumerates the error taxonomy from the design's error-handling
// section. These are not Go types: every core error is a kv.Error with a
// "kind" field set to one of these strings, so callers match on Kind(err)
// rather than a type switch.
type Kind string

const (
	ValidationFailure      Kind = "validation_failure"
	NotFound               Kind = "not_found"
	AlreadyExists          Kind = "already_exists"
	BackendUnavailable     Kind = "backend_unavailable"
	BackendExecutionFailed Kind = "backend_execution_failure"
	BackendTimeout         Kind = "backend_timeout"
	OfflineMiss            Kind = "offline_miss"
	ResourceExhausted      Kind = "resource_exhausted"
	IsolationUnavailable   Kind = "isolation_unavailable"
	CgroupOperationFailed  Kind = "cgroup_operation_failed"
	CacheIntegrityError    Kind = "cache_integrity_error"
	CleanupFailure         Kind = "cleanup_failure"
	MetadataCorruption     Kind = "metadata_corruption"
)

// CoreError is a kv.Error tagged with one of the closed set of Kind values
// above, so callers can branch on Kind(err) instead of string-matching
// messages or maintaining a parallel hierarchy of Go error types.
type CoreError struct {
	kv.Error
	kind Kind
}

// KindOf returns the taxonomy kind carried by err, or "" if err is not a
// CoreError.
func KindOf(err error) Kind {
	if ce, ok := err.(*CoreError); ok {
		return ce.kind
	}
	return ""
}

// Is reports whether err is a CoreError of the given kind.
func Is(err error, k Kind) bool {
	ce, ok := err.(*CoreError)
	return ok && ce.kind == k
}

// New builds a CoreError of the given kind with a captured stack trace and
// any additional key/value context, following the teacher's chained
// kv.Wrap(...).With("stack", ...) idiom.
func New(k Kind, msg string, kvs ...interface{}) *CoreError {
	e := kv.NewError(msg).With("kind", string(k)).With("stack", stack.Trace().TrimRuntime())
	return &CoreError{Error: withPairs(e, kvs), kind: k}
}

// Wrap adorns an underlying Go error with a kind, a captured stack trace,
// and any additional key/value context.
func Wrap(k Kind, errGo error, kvs ...interface{}) *CoreError {
	if errGo == nil {
		return nil
	}
	e := kv.Wrap(errGo).With("kind", string(k)).With("stack", stack.Trace().TrimRuntime())
	return &CoreError{Error: withPairs(e, kvs), kind: k}
}

func withPairs(e kv.Error, kvs []interface{}) kv.Error {
	for i := 0; i+1 < len(kvs); i += 2 {
		e = e.With(kvs[i], kvs[i+1])
	}
	return e
}
