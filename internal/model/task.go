// Package model defines the core domain models used throughout the application.
package model

import (
	"fmt"
	"strings"
)

// TaskType identifies which kind of annotation a submission carries.
type TaskType string

// Task type constants.
const (
	TaskClassification TaskType = "classification"
	TaskSummary        TaskType = "summary"
	TaskQA             TaskType = "qa"
)

// AllTaskTypes lists task types in their canonical order.
var AllTaskTypes = []TaskType{TaskClassification, TaskSummary, TaskQA}

// UnknownSessionID is assigned when no session identifier can be parsed.
// Outputs carrying it are undeliverable.
const UnknownSessionID = "unknown"

// Order returns the canonical position of the task type, or len(AllTaskTypes) if unknown.
func (t TaskType) Order() int {
	for i, tt := range AllTaskTypes {
		if tt == t {
			return i
		}
	}
	return len(AllTaskTypes)
}

// Valid reports whether t is one of the known task types.
func (t TaskType) Valid() bool {
	return t.Order() < len(AllTaskTypes)
}

// ParseTaskType converts a string into a TaskType.
func ParseTaskType(s string) (TaskType, error) {
	t := TaskType(strings.ToLower(strings.TrimSpace(s)))
	if !t.Valid() {
		return "", fmt.Errorf("unknown task type %q", s)
	}
	return t, nil
}

// TaskSet is an unordered set of task types.
type TaskSet map[TaskType]struct{}

// NewTaskSet builds a set from the given task types.
func NewTaskSet(types ...TaskType) TaskSet {
	s := make(TaskSet, len(types))
	for _, t := range types {
		s[t] = struct{}{}
	}
	return s
}

// Has reports whether t is in the set.
func (s TaskSet) Has(t TaskType) bool {
	_, ok := s[t]
	return ok
}

// Contains reports whether every task type in other is present in s.
func (s TaskSet) Contains(other TaskSet) bool {
	for t := range other {
		if !s.Has(t) {
			return false
		}
	}
	return true
}

// Sorted returns the members in canonical order.
func (s TaskSet) Sorted() []TaskType {
	out := make([]TaskType, 0, len(s))
	for _, t := range AllTaskTypes {
		if s.Has(t) {
			out = append(out, t)
		}
	}
	return out
}
