package domain

import (
	"fmt"
	"strings"
)

// Priority represents job priority level. The zero value means "unset"
// and orders like PriorityMedium.
type Priority string

const (
	PriorityHigh   Priority = "HIGH"
	PriorityMedium Priority = "MEDIUM"
	PriorityLow    Priority = "LOW"
)

// Weight returns the ordering weight; higher runs first.
func (p Priority) Weight() int {
	switch p {
	case PriorityHigh:
		return 1
	case PriorityLow:
		return -1
	default:
		return 0
	}
}

// String returns the effective priority name.
func (p Priority) String() string {
	if p == "" {
		return string(PriorityMedium)
	}
	return string(p)
}

// IsValid returns true for the three named priorities and the unset value.
func (p Priority) IsValid() bool {
	switch p {
	case PriorityHigh, PriorityMedium, PriorityLow, "":
		return true
	default:
		return false
	}
}

// ParsePriority converts a case-insensitive name to a Priority. An empty
// string yields PriorityMedium.
func ParsePriority(value string) (Priority, error) {
	switch strings.ToUpper(strings.TrimSpace(value)) {
	case "HIGH":
		return PriorityHigh, nil
	case "MEDIUM", "":
		return PriorityMedium, nil
	case "LOW":
		return PriorityLow, nil
	default:
		return PriorityMedium, fmt.Errorf("%w: invalid priority %q, must be HIGH, MEDIUM or LOW", ErrValidation, value)
	}
}

// AllPriorities returns all priority levels in order of precedence.
func AllPriorities() []Priority {
	return []Priority{PriorityHigh, PriorityMedium, PriorityLow}
}

// UnmarshalText accepts priority names in any case.
func (p *Priority) UnmarshalText(text []byte) error {
	parsed, err := ParsePriority(string(text))
	if err != nil {
		return err
	}
	*p = parsed
	return nil
}
