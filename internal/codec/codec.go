// Package codec maps a task's ordering fields to a file name and back.
//
// Names have the shape
//
//	<priority>_<scheduled>_<id>.task
//	00000100_20240301T120000.000000000Z_5741fd6f-4388-482b-a7e1-5fc1c164c83e.task
//
// Every field is fixed width, so sorting names as plain strings sorts tasks by
// priority (lower first), then scheduled time (earlier first), then id.
package codec

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
)

const (
	// MaxPriority is the largest priority that fits PriorityWidth digits.
	MaxPriority   = 99999999
	PriorityWidth = 8

	// TimeLayout keeps nanoseconds with trailing zeros so the width never varies.
	TimeLayout = "20060102T150405.000000000Z"

	Separator = "_"
	Extension = ".task"

	idWidth  = 36
	nameSize = PriorityWidth + len(Separator) + len(TimeLayout) + len(Separator) + idWidth + len(Extension)
)

var (
	ErrMalformedName    = errors.New("malformed task name")
	ErrEncodingOverflow = errors.New("value does not fit task name encoding")
)

var (
	minTime = time.Date(1, time.January, 1, 0, 0, 0, 0, time.UTC)
	maxTime = time.Date(9999, time.December, 31, 23, 59, 59, 999999999, time.UTC)
)

// NewID returns a fresh random task id.
func NewID() string {
	return uuid.NewString()
}

// EncodeName builds the sortable file name for a task. It fails with
// ErrEncodingOverflow when priority or scheduled do not fit their fixed widths.
func EncodeName(priority int, scheduled time.Time, id string) (string, error) {
	if priority < 0 || priority > MaxPriority {
		return "", fmt.Errorf("%w: priority %d outside 0..%d", ErrEncodingOverflow, priority, MaxPriority)
	}
	scheduled = scheduled.UTC()
	if scheduled.Before(minTime) || scheduled.After(maxTime) {
		return "", fmt.Errorf("%w: scheduled time %s outside years 1..9999", ErrEncodingOverflow, scheduled)
	}
	if !validID(id) {
		return "", fmt.Errorf("%w: id %q is not a canonical uuid", ErrMalformedName, id)
	}

	var b strings.Builder
	b.Grow(nameSize)
	fmt.Fprintf(&b, "%0*d", PriorityWidth, priority)
	b.WriteString(Separator)
	b.WriteString(scheduled.Format(TimeLayout))
	b.WriteString(Separator)
	b.WriteString(id)
	b.WriteString(Extension)
	return b.String(), nil
}

// DecodeName is the inverse of EncodeName. Anything that EncodeName could not
// have produced is rejected with ErrMalformedName.
func DecodeName(name string) (priority int, scheduled time.Time, id string, err error) {
	if len(name) != nameSize || !strings.HasSuffix(name, Extension) {
		return 0, time.Time{}, "", fmt.Errorf("%w: %q", ErrMalformedName, name)
	}
	parts := strings.Split(strings.TrimSuffix(name, Extension), Separator)
	if len(parts) != 3 {
		return 0, time.Time{}, "", fmt.Errorf("%w: %q", ErrMalformedName, name)
	}

	if len(parts[0]) != PriorityWidth || !allDigits(parts[0]) {
		return 0, time.Time{}, "", fmt.Errorf("%w: bad priority in %q", ErrMalformedName, name)
	}
	priority, err = strconv.Atoi(parts[0])
	if err != nil {
		return 0, time.Time{}, "", fmt.Errorf("%w: %v", ErrMalformedName, err)
	}

	scheduled, err = time.Parse(TimeLayout, parts[1])
	if err != nil {
		return 0, time.Time{}, "", fmt.Errorf("%w: %v", ErrMalformedName, err)
	}

	id = parts[2]
	if !validID(id) {
		return 0, time.Time{}, "", fmt.Errorf("%w: bad id in %q", ErrMalformedName, name)
	}
	return priority, scheduled, id, nil
}

// SerializePayload returns the bytes written to a task file. Payloads are
// stored verbatim.
func SerializePayload(payload []byte) []byte {
	return payload
}

// DeserializePayload returns the payload held in a task file.
func DeserializePayload(data []byte) []byte {
	return data
}

func validID(id string) bool {
	if len(id) != idWidth {
		return false
	}
	u, err := uuid.Parse(id)
	return err == nil && u.String() == id
}

func allDigits(s string) bool {
	for i := 0; i < len(s); i++ {
		if s[i] < '0' || s[i] > '9' {
			return false
		}
	}
	return true
}
