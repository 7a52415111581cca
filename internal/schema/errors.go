package schema

import (
	"errors"
	"fmt"
	"strings"
)

// ErrSchema matches every SchemaError via errors.Is
var ErrSchema = errors.New("schema error")

// SchemaError names the declaration that made a schema document unusable.
// MessageID is -1 when the error is not tied to a message type.
type SchemaError struct {
	Message   string
	MessageID int
	Field     string
	Aircraft  string
	Reason    string
}

func (e *SchemaError) Error() string {
	var b strings.Builder
	b.WriteString("schema error")
	var where []string
	if e.Aircraft != "" {
		where = append(where, fmt.Sprintf("aircraft %q", e.Aircraft))
	}
	if e.Message != "" || e.MessageID >= 0 {
		switch {
		case e.Message != "" && e.MessageID >= 0:
			where = append(where, fmt.Sprintf("message %s (id %d)", e.Message, e.MessageID))
		case e.Message != "":
			where = append(where, fmt.Sprintf("message %s", e.Message))
		default:
			where = append(where, fmt.Sprintf("message id %d", e.MessageID))
		}
	}
	if e.Field != "" {
		where = append(where, fmt.Sprintf("field %s", e.Field))
	}
	if len(where) > 0 {
		b.WriteString(" in ")
		b.WriteString(strings.Join(where, ", "))
	}
	b.WriteString(": ")
	b.WriteString(e.Reason)
	return b.String()
}

// Is reports ErrSchema as a match
func (e *SchemaError) Is(target error) bool {
	return target == ErrSchema
}

func messageError(msg string, id int, format string, args ...any) *SchemaError {
	return &SchemaError{Message: msg, MessageID: id, Reason: fmt.Sprintf(format, args...)}
}

func fieldError(msg string, id int, field string, format string, args ...any) *SchemaError {
	return &SchemaError{Message: msg, MessageID: id, Field: field, Reason: fmt.Sprintf(format, args...)}
}

func aircraftError(name string, format string, args ...any) *SchemaError {
	return &SchemaError{Aircraft: name, MessageID: -1, Reason: fmt.Sprintf(format, args...)}
}
