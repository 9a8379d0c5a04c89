package signal

import "fmt"

// Field selects which of a signal's two value slots an operation addresses.
// The numeric values are a wire contract: they are delivered to subscription
// callbacks and accepted by setters, and must not change.
type Field int

const (
	// FieldValue addresses the current (most recently observed) value.
	FieldValue Field = 1

	// FieldActuatorTarget addresses the desired/commanded actuator value.
	FieldActuatorTarget Field = 2
)

// Valid reports whether f is one of the defined field kinds.
func (f Field) Valid() bool {
	return f == FieldValue || f == FieldActuatorTarget
}

func (f Field) String() string {
	switch f {
	case FieldValue:
		return "value"
	case FieldActuatorTarget:
		return "actuator_target"
	default:
		return fmt.Sprintf("field(%d)", int(f))
	}
}

// Key identifies one logical subscription. Two subscribe requests with the
// same key are the same subscription.
type Key struct {
	Path  string
	Field Field
}

func (k Key) String() string {
	return k.Path + "/" + k.Field.String()
}

// Update is one pushed value change for a subscribed key.
type Update struct {
	Path  string
	Value string
	Field Field
}

// Callback receives pushed updates for a subscription. It is invoked from a
// background goroutine, zero or more times, until the subscription ends.
// Callbacks must be safe to call concurrently with the registering goroutine
// and should return quickly: a slow callback delays delivery of subsequent
// updates on the same key's stream.
type Callback func(path, value string, field int)
