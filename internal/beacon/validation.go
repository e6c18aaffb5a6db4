package beacon

import (
	"fmt"
	"strings"

	"github.com/google/uuid"
)

// MaxIDLength caps region identifiers; ids are used inside storage keys and MQTT topics.
const MaxIDLength = 128

// ValidateDefinition checks a definition before it is registered.
// All failures wrap ErrInvalidDefinition.
func ValidateDefinition(d Definition) error {
	if strings.TrimSpace(d.ID) == "" {
		return fmt.Errorf("%w: id is required", ErrInvalidDefinition)
	}
	if len(d.ID) > MaxIDLength {
		return fmt.Errorf("%w: id exceeds %d characters", ErrInvalidDefinition, MaxIDLength)
	}
	if strings.ContainsAny(d.ID, "/+#") {
		return fmt.Errorf("%w: id %q contains a reserved character", ErrInvalidDefinition, d.ID)
	}
	if _, err := uuid.Parse(d.UUID); err != nil {
		return fmt.Errorf("%w: uuid %q: %v", ErrInvalidDefinition, d.UUID, err)
	}
	if d.Minor != nil && d.Major == nil {
		return fmt.Errorf("%w: minor requires major", ErrInvalidDefinition)
	}
	if len(d.Triggers) == 0 {
		return fmt.Errorf("%w: at least one trigger is required", ErrInvalidDefinition)
	}
	for _, t := range d.Triggers {
		if !t.Valid() {
			return fmt.Errorf("%w: unknown trigger %d", ErrInvalidDefinition, t)
		}
	}
	if a, ok := d.Platform.(AndroidSettings); ok {
		for _, t := range a.InitialTriggers {
			if !t.Valid() {
				return fmt.Errorf("%w: unknown initial trigger %d", ErrInvalidDefinition, t)
			}
		}
	}
	return nil
}

// Normalize returns d with a canonical lower-case UUID and de-duplicated triggers
// in ENTER, EXIT order.
func Normalize(d Definition) Definition {
	n := d.DeepCopy()
	if u, err := uuid.Parse(d.UUID); err == nil {
		n.UUID = u.String()
	}
	n.Triggers = dedupeEvents(n.Triggers)
	if a, ok := n.Platform.(AndroidSettings); ok {
		a.InitialTriggers = dedupeEvents(a.InitialTriggers)
		n.Platform = a
	}
	return n
}

func dedupeEvents(in []Event) []Event {
	if len(in) == 0 {
		return nil
	}
	out := make([]Event, 0, 2)
	for _, e := range []Event{EventEnter, EventExit} {
		for _, t := range in {
			if t == e {
				out = append(out, e)
				break
			}
		}
	}
	return out
}
