// Package lifecycle holds the soft-delete state shared by roles, users and tenants.
package lifecycle

import "fmt"

type State string

const (
	Active      State = "active"
	Deactivated State = "deactivated"
)

func (s State) IsActive() bool { return s == Active }

// Parse accepts the stored text form. Empty input is treated as Active so
// rows written before the column existed stay visible.
func Parse(v string) (State, error) {
	switch State(v) {
	case "", Active:
		return Active, nil
	case Deactivated:
		return Deactivated, nil
	}
	return "", fmt.Errorf("lifecycle: unknown state %q", v)
}

// FromBool maps legacy is_active flags.
func FromBool(active bool) State {
	if active {
		return Active
	}
	return Deactivated
}
