package mirror

import (
	"fmt"
	"strings"
)

// Role decides how a channel starts: an authority is ready at once, a
// replica pulls a snapshot first.
type Role int

const (
	Authority Role = iota
	Replica
)

func (r Role) String() string {
	switch r {
	case Authority:
		return "authority"
	case Replica:
		return "replica"
	default:
		return fmt.Sprintf("role(%d)", int(r))
	}
}

// Binding names the deployment target a channel runs in.
type Binding struct {
	Name string
	Role Role
}

var (
	AuthorityBinding  = Binding{Name: "authority", Role: Authority}
	BackgroundBinding = Binding{Name: "background", Role: Replica}
	PanelBinding      = Binding{Name: "panel", Role: Replica}
	PopupBinding      = Binding{Name: "popup", Role: Replica}
)

var bindings = []Binding{AuthorityBinding, BackgroundBinding, PanelBinding, PopupBinding}

// BindingByName resolves one of the known deployment targets.
func BindingByName(name string) (Binding, error) {
	for _, b := range bindings {
		if strings.EqualFold(b.Name, name) {
			return b, nil
		}
	}
	return Binding{}, fmt.Errorf("unknown binding %q", name)
}

// Bindings returns the names of the known deployment targets.
func Bindings() []string {
	out := make([]string, len(bindings))
	for idx, b := range bindings {
		out[idx] = b.Name
	}
	return out
}
