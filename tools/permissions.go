package tools

import (
	"fmt"
	"slices"
	"strings"
)

// Resource is a product area of the financial API.
type Resource string

const (
	VirtualCards      Resource = "virtual_cards"
	CreditCards       Resource = "credit_cards"
	Transactions      Resource = "transactions"
	ExpenseCategories Resource = "expense_categories"
)

// Action is what a tool does to a Resource.
type Action string

const (
	Read   Action = "read"
	Create Action = "create"
	Update Action = "update"
)

var (
	knownResources = []Resource{VirtualCards, CreditCards, Transactions, ExpenseCategories}
	knownActions   = []Action{Read, Create, Update}
)

// Permission grants one action on one resource. Its text form is
// "resource.action", e.g. "virtual_cards.read".
type Permission struct {
	Resource Resource
	Action   Action
}

func (p Permission) String() string { return string(p.Resource) + "." + string(p.Action) }

// Permissions is the set of grants that decides which tools are exposed.
type Permissions map[Permission]bool

// AllPermissions grants every known action on every known resource.
func AllPermissions() Permissions {
	p := make(Permissions, len(knownResources)*len(knownActions))
	for _, r := range knownResources {
		for _, a := range knownActions {
			p[Permission{Resource: r, Action: a}] = true
		}
	}
	return p
}

// ParsePermissions parses a comma separated list of "resource.action" pairs.
// The single entry "all" grants everything. Blank entries are ignored but at
// least one grant is required.
func ParsePermissions(s string) (Permissions, error) {
	p := Permissions{}
	for _, raw := range strings.Split(s, ",") {
		item := strings.TrimSpace(raw)
		if item == "" {
			continue
		}
		if item == "all" {
			return AllPermissions(), nil
		}
		res, act, ok := strings.Cut(item, ".")
		if !ok || !slices.Contains(knownResources, Resource(res)) || !slices.Contains(knownActions, Action(act)) {
			return nil, fmt.Errorf("invalid tool permission %q: want resource.action (resources %v, actions %v) or \"all\"", item, knownResources, knownActions)
		}
		p[Permission{Resource: Resource(res), Action: Action(act)}] = true
	}
	if len(p) == 0 {
		return nil, fmt.Errorf("no tool permissions given")
	}
	return p, nil
}

// Allows reports whether the permission is granted.
func (p Permissions) Allows(perm Permission) bool { return p[perm] }

// String renders the grants in a stable order.
func (p Permissions) String() string {
	out := make([]string, 0, len(p))
	for perm, ok := range p {
		if ok {
			out = append(out, perm.String())
		}
	}
	slices.Sort(out)
	return strings.Join(out, ",")
}
