package directory

import (
	"fmt"
	"strings"
)

// Kind selects which class of directory object a query targets.
type Kind int

const (
	KindUser     Kind = iota // user accounts, excluding groups and computers
	KindGroup                // security and distribution groups
	KindComputer             // computer accounts
)

// Kinds lists every supported kind.
var Kinds = []Kind{KindUser, KindGroup, KindComputer}

func (k Kind) String() string {
	switch k {
	case KindUser:
		return "user"
	case KindGroup:
		return "group"
	case KindComputer:
		return "computer"
	default:
		return fmt.Sprintf("Kind(%d)", int(k))
	}
}

// ParseKind parses "user", "group" or "computer", ignoring case.
func ParseKind(s string) (Kind, error) {
	for _, k := range Kinds {
		if strings.EqualFold(s, k.String()) {
			return k, nil
		}
	}
	return 0, fmt.Errorf("unknown object kind %q", s)
}

// expandsMembership reports whether objects of this kind carry a membership
// attribute that can be expanded transitively.
func (k Kind) expandsMembership() bool {
	return k == KindUser || k == KindGroup
}
