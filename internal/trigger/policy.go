package trigger

import (
	"fmt"

	"github.com/solatis/tracenotify/internal/types"
)

// PolicyKind selects how hits translate into firings.
type PolicyKind uint8

const (
	// EveryN fires on every threshold-th hit.
	EveryN PolicyKind = 0
	// OnceAfterN fires on the threshold-th hit and on every hit after it.
	OnceAfterN PolicyKind = 1
)

func (k PolicyKind) String() string {
	switch k {
	case EveryN:
		return "every-n"
	case OnceAfterN:
		return "once-after-n"
	default:
		return "unknown"
	}
}

// ParsePolicyKind converts a CLI-style policy name.
func ParsePolicyKind(s string) (PolicyKind, error) {
	switch s {
	case "every-n", "every":
		return EveryN, nil
	case "once-after-n", "once-after":
		return OnceAfterN, nil
	default:
		return 0, fmt.Errorf("%w: firing policy %q", types.ErrInvalid, s)
	}
}

// FiringPolicy is the value part of a trigger's firing state.
type FiringPolicy struct {
	Kind      PolicyKind
	Threshold uint64
}

// DefaultPolicy fires on every hit.
var DefaultPolicy = FiringPolicy{Kind: EveryN, Threshold: 1}

// Validate checks the kind and that the threshold is at least 1.
func (p FiringPolicy) Validate() error {
	if p.Kind != EveryN && p.Kind != OnceAfterN {
		return fmt.Errorf("%w: firing policy kind %d", types.ErrInvalid, p.Kind)
	}
	if p.Threshold < 1 {
		return fmt.Errorf("%w: firing policy threshold must be at least 1", types.ErrInvalid)
	}
	return nil
}

func (p FiringPolicy) String() string {
	return fmt.Sprintf("%s(%d)", p.Kind, p.Threshold)
}
