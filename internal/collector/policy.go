package collector

import (
	"fmt"
)

// Policy names accepted by NewPolicy.
const (
	PolicyMerging     = "merging"
	PolicyPartitioned = "partitioned"
)

// Policy maps a sender position to the slot its batches go to.
// Implementations must be pure: the mapping is computed once per sender.
type Policy interface {
	Name() string
	SlotFor(position int) int
}

// Merging routes every sender into slot 0.
type Merging struct{}

func (Merging) Name() string { return PolicyMerging }

func (Merging) SlotFor(int) int { return 0 }

// Partitioned spreads senders over Slots slots by position.
type Partitioned struct {
	Slots int
}

func (p Partitioned) Name() string { return PolicyPartitioned }

// SlotFor returns position modulo the slot count, or -1 when there are no slots.
func (p Partitioned) SlotFor(position int) int {
	if p.Slots <= 0 {
		return -1
	}
	return position % p.Slots
}

// NewPolicy returns the policy registered under name for the given slot count.
func NewPolicy(name string, slots int) (Policy, error) {
	switch name {
	case PolicyMerging:
		return Merging{}, nil
	case PolicyPartitioned:
		if slots <= 0 {
			return nil, fmt.Errorf("partitioned policy needs at least one slot, got %d", slots)
		}
		return Partitioned{Slots: slots}, nil
	default:
		return nil, fmt.Errorf("unsupported policy: %s", name)
	}
}
