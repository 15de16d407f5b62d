package detect

import "fmt"

// Tier is the ordinal threat severity assigned to an incident.
type Tier int

const (
	TierLow Tier = iota
	TierMedium
	TierHigh
	TierCritical
	TierExtreme
)

var tierNames = [...]string{"LOW", "MEDIUM", "HIGH", "CRITICAL", "EXTREME"}

func (t Tier) String() string {
	if t < TierLow || t > TierExtreme {
		return fmt.Sprintf("Tier(%d)", int(t))
	}
	return tierNames[t]
}

// ParseTier converts a tier name to its ordinal value.
func ParseTier(s string) (Tier, error) {
	for i, name := range tierNames {
		if name == s {
			return Tier(i), nil
		}
	}
	return TierLow, fmt.Errorf("unknown tier %q", s)
}

// MarshalJSON renders the tier as its name.
func (t Tier) MarshalJSON() ([]byte, error) {
	return []byte(`"` + t.String() + `"`), nil
}

// UnmarshalJSON parses a tier name.
func (t *Tier) UnmarshalJSON(data []byte) error {
	if len(data) < 2 || data[0] != '"' || data[len(data)-1] != '"' {
		return fmt.Errorf("tier must be a JSON string")
	}
	parsed, err := ParseTier(string(data[1 : len(data)-1]))
	if err != nil {
		return err
	}
	*t = parsed
	return nil
}
