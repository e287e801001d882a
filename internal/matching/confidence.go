package matching

import (
	"fmt"
)

// Confidence classifies how likely a candidate match is correct.
// The zero value is not a valid tier.
type Confidence int

const (
	ConfidenceLow Confidence = iota + 1
	ConfidenceMedium
	ConfidenceHigh
)

// Rank orders tiers: a higher rank is a stronger candidate.
func (c Confidence) Rank() int {
	switch c {
	case ConfidenceHigh:
		return 3
	case ConfidenceMedium:
		return 2
	case ConfidenceLow:
		return 1
	}

	return 0
}

// Stronger reports whether c ranks above other.
func (c Confidence) Stronger(other Confidence) bool {
	return c.Rank() > other.Rank()
}

func (c Confidence) Valid() bool {
	return c.Rank() > 0
}

func (c Confidence) String() string {
	switch c {
	case ConfidenceHigh:
		return "high"
	case ConfidenceMedium:
		return "medium"
	case ConfidenceLow:
		return "low"
	}

	return fmt.Sprintf("confidence(%d)", int(c))
}

func ParseConfidence(s string) (Confidence, error) {
	switch s {
	case "high":
		return ConfidenceHigh, nil
	case "medium":
		return ConfidenceMedium, nil
	case "low":
		return ConfidenceLow, nil
	}

	return 0, fmt.Errorf("unknown confidence %q", s)
}

func (c Confidence) MarshalText() ([]byte, error) {
	if !c.Valid() {
		return nil, fmt.Errorf("invalid confidence %d", int(c))
	}

	return []byte(c.String()), nil
}

func (c *Confidence) UnmarshalText(text []byte) error {
	parsed, err := ParseConfidence(string(text))
	if err != nil {
		return err
	}

	*c = parsed

	return nil
}
