package domain

import "fmt"

// PriorityTier orders citizens within a queue. Lower values are served first.
type PriorityTier int

const (
	TierEmergency PriorityTier = iota
	TierDisabled
	TierSenior
	TierNormal
)

var tierNames = map[PriorityTier]string{
	TierEmergency: "emergency",
	TierDisabled:  "disabled",
	TierSenior:    "senior",
	TierNormal:    "normal",
}

func (t PriorityTier) String() string {
	if name, ok := tierNames[t]; ok {
		return name
	}
	return fmt.Sprintf("tier(%d)", int(t))
}

// Outranks reports whether t is served strictly before other.
func (t PriorityTier) Outranks(other PriorityTier) bool {
	return t < other
}

// Valid reports whether t is one of the known tiers.
func (t PriorityTier) Valid() bool {
	_, ok := tierNames[t]
	return ok
}

// MarshalText encodes the tier by name.
func (t PriorityTier) MarshalText() ([]byte, error) {
	if !t.Valid() {
		return nil, fmt.Errorf("unknown priority tier %d", int(t))
	}
	return []byte(t.String()), nil
}

// UnmarshalText decodes a tier name.
func (t *PriorityTier) UnmarshalText(text []byte) error {
	parsed, err := ParsePriorityTier(string(text))
	if err != nil {
		return err
	}
	*t = parsed
	return nil
}

// ParsePriorityTier resolves a tier from its name. "pwd" is accepted for disabled.
func ParsePriorityTier(name string) (PriorityTier, error) {
	switch name {
	case "emergency":
		return TierEmergency, nil
	case "disabled", "pwd":
		return TierDisabled, nil
	case "senior":
		return TierSenior, nil
	case "normal", "":
		return TierNormal, nil
	}
	return TierNormal, fmt.Errorf("unknown priority tier %q", name)
}

// PriorityFlags are the booking-time markers that map onto a tier.
type PriorityFlags struct {
	IsPwd           bool `json:"is_pwd"`
	IsSeniorCitizen bool `json:"is_senior_citizen"`
	IsEmergency     bool `json:"is_emergency"`
	IsVip           bool `json:"is_vip"`
}

// Tier maps the flags onto the highest applicable tier. VIP does not change queue order.
func (f PriorityFlags) Tier() PriorityTier {
	switch {
	case f.IsEmergency:
		return TierEmergency
	case f.IsPwd:
		return TierDisabled
	case f.IsSeniorCitizen:
		return TierSenior
	default:
		return TierNormal
	}
}
