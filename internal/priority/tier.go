// Package priority assigns incoming documents to priority tiers.
package priority

// Tier is a discrete priority level. Higher values outrank lower ones;
// each tier owns a queue and a fixed worker allocation.
type Tier int

const (
	TierBulk Tier = iota
	TierLow
	TierMedium
	TierHigh
	TierCritical
)

// Tiers lists every tier from highest to lowest priority.
var Tiers = []Tier{TierCritical, TierHigh, TierMedium, TierLow, TierBulk}

// String returns the tier's wire name, used as the queue subject suffix.
func (t Tier) String() string {
	switch t {
	case TierCritical:
		return "critical"
	case TierHigh:
		return "high"
	case TierMedium:
		return "medium"
	case TierLow:
		return "low"
	default:
		return "bulk"
	}
}

// ParseTier maps a wire name back to a Tier. Unknown names fall back to
// TierLow, the default tier for unsignalled documents.
func ParseTier(s string) Tier {
	switch s {
	case "critical":
		return TierCritical
	case "high":
		return TierHigh
	case "medium":
		return TierMedium
	case "bulk":
		return TierBulk
	default:
		return TierLow
	}
}
