package priority

import "strings"

// ItemMetadata carries the attributes the classifier inspects. Any field may
// be zero; absent signals never cause an error, they lower the tier.
type ItemMetadata struct {
	Sender      string
	Filename    string
	ContentType string
	Size        int64

	// UrgencyText is free text scanned for explicit urgency markers
	// (an email subject, a cover note, folder hints from a file share).
	UrgencyText string
}

// Size thresholds for the size-based rules.
const (
	largePayloadBytes    = 1_000_000       // matches the historical 1 MB cutoff
	oversizePayloadBytes = 8 * 1024 * 1024 // batch-processed in the bulk tier
)

var executiveKeywords = []string{"ceo", "cfo", "coo", "director", "vp", "president"}

var urgencyKeywords = []string{"urgent", "asap", "immediately", "deadline", "time-sensitive"}

// Classify maps item metadata to a priority tier and a human-readable
// reason. It is a pure function: identical metadata always yields the same
// result. Rule precedence: sender role > urgency markers > payload size >
// default. The highest-priority matching rule wins.
func Classify(meta ItemMetadata) (Tier, string) {
	if sender := strings.ToLower(meta.Sender); sender != "" {
		for _, kw := range executiveKeywords {
			if strings.Contains(sender, kw) {
				return TierCritical, "Executive sender (" + kw + ")"
			}
		}
	}

	if text := strings.ToLower(meta.UrgencyText); text != "" {
		for _, kw := range urgencyKeywords {
			if strings.Contains(text, kw) {
				return TierHigh, "Urgency marker in content (" + kw + ")"
			}
		}
	}

	if meta.Size >= oversizePayloadBytes {
		return TierBulk, "Oversize payload, batch tier"
	}
	if meta.Size >= largePayloadBytes {
		return TierMedium, "Large payload"
	}

	return TierLow, "No priority signals"
}
