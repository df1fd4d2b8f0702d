// Package classify implements the classification stage: decide a
// document's type and confidence, flag low-confidence results for human
// review, and mark VIP senders.
package classify

import (
	"strings"
)

// Document types the pipeline recognizes.
const (
	TypeInvoice  = "INVOICE"
	TypeContract = "CONTRACT"
	TypeReceipt  = "RECEIPT"
	TypeResume   = "RESUME"
	TypeMemo     = "MEMO"
	TypeOther    = "OTHER"

	// TypeNeedsReview replaces any classification whose confidence falls
	// below the configured threshold.
	TypeNeedsReview = "NEEDS_HUMAN_REVIEW"
)

// Classifier is one strategy in the classification chain. ok reports
// whether this classifier produced a result; the chain stops at the
// first classifier that does.
type Classifier interface {
	Classify(text string, entities map[string]string) (docType string, confidence float64, ok bool)
}

// Chain runs classifiers in priority order.
type Chain []Classifier

// Classify returns the first classifier's verdict, or OTHER with zero
// confidence when none produce one.
func (c Chain) Classify(text string, entities map[string]string) (string, float64) {
	for _, cl := range c {
		if docType, confidence, ok := cl.Classify(text, entities); ok {
			return docType, confidence
		}
	}
	return TypeOther, 0.0
}

// DefaultChain is the reference classification order: structured
// entities beat keyword heuristics beat the fallback.
func DefaultChain() Chain {
	return Chain{
		EntityAmountClassifier{},
		NewKeywordClassifier(),
		FallbackClassifier{},
	}
}

// EntityAmountClassifier shortcuts documents with extracted monetary
// amounts straight to INVOICE. Amounts are the strongest signal the
// extractor produces.
type EntityAmountClassifier struct{}

func (EntityAmountClassifier) Classify(text string, entities map[string]string) (string, float64, bool) {
	if entities["amounts"] != "" {
		return TypeInvoice, 1.0, true
	}
	return "", 0, false
}

// KeywordClassifier scores the text against per-type keyword sets. The
// type with the most hits wins; confidence grows with the hit count.
type KeywordClassifier struct {
	keywords map[string][]string
}

// NewKeywordClassifier builds the reference keyword table.
func NewKeywordClassifier() *KeywordClassifier {
	return &KeywordClassifier{
		keywords: map[string][]string{
			TypeInvoice:  {"invoice", "amount due", "total due", "bill to", "payment terms"},
			TypeContract: {"agreement", "contract", "party", "hereinafter", "terms and conditions", "witness whereof"},
			TypeReceipt:  {"receipt", "paid", "transaction", "change due", "thank you for your purchase"},
			TypeResume:   {"resume", "curriculum vitae", "work experience", "education", "skills", "references available"},
			TypeMemo:     {"memo", "memorandum", "to:", "from:", "re:", "subject:"},
		},
	}
}

func (k *KeywordClassifier) Classify(text string, entities map[string]string) (string, float64, bool) {
	lower := strings.ToLower(text)

	best := ""
	bestHits := 0
	for docType, words := range k.keywords {
		hits := 0
		for _, w := range words {
			if strings.Contains(lower, w) {
				hits++
			}
		}
		if hits > bestHits || (hits == bestHits && hits > 0 && docType < best) {
			best = docType
			bestHits = hits
		}
	}

	if bestHits == 0 {
		return "", 0, false
	}

	// One hit is a weak hint; three or more is near certainty.
	confidence := 0.60 + 0.15*float64(bestHits-1)
	if confidence > 0.95 {
		confidence = 0.95
	}
	return best, confidence, true
}

// FallbackClassifier terminates the chain: anything unrecognized is
// OTHER at half confidence, which lands below the review threshold.
type FallbackClassifier struct{}

func (FallbackClassifier) Classify(text string, entities map[string]string) (string, float64, bool) {
	if strings.TrimSpace(text) == "" {
		return TypeOther, 0.0, true
	}
	return TypeOther, 0.5, true
}
