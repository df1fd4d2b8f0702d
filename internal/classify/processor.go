package classify

import (
	"context"
	"encoding/json"
	"strings"

	"github.com/docflow-systems/docflow-stack/common/messaging"
	"github.com/docflow-systems/docflow-stack/common/models"
	"github.com/docflow-systems/docflow-stack/internal/pipeline"
)

// vipTitles mark senders whose documents get VIP handling, ordered most
// senior first so the strongest match wins.
var vipTitles = []string{"ceo", "cfo", "coo", "president", "vp", "director"}

// Processor is the classification stage worker logic.
type Processor struct {
	chain      Chain
	threshold  float64
	vipDomains []string
}

// NewProcessor creates the classify-stage processor. threshold is the
// minimum confidence a verdict needs to avoid human review.
func NewProcessor(chain Chain, threshold float64, vipDomains []string) *Processor {
	if chain == nil {
		chain = DefaultChain()
	}
	return &Processor{
		chain:      chain,
		threshold:  threshold,
		vipDomains: vipDomains,
	}
}

func (p *Processor) Process(ctx context.Context, item *pipeline.WorkItem) *pipeline.Result {
	env, err := models.DecodeExtract(item.Payload)
	if err != nil {
		return pipeline.Failed(models.StatusClassifyFailed, pipeline.Permanent(err))
	}

	docType, confidence := p.chain.Classify(env.ExtractedText, env.Entities)
	if confidence < p.threshold {
		docType = TypeNeedsReview
	}

	isVIP, vipLevel := p.vip(env.Sender)

	out := &models.ClassifyEnvelope{
		DocumentID:      env.DocumentID,
		Filename:        env.Filename,
		DocType:         docType,
		Confidence:      confidence,
		Entities:        env.Entities,
		Summary:         env.Summary,
		PriorityContent: env.PriorityContent,
		IsVIP:           isVIP,
		VIPLevel:        vipLevel,
		PriorityScore:   env.PriorityScore,
		PriorityReason:  env.PriorityReason,
		Sender:          env.Sender,
		Override:        env.Override,
	}

	data, err := json.Marshal(out)
	if err != nil {
		return pipeline.Failed(models.StatusClassifyFailed, pipeline.Permanent(err))
	}

	conf := confidence
	return &pipeline.Result{
		Success:     true,
		Output:      data,
		NextSubject: messaging.StageSubject(models.StageRoute, item.Tier),
		Status:      models.StatusClassified,
		DocType:     docType,
		Confidence:  &conf,
	}
}

// vip inspects the sender address for an executive title or a configured
// VIP domain.
func (p *Processor) vip(sender string) (bool, string) {
	lower := strings.ToLower(sender)
	if lower == "" {
		return false, ""
	}

	for _, title := range vipTitles {
		if strings.Contains(lower, title) {
			return true, title
		}
	}
	for _, domain := range p.vipDomains {
		if strings.HasSuffix(lower, "@"+strings.ToLower(domain)) {
			return true, "domain"
		}
	}
	return false, ""
}
