package gateway

import "github.com/lexroute-ai/lexroute/pkg/models"

// defaultStaticFallbacks are the canned degraded responses served when the
// whole provider chain fails. Config entries override per operation type; an
// empty override disables the fallback and lets the failure surface.
//
// document_generation has no entry on purpose: serving a canned document as
// if it were generated is worse than failing.
var defaultStaticFallbacks = map[string]string{
	models.OpContractAnalysis: "Automated contract analysis is temporarily unavailable. " +
		"Please review the document manually or try again in a few minutes. " +
		"Key areas to check: liability clauses, termination conditions, indemnification terms, and payment obligations.",
	models.OpLegalResearch: "Automated legal research is temporarily unavailable. " +
		"Please consult primary sources directly or try again in a few minutes.",
	models.OpDocumentSummary: "Automated document summarization is temporarily unavailable. " +
		"The document has been stored and can be summarized once service is restored.",
	models.OpComplianceCheck: "Automated compliance checking is temporarily unavailable. " +
		"Please have the document reviewed by qualified personnel before relying on it.",
	models.OpCasePrediction: "Automated case outcome prediction is temporarily unavailable. " +
		"No prediction should be inferred from this message.",
}

// fallbackFor returns the static fallback text for an operation type, if one
// is configured or built in.
func (g *Gateway) fallbackFor(operationType string) (string, bool) {
	if text, ok := g.cfg.StaticFallbacks[operationType]; ok {
		if text == "" {
			return "", false
		}
		return text, true
	}
	text, ok := defaultStaticFallbacks[operationType]
	return text, ok
}
