package models

// Canonical workflow names the classifier may route to. The dispatcher
// resolves these against its endpoint map; anything else is rejected.
const (
	WorkflowWeatherCheck   = "weather_check"
	WorkflowPDFSummarizer  = "pdf_summarizer"
	WorkflowEmailScanner   = "email_scanner"
	WorkflowTextTranslator = "text_translator"
)

// KnownWorkflows lists every dispatchable workflow name.
var KnownWorkflows = []string{
	WorkflowWeatherCheck,
	WorkflowPDFSummarizer,
	WorkflowEmailScanner,
	WorkflowTextTranslator,
}

// IsKnownWorkflow reports whether name is one of the canonical workflows.
func IsKnownWorkflow(name string) bool {
	for _, w := range KnownWorkflows {
		if w == name {
			return true
		}
	}
	return false
}

// IntentAction is the classifier's verdict on what to do with a message.
type IntentAction string

const (
	ActionDirectResponse    IntentAction = "direct_response"
	ActionNeedClarification IntentAction = "need_clarification"
	ActionPermissionDenied  IntentAction = "permission_denied"
	ActionRouteToWorkflow   IntentAction = "route_to_n8n"
)

// IntentDecision is the structured output of the intent classifier.
type IntentDecision struct {
	Action     IntentAction      `json:"action"`
	Workflow   string            `json:"workflow,omitempty"`
	Parameters map[string]string `json:"parameters,omitempty"`
	Response   string            `json:"response,omitempty"`
	Confidence float64           `json:"confidence,omitempty"`
	Credits    int               `json:"credits_required,omitempty"`
}

// CreditsRequired returns the quota cost of acting on this decision,
// defaulting to one credit.
func (d *IntentDecision) CreditsRequired() int {
	if d.Credits <= 0 {
		return 1
	}
	return d.Credits
}

// Attachment describes a lightweight reference to a file the user sent.
// Only the type and channel file id travel through the pipeline; binary
// content never does.
type Attachment struct {
	Type   string `json:"type"`
	FileID string `json:"file_id"`
	Name   string `json:"name,omitempty"`
}
