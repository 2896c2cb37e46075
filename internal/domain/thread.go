package domain

import (
	"encoding/json"
	"fmt"
)

type Role string

const (
	RoleUser Role = "user"
	RoleAI   Role = "ai"
)

// Message payload types. The first two are written by the user, the rest by
// the analysis backend.
const (
	TypeAnalyzeRequirement  = "analyze_requirement"
	TypeQuestion            = "question"
	TypeRequirementAnalysis = "requirement_analysis"
	TypeAnswer              = "answer"
)

type MessagePayload struct {
	Type    string          `json:"type"`
	Content json.RawMessage `json:"content"`
}

// Text returns the content when it is a JSON string, or the raw JSON otherwise.
func (p MessagePayload) Text() string {
	var s string
	if err := json.Unmarshal(p.Content, &s); err == nil {
		return s
	}
	return string(p.Content)
}

// TextPayload builds a payload whose content is a plain string.
func TextPayload(typ, text string) MessagePayload {
	b, _ := json.Marshal(text)
	return MessagePayload{Type: typ, Content: b}
}

type Message struct {
	ID        int64          `json:"id"`
	CreatedAt string         `json:"created_at"`
	UpdatedAt string         `json:"updated_at"`
	ProjectID int64          `json:"project_id"`
	ThreadID  string         `json:"thread_id"`
	Role      Role           `json:"role"`
	Message   MessagePayload `json:"message"`
}

type ThreadSummary struct {
	ThreadID      string         `json:"thread_id"`
	LastMessageAt string         `json:"last_message_at"`
	MessageCount  int            `json:"message_count"`
	FirstMessage  MessagePayload `json:"first_message"`
}

// AnalyzeResponse is returned by both the create-thread and continue-thread
// endpoints. Threads holds the full, ordered message list of the thread.
type AnalyzeResponse struct {
	ThreadID string    `json:"thread_id"`
	Message  Message   `json:"message"`
	Threads  []Message `json:"threads"`
}

type AnalyzeRequest struct {
	Text string `json:"text"`
}

// StepID accepts numeric or string step identifiers.
type StepID string

func (id *StepID) UnmarshalJSON(b []byte) error {
	var s string
	if err := json.Unmarshal(b, &s); err == nil {
		*id = StepID(s)
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(b, &n); err != nil {
		return fmt.Errorf("step id: %w", err)
	}
	*id = StepID(n.String())
	return nil
}

type FlowStep struct {
	ID          StepID `json:"id"`
	Actor       string `json:"actor"`
	Description string `json:"description"`
}

type NamedFlow struct {
	Name  string     `json:"name"`
	Steps []FlowStep `json:"steps"`
}

type SuggestedApp struct {
	AppName    string  `json:"app_name"`
	Confidence float64 `json:"confidence"`
	Reasoning  string  `json:"reasoning"`
}

// RequirementAnalysis is the structured content of a requirement_analysis
// message.
type RequirementAnalysis struct {
	Requirement        string         `json:"requirement"`
	SuggestedApps      []SuggestedApp `json:"suggested_apps"`
	MainFlow           []FlowStep     `json:"main_flow"`
	UnhappyFlow        []FlowStep     `json:"unhappy_flow"`
	AlternateFlows     []NamedFlow    `json:"alternate_flows"`
	NegativeFlows      []NamedFlow    `json:"negative_flows"`
	AcceptanceCriteria []string       `json:"acceptance_criteria"`
	Risks              []string       `json:"risks"`
	Notes              string         `json:"notes"`
}

// Analysis decodes a requirement_analysis payload.
func (p MessagePayload) Analysis() (RequirementAnalysis, error) {
	if p.Type != TypeRequirementAnalysis {
		return RequirementAnalysis{}, fmt.Errorf("message type %q is not %s", p.Type, TypeRequirementAnalysis)
	}
	var ra RequirementAnalysis
	if err := json.Unmarshal(p.Content, &ra); err != nil {
		return RequirementAnalysis{}, fmt.Errorf("decoding requirement analysis: %w", err)
	}
	return ra, nil
}
