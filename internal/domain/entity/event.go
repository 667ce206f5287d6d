package entity

import "encoding/json"

// EventType discriminates the events emitted during an agent turn.
type EventType string

const (
	EventTurnStart       EventType = "turn_start"
	EventTextDelta       EventType = "text_delta"
	EventToolStart       EventType = "tool_start"
	EventToolUpdate      EventType = "tool_update"
	EventToolEnd         EventType = "tool_end"
	EventTurnEnd         EventType = "turn_end"
	EventAgentEnd        EventType = "agent_end"
	EventCompactionStart EventType = "compaction_start"
	EventCompactionEnd   EventType = "compaction_end"
	EventModelInfo       EventType = "model_info"
	EventError           EventType = "error"
)

// AgentEvent is a single event on the turn-loop stream. Consumers (the
// session multiplexer, the terminal client) receive these over a channel and
// on the wire as one JSON object per event; only the fields belonging to the
// variant are serialized.
type AgentEvent struct {
	Type          EventType              `json:"type"`
	Delta         string                 `json:"delta,omitempty"`
	ToolName      string                 `json:"tool_name,omitempty"`
	ToolCallID    string                 `json:"tool_call_id,omitempty"`
	Args          map[string]interface{} `json:"args,omitempty"`
	Result        string                 `json:"result,omitempty"`
	PartialResult string                 `json:"partial_result,omitempty"`
	IsError       bool                   `json:"is_error,omitempty"`
	Summary       string                 `json:"summary,omitempty"`
	TokensBefore  int                    `json:"tokens_before,omitempty"`
	ModelInfo     *ModelInfo             `json:"model_info,omitempty"`
	Message       string                 `json:"message,omitempty"`
}

// ModelInfo is the payload of a model_info event.
type ModelInfo struct {
	Model         string                 `json:"model"`
	ContextWindow int                    `json:"context_window"`
	Details       map[string]interface{} `json:"details"`
	Markdown      string                 `json:"markdown"`
}

// MarshalJSON emits exactly the wire fields of the event's variant.
// turn_start/turn_end/agent_end/compaction_start carry the type alone;
// tool_start always carries args (an empty object when none were parsed);
// tool_end always carries is_error, even when false.
func (e AgentEvent) MarshalJSON() ([]byte, error) {
	switch e.Type {
	case EventTextDelta:
		return json.Marshal(struct {
			Type  EventType `json:"type"`
			Delta string    `json:"delta"`
		}{e.Type, e.Delta})
	case EventToolStart:
		args := e.Args
		if args == nil {
			args = map[string]interface{}{}
		}
		return json.Marshal(struct {
			Type       EventType              `json:"type"`
			ToolName   string                 `json:"tool_name"`
			ToolCallID string                 `json:"tool_call_id"`
			Args       map[string]interface{} `json:"args"`
		}{e.Type, e.ToolName, e.ToolCallID, args})
	case EventToolUpdate:
		return json.Marshal(struct {
			Type          EventType `json:"type"`
			ToolCallID    string    `json:"tool_call_id"`
			ToolName      string    `json:"tool_name"`
			PartialResult string    `json:"partial_result"`
		}{e.Type, e.ToolCallID, e.ToolName, e.PartialResult})
	case EventToolEnd:
		return json.Marshal(struct {
			Type       EventType `json:"type"`
			ToolCallID string    `json:"tool_call_id"`
			ToolName   string    `json:"tool_name"`
			Result     string    `json:"result"`
			IsError    bool      `json:"is_error"`
		}{e.Type, e.ToolCallID, e.ToolName, e.Result, e.IsError})
	case EventCompactionEnd:
		if e.Message != "" {
			return json.Marshal(struct {
				Type         EventType `json:"type"`
				Summary      string    `json:"summary"`
				TokensBefore int       `json:"tokens_before"`
				Message      string    `json:"message"`
			}{e.Type, e.Summary, e.TokensBefore, e.Message})
		}
		return json.Marshal(struct {
			Type         EventType `json:"type"`
			Summary      string    `json:"summary"`
			TokensBefore int       `json:"tokens_before"`
		}{e.Type, e.Summary, e.TokensBefore})
	case EventModelInfo:
		return json.Marshal(struct {
			Type      EventType  `json:"type"`
			ModelInfo *ModelInfo `json:"model_info"`
		}{e.Type, e.ModelInfo})
	case EventError:
		return json.Marshal(struct {
			Type    EventType `json:"type"`
			Message string    `json:"message"`
		}{e.Type, e.Message})
	default:
		// turn_start, turn_end, agent_end, compaction_start
		return json.Marshal(struct {
			Type EventType `json:"type"`
		}{e.Type})
	}
}

// UnmarshalJSON accepts any event frame, leaving absent fields zero. Paired
// with MarshalJSON this round-trips every variant unchanged.
func (e *AgentEvent) UnmarshalJSON(data []byte) error {
	type wire AgentEvent
	var w wire
	if err := json.Unmarshal(data, &w); err != nil {
		return err
	}
	*e = AgentEvent(w)
	return nil
}
