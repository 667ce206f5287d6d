package websocket

import (
	"encoding/json"
	"fmt"

	"github.com/tetherhq/tether/gateway/internal/domain/entity"
	"github.com/tetherhq/tether/gateway/internal/domain/service"
	"github.com/tetherhq/tether/gateway/pkg/errors"
)

// Client message types accepted over the wire.
const (
	TypePrompt           = "prompt"
	TypeSteer            = "steer"
	TypeAbort            = "abort"
	TypeContextRequest   = "context_request"
	TypeModelListRequest = "model_list_request"
)

// ClientMessage is one parsed inbound frame.
type ClientMessage struct {
	Type    string
	Message string
}

// ParseClientMessage validates one inbound text frame. A malformed frame
// yields a protocol error whose message goes back to the sender verbatim;
// the connection stays open.
func ParseClientMessage(data []byte) (*ClientMessage, error) {
	var parsed interface{}
	if err := json.Unmarshal(data, &parsed); err != nil {
		return nil, errors.NewProtocolError(fmt.Sprintf("Invalid JSON: %v", err))
	}

	obj, ok := parsed.(map[string]interface{})
	if !ok {
		return nil, errors.NewProtocolError("Message must be a JSON object")
	}

	msgType, _ := obj["type"].(string)
	switch msgType {
	case TypePrompt, TypeSteer, TypeAbort, TypeContextRequest, TypeModelListRequest:
	default:
		return nil, errors.NewProtocolError(fmt.Sprintf("Unknown message type: %v", obj["type"]))
	}

	message, _ := obj["message"].(string)
	if (msgType == TypePrompt || msgType == TypeSteer) && message == "" {
		return nil, errors.NewProtocolError(fmt.Sprintf("'%s' requires a 'message' field", msgType))
	}

	return &ClientMessage{Type: msgType, Message: message}, nil
}

// Outbound frame builders. Every frame is one JSON object with a "type"
// discriminator; clients ignore types they do not know.

// EventFrame serializes an agent event for broadcast.
func EventFrame(event entity.AgentEvent) []byte {
	return mustMarshal(event)
}

// UserMessageFrame echoes a prompt to every client so late viewers stay in
// sync with what the agent was asked.
func UserMessageFrame(message string) []byte {
	return mustMarshal(map[string]string{
		"type":    "user_message",
		"message": message,
	})
}

// ErrorFrame reports a gateway-side failure to a client.
func ErrorFrame(message string) []byte {
	return mustMarshal(map[string]string{
		"type":    "error",
		"message": message,
	})
}

// ContextInfoFrame carries the token-usage breakdown, flattened.
func ContextInfoFrame(info service.ContextInfo) []byte {
	return mustMarshal(struct {
		Type string `json:"type"`
		service.ContextInfo
	}{Type: "context_info", ContextInfo: info})
}

// ModelListFrame carries the model catalog and the currently selected model.
func ModelListFrame(models []service.ModelEntry, current string) []byte {
	if models == nil {
		models = []service.ModelEntry{}
	}
	return mustMarshal(struct {
		Type    string               `json:"type"`
		Models  []service.ModelEntry `json:"models"`
		Current string               `json:"current"`
	}{Type: "model_list", Models: models, Current: current})
}

// ModelSetFrame announces a model switch.
func ModelSetFrame(model string) []byte {
	return mustMarshal(map[string]string{
		"type":  "model_set",
		"model": model,
	})
}

// ReloadStartFrame announces the beginning of a hot reload.
func ReloadStartFrame() []byte {
	return mustMarshal(map[string]string{"type": "reload_start"})
}

// ReloadEndFrame reports the outcome of a hot reload.
func ReloadEndFrame(success bool, message string) []byte {
	return mustMarshal(struct {
		Type    string `json:"type"`
		Success bool   `json:"success"`
		Message string `json:"message"`
	}{Type: "reload_end", Success: success, Message: message})
}

func mustMarshal(v interface{}) []byte {
	data, err := json.Marshal(v)
	if err != nil {
		// Frames are built from plain strings, ints and JSON-decoded values;
		// the encoder cannot reject them.
		panic(err)
	}
	return data
}
