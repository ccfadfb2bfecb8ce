package runloop

import (
	"encoding/json"
	"fmt"
)

// EventType tags a streamed event.
type EventType string

const (
	EventAssistantMessage EventType = "assistant_message"
	EventToolOutput       EventType = "tool_output"
	EventError            EventType = "error"
)

// Event is one element of the stream sent to the chat client.
type Event struct {
	Type    EventType
	Content string
	Name    string
	Output  json.RawMessage
}

// MarshalJSON renders the fields that belong to the event's type:
// {type, content} for messages and errors, {type, name, output} for tool output.
func (e Event) MarshalJSON() ([]byte, error) {
	switch e.Type {
	case EventToolOutput:
		output := e.Output
		if len(output) == 0 {
			output = json.RawMessage("null")
		}
		return json.Marshal(struct {
			Type   EventType       `json:"type"`
			Name   string          `json:"name"`
			Output json.RawMessage `json:"output"`
		}{e.Type, e.Name, output})
	case EventAssistantMessage, EventError:
		return json.Marshal(struct {
			Type    EventType `json:"type"`
			Content string    `json:"content"`
		}{e.Type, e.Content})
	default:
		return nil, fmt.Errorf("unknown event type %q", e.Type)
	}
}

// UnmarshalJSON accepts the shapes produced by MarshalJSON.
func (e *Event) UnmarshalJSON(data []byte) error {
	var raw struct {
		Type    EventType       `json:"type"`
		Content string          `json:"content"`
		Name    string          `json:"name"`
		Output  json.RawMessage `json:"output"`
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	*e = Event{Type: raw.Type, Content: raw.Content, Name: raw.Name, Output: raw.Output}
	return nil
}

func assistantMessage(content string) Event {
	return Event{Type: EventAssistantMessage, Content: content}
}

func toolOutput(name string, output json.RawMessage) Event {
	return Event{Type: EventToolOutput, Name: name, Output: output}
}

func errorEvent(content string) Event {
	return Event{Type: EventError, Content: content}
}
