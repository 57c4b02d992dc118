package api

import (
	"encoding/json"
	"fmt"
)

// TaskID is the opaque handle the backend assigns to a submitted job.
type TaskID int64

func (id TaskID) String() string { return fmt.Sprintf("%d", int64(id)) }

// Kind identifies a family of tasks. The client keeps at most one active task per kind.
type Kind string

const (
	KindGenerate Kind = "generate"
	KindChat     Kind = "chat"
)

// SubmitPath is the HTTP path that accepts a job of this kind.
func (k Kind) SubmitPath() string {
	switch k {
	case KindChat:
		return "/api/chat/send"
	default:
		return "/api/generate"
	}
}

// StopPath is the HTTP path that stops whatever job of this kind is running server-side.
func (k Kind) StopPath() string {
	return "/api/" + string(k) + "/stop"
}

// StreamPath is the WebSocket path streaming frames for the given task.
func (k Kind) StreamPath(id TaskID) string {
	return "/api/ws/" + string(k) + "/" + id.String()
}

// SubmitResponse is the body returned by the submit endpoints.
type SubmitResponse struct {
	TaskID TaskID `json:"task_id"`
}

// LoraEntry selects a LoRA and its weight for a generation.
type LoraEntry struct {
	Name   string  `json:"name"`
	Weight float64 `json:"weight"`
	Hash   string  `json:"hash,omitempty"`
}

// GenerateRequest is the payload of a generation job.
// Only the fields the client sets are sent; the backend fills in its defaults for the rest.
type GenerateRequest struct {
	Prompt               string      `json:"prompt"`
	NegativePrompt       string      `json:"negative_prompt"`
	BaseModelName        string      `json:"base_model_name,omitempty"`
	Loras                []LoraEntry `json:"loras,omitempty"`
	StyleSelection       []string    `json:"style_selection,omitempty"`
	PerformanceSelection string      `json:"performance_selection,omitempty"`
	CustomSteps          int         `json:"custom_steps,omitempty"`
	CFG                  float64     `json:"cfg,omitempty"`
	SamplerName          string      `json:"sampler_name,omitempty"`
	Scheduler            string      `json:"scheduler,omitempty"`
	ClipSkip             int         `json:"clip_skip,omitempty"`
	AspectRatio          string      `json:"aspect_ratios_selection,omitempty"`
	CustomWidth          int         `json:"custom_width,omitempty"`
	CustomHeight         int         `json:"custom_height,omitempty"`
	Seed                 int64       `json:"seed"`
	ImageNumber          int         `json:"image_number"`
	AutoNegativePrompt   bool        `json:"auto_negative_prompt"`
}

// ChatMessage is one turn of a chat history.
type ChatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// ChatSendRequest is the payload of a chat job.
type ChatSendRequest struct {
	System  string        `json:"system"`
	Embed   string        `json:"embed"`
	History []ChatMessage `json:"history"`
}

// MessageType discriminates stream frames.
type MessageType string

const (
	TypeProgress MessageType = "progress"
	// TypeStream is a partial chat response carrying the history so far.
	TypeStream   MessageType = "stream"
	TypeComplete MessageType = "complete"
	TypeError    MessageType = "error"
)

// Message is a frame received on a task stream.
// Which fields are set depends on Type.
type Message struct {
	Type MessageType `json:"type"`

	// progress
	Percent float64 `json:"percent,omitempty"`
	Status  string  `json:"status,omitempty"`
	Preview *string `json:"preview,omitempty"`

	// complete (generate)
	Images []string `json:"images,omitempty"`

	// stream, complete (chat)
	History []ChatMessage `json:"history,omitempty"`

	// error
	Message string `json:"message,omitempty"`
	Error   string `json:"error,omitempty"`
}

// Terminal reports whether the frame ends the task.
func (m Message) Terminal() bool {
	return m.Type == TypeComplete || m.Type == TypeError
}

// ErrorText returns the error carried by an error frame, preferring "message" over "error".
func (m Message) ErrorText() string {
	if m.Message != "" {
		return m.Message
	}
	return m.Error
}

// ParseMessage decodes a stream frame.
// It returns false for anything that isn't a JSON object with a known type.
func ParseMessage(b []byte) (Message, bool) {
	var m Message
	if err := json.Unmarshal(b, &m); err != nil {
		return Message{}, false
	}
	switch m.Type {
	case TypeProgress, TypeStream, TypeComplete, TypeError:
		return m, true
	default:
		return Message{}, false
	}
}
