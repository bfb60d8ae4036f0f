// Package models defines the data types shared across the agent platform:
// agents, chat sessions, messages, and the tool-call/tool-result values that
// flow through the runtime and tool federation layers.
package models

import (
	"encoding/json"
	"time"
)

// ChannelType identifies an inbound/outbound messaging surface.
type ChannelType string

const (
	ChannelAPI      ChannelType = "api"
	ChannelTelegram ChannelType = "telegram"
	ChannelDiscord  ChannelType = "discord"
)

// Role is the API-facing author vocabulary used throughout the core.
//
// The system this was distilled from carries two incompatible role
// vocabularies: sender_type (user|ai|tool) internally vs role (user|agent|tool)
// at the API edge. This package standardises on the latter; RoleFromSenderType
// maps the former deterministically for interop with prior data.
type Role string

const (
	RoleUser  Role = "user"
	RoleAgent Role = "agent"
	RoleTool  Role = "tool"
)

// RoleFromSenderType maps the legacy internal sender_type vocabulary
// (user|ai|tool) onto the API-facing Role vocabulary (user|agent|tool).
func RoleFromSenderType(senderType string) Role {
	switch senderType {
	case "ai":
		return RoleAgent
	case "tool":
		return RoleTool
	default:
		return RoleUser
	}
}

// ToolCall represents a single LLM-requested tool invocation.
type ToolCall struct {
	ID   string          `json:"id"`
	Name string          `json:"name"`
	Args json.RawMessage `json:"args,omitempty"`
}

// ToolResult represents the outcome of executing a ToolCall.
type ToolResult struct {
	ToolCallID string `json:"tool_call_id"`
	Content    string `json:"content"`
	IsError    bool   `json:"is_error,omitempty"`
}

// ContentKind discriminates the tagged union stored in ChatMessage.Content.
type ContentKind string

const (
	ContentText           ContentKind = "text"
	ContentToolInvocation ContentKind = "tool_invocation"
	ContentToolResult     ContentKind = "tool_result"
)

// MessageContent is the sum type Text(string) | ToolInvocation([]ToolCall) |
// ToolResult([]ToolResult). Persistence stores the discriminant (Kind)
// alongside whichever payload field is populated; the others are left zero.
type MessageContent struct {
	Kind    ContentKind  `json:"kind"`
	Text    string       `json:"text,omitempty"`
	Calls   []ToolCall   `json:"calls,omitempty"`
	Results []ToolResult `json:"results,omitempty"`
}

// TextContent builds a MessageContent holding plain text.
func TextContent(text string) MessageContent {
	return MessageContent{Kind: ContentText, Text: text}
}

// ToolInvocationContent builds a MessageContent holding a list of tool calls.
func ToolInvocationContent(calls []ToolCall) MessageContent {
	return MessageContent{Kind: ContentToolInvocation, Calls: calls}
}

// ToolResultContent builds a MessageContent holding tool results.
func ToolResultContent(results []ToolResult) MessageContent {
	return MessageContent{Kind: ContentToolResult, Results: results}
}

// Attachment represents a file or media attachment on a message.
type Attachment struct {
	ID       string `json:"id"`
	Type     string `json:"type"`
	URL      string `json:"url"`
	Filename string `json:"filename,omitempty"`
	MimeType string `json:"mime_type,omitempty"`
	Size     int64  `json:"size,omitempty"`
}

// ChatMessage is one entry in a ChatSession's chronologically ordered
// history. Partials (IsPartial=true) are streamed fragments of a
// not-yet-complete agent message; a final (IsPartial=false) message with the
// same logical position supersedes all partials for subscribers, though both
// are persisted. Messages are keyed only by session id and timestamp order,
// with no back-pointers, avoiding cyclic history structures.
type ChatMessage struct {
	ID          string         `json:"id"`
	SessionID   string         `json:"session_id"`
	Role        Role           `json:"role"`
	Content     MessageContent `json:"content"`
	Attachments []Attachment   `json:"attachments,omitempty"`
	Timestamp   time.Time      `json:"timestamp"`
	IsPartial   bool           `json:"is_partial"`
}

// ChatSession is a durable conversation thread bound to one user and one
// agent for its lifetime.
type ChatSession struct {
	ID        string    `json:"id"`
	UserID    string    `json:"user_id"`
	AgentID   string    `json:"agent_id"`
	Title     string    `json:"title,omitempty"`
	IsActive  bool      `json:"is_active"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// ChatSummary holds an auto-regenerated rolling summary of a session,
// refreshed every SummaryStride non-partial messages.
type ChatSummary struct {
	SessionID    string    `json:"session_id"`
	Text         string    `json:"text"`
	MessageCount int       `json:"message_count"`
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`
}

// SummaryStride is the non-partial message count interval that triggers a
// ChatSummary regeneration.
const SummaryStride = 10

// User is an opaque, externally-authored identity. The core only reads it;
// Email/Name are carried for bearer-auth identity display, never used for
// authorization decisions.
type User struct {
	ID    string `json:"id"`
	Email string `json:"email,omitempty"`
	Name  string `json:"name,omitempty"`
}
