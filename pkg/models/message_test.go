package models

import (
	"encoding/json"
	"testing"
	"time"
)

func TestChannelType_Constants(t *testing.T) {
	tests := []struct {
		constant ChannelType
		expected string
	}{
		{ChannelAPI, "api"},
		{ChannelTelegram, "telegram"},
		{ChannelDiscord, "discord"},
	}

	for _, tt := range tests {
		t.Run(string(tt.constant), func(t *testing.T) {
			if string(tt.constant) != tt.expected {
				t.Errorf("constant = %q, want %q", tt.constant, tt.expected)
			}
		})
	}
}

func TestRole_Constants(t *testing.T) {
	tests := []struct {
		constant Role
		expected string
	}{
		{RoleUser, "user"},
		{RoleAgent, "agent"},
		{RoleTool, "tool"},
	}

	for _, tt := range tests {
		t.Run(string(tt.constant), func(t *testing.T) {
			if string(tt.constant) != tt.expected {
				t.Errorf("constant = %q, want %q", tt.constant, tt.expected)
			}
		})
	}
}

func TestRoleFromSenderType(t *testing.T) {
	tests := []struct {
		senderType string
		want       Role
	}{
		{"user", RoleUser},
		{"ai", RoleAgent},
		{"tool", RoleTool},
		{"anything-else", RoleUser},
	}
	for _, tt := range tests {
		if got := RoleFromSenderType(tt.senderType); got != tt.want {
			t.Errorf("RoleFromSenderType(%q) = %q, want %q", tt.senderType, got, tt.want)
		}
	}
}

func TestChatMessage_JSONRoundTrip(t *testing.T) {
	now := time.Now().Truncate(time.Second).UTC()
	original := ChatMessage{
		ID:        "msg-123",
		SessionID: "session-456",
		Role:      RoleAgent,
		Content:   TextContent("Hello!"),
		Attachments: []Attachment{
			{ID: "att-1", Type: "image", URL: "http://example.com/img.png"},
		},
		Timestamp: now,
		IsPartial: false,
	}

	data, err := json.Marshal(original)
	if err != nil {
		t.Fatalf("Marshal error: %v", err)
	}

	var decoded ChatMessage
	if err := json.Unmarshal(data, &decoded); err != nil {
		t.Fatalf("Unmarshal error: %v", err)
	}

	if decoded.ID != original.ID {
		t.Errorf("ID = %q, want %q", decoded.ID, original.ID)
	}
	if decoded.Content.Kind != ContentText || decoded.Content.Text != "Hello!" {
		t.Errorf("Content = %+v, want text %q", decoded.Content, "Hello!")
	}
	if len(decoded.Attachments) != 1 {
		t.Errorf("Attachments length = %d, want 1", len(decoded.Attachments))
	}
	if decoded.IsPartial {
		t.Error("IsPartial should be false")
	}
}

func TestMessageContent_ToolInvocation(t *testing.T) {
	calls := []ToolCall{{ID: "tc-1", Name: "get_weather", Args: json.RawMessage(`{"city":"London"}`)}}
	content := ToolInvocationContent(calls)
	if content.Kind != ContentToolInvocation {
		t.Fatalf("Kind = %v, want %v", content.Kind, ContentToolInvocation)
	}
	if len(content.Calls) != 1 || content.Calls[0].Name != "get_weather" {
		t.Fatalf("Calls = %+v", content.Calls)
	}
}

func TestMessageContent_ToolResult(t *testing.T) {
	results := []ToolResult{{ToolCallID: "tc-1", Content: "18C cloudy", IsError: false}}
	content := ToolResultContent(results)
	if content.Kind != ContentToolResult {
		t.Fatalf("Kind = %v, want %v", content.Kind, ContentToolResult)
	}
	if len(content.Results) != 1 || content.Results[0].Content != "18C cloudy" {
		t.Fatalf("Results = %+v", content.Results)
	}
}

func TestAttachment_Struct(t *testing.T) {
	att := Attachment{
		ID:       "att-123",
		Type:     "image",
		URL:      "http://example.com/image.png",
		Filename: "image.png",
		MimeType: "image/png",
		Size:     1024,
	}

	if att.ID != "att-123" {
		t.Errorf("ID = %q, want %q", att.ID, "att-123")
	}
	if att.Size != 1024 {
		t.Errorf("Size = %d, want 1024", att.Size)
	}
}

func TestToolCall_Struct(t *testing.T) {
	tc := ToolCall{
		ID:   "tc-123",
		Name: "web_search",
		Args: json.RawMessage(`{"query": "test query"}`),
	}

	if tc.ID != "tc-123" {
		t.Errorf("ID = %q, want %q", tc.ID, "tc-123")
	}
	if tc.Name != "web_search" {
		t.Errorf("Name = %q, want %q", tc.Name, "web_search")
	}
}

func TestToolResult_Struct(t *testing.T) {
	tr := ToolResult{ToolCallID: "tc-123", Content: "Search results here", IsError: false}
	if tr.IsError {
		t.Error("IsError should be false")
	}

	trError := ToolResult{ToolCallID: "tc-456", Content: "Error occurred", IsError: true}
	if !trError.IsError {
		t.Error("IsError should be true")
	}
}

func TestChatSession_Struct(t *testing.T) {
	now := time.Now()
	session := ChatSession{
		ID:        "session-123",
		UserID:    "user-456",
		AgentID:   "agent-456",
		Title:     "Test Session",
		IsActive:  true,
		CreatedAt: now,
		UpdatedAt: now,
	}

	if session.ID != "session-123" {
		t.Errorf("ID = %q, want %q", session.ID, "session-123")
	}
	if !session.IsActive {
		t.Error("IsActive should be true")
	}
}

func TestChatSummary_Stride(t *testing.T) {
	if SummaryStride != 10 {
		t.Errorf("SummaryStride = %d, want 10", SummaryStride)
	}
	summary := ChatSummary{SessionID: "session-123", Text: "...", MessageCount: 10}
	if summary.MessageCount%SummaryStride != 0 {
		t.Errorf("MessageCount %d not a multiple of SummaryStride", summary.MessageCount)
	}
}

func TestUser_Struct(t *testing.T) {
	user := User{ID: "user-123", Email: "test@example.com", Name: "Test User"}
	if user.ID != "user-123" {
		t.Errorf("ID = %q, want %q", user.ID, "user-123")
	}
	if user.Email != "test@example.com" {
		t.Errorf("Email = %q, want %q", user.Email, "test@example.com")
	}
}
