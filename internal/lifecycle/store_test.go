package lifecycle

import (
	"context"
	"testing"

	"github.com/agentforge/platform/internal/apperr"
	"github.com/agentforge/platform/pkg/models"
)

func TestMemoryAgentStoreCreateRejectsNameCollision(t *testing.T) {
	store := NewMemoryAgentStore()
	ctx := context.Background()

	if err := store.CreateAgent(ctx, &models.AgentConfig{ID: "a1", Name: "assistant"}); err != nil {
		t.Fatalf("CreateAgent() error = %v", err)
	}
	err := store.CreateAgent(ctx, &models.AgentConfig{ID: "a2", Name: "assistant"})
	if !apperr.Is(err, apperr.Conflict) {
		t.Fatalf("expected apperr.Conflict, got %v", err)
	}
}

func TestMemoryAgentStoreGetNotFound(t *testing.T) {
	store := NewMemoryAgentStore()
	_, err := store.GetAgent(context.Background(), "missing")
	if !apperr.Is(err, apperr.NotFound) {
		t.Fatalf("expected apperr.NotFound, got %v", err)
	}
}

func TestMemoryAgentStoreDeleteFreesName(t *testing.T) {
	store := NewMemoryAgentStore()
	ctx := context.Background()
	if err := store.CreateAgent(ctx, &models.AgentConfig{ID: "a1", Name: "assistant"}); err != nil {
		t.Fatalf("CreateAgent() error = %v", err)
	}
	if err := store.DeleteAgent(ctx, "a1"); err != nil {
		t.Fatalf("DeleteAgent() error = %v", err)
	}
	if err := store.CreateAgent(ctx, &models.AgentConfig{ID: "a2", Name: "assistant"}); err != nil {
		t.Fatalf("expected name to be reusable after delete, got %v", err)
	}
}

func TestMemoryAgentStoreRecordSessionStartBumpsUsage(t *testing.T) {
	store := NewMemoryAgentStore()
	ctx := context.Background()
	if err := store.CreateAgent(ctx, &models.AgentConfig{ID: "a1", Name: "assistant"}); err != nil {
		t.Fatalf("CreateAgent() error = %v", err)
	}
	if err := store.RecordSessionStart(ctx, "a1"); err != nil {
		t.Fatalf("RecordSessionStart() error = %v", err)
	}
	cfg, err := store.GetAgent(ctx, "a1")
	if err != nil {
		t.Fatalf("GetAgent() error = %v", err)
	}
	if cfg.TotalSessions != 1 {
		t.Fatalf("TotalSessions = %d, want 1", cfg.TotalSessions)
	}
	if cfg.LastUsed.IsZero() {
		t.Fatal("expected LastUsed to be set")
	}
}

func TestMemoryAgentStoreListAgents(t *testing.T) {
	store := NewMemoryAgentStore()
	ctx := context.Background()
	store.CreateAgent(ctx, &models.AgentConfig{ID: "a1", Name: "one"})
	store.CreateAgent(ctx, &models.AgentConfig{ID: "a2", Name: "two"})

	configs, err := store.ListAgents(ctx)
	if err != nil {
		t.Fatalf("ListAgents() error = %v", err)
	}
	if len(configs) != 2 {
		t.Fatalf("len(configs) = %d, want 2", len(configs))
	}
}
