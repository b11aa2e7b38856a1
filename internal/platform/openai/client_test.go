package openai

import (
	"testing"

	"github.com/dovira/amlgraph-backend/internal/platform/logger"
)

func TestNewClientWithModelOverride(t *testing.T) {
	t.Setenv("OPENAI_API_KEY", "test-key")
	t.Setenv("OPENAI_MODEL", "gpt-4o-mini")

	c, err := NewClientWithModel(logger.NewNop(), "gpt-4o")
	if err != nil {
		t.Fatalf("NewClientWithModel: %v", err)
	}
	if got := c.(*client).model; got != "gpt-4o" {
		t.Fatalf("model = %q, want gpt-4o", got)
	}
}

func TestNewClientWithModelEmptyOverrideKeepsDefault(t *testing.T) {
	t.Setenv("OPENAI_API_KEY", "test-key")
	t.Setenv("OPENAI_MODEL", "gpt-4o-mini")

	c, err := NewClientWithModel(logger.NewNop(), "  ")
	if err != nil {
		t.Fatalf("NewClientWithModel: %v", err)
	}
	if got := c.(*client).model; got != "gpt-4o-mini" {
		t.Fatalf("model = %q, want gpt-4o-mini", got)
	}
}

func TestNewClientRequiresAPIKey(t *testing.T) {
	t.Setenv("OPENAI_API_KEY", "")

	if _, err := NewClient(logger.NewNop()); err == nil {
		t.Fatal("expected error without OPENAI_API_KEY")
	}
}
