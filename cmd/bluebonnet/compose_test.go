package main

import (
	"context"
	"log/slog"
	"path/filepath"
	"testing"

	"github.com/lonestar-labs/bluebonnet/internal/config"
)

// A composed sqlite conversation store must be usable immediately: the
// schema is created during composition, not left to the caller.
func TestConversationStore_SQLiteReadyAfterCompose(t *testing.T) {
	ctx := context.Background()
	a := &app{logger: slog.Default()}

	store, err := a.conversationStore(ctx, config.MemoryConfig{
		Backend:        "sqlite",
		SQLitePath:     filepath.Join(t.TempDir(), "threads.db"),
		SessionMinutes: 30,
	}, a.logger)
	if err != nil {
		t.Fatalf("conversationStore failed: %v", err)
	}

	if err := store.Append(ctx, "t1", "user", "how much is the copay?"); err != nil {
		t.Fatalf("Append on a freshly composed store failed: %v", err)
	}
	msgs, err := store.Recent(ctx, "t1", 5)
	if err != nil {
		t.Fatalf("Recent failed: %v", err)
	}
	if len(msgs) != 1 || msgs[0].Content != "how much is the copay?" {
		t.Errorf("unexpected history: %+v", msgs)
	}
}

func TestConversationStore_UnknownBackend(t *testing.T) {
	a := &app{logger: slog.Default()}
	_, err := a.conversationStore(context.Background(), config.MemoryConfig{Backend: "dynamodb"}, a.logger)
	if err == nil {
		t.Fatal("expected an error for an unknown backend")
	}
}
