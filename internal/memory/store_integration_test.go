//go:build integration

package memory

import (
	"context"
	"testing"

	"github.com/google/uuid"

	"github.com/murmurhq/murmur/internal/log"
	"github.com/murmurhq/murmur/internal/testutil"
)

func newIntegrationStore(t *testing.T) (*Store, *testutil.MockEmbedder) {
	t.Helper()
	db := testutil.SetupTestDB(t)
	embedder := &testutil.MockEmbedder{}
	store, err := NewStore(db.Pool, embedder, log.NewNop())
	if err != nil {
		t.Fatalf("NewStore() error = %v", err)
	}
	return store, embedder
}

func TestStorePersistAndRetrieve(t *testing.T) {
	store, _ := newIntegrationStore(t)
	ctx := context.Background()
	sessionID := uuid.New()

	facts := []string{
		"Prefers Go over Python for backend work",
		"Works on a chat service",
		"Lives in Taipei",
	}
	if err := store.Persist(ctx, "owner-1", sessionID, facts); err != nil {
		t.Fatalf("Persist() error = %v", err)
	}

	// Identical text embeds identically, so an exact query ranks its
	// own fact first with similarity ~1.
	records, err := store.Retrieve(ctx, "owner-1", "Lives in Taipei", 3)
	if err != nil {
		t.Fatalf("Retrieve() error = %v", err)
	}
	if len(records) != 3 {
		t.Fatalf("Retrieve() returned %d records, want 3", len(records))
	}
	if records[0].Content != "Lives in Taipei" {
		t.Errorf("top record = %q, want exact match first", records[0].Content)
	}
	if records[0].Similarity < 0.99 {
		t.Errorf("top similarity = %f, want ~1", records[0].Similarity)
	}
	if records[0].Similarity < records[1].Similarity || records[1].Similarity < records[2].Similarity {
		t.Error("records not ordered by similarity descending")
	}
	if records[0].SourceSessionID != sessionID {
		t.Errorf("SourceSessionID = %v, want %v", records[0].SourceSessionID, sessionID)
	}
}

func TestStoreRetrieveIsOwnerScoped(t *testing.T) {
	store, _ := newIntegrationStore(t)
	ctx := context.Background()

	if err := store.Persist(ctx, "owner-1", uuid.Nil, []string{"owner one fact"}); err != nil {
		t.Fatalf("Persist() error = %v", err)
	}
	if err := store.Persist(ctx, "owner-2", uuid.Nil, []string{"owner two fact"}); err != nil {
		t.Fatalf("Persist() error = %v", err)
	}

	records, err := store.Retrieve(ctx, "owner-1", "fact", 10)
	if err != nil {
		t.Fatalf("Retrieve() error = %v", err)
	}
	if len(records) != 1 || records[0].Content != "owner one fact" {
		t.Errorf("Retrieve() = %+v, want only owner-1's fact", records)
	}
}

func TestStorePersistDeduplicates(t *testing.T) {
	store, _ := newIntegrationStore(t)
	ctx := context.Background()

	for range 3 {
		if err := store.Persist(ctx, "owner-1", uuid.Nil, []string{"Prefers tabs"}); err != nil {
			t.Fatalf("Persist() error = %v", err)
		}
	}

	records, err := store.Retrieve(ctx, "owner-1", "Prefers tabs", 10)
	if err != nil {
		t.Fatalf("Retrieve() error = %v", err)
	}
	if len(records) != 1 {
		t.Errorf("got %d records after duplicate persists, want 1", len(records))
	}
}

func TestStorePersistRejectsSecrets(t *testing.T) {
	store, _ := newIntegrationStore(t)
	ctx := context.Background()

	err := store.Persist(ctx, "owner-1", uuid.Nil, []string{
		"Likes espresso",
		`api_key = "0123456789abcdef0123"`,
	})
	if err == nil {
		t.Fatal("Persist() accepted a secret-bearing fact, want error")
	}

	// The clean fact still landed.
	records, retErr := store.Retrieve(ctx, "owner-1", "Likes espresso", 10)
	if retErr != nil {
		t.Fatalf("Retrieve() error = %v", retErr)
	}
	if len(records) != 1 {
		t.Errorf("got %d records, want the clean fact persisted", len(records))
	}
}

func TestStoreForget(t *testing.T) {
	store, _ := newIntegrationStore(t)
	ctx := context.Background()

	if err := store.Persist(ctx, "owner-1", uuid.Nil, []string{"soon forgotten"}); err != nil {
		t.Fatalf("Persist() error = %v", err)
	}
	if err := store.Forget(ctx, "owner-1"); err != nil {
		t.Fatalf("Forget() error = %v", err)
	}

	records, err := store.Retrieve(ctx, "owner-1", "soon forgotten", 10)
	if err != nil {
		t.Fatalf("Retrieve() error = %v", err)
	}
	if len(records) != 0 {
		t.Errorf("got %d records after Forget, want 0", len(records))
	}
}

func TestStoreRetrieveEmptyInputs(t *testing.T) {
	store, embedder := newIntegrationStore(t)
	ctx := context.Background()

	for _, tc := range []struct{ owner, query string }{
		{"", "query"},
		{"owner-1", ""},
	} {
		records, err := store.Retrieve(ctx, tc.owner, tc.query, 5)
		if err != nil {
			t.Fatalf("Retrieve(%q, %q) error = %v", tc.owner, tc.query, err)
		}
		if len(records) != 0 {
			t.Errorf("Retrieve(%q, %q) = %v, want empty", tc.owner, tc.query, records)
		}
	}
	if embedder.Calls != 0 {
		t.Errorf("embedder called %d times for blank inputs, want 0", embedder.Calls)
	}
}
