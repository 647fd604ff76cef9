//go:build integration

package session

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"

	"github.com/firebase/genkit/go/ai"
	"github.com/google/uuid"

	"github.com/murmurhq/murmur/internal/log"
	"github.com/murmurhq/murmur/internal/testutil"
)

const testOwner = "user-alpha"

func newIntegrationStore(t *testing.T) *Store {
	t.Helper()
	db := testutil.SetupTestDB(t)
	store, err := NewStore(db.Pool, log.NewNop())
	if err != nil {
		t.Fatalf("NewStore() error = %v", err)
	}
	return store
}

func TestStoreCreateAndGet(t *testing.T) {
	store := newIntegrationStore(t)
	ctx := context.Background()

	sess, err := store.Create(ctx, testOwner, "First chat")
	if err != nil {
		t.Fatalf("Create() error = %v", err)
	}
	if sess.ID == uuid.Nil {
		t.Fatal("Create() returned nil UUID")
	}
	if sess.Title != "First chat" || sess.OwnerID != testOwner {
		t.Errorf("Create() = %+v", sess)
	}
	if sess.CreatedAt.IsZero() || sess.UpdatedAt.IsZero() {
		t.Error("timestamps not set")
	}

	got, err := store.Get(ctx, testOwner, sess.ID)
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if got.ID != sess.ID || got.Title != sess.Title {
		t.Errorf("Get() = %+v, want %+v", got, sess)
	}

	// Someone else's session reads as absent.
	if _, err := store.Get(ctx, "user-beta", sess.ID); !errors.Is(err, ErrNotFound) {
		t.Errorf("Get() as other owner error = %v, want ErrNotFound", err)
	}
}

func TestStoreDelete(t *testing.T) {
	store := newIntegrationStore(t)
	ctx := context.Background()

	sess, err := store.Create(ctx, testOwner, "")
	if err != nil {
		t.Fatalf("Create() error = %v", err)
	}
	if err := store.AppendMessages(ctx, sess.ID, []*Message{NewUserMessage(sess.ID, "hi")}); err != nil {
		t.Fatalf("AppendMessages() error = %v", err)
	}

	if err := store.Delete(ctx, "user-beta", sess.ID); !errors.Is(err, ErrNotFound) {
		t.Errorf("Delete() as other owner error = %v, want ErrNotFound", err)
	}
	if err := store.Delete(ctx, testOwner, sess.ID); err != nil {
		t.Fatalf("Delete() error = %v", err)
	}
	if _, err := store.Get(ctx, testOwner, sess.ID); !errors.Is(err, ErrNotFound) {
		t.Errorf("Get() after delete error = %v, want ErrNotFound", err)
	}
	if err := store.Delete(ctx, testOwner, sess.ID); !errors.Is(err, ErrNotFound) {
		t.Errorf("second Delete() error = %v, want ErrNotFound", err)
	}
}

func TestStoreAppendAssignsGapFreeSequence(t *testing.T) {
	store := newIntegrationStore(t)
	ctx := context.Background()

	sess, err := store.Create(ctx, testOwner, "")
	if err != nil {
		t.Fatalf("Create() error = %v", err)
	}

	turn := []*Message{
		NewUserMessage(sess.ID, "what time is it?"),
		FromAI(sess.ID, &ai.Message{
			Role: ai.RoleTool,
			Content: []*ai.Part{ai.NewToolResponsePart(&ai.ToolResponse{
				Name:   "current_time",
				Output: map[string]any{"status": "success"},
			})},
		}),
		FromAI(sess.ID, ai.NewModelTextMessage("It is noon.")),
	}
	if err := store.AppendMessages(ctx, sess.ID, turn); err != nil {
		t.Fatalf("AppendMessages() error = %v", err)
	}

	// Second turn continues the sequence without gaps.
	if err := store.AppendMessages(ctx, sess.ID, []*Message{
		NewUserMessage(sess.ID, "thanks"),
		FromAI(sess.ID, ai.NewModelTextMessage("Anytime.")),
	}); err != nil {
		t.Fatalf("AppendMessages() second turn error = %v", err)
	}

	stored, err := store.Messages(ctx, testOwner, sess.ID, 100, 0)
	if err != nil {
		t.Fatalf("Messages() error = %v", err)
	}
	if len(stored) != 5 {
		t.Fatalf("got %d messages, want 5", len(stored))
	}
	for i, msg := range stored {
		if want := int64(i + 1); msg.SequenceNumber != want {
			t.Errorf("message %d sequence = %d, want %d", i, msg.SequenceNumber, want)
		}
	}
	wantRoles := []string{RoleUser, RoleTool, RoleModel, RoleUser, RoleModel}
	for i, msg := range stored {
		if msg.Role != wantRoles[i] {
			t.Errorf("message %d role = %q, want %q", i, msg.Role, wantRoles[i])
		}
	}
}

func TestStoreHistoryOmitsToolMessages(t *testing.T) {
	store := newIntegrationStore(t)
	ctx := context.Background()

	sess, err := store.Create(ctx, testOwner, "")
	if err != nil {
		t.Fatalf("Create() error = %v", err)
	}
	if err := store.AppendMessages(ctx, sess.ID, []*Message{
		NewUserMessage(sess.ID, "what time is it?"),
		FromAI(sess.ID, &ai.Message{
			Role: ai.RoleTool,
			Content: []*ai.Part{ai.NewToolResponsePart(&ai.ToolResponse{
				Name:   "current_time",
				Output: map[string]any{"status": "success"},
			})},
		}),
		FromAI(sess.ID, ai.NewModelTextMessage("It is noon.")),
	}); err != nil {
		t.Fatalf("AppendMessages() error = %v", err)
	}

	// Tool rows stay listable but never seed the model: their pairing
	// requests are not persisted.
	history, err := store.History(ctx, sess.ID, 100)
	if err != nil {
		t.Fatalf("History() error = %v", err)
	}
	if len(history) != 2 {
		t.Fatalf("got %d history messages, want 2", len(history))
	}
	if history[0].Role != ai.RoleUser || history[1].Role != ai.RoleModel {
		t.Errorf("history roles = [%s %s], want [user model]", history[0].Role, history[1].Role)
	}

	stored, err := store.Messages(ctx, testOwner, sess.ID, 100, 0)
	if err != nil {
		t.Fatalf("Messages() error = %v", err)
	}
	if len(stored) != 3 {
		t.Fatalf("got %d listed messages, want 3", len(stored))
	}
}

func TestStoreAppendToMissingSession(t *testing.T) {
	store := newIntegrationStore(t)

	err := store.AppendMessages(context.Background(), uuid.New(), []*Message{
		{Role: RoleUser, Content: []*ai.Part{ai.NewTextPart("hi")}},
	})
	if !errors.Is(err, ErrNotFound) {
		t.Errorf("AppendMessages() error = %v, want ErrNotFound", err)
	}
}

func TestStoreConcurrentAppendsStayGapFree(t *testing.T) {
	store := newIntegrationStore(t)
	ctx := context.Background()

	sess, err := store.Create(ctx, testOwner, "")
	if err != nil {
		t.Fatalf("Create() error = %v", err)
	}

	const writers = 10
	var wg sync.WaitGroup
	errs := make(chan error, writers)
	for i := range writers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			errs <- store.AppendMessages(ctx, sess.ID, []*Message{
				NewUserMessage(sess.ID, fmt.Sprintf("message %d", i)),
				FromAI(sess.ID, ai.NewModelTextMessage(fmt.Sprintf("reply %d", i))),
			})
		}()
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		if err != nil {
			t.Fatalf("concurrent AppendMessages() error = %v", err)
		}
	}

	stored, err := store.Messages(ctx, testOwner, sess.ID, 100, 0)
	if err != nil {
		t.Fatalf("Messages() error = %v", err)
	}
	if len(stored) != writers*2 {
		t.Fatalf("got %d messages, want %d", len(stored), writers*2)
	}
	for i, msg := range stored {
		if want := int64(i + 1); msg.SequenceNumber != want {
			t.Fatalf("sequence gap: message %d has sequence %d", i, msg.SequenceNumber)
		}
	}
}

func TestStoreHistoryWindow(t *testing.T) {
	store := newIntegrationStore(t)
	ctx := context.Background()

	sess, err := store.Create(ctx, testOwner, "")
	if err != nil {
		t.Fatalf("Create() error = %v", err)
	}

	for i := range 5 {
		if err := store.AppendMessages(ctx, sess.ID, []*Message{
			NewUserMessage(sess.ID, fmt.Sprintf("question %d", i)),
			FromAI(sess.ID, ai.NewModelTextMessage(fmt.Sprintf("answer %d", i))),
		}); err != nil {
			t.Fatalf("AppendMessages() error = %v", err)
		}
	}

	// Window of 4 returns the newest two exchanges in chronological order.
	history, err := store.History(ctx, sess.ID, 4)
	if err != nil {
		t.Fatalf("History() error = %v", err)
	}
	if len(history) != 4 {
		t.Fatalf("got %d history messages, want 4", len(history))
	}
	if got := history[0].Content[0].Text; got != "question 3" {
		t.Errorf("history starts with %q, want question 3", got)
	}
	if got := history[3].Content[0].Text; got != "answer 4" {
		t.Errorf("history ends with %q, want answer 4", got)
	}
}

func TestStoreClearMessages(t *testing.T) {
	store := newIntegrationStore(t)
	ctx := context.Background()

	sess, err := store.Create(ctx, testOwner, "")
	if err != nil {
		t.Fatalf("Create() error = %v", err)
	}
	if err := store.AppendMessages(ctx, sess.ID, []*Message{
		NewUserMessage(sess.ID, "hi"),
		FromAI(sess.ID, ai.NewModelTextMessage("hello")),
	}); err != nil {
		t.Fatalf("AppendMessages() error = %v", err)
	}

	if err := store.ClearMessages(ctx, testOwner, sess.ID); err != nil {
		t.Fatalf("ClearMessages() error = %v", err)
	}

	stored, err := store.Messages(ctx, testOwner, sess.ID, 100, 0)
	if err != nil {
		t.Fatalf("Messages() error = %v", err)
	}
	if len(stored) != 0 {
		t.Fatalf("got %d messages after clear, want 0", len(stored))
	}

	// Numbering restarts at 1.
	if err := store.AppendMessages(ctx, sess.ID, []*Message{NewUserMessage(sess.ID, "again")}); err != nil {
		t.Fatalf("AppendMessages() after clear error = %v", err)
	}
	stored, err = store.Messages(ctx, testOwner, sess.ID, 100, 0)
	if err != nil {
		t.Fatalf("Messages() error = %v", err)
	}
	if len(stored) != 1 || stored[0].SequenceNumber != 1 {
		t.Errorf("after clear got %+v, want single message with sequence 1", stored)
	}
}

func TestStoreList(t *testing.T) {
	store := newIntegrationStore(t)
	ctx := context.Background()

	for i := range 3 {
		if _, err := store.Create(ctx, testOwner, fmt.Sprintf("chat %d", i)); err != nil {
			t.Fatalf("Create() error = %v", err)
		}
	}
	if _, err := store.Create(ctx, "user-beta", "not mine"); err != nil {
		t.Fatalf("Create() error = %v", err)
	}

	sessions, err := store.List(ctx, testOwner, 10, 0)
	if err != nil {
		t.Fatalf("List() error = %v", err)
	}
	if len(sessions) != 3 {
		t.Fatalf("List() returned %d sessions, want 3", len(sessions))
	}
	for _, sess := range sessions {
		if sess.OwnerID != testOwner {
			t.Errorf("List() leaked session owned by %q", sess.OwnerID)
		}
	}

	page, err := store.List(ctx, testOwner, 2, 0)
	if err != nil {
		t.Fatalf("List() error = %v", err)
	}
	if len(page) != 2 {
		t.Errorf("List() page size = %d, want 2", len(page))
	}
}
