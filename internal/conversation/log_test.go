package conversation

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/prepdeck/prepdeck/internal/domain"
)

func msgAt(id string, role domain.Role, content string, ts time.Time) domain.Message {
	return domain.Message{
		ID:        id,
		Role:      role,
		Type:      domain.TypeOther,
		Content:   content,
		Timestamp: ts,
	}
}

func TestLogSortsByTimestamp(t *testing.T) {
	t.Parallel()

	fake := &fakeThreads{}
	l := NewLog(fake, &captureJournal{}, nil)
	l.Bind(context.Background(), "conv-1", nil)

	base := time.Now()
	l.Append(context.Background(), msgAt("c", domain.RoleUser, "third", base.Add(2*time.Second)))
	l.Append(context.Background(), msgAt("a", domain.RoleUser, "first", base))
	l.Append(context.Background(), msgAt("b", domain.RoleAssistant, "second", base.Add(time.Second)))

	got := l.Messages()
	want := []string{"first", "second", "third"}
	if len(got) != len(want) {
		t.Fatalf("log length = %d, want %d", len(got), len(want))
	}
	for i, w := range want {
		if got[i].Content != w {
			t.Errorf("position %d = %q, want %q", i, got[i].Content, w)
		}
	}
}

func TestLogStableTieBreakOnEqualTimestamps(t *testing.T) {
	t.Parallel()

	fake := &fakeThreads{}
	l := NewLog(fake, &captureJournal{}, nil)
	l.Bind(context.Background(), "conv-1", nil)

	ts := time.Now()
	for _, id := range []string{"one", "two", "three"} {
		l.Append(context.Background(), msgAt(id, domain.RoleUser, id, ts))
	}

	got := l.Messages()
	want := []string{"one", "two", "three"}
	for i, w := range want {
		if got[i].Content != w {
			t.Errorf("position %d = %q, want insertion order %q", i, got[i].Content, w)
		}
	}
}

func TestLogPersistenceFailureKeepsMessage(t *testing.T) {
	t.Parallel()

	fake := &fakeThreads{appendErr: errors.New("backend append failed")}
	jrnl := &captureJournal{}
	l := NewLog(fake, jrnl, nil)
	l.Bind(context.Background(), "conv-1", nil)

	msg := msgAt("m1", domain.RoleUser, "my solution", time.Now())
	l.Append(context.Background(), msg)

	got := l.Messages()
	if len(got) != 1 || got[0].ID != "m1" {
		t.Fatalf("log = %+v, want the message retained locally", got)
	}

	events := jrnl.all()
	if len(events) != 1 {
		t.Fatalf("journal events = %d, want 1", len(events))
	}
	if events[0].MessageID != "m1" || events[0].ConversationID != "conv-1" {
		t.Errorf("unexpected journal event: %+v", events[0])
	}
}

func TestLogHydrateReplacesWholesale(t *testing.T) {
	t.Parallel()

	history := []domain.Message{
		msgAt("h2", domain.RoleAssistant, "older reply", time.Now().Add(-time.Minute)),
		msgAt("h1", domain.RoleUser, "older ask", time.Now().Add(-2*time.Minute)),
	}
	fake := &fakeThreads{hydrateMsgs: history}
	l := NewLog(fake, &captureJournal{}, nil)
	l.Bind(context.Background(), "conv-1", nil)
	l.Append(context.Background(), msgAt("local", domain.RoleUser, "stale local", time.Now()))

	if err := l.Hydrate(context.Background(), "conv-1"); err != nil {
		t.Fatalf("Hydrate failed: %v", err)
	}

	got := l.Messages()
	if len(got) != 2 {
		t.Fatalf("log length = %d, want hydrated history only", len(got))
	}
	// Hydration applies the same ordering rule: oldest first.
	if got[0].ID != "h1" || got[1].ID != "h2" {
		t.Errorf("hydrated order = [%s %s], want [h1 h2]", got[0].ID, got[1].ID)
	}
}

func TestLogBindPersistsPreResolutionAppends(t *testing.T) {
	t.Parallel()

	fake := &fakeThreads{}
	l := NewLog(fake, &captureJournal{}, nil)

	// Optimistic append before the conversation exists.
	optimistic := msgAt("m1", domain.RoleUser, "my solution", time.Now())
	l.Append(context.Background(), optimistic)
	if got := fake.appended(); len(got) != 0 {
		t.Fatalf("append before bind reached backend: %+v", got)
	}

	serverHistory := []domain.Message{
		msgAt("s1", domain.RoleUser, "yesterday's ask", time.Now().Add(-time.Hour)),
	}
	l.Bind(context.Background(), "conv-1", serverHistory)

	got := l.Messages()
	if len(got) != 2 {
		t.Fatalf("log length = %d, want history plus optimistic message", len(got))
	}
	if got[0].ID != "s1" || got[1].ID != "m1" {
		t.Errorf("merged order = [%s %s], want [s1 m1]", got[0].ID, got[1].ID)
	}

	persisted := fake.appended()
	if len(persisted) != 1 || persisted[0].ID != "m1" {
		t.Errorf("persisted after bind = %+v, want the optimistic message", persisted)
	}
}

func TestLogRebindSameConversationIsNoop(t *testing.T) {
	t.Parallel()

	fake := &fakeThreads{}
	l := NewLog(fake, &captureJournal{}, nil)
	l.Bind(context.Background(), "conv-1", nil)
	l.Append(context.Background(), msgAt("m1", domain.RoleUser, "kept", time.Now()))

	l.Bind(context.Background(), "conv-1", nil)
	if l.Len() != 1 {
		t.Errorf("rebinding the same conversation dropped messages; len = %d", l.Len())
	}
}

func TestLogClearLocalKeepsBinding(t *testing.T) {
	t.Parallel()

	fake := &fakeThreads{}
	l := NewLog(fake, &captureJournal{}, nil)
	l.Bind(context.Background(), "conv-1", nil)
	l.Append(context.Background(), msgAt("m1", domain.RoleUser, "old thread", time.Now()))

	l.ClearLocal()
	if l.Len() != 0 {
		t.Errorf("ClearLocal left %d messages", l.Len())
	}
	if l.ConversationID() != "conv-1" {
		t.Errorf("ClearLocal unbound the conversation: %q", l.ConversationID())
	}
}

func TestLogRemoveDeletesById(t *testing.T) {
	t.Parallel()

	fake := &fakeThreads{}
	l := NewLog(fake, &captureJournal{}, nil)
	l.Bind(context.Background(), "conv-1", nil)

	base := time.Now()
	l.Append(context.Background(), msgAt("keep", domain.RoleUser, "keep", base))
	l.Append(context.Background(), msgAt("drop", domain.RoleUser, "drop", base.Add(time.Second)))

	if !l.Remove("drop") {
		t.Fatal("Remove reported the message missing")
	}
	got := l.Messages()
	if len(got) != 1 || got[0].ID != "keep" {
		t.Fatalf("log after Remove = %+v, want only %q", got, "keep")
	}
	if l.Remove("drop") {
		t.Error("Remove found an already removed id")
	}
	if l.Remove("never-appended") {
		t.Error("Remove found an unknown id")
	}
}
