package outbox

import (
	"context"
	"errors"
	"testing"

	"gorm.io/gorm"

	"github.com/openfield/eventlog-pipeline/pkg/db/models"
	"github.com/openfield/eventlog-pipeline/pkg/enums"
)

type fakeInserter struct {
	records []models.OutboxRecord
	err     error
}

func (f *fakeInserter) InsertTx(tx *gorm.DB, record *models.OutboxRecord) error {
	if f.err != nil {
		return f.err
	}
	f.records = append(f.records, *record)
	return nil
}

type UserCreated struct {
	Email string `json:"email"`
}

type customNamed struct{}

func (customNamed) EventType() string { return "legacy_signup" }

func newTestProducer(t *testing.T, repo inserter) *Producer {
	t.Helper()
	p, err := NewProducer(ProducerParams{
		Repo:            repo,
		Environment:     "staging",
		MetadataVersion: 2,
	})
	if err != nil {
		t.Fatalf("NewProducer: %v", err)
	}
	return p
}

func TestEnqueueWritesRecord(t *testing.T) {
	repo := &fakeInserter{}
	p := newTestProducer(t, repo)

	// Enqueue only ever sees the caller's live transaction; the fake ignores
	// it, so any non-nil handle will do.
	tx := &gorm.DB{}
	if err := p.Enqueue(context.Background(), tx, UserCreated{Email: "a@example.com"}); err != nil {
		t.Fatalf("Enqueue: %v", err)
	}

	if len(repo.records) != 1 {
		t.Fatalf("expected 1 record, got %d", len(repo.records))
	}
	rec := repo.records[0]
	if rec.EventType != "user_created" {
		t.Errorf("event type = %q, want user_created", rec.EventType)
	}
	if rec.Environment != "staging" {
		t.Errorf("environment = %q, want staging", rec.Environment)
	}
	if rec.MetadataVersion != 2 {
		t.Errorf("metadata version = %d, want 2", rec.MetadataVersion)
	}
	if rec.Status != enums.OutboxStatusPending {
		t.Errorf("status = %q, want pending", rec.Status)
	}
	if string(rec.EventContext) != `{"email":"a@example.com"}` {
		t.Errorf("payload = %s", rec.EventContext)
	}
}

func TestEnqueueRequiresTransaction(t *testing.T) {
	p := newTestProducer(t, &fakeInserter{})
	if err := p.Enqueue(context.Background(), nil, UserCreated{}); err == nil {
		t.Fatal("expected error for nil transaction")
	}
}

func TestEnqueueWrapsInsertFailure(t *testing.T) {
	repo := &fakeInserter{err: errors.New("connection reset")}
	p := newTestProducer(t, repo)

	err := p.Enqueue(context.Background(), &gorm.DB{}, UserCreated{})
	var perr *PersistenceError
	if !errors.As(err, &perr) {
		t.Fatalf("expected PersistenceError, got %v", err)
	}
}

func TestEnqueueHonorsTypedEvent(t *testing.T) {
	repo := &fakeInserter{}
	p := newTestProducer(t, repo)

	if err := p.Enqueue(context.Background(), &gorm.DB{}, customNamed{}); err != nil {
		t.Fatalf("Enqueue: %v", err)
	}
	if repo.records[0].EventType != "legacy_signup" {
		t.Errorf("event type = %q, want legacy_signup", repo.records[0].EventType)
	}
}

func TestEnqueueAllStopsOnFirstFailure(t *testing.T) {
	repo := &fakeInserter{}
	p := newTestProducer(t, repo)

	err := p.EnqueueAll(context.Background(), &gorm.DB{},
		UserCreated{Email: "a@example.com"},
		nil,
		UserCreated{Email: "b@example.com"},
	)
	if err == nil {
		t.Fatal("expected error for nil event")
	}
	if len(repo.records) != 1 {
		t.Fatalf("expected 1 record before failure, got %d", len(repo.records))
	}
}

func TestDeriveEventTypeFromPointer(t *testing.T) {
	name, err := deriveEventType(&UserCreated{})
	if err != nil {
		t.Fatalf("deriveEventType: %v", err)
	}
	if name != "user_created" {
		t.Errorf("name = %q, want user_created", name)
	}
}
