package users

import (
	"context"
	"errors"
	"testing"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/openfield/eventlog-pipeline/pkg/db/models"
)

type fakeTxRunner struct{}

func (fakeTxRunner) WithTx(ctx context.Context, fn func(tx *gorm.DB) error) error {
	return fn(&gorm.DB{})
}

type fakeUserStore struct {
	byEmail map[string]*models.User
	created []*models.User
	err     error
}

func newFakeUserStore() *fakeUserStore {
	return &fakeUserStore{byEmail: map[string]*models.User{}}
}

func (f *fakeUserStore) CreateTx(tx *gorm.DB, user *models.User) error {
	if f.err != nil {
		return f.err
	}
	user.ID = uuid.New()
	f.byEmail[user.Email] = user
	f.created = append(f.created, user)
	return nil
}

func (f *fakeUserStore) FindByEmailTx(ctx context.Context, tx *gorm.DB, email string) (*models.User, error) {
	if user, ok := f.byEmail[email]; ok {
		return user, nil
	}
	return nil, ErrNotFound
}

func (f *fakeUserStore) FindByID(ctx context.Context, id uuid.UUID) (*models.User, error) {
	for _, user := range f.byEmail {
		if user.ID == id {
			return user, nil
		}
	}
	return nil, ErrNotFound
}

type fakeProducer struct {
	events []any
	err    error
}

func (f *fakeProducer) Enqueue(ctx context.Context, tx *gorm.DB, event any) error {
	if f.err != nil {
		return f.err
	}
	f.events = append(f.events, event)
	return nil
}

type fakePublisher struct {
	events []any
}

func (f *fakePublisher) Publish(ctx context.Context, event any) error {
	f.events = append(f.events, event)
	return nil
}

func newTestService(t *testing.T, store *fakeUserStore, producer *fakeProducer, buffer fastPublisher) *Service {
	t.Helper()
	svc, err := NewService(ServiceParams{
		DB:       fakeTxRunner{},
		Repo:     store,
		Producer: producer,
		Buffer:   buffer,
	})
	if err != nil {
		t.Fatalf("NewService: %v", err)
	}
	return svc
}

func TestRegisterCreatesUserAndEnqueuesEvent(t *testing.T) {
	store := newFakeUserStore()
	producer := &fakeProducer{}
	svc := newTestService(t, store, producer, nil)

	dto, created, err := svc.Register(context.Background(), CreateUserInput{
		Email:     "New.User@Example.com ",
		FirstName: "New",
		LastName:  "User",
	})
	if err != nil {
		t.Fatalf("Register: %v", err)
	}
	if !created {
		t.Fatal("expected created=true for a fresh email")
	}
	if dto.Email != "new.user@example.com" {
		t.Errorf("email not normalized: %q", dto.Email)
	}
	if len(producer.events) != 1 {
		t.Fatalf("expected 1 enqueued event, got %d", len(producer.events))
	}
	event, ok := producer.events[0].(UserCreated)
	if !ok {
		t.Fatalf("unexpected event type %T", producer.events[0])
	}
	if event.Email != "new.user@example.com" || event.UserID != dto.ID {
		t.Errorf("unexpected event: %+v", event)
	}
}

func TestRegisterExistingEmailEmitsNothing(t *testing.T) {
	store := newFakeUserStore()
	store.byEmail["taken@example.com"] = &models.User{ID: uuid.New(), Email: "taken@example.com"}
	producer := &fakeProducer{}
	svc := newTestService(t, store, producer, nil)

	_, created, err := svc.Register(context.Background(), CreateUserInput{Email: "taken@example.com"})
	if err != nil {
		t.Fatalf("Register: %v", err)
	}
	if created {
		t.Fatal("expected created=false for an existing email")
	}
	if len(producer.events) != 0 {
		t.Fatalf("no event may be enqueued, got %d", len(producer.events))
	}
}

func TestRegisterRejectsInvalidEmail(t *testing.T) {
	svc := newTestService(t, newFakeUserStore(), &fakeProducer{}, nil)

	_, _, err := svc.Register(context.Background(), CreateUserInput{Email: "not-an-email"})
	if !errors.Is(err, ErrInvalidInput) {
		t.Fatalf("expected ErrInvalidInput, got %v", err)
	}
}

func TestRegisterEnqueueFailureAbortsRegistration(t *testing.T) {
	store := newFakeUserStore()
	producer := &fakeProducer{err: errors.New("insert outbox: connection reset")}
	svc := newTestService(t, store, producer, nil)

	_, _, err := svc.Register(context.Background(), CreateUserInput{Email: "a@example.com"})
	if err == nil {
		t.Fatal("enqueue failure must fail the registration")
	}
}

func TestRegisterBufferedPathPublishesAfterCommit(t *testing.T) {
	store := newFakeUserStore()
	producer := &fakeProducer{}
	buffer := &fakePublisher{}
	svc := newTestService(t, store, producer, buffer)

	_, created, err := svc.Register(context.Background(), CreateUserInput{Email: "fast@example.com"})
	if err != nil {
		t.Fatalf("Register: %v", err)
	}
	if !created {
		t.Fatal("expected created=true")
	}
	if len(producer.events) != 0 {
		t.Fatal("durable producer must be bypassed on the fast path")
	}
	if len(buffer.events) != 1 {
		t.Fatalf("expected 1 buffered event, got %d", len(buffer.events))
	}
}
