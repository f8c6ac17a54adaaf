package users

import (
	"context"
	"errors"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"gorm.io/gorm"

	dbpkg "github.com/openfield/eventlog-pipeline/pkg/db"
	"github.com/openfield/eventlog-pipeline/pkg/db/models"
	"github.com/openfield/eventlog-pipeline/pkg/logger"
)

const emailConstraint = "ux_users_email"

// ErrInvalidInput wraps validation failures so the API layer can map them to
// a 422 without inspecting validator internals.
var ErrInvalidInput = errors.New("invalid input")

type userStore interface {
	CreateTx(tx *gorm.DB, user *models.User) error
	FindByEmailTx(ctx context.Context, tx *gorm.DB, email string) (*models.User, error)
	FindByID(ctx context.Context, id uuid.UUID) (*models.User, error)
}

type eventProducer interface {
	Enqueue(ctx context.Context, tx *gorm.DB, event any) error
}

// fastPublisher is the buffered alternative to the durable outbox.
type fastPublisher interface {
	Publish(ctx context.Context, event any) error
}

type txRunner interface {
	WithTx(ctx context.Context, fn func(tx *gorm.DB) error) error
}

// Service registers users and emits one UserCreated per new account. With
// the durable path the event enqueues inside the registration transaction;
// with the buffered fast path it publishes after commit instead.
type Service struct {
	db       txRunner
	repo     userStore
	producer eventProducer
	buffer   fastPublisher
	validate *validator.Validate
	logg     *logger.Logger
}

type ServiceParams struct {
	DB       txRunner
	Repo     userStore
	Producer eventProducer
	Buffer   fastPublisher
	Validate *validator.Validate
	Logger   *logger.Logger
}

func NewService(p ServiceParams) (*Service, error) {
	if p.DB == nil {
		return nil, errors.New("db is required")
	}
	if p.Repo == nil {
		return nil, errors.New("repo is required")
	}
	if p.Producer == nil {
		return nil, errors.New("producer is required")
	}
	validate := p.Validate
	if validate == nil {
		validate = validator.New()
	}
	return &Service{
		db:       p.DB,
		repo:     p.Repo,
		producer: p.Producer,
		buffer:   p.Buffer,
		validate: validate,
		logg:     p.Logger,
	}, nil
}

// Register creates the user if the email is new and returns the stored
// account either way. The bool reports whether a new account (and event)
// was created.
func (s *Service) Register(ctx context.Context, input CreateUserInput) (UserDTO, bool, error) {
	if err := s.validate.Struct(input); err != nil {
		return UserDTO{}, false, errors.Join(ErrInvalidInput, err)
	}
	email := strings.ToLower(strings.TrimSpace(input.Email))

	var user *models.User
	created := false
	err := s.db.WithTx(ctx, func(tx *gorm.DB) error {
		existing, err := s.repo.FindByEmailTx(ctx, tx, email)
		if err == nil {
			user = existing
			return nil
		}
		if !errors.Is(err, ErrNotFound) {
			return err
		}

		candidate := &models.User{
			Email:     email,
			FirstName: strings.TrimSpace(input.FirstName),
			LastName:  strings.TrimSpace(input.LastName),
		}
		if err := s.repo.CreateTx(tx, candidate); err != nil {
			if dbpkg.IsUniqueViolation(err, emailConstraint) {
				// Lost a registration race; the other transaction owns the
				// event.
				existing, findErr := s.repo.FindByEmailTx(ctx, tx, email)
				if findErr != nil {
					return findErr
				}
				user = existing
				return nil
			}
			return err
		}
		user = candidate
		created = true

		if s.buffer != nil {
			// Buffered fast path publishes after commit, see below.
			return nil
		}
		return s.producer.Enqueue(ctx, tx, UserCreated{
			UserID:    candidate.ID,
			Email:     candidate.Email,
			FirstName: candidate.FirstName,
			LastName:  candidate.LastName,
			CreatedAt: candidate.CreatedAt,
		})
	})
	if err != nil {
		return UserDTO{}, false, err
	}

	if created && s.buffer != nil {
		event := UserCreated{
			UserID:    user.ID,
			Email:     user.Email,
			FirstName: user.FirstName,
			LastName:  user.LastName,
			CreatedAt: user.CreatedAt,
		}
		if err := s.buffer.Publish(ctx, event); err != nil && s.logg != nil {
			// The account committed; a lost fast-path event is logged, not
			// surfaced to the caller.
			s.logg.Error(ctx, "buffered user_created publish failed", err)
		}
	}

	return ToDTO(user), created, nil
}

// Get loads a user by id.
func (s *Service) Get(ctx context.Context, id uuid.UUID) (UserDTO, error) {
	user, err := s.repo.FindByID(ctx, id)
	if err != nil {
		return UserDTO{}, err
	}
	return ToDTO(user), nil
}
