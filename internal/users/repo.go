package users

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/openfield/eventlog-pipeline/internal/repo"
	"github.com/openfield/eventlog-pipeline/pkg/db/models"
)

// ErrNotFound is returned when no user matches the lookup.
var ErrNotFound = errors.New("user not found")

// Repository exposes user persistence operations.
type Repository struct {
	repo.Base
}

// NewRepository constructs a users repo bound to the provided GORM DB.
func NewRepository(db *gorm.DB) *Repository {
	return &Repository{Base: repo.NewBase(db)}
}

// CreateTx inserts a new user inside the caller's transaction.
func (r *Repository) CreateTx(tx *gorm.DB, user *models.User) error {
	if tx == nil {
		return errors.New("transaction required")
	}
	return tx.Create(user).Error
}

// FindByEmailTx retrieves the user matching the email, reading through the
// transaction when one is supplied.
func (r *Repository) FindByEmailTx(ctx context.Context, tx *gorm.DB, email string) (*models.User, error) {
	var user models.User
	err := r.Tx(ctx, tx).Where("email = ?", email).First(&user).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return &user, nil
}

// FindByID loads a user by their UUID.
func (r *Repository) FindByID(ctx context.Context, id uuid.UUID) (*models.User, error) {
	var user models.User
	err := r.DB(ctx).First(&user, "id = ?", id).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return &user, nil
}
