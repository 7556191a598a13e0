package repository

import (
	"context"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"med-reminder/internal/model"
)

// UserRepository handles CRUD for users.
type UserRepository struct {
	db *gorm.DB
}

func NewUserRepository(db *gorm.DB) *UserRepository {
	return &UserRepository{db: db}
}

// UpsertFromTelegram finds or creates a user based on TelegramID and updates basic profile info.
func (r *UserRepository) UpsertFromTelegram(ctx context.Context, telegramID int64, firstName, lastName, username string) (*model.User, error) {
	var user model.User
	db := r.db.WithContext(ctx)
	err := db.Where("telegram_id = ?", telegramID).First(&user).Error
	switch {
	case err == nil:
		updates := map[string]interface{}{
			"first_name": firstName,
			"last_name":  lastName,
			"username":   username,
		}
		if err := db.Model(&user).Updates(updates).Error; err != nil {
			return nil, wrap("update user", err)
		}
		return &user, nil
	case err == gorm.ErrRecordNotFound:
		user = model.User{
			TelegramID: telegramID,
			FirstName:  firstName,
			LastName:   lastName,
			Username:   username,
		}
		if err := db.Create(&user).Error; err != nil {
			return nil, wrap("create user", err)
		}
		return &user, nil
	default:
		return nil, wrap("find user", err)
	}
}

func (r *UserRepository) FindByID(ctx context.Context, id uuid.UUID) (*model.User, error) {
	var user model.User
	if err := r.db.WithContext(ctx).First(&user, "id = ?", id).Error; err != nil {
		return nil, wrap("find user", err)
	}
	return &user, nil
}

func (r *UserRepository) SetTimezone(ctx context.Context, id uuid.UUID, tz string) error {
	res := r.db.WithContext(ctx).Model(&model.User{}).Where("id = ?", id).Update("timezone", tz)
	if res.Error != nil {
		return wrap("set timezone", res.Error)
	}
	if res.RowsAffected == 0 {
		return wrap("set timezone", gorm.ErrRecordNotFound)
	}
	return nil
}
