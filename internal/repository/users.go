package repository

import (
	"context"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// UserRepository is the global user registry, used for stats and broadcasts.
type UserRepository struct {
	db *gorm.DB
}

func NewUserRepository(db *gorm.DB) *UserRepository {
	return &UserRepository{db: db}
}

// Add registers a user; repeats are no-ops.
func (r *UserRepository) Add(ctx context.Context, userID int64) error {
	return r.db.WithContext(ctx).
		Clauses(clause.OnConflict{DoNothing: true}).
		Create(&BotUser{UserID: userID}).Error
}

// Remove deletes a user from the registry.
func (r *UserRepository) Remove(ctx context.Context, userID int64) error {
	return r.db.WithContext(ctx).Delete(&BotUser{}, "user_id = ?", userID).Error
}

// Exists reports whether the user is registered.
func (r *UserRepository) Exists(ctx context.Context, userID int64) (bool, error) {
	var count int64
	err := r.db.WithContext(ctx).Model(&BotUser{}).
		Where("user_id = ?", userID).Count(&count).Error
	return count > 0, err
}

// All lists every registered user id.
func (r *UserRepository) All(ctx context.Context) ([]int64, error) {
	var ids []int64
	err := r.db.WithContext(ctx).Model(&BotUser{}).Pluck("user_id", &ids).Error
	return ids, err
}
