package repository

import (
	"context"
	"errors"
	"fmt"

	"github.com/Monthlyaway/short-it/internal/model"
	"github.com/Monthlyaway/short-it/internal/utils"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// ErrDuplicate is returned when an insert violates the key or secret_key unique index
var ErrDuplicate = errors.New("duplicate key")

// URLRepository handles database operations for short links and their clicks
type URLRepository struct {
	db  *gorm.DB
	ids *utils.IDGenerator
}

// NewURLRepository creates a new URL repository instance
func NewURLRepository(db *gorm.DB, ids *utils.IDGenerator) *URLRepository {
	return &URLRepository{db: db, ids: ids}
}

// Insert stores a new short link
func (r *URLRepository) Insert(ctx context.Context, url *model.URL) error {
	if err := r.db.WithContext(ctx).Omit("ClickEvents").Create(url).Error; err != nil {
		if errors.Is(err, gorm.ErrDuplicatedKey) {
			return fmt.Errorf("failed to create URL %q: %w", url.Key, ErrDuplicate)
		}
		return fmt.Errorf("failed to create URL: %w", err)
	}
	return nil
}

// FindByKey retrieves the active URL with the given short key
func (r *URLRepository) FindByKey(ctx context.Context, key string) (*model.URL, error) {
	if key == "" {
		return nil, nil
	}
	var url model.URL
	err := r.db.WithContext(ctx).
		Where(&model.URL{Key: key, IsActive: true}).
		First(&url).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get URL by key: %w", err)
	}
	return &url, nil
}

// FindBySecret retrieves the active URL with the given secret key, click history included
func (r *URLRepository) FindBySecret(ctx context.Context, secret string) (*model.URL, error) {
	if secret == "" {
		return nil, nil
	}
	var url model.URL
	err := r.db.WithContext(ctx).
		Preload("ClickEvents", func(db *gorm.DB) *gorm.DB {
			return db.Order(clause.OrderByColumn{Column: clause.Column{Name: "timestamp"}}).
				Order(clause.OrderByColumn{Column: clause.Column{Name: "id"}})
		}).
		Where(&model.URL{SecretKey: secret, IsActive: true}).
		First(&url).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get URL by secret: %w", err)
	}
	return &url, nil
}

// KeyExists reports whether any URL, active or not, holds the key
func (r *URLRepository) KeyExists(ctx context.Context, key string) (bool, error) {
	if key == "" {
		return false, nil
	}
	var count int64
	if err := r.db.WithContext(ctx).Model(&model.URL{}).
		Where(&model.URL{Key: key}).
		Count(&count).Error; err != nil {
		return false, fmt.Errorf("failed to check key: %w", err)
	}
	return count > 0, nil
}

// IncrementClicksAndLog bumps the click counter of the active URL and appends the click
// in one transaction. It reports false when no active URL has the key.
func (r *URLRepository) IncrementClicksAndLog(ctx context.Context, key string, click *model.Click) (bool, error) {
	if key == "" {
		return false, nil
	}
	found := false
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		res := tx.Model(&model.URL{}).
			Where(&model.URL{Key: key, IsActive: true}).
			UpdateColumn("clicks", gorm.Expr("clicks + ?", 1))
		if res.Error != nil {
			return fmt.Errorf("failed to increment clicks: %w", res.Error)
		}
		if res.RowsAffected == 0 {
			return nil
		}

		click.URLKey = key
		if click.ID == 0 {
			click.ID = r.ids.Next()
		}
		if err := tx.Create(click).Error; err != nil {
			return fmt.Errorf("failed to create click: %w", err)
		}
		found = true
		return nil
	})
	if err != nil {
		return false, err
	}
	return found, nil
}

// Deactivate marks the active URL with the given secret key inactive
func (r *URLRepository) Deactivate(ctx context.Context, secret string) (*model.URL, error) {
	if secret == "" {
		return nil, nil
	}
	var url model.URL
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Where(&model.URL{SecretKey: secret, IsActive: true}).First(&url).Error; err != nil {
			return err
		}
		res := tx.Model(&model.URL{}).
			Where("id = ? AND is_active = ?", url.ID, true).
			UpdateColumn("is_active", false)
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return gorm.ErrRecordNotFound
		}
		url.IsActive = false
		return nil
	})
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to deactivate URL: %w", err)
	}
	return &url, nil
}

// ListKeys retrieves the keys of all active URLs
func (r *URLRepository) ListKeys(ctx context.Context) ([]string, error) {
	var keys []string
	if err := r.db.WithContext(ctx).Model(&model.URL{}).
		Where(&model.URL{IsActive: true}).
		Pluck("key", &keys).Error; err != nil {
		return nil, fmt.Errorf("failed to list keys: %w", err)
	}
	return keys, nil
}
