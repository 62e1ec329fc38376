package repository

import (
	"context"
	"errors"
	"time"

	"github.com/lektoria/auth-service/internal/domain"
	"github.com/lektoria/auth-service/internal/observability"

	"gorm.io/gorm"
)

var ErrTokenNotFound = errors.New("token not found")

type TokenRepository interface {
	WithTx(tx *gorm.DB) TokenRepository
	Create(t *domain.Token) error
	// FindByPayload resolves the token row a presented email-link value
	// belongs to, regardless of expiry; expiry is the dispatcher's call.
	FindByPayload(typ domain.TokenType, payload string) (*domain.Token, error)
	// LatestPending returns the newest unexpired token of the given type
	// owned by the session.
	LatestPending(sessionID string, typ domain.TokenType, now time.Time) (*domain.Token, error)
	// ExpirePending force-expires any pending token of the given type so no
	// two of the same type are pending at once.
	ExpirePending(sessionID string, typ domain.TokenType, now time.Time) error
	// ExpireAllForSession force-expires every token the session owns. This is
	// the replay barrier after authorization or denial.
	ExpireAllForSession(sessionID string, now time.Time) error
}

type GormTokenRepository struct{ db *gorm.DB }

func NewTokenRepository(db *gorm.DB) TokenRepository { return &GormTokenRepository{db: db} }

func (r *GormTokenRepository) WithTx(tx *gorm.DB) TokenRepository {
	return &GormTokenRepository{db: tx}
}

func (r *GormTokenRepository) Create(t *domain.Token) error {
	err := r.db.Create(t).Error
	if err != nil {
		observability.RecordRepositoryOperation(context.Background(), "token", "create", "error")
		return err
	}
	observability.RecordRepositoryOperation(context.Background(), "token", "create", "success")
	return nil
}

func (r *GormTokenRepository) FindByPayload(typ domain.TokenType, payload string) (*domain.Token, error) {
	var t domain.Token
	err := r.db.Where("type = ? AND payload = ?", typ, payload).Order("created_at DESC").First(&t).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			observability.RecordRepositoryOperation(context.Background(), "token", "find_by_payload", "not_found")
			return nil, ErrTokenNotFound
		}
		observability.RecordRepositoryOperation(context.Background(), "token", "find_by_payload", "error")
		return nil, err
	}
	observability.RecordRepositoryOperation(context.Background(), "token", "find_by_payload", "success")
	return &t, nil
}

func (r *GormTokenRepository) LatestPending(sessionID string, typ domain.TokenType, now time.Time) (*domain.Token, error) {
	var t domain.Token
	err := r.db.Where("session_id = ? AND type = ? AND expires_at > ?", sessionID, typ, now).
		Order("created_at DESC").
		First(&t).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			observability.RecordRepositoryOperation(context.Background(), "token", "latest_pending", "not_found")
			return nil, ErrTokenNotFound
		}
		observability.RecordRepositoryOperation(context.Background(), "token", "latest_pending", "error")
		return nil, err
	}
	observability.RecordRepositoryOperation(context.Background(), "token", "latest_pending", "success")
	return &t, nil
}

func (r *GormTokenRepository) ExpirePending(sessionID string, typ domain.TokenType, now time.Time) error {
	err := r.db.Model(&domain.Token{}).
		Where("session_id = ? AND type = ? AND expires_at > ?", sessionID, typ, now).
		Updates(map[string]any{"updated_at": now, "expires_at": now}).Error
	if err != nil {
		observability.RecordRepositoryOperation(context.Background(), "token", "expire_pending", "error")
		return err
	}
	observability.RecordRepositoryOperation(context.Background(), "token", "expire_pending", "success")
	return nil
}

func (r *GormTokenRepository) ExpireAllForSession(sessionID string, now time.Time) error {
	err := r.db.Model(&domain.Token{}).
		Where("session_id = ?", sessionID).
		Updates(map[string]any{"updated_at": now, "expires_at": now}).Error
	if err != nil {
		observability.RecordRepositoryOperation(context.Background(), "token", "expire_all_for_session", "error")
		return err
	}
	observability.RecordRepositoryOperation(context.Background(), "token", "expire_all_for_session", "success")
	return nil
}
