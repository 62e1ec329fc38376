package repository

import (
	"context"
	"errors"

	"github.com/lektoria/auth-service/internal/domain"
	"github.com/lektoria/auth-service/internal/observability"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

var ErrSessionNotFound = errors.New("session not found")

type SessionRepository interface {
	WithTx(tx *gorm.DB) SessionRepository
	Create(s *domain.Session) error
	FindBySID(sid string) (*domain.Session, error)
	// FindBySIDForUpdate locks the session row for the duration of the
	// surrounding transaction. Concurrent authorizations serialize here.
	FindBySIDForUpdate(sid string) (*domain.Session, error)
	FindAllByUserID(userID string) ([]domain.Session, error)
	UpdateFields(sid string, fields map[string]any) error
	Delete(sid string) (bool, error)
	DeleteAllForUser(userID string) (int64, error)
}

type GormSessionRepository struct{ db *gorm.DB }

func NewSessionRepository(db *gorm.DB) SessionRepository { return &GormSessionRepository{db: db} }

func (r *GormSessionRepository) WithTx(tx *gorm.DB) SessionRepository {
	return &GormSessionRepository{db: tx}
}

func (r *GormSessionRepository) Create(s *domain.Session) error {
	err := r.db.Create(s).Error
	if err != nil {
		observability.RecordRepositoryOperation(context.Background(), "session", "create", "error")
		return err
	}
	observability.RecordRepositoryOperation(context.Background(), "session", "create", "success")
	return nil
}

func (r *GormSessionRepository) FindBySID(sid string) (*domain.Session, error) {
	return r.findBySID(sid, false)
}

func (r *GormSessionRepository) FindBySIDForUpdate(sid string) (*domain.Session, error) {
	return r.findBySID(sid, true)
}

func (r *GormSessionRepository) findBySID(sid string, forUpdate bool) (*domain.Session, error) {
	q := r.db
	// sqlite has no FOR UPDATE; its writes serialize on the file lock anyway
	if forUpdate && r.db.Dialector.Name() == "postgres" {
		q = q.Clauses(clause.Locking{Strength: "UPDATE"})
	}
	var s domain.Session
	err := q.Where("sid = ?", sid).First(&s).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			observability.RecordRepositoryOperation(context.Background(), "session", "find_by_sid", "not_found")
			return nil, ErrSessionNotFound
		}
		observability.RecordRepositoryOperation(context.Background(), "session", "find_by_sid", "error")
		return nil, err
	}
	observability.RecordRepositoryOperation(context.Background(), "session", "find_by_sid", "success")
	return &s, nil
}

func (r *GormSessionRepository) FindAllByUserID(userID string) ([]domain.Session, error) {
	var sessions []domain.Session
	err := r.db.Where("user_id = ?", userID).Order("created_at DESC").Find(&sessions).Error
	if err != nil {
		observability.RecordRepositoryOperation(context.Background(), "session", "find_all_by_user_id", "error")
		return sessions, err
	}
	observability.RecordRepositoryOperation(context.Background(), "session", "find_all_by_user_id", "success")
	return sessions, nil
}

func (r *GormSessionRepository) UpdateFields(sid string, fields map[string]any) error {
	err := r.db.Model(&domain.Session{}).Where("sid = ?", sid).Updates(fields).Error
	if err != nil {
		observability.RecordRepositoryOperation(context.Background(), "session", "update_fields", "error")
		return err
	}
	observability.RecordRepositoryOperation(context.Background(), "session", "update_fields", "success")
	return nil
}

func (r *GormSessionRepository) Delete(sid string) (bool, error) {
	res := r.db.Where("sid = ?", sid).Delete(&domain.Session{})
	if res.Error != nil {
		observability.RecordRepositoryOperation(context.Background(), "session", "delete", "error")
		return false, res.Error
	}
	observability.RecordRepositoryOperation(context.Background(), "session", "delete", "success")
	return res.RowsAffected > 0, nil
}

func (r *GormSessionRepository) DeleteAllForUser(userID string) (int64, error) {
	res := r.db.Where("user_id = ?", userID).Delete(&domain.Session{})
	if res.Error != nil {
		observability.RecordRepositoryOperation(context.Background(), "session", "delete_all_for_user", "error")
		return 0, res.Error
	}
	observability.RecordRepositoryOperation(context.Background(), "session", "delete_all_for_user", "success")
	return res.RowsAffected, nil
}
