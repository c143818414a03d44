package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"gorm.io/datatypes"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	"mentorhub/pkg/domain"
)

// SnapshotModel is the GORM row for a persisted session.
type SnapshotModel struct {
	Key          string `gorm:"column:storage_key;primaryKey"`
	AccessToken  string `gorm:"not null"`
	RefreshToken string
	User         datatypes.JSON `gorm:"column:user_json"`
	UpdatedAt    time.Time      `gorm:"not null;index"`
}

func (SnapshotModel) TableName() string { return "session_snapshots" }

// GormPersister implements Persister using GORM + Postgres.
type GormPersister struct {
	db *gorm.DB
}

// NewGormPersister opens the DB and runs auto-migrations.
func NewGormPersister(dsn string) (*GormPersister, error) {
	db, err := gorm.Open(postgres.Open(dsn), &gorm.Config{})
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}
	return NewGormPersisterWithDB(db)
}

// NewGormPersisterWithDB migrates and wraps an already opened handle.
func NewGormPersisterWithDB(db *gorm.DB) (*GormPersister, error) {
	if err := db.AutoMigrate(&SnapshotModel{}); err != nil {
		return nil, fmt.Errorf("auto migrate: %w", err)
	}
	return &GormPersister{db: db}, nil
}

func (g *GormPersister) Load(ctx context.Context, key string) (domain.Session, bool, error) {
	var model SnapshotModel
	if err := g.db.WithContext(ctx).First(&model, "storage_key = ?", key).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return domain.Session{}, false, nil
		}
		return domain.Session{}, false, err
	}
	snap, err := snapshotFromModel(model)
	if err != nil {
		return domain.Session{}, false, err
	}
	return snap, true, nil
}

func (g *GormPersister) Save(ctx context.Context, key string, snap domain.Session) error {
	model, err := snapshotToModel(key, snap, time.Now().UTC())
	if err != nil {
		return err
	}
	return g.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "storage_key"}},
		DoUpdates: clause.AssignmentColumns([]string{"access_token", "refresh_token", "user_json", "updated_at"}),
	}).Create(&model).Error
}

func (g *GormPersister) Delete(ctx context.Context, key string) error {
	return g.db.WithContext(ctx).Delete(&SnapshotModel{}, "storage_key = ?", key).Error
}

func snapshotToModel(key string, snap domain.Session, now time.Time) (SnapshotModel, error) {
	model := SnapshotModel{
		Key:          key,
		AccessToken:  snap.AccessToken,
		RefreshToken: snap.RefreshToken,
		UpdatedAt:    now,
	}
	if snap.User != nil {
		data, err := json.Marshal(snap.User)
		if err != nil {
			return SnapshotModel{}, fmt.Errorf("encode snapshot user: %w", err)
		}
		model.User = datatypes.JSON(data)
	}
	return model, nil
}

func snapshotFromModel(m SnapshotModel) (domain.Session, error) {
	snap := domain.Session{AccessToken: m.AccessToken, RefreshToken: m.RefreshToken}
	if len(m.User) == 0 || string(m.User) == "null" {
		return snap, nil
	}
	var user domain.User
	if err := json.Unmarshal(m.User, &user); err != nil {
		return domain.Session{}, fmt.Errorf("decode snapshot user: %w", err)
	}
	snap.User = &user
	return snap, nil
}
