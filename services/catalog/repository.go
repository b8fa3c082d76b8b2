package catalog

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"gorm.io/datatypes"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

const activeCatalogID = "active"

// CatalogRecord stores the catalog document as a JSON blob.
type CatalogRecord struct {
	ID        string         `gorm:"column:id;primaryKey"`
	Document  datatypes.JSON `gorm:"column:document;not null"`
	UpdatedAt time.Time      `gorm:"column:updated_at;autoUpdateTime"`
}

func (CatalogRecord) TableName() string {
	return "loyalty_catalogs"
}

// GormSource loads the catalog from the loyalty_catalogs table. When the table
// is empty it is seeded from fallback.
type GormSource struct {
	db       *gorm.DB
	fallback Document
}

func NewGormSource(db *gorm.DB, fallback Document) *GormSource {
	return &GormSource{db: db, fallback: fallback}
}

func (s *GormSource) Load(ctx context.Context) (*Catalog, error) {
	var rec CatalogRecord
	err := s.db.WithContext(ctx).Where("id = ?", activeCatalogID).First(&rec).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		if err := s.Save(ctx, s.fallback); err != nil {
			return nil, err
		}
		return New(s.fallback)
	}
	if err != nil {
		return nil, fmt.Errorf("load catalog: %w", err)
	}

	var doc Document
	if err := json.Unmarshal(rec.Document, &doc); err != nil {
		return nil, fmt.Errorf("decode catalog: %w", err)
	}
	return New(doc)
}

// Save validates doc and replaces the active catalog.
func (s *GormSource) Save(ctx context.Context, doc Document) error {
	if err := Validate(doc); err != nil {
		return err
	}

	b, err := json.Marshal(doc)
	if err != nil {
		return err
	}

	return s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "id"}},
		DoUpdates: clause.AssignmentColumns([]string{"document", "updated_at"}),
	}).Create(&CatalogRecord{ID: activeCatalogID, Document: datatypes.JSON(b), UpdatedAt: time.Now()}).Error
}
