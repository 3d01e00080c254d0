package ontology

import (
	"context"
	"time"

	"gorm.io/datatypes"
	"gorm.io/gorm"
)

const insertBatchSize = 500

type Term struct {
	ID          uint                        `gorm:"primaryKey" json:"id"`
	URL         string                      `gorm:"column:url;size:512;uniqueIndex:idx_ontology_terms_type_url" json:"url"`
	Label       string                      `gorm:"column:label" json:"label"`
	Type        string                      `gorm:"column:type;size:32;uniqueIndex:idx_ontology_terms_type_url" json:"type"`
	Synonyms    datatypes.JSONSlice[string] `gorm:"column:synonyms" json:"synonyms"`
	Description string                      `gorm:"column:description" json:"description,omitempty"`
	CreatedAt   time.Time                   `json:"createdAt"`
}

func (Term) TableName() string { return "ontology_terms" }

type Repository struct {
	db *gorm.DB
}

func NewRepository(db *gorm.DB) *Repository {
	return &Repository{db: db}
}

func (r *Repository) AutoMigrate() error {
	return r.db.AutoMigrate(&Term{})
}

func (r *Repository) ListByType(ctx context.Context, termType string) ([]Term, error) {
	var terms []Term
	err := r.db.WithContext(ctx).
		Where("type = ?", termType).
		Order("label ASC").
		Find(&terms).Error
	return terms, err
}

func (r *Repository) CountByType(ctx context.Context, termType string) (int64, error) {
	var n int64
	err := r.db.WithContext(ctx).Model(&Term{}).Where("type = ?", termType).Count(&n).Error
	return n, err
}

// ReplaceType swaps every term of termType for terms in one transaction.
func (r *Repository) ReplaceType(ctx context.Context, termType string, terms []Term) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("type = ?", termType).Delete(&Term{}).Error; err != nil {
			return err
		}
		if len(terms) == 0 {
			return nil
		}
		return tx.CreateInBatches(terms, insertBatchSize).Error
	})
}
