package curation

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/synaptica-ai/curator/pkg/mapping"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

const insertBatchSize = 500

type Repository struct {
	db *gorm.DB
}

func NewRepository(db *gorm.DB) *Repository {
	return &Repository{db: db}
}

type recordModel struct {
	EntityID        int64          `gorm:"primaryKey;autoIncrement:false;column:entity_id"`
	MappingKey      string         `gorm:"column:mapping_key;size:64;uniqueIndex"`
	EntityType      string         `gorm:"column:entity_type;index"`
	Labels          datatypes.JSON `gorm:"column:mapping_labels"`
	Values          datatypes.JSON `gorm:"column:mapping_values"`
	MappedTermLabel string         `gorm:"column:mapped_term_label"`
	MappedTermURL   string         `gorm:"column:mapped_term_url"`
	MapType         string         `gorm:"column:map_type"`
	Justification   string         `gorm:"column:justification"`
	Status          string         `gorm:"column:status;index"`
	CreatedAt       time.Time      `gorm:"column:created_at;autoCreateTime:false"`
	UpdatedAt       time.Time      `gorm:"column:updated_at;autoUpdateTime:false"`
}

func (recordModel) TableName() string { return "mapping_records" }

func (r *Repository) AutoMigrate() error {
	return r.db.AutoMigrate(&recordModel{})
}

// List returns every stored record ordered by entity id.
func (r *Repository) List(ctx context.Context) ([]*mapping.Record, error) {
	var rows []recordModel
	if err := r.db.WithContext(ctx).Order("entity_id ASC").Find(&rows).Error; err != nil {
		return nil, err
	}
	records := make([]*mapping.Record, 0, len(rows))
	for i := range rows {
		rec, err := rows[i].toRecord()
		if err != nil {
			return nil, err
		}
		records = append(records, rec)
	}
	return records, nil
}

func (r *Repository) Get(ctx context.Context, entityID int64) (*mapping.Record, error) {
	var row recordModel
	if err := r.db.WithContext(ctx).First(&row, "entity_id = ?", entityID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return row.toRecord()
}

func (r *Repository) Create(ctx context.Context, rec *mapping.Record) error {
	row, err := newRecordModel(rec)
	if err != nil {
		return err
	}
	return r.db.WithContext(ctx).Create(row).Error
}

// SaveAll updates the curator-editable columns of existing rows in one
// transaction.
func (r *Repository) SaveAll(ctx context.Context, records []*mapping.Record) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		for _, rec := range records {
			res := tx.Model(&recordModel{}).Where("entity_id = ?", rec.EntityID).Updates(map[string]interface{}{
				"mapped_term_label": rec.MappedTermLabel,
				"mapped_term_url":   rec.MappedTermURL,
				"map_type":          rec.MapMethod,
				"justification":     rec.Justification,
				"status":            string(rec.Status),
				"updated_at":        rec.UpdatedAt,
			})
			if res.Error != nil {
				return res.Error
			}
			if res.RowsAffected == 0 {
				return fmt.Errorf("%w: entity %d", ErrNotFound, rec.EntityID)
			}
		}
		return nil
	})
}

// ReplaceAll deletes every row and inserts records in a single transaction,
// so readers of the table never see it half rebuilt.
func (r *Repository) ReplaceAll(ctx context.Context, records []*mapping.Record) error {
	rows := make([]*recordModel, 0, len(records))
	for _, rec := range records {
		row, err := newRecordModel(rec)
		if err != nil {
			return err
		}
		rows = append(rows, row)
	}

	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Session(&gorm.Session{AllowGlobalUpdate: true}).Delete(&recordModel{}).Error; err != nil {
			return err
		}
		if len(rows) == 0 {
			return nil
		}
		return tx.CreateInBatches(rows, insertBatchSize).Error
	})
}

func (r *Repository) Delete(ctx context.Context, entityIDs []int64) (int64, error) {
	if len(entityIDs) == 0 {
		return 0, nil
	}
	res := r.db.WithContext(ctx).Where("entity_id IN ?", entityIDs).Delete(&recordModel{})
	return res.RowsAffected, res.Error
}

func newRecordModel(rec *mapping.Record) (*recordModel, error) {
	labels, err := json.Marshal(rec.Labels)
	if err != nil {
		return nil, fmt.Errorf("failed to encode labels: %w", err)
	}
	values, err := json.Marshal(rec.Values)
	if err != nil {
		return nil, fmt.Errorf("failed to encode values: %w", err)
	}
	return &recordModel{
		EntityID:        rec.EntityID,
		MappingKey:      rec.Key,
		EntityType:      string(rec.Type),
		Labels:          datatypes.JSON(labels),
		Values:          datatypes.JSON(values),
		MappedTermLabel: rec.MappedTermLabel,
		MappedTermURL:   rec.MappedTermURL,
		MapType:         rec.MapMethod,
		Justification:   rec.Justification,
		Status:          string(rec.Status),
		CreatedAt:       rec.CreatedAt,
		UpdatedAt:       rec.UpdatedAt,
	}, nil
}

func (m *recordModel) toRecord() (*mapping.Record, error) {
	rec := &mapping.Record{
		EntityID:        m.EntityID,
		Type:            mapping.RecordType(m.EntityType),
		MappedTermLabel: m.MappedTermLabel,
		MappedTermURL:   m.MappedTermURL,
		MapMethod:       m.MapType,
		Justification:   m.Justification,
		Status:          mapping.Status(m.Status),
		Key:             m.MappingKey,
		CreatedAt:       m.CreatedAt,
		UpdatedAt:       m.UpdatedAt,
	}
	if len(m.Labels) > 0 {
		if err := json.Unmarshal(m.Labels, &rec.Labels); err != nil {
			return nil, fmt.Errorf("entity %d: failed to decode labels: %w", m.EntityID, err)
		}
	}
	rec.Values = map[string]string{}
	if len(m.Values) > 0 {
		if err := json.Unmarshal(m.Values, &rec.Values); err != nil {
			return nil, fmt.Errorf("entity %d: failed to decode values: %w", m.EntityID, err)
		}
	}
	return rec, nil
}
