package store

import (
	"context"
	"errors"
	"fmt"

	"github.com/cfoust/strata/pkg/utils"

	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

type Entity struct {
	ID uint `gorm:"primaryKey"`
}

type Record struct {
	Entity

	// Every record is assigned a unique reference
	UUID   string `gorm:"unique;size:64"`
	Parent string `gorm:"index;size:64"`
	Kind   string `gorm:"size:32"`

	Attributes map[string]any `gorm:"serializer:json;type:text"`
}

// SQLStore persists records in a SQL database through gorm. Every write runs
// in its own transaction.
type SQLStore struct {
	db *gorm.DB
}

func InitDB(path string) (*gorm.DB, error) {
	return gorm.Open(sqlite.Open(path), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
}

func NewSQLStore(db *gorm.DB) *SQLStore {
	return &SQLStore{db: db}
}

// Migrate brings the schema up to date.
func (s *SQLStore) Migrate() error {
	return s.db.AutoMigrate(&Record{})
}

func (s *SQLStore) find(tx *gorm.DB, ref Ref) (*Record, error) {
	var record Record
	err := tx.Where(Record{UUID: string(ref)}).First(&record).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, fmt.Errorf("%w: %s", ErrMissing, ref)
	}
	if err != nil {
		return nil, err
	}

	if record.Attributes == nil {
		record.Attributes = make(map[string]any)
	}
	return &record, nil
}

func (s *SQLStore) Get(ctx context.Context, ref Ref, key string) (any, error) {
	record, err := s.find(s.db.WithContext(ctx), ref)
	if err != nil {
		return nil, err
	}

	return record.Attributes[key], nil
}

func (s *SQLStore) Set(ctx context.Context, ref Ref, key string, value any) error {
	normalized, err := Normalize(value)
	if err != nil {
		return err
	}

	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		record, err := s.find(tx, ref)
		if err != nil {
			return err
		}

		record.Attributes[key] = normalized
		return tx.Save(record).Error
	})
}

func (s *SQLStore) build(parent Ref, records []Snapshot) ([]Ref, []Record, error) {
	refs := make([]Ref, 0, len(records))
	rows := make([]Record, 0, len(records))

	for _, record := range records {
		attributes, err := normalizeAttributes(record.Attributes)
		if err != nil {
			return nil, nil, err
		}

		ref := record.ID
		if ref == "" {
			id, err := utils.NewID()
			if err != nil {
				return nil, nil, err
			}
			ref = Ref(id)
		}

		refs = append(refs, ref)
		rows = append(rows, Record{
			UUID:       string(ref),
			Parent:     string(parent),
			Kind:       record.Kind,
			Attributes: attributes,
		})
	}

	return refs, rows, nil
}

func (s *SQLStore) CreateMany(ctx context.Context, parent Ref, records []Snapshot) ([]Ref, error) {
	refs, rows, err := s.build(parent, records)
	if err != nil {
		return nil, err
	}

	if len(rows) == 0 {
		return refs, nil
	}

	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return tx.Create(&rows).Error
	})
	if err != nil {
		return nil, err
	}

	return refs, nil
}

func (s *SQLStore) List(ctx context.Context, parent Ref) ([]Ref, error) {
	var uuids []string
	err := s.db.WithContext(ctx).
		Model(&Record{}).
		Where("parent = ?", string(parent)).
		Order("id").
		Pluck("uuid", &uuids).Error
	if err != nil {
		return nil, err
	}

	refs := make([]Ref, len(uuids))
	for i, uuid := range uuids {
		refs[i] = Ref(uuid)
	}
	return refs, nil
}

func (s *SQLStore) Delete(ctx context.Context, refs ...Ref) error {
	if len(refs) == 0 {
		return nil
	}

	uuids := make([]string, len(refs))
	for i, ref := range refs {
		uuids[i] = string(ref)
	}

	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		result := tx.Where("uuid IN ?", uuids).Delete(&Record{})
		if result.Error != nil {
			return result.Error
		}

		if result.RowsAffected != int64(len(uuids)) {
			return fmt.Errorf("%w: deleted %d of %d", ErrMissing, result.RowsAffected, len(uuids))
		}
		return nil
	})
}

func (s *SQLStore) ToPortable(ctx context.Context, ref Ref) (Snapshot, error) {
	record, err := s.find(s.db.WithContext(ctx), ref)
	if err != nil {
		return Snapshot{}, err
	}

	return Snapshot{
		Kind:       record.Kind,
		Attributes: record.Attributes,
	}, nil
}

func (s *SQLStore) FromPortable(ctx context.Context, parent Ref, record Snapshot) (Ref, error) {
	refs, err := s.CreateMany(ctx, parent, []Snapshot{record})
	if err != nil {
		return "", err
	}
	return refs[0], nil
}

// Replace deletes every record under parent and creates records in a single
// transaction.
func (s *SQLStore) Replace(ctx context.Context, parent Ref, records []Snapshot) ([]Ref, error) {
	refs, rows, err := s.build(parent, records)
	if err != nil {
		return nil, err
	}

	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		err := tx.Where("parent = ?", string(parent)).Delete(&Record{}).Error
		if err != nil {
			return err
		}

		if len(rows) == 0 {
			return nil
		}
		return tx.Create(&rows).Error
	})
	if err != nil {
		return nil, err
	}

	return refs, nil
}

var _ Store = (*SQLStore)(nil)
var _ Replacer = (*SQLStore)(nil)
