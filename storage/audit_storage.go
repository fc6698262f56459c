package storage

import (
	"database/sql"
	"encoding/json"
	"time"

	"github.com/pkg/errors"
	"gorm.io/datatypes"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/vericert/vericert/storage/model"
)

// AuditStorage implements model.AuditStore using GORM.
//
// The ledger is append-only: no update or delete paths exist apart from the
// retention sweep, which only removes entries past their archive horizon.
type AuditStorage struct {
	db *gorm.DB
}

// appendRetries bounds how often a lost serialization race is retried.
const appendRetries = 5

// AppendChained inserts the entry returned by build, holding a serializable
// transaction across the head read and the insert so that no two entries can
// claim the same prev hash. Row locking alone is not enough: on an empty
// ledger there is no head row to lock, and under read-committed snapshots a
// waiter keeps seeing the head it locked even after a new entry committed.
// A racing append loses with a serialization failure and is retried against
// the new head.
func (s *AuditStorage) AppendChained(build func(prevHash *string) (*model.AuditEntry, error)) (
	*model.AuditEntry, error,
) {
	var entry *model.AuditEntry
	var err error
	for attempt := 0; attempt < appendRetries; attempt++ {
		err = s.db.Transaction(
			func(tx *gorm.DB) error {
				var head model.AuditEntry
				var prevHash *string
				err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
					Order("created_at DESC, id DESC").
					First(&head).Error
				switch {
				case err == nil:
					h := head.CurrHash
					prevHash = &h
				case errors.Is(err, gorm.ErrRecordNotFound):
					// A fully archived ledger is empty but not fresh: the
					// next entry continues from the archival checkpoint.
					if prevHash, err = readChainCheckpoint(tx); err != nil {
						return errors.Wrap(err, "audit: failed to read chain checkpoint")
					}
				default:
					return errors.Wrap(err, "audit: failed to read chain head")
				}

				entry, err = build(prevHash)
				if err != nil {
					return err
				}
				return errors.Wrap(tx.Create(entry).Error, "audit: failed to append entry")
			}, &sql.TxOptions{Isolation: sql.LevelSerializable},
		)
		if err == nil {
			return entry, nil
		}
		if !isSerializationError(err) {
			return nil, err
		}
	}
	return nil, errors.Wrap(err, "audit: append lost the serialization race repeatedly")
}

// FindAll returns entries matching the filter, newest first, plus the total
// match count.
func (s *AuditStorage) FindAll(filter model.AuditFilter) ([]model.AuditEntry, int64, error) {
	query := s.db.Model(&model.AuditEntry{})
	if filter.EventType != "" {
		query = query.Where("event_type = ?", filter.EventType)
	}
	if filter.EntityType != "" {
		query = query.Where("entity_type = ?", filter.EntityType)
	}
	if filter.EntityID != "" {
		query = query.Where("entity_id = ?", filter.EntityID)
	}
	if filter.ActorID != "" {
		query = query.Where("actor_id = ?", filter.ActorID)
	}
	if filter.Action != "" {
		query = query.Where("action = ?", filter.Action)
	}
	if filter.From != nil {
		query = query.Where("created_at >= ?", *filter.From)
	}
	if filter.To != nil {
		query = query.Where("created_at <= ?", *filter.To)
	}

	var total int64
	if err := query.Count(&total).Error; err != nil {
		return nil, 0, errors.Wrap(err, "audit: count failed")
	}

	if filter.Limit > 0 {
		query = query.Limit(filter.Limit)
	}
	if filter.Offset > 0 {
		query = query.Offset(filter.Offset)
	}
	var entries []model.AuditEntry
	if err := query.Order("created_at DESC, id DESC").Find(&entries).Error; err != nil {
		return nil, 0, errors.Wrap(err, "audit: list failed")
	}
	return entries, total, nil
}

// FindByEntity returns all entries for one entity, newest first.
func (s *AuditStorage) FindByEntity(entityType, entityID string) ([]model.AuditEntry, error) {
	var entries []model.AuditEntry
	err := s.db.Where("entity_type = ? AND entity_id = ?", entityType, entityID).
		Order("created_at DESC, id DESC").
		Find(&entries).Error
	if err != nil {
		return nil, errors.Wrap(err, "audit: entity lookup failed")
	}
	return entries, nil
}

// Ordered returns entries in chain order.
func (s *AuditStorage) Ordered(offset, limit int) ([]model.AuditEntry, error) {
	query := s.db.Order("created_at ASC, id ASC")
	if limit > 0 {
		query = query.Limit(limit)
	}
	if offset > 0 {
		query = query.Offset(offset)
	}
	var entries []model.AuditEntry
	if err := query.Find(&entries).Error; err != nil {
		return nil, errors.Wrap(err, "audit: ordered read failed")
	}
	return entries, nil
}

// Count returns the number of ledger entries.
func (s *AuditStorage) Count() (int64, error) {
	var count int64
	if err := s.db.Model(&model.AuditEntry{}).Count(&count).Error; err != nil {
		return 0, errors.Wrap(err, "audit: count failed")
	}
	return count, nil
}

// CountArchiveDue returns how many entries have passed their retention
// horizon.
func (s *AuditStorage) CountArchiveDue(before time.Time) (int64, error) {
	var count int64
	err := s.db.Model(&model.AuditEntry{}).
		Where("archive_after IS NOT NULL AND archive_after < ?", before).
		Count(&count).Error
	if err != nil {
		return 0, errors.Wrap(err, "audit: archive-due count failed")
	}
	return count, nil
}

// readChainCheckpoint returns the persisted hash of the last archived entry,
// or nil when nothing was ever archived.
func readChainCheckpoint(tx *gorm.DB) (*string, error) {
	var raw []byte
	row := tx.Model(&model.KeyValue{}).
		Select("value").
		Where(
			&model.KeyValue{
				Scope: model.KeyValueScopeLedger,
				Key:   model.KeyValueKeyChainCheckpoint,
			},
		).
		Row()
	if err := row.Scan(&raw); err != nil {
		if errors.Is(err, sql.ErrNoRows) || errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	if raw == nil {
		return nil, nil
	}
	var hash string
	if err := json.Unmarshal(raw, &hash); err != nil {
		return nil, err
	}
	return &hash, nil
}

// writeChainCheckpoint upserts the archival checkpoint.
func writeChainCheckpoint(tx *gorm.DB, hash string) error {
	raw, err := json.Marshal(hash)
	if err != nil {
		return err
	}
	kv := model.KeyValue{
		Scope: model.KeyValueScopeLedger,
		Key:   model.KeyValueKeyChainCheckpoint,
		Value: datatypes.JSON(raw),
	}
	return tx.Clauses(
		clause.OnConflict{
			Columns: []clause.Column{
				{Name: "scope"},
				{Name: "key"},
			},
			DoUpdates: clause.AssignmentColumns([]string{"value", "updated_at"}),
		},
	).Create(&kv).Error
}

// DeleteArchiveDue removes up to limit entries past their retention horizon,
// starting at the chain's oldest entry and stopping at the first entry that
// is not yet due. Removing anything but a contiguous prefix would break the
// prev-hash linkage of the survivors, so an entry with a long horizon keeps
// everything younger in place until it is due itself. The chain hash of the
// last removed entry is persisted as checkpoint in the same transaction;
// chain validation anchors the surviving chain at it. Returns the removal
// count and that checkpoint. Safe to re-run: already removed entries simply
// no longer match.
func (s *AuditStorage) DeleteArchiveDue(before time.Time, limit int) (int64, *string, error) {
	var removed int64
	var checkpoint *string
	err := s.db.Transaction(
		func(tx *gorm.DB) error {
			var oldest []model.AuditEntry
			err := tx.Order("created_at ASC, id ASC").
				Limit(limit).
				Find(&oldest).Error
			if err != nil {
				return errors.Wrap(err, "audit: archive-due lookup failed")
			}

			var ids []string
			for i := range oldest {
				e := &oldest[i]
				if e.ArchiveAfter == nil || !e.ArchiveAfter.Before(before) {
					break
				}
				ids = append(ids, e.ID)
				h := e.CurrHash
				checkpoint = &h
			}
			if len(ids) == 0 {
				return nil
			}

			res := tx.Where("id IN ?", ids).Delete(&model.AuditEntry{})
			if res.Error != nil {
				return errors.Wrap(res.Error, "audit: archive sweep failed")
			}
			removed = res.RowsAffected
			return errors.Wrap(
				writeChainCheckpoint(tx, *checkpoint), "audit: checkpoint write failed",
			)
		},
	)
	if err != nil {
		return 0, nil, err
	}
	return removed, checkpoint, nil
}
