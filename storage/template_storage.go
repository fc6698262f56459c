package storage

import (
	"math"
	"time"

	"github.com/pkg/errors"
	"gorm.io/gorm"

	"github.com/vericert/vericert/storage/model"
)

// weightTolerance is the allowed deviation of a weight sum from 1.0 when a
// template is published.
const weightTolerance = 1e-9

// TemplateStorage implements model.TemplateStore using GORM.
type TemplateStorage struct {
	db *gorm.DB
}

// Create stores a new, unpublished template with its categories and criteria.
func (s *TemplateStorage) Create(t *model.Template) error {
	if t.Published {
		return model.ValidationError("templates are created unpublished; use Publish")
	}
	if err := s.db.Create(t).Error; err != nil {
		if isUniqueConstraintError(err) {
			return model.AlreadyExistsErrorFmt("template %s v%d already exists", t.Name, t.Version)
		}
		return errors.Wrap(err, "templates: create failed")
	}
	return nil
}

// Get returns a template with categories and criteria preloaded, categories
// in declared order.
func (s *TemplateStorage) Get(id uint) (*model.Template, error) {
	var t model.Template
	err := s.db.Preload(
		"Categories", func(db *gorm.DB) *gorm.DB {
			return db.Order("categories.order_index ASC, categories.id ASC")
		},
	).Preload("Categories.Criteria").First(&t, id).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, model.NotFoundErrorFmt("template not found: %d", id)
		}
		return nil, errors.Wrap(err, "templates: get failed")
	}
	return &t, nil
}

// GetPublished returns a published template or a ValidationError.
func (s *TemplateStorage) GetPublished(id uint) (*model.Template, error) {
	t, err := s.Get(id)
	if err != nil {
		return nil, err
	}
	if !t.Published {
		return nil, model.ValidationErrorFmt("template %d is not published", id)
	}
	return t, nil
}

// List returns all templates without their categories.
func (s *TemplateStorage) List() ([]model.Template, error) {
	var items []model.Template
	if err := s.db.Find(&items).Error; err != nil {
		return nil, errors.Wrap(err, "templates: list failed")
	}
	return items, nil
}

// Publish validates the weight sums and marks the template immutable.
func (s *TemplateStorage) Publish(id uint) (*model.Template, error) {
	t, err := s.Get(id)
	if err != nil {
		return nil, err
	}
	if t.Published {
		return nil, model.AlreadyExistsErrorFmt("template %d is already published", id)
	}
	if len(t.Categories) == 0 {
		return nil, model.ValidationError("cannot publish a template without categories")
	}
	var categoryWeightSum float64
	for _, cat := range t.Categories {
		categoryWeightSum += cat.Weight
		if len(cat.Criteria) == 0 {
			return nil, model.ValidationErrorFmt("category %q has no criteria", cat.Name)
		}
		var criterionWeightSum float64
		for _, crit := range cat.Criteria {
			criterionWeightSum += crit.Weight
			if crit.MaxScore <= 0 {
				return nil, model.ValidationErrorFmt("criterion %q has non-positive max score", crit.Name)
			}
		}
		if math.Abs(criterionWeightSum-1.0) > weightTolerance {
			return nil, model.ValidationErrorFmt(
				"criterion weights in category %q sum to %g, expected 1.0", cat.Name, criterionWeightSum,
			)
		}
	}
	if math.Abs(categoryWeightSum-1.0) > weightTolerance {
		return nil, model.ValidationErrorFmt(
			"category weights sum to %g, expected 1.0", categoryWeightSum,
		)
	}

	now := time.Now()
	err = s.db.Model(&model.Template{}).
		Where("id = ?", id).
		Updates(map[string]any{"published": true, "published_at": now}).Error
	if err != nil {
		return nil, errors.Wrap(err, "templates: publish failed")
	}
	t.Published = true
	t.PublishedAt = &now
	return t, nil
}
