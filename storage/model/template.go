package model

import (
	"time"

	"gorm.io/gorm"
)

// Template is a versioned assessment template. Once published it is
// immutable; submissions reference the published snapshot.
type Template struct {
	ID          uint           `gorm:"primarykey" json:"id"`
	CreatedAt   time.Time      `json:"created_at"`
	UpdatedAt   time.Time      `json:"updated_at"`
	DeletedAt   gorm.DeletedAt `gorm:"index" json:"-"`
	Name        string         `gorm:"index:,unique,composite:tpl_name_version" json:"name"`
	Version     int            `gorm:"index:,unique,composite:tpl_name_version" json:"version"`
	Description string         `gorm:"type:text" json:"description"`

	// PassingThreshold is the minimum overall score (0-100) for a pass.
	PassingThreshold float64 `json:"passing_threshold"`

	Published   bool       `gorm:"index" json:"published"`
	PublishedAt *time.Time `json:"published_at,omitempty"`

	Categories []Category `gorm:"constraint:OnDelete:CASCADE" json:"categories"`
}

// Category groups criteria within a template. Category weights within a
// published template sum to 1.0.
type Category struct {
	ID         uint      `gorm:"primarykey" json:"id"`
	CreatedAt  time.Time `json:"created_at"`
	UpdatedAt  time.Time `json:"updated_at"`
	TemplateID uint      `gorm:"index" json:"template_id"`
	Name       string    `json:"name"`
	Weight     float64   `json:"weight"`
	OrderIndex int       `json:"order_index"`

	Criteria []Criterion `gorm:"constraint:OnDelete:CASCADE" json:"criteria"`
}

// Criterion is a single assessed requirement. Criterion weights within a
// published category sum to 1.0.
type Criterion struct {
	ID         uint      `gorm:"primarykey" json:"id"`
	CreatedAt  time.Time `json:"created_at"`
	UpdatedAt  time.Time `json:"updated_at"`
	CategoryID uint      `gorm:"index" json:"category_id"`
	Code       string    `json:"code"`
	Name       string    `gorm:"type:text" json:"name"`
	Weight     float64   `json:"weight"`

	IsMandatory    bool `json:"is_mandatory"`
	IsCriticalFail bool `json:"is_critical_fail"`

	MaxScore float64 `json:"max_score"`

	// ControlGroup is the compliance tier the criterion applies to
	// (e.g. "DSCP1"); empty applies to all tiers.
	ControlGroup string `gorm:"index" json:"control_group"`
}

// AppliesTo reports whether the criterion is assessed for the passed control
// group.
func (c Criterion) AppliesTo(controlGroup string) bool {
	return c.ControlGroup == "" || c.ControlGroup == controlGroup
}

// TemplateStore is the persistence backend for assessment templates.
type TemplateStore interface {
	// Create stores a new, unpublished template with its categories and
	// criteria.
	Create(t *Template) error

	// Get returns a template with categories and criteria preloaded.
	Get(id uint) (*Template, error)

	// GetPublished returns a template like Get but fails with a
	// ValidationError if the template is not published.
	GetPublished(id uint) (*Template, error)

	// List returns all templates without their categories.
	List() ([]Template, error)

	// Publish validates weight sums and marks the template immutable.
	Publish(id uint) (*Template, error)
}
