package model

import (
	"errors"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"
)

const (
	// DefaultBlockDisplayName is shown until course staff rename the block.
	DefaultBlockDisplayName = "Superset Dashboard"

	filterSeparator        = ";"
	filterJoinSeparator    = "; "
	blockDisplayNameLength = 255
	blockFiltersMaxLength  = 4000
)

var (
	ErrInvalidBlockID       = errors.New("invalid_block_id")
	ErrInvalidCourseID      = errors.New("invalid_course_id")
	ErrInvalidDashboardUUID = errors.New("invalid_dashboard_uuid")
	ErrFiltersTooLong       = errors.New("filters_too_long")
)

// Block stores the course author settings of one embedded dashboard block.
type Block struct {
	ID            string    `gorm:"primaryKey;size:255"`
	CourseID      string    `gorm:"index;not null;size:255"`
	DisplayName   string    `gorm:"not null;size:255"`
	DashboardUUID string    `gorm:"size:36"`
	Filters       string    `gorm:"size:4000"`
	CreatedAt     time.Time `gorm:"autoCreateTime"`
	UpdatedAt     time.Time `gorm:"autoUpdateTime"`
}

// BlockDashboard is a dashboard configured on a block.
type BlockDashboard struct {
	Name string
	UUID string
}

// BlockSettings holds the raw values submitted from the edit form.
type BlockSettings struct {
	DisplayName   string
	DashboardUUID string
	Filters       string
}

// NewBlock builds an unconfigured block for a course.
func NewBlock(blockID string, courseID string) (Block, error) {
	normalizedBlockID := strings.TrimSpace(blockID)
	if normalizedBlockID == "" {
		return Block{}, ErrInvalidBlockID
	}
	normalizedCourseID := strings.TrimSpace(courseID)
	if normalizedCourseID == "" {
		return Block{}, ErrInvalidCourseID
	}
	return Block{ID: normalizedBlockID, CourseID: normalizedCourseID, DisplayName: DefaultBlockDisplayName}, nil
}

// Apply validates settings and copies them onto the block.
func (block *Block) Apply(settings BlockSettings) error {
	dashboardUUID := strings.ToLower(strings.TrimSpace(settings.DashboardUUID))
	if dashboardUUID != "" {
		if _, parseErr := uuid.Parse(dashboardUUID); parseErr != nil {
			return ErrInvalidDashboardUUID
		}
	}
	filters := strings.Join(ParseFilters(settings.Filters), filterJoinSeparator)
	if len(filters) > blockFiltersMaxLength {
		return ErrFiltersTooLong
	}
	displayName := strings.TrimSpace(settings.DisplayName)
	if displayName == "" {
		displayName = DefaultBlockDisplayName
	}
	displayName = truncateOnRuneBoundary(displayName, blockDisplayNameLength)

	block.DisplayName = displayName
	block.DashboardUUID = dashboardUUID
	block.Filters = filters
	return nil
}

// truncateOnRuneBoundary cuts value to at most limit bytes without splitting a
// multi-byte character.
func truncateOnRuneBoundary(value string, limit int) string {
	if len(value) <= limit {
		return value
	}
	cut := limit
	for cut > 0 && !utf8.RuneStart(value[cut]) {
		cut--
	}
	return value[:cut]
}

// FilterList returns the stored SQL filters.
func (block Block) FilterList() []string {
	return ParseFilters(block.Filters)
}

// Dashboards returns the configured dashboard, if any.
func (block Block) Dashboards() []BlockDashboard {
	if block.DashboardUUID == "" {
		return nil
	}
	return []BlockDashboard{{Name: block.DisplayName, UUID: block.DashboardUUID}}
}

// ParseFilters splits a semicolon separated filter list, dropping blanks.
func ParseFilters(raw string) []string {
	var filters []string
	for _, part := range strings.Split(raw, filterSeparator) {
		trimmed := strings.TrimSpace(part)
		if trimmed == "" {
			continue
		}
		filters = append(filters, trimmed)
	}
	return filters
}
