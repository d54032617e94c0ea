// Package dashboard describes the Superset dashboards offered to course staff
// and turns a viewer plus a course into a guest token request.
package dashboard

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

const (
	// DefaultLocale is offered when a catalog lists no locales.
	DefaultLocale = "en"

	errorMessageReadCatalog  = "dashboard: read catalog"
	errorMessageParseCatalog = "dashboard: parse catalog"
)

var (
	// ErrInvalidDashboard indicates a catalog entry without a usable uuid.
	ErrInvalidDashboard = errors.New("dashboard: invalid dashboard entry")
)

// Dashboard is one Superset dashboard offered to course staff.
type Dashboard struct {
	Name              string `yaml:"name" json:"name"`
	Slug              string `yaml:"slug" json:"slug,omitempty"`
	UUID              string `yaml:"uuid" json:"uuid"`
	AllowTranslations bool   `yaml:"allow_translations" json:"allow_translations,omitempty"`
}

// Catalog lists the instructor dashboards and the row level filters applied to them.
type Catalog struct {
	InstructorDashboards []Dashboard `yaml:"instructor_dashboards"`
	ExtraFilters         StringList  `yaml:"extra_filters"`
	Locales              StringList  `yaml:"locales"`
}

// StringList accepts either a single scalar or a sequence in YAML.
type StringList []string

// UnmarshalYAML decodes scalars and sequences, dropping blank entries.
func (list *StringList) UnmarshalYAML(node *yaml.Node) error {
	if node == nil {
		*list = nil
		return nil
	}
	switch node.Kind {
	case yaml.ScalarNode:
		value := strings.TrimSpace(node.Value)
		if value == "" {
			*list = nil
			return nil
		}
		*list = []string{value}
		return nil
	case yaml.SequenceNode:
		entries := make([]string, 0, len(node.Content))
		for _, child := range node.Content {
			if child == nil {
				continue
			}
			value := strings.TrimSpace(child.Value)
			if value == "" {
				continue
			}
			entries = append(entries, value)
		}
		*list = entries
		return nil
	default:
		return fmt.Errorf("unsupported yaml node kind %d for list", node.Kind)
	}
}

// DefaultCatalog mirrors the dashboards Aspects ships with.
func DefaultCatalog() Catalog {
	return Catalog{
		InstructorDashboards: []Dashboard{
			{Name: "Course Dashboard", Slug: "course-dashboard", UUID: "c0e64194-33d1-4d5a-8c10-4f51530c5ee9", AllowTranslations: true},
			{Name: "Individual Learner Dashboard", Slug: "individual-learner", UUID: "abae8a25-1ba4-4653-81bd-d3937a162a11", AllowTranslations: true},
			{Name: "At-Risk Learners Dashboard", Slug: "learner-groups", UUID: "8661d20c-cee6-4245-9fcc-610daea5fd24", AllowTranslations: true},
		},
		Locales: StringList{DefaultLocale},
	}
}

// LoadCatalog reads a YAML catalog. An empty path yields DefaultCatalog.
func LoadCatalog(path string) (Catalog, error) {
	trimmedPath := strings.TrimSpace(path)
	if trimmedPath == "" {
		return DefaultCatalog(), nil
	}
	document, readErr := os.ReadFile(trimmedPath)
	if readErr != nil {
		return Catalog{}, fmt.Errorf("%s %s: %w", errorMessageReadCatalog, trimmedPath, readErr)
	}
	return ParseCatalog(document)
}

// ParseCatalog decodes and validates a YAML catalog document. An empty
// document yields a catalog with no dashboards and the default locale.
func ParseCatalog(document []byte) (Catalog, error) {
	var catalog Catalog
	decoder := yaml.NewDecoder(bytes.NewReader(document))
	decoder.KnownFields(true)
	if decodeErr := decoder.Decode(&catalog); decodeErr != nil && !errors.Is(decodeErr, io.EOF) {
		return Catalog{}, fmt.Errorf("%s: %w", errorMessageParseCatalog, decodeErr)
	}
	for index, entry := range catalog.InstructorDashboards {
		entry.Name = strings.TrimSpace(entry.Name)
		entry.Slug = strings.TrimSpace(entry.Slug)
		entry.UUID = strings.ToLower(strings.TrimSpace(entry.UUID))
		if !IsValidUUID(entry.UUID) {
			return Catalog{}, fmt.Errorf("%w: %q", ErrInvalidDashboard, entry.UUID)
		}
		catalog.InstructorDashboards[index] = entry
	}
	if len(catalog.Locales) == 0 {
		catalog.Locales = StringList{DefaultLocale}
	}
	return catalog, nil
}
