package dashboard

import (
	"strings"

	"github.com/google/uuid"

	"github.com/MarkoPoloResearchLab/superset_xblock/internal/superset"
)

const localizationNamespaceName = "superset"

// IsValidUUID reports whether value parses as a UUID.
func IsValidUUID(value string) bool {
	_, parseErr := uuid.Parse(strings.TrimSpace(value))
	return parseErr == nil
}

// LocalizedUUID derives the deterministic uuid of a dashboard translated into language.
func LocalizedUUID(baseUUID string, language string) (string, error) {
	base, parseErr := uuid.Parse(strings.TrimSpace(baseUUID))
	if parseErr != nil {
		return "", parseErr
	}
	namespace := uuid.NewSHA1(base, []byte(localizationNamespaceName))
	normalizedLanguage := strings.ReplaceAll(strings.ToLower(strings.TrimSpace(language)), "-", "_")
	return uuid.NewSHA1(namespace, []byte(normalizedLanguage)).String(), nil
}

// Localize returns a copy of dashboards where translatable entries point at
// their language variant. An empty language returns the dashboards unchanged.
func Localize(dashboards []Dashboard, language string) ([]Dashboard, error) {
	localized := make([]Dashboard, len(dashboards))
	copy(localized, dashboards)
	normalizedLanguage := strings.TrimSpace(language)
	if normalizedLanguage == "" {
		return localized, nil
	}
	for index, entry := range localized {
		if !entry.AllowTranslations {
			continue
		}
		localizedUUID, localizeErr := LocalizedUUID(entry.UUID, normalizedLanguage)
		if localizeErr != nil {
			return nil, localizeErr
		}
		entry.Slug = entry.Slug + "-" + normalizedLanguage
		entry.UUID = localizedUUID
		localized[index] = entry
	}
	return localized, nil
}

// Resources grants access to every dashboard and, for translatable ones, to
// each of their locale variants.
func Resources(dashboards []Dashboard, locales []string) ([]superset.Resource, error) {
	resources := make([]superset.Resource, 0, len(dashboards))
	for _, entry := range dashboards {
		resources = append(resources, superset.DashboardResource(entry.UUID))
		if !entry.AllowTranslations {
			continue
		}
		for _, locale := range locales {
			localizedUUID, localizeErr := LocalizedUUID(entry.UUID, locale)
			if localizeErr != nil {
				return nil, localizeErr
			}
			resources = append(resources, superset.DashboardResource(localizedUUID))
		}
	}
	return resources, nil
}
