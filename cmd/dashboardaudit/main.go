package main

import (
	"bufio"
	"bytes"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strings"

	"github.com/spf13/pflag"
	"gopkg.in/yaml.v3"

	"github.com/MarkoPoloResearchLab/superset_xblock/internal/dashboard"
)

const (
	flagCatalog   = "catalog"
	flagAssetRoot = "asset-root"

	defaultCatalogPath = "dashboards.yml"
)

var (
	defaultAssetRoots = []string{
		filepath.Join("internal", "httpapi", "assets"),
		filepath.Join("internal", "httpapi", "templates"),
	}
	localReferencePattern = regexp.MustCompile(`(?:https?://)?(?:localhost|127\.0\.0\.1)(?::[0-9]{2,5})?`)
)

type auditResult struct {
	errors   []string
	warnings []string
}

func (result *auditResult) addError(message string, arguments ...any) {
	result.errors = append(result.errors, fmt.Sprintf(message, arguments...))
}

func (result *auditResult) addWarning(message string, arguments ...any) {
	result.warnings = append(result.warnings, fmt.Sprintf(message, arguments...))
}

func (result auditResult) ok() bool {
	return len(result.errors) == 0
}

func main() {
	flags := pflag.NewFlagSet("dashboard-audit", pflag.ExitOnError)
	catalogPath := flags.String(flagCatalog, defaultCatalogPath, "Path to the dashboards catalog YAML")
	assetRoots := flags.StringSlice(flagAssetRoot, defaultAssetRoots, "Directories of browser assets to scan")
	_ = flags.Parse(os.Args[1:])

	result := runAudit(*catalogPath, *assetRoots)
	sort.Strings(result.errors)
	sort.Strings(result.warnings)

	for _, warning := range result.warnings {
		_, _ = fmt.Fprintf(os.Stdout, "WARN: %s\n", warning)
	}
	for _, errorMessage := range result.errors {
		_, _ = fmt.Fprintf(os.Stderr, "ERROR: %s\n", errorMessage)
	}
	if !result.ok() {
		_, _ = fmt.Fprintf(os.Stderr, "dashboard-audit failed\n")
		os.Exit(1)
	}
	_, _ = fmt.Fprintf(os.Stdout, "dashboard-audit OK\n")
}

func runAudit(catalogPath string, assetRoots []string) auditResult {
	var result auditResult

	catalogDocument, readErr := os.ReadFile(catalogPath)
	if readErr != nil {
		result.addError("read catalog %s: %v", catalogPath, readErr)
		return result
	}

	var catalog dashboard.Catalog
	decoder := yaml.NewDecoder(bytes.NewReader(catalogDocument))
	decoder.KnownFields(true)
	decodeErr := decoder.Decode(&catalog)
	switch {
	case errors.Is(decodeErr, io.EOF):
		result.addWarning("catalog %s is empty", catalogPath)
	case decodeErr != nil:
		result.addError("parse catalog %s: %v", catalogPath, decodeErr)
		return result
	}

	checkDashboards(catalog, &result)
	checkExtraFilters(catalog.ExtraFilters, &result)
	checkLocales(catalog.Locales, &result)
	checkLocalizedCollisions(catalog, &result)
	checkAssetLocalReferences(assetRoots, &result)

	return result
}

func checkDashboards(catalog dashboard.Catalog, result *auditResult) {
	if len(catalog.InstructorDashboards) == 0 {
		result.addWarning("catalog: instructor_dashboards is empty, the instructor tab will render no dashboards")
		return
	}
	dashboardByUUID := make(map[string]int, len(catalog.InstructorDashboards))
	dashboardBySlug := make(map[string]int, len(catalog.InstructorDashboards))
	for index, entry := range catalog.InstructorDashboards {
		label := entryLabel(index, entry)
		if strings.TrimSpace(entry.Name) == "" {
			result.addWarning("%s: name is blank, the tab label falls back to its position", label)
		}

		normalizedUUID := strings.ToLower(strings.TrimSpace(entry.UUID))
		if !dashboard.IsValidUUID(normalizedUUID) {
			result.addError("%s: uuid %q is not a valid uuid", label, entry.UUID)
		} else if firstIndex, seen := dashboardByUUID[normalizedUUID]; seen {
			result.addError("%s: uuid %s duplicates dashboard #%d", label, normalizedUUID, firstIndex+1)
		} else {
			dashboardByUUID[normalizedUUID] = index
		}

		slug := strings.TrimSpace(entry.Slug)
		if slug == "" {
			if entry.AllowTranslations {
				result.addWarning("%s: allow_translations is set without a slug", label)
			}
			continue
		}
		if firstIndex, seen := dashboardBySlug[slug]; seen {
			result.addError("%s: slug %s duplicates dashboard #%d", label, slug, firstIndex+1)
			continue
		}
		dashboardBySlug[slug] = index
	}
}

func checkExtraFilters(filters []string, result *auditResult) {
	for index, filter := range filters {
		for _, placeholder := range dashboard.UnknownPlaceholders(filter) {
			result.addError("extra_filters #%d: unknown placeholder %s (known: %s)", index+1, placeholder, strings.Join(dashboard.KnownPlaceholders, ", "))
		}
	}
}

func checkLocales(locales []string, result *auditResult) {
	if len(locales) == 0 {
		result.addWarning("catalog: locales is empty, only %q translations will be granted", dashboard.DefaultLocale)
		return
	}
	seen := make(map[string]string, len(locales))
	for _, locale := range locales {
		normalized := strings.ToLower(strings.ReplaceAll(locale, "-", "_"))
		if previous, duplicate := seen[normalized]; duplicate {
			result.addWarning("locales: %s and %s resolve to the same translation", previous, locale)
			continue
		}
		seen[normalized] = locale
	}
}

func checkLocalizedCollisions(catalog dashboard.Catalog, result *auditResult) {
	locales := catalog.Locales
	if len(locales) == 0 {
		locales = dashboard.StringList{dashboard.DefaultLocale}
	}
	declared := make(map[string]int, len(catalog.InstructorDashboards))
	for index, entry := range catalog.InstructorDashboards {
		declared[strings.ToLower(strings.TrimSpace(entry.UUID))] = index
	}
	for index, entry := range catalog.InstructorDashboards {
		if !entry.AllowTranslations {
			continue
		}
		for _, locale := range locales {
			localizedUUID, localizeErr := dashboard.LocalizedUUID(entry.UUID, locale)
			if localizeErr != nil {
				continue
			}
			if otherIndex, collides := declared[localizedUUID]; collides && otherIndex != index {
				result.addError("%s: %s translation %s collides with dashboard #%d", entryLabel(index, entry), locale, localizedUUID, otherIndex+1)
			}
		}
	}
}

func entryLabel(index int, entry dashboard.Dashboard) string {
	name := strings.TrimSpace(entry.Name)
	if name == "" {
		return fmt.Sprintf("dashboard #%d", index+1)
	}
	return fmt.Sprintf("dashboard #%d (%s)", index+1, name)
}

func checkAssetLocalReferences(roots []string, result *auditResult) {
	for _, root := range roots {
		info, statErr := os.Stat(root)
		if statErr != nil {
			if os.IsNotExist(statErr) {
				continue
			}
			result.addError("asset scan: stat %s: %v", root, statErr)
			continue
		}
		if !info.IsDir() {
			continue
		}
		if err := scanAssetRoot(root, result); err != nil {
			result.addError("asset scan: %v", err)
		}
	}
}

func scanAssetRoot(root string, result *auditResult) error {
	return filepath.WalkDir(root, func(path string, entry fs.DirEntry, walkErr error) error {
		if walkErr != nil {
			return walkErr
		}
		if entry.Type()&os.ModeSymlink != 0 {
			if entry.IsDir() {
				return filepath.SkipDir
			}
			return nil
		}
		if entry.IsDir() {
			return nil
		}

		ext := strings.ToLower(filepath.Ext(path))
		switch ext {
		case ".js", ".html", ".tmpl", ".css":
		default:
			return nil
		}

		return scanAssetFile(path, result)
	})
}

func scanAssetFile(path string, result *auditResult) error {
	file, openErr := os.Open(path)
	if openErr != nil {
		return openErr
	}

	scanner := bufio.NewScanner(file)
	lineNumber := 0
	for scanner.Scan() {
		lineNumber++
		for _, match := range localReferencePattern.FindAllString(scanner.Text(), -1) {
			result.addError("asset scan: %s:%d references %s, embedded pages must use the configured Superset url", path, lineNumber, match)
		}
	}
	scanErr := scanner.Err()
	closeErr := file.Close()
	if scanErr != nil || closeErr != nil {
		return errors.Join(scanErr, closeErr)
	}
	return nil
}
