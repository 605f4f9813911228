package district

import (
	"context"
	"encoding/csv"
	"errors"
	"io"
	"sort"
	"strconv"
	"strings"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/text/cases"
	"golang.org/x/text/language"

	"github.com/sells-group/vote-match/internal/store"
)

// countyColumns maps county CSV headers to boundary types.
var countyColumns = []struct {
	header, boundaryType string
}{
	{"Congressional Districts", "congressional"},
	{"Senate Districts", "state_senate"},
	{"House Districts", "state_house"},
}

var upper = cases.Upper(language.Und)

// CountyLinker updates boundaries with the counties they cover.
type CountyLinker interface {
	LinkCounty(ctx context.Context, boundaryType, externalID, county string) (bool, error)
}

// LinkStats summarizes one county CSV import.
type LinkStats struct {
	Rows     int `json:"rows" yaml:"rows"`
	Linked   int `json:"linked" yaml:"linked"`
	NotFound int `json:"not_found" yaml:"not_found"`
}

// NormalizeCountyName upper-cases and drops a trailing " COUNTY".
func NormalizeCountyName(name string) string {
	name = upper.String(strings.TrimSpace(name))
	if strings.HasSuffix(name, " COUNTY") {
		name = strings.TrimSpace(strings.TrimSuffix(name, " COUNTY"))
	}
	return name
}

// ParseDistrictList splits "2, 8" into ["2", "8"], dropping blanks.
func ParseDistrictList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	return out
}

// PadDistrictID left-pads numeric ids with zeros to width. Non-numeric ids
// are returned unchanged.
func PadDistrictID(id string, width int) string {
	if _, err := strconv.Atoi(id); err != nil || len(id) >= width {
		return id
	}
	return strings.Repeat("0", width-len(id)) + id
}

// LinkCountiesFromCSV reads County / Congressional Districts / Senate
// Districts / House Districts rows and links every listed district.
func LinkCountiesFromCSV(ctx context.Context, linker CountyLinker, r io.Reader) (*LinkStats, error) {
	log := zap.L().With(zap.String("component", "district.county"))

	stats := &LinkStats{}
	rows, err := readCountyCSV(r, "", func(county, boundaryType, id string) error {
		found, err := linker.LinkCounty(ctx, boundaryType, id, county)
		if err != nil {
			return eris.Wrapf(err, "district: link %s %s to %s", boundaryType, id, county)
		}
		if !found {
			stats.NotFound++
			log.Warn("district: boundary not found", zap.String("type", boundaryType), zap.String("external_id", id))
			return nil
		}
		stats.Linked++
		return nil
	})
	stats.Rows = rows
	return stats, err
}

// readCountyCSV calls fn once per (county, boundary type, padded district id)
// listed in the file, optionally for one boundary type only. It returns the
// number of data rows read.
func readCountyCSV(r io.Reader, onlyType string, fn func(county, boundaryType, id string) error) (int, error) {
	cr := csv.NewReader(r)
	cr.FieldsPerRecord = -1
	cr.TrimLeadingSpace = true

	header, err := cr.Read()
	if err != nil {
		return 0, eris.Wrap(err, "district: read county csv header")
	}
	col := make(map[string]int, len(header))
	for i, h := range header {
		col[strings.TrimSpace(h)] = i
	}
	countyIdx, ok := col["County"]
	if !ok {
		return 0, eris.New("district: county csv has no County column")
	}

	rows := 0
	for {
		row, err := cr.Read()
		if errors.Is(err, io.EOF) {
			return rows, nil
		}
		if err != nil {
			return rows, eris.Wrapf(err, "district: read county csv row %d", rows+2)
		}
		rows++
		if countyIdx >= len(row) {
			continue
		}
		county := NormalizeCountyName(row[countyIdx])
		if county == "" {
			continue
		}

		for _, c := range countyColumns {
			if onlyType != "" && c.boundaryType != onlyType {
				continue
			}
			idx, ok := col[c.header]
			if !ok || idx >= len(row) {
				continue
			}
			for _, id := range ParseDistrictList(row[idx]) {
				if err := fn(county, c.boundaryType, PadDistrictID(id, 3)); err != nil {
					return rows, err
				}
			}
		}
	}
}

// CoverageStore lists district boundaries with the counties they overlap.
type CoverageStore interface {
	CountyCoverage(ctx context.Context, f store.CoverageFilter) ([]store.CountyCoverage, error)
}

// SpatialLinker can also overwrite a boundary's county list.
type SpatialLinker interface {
	CoverageStore
	SetCounty(ctx context.Context, boundaryType, externalID, county string) error
}

// SpatialLinkOptions selects the districts linked from county polygons.
type SpatialLinkOptions struct {
	Type      string // one district type; blank = every non-county type
	StateFIPS string // only counties with this STATEFP
	Overwrite bool   // replace county lists that are already set
}

// SpatialLinkStats summarizes one spatial linking pass.
type SpatialLinkStats struct {
	Districts int `json:"districts" yaml:"districts"`
	Updated   int `json:"updated" yaml:"updated"`
	Skipped   int `json:"skipped" yaml:"skipped"`
	NoOverlap int `json:"no_overlap" yaml:"no_overlap"`
}

// LinkCountiesSpatial sets each district's county list to the loaded county
// boundaries that overlap it. Districts that already have a list are kept
// unless Overwrite is set.
func LinkCountiesSpatial(ctx context.Context, st SpatialLinker, opts SpatialLinkOptions) (*SpatialLinkStats, error) {
	log := zap.L().With(zap.String("component", "district.county"))

	coverage, err := st.CountyCoverage(ctx, store.CoverageFilter{Type: opts.Type, StateFIPS: opts.StateFIPS})
	if err != nil {
		return nil, eris.Wrap(err, "district: county coverage")
	}

	stats := &SpatialLinkStats{Districts: len(coverage)}
	for _, c := range coverage {
		if c.County != "" && !opts.Overwrite {
			stats.Skipped++
			continue
		}
		names := normalizeCounties(c.Counties)
		if len(names) == 0 {
			stats.NoOverlap++
			log.Debug("district: no county overlap", zap.String("type", c.Type), zap.String("external_id", c.ExternalID))
			continue
		}
		if err := st.SetCounty(ctx, c.Type, c.ExternalID, strings.Join(names, ", ")); err != nil {
			return stats, eris.Wrapf(err, "district: set counties for %s %s", c.Type, c.ExternalID)
		}
		stats.Updated++
	}

	log.Info("district: spatial county link complete",
		zap.Int("districts", stats.Districts),
		zap.Int("updated", stats.Updated),
		zap.Int("skipped", stats.Skipped),
		zap.Int("no_overlap", stats.NoOverlap),
	)
	return stats, nil
}

// LinkMismatch is one district whose county lists disagree.
type LinkMismatch struct {
	Type        string   `json:"type" yaml:"type"`
	ExternalID  string   `json:"external_id" yaml:"external_id"`
	CSV         []string `json:"csv" yaml:"csv"`
	Spatial     []string `json:"spatial" yaml:"spatial"`
	CSVOnly     []string `json:"csv_only,omitempty" yaml:"csv_only,omitempty"`
	SpatialOnly []string `json:"spatial_only,omitempty" yaml:"spatial_only,omitempty"`
}

// LinkReport compares a county CSV with the county polygons.
type LinkReport struct {
	Matches    int            `json:"matches" yaml:"matches"`
	Mismatches int            `json:"mismatches" yaml:"mismatches"`
	CSVOnly    int            `json:"csv_only" yaml:"csv_only"` // listed districts with no loaded boundary
	Details    []LinkMismatch `json:"details,omitempty" yaml:"details,omitempty"`
}

// ValidateCountyLinks compares the counties a CSV lists for each district
// with the county polygons that overlap it. Only the district types the CSV
// carries are compared.
func ValidateCountyLinks(ctx context.Context, st CoverageStore, r io.Reader, boundaryType string) (*LinkReport, error) {
	if boundaryType != "" && !isCountyColumnType(boundaryType) {
		return nil, eris.Errorf("district: county csv has no column for type %q", boundaryType)
	}

	listed := make(map[string]map[string]bool)
	if _, err := readCountyCSV(r, boundaryType, func(county, typ, id string) error {
		key := typ + "/" + id
		if listed[key] == nil {
			listed[key] = make(map[string]bool)
		}
		listed[key][county] = true
		return nil
	}); err != nil {
		return nil, err
	}

	coverage, err := st.CountyCoverage(ctx, store.CoverageFilter{Type: boundaryType})
	if err != nil {
		return nil, eris.Wrap(err, "district: county coverage")
	}

	report := &LinkReport{}
	seen := make(map[string]bool, len(coverage))
	for _, c := range coverage {
		if !isCountyColumnType(c.Type) {
			continue
		}
		key := c.Type + "/" + c.ExternalID
		seen[key] = true

		csvSet := listed[key]
		spatial := normalizeCounties(c.Counties)
		spatialSet := make(map[string]bool, len(spatial))
		for _, n := range spatial {
			spatialSet[n] = true
		}
		csvOnly, spatialOnly := difference(csvSet, spatialSet), difference(spatialSet, csvSet)
		if len(csvOnly) == 0 && len(spatialOnly) == 0 {
			report.Matches++
			continue
		}
		report.Mismatches++
		report.Details = append(report.Details, LinkMismatch{
			Type:        c.Type,
			ExternalID:  c.ExternalID,
			CSV:         sortedKeys(csvSet),
			Spatial:     spatial,
			CSVOnly:     csvOnly,
			SpatialOnly: spatialOnly,
		})
	}
	for key := range listed {
		if !seen[key] {
			report.CSVOnly++
		}
	}
	return report, nil
}

func isCountyColumnType(boundaryType string) bool {
	for _, c := range countyColumns {
		if c.boundaryType == boundaryType {
			return true
		}
	}
	return false
}

// normalizeCounties normalizes, dedupes and sorts county names.
func normalizeCounties(names []string) []string {
	set := make(map[string]bool, len(names))
	for _, n := range names {
		if n = NormalizeCountyName(n); n != "" {
			set[n] = true
		}
	}
	return sortedKeys(set)
}

// difference lists the keys of a missing from b, sorted.
func difference(a, b map[string]bool) []string {
	var out []string
	for k := range a {
		if !b[k] {
			out = append(out, k)
		}
	}
	sort.Strings(out)
	return out
}

func sortedKeys(m map[string]bool) []string {
	out := make([]string, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}
