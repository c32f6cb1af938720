// Package seed loads municipality scan targets from YAML files into the
// database. Seeding is idempotent: re-running a file refreshes descriptive
// fields without touching scan state.
package seed

import (
	"context"
	"fmt"
	"log"
	"os"

	"github.com/civicscan/municipal-scanner/internal/models"
	"gopkg.in/yaml.v3"
)

// Upserter is the single store operation seeding needs.
type Upserter interface {
	UpsertMunicipality(ctx context.Context, m models.Municipality) error
}

type seedFile struct {
	Country        string             `yaml:"country"`
	Municipalities []seedMunicipality `yaml:"municipalities"`
}

type seedMunicipality struct {
	Name            string `yaml:"name"`
	Province        string `yaml:"province"`
	Country         string `yaml:"country"`
	OfficialWebsite string `yaml:"official_website"`
	MinutesURL      string `yaml:"minutes_url"`
	Population      int    `yaml:"population"`
	Type            string `yaml:"type"`
}

// LoadFile parses a seed YAML file and validates each entry. Entries missing
// a name or province are rejected as a file-level error so partial seeds
// don't slip through silently.
func LoadFile(path string) ([]models.Municipality, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading seed file: %w", err)
	}

	var file seedFile
	if err := yaml.Unmarshal(raw, &file); err != nil {
		return nil, fmt.Errorf("parsing seed file: %w", err)
	}

	defaultCountry := file.Country
	if defaultCountry == "" {
		defaultCountry = "Canada"
	}

	munis := make([]models.Municipality, 0, len(file.Municipalities))
	for i, entry := range file.Municipalities {
		if entry.Name == "" || entry.Province == "" {
			return nil, fmt.Errorf("entry %d: name and province are required", i)
		}
		country := entry.Country
		if country == "" {
			country = defaultCountry
		}
		munis = append(munis, models.Municipality{
			Name:             entry.Name,
			Province:         entry.Province,
			Country:          country,
			OfficialWebsite:  entry.OfficialWebsite,
			MinutesURL:       entry.MinutesURL,
			Population:       entry.Population,
			MunicipalityType: entry.Type,
		})
	}
	return munis, nil
}

// Apply upserts each municipality. Individual failures are logged and counted
// rather than aborting the batch.
func Apply(ctx context.Context, store Upserter, munis []models.Municipality) (applied int, err error) {
	var failures int
	for _, m := range munis {
		if upsertErr := store.UpsertMunicipality(ctx, m); upsertErr != nil {
			log.Printf("[seed] failed to upsert %s, %s: %v", m.Name, m.Province, upsertErr)
			failures++
			continue
		}
		applied++
	}
	if failures > 0 {
		return applied, fmt.Errorf("%d of %d municipalities failed to seed", failures, len(munis))
	}
	return applied, nil
}
