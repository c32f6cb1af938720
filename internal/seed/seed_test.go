package seed

import (
	"os"
	"path/filepath"
	"testing"
)

func writeSeed(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "municipalities.yaml")
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestLoadFile(t *testing.T) {
	path := writeSeed(t, `
country: Canada
municipalities:
  - name: Milton
    province: Ontario
    official_website: https://www.milton.ca
    minutes_url: https://www.milton.ca/council/calendar
    population: 132979
    type: town
  - name: Okotoks
    province: Alberta
    country: Canada
`)

	munis, err := LoadFile(path)
	if err != nil {
		t.Fatalf("LoadFile: %v", err)
	}
	if len(munis) != 2 {
		t.Fatalf("expected 2 municipalities, got %d", len(munis))
	}

	milton := munis[0]
	if milton.Name != "Milton" || milton.Province != "Ontario" || milton.Country != "Canada" {
		t.Fatalf("unexpected record: %+v", milton)
	}
	if milton.MinutesURL != "https://www.milton.ca/council/calendar" || milton.Population != 132979 {
		t.Fatalf("fields not mapped: %+v", milton)
	}
	if milton.MunicipalityType != "town" {
		t.Fatalf("type not mapped: %+v", milton)
	}
}

func TestLoadFile_DefaultCountry(t *testing.T) {
	path := writeSeed(t, `
municipalities:
  - name: Milton
    province: Ontario
`)

	munis, err := LoadFile(path)
	if err != nil {
		t.Fatalf("LoadFile: %v", err)
	}
	if munis[0].Country != "Canada" {
		t.Fatalf("country default not applied: %+v", munis[0])
	}
}

func TestLoadFile_RejectsIncompleteEntries(t *testing.T) {
	path := writeSeed(t, `
municipalities:
  - name: Milton
  - province: Ontario
`)

	if _, err := LoadFile(path); err == nil {
		t.Fatal("expected validation error for missing province")
	}
}
