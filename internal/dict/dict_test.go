package dict

import (
	"os"
	"path/filepath"
	"testing"
)

func TestBuiltinCoversCommonHardware(t *testing.T) {
	s := Builtin()
	if s.IsEmpty() {
		t.Fatal("builtin dictionary is empty")
	}
	entry, ok := s.LookupSonar(31)
	if !ok {
		t.Fatal("sonar type 31 missing from builtin table")
	}
	if entry.Name != "Klein 3000" || entry.Manufacturer != "Klein Marine Systems" {
		t.Fatalf("sonar type 31 = %+v", entry)
	}
	if got := s.SonarName(37); got != "EdgeTech 4200" {
		t.Fatalf("SonarName(37) = %q", got)
	}
	if got := s.SonarName(60000); got != "sonar type 60000" {
		t.Fatalf("SonarName fallback = %q", got)
	}
	if got := s.VendorName(3); got != "EdgeTech" {
		t.Fatalf("VendorName(3) = %q", got)
	}
	if got := s.VendorName(250); got != "vendor 250" {
		t.Fatalf("VendorName fallback = %q", got)
	}
}

func TestFromJSONValidation(t *testing.T) {
	cases := []struct {
		name string
		file JSONFile
	}{
		{
			name: "sonar type out of range",
			file: JSONFile{SonarTypes: []JSONSonarEntry{{Type: 0x10000, Name: "x"}}},
		},
		{
			name: "duplicate sonar type",
			file: JSONFile{SonarTypes: []JSONSonarEntry{{Type: 5, Name: "a"}, {Type: 5, Name: "b"}}},
		},
		{
			name: "vendor id out of range",
			file: JSONFile{Vendors: []JSONVendorEntry{{ManufacturerId: 300, Name: "x"}}},
		},
		{
			name: "duplicate vendor id",
			file: JSONFile{Vendors: []JSONVendorEntry{{ManufacturerId: 1, Name: "a"}, {ManufacturerId: 1, Name: "b"}}},
		},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if _, err := FromJSON(tc.file); err == nil {
				t.Fatal("expected validation error")
			}
		})
	}
}

func TestMergeSiteOverridesBuiltin(t *testing.T) {
	site, err := FromJSON(JSONFile{
		SonarTypes: []JSONSonarEntry{
			{Type: 31, Name: "Klein 3000 (refit)", Manufacturer: "Klein Marine Systems"},
			{Type: 999, Name: "Prototype towfish"},
		},
	})
	if err != nil {
		t.Fatalf("FromJSON: %v", err)
	}
	merged := Merge(Builtin(), site)
	if got := merged.SonarName(31); got != "Klein 3000 (refit)" {
		t.Fatalf("override lost: %q", got)
	}
	if got := merged.SonarName(999); got != "Prototype towfish" {
		t.Fatalf("site entry lost: %q", got)
	}
	if got := merged.SonarName(37); got != "EdgeTech 4200" {
		t.Fatalf("builtin entry lost: %q", got)
	}
}

func TestEnsureLoaded(t *testing.T) {
	dir := t.TempDir()

	if _, err := EnsureLoaded(""); err == nil {
		t.Fatal("expected error for empty path")
	}
	if _, err := EnsureLoaded(dir); err == nil {
		t.Fatal("expected error for directory path")
	}
	if _, err := EnsureLoaded(filepath.Join(dir, "missing.json")); err == nil {
		t.Fatal("expected error for missing file")
	}

	path := filepath.Join(dir, "site.json")
	body := `{"sonarTypes":[{"type":999,"name":"Prototype towfish"}]}`
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatalf("write dictionary: %v", err)
	}
	s, err := EnsureLoaded(path)
	if err != nil {
		t.Fatalf("EnsureLoaded: %v", err)
	}
	if got := s.SonarName(999); got != "Prototype towfish" {
		t.Fatalf("site entry = %q", got)
	}
	if got := s.SonarName(31); got != "Klein 3000" {
		t.Fatalf("builtin entry = %q", got)
	}

	bad := filepath.Join(dir, "bad.json")
	if err := os.WriteFile(bad, []byte("{"), 0o644); err != nil {
		t.Fatalf("write bad dictionary: %v", err)
	}
	if _, err := EnsureLoaded(bad); err == nil {
		t.Fatal("expected parse error")
	}
}
