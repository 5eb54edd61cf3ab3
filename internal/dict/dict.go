// Package dict maps the numeric identifiers found in survey file headers
// (sonar hardware types, vendor packet manufacturer ids) to human readable
// names. A built-in table covers the common hardware; site-specific JSON
// dictionaries can extend or override it.
package dict

import (
	"fmt"
	"strings"
)

type SonarEntry struct {
	Type         uint16
	Name         string
	Manufacturer string
}

type VendorEntry struct {
	ManufacturerId uint8
	Name           string
}

type Store struct {
	sonar   map[uint16]SonarEntry
	vendors map[uint8]VendorEntry
}

type JSONFile struct {
	SonarTypes []JSONSonarEntry  `json:"sonarTypes"`
	Vendors    []JSONVendorEntry `json:"vendors"`
}

type JSONSonarEntry struct {
	Type         int    `json:"type"`
	Name         string `json:"name"`
	Manufacturer string `json:"manufacturer,omitempty"`
}

type JSONVendorEntry struct {
	ManufacturerId int    `json:"manufacturerId"`
	Name           string `json:"name"`
}

func FromJSON(file JSONFile) (*Store, error) {
	store := &Store{
		sonar:   make(map[uint16]SonarEntry),
		vendors: make(map[uint8]VendorEntry),
	}
	for i, entry := range file.SonarTypes {
		if entry.Type < 0 || entry.Type > 0xFFFF {
			return nil, fmt.Errorf("sonarTypes[%d]: type out of range", i)
		}
		key := uint16(entry.Type)
		if _, exists := store.sonar[key]; exists {
			return nil, fmt.Errorf("sonarTypes[%d]: duplicate type %d", i, entry.Type)
		}
		store.sonar[key] = SonarEntry{
			Type:         key,
			Name:         strings.TrimSpace(entry.Name),
			Manufacturer: strings.TrimSpace(entry.Manufacturer),
		}
	}
	for i, entry := range file.Vendors {
		if entry.ManufacturerId < 0 || entry.ManufacturerId > 0xFF {
			return nil, fmt.Errorf("vendors[%d]: manufacturer id out of range", i)
		}
		key := uint8(entry.ManufacturerId)
		if _, exists := store.vendors[key]; exists {
			return nil, fmt.Errorf("vendors[%d]: duplicate manufacturer id %d", i, entry.ManufacturerId)
		}
		store.vendors[key] = VendorEntry{
			ManufacturerId: key,
			Name:           strings.TrimSpace(entry.Name),
		}
	}
	return store, nil
}

func (s *Store) LookupSonar(t uint16) (SonarEntry, bool) {
	if s == nil {
		return SonarEntry{}, false
	}
	entry, ok := s.sonar[t]
	return entry, ok
}

func (s *Store) LookupVendor(id uint8) (VendorEntry, bool) {
	if s == nil {
		return VendorEntry{}, false
	}
	entry, ok := s.vendors[id]
	return entry, ok
}

// SonarName resolves a hardware type to a display name, falling back to the
// numeric form for types the dictionary does not carry.
func (s *Store) SonarName(t uint16) string {
	if entry, ok := s.LookupSonar(t); ok && entry.Name != "" {
		return entry.Name
	}
	return fmt.Sprintf("sonar type %d", t)
}

// VendorName resolves a custom packet manufacturer id to a display name.
func (s *Store) VendorName(id uint8) string {
	if entry, ok := s.LookupVendor(id); ok && entry.Name != "" {
		return entry.Name
	}
	return fmt.Sprintf("vendor %d", id)
}

func (s *Store) IsEmpty() bool {
	if s == nil {
		return true
	}
	return len(s.sonar) == 0 && len(s.vendors) == 0
}

// Merge overlays other onto s, other's entries winning on conflicts, and
// returns the combined store. Either side may be nil.
func Merge(s, other *Store) *Store {
	out := &Store{
		sonar:   make(map[uint16]SonarEntry),
		vendors: make(map[uint8]VendorEntry),
	}
	for _, src := range []*Store{s, other} {
		if src == nil {
			continue
		}
		for k, v := range src.sonar {
			out.sonar[k] = v
		}
		for k, v := range src.vendors {
			out.vendors[k] = v
		}
	}
	return out
}
