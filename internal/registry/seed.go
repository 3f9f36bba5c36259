package registry

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// yamlSeedFile is the top-level YAML structure for seed room files.
type yamlSeedFile struct {
	Rooms []yamlSeedRoom `yaml:"rooms"`
}

// yamlSeedRoom is the YAML representation of a preloaded room.
type yamlSeedRoom struct {
	Name        string `yaml:"name"`
	Description string `yaml:"description"`
	Password    string `yaml:"password"`
}

// SeedRoomSpec describes a room to create at startup.
type SeedRoomSpec struct {
	Name        string
	Description string
	Password    string
}

// LoadSeedRoomsFromFile reads seed rooms from a YAML file.
//
// Precondition: path must point to a YAML file with a top-level "rooms" list.
// Postcondition: Returns the parsed rooms or a non-nil error.
func LoadSeedRoomsFromFile(path string) ([]SeedRoomSpec, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading seed rooms file %s: %w", path, err)
	}
	return LoadSeedRoomsFromBytes(data)
}

// LoadSeedRoomsFromBytes parses and validates seed rooms from YAML bytes.
//
// Postcondition: Every returned room has a non-empty, unique name.
func LoadSeedRoomsFromBytes(data []byte) ([]SeedRoomSpec, error) {
	var f yamlSeedFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("parsing seed rooms YAML: %w", err)
	}

	seen := make(map[string]bool, len(f.Rooms))
	specs := make([]SeedRoomSpec, 0, len(f.Rooms))
	for i, yr := range f.Rooms {
		if yr.Name == "" {
			return nil, fmt.Errorf("seed room %d: %w", i, ErrInvalidName)
		}
		if seen[yr.Name] {
			return nil, fmt.Errorf("seed room %d: duplicate name %q", i, yr.Name)
		}
		seen[yr.Name] = true
		specs = append(specs, SeedRoomSpec{
			Name:        yr.Name,
			Description: yr.Description,
			Password:    yr.Password,
		})
	}
	return specs, nil
}

// Seed creates every room in specs, in order.
//
// Postcondition: Returns the number of rooms created, stopping at the first error.
func (r *Registry) Seed(specs []SeedRoomSpec) (int, error) {
	for i, s := range specs {
		if err := r.SeedRoom(s.Name, s.Description, s.Password); err != nil {
			return i, fmt.Errorf("seeding room %q: %w", s.Name, err)
		}
	}
	return len(specs), nil
}
