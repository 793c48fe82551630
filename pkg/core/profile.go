package core

import (
	_ "embed"
	"fmt"
	"sync"

	"gopkg.in/yaml.v3"
)

//go:embed profiles.yaml
var profilesYAML []byte

// RoleProfile describes how a role presents itself.
type RoleProfile struct {
	Persona string   `yaml:"persona"`
	Title   string   `yaml:"title"`
	Label   string   `yaml:"label"`
	Focus   []string `yaml:"focus"`
}

// Profiles is the parsed role profile document.
type Profiles struct {
	Roles    map[Role]RoleProfile `yaml:"roles"`
	Combined struct {
		Title           string `yaml:"title"`
		SupportingTitle string `yaml:"supporting_title"`
	} `yaml:"combined"`
}

var (
	profilesOnce sync.Once
	profiles     *Profiles
	profilesErr  error
)

// ParseProfiles decodes a profile document and checks that every
// generating role is described.
func ParseProfiles(data []byte) (*Profiles, error) {
	var p Profiles
	if err := yaml.Unmarshal(data, &p); err != nil {
		return nil, fmt.Errorf("parse role profiles: %w", err)
	}
	for _, role := range CanonicalOrder {
		prof, ok := p.Roles[role]
		if !ok || prof.Title == "" || prof.Persona == "" {
			return nil, fmt.Errorf("role profile %q is incomplete", role)
		}
	}
	return &p, nil
}

// DefaultProfiles returns the embedded profiles. The document is part of
// the binary, so a parse failure is a programming error.
func DefaultProfiles() *Profiles {
	profilesOnce.Do(func() {
		profiles, profilesErr = ParseProfiles(profilesYAML)
	})
	if profilesErr != nil {
		panic(profilesErr)
	}
	return profiles
}

// Profile returns the profile for r. Unknown roles get an empty profile.
func (p *Profiles) Profile(r Role) RoleProfile {
	return p.Roles[r]
}

// Title returns the default card title for r.
func (p *Profiles) Title(r Role) string {
	if r == RoleCombined {
		return p.Combined.Title
	}
	if t := p.Roles[r].Title; t != "" {
		return t
	}
	return string(r)
}
