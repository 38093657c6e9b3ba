// Package catalog defines the fixed list of documents a port call must
// collect before arrival and which party is responsible for each one.
package catalog

import (
	"errors"
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

// Party is the side of a port call that owns a document slot.
type Party string

const (
	PartyShip   Party = "ship"
	PartyOffice Party = "office"
)

func (p Party) Valid() bool {
	return p == PartyShip || p == PartyOffice
}

// ParseParty accepts the wire spellings used by the upload form.
func ParseParty(value string) (Party, error) {
	switch strings.ToLower(strings.TrimSpace(value)) {
	case "ship", "vessel":
		return PartyShip, nil
	case "office", "admin", "shore":
		return PartyOffice, nil
	default:
		return "", fmt.Errorf("unknown party %q", value)
	}
}

// Definition describes one required document.
type Definition struct {
	ID          string `yaml:"id" json:"id"`
	DisplayName string `yaml:"name" json:"name"`
	Owner       Party  `yaml:"owner" json:"owner"`
}

// Catalog is ordered; the order is the display order of the checklist.
type Catalog struct {
	defs  []Definition
	index map[string]int
}

var ErrUnknownDefinition = errors.New("unknown document definition")

func New(defs []Definition) (*Catalog, error) {
	c := &Catalog{
		defs:  make([]Definition, 0, len(defs)),
		index: make(map[string]int, len(defs)),
	}
	for i, def := range defs {
		def.ID = strings.TrimSpace(def.ID)
		def.DisplayName = strings.TrimSpace(def.DisplayName)
		if def.ID == "" {
			return nil, fmt.Errorf("definition %d: id is required", i)
		}
		if def.DisplayName == "" {
			def.DisplayName = def.ID
		}
		if !def.Owner.Valid() {
			return nil, fmt.Errorf("definition %s: invalid owner %q", def.ID, def.Owner)
		}
		if _, dup := c.index[def.ID]; dup {
			return nil, fmt.Errorf("definition %s: duplicate id", def.ID)
		}
		c.index[def.ID] = len(c.defs)
		c.defs = append(c.defs, def)
	}
	return c, nil
}

// All returns a copy of the definitions in catalog order.
func (c *Catalog) All() []Definition {
	out := make([]Definition, len(c.defs))
	copy(out, c.defs)
	return out
}

func (c *Catalog) Len() int { return len(c.defs) }

func (c *Catalog) Lookup(id string) (Definition, bool) {
	i, ok := c.index[id]
	if !ok {
		return Definition{}, false
	}
	return c.defs[i], true
}

// MustLookup is Lookup returning ErrUnknownDefinition instead of a bool.
func (c *Catalog) MustLookup(id string) (Definition, error) {
	def, ok := c.Lookup(id)
	if !ok {
		return Definition{}, fmt.Errorf("%w: %s", ErrUnknownDefinition, id)
	}
	return def, nil
}

// Position returns the catalog order of id, or -1.
func (c *Catalog) Position(id string) int {
	i, ok := c.index[id]
	if !ok {
		return -1
	}
	return i
}

type fileFormat struct {
	Documents []Definition `yaml:"documents"`
}

// LoadFile reads a catalog from a YAML file of the form:
//
//	documents:
//	  - id: crew_list
//	    name: Crew List
//	    owner: ship
func LoadFile(path string) (*Catalog, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read catalog %s: %w", path, err)
	}
	return Parse(raw)
}

func Parse(raw []byte) (*Catalog, error) {
	var parsed fileFormat
	if err := yaml.Unmarshal(raw, &parsed); err != nil {
		return nil, fmt.Errorf("parse catalog: %w", err)
	}
	if len(parsed.Documents) == 0 {
		return nil, errors.New("parse catalog: no documents defined")
	}
	return New(parsed.Documents)
}

// Load returns the catalog at path, or the built-in one when path is empty.
func Load(path string) (*Catalog, error) {
	if strings.TrimSpace(path) == "" {
		return Default(), nil
	}
	return LoadFile(path)
}
