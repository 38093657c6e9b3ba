package catalog

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
)

func TestDefaultCatalogIsValid(t *testing.T) {
	c := Default()
	if c.Len() == 0 {
		t.Fatal("expected default catalog to contain definitions")
	}
	var ship, office int
	for _, def := range c.All() {
		switch def.Owner {
		case PartyShip:
			ship++
		case PartyOffice:
			office++
		}
	}
	if ship == 0 || office == 0 {
		t.Fatalf("expected both parties in default catalog, got ship=%d office=%d", ship, office)
	}
}

func TestNewRejectsInvalidDefinitions(t *testing.T) {
	tests := []struct {
		name string
		defs []Definition
	}{
		{name: "blank id", defs: []Definition{{ID: " ", DisplayName: "X", Owner: PartyShip}}},
		{name: "bad owner", defs: []Definition{{ID: "a", DisplayName: "A", Owner: "crew"}}},
		{name: "duplicate", defs: []Definition{
			{ID: "a", DisplayName: "A", Owner: PartyShip},
			{ID: "a", DisplayName: "A again", Owner: PartyOffice},
		}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := New(tt.defs); err == nil {
				t.Fatal("expected error")
			}
		})
	}
}

func TestLookupAndPosition(t *testing.T) {
	c, err := New([]Definition{
		{ID: "a", DisplayName: "A", Owner: PartyShip},
		{ID: "b", Owner: PartyOffice},
	})
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	def, ok := c.Lookup("b")
	if !ok {
		t.Fatal("expected b to be found")
	}
	if def.DisplayName != "b" {
		t.Fatalf("expected display name to default to id, got %q", def.DisplayName)
	}
	if c.Position("b") != 1 || c.Position("zzz") != -1 {
		t.Fatalf("unexpected positions: b=%d zzz=%d", c.Position("b"), c.Position("zzz"))
	}
	if _, err := c.MustLookup("zzz"); !errors.Is(err, ErrUnknownDefinition) {
		t.Fatalf("expected ErrUnknownDefinition, got %v", err)
	}
}

func TestLoadFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "catalog.yaml")
	content := `documents:
  - id: crew_list
    name: Crew List
    owner: ship
  - id: port_clearance
    name: Port Clearance
    owner: office
`
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write catalog: %v", err)
	}

	c, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	all := c.All()
	if len(all) != 2 {
		t.Fatalf("expected 2 definitions, got %d", len(all))
	}
	if all[0].ID != "crew_list" || all[0].Owner != PartyShip {
		t.Fatalf("unexpected first definition %+v", all[0])
	}
	if all[1].Owner != PartyOffice {
		t.Fatalf("unexpected second definition %+v", all[1])
	}
}

func TestLoadEmptyPathUsesDefault(t *testing.T) {
	c, err := Load("")
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if c.Len() != Default().Len() {
		t.Fatalf("expected default catalog, got %d definitions", c.Len())
	}
}

func TestParsePartyAliases(t *testing.T) {
	cases := map[string]Party{"ship": PartyShip, "Vessel": PartyShip, "office": PartyOffice, "ADMIN": PartyOffice}
	for input, want := range cases {
		got, err := ParseParty(input)
		if err != nil || got != want {
			t.Fatalf("ParseParty(%q) = %q, %v; want %q", input, got, err, want)
		}
	}
	if _, err := ParseParty("crew"); err == nil {
		t.Fatal("expected error for unknown party")
	}
}
