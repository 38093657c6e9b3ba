package rbac

import (
	"strings"

	"prearrival/api/internal/catalog"
)

// Capability is a "resource:action" grant. "*" may stand for either half.
type Capability string

const (
	CapSuperAdmin Capability = "*:*"
	CapSeeAll     Capability = "prearrival:see_all"
	CapAdmin      Capability = "prearrival:admin"
	CapVerify     Capability = "prearrival:verify"
	CapUpload     Capability = "prearrival:upload"
)

const wildcard = "*"

func (c Capability) split() (string, string) {
	resource, action, ok := strings.Cut(string(c), ":")
	if !ok {
		return "", ""
	}
	return resource, action
}

// Matches reports whether holding c grants requested.
func (c Capability) Matches(requested Capability) bool {
	if c == requested || c == CapSuperAdmin {
		return true
	}
	res, act := c.split()
	reqRes, _ := requested.split()
	return res != "" && res == reqRes && act == wildcard
}

// Capabilities is the set of grants a caller holds. The permission engine
// that produces it is outside this service.
type Capabilities []Capability

func Parse(values []string) Capabilities {
	caps := make(Capabilities, 0, len(values))
	for _, v := range values {
		v = strings.TrimSpace(v)
		if v == "" {
			continue
		}
		caps = append(caps, Capability(v))
	}
	return caps
}

func (cs Capabilities) Has(requested Capability) bool {
	for _, c := range cs {
		if c.Matches(requested) {
			return true
		}
	}
	return false
}

func (cs Capabilities) Strings() []string {
	out := make([]string, len(cs))
	for i, c := range cs {
		out[i] = string(c)
	}
	return out
}

// Privileged is true for see-all or administrative callers.
func (cs Capabilities) Privileged() bool {
	return cs.Has(CapSeeAll) || cs.Has(CapAdmin)
}

// Access is what a caller may do with one document slot.
type Access struct {
	CanView   bool `json:"canView"`
	CanUpload bool `json:"canUpload"`
	CanVerify bool `json:"canVerify"`
}

// Evaluate maps a caller's capabilities and a definition to the actions the
// caller may take on that slot.
func Evaluate(caps Capabilities, def catalog.Definition) Access {
	privileged := caps.Privileged()
	verifier := caps.Has(CapVerify)
	uploader := caps.Has(CapUpload)

	var access Access
	switch {
	case privileged:
		access.CanView = true
	case verifier:
		access.CanView = def.Owner == catalog.PartyOffice
	case uploader:
		access.CanView = def.Owner == catalog.PartyShip
	}
	if !access.CanView {
		return Access{}
	}

	switch {
	case privileged:
		access.CanUpload = true
	case def.Owner == catalog.PartyShip:
		access.CanUpload = uploader
	case def.Owner == catalog.PartyOffice:
		access.CanUpload = verifier
	}

	access.CanVerify = def.Owner == catalog.PartyShip && (privileged || verifier)
	return access
}

// PartyOf is the side a caller speaks for in the history log.
func PartyOf(caps Capabilities) catalog.Party {
	if caps.Privileged() || caps.Has(CapVerify) {
		return catalog.PartyOffice
	}
	return catalog.PartyShip
}
