package checklist

import (
	"fmt"
	"sort"
	"strings"

	"prearrival/api/internal/catalog"
	"prearrival/api/internal/rbac"
)

type Filter string

const (
	FilterAll      Filter = "all"
	FilterApproved Filter = "approved"
	FilterRejected Filter = "rejected"
	FilterPending  Filter = "pending"
)

func ParseFilter(value string) (Filter, error) {
	switch f := Filter(strings.ToLower(strings.TrimSpace(value))); f {
	case "":
		return FilterAll, nil
	case FilterAll, FilterApproved, FilterRejected, FilterPending:
		return f, nil
	default:
		return "", validationError("status", fmt.Sprintf("unknown status filter %q", value))
	}
}

func (f Filter) Match(rec Record) bool {
	switch f {
	case FilterApproved:
		return rec.Status == StatusApproved
	case FilterRejected:
		return rec.Status == StatusRejected
	case FilterPending:
		return rec.HasFile() && !rec.Status.Decided()
	default:
		return true
	}
}

// VisibleDocuments selects the definitions the caller may see, in display
// order. In read-only mode only approved slots are returned and catalog
// order is kept; otherwise ship documents come before office documents.
func VisibleDocuments(cat *catalog.Catalog, records Records, caps rbac.Capabilities, readOnly bool, filter Filter) []catalog.Definition {
	out := make([]catalog.Definition, 0, cat.Len())
	for _, def := range cat.All() {
		if !rbac.Evaluate(caps, def).CanView {
			continue
		}
		rec := records.Get(def.ID)
		if readOnly && rec.Status != StatusApproved {
			continue
		}
		if !filter.Match(rec) {
			continue
		}
		out = append(out, def)
	}
	if !readOnly {
		sort.SliceStable(out, func(i, j int) bool {
			return out[i].Owner == catalog.PartyShip && out[j].Owner != catalog.PartyShip
		})
	}
	return out
}
