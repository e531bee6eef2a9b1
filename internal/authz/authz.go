// Package authz decides who may act on administered resources.
//
// The resources that carry an admin list form a closed set: events and
// distribution groups. Resource is sealed so a new kind has to be added
// here, next to its IsAdministeredBy rule.
package authz

import "slices"

// Principal is the authenticated caller.
type Principal struct {
	UserID uint64
	Staff  bool
}

// Resource is an administered entity.
type Resource interface {
	IsAdministeredBy(p Principal) bool
	resource()
}

// EventResource is an event together with its admin list.
type EventResource struct {
	EventID  uint64
	AdminIDs []uint64
}

func (r EventResource) IsAdministeredBy(p Principal) bool {
	return slices.Contains(r.AdminIDs, p.UserID)
}

func (EventResource) resource() {}

// GroupResource is a distribution group together with its admin list.
type GroupResource struct {
	GroupID  uint64
	AdminIDs []uint64
}

func (r GroupResource) IsAdministeredBy(p Principal) bool {
	return slices.Contains(r.AdminIDs, p.UserID)
}

func (GroupResource) resource() {}

// CanManage reports whether p is staff or administers any of rs. Nil
// entries are skipped, so an event without a group passes a nil group.
func CanManage(p Principal, rs ...Resource) bool {
	if p.Staff {
		return true
	}
	for _, r := range rs {
		if r != nil && r.IsAdministeredBy(p) {
			return true
		}
	}
	return false
}
