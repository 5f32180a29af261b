package domain

import "strings"

// Role is the closed set of account kinds.
type Role string

const (
	RoleTraveller Role = "traveller"
	RoleAdmin     Role = "admin"
	RolePlanner   Role = "planner"
	RoleVendor    Role = "vendor"
)

// Capability names an action gated by role.
type Capability string

const (
	CapPlanTrips       Capability = "plan_trips"
	CapManageItinerary Capability = "manage_itinerary"
	CapManageServices  Capability = "manage_services"
	CapViewBookings    Capability = "view_bookings"
	CapManageUsers     Capability = "manage_users"
	CapViewAnalytics   Capability = "view_analytics"
)

var capabilities = map[Role]map[Capability]struct{}{
	RoleTraveller: {
		CapPlanTrips:       {},
		CapManageItinerary: {},
	},
	RolePlanner: {
		CapPlanTrips:       {},
		CapManageItinerary: {},
		CapViewBookings:    {},
	},
	RoleVendor: {
		CapManageServices: {},
		CapViewBookings:   {},
	},
	RoleAdmin: {
		CapPlanTrips:       {},
		CapManageItinerary: {},
		CapManageServices:  {},
		CapViewBookings:    {},
		CapManageUsers:     {},
		CapViewAnalytics:   {},
	},
}

// ParseRole maps free-form input onto the closed set.
func ParseRole(s string) (Role, bool) {
	r := Role(strings.ToLower(strings.TrimSpace(s)))
	_, ok := capabilities[r]
	return r, ok
}

// Valid reports whether r is one of the known roles.
func (r Role) Valid() bool {
	_, ok := capabilities[r]
	return ok
}

// Can is the single capability check used by every role gate.
func (r Role) Can(c Capability) bool {
	caps, ok := capabilities[r]
	if !ok {
		return false
	}
	_, allowed := caps[c]
	return allowed
}

// SelfRegistrable reports whether the role may be chosen at public sign-up.
func (r Role) SelfRegistrable() bool {
	return r.Valid() && r != RoleAdmin
}
