package config

import "library-circulation-backend/internal/domain"

type SecurityLevel int

const (
	SecurityPublic  SecurityLevel = iota // No authentication
	SecurityAccess                       // Any valid access token
	SecurityStaff                        // Staff token required
	SecurityPatron                       // Patron token required
)

// RouteSecurityConfig maps HTTP route names to their required security level.
// Routes that are not listed require an access token.
var RouteSecurityConfig = map[string]SecurityLevel{
	"Health": SecurityPublic,

	// Catalog - Public
	"ListTitles":            SecurityPublic,
	"CopiesOf":              SecurityPublic,
	"StockOf":               SecurityPublic,
	"EstimatedAvailability": SecurityPublic,

	// Inventory - Staff
	"RegisterCopy":       SecurityStaff,
	"RegisterCopies":     SecurityStaff,
	"UpdateCondition":    SecurityStaff,
	"RelocateCopy":       SecurityStaff,
	"DiscardToCommunity": SecurityStaff,
	"DeleteCopy":         SecurityStaff,

	// Loans - Staff
	"CreateDirectLoan": SecurityStaff,
	"ListLoans":        SecurityStaff,
	"ApproveLoan":      SecurityStaff,
	"RejectLoan":       SecurityStaff,
	"ActivateLoan":     SecurityStaff,
	"ReturnLoan":       SecurityStaff,
	"LoseLoan":         SecurityStaff,
	"OverdueLoan":      SecurityStaff,

	// Reservations - Access (patrons reserve for themselves, staff on their behalf)
	"CreateReservation": SecurityAccess,
	"CancelReservation": SecurityPatron,
	"GetLoan":           SecurityAccess,
	"MyLoans":           SecurityPatron,

	// Patrons - Staff
	"RegisterPatron":  SecurityStaff,
	"GetPatron":       SecurityStaff,
	"SetPatronActive": SecurityStaff,
	"LiftSanction":    SecurityStaff,
}

// GetSecurityLevel returns the level for a route name
func GetSecurityLevel(route string) SecurityLevel {
	if level, ok := RouteSecurityConfig[route]; ok {
		return level
	}
	return SecurityAccess
}

// Allows reports whether an actor of the given kind may call a route at level.
func (l SecurityLevel) Allows(kind domain.ActorKind) bool {
	switch l {
	case SecurityStaff:
		return kind == domain.ActorStaff
	case SecurityPatron:
		return kind == domain.ActorPatron
	default:
		return true
	}
}
