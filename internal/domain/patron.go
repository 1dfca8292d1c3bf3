package domain

import "time"

const (
	// MaxOpenLoansPerPatron caps a patron's non-terminal loans.
	MaxOpenLoansPerPatron = 3
	// SanctionThresholdDays is the overdue length after which a patron is sanctioned.
	SanctionThresholdDays = 30
	// SanctionMonths is how long an automatic sanction lasts.
	SanctionMonths = 3
	// AvailabilityBufferDays is added to the end date of the active loan
	// when projecting when a title becomes available again.
	AvailabilityBufferDays = 5
)

type Patron struct {
	ID         int32      `json:"id"`
	NationalID string     `json:"national_id"`
	Email      string     `json:"email"`
	Name       string     `json:"name"`
	BirthDate  *time.Time `json:"birth_date,omitempty"`
	Phone      string     `json:"phone"`
	Address    string     `json:"address"`
	Active     bool       `json:"active"`

	Sanctioned     bool       `json:"sanctioned"`
	SanctionExpiry *time.Time `json:"sanction_expiry,omitempty"`
	SanctionReason string     `json:"sanction_reason,omitempty"`

	CreatedOn time.Time `json:"created_on"`
	UpdatedOn time.Time `json:"updated_on"`
}

// SanctionExpired reports whether a stored sanction has lapsed at now.
func (p *Patron) SanctionExpired(now time.Time) bool {
	return p.Sanctioned && p.SanctionExpiry != nil && now.After(*p.SanctionExpiry)
}

// ClearSanction resets all sanction fields.
func (p *Patron) ClearSanction() {
	p.Sanctioned = false
	p.SanctionExpiry = nil
	p.SanctionReason = ""
}

// Snapshot copies the patron's identity into a loan borrower snapshot.
func (p *Patron) Snapshot(on time.Time) Borrower {
	b := Borrower{
		Name:       p.Name,
		NationalID: p.NationalID,
		BirthDate:  p.BirthDate,
		Phone:      p.Phone,
		Address:    p.Address,
	}
	if p.BirthDate != nil {
		b.Age = AgeOn(*p.BirthDate, on)
	}
	return b
}

// AgeOn returns the age in whole years on the given day.
func AgeOn(birth, on time.Time) int32 {
	years := on.Year() - birth.Year()
	if on.Month() < birth.Month() || (on.Month() == birth.Month() && on.Day() < birth.Day()) {
		years--
	}
	if years < 0 {
		return 0
	}
	return int32(years)
}
