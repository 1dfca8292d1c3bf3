package domain

import (
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestTitleKey(t *testing.T) {
	assert.Equal(t, TitleKey("The Hobbit", "J. R. R. Tolkien"), TitleKey("  the   HOBBIT ", "j. r. r. tolkien"))
	assert.Equal(t, TitleKey("Café", "A"), TitleKey("Café", "a"))
	assert.NotEqual(t, TitleKey("The Hobbit", "Tolkien"), TitleKey("The Hobbit", "Someone Else"))
	// the separator keeps (ab, c) and (a, bc) apart
	assert.NotEqual(t, TitleKey("ab", "c"), TitleKey("a", "bc"))
}

func TestStockOf(t *testing.T) {
	loc := int32(1)
	copies := []Copy{
		{ID: 1, State: CopyStateInLibrary, LocationID: &loc},
		{ID: 2, State: CopyStateInLibrary},
		{ID: 3, State: CopyStateLoaned},
		{ID: 4, State: CopyStateLost},
		{ID: 5, State: CopyStateCommunityDiscard},
	}

	s := StockOf(copies)
	assert.Equal(t, Stock{Total: 4, Available: 2, Loaned: 1, Lost: 1}, s)
	assert.Equal(t, s.Total, s.Available+s.Loaned+s.Lost)
	assert.Equal(t, Stock{}, StockOf(nil))
}

func TestSortCopiesAndNextAvailable(t *testing.T) {
	copies := []CopyWithLoan{
		{Copy: Copy{ID: 1, InventoryCode: "C", State: CopyStateLost}},
		{Copy: Copy{ID: 2, InventoryCode: "B", State: CopyStateLoaned}, ActiveLoan: &LoanSummary{LoanID: 9}},
		{Copy: Copy{ID: 3, InventoryCode: "Z", State: CopyStateInLibrary}},
		{Copy: Copy{ID: 4, InventoryCode: "A", State: CopyStateInLibrary}, ActiveLoan: &LoanSummary{LoanID: 10, State: LoanStatePending}},
		{Copy: Copy{ID: 5, InventoryCode: "A", State: CopyStateCommunityDiscard}},
	}

	SortCopies(copies)

	var ids []int32
	for _, c := range copies {
		ids = append(ids, c.ID)
	}
	assert.Equal(t, []int32{4, 3, 2, 1, 5}, ids)

	next := NextAvailableCopy(copies)
	if assert.NotNil(t, next) {
		// copy 4 is shelved but already reserved
		assert.Equal(t, int32(3), next.ID)
	}

	assert.Nil(t, NextAvailableCopy(copies[2:]))
}

func TestEstimateAvailability(t *testing.T) {
	now := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	day := func(n int) time.Time { return time.Date(2024, 5, 1, 0, 0, 0, 0, time.UTC).AddDate(0, 0, n) }

	t.Run("Available copy means now", func(t *testing.T) {
		est := EstimateAvailability(Stock{Total: 1, Available: 1}, nil, now)
		if assert.NotNil(t, est) {
			assert.Equal(t, now, *est)
		}
	})

	t.Run("Earliest active loan plus buffer", func(t *testing.T) {
		loans := []Loan{
			{State: LoanStateInProgress, EndDate: day(9)},
			{State: LoanStateApproved, EndDate: day(5)},
			{State: LoanStateOverdue, EndDate: day(-20)},
			{State: LoanStatePending, EndDate: day(1)},
		}
		est := EstimateAvailability(Stock{Total: 2, Loaned: 2}, loans, now)
		if assert.NotNil(t, est) {
			assert.Equal(t, day(10), *est)
		}
	})

	t.Run("No active loan means unknown", func(t *testing.T) {
		est := EstimateAvailability(Stock{Total: 1, Lost: 1}, nil, now)
		assert.Nil(t, est)
	})
}

func TestCopyValidate(t *testing.T) {
	loc := int32(3)

	c := Copy{TitleID: 1, State: CopyStateCommunityDiscard, LocationID: &loc}
	err := c.Validate()
	assert.True(t, errors.Is(err, ErrInvalidArgument))

	c.LocationID = nil
	assert.NoError(t, c.Validate())

	c.State = "shredded"
	assert.Error(t, c.Validate())
}

func TestLoanStatePredicates(t *testing.T) {
	for _, s := range OpenLoanStates {
		assert.True(t, s.Open(), s)
	}
	assert.False(t, LoanStateReturned.Open())
	assert.False(t, LoanStateRejected.Open())
	assert.False(t, LoanStateLost.Open())

	assert.False(t, LoanStatePending.Possessing())
	assert.True(t, LoanStateApproved.Possessing())
	assert.True(t, LoanStateOverdue.Possessing())
}

func TestPatronSanction(t *testing.T) {
	now := time.Date(2024, 6, 1, 0, 0, 0, 0, time.UTC)
	past := now.Add(-time.Hour)
	future := now.Add(time.Hour)

	p := &Patron{Sanctioned: true, SanctionExpiry: &past, SanctionReason: "x"}
	assert.True(t, p.SanctionExpired(now))

	p.SanctionExpiry = &future
	assert.False(t, p.SanctionExpired(now))

	p.ClearSanction()
	assert.False(t, p.Sanctioned)
	assert.Nil(t, p.SanctionExpiry)
	assert.Empty(t, p.SanctionReason)
}

func TestAgeOn(t *testing.T) {
	birth := time.Date(2000, 6, 15, 0, 0, 0, 0, time.UTC)
	assert.Equal(t, int32(23), AgeOn(birth, time.Date(2024, 6, 14, 0, 0, 0, 0, time.UTC)))
	assert.Equal(t, int32(24), AgeOn(birth, time.Date(2024, 6, 15, 0, 0, 0, 0, time.UTC)))
	assert.Equal(t, int32(0), AgeOn(birth, time.Date(1999, 1, 1, 0, 0, 0, 0, time.UTC)))
}

func TestGuardViolationMatching(t *testing.T) {
	est := time.Date(2024, 1, 10, 0, 0, 0, 0, time.UTC)
	err := fmt.Errorf("create reservation: %w", &GuardViolation{
		Code:                  CodeDateBeforeEstimatedAvailability,
		Reason:                "requested start precedes estimated availability",
		EstimatedAvailability: &est,
	})

	assert.True(t, errors.Is(err, ErrDateBeforeEstimatedAvailability))
	assert.False(t, errors.Is(err, ErrNotPending))
	assert.True(t, IsGuardViolation(err))

	var gv *GuardViolation
	if assert.True(t, errors.As(err, &gv)) {
		assert.Equal(t, est, *gv.EstimatedAvailability)
	}

	nf := fmt.Errorf("lookup: %w", NotFound("loan", int32(7)))
	assert.True(t, errors.Is(nf, ErrNotFound))
	assert.Equal(t, "lookup: loan 7 not found", nf.Error())
	assert.False(t, IsGuardViolation(nf))
}
