package domain

import (
	"sort"
	"time"
)

// Stock holds the derived counts for a title. Copies discarded to the
// community collection are excluded, so Total == Available + Loaned + Lost.
type Stock struct {
	Total     int32 `json:"total"`
	Available int32 `json:"available"`
	Loaned    int32 `json:"loaned"`
	Lost      int32 `json:"lost"`
}

// StockOf aggregates the copies of one title.
func StockOf(copies []Copy) Stock {
	var s Stock
	for i := range copies {
		switch copies[i].State {
		case CopyStateInLibrary:
			s.Available++
		case CopyStateLoaned:
			s.Loaned++
		case CopyStateLost:
			s.Lost++
		default:
			continue
		}
		s.Total++
	}
	return s
}

// TitleSummary is one row of the catalog listing.
type TitleSummary struct {
	TitleID              int32     `json:"title_id"`
	Name                 string    `json:"name"`
	Author               string    `json:"author"`
	Stock                Stock     `json:"stock"`
	RepresentativeCopyID int32     `json:"representative_copy_id"`
	LastRegisteredOn     time.Time `json:"last_registered_on"`
}

// CopyWithLoan is a copy plus the summary of its open loan, if any.
type CopyWithLoan struct {
	Copy
	ActiveLoan *LoanSummary `json:"active_loan,omitempty"`
}

var copyStateRank = map[CopyState]int{
	CopyStateInLibrary:        0,
	CopyStateLoaned:           1,
	CopyStateLost:             2,
	CopyStateCommunityDiscard: 3,
}

// SortCopies orders copies available first, then loaned, lost and
// discarded; ties are broken by inventory code.
func SortCopies(copies []CopyWithLoan) {
	sort.SliceStable(copies, func(i, j int) bool {
		ri, rj := copyStateRank[copies[i].State], copyStateRank[copies[j].State]
		if ri != rj {
			return ri < rj
		}
		return copies[i].InventoryCode < copies[j].InventoryCode
	})
}

// NextAvailableCopy returns the first shelved copy that carries no open
// loan, following catalog order, or nil.
func NextAvailableCopy(copies []CopyWithLoan) *Copy {
	for i := range copies {
		if copies[i].Shelved() && copies[i].ActiveLoan == nil {
			c := copies[i].Copy
			return &c
		}
	}
	return nil
}

// EstimateAvailability projects when a title can be lent again. With a
// shelved copy it is now. Otherwise it is the earliest end date among the
// title's approved or in-progress loans plus the buffer, or nil when no such
// loan exists.
func EstimateAvailability(stock Stock, openLoans []Loan, now time.Time) *time.Time {
	if stock.Available > 0 {
		t := now
		return &t
	}
	var earliest *time.Time
	for i := range openLoans {
		l := &openLoans[i]
		if l.State != LoanStateInProgress && l.State != LoanStateApproved {
			continue
		}
		if earliest == nil || l.EndDate.Before(*earliest) {
			end := l.EndDate
			earliest = &end
		}
	}
	if earliest == nil {
		return nil
	}
	est := earliest.AddDate(0, 0, AvailabilityBufferDays)
	return &est
}
