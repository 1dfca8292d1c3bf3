package service_test

import (
	"errors"
	"fmt"
	"math/rand"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"library-circulation-backend/internal/domain"
	"library-circulation-backend/internal/repository"
)

// TestRandomOperationsKeepCopiesAndLoansConsistent drives the engine with a
// seeded random mix of operations and checks the copy/loan invariants after
// every step.
func TestRandomOperationsKeepCopiesAndLoansConsistent(t *testing.T) {
	for _, seed := range []int64{1, 7, 42, 2026} {
		t.Run(fmt.Sprintf("seed_%d", seed), func(t *testing.T) {
			rng := rand.New(rand.NewSource(seed))
			e := newEnv(t)

			var copies []*domain.Copy
			for _, name := range []string{"Alpha", "Alpha", "Beta", "Gamma", "Gamma", "Gamma"} {
				copies = append(copies, e.addCopy(t, name, "Author"))
			}
			var patrons []*domain.Patron
			for _, nid := range []string{"R1", "R2", "R3", "R4"} {
				patrons = append(patrons, e.addPatron(t, nid))
			}

			for step := 0; step < 300; step++ {
				if step%25 == 0 {
					e.clock.Set(e.clock.Now().Add(72 * time.Hour))
				}
				start := e.clock.Now()
				end := start.AddDate(0, 0, rng.Intn(10))
				loanID := int32(rng.Intn(40) + 1)

				var err error
				switch rng.Intn(9) {
				case 0:
					_, err = e.directLoan(copies[rng.Intn(len(copies))].ID, start, end)
				case 1, 2:
					p := patrons[rng.Intn(len(patrons))]
					_, err = e.reserve(p, copies[rng.Intn(len(copies))].TitleID, start.AddDate(0, 0, rng.Intn(20)), end.AddDate(0, 0, 20))
				case 3:
					_, err = e.loans.Approve(e.ctx, staff, loanID)
				case 4:
					_, err = e.loans.Reject(e.ctx, staff, loanID, "no")
				case 5:
					_, err = e.loans.Activate(e.ctx, staff, loanID)
				case 6:
					_, err = e.loans.MarkReturned(e.ctx, staff, loanID)
				case 7:
					_, err = e.loans.MarkOverdue(e.ctx, domain.SystemActor, loanID)
				case 8:
					if rng.Intn(4) == 0 {
						_, err = e.loans.MarkLost(e.ctx, staff, loanID)
					}
				}
				if err != nil {
					require.True(t, domain.IsGuardViolation(err) || errors.Is(err, domain.ErrNotFound),
						"step %d: unexpected error %v", step, err)
				}
				checkInvariants(t, e)
			}
		})
	}
}

func checkInvariants(t *testing.T, e *env) {
	t.Helper()
	repos := e.store.Repos()

	openByCopy := map[int32]int{}
	possessedCopies := map[int32]bool{}
	openByPatron := map[int32]int{}
	for _, state := range []domain.LoanState{
		domain.LoanStatePending, domain.LoanStateApproved, domain.LoanStateInProgress, domain.LoanStateOverdue,
	} {
		loans, _, err := repos.Loans.ListByState(e.ctx, state, 1, 1000)
		require.NoError(t, err)
		for _, l := range loans {
			if l.PatronID != nil {
				openByPatron[*l.PatronID]++
			}
			if l.CopyID == nil {
				require.Equal(t, domain.LoanStatePending, l.State, "only queued reservations lack a copy")
				continue
			}
			openByCopy[*l.CopyID]++
			if l.State.Possessing() {
				possessedCopies[*l.CopyID] = true
			}
		}
	}

	for copyID, n := range openByCopy {
		require.Equal(t, 1, n, "copy %d has %d open loans", copyID, n)
	}
	for patronID, n := range openByPatron {
		require.LessOrEqual(t, n, domain.MaxOpenLoansPerPatron, "patron %d", patronID)
	}

	summaries, _, err := repos.Catalog.ListTitleSummaries(e.ctx, repository.CatalogFilter{Page: 1, PageSize: 100})
	require.NoError(t, err)
	for _, s := range summaries {
		st := s.Stock
		require.Equal(t, st.Total, st.Available+st.Loaned+st.Lost)

		copies, err := repos.Copies.ListByTitle(e.ctx, s.TitleID)
		require.NoError(t, err)
		for _, c := range copies {
			switch c.State {
			case domain.CopyStateLoaned:
				require.True(t, possessedCopies[c.ID], "copy %d is loaned without a possessing loan", c.ID)
			case domain.CopyStateInLibrary:
				require.False(t, possessedCopies[c.ID], "copy %d is shelved but possessed", c.ID)
			}
		}
	}
}
