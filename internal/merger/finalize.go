package merger

import (
	"sort"
	"time"

	"github.com/shopspring/decimal"
	"github.com/youtoss/ledger/internal/domain"
)

// Finalize merges the final cash-outs and ends the session.
//
// Players named in cashOuts get that cash-out; unknown names are seated with
// a zero buy-in. Players not named keep the cash-out already recorded, which
// is zero unless it was set during play. An ended session is returned
// unchanged so a retried end never re-merges amounts.
func Finalize(cashOuts map[string]decimal.Decimal, endedAt time.Time) Mutation {
	return func(s *domain.Session) (bool, error) {
		if !s.IsActive {
			return false, nil
		}

		names := make([]string, 0, len(cashOuts))
		for u := range cashOuts {
			names = append(names, u)
		}
		sort.Strings(names)

		for _, u := range names {
			i, _ := upsert(s, u)
			s.Players[i].CashOut = domain.Money(cashOuts[u])
		}

		s.IsActive = false
		t := endedAt
		s.EndedAt = &t
		return true, nil
	}
}
