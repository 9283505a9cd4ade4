package merger

import (
	"github.com/shopspring/decimal"
	"github.com/youtoss/ledger/internal/domain"
)

// AddPlayers appends every username not already seated with zero buy-in and
// cash-out. Seated players are left untouched.
func AddPlayers(usernames []string) Mutation {
	return func(s *domain.Session) (bool, error) {
		if err := requireActive(s); err != nil {
			return false, err
		}
		changed := false
		for _, u := range usernames {
			if _, added := upsert(s, u); added {
				changed = true
			}
		}
		return changed, nil
	}
}

// SetBuyIn sets one player's buy-in, seating the player with a zero
// cash-out if absent.
func SetBuyIn(username string, amount decimal.Decimal) Mutation {
	return func(s *domain.Session) (bool, error) {
		if err := requireActive(s); err != nil {
			return false, err
		}
		amount = domain.Money(amount)
		i, added := upsert(s, username)
		if !added && s.Players[i].BuyIn.Equal(amount) {
			return false, nil
		}
		s.Players[i].BuyIn = amount
		return true, nil
	}
}

// SetCashOut sets one player's cash-out, seating the player with a zero
// buy-in if absent.
func SetCashOut(username string, amount decimal.Decimal) Mutation {
	return func(s *domain.Session) (bool, error) {
		if err := requireActive(s); err != nil {
			return false, err
		}
		amount = domain.Money(amount)
		i, added := upsert(s, username)
		if !added && s.Players[i].CashOut.Equal(amount) {
			return false, nil
		}
		s.Players[i].CashOut = amount
		return true, nil
	}
}
