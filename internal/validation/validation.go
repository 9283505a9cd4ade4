// Package validation holds the field rules for groups, players, amounts and
// bad beats. Every check runs before any store access.
package validation

import (
	"strings"
	"unicode/utf8"

	"github.com/shopspring/decimal"
	"github.com/youtoss/ledger/internal/domain"
)

// DefaultPasscodeMinLength is the shortest passcode accepted for a group.
const DefaultPasscodeMinLength = 4

// MaxNameLength bounds group names and usernames.
const MaxNameLength = 64

// Name checks a required display name such as a group name or username.
func Name(errs *ValidationErrors, field, value string) {
	trimmed := strings.TrimSpace(value)
	if trimmed == "" {
		errs.Add(field, value, domain.ReasonEmptyField, "must not be empty")
		return
	}
	if trimmed != value {
		errs.Add(field, value, domain.ReasonEmptyField, "must not start or end with whitespace")
		return
	}
	if utf8.RuneCountInString(value) > MaxNameLength {
		errs.Add(field, value, domain.ReasonTooLong, "must be at most 64 characters")
	}
}

// Required checks that value is not blank.
func Required(errs *ValidationErrors, field, value string) {
	if strings.TrimSpace(value) == "" {
		errs.Add(field, value, domain.ReasonEmptyField, "must not be empty")
	}
}

// Passcode checks a group passcode against the minimum length.
func Passcode(errs *ValidationErrors, field, value string, minLength int) {
	if value == "" {
		errs.Add(field, "", domain.ReasonEmptyField, "must not be empty")
		return
	}
	if utf8.RuneCountInString(value) < minLength {
		errs.Add(field, "", domain.ReasonPasscodeTooShort, "is too short")
	}
}

// Amount checks a buy-in or cash-out: zero or positive, at most two decimal
// places.
func Amount(errs *ValidationErrors, field string, value decimal.Decimal) {
	if value.IsNegative() {
		errs.Add(field, value.String(), domain.ReasonNegativeAmount, "must not be negative")
		return
	}
	if !value.Equal(domain.Money(value)) {
		errs.Add(field, value.String(), domain.ReasonInvalidAmount, "must have at most 2 decimal places")
	}
}

// Amounts checks a username to amount map such as initial buy-ins or final
// cash-outs.
func Amounts(errs *ValidationErrors, field string, amounts map[string]decimal.Decimal) {
	for username, amount := range amounts {
		Name(errs, field+".username", username)
		Amount(errs, field+"["+username+"]", amount)
	}
}

// Usernames checks a list of usernames.
func Usernames(errs *ValidationErrors, field string, usernames []string) {
	if len(usernames) == 0 {
		errs.Add(field, "", domain.ReasonEmptyField, "must list at least one username")
		return
	}
	for _, u := range usernames {
		Name(errs, field, u)
	}
}

// BadBeat checks the players, hands and street of a bad beat.
func BadBeat(errs *ValidationErrors, bb domain.BadBeat) {
	Name(errs, "winner", bb.Winner)
	Name(errs, "loser", bb.Loser)
	if bb.Winner != "" && bb.Winner == bb.Loser {
		errs.Add("loser", bb.Loser, domain.ReasonSameWinnerLoser, "winner and loser must be different players")
	}
	if !bb.WinnerHand.Valid() {
		errs.Add("winner_hand", string(bb.WinnerHand), domain.ReasonInvalidEnumValue, "is not a known hand rank")
	}
	if !bb.LoserHand.Valid() {
		errs.Add("loser_hand", string(bb.LoserHand), domain.ReasonInvalidEnumValue, "is not a known hand rank")
	}
	if !bb.Street.Valid() {
		errs.Add("street", string(bb.Street), domain.ReasonInvalidEnumValue, "must be Flop, Turn or River")
	}
}

// DecodedSession checks a session loaded from storage. Stores call it so a
// malformed document fails at the boundary instead of at a read site.
func DecodedSession(s *domain.Session) error {
	var errs ValidationErrors
	Required(&errs, "id", s.ID)
	Required(&errs, "group_name", s.GroupName)
	seen := make(map[string]bool, len(s.Players))
	for _, p := range s.Players {
		Required(&errs, "players.username", p.Username)
		if seen[p.Username] {
			errs.Add("players.username", p.Username, domain.ReasonDuplicate, "is duplicated")
		}
		seen[p.Username] = true
		Amount(&errs, "players.buy_in", p.BuyIn)
		Amount(&errs, "players.cash_out", p.CashOut)
	}
	for _, bb := range s.BadBeats {
		BadBeat(&errs, bb)
	}
	if errs.HasErrors() {
		return errs
	}
	return nil
}
