package validation

import (
	"github.com/shopspring/decimal"
	"github.com/youtoss/ledger/internal/domain"
)

// StartSession checks the inputs of starting a session.
func StartSession(op, groupName string, players map[string]decimal.Decimal) error {
	var errs ValidationErrors
	Name(&errs, "group_name", groupName)
	Amounts(&errs, "players", players)
	return errs.Err(op)
}

// AddPlayers checks the inputs of seating players.
func AddPlayers(op, sessionID string, usernames []string) error {
	var errs ValidationErrors
	Required(&errs, "session_id", sessionID)
	Usernames(&errs, "usernames", usernames)
	return errs.Err(op)
}

// PlayerAmount checks a single buy-in or cash-out update.
func PlayerAmount(op, sessionID, username string, amount decimal.Decimal) error {
	var errs ValidationErrors
	Required(&errs, "session_id", sessionID)
	Name(&errs, "username", username)
	Amount(&errs, "amount", amount)
	return errs.Err(op)
}

// RecordBadBeat checks a bad beat before it is appended.
func RecordBadBeat(op, sessionID string, bb domain.BadBeat) error {
	var errs ValidationErrors
	Required(&errs, "session_id", sessionID)
	BadBeat(&errs, bb)
	return errs.Err(op)
}

// EndSession checks the final cash-outs.
func EndSession(op, sessionID string, cashOuts map[string]decimal.Decimal) error {
	var errs ValidationErrors
	Required(&errs, "session_id", sessionID)
	Amounts(&errs, "cash_outs", cashOuts)
	return errs.Err(op)
}

// SessionID checks a bare session id.
func SessionID(op, sessionID string) error {
	var errs ValidationErrors
	Required(&errs, "session_id", sessionID)
	return errs.Err(op)
}

// GroupCredentials checks a group name and passcode for create or join.
func GroupCredentials(op, name, passcode string, minPasscode int) error {
	var errs ValidationErrors
	Name(&errs, "name", name)
	Passcode(&errs, "passcode", passcode, minPasscode)
	return errs.Err(op)
}
