package domain

import (
	"slices"
	"time"

	"github.com/shopspring/decimal"
)

// HandRank is a poker hand category recorded on a bad beat.
type HandRank string

const (
	HandTwoPair       HandRank = "Two Pair"
	HandTrips         HandRank = "Trips"
	HandStraight      HandRank = "Straight"
	HandFlush         HandRank = "Flush"
	HandFullHouse     HandRank = "Full House"
	HandQuads         HandRank = "Quads"
	HandStraightFlush HandRank = "Straight Flush"
	HandRoyalFlush    HandRank = "Royal Flush"
)

// HandRanks lists the accepted hand ranks from weakest to strongest.
var HandRanks = []HandRank{
	HandTwoPair, HandTrips, HandStraight, HandFlush,
	HandFullHouse, HandQuads, HandStraightFlush, HandRoyalFlush,
}

// Valid reports whether h is one of HandRanks.
func (h HandRank) Valid() bool {
	return slices.Contains(HandRanks, h)
}

// Street is the betting round on which a bad beat landed.
type Street string

const (
	StreetFlop  Street = "Flop"
	StreetTurn  Street = "Turn"
	StreetRiver Street = "River"
)

// Streets lists the accepted streets in deal order.
var Streets = []Street{StreetFlop, StreetTurn, StreetRiver}

// Valid reports whether s is one of Streets.
func (s Street) Valid() bool {
	return slices.Contains(Streets, s)
}

// SessionPlayer is one participant's money in a session.
type SessionPlayer struct {
	Username string          `json:"username"`
	BuyIn    decimal.Decimal `json:"buy_in"`
	CashOut  decimal.Decimal `json:"cash_out"`
}

// Net is cash-out minus buy-in.
func (p SessionPlayer) Net() decimal.Decimal {
	return p.CashOut.Sub(p.BuyIn)
}

// BadBeat records a notable lost hand. It never affects scores.
type BadBeat struct {
	Winner     string   `json:"winner"`
	WinnerHand HandRank `json:"winner_hand"`
	Loser      string   `json:"loser"`
	LoserHand  HandRank `json:"loser_hand"`
	Street     Street   `json:"street"`
}

// Session is one poker night for a group. Players are unique by username and
// kept in the order they joined. Version increases on every successful write
// and is the compare-and-swap token for updates.
type Session struct {
	ID        string          `json:"id"`
	GroupName string          `json:"group_name"`
	CreatedAt time.Time       `json:"created_at"`
	EndedAt   *time.Time      `json:"ended_at,omitempty"`
	IsActive  bool            `json:"is_active"`
	Players   []SessionPlayer `json:"players"`
	BadBeats  []BadBeat       `json:"bad_beats"`
	Version   int64           `json:"version"`
}

// Player returns the named player.
func (s *Session) Player(username string) (SessionPlayer, bool) {
	if i := s.PlayerIndex(username); i >= 0 {
		return s.Players[i], true
	}
	return SessionPlayer{}, false
}

// PlayerIndex returns the position of username in Players, or -1.
func (s *Session) PlayerIndex(username string) int {
	return slices.IndexFunc(s.Players, func(p SessionPlayer) bool {
		return p.Username == username
	})
}

// Nets returns every player's net keyed by username.
func (s *Session) Nets() map[string]decimal.Decimal {
	nets := make(map[string]decimal.Decimal, len(s.Players))
	for _, p := range s.Players {
		nets[p.Username] = p.Net()
	}
	return nets
}

// Totals returns the summed buy-ins and cash-outs.
func (s *Session) Totals() (buyIns, cashOuts decimal.Decimal) {
	for _, p := range s.Players {
		buyIns = buyIns.Add(p.BuyIn)
		cashOuts = cashOuts.Add(p.CashOut)
	}
	return buyIns, cashOuts
}

// Clone returns a deep copy.
func (s *Session) Clone() *Session {
	if s == nil {
		return nil
	}
	c := *s
	c.Players = slices.Clone(s.Players)
	c.BadBeats = slices.Clone(s.BadBeats)
	if c.Players == nil {
		c.Players = []SessionPlayer{}
	}
	if c.BadBeats == nil {
		c.BadBeats = []BadBeat{}
	}
	if s.EndedAt != nil {
		t := *s.EndedAt
		c.EndedAt = &t
	}
	return &c
}

// PlayerSessionSummary is one user's result in one session.
type PlayerSessionSummary struct {
	SessionID string          `json:"session_id"`
	GroupName string          `json:"group_name"`
	CreatedAt time.Time       `json:"created_at"`
	IsActive  bool            `json:"is_active"`
	BuyIn     decimal.Decimal `json:"buy_in"`
	CashOut   decimal.Decimal `json:"cash_out"`
	Net       decimal.Decimal `json:"net"`
}

// StartSessionRequest is the request body for starting a session.
type StartSessionRequest struct {
	GroupName string                     `json:"group_name"`
	Players   map[string]decimal.Decimal `json:"players"`
}

// AddPlayersRequest is the request body for adding players.
type AddPlayersRequest struct {
	Usernames []string `json:"usernames"`
}

// AmountRequest carries a single buy-in or cash-out amount.
type AmountRequest struct {
	Amount decimal.Decimal `json:"amount"`
}

// EndSessionRequest is the request body for ending a session.
type EndSessionRequest struct {
	CashOuts map[string]decimal.Decimal `json:"cash_outs"`
}
