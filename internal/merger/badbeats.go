package merger

import "github.com/youtoss/ledger/internal/domain"

// AppendBadBeat adds b to the end of the session's bad beats.
func AppendBadBeat(b domain.BadBeat) Mutation {
	return func(s *domain.Session) (bool, error) {
		if err := requireActive(s); err != nil {
			return false, err
		}
		s.BadBeats = append(s.BadBeats, b)
		return true, nil
	}
}
