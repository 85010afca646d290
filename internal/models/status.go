package models

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
)

// VotingStatus is the voting phase of a compo. It is stored as a single
// letter so existing party databases keep their values.
type VotingStatus string

const (
	VotingUpcoming VotingStatus = "U"
	VotingLive     VotingStatus = "L"
	VotingOpen     VotingStatus = "O"
	VotingClosed   VotingStatus = "C"
)

var votingStatusNames = map[VotingStatus]string{
	VotingUpcoming: "upcoming",
	VotingLive:     "live",
	VotingOpen:     "open",
	VotingClosed:   "closed",
}

// Rank orders the phases in their intended progression.
func (s VotingStatus) Rank() int {
	switch s {
	case VotingUpcoming:
		return 0
	case VotingLive:
		return 1
	case VotingOpen:
		return 2
	case VotingClosed:
		return 3
	}
	return -1
}

func (s VotingStatus) Valid() bool {
	return s.Rank() >= 0
}

func (s VotingStatus) String() string {
	if name, ok := votingStatusNames[s]; ok {
		return name
	}
	return string(s)
}

// ParseVotingStatus accepts either the stored letter or the lowercase name.
func ParseVotingStatus(v string) (VotingStatus, error) {
	if s := VotingStatus(v); s.Valid() {
		return s, nil
	}
	for s, name := range votingStatusNames {
		if name == v {
			return s, nil
		}
	}
	return "", fmt.Errorf("%w: unknown voting status %q", ErrInvalidInput, v)
}

func (s VotingStatus) MarshalJSON() ([]byte, error) {
	return json.Marshal(s.String())
}

func (s *VotingStatus) UnmarshalJSON(b []byte) error {
	var v string
	if err := json.Unmarshal(b, &v); err != nil {
		return err
	}
	parsed, err := ParseVotingStatus(v)
	if err != nil {
		return err
	}
	*s = parsed
	return nil
}

func (s VotingStatus) Value() (driver.Value, error) {
	return string(s), nil
}

func (s *VotingStatus) Scan(src any) error {
	switch v := src.(type) {
	case string:
		*s = VotingStatus(v)
	case []byte:
		*s = VotingStatus(v)
	case nil:
		*s = VotingUpcoming
	default:
		return fmt.Errorf("cannot scan %T into VotingStatus", src)
	}
	return nil
}
