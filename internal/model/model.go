package model

// Activity is a signup-able session with bounded capacity, as served by the
// Activity Service. Name is the unique key.
type Activity struct {
	Name            string   `json:"-"`
	Description     string   `json:"description"`
	Schedule        string   `json:"schedule"`
	MaxParticipants int      `json:"max_participants"`
	Participants    []string `json:"participants"`
}

// SpotsLeft is capacity minus current registrants, clamped at zero so an
// over-subscribed activity never renders a negative count.
func (a Activity) SpotsLeft() int {
	n := a.MaxParticipants - len(a.Participants)
	if n < 0 {
		return 0
	}
	return n
}
