package domain

// Participant is one roster entry. Identity is the ID; names may repeat.
type Participant struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

type Group struct {
	ID         int           `json:"id" minimum:"1"`
	Name       string        `json:"name"`
	Members    []Participant `json:"members"`
	IceBreaker string        `json:"ice_breaker,omitempty"`
}

// MemberNames returns the names of the group's members in order.
func (g Group) MemberNames() []string {
	names := make([]string, len(g.Members))
	for i, m := range g.Members {
		names[i] = m.Name
	}
	return names
}

type SessionInfo struct {
	ID          string        `json:"id"`
	AllowRepeat bool          `json:"allow_repeat"`
	Roster      []Participant `json:"roster"`
	Pool        []Participant `json:"pool"`
	PoolSize    int           `json:"pool_size"`
	History     []Participant `json:"history"`
	LastWinner  *Participant  `json:"last_winner,omitempty"`
	Groups      []Group       `json:"groups"`
	Duplicates  []string      `json:"duplicates,omitempty"`
	CreatedAt   string        `json:"created_at" format:"date-time"`
	UpdatedAt   string        `json:"updated_at" format:"date-time"`
}

type Event struct {
	ID         int64  `json:"id"`
	TS         string `json:"ts" format:"date-time"`
	Type       string `json:"type"`
	SessionID  string `json:"session_id,omitempty"`
	EntityKind string `json:"entity_kind"`
	EntityID   string `json:"entity_id,omitempty"`
	ActorID    string `json:"actor_id"`
	Payload    string `json:"payload_json"`
}
