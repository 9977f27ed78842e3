package server

import (
	"encoding/json"

	"huddle/internal/domain"
	"huddle/internal/draw"
)

// Request payloads

type CreateSessionRequest struct {
	Names       []string `json:"names" doc:"Roster names; duplicates are allowed and reported"`
	AllowRepeat bool     `json:"allow_repeat,omitempty"`
}

type ReplaceRosterRequest struct {
	Names []string `json:"names"`
}

type UpdateSettingsRequest struct {
	AllowRepeat *bool `json:"allow_repeat,omitempty"`
}

type CreateGroupsRequest struct {
	Size        int  `json:"size" doc:"Members per group; the last group may be smaller"`
	IceBreakers bool `json:"ice_breakers,omitempty"`
}

// Response payloads

type SessionResponse = domain.SessionInfo

type DrawResponse struct {
	Winner   domain.Participant   `json:"winner"`
	PoolSize int                  `json:"pool_size"`
	History  []domain.Participant `json:"history"`
}

type GroupsResponse struct {
	Items []domain.Group `json:"items"`
}

type IceBreakerResponse struct {
	GroupID int    `json:"group_id"`
	Text    string `json:"text"`
}

type EventResponse struct {
	ID         int64          `json:"id"`
	TS         string         `json:"ts" format:"date-time"`
	Type       string         `json:"type"`
	SessionID  string         `json:"session_id,omitempty"`
	EntityKind string         `json:"entity_kind"`
	EntityID   string         `json:"entity_id,omitempty"`
	ActorID    string         `json:"actor_id"`
	Payload    map[string]any `json:"payload"`
}

type paginatedEvents struct {
	Items      []EventResponse `json:"items"`
	NextCursor string          `json:"next_cursor,omitempty"`
}

// SSE payloads for the spin stream.

type FrameEvent struct {
	Phase     string             `json:"phase" enum:"spinning,settled"`
	Tick      int                `json:"tick"`
	Ticks     int                `json:"ticks"`
	Candidate domain.Participant `json:"candidate"`
}

type WinnerEvent DrawResponse

type ErrorEvent apiErrorBody

// Conversion helpers

func frameEvent(f draw.Frame) FrameEvent {
	return FrameEvent{
		Phase:     string(f.Phase),
		Tick:      f.Tick,
		Ticks:     f.Ticks,
		Candidate: f.Candidate,
	}
}

func eventResponse(e domain.Event) EventResponse {
	return EventResponse{
		ID:         e.ID,
		TS:         e.TS,
		Type:       e.Type,
		SessionID:  e.SessionID,
		EntityKind: e.EntityKind,
		EntityID:   e.EntityID,
		ActorID:    e.ActorID,
		Payload:    decodeJSONMap(e.Payload),
	}
}

func decodeJSONMap(raw string) map[string]any {
	out := map[string]any{}
	if raw == "" {
		return out
	}
	_ = json.Unmarshal([]byte(raw), &out)
	return out
}
