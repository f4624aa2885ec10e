package events

import "time"

// Type discriminates matchmaking lifecycle events emitted by the provider.
type Type string

const (
	TypeSearching            Type = "MatchmakingSearching"
	TypePotentialMatch       Type = "PotentialMatchCreated"
	TypeAcceptMatch          Type = "AcceptMatch"
	TypeAcceptMatchCompleted Type = "AcceptMatchCompleted"
	TypeSucceeded            Type = "MatchmakingSucceeded"
	TypeTimedOut             Type = "MatchmakingTimedOut"
	TypeCancelled            Type = "MatchmakingCancelled"
	TypeFailed               Type = "MatchmakingFailed"
)

// MatchEvent is the provider-originated event envelope.
type MatchEvent struct {
	Time   time.Time `json:"time"`
	Detail Detail    `json:"detail"`
}

type Detail struct {
	Type            Type            `json:"type"`
	MatchID         string          `json:"matchId"`
	Tickets         []Ticket        `json:"tickets"`
	GameSessionInfo GameSessionInfo `json:"gameSessionInfo"`
}

type Ticket struct {
	TicketID  string    `json:"ticketId"`
	StartTime time.Time `json:"startTime"`
	Players   []Player  `json:"players"`
}

type Player struct {
	PlayerID        string `json:"playerId"`
	PlayerSessionID string `json:"playerSessionId"`
	Team            string `json:"team"`
}

// GameSessionInfo carries the resolved session endpoint and the per-player
// session claims issued for it.
type GameSessionInfo struct {
	IPAddress string   `json:"ipAddress"`
	Port      int      `json:"port"`
	Players   []Player `json:"players"`
}

// MatchedPayload is the push notification delivered to each waiting client.
type MatchedPayload struct {
	Action          string `json:"action"`
	IPAddress       string `json:"ipAddress"`
	Port            int    `json:"port"`
	PlayerSessionID string `json:"playerSessionId"`
}
