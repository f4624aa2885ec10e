package session

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
)

// MatchmakerData is the provider's per-team match payload carried on the
// session object. Player attributes arrive as the opaque strings the
// request service submitted with the ticket.
type MatchmakerData struct {
	MatchID string      `json:"matchId"`
	Teams   []MatchTeam `json:"teams"`
}

type MatchTeam struct {
	Name    string        `json:"name"`
	Players []MatchPlayer `json:"players"`
}

type MatchPlayer struct {
	PlayerID   string            `json:"playerId"`
	Attributes map[string]string `json:"attributes"`
}

// DecodePlayerRecords builds one PlayerRecord per matched player. Every
// record starts as left-early; only an orderly game end upgrades it.
func DecodePlayerRecords(raw string) ([]PlayerRecord, error) {
	if raw == "" {
		return nil, fmt.Errorf("session: empty matchmaker data")
	}
	data := MatchmakerData{}
	if err := json.Unmarshal([]byte(raw), &data); err != nil {
		return nil, fmt.Errorf("session: decoding matchmaker data: %w", err)
	}

	var records []PlayerRecord
	for _, team := range data.Teams {
		for _, player := range team.Players {
			record := PlayerRecord{
				UserID:      player.PlayerID,
				DisplayName: player.Attributes["userName"],
				Team:        team.Name,
				Character:   player.Attributes["character"],
				Position:    player.Attributes["position"],
				Result:      ResultLeftEarly,
			}
			if v := player.Attributes["skinId"]; v != "" {
				n, err := strconv.Atoi(v)
				if err != nil {
					return nil, fmt.Errorf("session: player %s skinId %q: %w", player.PlayerID, v, err)
				}
				record.SkinID = n
			}
			if v := player.Attributes["level"]; v != "" {
				n, err := strconv.Atoi(v)
				if err != nil {
					return nil, fmt.Errorf("session: player %s level %q: %w", player.PlayerID, v, err)
				}
				record.Level = n
			}
			if v := player.Attributes["loadout"]; v != "" {
				record.Loadout = strings.Split(v, ",")
			}
			records = append(records, record)
		}
	}
	return records, nil
}
