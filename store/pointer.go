package store

import "encoding/json"

// Pointer is the per-user record linking the user's active matchmaking
// ticket to the websocket connection that is waiting on it. At most one
// pointer exists per user; a new submission overwrites the previous one.
type Pointer struct {
	UserID       string `json:"userId"`
	TicketID     string `json:"ticketId"`
	ConnectionID string `json:"connectionId"`
	// Stage is the deployment routing key used to address push delivery.
	Stage string `json:"stage"`
	// Version increases on every conditional write. A write is accepted
	// only while the stored version is lower than the written one.
	Version   int64 `json:"version"`
	UpdatedAt int64 `json:"updatedAt"`
}

func (p Pointer) MarshalBinary() ([]byte, error) {
	return json.Marshal(p)
}

// Profile is the user's last-selected character and loadout, read at
// submission time to build the provider's player descriptor. Owned by the
// account service; this package only reads it.
type Profile struct {
	DisplayName string   `json:"displayName"`
	Character   string   `json:"character"`
	SkinID      int      `json:"skinId"`
	Level       int      `json:"level"`
	Position    string   `json:"position"`
	Loadout     []string `json:"loadout"`
}
