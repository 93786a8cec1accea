package domain

// PlayerInfo describes one output a connection offers. The integer ID is
// stable for the lifetime of the registration.
type PlayerInfo struct {
	ID       PlayerID `json:"playerId"`
	Name     string   `json:"name,omitempty"`
	OutputID OutputID `json:"audioOutputId"`
}

// ConnectionInfo is one participant in the mesh and the players it offers.
type ConnectionInfo struct {
	ID      ConnectionID `json:"connectionId"`
	Name    string       `json:"name,omitempty"`
	Alive   bool         `json:"alive"`
	Players []PlayerInfo `json:"players"`
}
