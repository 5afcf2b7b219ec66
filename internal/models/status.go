package models

// ServerStatus represents the Nightscout server status
type ServerStatus struct {
	Status     string         `json:"status"`
	Name       string         `json:"name"`
	Version    string         `json:"version"`
	ServerTime string         `json:"serverTime"`
	APIEnabled bool           `json:"apiEnabled"`
	Settings   ServerSettings `json:"settings,omitempty"`
}

// ServerSettings contains the Nightscout server settings relevant to profiles
type ServerSettings struct {
	Units    string `json:"units"`
	Language string `json:"language"`
}
