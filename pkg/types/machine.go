package types

// Machine is a host registered with the bridge.
type Machine struct {
	ID           string                 `json:"id"`
	Name         string                 `json:"name"`
	Hostname     string                 `json:"hostname"`
	IPAddress    string                 `json:"ip_address,omitempty"`
	Status       string                 `json:"status"` // online, offline, error
	LastSeen     int64                  `json:"last_seen,omitempty"`
	Capabilities map[string]interface{} `json:"capabilities,omitempty"`
	CreatedAt    int64                  `json:"created_at,omitempty"`
}

// Health is the bridge's unauthenticated health response.
type Health struct {
	Status    string `json:"status"`
	Mode      string `json:"mode,omitempty"`
	Timestamp string `json:"timestamp,omitempty"`
}
