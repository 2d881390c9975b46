package httpapi

// Config defines HTTP gateway settings.
type Config struct {
	Addr       string
	BridgePath string
	Token      string
}

// DefaultBridgePath is the fixed WebSocket upgrade path for the agent.
const DefaultBridgePath = "/v1/bridge"
