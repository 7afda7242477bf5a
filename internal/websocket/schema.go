package websocket

// ─── Actions (Client → Server) ──────────────────────────────────────

type Action string

const (
	ActionPing  Action = "ping"
	ActionState Action = "state"
)

// RequestEnvelope is used to peek at the action before full parsing.
type RequestEnvelope struct {
	Action Action `json:"action"`
}

// ─── Events (Server → Client) ───────────────────────────────────────

type Event string

const (
	EventError  Event = "error"
	EventTick   Event = "tick"
	EventDenied Event = "denied"
	EventPong   Event = "pong"
)

// TickResponse carries the server-anchored countdown. Pushed on every clock
// tick and in reply to an explicit "state" action. Advisory only: the client
// renders it but re-validates over HTTP before acting on zero.
type TickResponse struct {
	Event            Event  `json:"event"`
	Module           string `json:"module"`
	RemainingSeconds int64  `json:"remaining_seconds"`
	Warning          bool   `json:"warning,omitempty"`
}

// DeniedResponse is the final frame before the server closes the connection.
type DeniedResponse struct {
	Event        Event  `json:"event"`
	Module       string `json:"module"`
	Reason       string `json:"reason"`
	RedirectHint string `json:"redirect_hint,omitempty"`
}

type ErrorResponse struct {
	Event Event  `json:"event"`
	Error string `json:"error"`
}

type PongResponse struct {
	Event Event `json:"event"`
}
