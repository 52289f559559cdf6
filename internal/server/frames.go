package server

// Outbound frame types.
const (
	FramePairResult     = "pair_result"
	FramePong           = "pong"
	FrameResponse       = "response"
	FrameStatus         = "status"
	FrameSessions       = "sessions"
	FrameHistory        = "history"
	FrameSessionCleared = "session_cleared"
	FrameModels         = "models"
	FrameRoutines       = "routines"
	FrameRoutineResult  = "routine_result"
	FrameFacts          = "facts"
	FrameFactsGraph     = "facts_graph"
	FrameSoul           = "soul"
	FrameDailyLog       = "daily_log"
	FrameCustomize      = "customize"
	FrameAppInfo        = "app_info"
	FrameSkin           = "skin"
	FrameMode           = "mode"
	FramePushRegistered = "push_registered"
	FrameError          = "error"
)

// PairResultFrame answers a pair command.
type PairResultFrame struct {
	Type      string `json:"type"`
	Success   bool   `json:"success"`
	AuthToken string `json:"authToken,omitempty"`
	DeviceID  string `json:"deviceId,omitempty"`
	Code      string `json:"code,omitempty"`
	Error     string `json:"error,omitempty"`
}

type PongFrame struct {
	Type string `json:"type"`
}

// ResponseFrame carries the agent's reply to a message.
type ResponseFrame struct {
	Type       string  `json:"type"`
	Text       string  `json:"text"`
	SessionID  string  `json:"sessionId"`
	TokensUsed int     `json:"tokensUsed,omitempty"`
	Media      []Media `json:"media,omitempty"`
}

// StatusFrame is an agent status update, pushed unsolicited.
type StatusFrame struct {
	Type      string `json:"type"`
	Status    string `json:"status"`
	SessionID string `json:"sessionId"`
	Detail    string `json:"detail,omitempty"`
	Tool      string `json:"tool,omitempty"`
	Timestamp int64  `json:"timestamp,omitempty"`
}

type SessionsFrame struct {
	Type            string        `json:"type"`
	Sessions        []SessionInfo `json:"sessions"`
	ActiveSessionID string        `json:"activeSessionId"`
}

type HistoryFrame struct {
	Type      string        `json:"type"`
	SessionID string        `json:"sessionId"`
	Messages  []ChatMessage `json:"messages"`
}

type SessionClearedFrame struct {
	Type      string `json:"type"`
	SessionID string `json:"sessionId"`
}

type ModelsFrame struct {
	Type    string      `json:"type"`
	Models  []ModelInfo `json:"models"`
	Current string      `json:"current"`
}

type RoutinesFrame struct {
	Type     string    `json:"type"`
	Routines []Routine `json:"routines"`
}

type RoutineResultFrame struct {
	Type string `json:"type"`
	ID   string `json:"id"`
	Text string `json:"text"`
}

type FactsFrame struct {
	Type  string `json:"type"`
	Facts []Fact `json:"facts"`
}

type FactsGraphFrame struct {
	Type  string      `json:"type"`
	Nodes []GraphNode `json:"nodes"`
	Edges []GraphEdge `json:"edges"`
}

type SoulFrame struct {
	Type    string `json:"type"`
	Content string `json:"content"`
}

type DailyLogFrame struct {
	Type    string `json:"type"`
	Date    string `json:"date"`
	Content string `json:"content"`
}

type CustomizeFrame struct {
	Type  string   `json:"type"`
	Skin  string   `json:"skin"`
	Mode  string   `json:"mode"`
	Skins []string `json:"skins"`
	Modes []string `json:"modes"`
}

type AppInfoFrame struct {
	Type       string `json:"type"`
	Name       string `json:"name"`
	Version    string `json:"version"`
	HostName   string `json:"hostName,omitempty"`
	DeviceID   string `json:"deviceId,omitempty"`
	DeviceName string `json:"deviceName,omitempty"`
}

type SkinFrame struct {
	Type string `json:"type"`
	Skin string `json:"skin"`
}

type ModeFrame struct {
	Type string `json:"type"`
	Mode string `json:"mode"`
}

type PushRegisteredFrame struct {
	Type    string `json:"type"`
	Success bool   `json:"success"`
}

// ErrorFrame reports a failed request. RequestType names the command that
// failed, when it is known.
type ErrorFrame struct {
	Type        string `json:"type"`
	Code        string `json:"code"`
	Error       string `json:"error"`
	RequestType string `json:"requestType,omitempty"`
}

// orEmpty turns a nil slice into an empty one so it encodes as [].
func orEmpty[T any](s []T) []T {
	if s == nil {
		return []T{}
	}
	return s
}
