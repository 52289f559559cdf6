package server

import (
	"context"
	"errors"
	"strings"
)

// ErrAborted is returned by handlers when the user cancelled the work.
// Aborted requests get no error frame.
var ErrAborted = errors.New("request aborted")

// Handlers are the external collaborators the dispatcher calls into.
// Every field is optional; an unset handler yields an empty response.
//
// Handlers run on the connection's read goroutine unless the command is
// asynchronous (message, routines:run, routines:create, facts:graph), in
// which case they run on their own goroutine. The context is the server's
// base context and is cancelled on shutdown.
type Handlers struct {
	// Message sends a chat message to the agent and waits for its reply.
	Message func(ctx context.Context, req MessageRequest) (MessageResult, error)

	// Stop interrupts whatever the agent is doing in sessionID.
	Stop func(ctx context.Context, sessionID string) error

	ListSessions func(ctx context.Context) ([]SessionInfo, error)
	History      func(ctx context.Context, sessionID string, limit int) ([]ChatMessage, error)
	ClearSession func(ctx context.Context, sessionID string) error

	ListModels  func(ctx context.Context) (ModelList, error)
	SwitchModel func(ctx context.Context, modelID string) error

	ListRoutines  func(ctx context.Context) ([]Routine, error)
	CreateRoutine func(ctx context.Context, spec RoutineSpec) error
	DeleteRoutine func(ctx context.Context, id string) error
	ToggleRoutine func(ctx context.Context, id string) error
	RunRoutine    func(ctx context.Context, id string) (string, error)

	ListFacts  func(ctx context.Context) ([]Fact, error)
	FactsGraph func(ctx context.Context) (FactsGraph, error)
	Soul       func(ctx context.Context) (string, error)
	DailyLog   func(ctx context.Context, date string) (DailyLog, error)
	Customize  func(ctx context.Context) (CustomizeInfo, error)
	AppInfo    func(ctx context.Context) (AppInfo, error)

	// SettingChanged is told about skin and mode changes after they persist.
	SettingChanged func(key, value string)
}

// MessageRequest is a chat message from a device.
type MessageRequest struct {
	SessionID string
	DeviceID  string
	Text      string
	Media     []Media
}

// MessageResult is the agent's reply to a MessageRequest.
type MessageResult struct {
	Text       string
	TokensUsed int
	Media      []Media
}

// Media is an attachment carried with a message or reply.
type Media struct {
	Type     string `json:"type"`
	URL      string `json:"url,omitempty"`
	Data     string `json:"data,omitempty"`
	MimeType string `json:"mimeType,omitempty"`
	Name     string `json:"name,omitempty"`
}

// SessionInfo describes one logical conversation.
type SessionInfo struct {
	ID           string `json:"id"`
	Title        string `json:"title,omitempty"`
	UpdatedAt    string `json:"updatedAt,omitempty"`
	MessageCount int    `json:"messageCount,omitempty"`
}

// ChatMessage is one entry of a session transcript.
type ChatMessage struct {
	Role      string  `json:"role"`
	Text      string  `json:"text"`
	Timestamp string  `json:"timestamp,omitempty"`
	Media     []Media `json:"media,omitempty"`
}

// ModelInfo describes a model the agent can use.
type ModelInfo struct {
	ID       string `json:"id"`
	Name     string `json:"name,omitempty"`
	Provider string `json:"provider,omitempty"`
}

// ModelList is the available models and the one in use.
type ModelList struct {
	Models  []ModelInfo
	Current string
}

// Routine is a scheduled agent task.
type Routine struct {
	ID       string `json:"id"`
	Name     string `json:"name"`
	Schedule string `json:"schedule"`
	Prompt   string `json:"prompt,omitempty"`
	Enabled  bool   `json:"enabled"`
	LastRun  string `json:"lastRun,omitempty"`
}

// RoutineSpec is the input for creating a routine.
type RoutineSpec struct {
	Name     string `json:"name"`
	Schedule string `json:"schedule"`
	Prompt   string `json:"prompt"`
}

// Fact is one remembered item about the user.
type Fact struct {
	ID        string `json:"id"`
	Content   string `json:"content"`
	Category  string `json:"category,omitempty"`
	CreatedAt string `json:"createdAt,omitempty"`
}

// GraphNode and GraphEdge form the facts graph.
type GraphNode struct {
	ID    string `json:"id"`
	Label string `json:"label"`
	Group string `json:"group,omitempty"`
}

type GraphEdge struct {
	From  string `json:"from"`
	To    string `json:"to"`
	Label string `json:"label,omitempty"`
}

// FactsGraph is the relationship view over facts.
type FactsGraph struct {
	Nodes []GraphNode
	Edges []GraphEdge
}

// DailyLog is the agent's journal for one day.
type DailyLog struct {
	Date    string
	Content string
}

// CustomizeInfo lists the appearance options the client can pick from.
// Skin and Mode fall back to the values stored by skin:set and mode:set.
type CustomizeInfo struct {
	Skin  string
	Mode  string
	Skins []string
	Modes []string
}

// AppInfo describes the host application.
type AppInfo struct {
	Name     string
	Version  string
	HostName string
}

// isAbort reports whether err reflects a user-initiated cancellation.
func isAbort(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, ErrAborted) || errors.Is(err, context.Canceled) {
		return true
	}
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "abort") || strings.Contains(msg, "interrupt")
}
