// Package server provides the WebSocket server companion devices connect to.
// It authenticates or pairs each connection, decodes the typed command
// frames devices send, and dispatches them to the core or to the external
// Handlers, pushing agent status events back as they happen.
package server

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
)

// CommandType identifies the kind of frame a device sends.
// Each type has exactly one payload shape, defined below.
type CommandType string

const (
	CommandPair            CommandType = "pair"
	CommandPing            CommandType = "ping"
	CommandMessage         CommandType = "message"
	CommandStop            CommandType = "stop"
	CommandSessionsList    CommandType = "sessions:list"
	CommandSessionsSwitch  CommandType = "sessions:switch"
	CommandSessionsHistory CommandType = "sessions:history"
	CommandSessionsClear   CommandType = "sessions:clear"
	CommandModelsList      CommandType = "models:list"
	CommandModelsSwitch    CommandType = "models:switch"
	CommandRoutinesList    CommandType = "routines:list"
	CommandRoutinesCreate  CommandType = "routines:create"
	CommandRoutinesDelete  CommandType = "routines:delete"
	CommandRoutinesToggle  CommandType = "routines:toggle"
	CommandRoutinesRun     CommandType = "routines:run"
	CommandFactsList       CommandType = "facts:list"
	CommandFactsGraph      CommandType = "facts:graph"
	CommandSoulGet         CommandType = "soul:get"
	CommandDailyLogGet     CommandType = "daily-log:get"
	CommandCustomizeGet    CommandType = "customize:get"
	CommandAppInfo         CommandType = "app:info"
	CommandSkinSet         CommandType = "skin:set"
	CommandModeSet         CommandType = "mode:set"
	CommandPushRegister    CommandType = "push:register"
)

// ErrUnknownCommand is returned by DecodeCommand for a type tag this host
// does not know. Such frames are ignored so newer clients keep working.
var ErrUnknownCommand = errors.New("unknown command type")

// Command is a decoded inbound frame.
type Command interface {
	Type() CommandType
}

// validator is implemented by commands with required fields.
type validator interface {
	validate() error
}

type PairCommand struct {
	PairingCode string `json:"pairingCode"`
	DeviceName  string `json:"deviceName"`
}

type PingCommand struct{}

type MessageCommand struct {
	SessionID string  `json:"sessionId"`
	Text      string  `json:"text"`
	Media     []Media `json:"media"`
}

// StopCommand interrupts the agent. An empty SessionID means the
// connection's active session.
type StopCommand struct {
	SessionID string `json:"sessionId"`
}

type ListSessionsCommand struct{}

// SwitchSessionCommand changes the connection's active session. An empty
// SessionID detaches the connection from every session.
type SwitchSessionCommand struct {
	SessionID string `json:"sessionId"`
}

type HistoryCommand struct {
	SessionID string `json:"sessionId"`
	Limit     int    `json:"limit"`
}

type ClearSessionCommand struct {
	SessionID string `json:"sessionId"`
}

type ListModelsCommand struct{}

type SwitchModelCommand struct {
	Model string `json:"model"`
}

type ListRoutinesCommand struct{}

type CreateRoutineCommand struct {
	RoutineSpec
}

type DeleteRoutineCommand struct {
	ID string `json:"id"`
}

type ToggleRoutineCommand struct {
	ID string `json:"id"`
}

type RunRoutineCommand struct {
	ID string `json:"id"`
}

type ListFactsCommand struct{}

type FactsGraphCommand struct{}

type SoulCommand struct{}

type DailyLogCommand struct {
	Date string `json:"date"`
}

type CustomizeCommand struct{}

type AppInfoCommand struct{}

type SetSkinCommand struct {
	Skin string `json:"skin"`
}

type SetModeCommand struct {
	Mode string `json:"mode"`
}

type PushRegisterCommand struct {
	PushToken string `json:"pushToken"`
}

func (PairCommand) Type() CommandType          { return CommandPair }
func (PingCommand) Type() CommandType          { return CommandPing }
func (MessageCommand) Type() CommandType       { return CommandMessage }
func (StopCommand) Type() CommandType          { return CommandStop }
func (ListSessionsCommand) Type() CommandType  { return CommandSessionsList }
func (SwitchSessionCommand) Type() CommandType { return CommandSessionsSwitch }
func (HistoryCommand) Type() CommandType       { return CommandSessionsHistory }
func (ClearSessionCommand) Type() CommandType  { return CommandSessionsClear }
func (ListModelsCommand) Type() CommandType    { return CommandModelsList }
func (SwitchModelCommand) Type() CommandType   { return CommandModelsSwitch }
func (ListRoutinesCommand) Type() CommandType  { return CommandRoutinesList }
func (CreateRoutineCommand) Type() CommandType { return CommandRoutinesCreate }
func (DeleteRoutineCommand) Type() CommandType { return CommandRoutinesDelete }
func (ToggleRoutineCommand) Type() CommandType { return CommandRoutinesToggle }
func (RunRoutineCommand) Type() CommandType    { return CommandRoutinesRun }
func (ListFactsCommand) Type() CommandType     { return CommandFactsList }
func (FactsGraphCommand) Type() CommandType    { return CommandFactsGraph }
func (SoulCommand) Type() CommandType          { return CommandSoulGet }
func (DailyLogCommand) Type() CommandType      { return CommandDailyLogGet }
func (CustomizeCommand) Type() CommandType     { return CommandCustomizeGet }
func (AppInfoCommand) Type() CommandType       { return CommandAppInfo }
func (SetSkinCommand) Type() CommandType       { return CommandSkinSet }
func (SetModeCommand) Type() CommandType       { return CommandModeSet }
func (PushRegisterCommand) Type() CommandType  { return CommandPushRegister }

func (c MessageCommand) validate() error {
	if strings.TrimSpace(c.Text) == "" && len(c.Media) == 0 {
		return errors.New("text or media is required")
	}
	return nil
}

func (c SwitchModelCommand) validate() error   { return requireField("model", c.Model) }
func (c DeleteRoutineCommand) validate() error { return requireField("id", c.ID) }
func (c ToggleRoutineCommand) validate() error { return requireField("id", c.ID) }
func (c RunRoutineCommand) validate() error    { return requireField("id", c.ID) }
func (c SetSkinCommand) validate() error       { return requireField("skin", c.Skin) }
func (c SetModeCommand) validate() error       { return requireField("mode", c.Mode) }
func (c PushRegisterCommand) validate() error  { return requireField("pushToken", c.PushToken) }

func (c CreateRoutineCommand) validate() error {
	if err := requireField("name", c.Name); err != nil {
		return err
	}
	return requireField("schedule", c.Schedule)
}

func (c HistoryCommand) validate() error {
	if c.Limit < 0 {
		return errors.New("limit must not be negative")
	}
	return nil
}

func requireField(name, value string) error {
	if strings.TrimSpace(value) == "" {
		return fmt.Errorf("%s is required", name)
	}
	return nil
}

// commandDecoders maps each tag to a constructor for its payload.
var commandDecoders = map[CommandType]func() Command{
	CommandPair:            func() Command { return &PairCommand{} },
	CommandPing:            func() Command { return &PingCommand{} },
	CommandMessage:         func() Command { return &MessageCommand{} },
	CommandStop:            func() Command { return &StopCommand{} },
	CommandSessionsList:    func() Command { return &ListSessionsCommand{} },
	CommandSessionsSwitch:  func() Command { return &SwitchSessionCommand{} },
	CommandSessionsHistory: func() Command { return &HistoryCommand{} },
	CommandSessionsClear:   func() Command { return &ClearSessionCommand{} },
	CommandModelsList:      func() Command { return &ListModelsCommand{} },
	CommandModelsSwitch:    func() Command { return &SwitchModelCommand{} },
	CommandRoutinesList:    func() Command { return &ListRoutinesCommand{} },
	CommandRoutinesCreate:  func() Command { return &CreateRoutineCommand{} },
	CommandRoutinesDelete:  func() Command { return &DeleteRoutineCommand{} },
	CommandRoutinesToggle:  func() Command { return &ToggleRoutineCommand{} },
	CommandRoutinesRun:     func() Command { return &RunRoutineCommand{} },
	CommandFactsList:       func() Command { return &ListFactsCommand{} },
	CommandFactsGraph:      func() Command { return &FactsGraphCommand{} },
	CommandSoulGet:         func() Command { return &SoulCommand{} },
	CommandDailyLogGet:     func() Command { return &DailyLogCommand{} },
	CommandCustomizeGet:    func() Command { return &CustomizeCommand{} },
	CommandAppInfo:         func() Command { return &AppInfoCommand{} },
	CommandSkinSet:         func() Command { return &SetSkinCommand{} },
	CommandModeSet:         func() Command { return &SetModeCommand{} },
	CommandPushRegister:    func() Command { return &PushRegisterCommand{} },
}

// DecodeError is a frame that could not be turned into a Command.
// Type is the tag if one could be read.
type DecodeError struct {
	Type CommandType
	Err  error
}

func (e *DecodeError) Error() string {
	if e.Type == "" {
		return "malformed frame: " + e.Err.Error()
	}
	return fmt.Sprintf("malformed %s frame: %v", e.Type, e.Err)
}

func (e *DecodeError) Unwrap() error { return e.Err }

// DecodeCommand parses one frame. It returns a pointer to one of the
// *Command structs above, ErrUnknownCommand for an unrecognised tag, or a
// *DecodeError for malformed JSON and missing required fields.
func DecodeCommand(data []byte) (Command, error) {
	var envelope struct {
		Type CommandType `json:"type"`
	}
	if err := json.Unmarshal(data, &envelope); err != nil {
		return nil, &DecodeError{Err: err}
	}
	if envelope.Type == "" {
		return nil, &DecodeError{Err: errors.New("type is required")}
	}

	newCommand, ok := commandDecoders[envelope.Type]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownCommand, envelope.Type)
	}

	cmd := newCommand()
	if err := json.Unmarshal(data, cmd); err != nil {
		return nil, &DecodeError{Type: envelope.Type, Err: err}
	}
	if v, ok := cmd.(validator); ok {
		if err := v.validate(); err != nil {
			return nil, &DecodeError{Type: envelope.Type, Err: err}
		}
	}
	return cmd, nil
}
