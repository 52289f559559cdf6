package server

import (
	"errors"
	"fmt"
	"log"
	"runtime/debug"
	"strings"

	"github.com/pocketagent/host/internal/auth"
	hostErrors "github.com/pocketagent/host/internal/errors"
	"github.com/pocketagent/host/internal/status"
)

// Pairing failure messages shown on the device.
const (
	pairInvalidMessage     = "Invalid or expired pairing code"
	pairRateLimitedMessage = "Too many pairing attempts"
	pairInternalMessage    = "Pairing failed"
)

// dispatch runs one command for an authenticated client. Every variant is
// listed; DecodeCommand has already filtered unknown tags.
func (c *Client) dispatch(cmd Command) {
	defer c.recoverHandler(cmd.Type())

	switch cmd := cmd.(type) {
	case *PairCommand:
		c.sendError(cmd.Type(), hostErrors.CodeServerInvalidMessage, "Device is already paired")
	case *PingCommand:
		c.trySend(PongFrame{Type: FramePong})
	case *MessageCommand:
		c.async(cmd.Type(), func() error { return c.handleMessage(cmd) })
	case *StopCommand:
		c.run(cmd.Type(), func() error { return c.handleStop(cmd) })
	case *ListSessionsCommand:
		c.run(cmd.Type(), c.sendSessions)
	case *SwitchSessionCommand:
		c.run(cmd.Type(), func() error { return c.handleSwitchSession(cmd) })
	case *HistoryCommand:
		c.run(cmd.Type(), func() error { return c.handleHistory(cmd) })
	case *ClearSessionCommand:
		c.run(cmd.Type(), func() error { return c.handleClearSession(cmd) })
	case *ListModelsCommand:
		c.run(cmd.Type(), c.sendModels)
	case *SwitchModelCommand:
		c.run(cmd.Type(), func() error { return c.handleSwitchModel(cmd) })
	case *ListRoutinesCommand:
		c.run(cmd.Type(), c.sendRoutines)
	case *CreateRoutineCommand:
		c.async(cmd.Type(), func() error { return c.handleCreateRoutine(cmd) })
	case *DeleteRoutineCommand:
		c.run(cmd.Type(), func() error { return c.handleDeleteRoutine(cmd) })
	case *ToggleRoutineCommand:
		c.run(cmd.Type(), func() error { return c.handleToggleRoutine(cmd) })
	case *RunRoutineCommand:
		c.async(cmd.Type(), func() error { return c.handleRunRoutine(cmd) })
	case *ListFactsCommand:
		c.run(cmd.Type(), c.handleListFacts)
	case *FactsGraphCommand:
		c.async(cmd.Type(), c.handleFactsGraph)
	case *SoulCommand:
		c.run(cmd.Type(), c.handleSoul)
	case *DailyLogCommand:
		c.run(cmd.Type(), func() error { return c.handleDailyLog(cmd) })
	case *CustomizeCommand:
		c.run(cmd.Type(), c.handleCustomize)
	case *AppInfoCommand:
		c.run(cmd.Type(), c.handleAppInfo)
	case *SetSkinCommand:
		c.run(cmd.Type(), func() error { return c.handleSetSkin(cmd) })
	case *SetModeCommand:
		c.run(cmd.Type(), func() error { return c.handleSetMode(cmd) })
	case *PushRegisterCommand:
		c.run(cmd.Type(), func() error { return c.handlePushRegister(cmd) })
	default:
		log.Printf("server: no dispatch for %T", cmd)
	}
}

// run calls fn on the read goroutine and reports its error.
func (c *Client) run(requestType CommandType, fn func() error) {
	c.reportError(requestType, fn())
}

// async calls fn on its own goroutine so later frames, stop in particular,
// are not held up behind a slow agent call.
func (c *Client) async(requestType CommandType, fn func() error) {
	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		defer c.recoverHandler(requestType)
		c.reportError(requestType, fn())
	}()
}

// reportError turns a handler error into an error frame. Aborts are
// expected cancellations and are not reported.
func (c *Client) reportError(requestType CommandType, err error) {
	if err == nil {
		return
	}
	if isAbort(err) {
		log.Printf("server: %s aborted: %v", requestType, err)
		return
	}

	code, message := hostErrors.ToCodeAndMessage(err, hostErrors.CodeServerHandlerFailed)
	log.Printf("server: %v", hostErrors.HandlerFailed(string(requestType), err))
	c.sendError(requestType, code, message)
}

// recoverHandler converts a handler panic into an error frame.
func (c *Client) recoverHandler(requestType CommandType) {
	if r := recover(); r != nil {
		err := hostErrors.Internal(fmt.Sprintf("%s failed unexpectedly", requestType), fmt.Errorf("panic: %v", r))
		log.Printf("server: %v\n%s", err, debug.Stack())
		c.sendError(requestType, err.Code, err.Message)
	}
}

func (c *Client) handlePair(cmd *PairCommand) {
	s := c.server
	if err := s.cfg.Pairing.Redeem(strings.TrimSpace(cmd.PairingCode)); err != nil {
		code, message := hostErrors.CodeAuthPairInvalidCode, pairInvalidMessage
		if errors.Is(err, auth.ErrRateLimited) {
			code, message = hostErrors.CodeAuthPairRateLimited, pairRateLimitedMessage
		}
		log.Printf("server: pairing rejected: %v", err)
		c.rejectPair(PairResultFrame{Type: FramePairResult, Success: false, Code: code, Error: message})
		return
	}

	deviceID := auth.NewDeviceID()
	token, err := s.cfg.Credentials.Register(deviceID, cmd.DeviceName)
	if err != nil {
		log.Printf("server: %v", hostErrors.Wrap(hostErrors.CodeAuthPairInternal, "failed to store credential", err))
		c.rejectPair(PairResultFrame{Type: FramePairResult, Success: false, Code: hostErrors.CodeAuthPairInternal, Error: pairInternalMessage})
		return
	}
	cred, _ := s.cfg.Credentials.Lookup(token)
	c.authenticate(cred)

	log.Printf("server: paired device %s (%s)", cred.DeviceID, cred.DeviceName)
	c.trySend(PairResultFrame{
		Type:      FramePairResult,
		Success:   true,
		AuthToken: token,
		DeviceID:  deviceID,
	})
}

func (c *Client) handleMessage(cmd *MessageCommand) error {
	sessionID := cmd.SessionID
	if sessionID == "" {
		sessionID = c.activeSession()
	}
	if sessionID == "" {
		sessionID = DefaultSessionID
	}

	h := c.server.cfg.Handlers.Message
	if h == nil {
		c.trySend(ResponseFrame{Type: FrameResponse, SessionID: sessionID})
		return nil
	}

	cred, _ := c.credential()
	result, err := h(c.server.ctx, MessageRequest{
		SessionID: sessionID,
		DeviceID:  cred.DeviceID,
		Text:      cmd.Text,
		Media:     cmd.Media,
	})
	if err != nil {
		return err
	}

	c.trySend(ResponseFrame{
		Type:       FrameResponse,
		Text:       result.Text,
		SessionID:  sessionID,
		TokensUsed: result.TokensUsed,
		Media:      result.Media,
	})
	return nil
}

// handleStop interrupts the agent and clears the device's busy indicator
// straight away. Without a session there is nothing to stop.
func (c *Client) handleStop(cmd *StopCommand) error {
	sessionID := cmd.SessionID
	if sessionID == "" {
		sessionID = c.activeSession()
	}
	if sessionID == "" {
		return nil
	}

	if h := c.server.cfg.Handlers.Stop; h != nil {
		if err := h(c.server.ctx, sessionID); err != nil && !isAbort(err) {
			log.Printf("server: stop hook for %s failed: %v", sessionID, err)
		}
	}

	c.trySend(StatusFrame{
		Type:      FrameStatus,
		Status:    status.Done,
		SessionID: sessionID,
	})
	return nil
}

func (c *Client) sendSessions() error {
	var sessions []SessionInfo
	if h := c.server.cfg.Handlers.ListSessions; h != nil {
		var err error
		if sessions, err = h(c.server.ctx); err != nil {
			return err
		}
	}

	c.trySend(SessionsFrame{
		Type:            FrameSessions,
		Sessions:        orEmpty(sessions),
		ActiveSessionID: c.activeSession(),
	})
	return nil
}

func (c *Client) handleSwitchSession(cmd *SwitchSessionCommand) error {
	c.mu.Lock()
	if c.activeSessionID != cmd.SessionID {
		c.activeSessionID = cmd.SessionID
		c.resubscribeLocked()
	}
	c.mu.Unlock()

	return c.sendSessions()
}

func (c *Client) handleHistory(cmd *HistoryCommand) error {
	sessionID := cmd.SessionID
	if sessionID == "" {
		sessionID = c.activeSession()
	}

	var messages []ChatMessage
	if h := c.server.cfg.Handlers.History; h != nil && sessionID != "" {
		var err error
		if messages, err = h(c.server.ctx, sessionID, cmd.Limit); err != nil {
			return err
		}
	}

	c.trySend(HistoryFrame{
		Type:      FrameHistory,
		SessionID: sessionID,
		Messages:  orEmpty(messages),
	})
	return nil
}

func (c *Client) handleClearSession(cmd *ClearSessionCommand) error {
	sessionID := cmd.SessionID
	if sessionID == "" {
		sessionID = c.activeSession()
	}
	if sessionID == "" {
		return hostErrors.InvalidMessage("sessionId is required")
	}

	if h := c.server.cfg.Handlers.ClearSession; h != nil {
		if err := h(c.server.ctx, sessionID); err != nil {
			return err
		}
	}

	c.trySend(SessionClearedFrame{Type: FrameSessionCleared, SessionID: sessionID})
	return nil
}

func (c *Client) sendModels() error {
	var list ModelList
	if h := c.server.cfg.Handlers.ListModels; h != nil {
		var err error
		if list, err = h(c.server.ctx); err != nil {
			return err
		}
	}

	c.trySend(ModelsFrame{
		Type:    FrameModels,
		Models:  orEmpty(list.Models),
		Current: list.Current,
	})
	return nil
}

func (c *Client) handleSwitchModel(cmd *SwitchModelCommand) error {
	if h := c.server.cfg.Handlers.SwitchModel; h != nil {
		if err := h(c.server.ctx, cmd.Model); err != nil {
			return err
		}
	}
	return c.sendModels()
}

func (c *Client) sendRoutines() error {
	var routines []Routine
	if h := c.server.cfg.Handlers.ListRoutines; h != nil {
		var err error
		if routines, err = h(c.server.ctx); err != nil {
			return err
		}
	}

	c.trySend(RoutinesFrame{Type: FrameRoutines, Routines: orEmpty(routines)})
	return nil
}

func (c *Client) handleCreateRoutine(cmd *CreateRoutineCommand) error {
	if h := c.server.cfg.Handlers.CreateRoutine; h != nil {
		if err := h(c.server.ctx, cmd.RoutineSpec); err != nil {
			return err
		}
	}
	return c.sendRoutines()
}

func (c *Client) handleDeleteRoutine(cmd *DeleteRoutineCommand) error {
	if h := c.server.cfg.Handlers.DeleteRoutine; h != nil {
		if err := h(c.server.ctx, cmd.ID); err != nil {
			return err
		}
	}
	return c.sendRoutines()
}

func (c *Client) handleToggleRoutine(cmd *ToggleRoutineCommand) error {
	if h := c.server.cfg.Handlers.ToggleRoutine; h != nil {
		if err := h(c.server.ctx, cmd.ID); err != nil {
			return err
		}
	}
	return c.sendRoutines()
}

func (c *Client) handleRunRoutine(cmd *RunRoutineCommand) error {
	var text string
	if h := c.server.cfg.Handlers.RunRoutine; h != nil {
		var err error
		if text, err = h(c.server.ctx, cmd.ID); err != nil {
			return err
		}
	}

	c.trySend(RoutineResultFrame{Type: FrameRoutineResult, ID: cmd.ID, Text: text})
	return nil
}

func (c *Client) handleListFacts() error {
	var facts []Fact
	if h := c.server.cfg.Handlers.ListFacts; h != nil {
		var err error
		if facts, err = h(c.server.ctx); err != nil {
			return err
		}
	}

	c.trySend(FactsFrame{Type: FrameFacts, Facts: orEmpty(facts)})
	return nil
}

func (c *Client) handleFactsGraph() error {
	var graph FactsGraph
	if h := c.server.cfg.Handlers.FactsGraph; h != nil {
		var err error
		if graph, err = h(c.server.ctx); err != nil {
			return err
		}
	}

	c.trySend(FactsGraphFrame{
		Type:  FrameFactsGraph,
		Nodes: orEmpty(graph.Nodes),
		Edges: orEmpty(graph.Edges),
	})
	return nil
}

func (c *Client) handleSoul() error {
	var content string
	if h := c.server.cfg.Handlers.Soul; h != nil {
		var err error
		if content, err = h(c.server.ctx); err != nil {
			return err
		}
	}

	c.trySend(SoulFrame{Type: FrameSoul, Content: content})
	return nil
}

func (c *Client) handleDailyLog(cmd *DailyLogCommand) error {
	entry := DailyLog{Date: cmd.Date}
	if h := c.server.cfg.Handlers.DailyLog; h != nil {
		var err error
		if entry, err = h(c.server.ctx, cmd.Date); err != nil {
			return err
		}
		if entry.Date == "" {
			entry.Date = cmd.Date
		}
	}

	c.trySend(DailyLogFrame{Type: FrameDailyLog, Date: entry.Date, Content: entry.Content})
	return nil
}

func (c *Client) handleCustomize() error {
	var info CustomizeInfo
	if h := c.server.cfg.Handlers.Customize; h != nil {
		var err error
		if info, err = h(c.server.ctx); err != nil {
			return err
		}
	}
	if info.Skin == "" {
		info.Skin = c.server.getSetting(SkinSettingKey)
	}
	if info.Mode == "" {
		info.Mode = c.server.getSetting(ModeSettingKey)
	}

	c.trySend(CustomizeFrame{
		Type:  FrameCustomize,
		Skin:  info.Skin,
		Mode:  info.Mode,
		Skins: orEmpty(info.Skins),
		Modes: orEmpty(info.Modes),
	})
	return nil
}

func (c *Client) handleAppInfo() error {
	s := c.server
	info := AppInfo{Name: "pocketagent", Version: s.cfg.Version, HostName: s.cfg.HostName}
	if h := s.cfg.Handlers.AppInfo; h != nil {
		custom, err := h(s.ctx)
		if err != nil {
			return err
		}
		if custom.Name != "" {
			info.Name = custom.Name
		}
		if custom.Version != "" {
			info.Version = custom.Version
		}
		if custom.HostName != "" {
			info.HostName = custom.HostName
		}
	}

	cred, _ := c.credential()
	c.trySend(AppInfoFrame{
		Type:       FrameAppInfo,
		Name:       info.Name,
		Version:    info.Version,
		HostName:   info.HostName,
		DeviceID:   cred.DeviceID,
		DeviceName: cred.DeviceName,
	})
	return nil
}

func (c *Client) handleSetSkin(cmd *SetSkinCommand) error {
	if err := c.server.setSetting(SkinSettingKey, cmd.Skin); err != nil {
		return hostErrors.Wrap(hostErrors.CodeStorageSaveFailed, "Failed to save skin", err)
	}
	c.trySend(SkinFrame{Type: FrameSkin, Skin: cmd.Skin})
	return nil
}

func (c *Client) handleSetMode(cmd *SetModeCommand) error {
	if err := c.server.setSetting(ModeSettingKey, cmd.Mode); err != nil {
		return hostErrors.Wrap(hostErrors.CodeStorageSaveFailed, "Failed to save mode", err)
	}
	c.trySend(ModeFrame{Type: FrameMode, Mode: cmd.Mode})
	return nil
}

func (c *Client) handlePushRegister(cmd *PushRegisterCommand) error {
	cred, _ := c.credential()
	if err := c.server.cfg.Credentials.SetPushToken(cred.Token, cmd.PushToken); err != nil {
		if errors.Is(err, auth.ErrUnknownToken) {
			return hostErrors.Wrap(hostErrors.CodeAuthUnknownToken, "Device is not paired", err)
		}
		return hostErrors.Wrap(hostErrors.CodeStorageSaveFailed, "Failed to save push token", err)
	}

	c.trySend(PushRegisteredFrame{Type: FramePushRegistered, Success: true})
	return nil
}
