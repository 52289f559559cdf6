package server

import (
	"encoding/json"
	"errors"
	"log"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"golang.org/x/time/rate"

	"github.com/pocketagent/host/internal/auth"
	hostErrors "github.com/pocketagent/host/internal/errors"
	"github.com/pocketagent/host/internal/status"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = 30 * time.Second
	maxMessageSize = 512 * 1024
)

// outbound is one queued frame. When closeAfter is set, writePump sends the
// frame and then closes the socket.
type outbound struct {
	frame      any
	closeAfter bool
}

// Client is one WebSocket connection and its session state.
//
// A client starts in PairingOnly (cred == nil) or Authenticated. The only
// transition is PairingOnly to Authenticated through a successful pair.
type Client struct {
	conn   *websocket.Conn
	server *Server

	// send is drained by writePump.
	send chan outbound

	// done is closed exactly once, through closeSend, to stop writePump.
	// Every sender checks it, which makes sends after close a no-op.
	done     chan struct{}
	sendOnce sync.Once

	// limiter bounds inbound frames.
	limiter *rate.Limiter

	// mu guards the session state below. It is taken by the read goroutine,
	// by async handler goroutines and by close.
	mu              sync.Mutex
	cred            *auth.Credential
	activeSessionID string
	unsubscribe     func()
	pairTimer       *time.Timer
	closed          bool

	// pairRejected is set once a pair attempt fails. The socket is closing
	// and every later frame is dropped unread.
	pairRejected bool

	// wg tracks async handler goroutines.
	wg sync.WaitGroup
}

func newClient(s *Server, conn *websocket.Conn) *Client {
	return &Client{
		conn:            conn,
		server:          s,
		send:            make(chan outbound, channelBufferSize),
		done:            make(chan struct{}),
		limiter:         rate.NewLimiter(s.cfg.FrameRate, s.cfg.FrameBurst),
		activeSessionID: DefaultSessionID,
	}
}

// closeSend signals the client to shut down. Safe to call repeatedly from
// any goroutine.
func (c *Client) closeSend() {
	c.sendOnce.Do(func() {
		close(c.done)
	})
}

// trySend queues frame without blocking. It reports whether the frame was
// queued; frames for a closed or backed-up client are dropped.
func (c *Client) trySend(frame any) bool {
	return c.enqueue(outbound{frame: frame})
}

// sendAndClose queues frame as the last one this client will write.
func (c *Client) sendAndClose(frame any) {
	if !c.enqueue(outbound{frame: frame, closeAfter: true}) {
		c.closeSend()
	}
}

func (c *Client) enqueue(msg outbound) bool {
	select {
	case <-c.done:
		return false
	default:
	}

	select {
	case c.send <- msg:
		return true
	case <-c.done:
		return false
	default:
		log.Printf("server: send buffer full, dropping frame for %s", c.label())
		return false
	}
}

// sendError sends an error frame for requestType.
func (c *Client) sendError(requestType CommandType, code, message string) {
	c.trySend(ErrorFrame{
		Type:        FrameError,
		Code:        code,
		Error:       message,
		RequestType: string(requestType),
	})
}

// writePump sends queued frames and pings until the client shuts down.
func (c *Client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case <-c.done:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			c.conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
			return

		case msg := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))

			data, err := json.Marshal(msg.frame)
			if err != nil {
				log.Printf("server: failed to marshal frame: %v", err)
				continue
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, data); err != nil {
				log.Printf("server: write error: %v", err)
				c.closeSend()
				return
			}

			if msg.closeAfter {
				c.closeSend()
				c.conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
				return
			}

		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// readPump reads frames and dispatches them in arrival order. It owns the
// client's teardown.
func (c *Client) readPump() {
	defer c.close()

	c.conn.SetReadLimit(maxMessageSize)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err,
				websocket.CloseGoingAway,
				websocket.CloseNormalClosure,
				websocket.CloseAbnormalClosure) {
				log.Printf("server: read error: %v", err)
			}
			return
		}

		if !c.limiter.Allow() {
			c.sendError("", hostErrors.CodeServerRateLimited, "Too many messages, slow down")
			continue
		}

		c.handleFrame(data)
	}
}

// handleFrame decodes one frame and routes it by connection state.
func (c *Client) handleFrame(data []byte) {
	if c.isPairRejected() {
		return
	}

	cmd, err := DecodeCommand(data)
	if err != nil {
		if errors.Is(err, ErrUnknownCommand) {
			log.Printf("server: ignoring frame: %v", err)
			return
		}
		var decodeErr *DecodeError
		requestType := CommandType("")
		if errors.As(err, &decodeErr) {
			requestType = decodeErr.Type
		}
		c.sendError(requestType, hostErrors.CodeServerInvalidMessage, err.Error())
		return
	}

	if !c.isAuthenticated() {
		c.handlePairingOnly(cmd)
		return
	}
	c.dispatch(cmd)
}

// handlePairingOnly accepts only pair and ping from an unpaired socket.
func (c *Client) handlePairingOnly(cmd Command) {
	switch cmd := cmd.(type) {
	case *PairCommand:
		c.handlePair(cmd)
	case *PingCommand:
		c.trySend(PongFrame{Type: FramePong})
	default:
		c.sendError(cmd.Type(), hostErrors.CodeServerInvalidMessage, "Pairing required before "+string(cmd.Type()))
	}
}

// rejectPair marks the one pairing attempt of this socket as spent and
// closes the socket after frame is written.
func (c *Client) rejectPair(frame PairResultFrame) {
	c.mu.Lock()
	c.pairRejected = true
	c.mu.Unlock()
	c.sendAndClose(frame)
}

func (c *Client) isPairRejected() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.pairRejected
}

// startPairingTimer closes the socket if no pair command arrives in time.
func (c *Client) startPairingTimer(timeout time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return
	}
	c.pairTimer = time.AfterFunc(timeout, func() {
		log.Printf("server: closing unpaired connection after %s", timeout)
		c.closeSend()
	})
}

// authenticate moves the client into the Authenticated state: it stops the
// pairing timer, takes over the connection table entry for the token and
// subscribes to status for the active session.
func (c *Client) authenticate(cred auth.Credential) {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	if c.pairTimer != nil {
		c.pairTimer.Stop()
		c.pairTimer = nil
	}
	c.cred = &cred
	c.resubscribeLocked()
	c.mu.Unlock()

	if stale := c.server.bindToken(cred.Token, c); stale != nil {
		log.Printf("server: device %s reconnected, closing stale connection", cred.DeviceID)
		stale.closeSend()
	}
}

// resubscribeLocked replaces the status subscription with one for the
// active session. Must be called with c.mu held.
func (c *Client) resubscribeLocked() {
	if c.unsubscribe != nil {
		c.unsubscribe()
		c.unsubscribe = nil
	}
	if c.activeSessionID == "" {
		return
	}
	c.unsubscribe = c.server.cfg.Status.Subscribe(c.activeSessionID, c.forwardStatus)
}

// forwardStatus sends a status event to the device.
func (c *Client) forwardStatus(ev status.Event) {
	frame := StatusFrame{
		Type:      FrameStatus,
		Status:    ev.Status,
		SessionID: ev.SessionID,
		Detail:    ev.Detail,
		Tool:      ev.Tool,
	}
	if !ev.Timestamp.IsZero() {
		frame.Timestamp = ev.Timestamp.UnixMilli()
	}
	c.trySend(frame)
}

// close tears down session state. Runs once, when readPump exits.
func (c *Client) close() {
	c.mu.Lock()
	c.closed = true
	if c.pairTimer != nil {
		c.pairTimer.Stop()
		c.pairTimer = nil
	}
	if c.unsubscribe != nil {
		c.unsubscribe()
		c.unsubscribe = nil
	}
	token := ""
	if c.cred != nil {
		token = c.cred.Token
	}
	c.mu.Unlock()

	c.server.removeClient(c, token)
	c.closeSend()

	log.Printf("server: %s disconnected (%d remaining)", c.label(), c.server.ClientCount())
}

func (c *Client) isAuthenticated() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.cred != nil
}

// credential returns a copy of the client's credential.
func (c *Client) credential() (auth.Credential, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.cred == nil {
		return auth.Credential{}, false
	}
	return *c.cred, true
}

func (c *Client) activeSession() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.activeSessionID
}

func (c *Client) label() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.cred == nil {
		return "unpaired client"
	}
	return "device " + c.cred.DeviceID
}
