package main

import (
	"encoding/json"
	"errors"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"impulse-server/game"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 4096
	sendBufSize    = 256
	maxNameLen     = 16
	maxMatchName   = 30
)

// Client represents a WebSocket connection
type Client struct {
	hub        *Hub
	conn       *websocket.Conn
	send       chan []byte
	remoteAddr string
	log        zerolog.Logger
	msgCount   int
	msgResetAt time.Time
	// Seat state
	match    *Match
	playerID string
	// Auth state
	authPlayerID int64  // 0 = unauthenticated/guest
	authUsername string // "" = unauthenticated
}

// NewClient creates a new Client
func NewClient(hub *Hub, conn *websocket.Conn, remoteAddr string) *Client {
	return &Client{
		hub:        hub,
		conn:       conn,
		send:       make(chan []byte, sendBufSize),
		remoteAddr: remoteAddr,
		log:        hub.log.With().Str("ip", remoteAddr).Logger(),
	}
}

// ReadPump reads messages from the WebSocket connection
func (c *Client) ReadPump() {
	defer func() {
		c.hub.TrackDisconnect(c.remoteAddr)
		c.hub.unregister <- c
		c.conn.Close()
	}()

	c.conn.SetReadLimit(maxMessageSize)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		msgType, message, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				c.log.Warn().Err(err).Msg("ws error")
			}
			break
		}

		// Rate limiting
		now := time.Now()
		if now.After(c.msgResetAt) {
			c.msgCount = 0
			c.msgResetAt = now.Add(time.Second)
		}
		c.msgCount++
		if c.msgCount > c.hub.limits.MessagesPerSec {
			c.log.Warn().Msg("rate limit exceeded, disconnecting")
			break
		}

		if msgType == websocket.BinaryMessage {
			c.handleBinary(message)
		} else {
			c.handleMessage(message)
		}
	}
}

// WritePump writes messages to the WebSocket connection
func (c *Client) WritePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case message, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			// Check for binary marker (0xFF prefix from SendBinary)
			var err error
			if len(message) > 0 && message[0] == 0xFF {
				err = c.conn.WriteMessage(websocket.BinaryMessage, message[1:])
			} else {
				err = c.conn.WriteMessage(websocket.TextMessage, message)
			}
			if err != nil {
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

// SendJSON sends a JSON message to the client
func (c *Client) SendJSON(msg interface{}) {
	data, err := json.Marshal(msg)
	if err != nil {
		c.log.Error().Err(err).Msg("marshal error")
		return
	}
	c.SendRaw(data)
}

// SendRaw sends pre-marshaled bytes as a text message to the client
func (c *Client) SendRaw(data []byte) {
	defer func() { recover() }() // send on a channel the hub already closed
	select {
	case c.send <- data:
	default:
		// Client too slow, drop message
	}
}

// SendBinary sends pre-marshaled bytes as a binary WebSocket message.
// Prefixes with 0xFF marker byte so WritePump can distinguish from text.
func (c *Client) SendBinary(data []byte) {
	defer func() { recover() }()
	msg := make([]byte, len(data)+1)
	msg[0] = 0xFF
	copy(msg[1:], data)
	select {
	case c.send <- msg:
	default:
	}
}

func (c *Client) sendError(msg string) {
	c.SendJSON(errorEnvelope(msg))
}

// handleMessage routes incoming messages (single-pass decode via InEnvelope)
func (c *Client) handleMessage(raw []byte) {
	var env InEnvelope
	if err := json.Unmarshal(raw, &env); err != nil {
		c.log.Debug().Err(err).Msg("unmarshal error")
		return
	}

	switch env.T {
	case MsgList:
		c.handleList()
	case MsgCreate:
		c.handleCreate(env.D)
	case MsgJoin:
		c.handleJoin(env.D)
	case MsgAct:
		c.handleAct(env.D)
	case MsgLeave:
		c.handleLeave()
	case MsgCheck:
		c.handleCheck(env.D)
	case MsgRematch:
		c.handleRematch()
	case MsgRegister:
		c.handleRegister(env.D)
	case MsgLogin:
		c.handleLogin(env.D)
	case MsgAuth:
		c.handleAuth(env.D)
	case MsgProfile:
		c.handleProfile()
	default:
		c.log.Debug().Str("t", env.T).Msg("unknown message type")
	}
}

// handleBinary accepts msgpack act commands: [0x01, msgpack(Command)...]
func (c *Client) handleBinary(raw []byte) {
	cmd, ok := decodeBinaryAct(raw)
	if !ok {
		if len(raw) > 0 && raw[0] == binaryAct {
			c.sendError("malformed command")
		}
		return
	}
	c.act(cmd)
}

func (c *Client) handleList() {
	c.SendJSON(Envelope{T: MsgMatches, Data: c.hub.matches.ListMatches()})
}

func (c *Client) handleCreate(data json.RawMessage) {
	var msg CreateMsg
	if err := json.Unmarshal(data, &msg); err != nil {
		return
	}
	mname := cleanName(msg.MatchName, "Arena", maxMatchName)

	m, err := c.hub.matches.CreateMatch(mname)
	if err != nil {
		c.log.Warn().Err(err).Msg("create match")
		c.sendError(err.Error())
		return
	}
	c.SendJSON(Envelope{T: MsgCreated, Data: MatchRef{MatchID: m.ID}})
}

func (c *Client) handleJoin(data json.RawMessage) {
	var msg JoinMsg
	if err := json.Unmarshal(data, &msg); err != nil {
		return
	}
	if c.match != nil {
		c.sendError(ErrSeatTaken.Error())
		return
	}
	name := msg.Name
	if c.authUsername != "" && name == "" {
		name = c.authUsername
	}
	name = cleanName(name, GenerateGuestName(), maxNameLen)

	m := c.hub.matches.GetMatch(msg.MatchID)
	if m == nil {
		c.sendError("match not found")
		return
	}
	pid, err := m.Join(c, name, c.authPlayerID)
	if err != nil {
		c.sendError(err.Error())
		return
	}
	c.match = m
	c.playerID = pid
}

func (c *Client) handleAct(data json.RawMessage) {
	var cmd game.Command
	if err := json.Unmarshal(data, &cmd); err != nil {
		c.sendError("malformed command")
		return
	}
	c.act(cmd)
}

// act forwards a command to the seated match. Engine rejections reach the
// client as invalid-action events, so only transport failures are reported here.
func (c *Client) act(cmd game.Command) {
	if c.match == nil {
		c.sendError(ErrNotSeated.Error())
		return
	}
	err := c.match.Act(c, cmd)
	switch {
	case err == nil, errors.Is(err, game.ErrRejected):
	case errors.Is(err, ErrMatchClosed):
		c.match = nil
		c.playerID = ""
		c.sendError(err.Error())
	default:
		c.sendError(err.Error())
	}
}

func (c *Client) handleCheck(data json.RawMessage) {
	var msg CheckMsg
	if err := json.Unmarshal(data, &msg); err != nil {
		return
	}
	m := c.hub.matches.GetMatch(msg.MatchID)
	if m == nil {
		c.SendJSON(Envelope{T: MsgChecked, Data: CheckedMsg{MatchID: msg.MatchID, Exists: false}})
		return
	}
	info := m.Info()
	c.SendJSON(Envelope{T: MsgChecked, Data: CheckedMsg{
		MatchID: msg.MatchID,
		Exists:  true,
		Name:    info.Name,
		Players: info.Players,
	}})
}

func (c *Client) handleLeave() {
	if c.match == nil {
		return
	}
	c.match.Leave(c)
	c.match = nil
	c.playerID = ""
}

func (c *Client) handleRematch() {
	if c.match == nil {
		return
	}
	if err := c.match.Rematch(c); err != nil {
		c.sendError(err.Error())
	}
}

func (c *Client) handleRegister(data json.RawMessage) {
	if c.hub.auth == nil {
		c.sendError("accounts disabled")
		return
	}
	var msg RegisterMsg
	if err := json.Unmarshal(data, &msg); err != nil {
		return
	}
	id, token, err := c.hub.auth.Register(msg.Username, msg.Password)
	if err != nil {
		c.sendError(err.Error())
		return
	}
	c.authenticated(id, msg.Username, token)
}

func (c *Client) handleLogin(data json.RawMessage) {
	if c.hub.auth == nil {
		c.sendError("accounts disabled")
		return
	}
	var msg LoginMsg
	if err := json.Unmarshal(data, &msg); err != nil {
		return
	}
	id, token, err := c.hub.auth.Login(msg.Username, msg.Password, c.remoteAddr)
	if err != nil {
		c.sendError(err.Error())
		return
	}
	c.authenticated(id, msg.Username, token)
}

func (c *Client) handleAuth(data json.RawMessage) {
	if c.hub.auth == nil {
		c.sendError("accounts disabled")
		return
	}
	var msg AuthMsg
	if err := json.Unmarshal(data, &msg); err != nil {
		return
	}
	id, username, err := c.hub.auth.ValidateToken(msg.Token)
	if err != nil {
		c.sendError(ErrInvalidToken.Error())
		return
	}
	c.authenticated(id, username, msg.Token)
}

func (c *Client) authenticated(id int64, username, token string) {
	c.authPlayerID = id
	c.authUsername = username
	c.SendJSON(Envelope{T: MsgAuthOK, Data: AuthOKMsg{
		Token:    token,
		Username: username,
		PlayerID: id,
	}})
}

func (c *Client) handleProfile() {
	if c.hub.db == nil || c.authPlayerID == 0 {
		c.sendError("not authenticated")
		return
	}
	stats, err := c.hub.db.GetStats(c.authPlayerID)
	if err != nil || stats == nil {
		c.sendError("profile not found")
		return
	}
	c.SendJSON(Envelope{T: MsgProfileData, Data: ProfileDataMsg{
		Username: c.authUsername,
		Wins:     stats.Wins,
		Losses:   stats.Losses,
		Kills:    stats.Kills,
		Deaths:   stats.Deaths,
		Matches:  stats.Matches,
	}})
}
