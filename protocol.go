package main

import (
	"encoding/json"

	"github.com/vmihailenco/msgpack/v5"

	"impulse-server/game"
)

// Client -> Server message types
const (
	MsgList     = "list"   // list matches
	MsgCreate   = "create" // create match
	MsgJoin     = "join"
	MsgAct      = "act" // push one of your entities toward a point
	MsgLeave    = "leave"
	MsgCheck    = "check" // check if match exists
	MsgRematch  = "rematch"
	MsgRegister = "register"
	MsgLogin    = "login"
	MsgAuth     = "auth" // resume with a stored token
	MsgProfile  = "profile"
)

// Server -> Client message types. Engine events are forwarded with their
// event kind as the type, so "turn-changed", "entity-killed" and the rest
// are server messages too.
const (
	MsgMatches     = "matches"
	MsgCreated     = "created" // match created, client should navigate
	MsgJoined      = "joined"
	MsgWelcome     = "welcome"
	MsgLeft        = "left"    // the other seat left
	MsgArrived     = "arrived" // the other seat was taken
	MsgChecked     = "checked"
	MsgError       = "error"
	MsgAuthOK      = "auth_ok"
	MsgProfileData = "profile"
	MsgRematchVote = "rematch"
)

// binaryAct marks a msgpack-encoded act command sent as a binary frame
const binaryAct = 0x01

// Envelope wraps all outgoing messages with a type field
type Envelope struct {
	T    string      `json:"t"`
	Data interface{} `json:"d,omitempty"`
}

// InEnvelope is used for incoming messages; json.RawMessage avoids double-unmarshal
type InEnvelope struct {
	T string          `json:"t"`
	D json.RawMessage `json:"d,omitempty"`
}

// CreateMsg is sent when a player wants to open a match
type CreateMsg struct {
	Name      string `json:"name"`
	MatchName string `json:"mname"`
}

// JoinMsg is sent when a player wants to take a seat
type JoinMsg struct {
	Name    string `json:"name"`
	MatchID string `json:"mid"`
}

// MatchRef identifies a match in created/joined replies
type MatchRef struct {
	MatchID string `json:"mid"`
}

// WelcomeMsg tells a seated player who they are and what the field looks like
type WelcomeMsg struct {
	PlayerID string     `json:"pid"`
	Seat     int        `json:"seat"`
	State    game.State `json:"state"`
}

// LeftMsg notifies the remaining player that the other seat emptied
// ArrivedMsg tells a seated client who took the other seat
type ArrivedMsg struct {
	PlayerID string `json:"pid"`
	Name     string `json:"name"`
	Seat     int    `json:"seat"`
}

type LeftMsg struct {
	PlayerID string `json:"pid"`
}

// RematchMsg reports rematch votes; Started is set once a new game began
type RematchMsg struct {
	Votes   int  `json:"votes"`
	Started bool `json:"started,omitempty"`
}

// MatchInfo is used in the match list
type MatchInfo struct {
	ID      string       `json:"id"`
	Name    string       `json:"name"`
	Players int          `json:"players"`
	Turn    int          `json:"turn"`
	Process game.Process `json:"process"`
}

// CheckMsg is sent by a client to check if a match exists
type CheckMsg struct {
	MatchID string `json:"mid"`
}

// CheckedMsg is the response to a match check
type CheckedMsg struct {
	MatchID string `json:"mid"`
	Exists  bool   `json:"exists"`
	Name    string `json:"name,omitempty"`
	Players int    `json:"players,omitempty"`
}

// ErrorMsg sends an error to the client
type ErrorMsg struct {
	Msg string `json:"msg"`
}

type RegisterMsg struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

type LoginMsg struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

type AuthMsg struct {
	Token string `json:"token"`
}

// AuthOKMsg confirms register, login or token resume
type AuthOKMsg struct {
	Token    string `json:"token"`
	Username string `json:"username"`
	PlayerID int64  `json:"pid"`
}

// ProfileDataMsg carries the account's lifetime counters
type ProfileDataMsg struct {
	Username string `json:"username"`
	Wins     int    `json:"wins"`
	Losses   int    `json:"losses"`
	Kills    int    `json:"kills"`
	Deaths   int    `json:"deaths"`
	Matches  int    `json:"matches"`
}

// StateFrame is the binary snapshot pushed to seated clients
type StateFrame struct {
	Tick  uint64     `msgpack:"tick"`
	State game.State `msgpack:"state"`
}

func encodeStateFrame(tick uint64, state game.State) ([]byte, error) {
	return msgpack.Marshal(&StateFrame{Tick: tick, State: state})
}

// decodeBinaryAct parses [0x01, msgpack(Command)...] and refuses non-finite targets
func decodeBinaryAct(raw []byte) (game.Command, bool) {
	var cmd game.Command
	if len(raw) < 2 || raw[0] != binaryAct {
		return cmd, false
	}
	if err := msgpack.Unmarshal(raw[1:], &cmd); err != nil {
		return cmd, false
	}
	// JSON cannot carry NaN or Inf, msgpack can
	return cmd, cmd.Finite()
}

func errorEnvelope(msg string) Envelope {
	return Envelope{T: MsgError, Data: ErrorMsg{Msg: msg}}
}
