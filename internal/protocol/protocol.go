package protocol

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/DoyleJ11/lobby-sync/internal/roster"
	"golang.org/x/text/unicode/norm"
)

// Handshake payloads above this size are rejected before parsing.
const MaxConnectPayload = 1024

const MaxPlayerNameRunes = 32

var ErrPayloadTooLarge = errors.New("connect payload too large")
var ErrMalformedPayload = errors.New("malformed connect payload")

type ConnectStatus int32

const (
	StatusUndefined ConnectStatus = iota
	StatusSuccess
	StatusServerFull
	StatusLoggedInAgain
	StatusUserRequestedDisconnect
	StatusGenericDisconnect
)

func (s ConnectStatus) String() string {
	switch s {
	case StatusSuccess:
		return "Success"
	case StatusServerFull:
		return "ServerFull"
	case StatusLoggedInAgain:
		return "LoggedInAgain"
	case StatusUserRequestedDisconnect:
		return "UserRequestedDisconnect"
	case StatusGenericDisconnect:
		return "GenericDisconnect"
	default:
		return "Undefined"
	}
}

type FatalLobbyError int32

const (
	FatalUndefined FatalLobbyError = iota
	FatalLobbyFull
)

func (e FatalLobbyError) String() string {
	if e == FatalLobbyFull {
		return "LobbyFull"
	}
	return "Undefined"
}

// Named messages.
const (
	MsgConnectResult       = "ConnectResult"
	MsgSetDisconnectReason = "SetDisconnectReason"
	MsgAssignSeatNumber    = "AssignSeatNumber"
	MsgFatalLobbyError     = "FatalLobbyError"
	MsgRosterOp            = "RosterOp"
	MsgLobbyStatus         = "LobbyStatus"
	MsgSwitchScene         = "SwitchScene"

	MsgClientSceneChanged = "ClientSceneChanged"
	MsgChangeSeat         = "ChangeSeat"
	MsgCloseLobby         = "CloseLobby"
	MsgRequestDisconnect  = "RequestDisconnect"
)

// ConnectionRequest is the handshake a client sends as its first frame.
type ConnectionRequest struct {
	PersistentID string `json:"persistentId"`
	CurrentScene int32  `json:"currentScene"`
	PlayerName   string `json:"playerName"`
}

// ParseConnectionRequest enforces the size bound before touching the bytes.
func ParseConnectionRequest(payload []byte) (ConnectionRequest, error) {
	if len(payload) > MaxConnectPayload {
		return ConnectionRequest{}, fmt.Errorf("%w: %d bytes", ErrPayloadTooLarge, len(payload))
	}
	var req ConnectionRequest
	if err := json.Unmarshal(payload, &req); err != nil {
		return ConnectionRequest{}, fmt.Errorf("%w: %v", ErrMalformedPayload, err)
	}
	if strings.TrimSpace(req.PersistentID) == "" {
		return ConnectionRequest{}, fmt.Errorf("%w: missing persistentId", ErrMalformedPayload)
	}
	req.PlayerName = NormalizePlayerName(req.PlayerName)
	return req, nil
}

// NormalizePlayerName returns an NFC, trimmed, length-capped display name.
func NormalizePlayerName(name string) string {
	name = strings.TrimSpace(norm.NFC.String(name))
	if utf8.RuneCountInString(name) <= MaxPlayerNameRunes {
		return name
	}
	return string([]rune(name)[:MaxPlayerNameRunes])
}

type ClientMessage struct {
	Type  string `json:"type"`
	Scene int32  `json:"scene,omitempty"`
}

type ServerMessage struct {
	Type   string          `json:"type"`
	Status ConnectStatus   `json:"status,omitempty"`
	Seat   *int            `json:"seat,omitempty"`
	Error  FatalLobbyError `json:"error,omitempty"`
	Op     *roster.Op      `json:"op,omitempty"`
	Closed bool            `json:"closed,omitempty"`
	Scene  string          `json:"scene,omitempty"`
}

func ConnectResult(s ConnectStatus) ServerMessage {
	return ServerMessage{Type: MsgConnectResult, Status: s}
}

func SetDisconnectReason(s ConnectStatus) ServerMessage {
	return ServerMessage{Type: MsgSetDisconnectReason, Status: s}
}

func AssignSeatNumber(seat int) ServerMessage {
	return ServerMessage{Type: MsgAssignSeatNumber, Seat: &seat}
}

func FatalError(e FatalLobbyError) ServerMessage {
	return ServerMessage{Type: MsgFatalLobbyError, Error: e}
}

func RosterChanged(op roster.Op) ServerMessage {
	return ServerMessage{Type: MsgRosterOp, Op: &op}
}

func LobbyStatus(closed bool) ServerMessage {
	return ServerMessage{Type: MsgLobbyStatus, Closed: closed}
}

func SwitchScene(scene string) ServerMessage {
	return ServerMessage{Type: MsgSwitchScene, Scene: scene}
}
