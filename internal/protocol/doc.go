// Package protocol defines the lobby wire format. Every frame is a JSON text
// message.
//
// Client to server. The first frame is the handshake, at most 1024 bytes:
//
//	persistentId: string   // required, survives reconnects
//	currentScene: number   // int32 scene index
//	playerName: string     // optional, "Player<seat>" when empty
//
// Later frames:
//
//	ClientSceneChanged: {type, scene}
//	ChangeSeat: {type}        // re-select before the lobby locks
//	CloseLobby: {type}        // host seat (0) only
//	RequestDisconnect: {type} // leave with UserRequestedDisconnect
//
// Server to client:
//
//	ConnectResult: {type, status}        // 1 Success | 2 ServerFull
//	SetDisconnectReason: {type, status}  // 2 ServerFull | 3 LoggedInAgain | 4 UserRequestedDisconnect | 5 GenericDisconnect
//	AssignSeatNumber: {type, seat}       // 0..maxSeats-1
//	FatalLobbyError: {type, error}       // 1 LobbyFull
//	RosterOp: {type, op}
//	LobbyStatus: {type, closed}          // flips to true once, never back
//	SwitchScene: {type, scene}           // gameplay scene to load
//
// SetDisconnectReason always arrives before the socket closes. A successful
// join sees ConnectResult, RosterOp(snapshot), AssignSeatNumber. A full lobby
// sends ConnectResult(ServerFull), FatalLobbyError, SetDisconnectReason, then
// closes.
//
// Roster ops:
//
//	seq: number             // +1 per mutation; a snapshot carries the current value
//	kind: "snapshot" | "append" | "update" | "remove"
//	index: number           // update/remove position
//	record: SeatRecord      // append/update
//	records: SeatRecord[]   // snapshot
//
// A mirror starts from a snapshot and applies every later op in seq order.
// A gap means the mirror is stale and the client drops the connection.
package protocol
