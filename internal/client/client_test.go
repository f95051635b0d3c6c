package client

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/DoyleJ11/lobby-sync/internal/engine"
	"github.com/DoyleJ11/lobby-sync/internal/hub"
	"github.com/DoyleJ11/lobby-sync/internal/lobby"
	"github.com/DoyleJ11/lobby-sync/internal/protocol"
	"github.com/DoyleJ11/lobby-sync/internal/roster"
	"github.com/DoyleJ11/lobby-sync/internal/ws"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

const (
	testCode = "TEST01"
	waitFor  = 2 * time.Second
	tick     = 10 * time.Millisecond
)

type testServer struct {
	url      string
	lobby    *lobby.Lobby
	handoffs atomic.Int32
}

func startServer(t *testing.T, maxSeats int) *testServer {
	t.Helper()
	log := zaptest.NewLogger(t)
	ts := &testServer{}

	transport := ws.NewTransport(log)
	rules := engine.Rules{
		MaxSeats:    maxSeats,
		Policy:      engine.PolicyStrict,
		CloseDelay:  50 * time.Millisecond,
		NextScene:   "GameRoom",
		LobbyScene:  1,
		RetireDelay: time.Minute,
	}
	deps := lobby.Deps{
		Channel: transport,
		Log:     log,
		Handoff: lobby.HandoffFunc(func(context.Context, *engine.Results) error {
			ts.handoffs.Add(1)
			return nil
		}),
	}
	h := hub.NewHub(context.Background(), rules, deps)

	reply := make(chan *lobby.Lobby, 1)
	h.Inbox() <- hub.CreateLobby{Code: testCode, Reply: reply}
	ts.lobby = <-reply

	mux := http.NewServeMux()
	mux.Handle("/ws", ws.Handler(h, transport))
	srv := httptest.NewServer(mux)
	ts.url = "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws?code=" + testCode

	t.Cleanup(func() {
		h.Inbox() <- hub.ShutdownHub{}
		<-h.Done()
		srv.Close()
	})
	return ts
}

func (ts *testServer) serverRoster(t *testing.T) []roster.SeatRecord {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	v, err := ts.lobby.View(ctx)
	require.NoError(t, err)
	return v.Roster
}

func dial(t *testing.T, ts *testServer, pid string) *Client {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	c, err := Dial(ctx, ts.url, Options{PersistentID: pid, PlayerName: "p-" + pid, Scene: 1, Log: zaptest.NewLogger(t)})
	require.NoError(t, err)
	t.Cleanup(func() { _ = c.Close() })
	return c
}

func dialSeated(t *testing.T, ts *testServer, pid string) *Client {
	t.Helper()
	c := dial(t, ts, pid)
	require.Eventually(t, func() bool { _, ok := c.Seat(); return ok }, waitFor, tick)
	return c
}

// recorder is an Observer that also implements every optional capability.
type recorder struct {
	mu     sync.Mutex
	seats  []int
	fatals []protocol.FatalLobbyError
	ops    []roster.Op
	status []bool
	scenes []string
}

func (r *recorder) OnRosterChanged(op roster.Op, _ []roster.SeatRecord) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.ops = append(r.ops, op)
}

func (r *recorder) OnAssignedSeat(seat int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.seats = append(r.seats, seat)
}

func (r *recorder) OnFatalError(code protocol.FatalLobbyError) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.fatals = append(r.fatals, code)
}

func (r *recorder) OnLobbyStatus(closed bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.status = append(r.status, closed)
}

func (r *recorder) OnSwitchScene(scene string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.scenes = append(r.scenes, scene)
}

func seatsOf(recs []roster.SeatRecord) []int {
	out := make([]int, 0, len(recs))
	for _, r := range recs {
		out = append(out, r.SeatNumber)
	}
	return out
}

func TestClient_SeatReuse_MirrorsConverge(t *testing.T) {
	ts := startServer(t, 8)

	a := dialSeated(t, ts, "a")
	b := dialSeated(t, ts, "b")
	c := dialSeated(t, ts, "c")

	for i, cl := range []*Client{a, b, c} {
		seat, _ := cl.Seat()
		assert.Equal(t, i, seat)
	}

	require.NoError(t, b.Close())
	require.Eventually(t, func() bool { return len(ts.serverRoster(t)) == 2 }, waitFor, tick)
	assert.Equal(t, []int{0, 2}, seatsOf(ts.serverRoster(t)))

	d := dialSeated(t, ts, "d")
	seat, _ := d.Seat()
	assert.Equal(t, 1, seat)

	want := ts.serverRoster(t)
	for _, cl := range []*Client{a, c, d} {
		require.Eventually(t, func() bool { return assert.ObjectsAreEqual(want, cl.Roster()) }, waitFor, tick)
	}
	assert.NoError(t, a.Err())
}

func TestClient_ChangeSeat_Replicates(t *testing.T) {
	ts := startServer(t, 8)
	a := dialSeated(t, ts, "a")
	b := dialSeated(t, ts, "b")

	rec := &recorder{}
	defer a.Register(rec)()

	before := b.RosterSeq()
	require.NoError(t, b.ChangeSeat(context.Background()))
	require.Eventually(t, func() bool { return a.RosterSeq() == before+1 }, waitFor, tick)

	rec.mu.Lock()
	require.NotEmpty(t, rec.ops)
	last := rec.ops[len(rec.ops)-1]
	rec.mu.Unlock()
	assert.Equal(t, roster.OpUpdate, last.Kind)
	assert.Equal(t, 1, last.Index)
	assert.Equal(t, ts.serverRoster(t), a.Roster())
}

func TestClient_StrictDuplicate_OldConnectionBooted(t *testing.T) {
	ts := startServer(t, 8)
	first := dialSeated(t, ts, "A")
	second := dialSeated(t, ts, "A")

	select {
	case <-first.Done():
	case <-time.After(waitFor):
		t.Fatalf("first connection not closed")
	}
	assert.Equal(t, protocol.StatusLoggedInAgain, first.DisconnectReason())
	assert.NoError(t, first.Err())

	assert.Equal(t, protocol.StatusSuccess, second.ConnectResult())
	require.Eventually(t, func() bool { return len(second.Roster()) == 1 }, waitFor, tick)
}

func TestClient_LobbyFull_FatalError(t *testing.T) {
	ts := startServer(t, 2)
	dialSeated(t, ts, "a")
	dialSeated(t, ts, "b")

	rec := &recorder{}
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	c, err := Dial(ctx, ts.url, Options{PersistentID: "c", Observers: []Observer{rec}})
	require.NoError(t, err)
	defer c.Close()

	select {
	case <-c.Done():
	case <-time.After(waitFor):
		t.Fatalf("rejected client not closed")
	}
	assert.Equal(t, protocol.StatusServerFull, c.ConnectResult())
	assert.Equal(t, protocol.StatusServerFull, c.DisconnectReason())
	_, seated := c.Seat()
	assert.False(t, seated)
	assert.Len(t, ts.serverRoster(t), 2)

	rec.mu.Lock()
	defer rec.mu.Unlock()
	assert.Equal(t, []protocol.FatalLobbyError{protocol.FatalLobbyFull}, rec.fatals)
	assert.Empty(t, rec.seats)
}

func TestClient_HostClose_SwitchesScene(t *testing.T) {
	ts := startServer(t, 8)
	host := dialSeated(t, ts, "host")
	guest := dialSeated(t, ts, "guest")

	rec := &recorder{}
	defer guest.Register(rec)()

	// Only seat 0 may close.
	require.NoError(t, guest.CloseLobby(context.Background()))
	require.NoError(t, host.CloseLobby(context.Background()))
	require.NoError(t, host.CloseLobby(context.Background()))

	require.Eventually(t, func() bool { return guest.NextScene() == "GameRoom" }, waitFor, tick)
	assert.True(t, guest.LobbyClosed())
	assert.True(t, host.LobbyClosed())

	time.Sleep(150 * time.Millisecond)
	assert.Equal(t, int32(1), ts.handoffs.Load())

	rec.mu.Lock()
	defer rec.mu.Unlock()
	assert.Equal(t, []bool{true}, rec.status)
	assert.Equal(t, []string{"GameRoom"}, rec.scenes)
}

func TestClient_RequestDisconnect(t *testing.T) {
	ts := startServer(t, 8)
	a := dialSeated(t, ts, "a")
	b := dialSeated(t, ts, "b")

	require.NoError(t, b.RequestDisconnect(context.Background()))
	select {
	case <-b.Done():
	case <-time.After(waitFor):
		t.Fatalf("client not disconnected")
	}
	assert.Equal(t, protocol.StatusUserRequestedDisconnect, b.DisconnectReason())
	require.Eventually(t, func() bool { return len(a.Roster()) == 1 }, waitFor, tick)
	assert.ErrorIs(t, b.ChangeSeat(context.Background()), ErrClosed)
}

func TestClient_Register_Deregister(t *testing.T) {
	ts := startServer(t, 8)
	a := dialSeated(t, ts, "a")

	rec := &recorder{}
	unregister := a.Register(rec)
	unregister()

	dialSeated(t, ts, "b")
	require.Eventually(t, func() bool { return len(a.Roster()) == 2 }, waitFor, tick)

	rec.mu.Lock()
	defer rec.mu.Unlock()
	assert.Empty(t, rec.ops)
}
