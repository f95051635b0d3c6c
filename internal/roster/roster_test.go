package roster

import (
	"errors"
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func seat(t *testing.T, r *Roster, conn uint64) int {
	t.Helper()
	n, err := r.Allocate()
	require.NoError(t, err)
	_, err = r.Append(SeatRecord{ConnectionID: conn, PlayerName: "p", SeatNumber: n})
	require.NoError(t, err)
	return n
}

func TestAllocate_LowestFirst(t *testing.T) {
	r := New(DefaultMaxSeats)
	for i := 0; i < DefaultMaxSeats; i++ {
		if got := seat(t, r, uint64(100+i)); got != i {
			t.Fatalf("seat %d: got %d", i, got)
		}
	}

	_, err := r.Allocate()
	require.ErrorIs(t, err, ErrFull)
}

func TestAllocate_ReusesFreedSeat(t *testing.T) {
	r := New(DefaultMaxSeats)
	seat(t, r, 1)
	seat(t, r, 2)
	seat(t, r, 3)

	_, err := r.RemoveAt(r.IndexOf(2))
	require.NoError(t, err)

	var seats []int
	for _, rec := range r.Records() {
		seats = append(seats, rec.SeatNumber)
	}
	assert.Equal(t, []int{0, 2}, seats)

	assert.Equal(t, 1, seat(t, r, 4))
}

func TestAllocate_LeavingSeatCountsAsFree(t *testing.T) {
	r := New(2)
	seat(t, r, 1)
	seat(t, r, 2)

	_, err := r.Allocate()
	require.ErrorIs(t, err, ErrFull)

	n, err := r.Allocate(1)
	require.NoError(t, err)
	assert.Equal(t, 0, n)
	n, err = r.Allocate(2, 1)
	require.NoError(t, err)
	assert.Equal(t, 0, n)
	assert.Len(t, r.Records(), 2, "allocation never mutates the roster")
}

func TestNew_LargeSeatCountIsLazy(t *testing.T) {
	r := New(1 << 40)
	assert.Equal(t, 1<<40, r.MaxSeats())
	assert.Equal(t, 0, seat(t, r, 1))
	assert.Equal(t, 1, seat(t, r, 2))
}

func TestLowestFree(t *testing.T) {
	cases := []struct {
		name    string
		held    []int
		max     int
		want    int
		wantErr error
	}{
		{name: "empty", held: nil, max: 8, want: 0},
		{name: "gap in middle", held: []int{0, 1, 3}, max: 8, want: 2},
		{name: "unordered", held: []int{2, 0}, max: 8, want: 1},
		{name: "full", held: []int{1, 0}, max: 2, want: -1, wantErr: ErrFull},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			var recs []SeatRecord
			for _, s := range tc.held {
				recs = append(recs, SeatRecord{SeatNumber: s})
			}
			got, err := LowestFree(recs, tc.max)
			if !errors.Is(err, tc.wantErr) {
				t.Fatalf("err: got %v, want %v", err, tc.wantErr)
			}
			if got != tc.want {
				t.Fatalf("seat: got %d, want %d", got, tc.want)
			}
		})
	}
}

func TestRoster_RejectsInvalidMutations(t *testing.T) {
	r := New(2)
	seat(t, r, 1)

	_, err := r.Append(SeatRecord{ConnectionID: 2, SeatNumber: 0})
	assert.ErrorIs(t, err, ErrSeatTaken)

	_, err = r.Append(SeatRecord{ConnectionID: 2, SeatNumber: 2})
	assert.ErrorIs(t, err, ErrSeatOutOfRange)

	_, err = r.UpdateAt(3, SeatRecord{})
	assert.ErrorIs(t, err, ErrIndexOutOfRange)

	_, err = r.RemoveAt(-1)
	assert.ErrorIs(t, err, ErrIndexOutOfRange)

	seat(t, r, 2)
	_, err = r.Append(SeatRecord{ConnectionID: 3, SeatNumber: 1})
	assert.ErrorIs(t, err, ErrFull)

	assert.Equal(t, uint64(2), r.Seq(), "failed mutations must not advance seq")
}

func TestRoster_SubscribeAndUnsubscribe(t *testing.T) {
	r := New(4)
	var seen []OpKind
	stop := r.Subscribe(func(op Op) { seen = append(seen, op.Kind) })

	seat(t, r, 1)
	_, err := r.UpdateAt(0, SeatRecord{ConnectionID: 1, SeatNumber: 0, LastChangeTime: 1.5})
	require.NoError(t, err)
	stop()
	_, err = r.RemoveAt(0)
	require.NoError(t, err)

	assert.Equal(t, []OpKind{OpAppend, OpUpdate}, seen)
}

func TestMirror_RejectsGapsAndUnsynced(t *testing.T) {
	m := NewMirror()
	err := m.Apply(Op{Seq: 1, Kind: OpAppend, Record: &SeatRecord{}})
	require.ErrorIs(t, err, ErrNotSynced)

	require.NoError(t, m.Apply(Op{Seq: 4, Kind: OpSnapshot}))
	err = m.Apply(Op{Seq: 6, Kind: OpAppend, Record: &SeatRecord{}})
	require.ErrorIs(t, err, ErrSequenceGap)
	assert.Equal(t, uint64(4), m.Seq())
}

// Replays a random mutation history through the op stream and checks the
// mirror matches the server at every step.
func TestMirror_ConvergesWithServer(t *testing.T) {
	rng := rand.New(rand.NewSource(7))
	r := New(DefaultMaxSeats)

	late := NewMirror()
	early := NewMirror()
	require.NoError(t, early.Apply(r.Snapshot()))
	stop := r.Subscribe(func(op Op) { require.NoError(t, early.Apply(op)) })
	defer stop()

	var nextConn uint64 = 1
	for step := 0; step < 500; step++ {
		switch rng.Intn(3) {
		case 0:
			if n, err := r.Allocate(); err == nil {
				_, err = r.Append(SeatRecord{ConnectionID: nextConn, PlayerName: "p", SeatNumber: n})
				require.NoError(t, err)
				nextConn++
			}
		case 1:
			if r.Len() > 0 {
				i := rng.Intn(r.Len())
				rec, _ := r.At(i)
				rec.LastChangeTime = float64(step)
				_, err := r.UpdateAt(i, rec)
				require.NoError(t, err)
			}
		case 2:
			if r.Len() > 0 {
				_, err := r.RemoveAt(rng.Intn(r.Len()))
				require.NoError(t, err)
			}
		}

		if step == 250 {
			require.NoError(t, late.Apply(r.Snapshot()))
			r.Subscribe(func(op Op) { require.NoError(t, late.Apply(op)) })
		}

		require.Equal(t, r.Records(), early.Records(), "step %d", step)
		if step >= 250 {
			require.Equal(t, r.Records(), late.Records(), "step %d", step)
		}
	}
}
