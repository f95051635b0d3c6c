package roster

import (
	"errors"
	"slices"
)

const DefaultMaxSeats = 8

// MaxSeatsLimit bounds configured lobby sizes.
const MaxSeatsLimit = 64

var ErrFull = errors.New("roster full")
var ErrIndexOutOfRange = errors.New("roster index out of range")
var ErrSeatTaken = errors.New("seat already taken")
var ErrSeatOutOfRange = errors.New("seat number out of range")

// SeatRecord is one approved, connected player.
type SeatRecord struct {
	ConnectionID   uint64  `json:"connectionId"`
	PlayerName     string  `json:"playerName"`
	SeatNumber     int     `json:"seatNumber"`
	LastChangeTime float64 `json:"lastChangeTime"`
}

type OpKind string

const (
	OpSnapshot OpKind = "snapshot"
	OpAppend   OpKind = "append"
	OpUpdate   OpKind = "update"
	OpRemove   OpKind = "remove"
)

// Op is one entry of the roster change stream. Seq grows by exactly one per
// mutation; a snapshot carries the current Seq and the full list.
type Op struct {
	Seq     uint64       `json:"seq"`
	Kind    OpKind       `json:"kind"`
	Index   int          `json:"index"`
	Record  *SeatRecord  `json:"record,omitempty"`
	Records []SeatRecord `json:"records,omitempty"`
}

// Roster is the server-authoritative list of seat records. It is owned by a
// single lobby loop goroutine, no mutex needed.
type Roster struct {
	maxSeats  int
	records   []SeatRecord
	seq       uint64
	observers map[int]func(Op)
	nextObs   int
}

func New(maxSeats int) *Roster {
	if maxSeats <= 0 {
		maxSeats = DefaultMaxSeats
	}
	return &Roster{
		maxSeats:  maxSeats,
		records:   []SeatRecord{},
		observers: make(map[int]func(Op)),
	}
}

func (r *Roster) MaxSeats() int { return r.maxSeats }
func (r *Roster) Len() int      { return len(r.records) }
func (r *Roster) Seq() uint64   { return r.seq }

// Records returns a copy of the live roster.
func (r *Roster) Records() []SeatRecord { return slices.Clone(r.records) }

func (r *Roster) At(i int) (SeatRecord, bool) {
	if i < 0 || i >= len(r.records) {
		return SeatRecord{}, false
	}
	return r.records[i], true
}

// IndexOf does a linear scan by connection id, -1 if absent.
func (r *Roster) IndexOf(connID uint64) int {
	for i, rec := range r.records {
		if rec.ConnectionID == connID {
			return i
		}
	}
	return -1
}

func (r *Roster) Append(rec SeatRecord) (Op, error) {
	if len(r.records) >= r.maxSeats {
		return Op{}, ErrFull
	}
	if err := r.checkSeat(rec.SeatNumber, -1); err != nil {
		return Op{}, err
	}
	r.records = append(r.records, rec)
	op := r.next(OpAppend, len(r.records)-1, &rec)
	return op, nil
}

func (r *Roster) UpdateAt(i int, rec SeatRecord) (Op, error) {
	if i < 0 || i >= len(r.records) {
		return Op{}, ErrIndexOutOfRange
	}
	if err := r.checkSeat(rec.SeatNumber, i); err != nil {
		return Op{}, err
	}
	r.records[i] = rec
	op := r.next(OpUpdate, i, &rec)
	return op, nil
}

func (r *Roster) RemoveAt(i int) (Op, error) {
	if i < 0 || i >= len(r.records) {
		return Op{}, ErrIndexOutOfRange
	}
	r.records = slices.Delete(r.records, i, i+1)
	op := r.next(OpRemove, i, nil)
	return op, nil
}

// Snapshot describes the whole roster at the current sequence number without
// advancing it. Late joiners start their mirror from one of these.
func (r *Roster) Snapshot() Op {
	return Op{Seq: r.seq, Kind: OpSnapshot, Records: r.Records()}
}

// Subscribe registers a server-side observer called synchronously after each
// mutation. The returned func deregisters it.
func (r *Roster) Subscribe(fn func(Op)) func() {
	id := r.nextObs
	r.nextObs++
	r.observers[id] = fn
	return func() { delete(r.observers, id) }
}

func (r *Roster) checkSeat(seat, skip int) error {
	if seat < 0 || seat >= r.maxSeats {
		return ErrSeatOutOfRange
	}
	for i, rec := range r.records {
		if i != skip && rec.SeatNumber == seat {
			return ErrSeatTaken
		}
	}
	return nil
}

func (r *Roster) next(kind OpKind, index int, rec *SeatRecord) Op {
	r.seq++
	op := Op{Seq: r.seq, Kind: kind, Index: index, Record: rec}
	for _, fn := range r.observers {
		fn(op)
	}
	return op
}
