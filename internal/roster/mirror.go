package roster

import (
	"errors"
	"fmt"
	"slices"
)

var ErrSequenceGap = errors.New("roster op out of sequence")
var ErrNotSynced = errors.New("mirror has no snapshot yet")

// Mirror is a read-only client copy of a Roster, rebuilt by folding the
// server's op stream in order.
type Mirror struct {
	records []SeatRecord
	seq     uint64
	synced  bool
}

func NewMirror() *Mirror { return &Mirror{} }

func (m *Mirror) Apply(op Op) error {
	if op.Kind == OpSnapshot {
		m.records = slices.Clone(op.Records)
		m.seq = op.Seq
		m.synced = true
		return nil
	}
	if !m.synced {
		return ErrNotSynced
	}
	if op.Seq != m.seq+1 {
		return fmt.Errorf("%w: have %d, got %d", ErrSequenceGap, m.seq, op.Seq)
	}

	switch op.Kind {
	case OpAppend:
		if op.Record == nil {
			return fmt.Errorf("append without record at seq %d", op.Seq)
		}
		m.records = append(m.records, *op.Record)
	case OpUpdate:
		if op.Index < 0 || op.Index >= len(m.records) || op.Record == nil {
			return fmt.Errorf("%w: update %d of %d", ErrIndexOutOfRange, op.Index, len(m.records))
		}
		m.records[op.Index] = *op.Record
	case OpRemove:
		if op.Index < 0 || op.Index >= len(m.records) {
			return fmt.Errorf("%w: remove %d of %d", ErrIndexOutOfRange, op.Index, len(m.records))
		}
		m.records = slices.Delete(m.records, op.Index, op.Index+1)
	default:
		return fmt.Errorf("unknown roster op %q", op.Kind)
	}
	m.seq = op.Seq
	return nil
}

func (m *Mirror) Records() []SeatRecord { return slices.Clone(m.records) }
func (m *Mirror) Seq() uint64           { return m.seq }
func (m *Mirror) Synced() bool          { return m.synced }

// Find returns the record for a connection, if mirrored.
func (m *Mirror) Find(connID uint64) (SeatRecord, bool) {
	for _, rec := range m.records {
		if rec.ConnectionID == connID {
			return rec, true
		}
	}
	return SeatRecord{}, false
}
