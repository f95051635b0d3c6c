package roster

import "slices"

// Allocate returns the lowest seat number not held by any live record, or
// ErrFull when every seat is taken. Seats held by the connections in leaving
// count as free, so a login replacing one of them can take its seat.
// Seat numbers are shown to players ("Player 1", "Player 2") so they stay
// minimal rather than coming off a free list.
func (r *Roster) Allocate(leaving ...uint64) (int, error) {
	held := r.records
	if len(leaving) > 0 {
		held = slices.DeleteFunc(slices.Clone(r.records), func(rec SeatRecord) bool {
			return slices.Contains(leaving, rec.ConnectionID)
		})
	}
	return LowestFree(held, r.maxSeats)
}

func LowestFree(records []SeatRecord, maxSeats int) (int, error) {
	for seat := 0; seat < maxSeats; seat++ {
		taken := false
		for _, rec := range records {
			if rec.SeatNumber == seat {
				taken = true
				break
			}
		}
		if !taken {
			return seat, nil
		}
	}
	return -1, ErrFull
}
