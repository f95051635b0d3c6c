package session

import "fmt"

// ClientIdentity ties a persistent, client-chosen id to the transient
// connection currently holding it.
type ClientIdentity struct {
	PersistentID string
	ConnectionID uint64
	PlayerName   string
}

// Directory holds identities and the per-connection scene map. Accessed only
// from the owning lobby loop goroutine, no mutex needed.
type Directory struct {
	byID   map[string]ClientIdentity
	byConn map[uint64]string
	scenes map[uint64]int32
}

func NewDirectory() *Directory {
	return &Directory{
		byID:   make(map[string]ClientIdentity),
		byConn: make(map[uint64]string),
		scenes: make(map[uint64]int32),
	}
}

func (d *Directory) Len() int { return len(d.byID) }

func (d *Directory) Lookup(persistentID string) (ClientIdentity, bool) {
	id, ok := d.byID[persistentID]
	return id, ok
}

func (d *Directory) ByConnection(connID uint64) (ClientIdentity, bool) {
	pid, ok := d.byConn[connID]
	if !ok {
		return ClientIdentity{}, false
	}
	id, ok := d.byID[pid]
	return id, ok
}

// Bind records id. A persistent id that was already known moves to the new
// connection and the old connection stops resolving to it.
func (d *Directory) Bind(id ClientIdentity) {
	if prev, ok := d.byID[id.PersistentID]; ok && prev.ConnectionID != id.ConnectionID {
		delete(d.byConn, prev.ConnectionID)
	}
	d.byID[id.PersistentID] = id
	d.byConn[id.ConnectionID] = id.PersistentID
}

// Release drops the connection mapping. The identity itself is removed only
// when this connection still owns it; a newer login keeps it alive.
func (d *Directory) Release(connID uint64) (ClientIdentity, bool) {
	delete(d.scenes, connID)
	pid, ok := d.byConn[connID]
	if !ok {
		return ClientIdentity{}, false
	}
	delete(d.byConn, connID)

	id, ok := d.byID[pid]
	if !ok || id.ConnectionID != connID {
		return ClientIdentity{}, false
	}
	delete(d.byID, pid)
	return id, true
}

// Disambiguate appends a suffix until persistentID is unused.
func (d *Directory) Disambiguate(persistentID string) string {
	for {
		if _, taken := d.byID[persistentID]; !taken {
			return persistentID
		}
		persistentID += "_Secondary"
	}
}

// PlayerName returns the recorded name, or "Player<seat>" when none was given.
func (d *Directory) PlayerName(connID uint64, seat int) string {
	if id, ok := d.ByConnection(connID); ok && id.PlayerName != "" {
		return id.PlayerName
	}
	return fmt.Sprintf("Player%d", seat)
}

func (d *Directory) SetScene(connID uint64, scene int32) { d.scenes[connID] = scene }

func (d *Directory) Scene(connID uint64) (int32, bool) {
	s, ok := d.scenes[connID]
	return s, ok
}

func (d *Directory) InScene(connID uint64, scene int32) bool {
	s, ok := d.scenes[connID]
	return ok && s == scene
}

// AllInScene is true when every tracked connection reports scene.
func (d *Directory) AllInScene(scene int32) bool {
	for _, s := range d.scenes {
		if s != scene {
			return false
		}
	}
	return true
}

func (d *Directory) CountInScene(scene int32) int {
	n := 0
	for _, s := range d.scenes {
		if s == scene {
			n++
		}
	}
	return n
}
