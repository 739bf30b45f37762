package chat

import (
	"fmt"
	"sort"
	"strings"
	"sync"

	"framechat/internal/logging"
	"framechat/internal/metrics"
)

// Registry owns the room-name-to-members mapping and is the single
// synchronization domain for room membership. Every mutation of the map and
// of a session's current room happens inside one critical section per call;
// broadcast fan-out happens outside the lock on a point-in-time snapshot, so
// a slow peer write never stalls membership changes.
type Registry struct {
	mu     sync.Mutex
	rooms  map[string]map[*Session]struct{}
	seeded map[string]struct{}

	// onDead is invoked outside the lock for every session swept after a
	// failed broadcast send. The server uses it to drop the session from
	// its connection registry and force-close the handle.
	onDead func(*Session)
}

// NewRegistry creates a registry with the given rooms pre-seeded. Seeded
// rooms survive becoming empty; rooms created on demand are deleted when
// their last member leaves.
func NewRegistry(seeded []string) *Registry {
	r := &Registry{
		rooms:  make(map[string]map[*Session]struct{}),
		seeded: make(map[string]struct{}),
	}
	for _, name := range seeded {
		r.rooms[name] = make(map[*Session]struct{})
		r.seeded[name] = struct{}{}
	}
	metrics.ActiveRooms.Set(float64(len(r.rooms)))
	return r
}

// OnDead registers the sweep callback. Must be set before traffic starts.
func (r *Registry) OnDead(fn func(*Session)) {
	r.onDead = fn
}

// CreateRoom registers an empty room. Returns false if it already exists.
func (r *Registry) CreateRoom(name string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.rooms[name]; exists {
		return false
	}
	r.rooms[name] = make(map[*Session]struct{})
	metrics.ActiveRooms.Set(float64(len(r.rooms)))
	return true
}

// JoinRoom moves s into the named room, creating it if absent. The removal
// from the old room, the insertion into the new one, and the update of the
// session's current room happen in one critical section, so there is no
// instant at which the session is in two rooms or observable in none while
// moving. Arrival and departure notices are sent after the lock is released
// and are advisory only.
func (r *Registry) JoinRoom(s *Session, name string) string {
	r.mu.Lock()
	old := r.removeLocked(s)
	members, exists := r.rooms[name]
	if !exists {
		members = make(map[*Session]struct{})
		r.rooms[name] = members
	}
	members[s] = struct{}{}
	s.setCurrentRoom(name)
	metrics.ActiveRooms.Set(float64(len(r.rooms)))
	r.mu.Unlock()

	nick := s.Nickname()
	if old != "" && old != name {
		r.Broadcast(old, fmt.Sprintf("[SYS] %s left the room.", nick), nil)
	}
	s.Send(fmt.Sprintf("[SYS] You entered %s.", name))
	r.Broadcast(name, fmt.Sprintf("[SYS] %s joined the room.", nick), s)

	return name
}

// Leave removes s from its current room. It returns the room left and
// whether any removal happened; calling it on a session that is not in a
// room is a no-op. Notices are the caller's concern, which is what keeps
// the call idempotent.
func (r *Registry) Leave(s *Session) (room string, left bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	old := r.removeLocked(s)
	return old, old != ""
}

// removeLocked detaches s from its current room, deleting the room if it
// became empty and is not seeded. Caller holds r.mu.
func (r *Registry) removeLocked(s *Session) string {
	old := s.CurrentRoom()
	if old == "" {
		return ""
	}
	if members, ok := r.rooms[old]; ok {
		delete(members, s)
		if len(members) == 0 {
			if _, isSeeded := r.seeded[old]; !isSeeded {
				delete(r.rooms, old)
				metrics.ActiveRooms.Set(float64(len(r.rooms)))
			}
		}
	}
	s.setCurrentRoom("")
	return old
}

// ListRooms formats the room names and member counts, sorted by name. The
// snapshot is taken under the lock; formatting happens outside it.
func (r *Registry) ListRooms() string {
	type entry struct {
		name  string
		count int
	}

	r.mu.Lock()
	entries := make([]entry, 0, len(r.rooms))
	for name, members := range r.rooms {
		entries = append(entries, entry{name: name, count: len(members)})
	}
	r.mu.Unlock()

	if len(entries) == 0 {
		return "(no rooms)"
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].name < entries[j].name })

	lines := make([]string, len(entries))
	for i, e := range entries {
		lines[i] = fmt.Sprintf("%s (%d connected)", e.name, e.count)
	}
	return strings.Join(lines, "\n")
}

// Who returns the nicknames in the session's current room, or false if the
// session is not in a room.
func (r *Registry) Who(s *Session) ([]string, bool) {
	r.mu.Lock()
	room := s.CurrentRoom()
	members, ok := r.rooms[room]
	if room == "" || !ok {
		r.mu.Unlock()
		return nil, false
	}
	snapshot := make([]*Session, 0, len(members))
	for m := range members {
		snapshot = append(snapshot, m)
	}
	r.mu.Unlock()

	nicks := make([]string, 0, len(snapshot))
	for _, m := range snapshot {
		nicks = append(nicks, m.Nickname())
	}
	sort.Strings(nicks)
	return nicks, true
}

// Broadcast sends message to every current member of room, excluding exclude
// when non-nil. The member set is snapshotted under the lock and the sends
// happen outside it, so a message may still reach a member that left the
// instant after the snapshot; that is an accepted best-effort outcome.
// Members whose send fails are swept from the registry afterwards under a
// second short critical section.
func (r *Registry) Broadcast(room, message string, exclude *Session) {
	r.mu.Lock()
	members, ok := r.rooms[room]
	if !ok {
		r.mu.Unlock()
		return
	}
	snapshot := make([]*Session, 0, len(members))
	for m := range members {
		snapshot = append(snapshot, m)
	}
	r.mu.Unlock()

	metrics.MessagesBroadcast.Inc()

	var dead []*Session
	for _, m := range snapshot {
		if m == exclude {
			continue
		}
		if m.Send(message) == SendFailed {
			metrics.BroadcastDeliveries.WithLabelValues(metrics.OutcomeFailed).Inc()
			dead = append(dead, m)
		} else {
			metrics.BroadcastDeliveries.WithLabelValues(metrics.OutcomeOK).Inc()
		}
	}

	r.sweep(dead)
}

// sweep detaches sessions that failed a send from their rooms and hands them
// to the server for unregistration.
func (r *Registry) sweep(dead []*Session) {
	if len(dead) == 0 {
		return
	}

	r.mu.Lock()
	for _, s := range dead {
		r.removeLocked(s)
	}
	r.mu.Unlock()

	for _, s := range dead {
		metrics.DeadSessionsSwept.Inc()
		logging.Debug().Str("session", s.ID()).Str("nick", s.Nickname()).Msg("swept dead session")
		if r.onDead != nil {
			r.onDead(s)
		}
	}
}
