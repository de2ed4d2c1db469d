package hub

import (
	"encoding/json"
	"log/slog"
	"sync"

	"scanner-bridge/domain"
	"scanner-bridge/logging"
)

type Hub struct {
	sets  map[domain.Role]map[domain.Connection]struct{}
	order map[domain.Role][]domain.Connection
	mu    sync.RWMutex

	// held across joins and status notifications
	presenceMu sync.Mutex
}

func New() *Hub {
	h := &Hub{
		sets:  make(map[domain.Role]map[domain.Connection]struct{}),
		order: make(map[domain.Role][]domain.Connection),
	}
	for _, role := range []domain.Role{domain.RoleScanner, domain.RoleWeb, domain.RoleNone} {
		h.sets[role] = make(map[domain.Connection]struct{})
	}
	return h
}

func (h *Hub) Register(conn domain.Connection) {
	h.Join(conn, nil)
}

// Join runs welcome before conn becomes visible to broadcasts, so the
// welcome frame is always the first thing the connection is sent.
func (h *Hub) Join(conn domain.Connection, welcome func()) {
	role := conn.Role()

	h.presenceMu.Lock()
	h.mu.RLock()
	_, exists := h.sets[role][conn]
	h.mu.RUnlock()
	if exists {
		h.presenceMu.Unlock()
		return
	}
	if welcome != nil {
		welcome()
	}

	h.mu.Lock()
	h.sets[role][conn] = struct{}{}
	h.order[role] = append(h.order[role], conn)
	count := len(h.sets[role])
	h.mu.Unlock()
	h.presenceMu.Unlock()

	slog.Info("client connected", logging.ClientID(conn.ID()), logging.Role(role), "clients", count)

	if role == domain.RoleScanner {
		h.notifyPresence()
	}
}

func (h *Hub) Unregister(conn domain.Connection) {
	role := conn.Role()

	h.mu.Lock()
	set := h.sets[role]
	if _, exists := set[conn]; !exists {
		h.mu.Unlock()
		return
	}
	delete(set, conn)
	h.order[role] = removeConn(h.order[role], conn)
	count := len(set)
	h.mu.Unlock()

	slog.Info("client disconnected", logging.ClientID(conn.ID()), logging.Role(role), "clients", count)

	if role == domain.RoleScanner {
		h.notifyPresence()
	}
}

func (h *Hub) Broadcast(role domain.Role, data []byte) {
	for _, conn := range h.snapshot(role) {
		if err := conn.Send(data); err != nil {
			slog.Debug("broadcast skipped", logging.ClientID(conn.ID()), logging.Role(role), logging.Err(err))
		}
	}
}

func (h *Hub) CountScanners() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.sets[domain.RoleScanner])
}

func (h *Hub) Connections() []domain.Connection {
	h.mu.RLock()
	defer h.mu.RUnlock()

	all := make([]domain.Connection, 0, len(h.order[domain.RoleScanner])+len(h.order[domain.RoleWeb])+len(h.order[domain.RoleNone]))
	all = append(all, h.order[domain.RoleScanner]...)
	all = append(all, h.order[domain.RoleWeb]...)
	all = append(all, h.order[domain.RoleNone]...)
	return all
}

func (h *Hub) Stats() (scanners, web, other int) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.sets[domain.RoleScanner]), len(h.sets[domain.RoleWeb]), len(h.sets[domain.RoleNone])
}

func (h *Hub) snapshot(role domain.Role) []domain.Connection {
	h.mu.RLock()
	defer h.mu.RUnlock()
	conns := make([]domain.Connection, len(h.order[role]))
	copy(conns, h.order[role])
	return conns
}

func (h *Hub) notifyPresence() {
	h.presenceMu.Lock()
	defer h.presenceMu.Unlock()

	data, err := json.Marshal(domain.NewStatus(h.CountScanners() > 0))
	if err != nil {
		slog.Warn("marshal error", logging.Err(err))
		return
	}
	h.Broadcast(domain.RoleWeb, data)
}

func removeConn(conns []domain.Connection, target domain.Connection) []domain.Connection {
	for i, c := range conns {
		if c == target {
			return append(conns[:i:i], conns[i+1:]...)
		}
	}
	return conns
}
