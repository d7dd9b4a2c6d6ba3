package ws

import "sync"

// Subscriber abstracts a streaming client session.
type Subscriber interface {
	Send([]byte) error
	Close()
}

// Hub manages stream subscriptions by user ID. A user may hold several
// sessions at once; a payload addressed to a user reaches all of them.
// Users without sessions receive nothing; delivery is best effort.
type Hub struct {
	mu        sync.RWMutex
	sessions  map[string]map[Subscriber]struct{}
	register  chan subscription
	unreg     chan subscription
	broadcast chan message
}

// message couples payload with the recipient user.
type message struct {
	userID  string
	payload []byte
}

// subscription defines register/unregister requests.
type subscription struct {
	userID string
	client Subscriber
}

// NewHub creates an initialized Hub.
func NewHub() *Hub {
	h := &Hub{
		sessions:  make(map[string]map[Subscriber]struct{}),
		register:  make(chan subscription),
		unreg:     make(chan subscription),
		broadcast: make(chan message),
	}
	go h.run()
	return h
}

func (h *Hub) run() {
	for {
		select {
		case sub := <-h.register:
			if _, ok := h.sessions[sub.userID]; !ok {
				h.sessions[sub.userID] = make(map[Subscriber]struct{})
			}
			h.sessions[sub.userID][sub.client] = struct{}{}
		case sub := <-h.unreg:
			if clients, ok := h.sessions[sub.userID]; ok {
				delete(clients, sub.client)
				if len(clients) == 0 {
					delete(h.sessions, sub.userID)
				}
			}
		case msg := <-h.broadcast:
			if clients, ok := h.sessions[msg.userID]; ok {
				for c := range clients {
					if err := c.Send(msg.payload); err != nil {
						c.Close()
						delete(clients, c)
					}
				}
				if len(clients) == 0 {
					delete(h.sessions, msg.userID)
				}
			}
		}
	}
}

// Register adds a session to a user's stream.
func (h *Hub) Register(userID string, client Subscriber) {
	h.register <- subscription{userID: userID, client: client}
}

// Unregister removes a session.
func (h *Hub) Unregister(userID string, client Subscriber) {
	h.unreg <- subscription{userID: userID, client: client}
}

// Broadcast sends payload to all of the user's sessions.
func (h *Hub) Broadcast(userID string, payload []byte) {
	h.broadcast <- message{userID: userID, payload: payload}
}
