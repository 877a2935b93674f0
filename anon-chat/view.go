package main

import (
	"encoding/json"
	"math/rand/v2"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"
	"github.com/samber/lo"

	"github.com/gosuda/portal-chat/anon-chat/rooms"
	"github.com/gosuda/portal-chat/anon-chat/session"
)

const (
	ownerCookie    = "anon_uid"
	roomCookie     = "currentRoom"
	roomNameCookie = "roomName"
	ownerCookieAge = 365 * 24 * time.Hour
)

// roomView is a directory entry as the landing page and /api/rooms show it.
type roomView struct {
	rooms.Descriptor
	Online int            `json:"online"`
	Status session.Status `json:"status"`
}

type server struct {
	name     string
	mgr      *session.Manager
	upgrader websocket.Upgrader

	rngMu sync.Mutex
	rng   *rand.Rand

	mu      sync.Mutex
	clients map[*Client]struct{}
	wg      sync.WaitGroup
}

func newServer(name string, mgr *session.Manager) *server {
	return &server{
		name: name,
		mgr:  mgr,
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool { return true },
		},
		rng:     rand.New(rand.NewPCG(uint64(time.Now().UnixNano()), 0x616e6f6e)),
		clients: make(map[*Client]struct{}),
	}
}

// NewHandler builds the chat HTTP router (pages, directory API and websocket).
func (s *server) NewHandler() http.Handler {
	r := chi.NewRouter()
	r.Get("/", s.serveIndex)
	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) { w.WriteHeader(http.StatusOK) })
	r.Get("/api/rooms", s.serveRooms)
	r.Post("/rooms/new", s.createRoom)
	r.Post("/rooms/{id}/enter", s.enterRoom)
	r.Get("/chat", s.serveChat)
	r.Get("/ws", s.handleWS)
	return r
}

func (s *server) directory() []roomView {
	return lo.Map(rooms.Directory(), func(d rooms.Descriptor, _ int) roomView {
		return roomView{Descriptor: d, Status: s.mgr.Status(d.ID)}
	})
}

// ownerID returns the persistent anonymous owner id, issuing one if needed.
func ownerID(w http.ResponseWriter, r *http.Request) string {
	if c, err := r.Cookie(ownerCookie); err == nil {
		if _, err := uuid.Parse(c.Value); err == nil {
			return c.Value
		}
	}
	id := uuid.NewString()
	http.SetCookie(w, &http.Cookie{
		Name:     ownerCookie,
		Value:    id,
		Path:     "/",
		MaxAge:   int(ownerCookieAge / time.Second),
		SameSite: http.SameSiteLaxMode,
	})
	return id
}

func (s *server) serveIndex(w http.ResponseWriter, r *http.Request) {
	ownerID(w, r)
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	err := indexTmpl.Execute(w, struct {
		Name  string
		Rooms []roomView
	}{Name: s.name, Rooms: s.directory()})
	if err != nil {
		log.Warn().Err(err).Msg("[chat] render index")
	}
}

func (s *server) serveRooms(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, s.directory())
}

// selectRoom stores the selection in session cookies, which the browser
// drops when it closes.
func selectRoom(w http.ResponseWriter, r *http.Request, id, name string) {
	http.SetCookie(w, &http.Cookie{Name: roomCookie, Value: id, Path: "/", SameSite: http.SameSiteLaxMode})
	http.SetCookie(w, &http.Cookie{Name: roomNameCookie, Value: url.QueryEscape(name), Path: "/", SameSite: http.SameSiteLaxMode})
	http.Redirect(w, r, "/chat", http.StatusSeeOther)
}

func (s *server) enterRoom(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if err := rooms.ValidID(id); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	ownerID(w, r)
	name := id
	if d, ok := rooms.Lookup(id); ok {
		name = d.Name
	} else if v := r.FormValue("name"); v != "" {
		name = SanitizeRoomName(v)
	}
	selectRoom(w, r, id, name)
}

func (s *server) createRoom(w http.ResponseWriter, r *http.Request) {
	ownerID(w, r)
	s.rngMu.Lock()
	d := rooms.NewCustom(time.Now(), s.rng)
	s.rngMu.Unlock()
	if v := r.FormValue("name"); v != "" {
		d.Name = SanitizeRoomName(v)
	}
	log.Info().Str("room", d.ID).Str("name", d.Name).Msg("[chat] custom room created")
	selectRoom(w, r, d.ID, d.Name)
}

// selection reads the room chosen earlier in this browser session.
func selection(r *http.Request) (id, name string, ok bool) {
	c, err := r.Cookie(roomCookie)
	if err != nil || rooms.ValidID(c.Value) != nil {
		return "", "", false
	}
	id, name = c.Value, c.Value
	if nc, err := r.Cookie(roomNameCookie); err == nil {
		if v, err := url.QueryUnescape(nc.Value); err == nil && v != "" {
			name = v
		}
	}
	return id, name, true
}

func (s *server) serveChat(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	id, name, ok := selection(r)
	if !ok {
		_ = noRoomTmpl.Execute(w, nil)
		return
	}
	err := chatTmpl.Execute(w, struct {
		Name     string
		RoomID   string
		RoomName string
		Owner    string
	}{Name: s.name, RoomID: id, RoomName: name, Owner: ownerID(w, r)})
	if err != nil {
		log.Warn().Err(err).Msg("[chat] render chat")
	}
}

func (s *server) handleWS(w http.ResponseWriter, r *http.Request) {
	roomID := r.URL.Query().Get("room")
	if err := rooms.ValidID(roomID); err != nil {
		http.Error(w, "missing or invalid room", http.StatusBadRequest)
		return
	}
	name := SanitizeRoomName(r.URL.Query().Get("name"))
	if d, ok := rooms.Lookup(roomID); ok {
		name = d.Name
	}
	owner := uuid.NewString()
	if c, err := r.Cookie(ownerCookie); err == nil && c.Value != "" {
		owner = c.Value
	}

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Error().Err(err).Msg("[chat] upgrade websocket")
		return
	}
	client := newClient(conn)
	client.session = s.mgr.NewSession(owner, client)
	s.track(client)
	defer s.untrack(client)

	go client.writeLoop()

	ctx := r.Context()
	res, err := client.session.Join(ctx, roomID, name)
	if err != nil {
		log.Warn().Err(err).Str("room", roomID).Str("owner", owner).Msg("[chat] join failed")
		client.pushError("could not join the room")
		client.close()
		client.session.Leave()
		return
	}
	client.push(ServerEvent{Type: eventIdentity, Room: roomID, Identity: &res.Identity})

	client.readLoop(ctx)
	client.session.Leave()
}

func (s *server) track(c *Client) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.clients[c] = struct{}{}
	s.wg.Add(1)
}

func (s *server) untrack(c *Client) {
	s.mu.Lock()
	delete(s.clients, c)
	s.mu.Unlock()
	s.wg.Done()
}

// closeAll asks every connected client to go away (used during shutdown).
func (s *server) closeAll() {
	s.mu.Lock()
	clients := lo.Keys(s.clients)
	s.mu.Unlock()
	for _, c := range clients {
		c.shutdown()
	}
}

// wait blocks until every websocket handler has returned.
func (s *server) wait() {
	s.wg.Wait()
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	enc := json.NewEncoder(w)
	enc.SetEscapeHTML(false)
	_ = enc.Encode(v)
}
