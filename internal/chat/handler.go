package chat

import (
	"errors"
	"fmt"
	"io"
	"strings"

	"framechat/internal/frame"
	"framechat/internal/metrics"
)

const helpText = `[SYS] Available commands:
/help           - Show this help
/nick <name>    - Change your nickname
/create <room>  - Create a room
/join <room>    - Join a room, creating it if needed
/rooms          - List rooms and member counts
/leave          - Leave your current room
/who            - List nicknames in your current room
/quit           - Disconnect`

// handler drives one connection through its lifecycle:
// handshake, the active command/message loop, and teardown. One handler runs
// per accepted connection, concurrently with all others. Any error is
// contained here; nothing a peer does can affect another session or the
// accept loop.
type handler struct {
	server  *Server
	session *Session
	limiter *rateLimiter
}

func newHandler(srv *Server, s *Session) *handler {
	return &handler{
		server:  srv,
		session: s,
		limiter: newRateLimiter(srv.opts.RateLimitBurst, srv.opts.RateLimitRefill),
	}
}

// run executes the handler until the session closes. It always leaves the
// registry and the server's session table clean behind it.
func (h *handler) run() {
	s := h.session
	defer h.closing()
	defer func() {
		if r := recover(); r != nil {
			s.log.Error().Interface("panic", r).Msg("handler panicked")
			s.Send("[SYS] Internal error. Disconnecting.")
		}
	}()

	if !h.handshake() {
		return
	}
	h.active()
}

// handshake prompts for a nickname and reads exactly one frame in reply.
// An empty reply or an immediate close aborts the session before it joins
// any room.
func (h *handler) handshake() bool {
	s := h.session

	s.Send("[SYS] Connected to framechat. Enter your nickname:")

	reply, err := frame.Read(s.conn)
	if err != nil {
		if !errors.Is(err, io.EOF) {
			s.log.Debug().Err(err).Msg("handshake read failed")
		}
		return false
	}

	nick := strings.TrimSpace(reply)
	if nick == "" {
		s.Send("[SYS] Invalid nickname. Closing.")
		return false
	}
	s.SetNickname(truncateNick(nick, h.server.opts.MaxNickLen))

	s.Send(fmt.Sprintf("[SYS] Welcome, %s! Type /help for commands. Home room: %s",
		s.Nickname(), h.server.opts.HomeRoom))
	h.server.registry.JoinRoom(s, h.server.opts.HomeRoom)
	s.log.Info().Str("nick", s.Nickname()).Msg("session active")
	return true
}

// active loops reading frames until end of stream, a protocol violation, or
// /quit. Empty frames are ignored; command frames are dispatched; anything
// else is a message to the session's current room.
func (h *handler) active() {
	s := h.session

	for s.Alive() {
		text, err := frame.Read(s.conn)
		if err != nil {
			var perr *frame.ProtocolError
			switch {
			case errors.Is(err, io.EOF):
				s.log.Debug().Msg("peer closed the stream")
			case errors.As(err, &perr):
				metrics.ProtocolErrors.Inc()
				s.log.Warn().Err(err).Msg("protocol violation, aborting connection")
				s.Send("[SYS] Protocol error. Disconnecting.")
			default:
				s.log.Debug().Err(err).Msg("read failed")
			}
			return
		}

		text = strings.TrimSpace(text)
		if text == "" {
			continue
		}

		if strings.HasPrefix(text, "/") {
			if !h.command(text) {
				return
			}
			continue
		}

		h.message(text)
	}
}

// message broadcasts a chat line to the session's current room.
func (h *handler) message(text string) {
	s := h.session

	room := s.CurrentRoom()
	if room == "" {
		s.Send("[SYS] You are not in any room. Use /join <room>.")
		return
	}

	if !h.limiter.allow() {
		s.Send("[SYS] You are sending messages too fast. Message dropped.")
		return
	}

	h.server.registry.Broadcast(room, fmt.Sprintf("[%s] %s: %s", room, s.Nickname(), text), nil)
}

// command dispatches one /-prefixed frame. It returns false when the
// session should close. Unknown commands get an advisory reply and never
// terminate the connection.
func (h *handler) command(text string) bool {
	s := h.session
	reg := h.server.registry

	fields := strings.Fields(text)
	cmd := strings.ToLower(fields[0])
	args := fields[1:]

	switch cmd {
	case "/help":
		s.Send(helpText)

	case "/nick":
		if len(args) == 0 {
			s.Send("[SYS] Usage: /nick <name>")
			break
		}
		old := s.Nickname()
		nick := truncateNick(args[0], h.server.opts.MaxNickLen)
		s.SetNickname(nick)
		if room := s.CurrentRoom(); room != "" {
			reg.Broadcast(room, fmt.Sprintf("[SYS] %s is now known as %s.", old, nick), nil)
		} else {
			s.Send(fmt.Sprintf("[SYS] You are now known as %s.", nick))
		}

	case "/create":
		if len(args) == 0 {
			s.Send("[SYS] Usage: /create <room>")
			break
		}
		room := normalizeRoom(args[0])
		if reg.CreateRoom(room) {
			s.Send(fmt.Sprintf("[SYS] Room %s created. Use /join %s to enter.", room, room))
		} else {
			s.Send(fmt.Sprintf("[SYS] Room %s already exists.", room))
		}

	case "/join":
		if len(args) == 0 {
			s.Send("[SYS] Usage: /join <room>")
			break
		}
		reg.JoinRoom(s, normalizeRoom(args[0]))

	case "/rooms", "/list":
		s.Send("[SYS] Available rooms:\n" + reg.ListRooms())

	case "/leave":
		room, left := reg.Leave(s)
		if !left {
			s.Send("[SYS] You are not in any room.")
			break
		}
		s.Send(fmt.Sprintf("[SYS] You left %s.", room))
		reg.Broadcast(room, fmt.Sprintf("[SYS] %s left the room.", s.Nickname()), nil)

	case "/who":
		nicks, ok := reg.Who(s)
		if !ok {
			s.Send("[SYS] You are not in any room.")
			break
		}
		s.Send(fmt.Sprintf("[SYS] Users in %s (%d): %s",
			s.CurrentRoom(), len(nicks), strings.Join(nicks, ", ")))

	case "/quit":
		s.Send("[SYS] Disconnecting...")
		s.MarkDead()
		s.CloseWrite()
		return false

	default:
		s.Send("[SYS] Unknown command. Type /help.")
	}

	return true
}

// closing is the terminal state: leave the room with a disconnect notice,
// unregister server-wide, close the handle.
func (h *handler) closing() {
	s := h.session

	room, left := h.server.registry.Leave(s)
	if left {
		h.server.registry.Broadcast(room, fmt.Sprintf("[SYS] %s disconnected.", s.Nickname()), nil)
	}
	h.server.forget(s)
	s.Close()
	s.log.Info().Str("nick", s.Nickname()).Msg("session closed")
}

// normalizeRoom applies the client convention of #-prefixed room names.
func normalizeRoom(name string) string {
	name = strings.TrimSpace(name)
	if !strings.HasPrefix(name, "#") {
		name = "#" + name
	}
	return name
}

func truncateNick(nick string, max int) string {
	if max <= 0 {
		return nick
	}
	runes := []rune(nick)
	if len(runes) > max {
		return string(runes[:max])
	}
	return nick
}
