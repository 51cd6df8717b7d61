// Package whisper implements private player messages across game servers
// connected to the same relay.
//
// A whisper is first offered to the players of the local server. When the
// receiver is not online here it is broadcast on Endpoint so that every
// subscribed server can deliver it to its own players.
package whisper

import (
	"errors"
	"fmt"
	"log/slog"
	"regexp"
	"strings"
	"sync"

	"github.com/Tyrowin/javelin/internal/envelope"
)

// Endpoint is the relay endpoint whisper messages travel on.
const Endpoint = "whisper"

var (
	// ErrSelfMessage is returned when a player whispers to themselves.
	ErrSelfMessage = errors.New("you can't message yourself")
	// ErrNoRecentMessages is returned by Reply when there is nobody to reply to.
	ErrNoRecentMessages = errors.New("no recent messages")
)

// Message is the payload of a whisper envelope.
type Message struct {
	Sender   string `json:"sender"`
	Receiver string `json:"receiver"`
	Message  string `json:"message"`
}

// Sender routes envelopes through the relay. Both the relay client and the
// relay's own local peer satisfy it.
type Sender interface {
	Send(envelope.Envelope) error
}

// Players reaches the players connected to this game server.
type Players interface {
	// Deliver shows text to the online player whose uncoloured name is name
	// and reports whether such a player was found.
	Deliver(name, text string) bool
}

// Service sends whispers for local players and delivers incoming ones.
type Service struct {
	relay   Sender
	players Players
	log     *slog.Logger

	mu      sync.Mutex
	replies map[string]string
}

// NewService creates a whisper service.
func NewService(relay Sender, players Players, log *slog.Logger) *Service {
	if log == nil {
		log = slog.Default()
	}
	return &Service{
		relay:   relay,
		players: players,
		log:     log.With("component", "whisper"),
		replies: make(map[string]string),
	}
}

// Whisper sends text from one player to another and remembers the receiver
// for Reply. Once the whisper is delivered or handed to the relay, the sender
// sees it echoed back.
func (s *Service) Whisper(from, to, text string) error {
	if StripColors(from) == StripColors(to) {
		return ErrSelfMessage
	}
	s.remember(from, to)
	return s.send(Message{Sender: from, Receiver: to, Message: text})
}

// Reply whispers to the last player from talked with.
func (s *Service) Reply(from, text string) error {
	s.mu.Lock()
	to, ok := s.replies[StripColors(from)]
	s.mu.Unlock()

	if !ok {
		return ErrNoRecentMessages
	}
	return s.Whisper(from, to, text)
}

// Forget drops the reply target of a player who left.
func (s *Service) Forget(player string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.replies, StripColors(player))
}

// Handle delivers an incoming whisper envelope to a local player and reports
// whether the receiver was found here.
func (s *Service) Handle(env envelope.Envelope) bool {
	var msg Message
	if err := env.DecodePayload(&msg); err != nil {
		s.log.Warn("dropping malformed whisper", "error", err)
		return false
	}

	if !s.players.Deliver(StripColors(msg.Receiver), Format(msg)) {
		return false
	}
	s.remember(msg.Receiver, msg.Sender)
	return true
}

func (s *Service) send(msg Message) error {
	if !s.players.Deliver(StripColors(msg.Receiver), Format(msg)) {
		env, err := envelope.Broadcast(Endpoint, msg)
		if err != nil {
			return err
		}
		if err := s.relay.Send(env); err != nil {
			return fmt.Errorf("relay whisper: %w", err)
		}
		s.log.Debug("whisper relayed", "sender", StripColors(msg.Sender), "receiver", StripColors(msg.Receiver))
	}

	s.players.Deliver(StripColors(msg.Sender), Format(msg))
	return nil
}

func (s *Service) remember(player, target string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.replies[StripColors(player)] = target
}

// Format renders a whisper the way players see it.
func Format(msg Message) string {
	return fmt.Sprintf("[whisper] %s -> %s: %s", msg.Sender, msg.Receiver, msg.Message)
}

var colorTag = regexp.MustCompile(`\[(#[0-9a-fA-F]{3,8}|[a-zA-Z]*)\]`)

// StripColors removes colour tags such as "[red]", "[#ff0000]" and "[]"
// from a player name. "[[" is an escaped bracket and is kept as "[".
func StripColors(s string) string {
	parts := strings.Split(s, "[[")
	for i, part := range parts {
		parts[i] = colorTag.ReplaceAllString(part, "")
	}
	return strings.Join(parts, "[")
}
