package ws

import (
	"encoding/json"
	"errors"
	"strings"

	"github.com/dkeye/CodeRoom/internal/domain"
)

// handleText parses one inbound text frame. Commands are line-oriented,
// "/" prefixed; anything else is room chat. Parse failures only ever
// produce an inline reply to this connection, never affect the room.
func (s *Session) handleText(raw []byte) {
	msg := strings.TrimSpace(string(raw))
	if msg == "" {
		return
	}
	if !strings.HasPrefix(msg, "/") {
		s.bus.Chat(s.room, s.id, s.user.Username, msg)
		return
	}

	verb, rest, _ := strings.Cut(msg, " ")
	rest = strings.TrimSpace(rest)
	switch verb {
	case "/name":
		s.handleName(rest)
	case "/compile":
		s.handleCompile(rest)
	case "/code_updates":
		s.handleCodeUpdates(rest)
	default:
		s.reply("!!! unknown command: " + msg)
	}
}

func (s *Session) handleName(name string) {
	if name == "" {
		s.reply("!!! name is required")
		return
	}
	if err := s.user.SetUsername(name); err != nil {
		if errors.Is(err, domain.ErrUsernameTooLong) {
			s.reply("!!! name is too long")
			return
		}
		s.reply("!!! name is required")
		return
	}
	s.reply("name changed to: " + name)
}

func (s *Session) handleCompile(rest string) {
	lang, code, _ := strings.Cut(rest, " ")
	if lang == "" {
		s.reply("!!! language is required")
		return
	}
	code = strings.TrimSpace(code)
	if code == "" {
		s.reply("!!! code is required")
		return
	}
	language, err := domain.ParseLanguage(lang)
	if err != nil {
		s.reply("!!! unknown language: " + lang)
		return
	}
	if s.limiter != nil && !s.limiter.Allow(s.user.ID) {
		s.reply("!!! too many compile requests")
		return
	}
	s.bus.CompileRequest(s.room, s.id, language, code)
}

func (s *Session) handleCodeUpdates(rest string) {
	if rest == "" {
		s.reply("!!! code is required")
		return
	}
	var deltas []domain.Delta
	if err := json.Unmarshal([]byte(rest), &deltas); err != nil {
		// One client's bad batch stays that client's problem.
		s.reply("!!! cannot parse changes: " + err.Error())
		return
	}
	if len(deltas) == 0 {
		return
	}
	s.bus.EditUpdate(s.room, s.id, string(s.user.ID), deltas)
}

func (s *Session) reply(text string) {
	_ = s.out.TrySend([]byte(text))
}
