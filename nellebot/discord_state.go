package nellebot

import (
	"github.com/bwmarrin/discordgo"
	"slices"
	"sync"
)

const defaultGatewayStateMaxMessages = 10000

// gatewayState is the last known state of guild members, and of
// recent messages, as seen on the gateway. It lets member updates and
// removals, and message deletions, carry what the entity looked like
// before the event.
type gatewayState struct {
	mu          sync.Mutex
	members     map[string]*discordgo.Member
	messages    map[string]storedMessage
	order       []messageRef
	seq         uint64
	maxMessages int
}

// storedMessage is a message and the sequence number of its entry in
// gatewayState.order. A message removed and stored again gets a new
// entry, and the older one is skipped.
type storedMessage struct {
	msg *discordgo.Message
	seq uint64
}

type messageRef struct {
	id  string
	seq uint64
}

func (s *gatewayState) live(ref messageRef) bool {
	m, ok := s.messages[ref.id]
	return ok && m.seq == ref.seq
}

func newGatewayState(maxMessages int) *gatewayState {
	if maxMessages <= 0 {
		maxMessages = defaultGatewayStateMaxMessages
	}
	return &gatewayState{
		members:     map[string]*discordgo.Member{},
		messages:    map[string]storedMessage{},
		maxMessages: maxMessages,
	}
}

func copyMember(m *discordgo.Member) *discordgo.Member {
	c := *m
	c.Roles = slices.Clone(m.Roles)
	if m.User != nil {
		u := *m.User
		c.User = &u
	}
	return &c
}

// storeMember records m, returning the previous state of the member
// if it was known
func (s *gatewayState) storeMember(m *discordgo.Member) *discordgo.Member {
	if m == nil || m.User == nil {
		return nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	prev := s.members[m.User.ID]
	s.members[m.User.ID] = copyMember(m)
	return prev
}

// removeMember forgets a member, returning its last known state
func (s *gatewayState) removeMember(userID string) *discordgo.Member {
	s.mu.Lock()
	defer s.mu.Unlock()
	prev := s.members[userID]
	delete(s.members, userID)
	return prev
}

func (s *gatewayState) member(userID string) *discordgo.Member {
	s.mu.Lock()
	defer s.mu.Unlock()
	if m, ok := s.members[userID]; ok {
		return copyMember(m)
	}
	return nil
}

// storeMessage records m, evicting the oldest messages once more
// than maxMessages are held
func (s *gatewayState) storeMessage(m *discordgo.Message) {
	if m == nil || m.ID == "" {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	c := *m
	if known, exists := s.messages[m.ID]; exists {
		known.msg = &c
		s.messages[m.ID] = known
	} else {
		s.seq++
		s.order = append(s.order, messageRef{id: m.ID, seq: s.seq})
		s.messages[m.ID] = storedMessage{msg: &c, seq: s.seq}
	}

	for len(s.messages) > s.maxMessages && len(s.order) > 0 {
		if ref := s.order[0]; s.live(ref) {
			delete(s.messages, ref.id)
		}
		s.order = s.order[1:]
	}
	// removed messages leave their entries behind in order
	if len(s.order) > 2*s.maxMessages {
		s.order = slices.DeleteFunc(s.order, func(ref messageRef) bool {
			return !s.live(ref)
		})
	}
}

// updateMessage applies an edit to a known message
func (s *gatewayState) updateMessage(m *discordgo.Message) {
	if m == nil {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	known, ok := s.messages[m.ID]
	if !ok {
		return
	}
	c := *known.msg
	c.Content = m.Content
	c.EditedTimestamp = m.EditedTimestamp
	known.msg = &c
	s.messages[m.ID] = known
}

// removeMessages forgets the given messages, returning those that
// were known
func (s *gatewayState) removeMessages(ids ...string) []*discordgo.Message {
	s.mu.Lock()
	defer s.mu.Unlock()
	var rv []*discordgo.Message
	for _, id := range ids {
		if m, ok := s.messages[id]; ok {
			rv = append(rv, m.msg)
			delete(s.messages, id)
		}
	}
	return rv
}

func (s *gatewayState) messageCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.messages)
}
