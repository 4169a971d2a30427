package cache

import (
	"github.com/vanish-chat/vanish/internal/session"
	"github.com/vanish-chat/vanish/internal/wire"
)

// Online reports the last-known presence of a user. Unknown users
// default to offline, and everything resets to offline while the
// transport itself is down.
func (c *Cache) Online(userID int) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.presence[userID]
}

// handleOnlineUsers applies a presence snapshot: exactly the listed
// users are marked online; everyone else keeps their last-known state.
func (c *Cache) handleOnlineUsers(frame wire.Frame) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, id := range frame.UserIDs {
		c.presence[id] = true
	}
}

// handleUserStatus applies a presence delta for one user.
func (c *Cache) handleUserStatus(frame wire.Frame) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.presence[frame.UserID] = frame.IsOnline
}

// handleState resets ephemeral state on disconnect: presence cannot be
// trusted without a live channel, and typing indicators must not stay
// wedged on.
func (c *Cache) handleState(state session.State) {
	if state != session.Disconnected {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.presence = make(map[int]bool)
	for _, st := range c.chats {
		if st.typingTimer != nil {
			st.typingTimer.Stop()
			st.typingTimer = nil
		}
		st.typing = false
	}
}
