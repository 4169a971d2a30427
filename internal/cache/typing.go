package cache

import (
	"github.com/vanish-chat/vanish/internal/wire"
)

// Typing reports whether the peer is currently typing in the chat.
func (c *Cache) Typing(chatID int) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if st := c.chats[chatID]; st != nil {
		return st.typing
	}
	return false
}

// handleTyping reconciles an inbound indicator. typing=true (re)arms the
// idle-expiry timer; typing=false clears it immediately.
func (c *Cache) handleTyping(frame wire.Frame) {
	c.mu.Lock()
	defer c.mu.Unlock()
	st := c.chat(frame.ChatID)
	if st.typingTimer != nil {
		st.typingTimer.Stop()
		st.typingTimer = nil
	}
	st.typing = frame.IsTyping
	if !frame.IsTyping {
		return
	}
	chatID := frame.ChatID
	st.typingTimer = c.clock.AfterFunc(typingIdleExpiry, func() {
		c.mu.Lock()
		defer c.mu.Unlock()
		if cur := c.chats[chatID]; cur != nil {
			cur.typing = false
			cur.typingTimer = nil
		}
	})
}

// NotifyTyping is called on every local keystroke. Sends are throttled
// to one typing=true per window, and a typing=false follows once input
// has idled, bounding event volume regardless of typing speed.
func (c *Cache) NotifyTyping(chatID, receiverID int) {
	c.mu.Lock()
	now := c.clock.Now()
	send := now.Sub(c.lastTypingSent[chatID]) >= typingThrottle
	if send {
		c.lastTypingSent[chatID] = now
	}
	if t := c.typingStop[chatID]; t != nil {
		t.Stop()
	}
	c.typingStop[chatID] = c.clock.AfterFunc(typingStopAfter, func() {
		c.mu.Lock()
		delete(c.typingStop, chatID)
		delete(c.lastTypingSent, chatID)
		c.mu.Unlock()
		c.sendTyping(chatID, receiverID, false)
	})
	c.mu.Unlock()

	if send {
		c.sendTyping(chatID, receiverID, true)
	}
}

// stopTypingLocked cancels the pending idle-stop and sends an immediate
// typing=false, e.g. when the user sends the message they were typing.
func (c *Cache) stopTypingLocked(chatID, receiverID int) {
	if t := c.typingStop[chatID]; t != nil {
		t.Stop()
		delete(c.typingStop, chatID)
	}
	if _, ok := c.lastTypingSent[chatID]; !ok {
		return
	}
	delete(c.lastTypingSent, chatID)
	go c.sendTyping(chatID, receiverID, false)
}

func (c *Cache) sendTyping(chatID, receiverID int, isTyping bool) {
	c.transport.Send(wire.Frame{
		Type:       wire.TypeTyping,
		ChatID:     chatID,
		SenderID:   c.userID,
		ReceiverID: receiverID,
		IsTyping:   isTyping,
	})
}
