// Package cache keeps the client's per-chat view of the conversation:
// visible messages filtered by expiry and local cutoffs, optimistic
// sends, presence and typing state reconciled from transport events.
package cache

import (
	"context"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"github.com/vanish-chat/vanish/internal/envelope"
	"github.com/vanish-chat/vanish/internal/lifecycle"
	"github.com/vanish-chat/vanish/internal/models"
	"github.com/vanish-chat/vanish/internal/session"
	"github.com/vanish-chat/vanish/internal/wire"
)

const (
	// Inbound typing flips back to false after this idle window even if
	// no explicit stop arrives, so a crashed peer cannot wedge the
	// indicator on.
	typingIdleExpiry = 3 * time.Second

	// Outbound typing is throttled to one typing=true per window.
	typingThrottle = 2 * time.Second

	// typing=false is sent after this much keystroke silence.
	typingStopAfter = 1200 * time.Millisecond
)

// PlaceholderUnavailable replaces content that cannot be decrypted.
const PlaceholderUnavailable = "[content unavailable]"

// Transport is the slice of the session the cache depends on.
type Transport interface {
	Send(frame wire.Frame)
	Subscribe(frameType string, fn session.Subscriber)
	OnStateChange(fn session.StateHandler)
}

// Entry is one visible message. Optimistic entries carry a LocalID and
// Pending=true until the authoritative echo replaces them.
type Entry struct {
	models.Message
	LocalID string
	Pending bool
}

// Key identifies the entry for dedup and timer scheduling.
func (e Entry) Key() string {
	if e.ID != 0 {
		return strconv.Itoa(e.ID)
	}
	return e.LocalID
}

type chatState struct {
	entries     []Entry
	present     map[string]bool
	typing      bool
	typingTimer lifecycle.Timer
	unread      int
}

type Cache struct {
	userID    int
	keys      *envelope.KeyPair
	transport Transport
	uploader  Uploader
	clock     lifecycle.Clock
	sched     *lifecycle.Scheduler
	log       *logrus.Entry

	mu             sync.Mutex
	chats          map[int]*chatState
	location       map[string]int // entry key -> chat id, for expiry callbacks
	cutoffs        map[int]time.Time
	presence       map[int]bool
	lastTypingSent map[int]time.Time
	typingStop     map[int]lifecycle.Timer
}

func New(userID int, keys *envelope.KeyPair, transport Transport, uploader Uploader, clock lifecycle.Clock, log *logrus.Entry) *Cache {
	c := &Cache{
		userID:         userID,
		keys:           keys,
		transport:      transport,
		uploader:       uploader,
		clock:          clock,
		log:            log,
		chats:          make(map[int]*chatState),
		location:       make(map[string]int),
		cutoffs:        make(map[int]time.Time),
		presence:       make(map[int]bool),
		lastTypingSent: make(map[int]time.Time),
		typingStop:     make(map[int]lifecycle.Timer),
	}
	c.sched = lifecycle.NewScheduler(clock, c.expire)

	transport.Subscribe(wire.TypeNewMessage, c.handleNewMessage)
	transport.Subscribe(wire.TypeTyping, c.handleTyping)
	transport.Subscribe(wire.TypeUserStatus, c.handleUserStatus)
	transport.Subscribe(wire.TypeOnlineUsers, c.handleOnlineUsers)
	transport.Subscribe(wire.TypeMessageRead, c.handleMessageRead)
	transport.OnStateChange(c.handleState)
	return c
}

// Close cancels every pending expiry timer.
func (c *Cache) Close() {
	c.sched.Reset()
}

func (c *Cache) chat(chatID int) *chatState {
	st := c.chats[chatID]
	if st == nil {
		st = &chatState{present: make(map[string]bool)}
		c.chats[chatID] = st
	}
	return st
}

// LoadMessages seeds a chat from the server history. The usual filters
// apply: expired and cutoff rows never become visible, duplicates are
// skipped.
func (c *Cache) LoadMessages(chatID int, msgs []models.Message) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, m := range msgs {
		c.insertLocked(chatID, Entry{Message: m}, false)
	}
}

// Messages returns the currently visible entries for a chat. The expiry
// check is re-applied at read time so a message whose timer has not
// fired yet still disappears on schedule.
func (c *Cache) Messages(chatID int) []Entry {
	c.mu.Lock()
	defer c.mu.Unlock()
	st := c.chats[chatID]
	if st == nil {
		return nil
	}
	now := c.clock.Now()
	out := make([]Entry, 0, len(st.entries))
	for _, e := range st.entries {
		if lifecycle.Visible(now, e.ExpiresAt) {
			out = append(out, e)
		}
	}
	return out
}

// Unread returns the chat's locally tracked unread count.
func (c *Cache) Unread(chatID int) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	if st := c.chats[chatID]; st != nil {
		return st.unread
	}
	return 0
}

// Render decrypts an entry's content for display. File entries carry
// their ciphertext out of band, so their cleartext metadata is shown
// instead; the bytes come from FetchFile. Decryption failures degrade
// to a placeholder; they never propagate past this boundary.
func (c *Cache) Render(e Entry) string {
	if env, ok := envelope.Decode(e.Content); ok && env.ContentURL != "" {
		if env.FileSize > 0 {
			return fmt.Sprintf("[file] %s (%d bytes)", env.FileName, env.FileSize)
		}
		return "[file] " + env.FileName
	}
	plaintext, err := envelope.DecryptText(e.Content, c.keys)
	if err != nil {
		c.log.WithField("message", e.Key()).Warn("undecryptable content")
		return PlaceholderUnavailable
	}
	return plaintext
}

// SetCutoff hides every message created at or before the cutoff and
// keeps filtering future arrivals. This is "delete chat for me": local,
// immediate, and invisible to the peer.
func (c *Cache) SetCutoff(chatID int, at time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.cutoffs[chatID] = at
	st := c.chats[chatID]
	if st == nil {
		return
	}
	kept := st.entries[:0]
	for _, e := range st.entries {
		if e.CreatedAt.After(at) {
			kept = append(kept, e)
			continue
		}
		delete(st.present, e.Key())
		delete(c.location, e.Key())
		c.sched.Cancel(e.Key())
	}
	st.entries = kept
}

// ClearCutoff reactivates the chat.
func (c *Cache) ClearCutoff(chatID int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.cutoffs, chatID)
}

// DropChat tears down one chat's local state and timers.
func (c *Cache) DropChat(chatID int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	st := c.chats[chatID]
	if st == nil {
		return
	}
	for _, e := range st.entries {
		c.sched.Cancel(e.Key())
		delete(c.location, e.Key())
	}
	if st.typingTimer != nil {
		st.typingTimer.Stop()
	}
	delete(c.chats, chatID)
}

// insertLocked applies the visibility invariant and dedup, schedules the
// expiry timer, and returns whether the entry became visible.
func (c *Cache) insertLocked(chatID int, e Entry, countUnread bool) bool {
	now := c.clock.Now()
	if !lifecycle.Visible(now, e.ExpiresAt) {
		// Already dead on arrival: not an error, just gone.
		return false
	}
	if cutoff, ok := c.cutoffs[chatID]; ok && !e.CreatedAt.After(cutoff) {
		return false
	}
	st := c.chat(chatID)
	if st.present[e.Key()] {
		return false
	}

	idx := sort.Search(len(st.entries), func(i int) bool {
		return st.entries[i].CreatedAt.After(e.CreatedAt)
	})
	st.entries = append(st.entries, Entry{})
	copy(st.entries[idx+1:], st.entries[idx:])
	st.entries[idx] = e

	st.present[e.Key()] = true
	c.location[e.Key()] = chatID
	c.sched.Schedule(e.Key(), e.ExpiresAt)
	if countUnread && e.ReceiverID == c.userID {
		st.unread++
	}
	return true
}

// expire is the scheduler callback: remove the entry wherever it lives.
func (c *Cache) expire(key string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	chatID, ok := c.location[key]
	if !ok {
		return
	}
	delete(c.location, key)
	st := c.chats[chatID]
	if st == nil {
		return
	}
	delete(st.present, key)
	for i, e := range st.entries {
		if e.Key() == key {
			st.entries = append(st.entries[:i], st.entries[i+1:]...)
			break
		}
	}
}

func (c *Cache) handleNewMessage(frame wire.Frame) {
	if frame.Message == nil {
		c.log.Warn("dropping new_message frame without message")
		return
	}
	msg := *frame.Message

	c.mu.Lock()
	defer c.mu.Unlock()

	if msg.SenderID == c.userID {
		if c.reconcileEchoLocked(msg) {
			return
		}
	}
	c.insertLocked(msg.ChatID, Entry{Message: msg}, true)
}

// reconcileEchoLocked replaces the optimistic entry matching the
// authoritative echo so the sender never sees a duplicate.
func (c *Cache) reconcileEchoLocked(msg models.Message) bool {
	st := c.chats[msg.ChatID]
	if st == nil {
		return false
	}
	if st.present[strconv.Itoa(msg.ID)] {
		return true
	}
	for i, e := range st.entries {
		if !e.Pending || e.Content != msg.Content {
			continue
		}
		oldKey := e.Key()
		c.sched.Cancel(oldKey)
		delete(st.present, oldKey)
		delete(c.location, oldKey)

		replacement := Entry{Message: msg}
		st.entries[i] = replacement
		st.present[replacement.Key()] = true
		c.location[replacement.Key()] = msg.ChatID
		c.sched.Schedule(replacement.Key(), msg.ExpiresAt)
		return true
	}
	return false
}

// SendText encrypts and sends a text message, materializing an
// optimistic entry immediately.
func (c *Cache) SendText(chatID, receiverID int, receiverPub [32]byte, plaintext string, ttlSeconds int) (Entry, error) {
	content, err := envelope.EncryptText(plaintext, receiverPub, c.keys.Public)
	if err != nil {
		return Entry{}, fmt.Errorf("encrypt: %w", err)
	}

	now := c.clock.Now().UTC()
	e := Entry{
		LocalID: uuid.NewString(),
		Pending: true,
		Message: models.Message{
			ChatID:     chatID,
			SenderID:   c.userID,
			ReceiverID: receiverID,
			Content:    content,
			Type:       models.MessageTypeText,
			CreatedAt:  now,
			ExpiresAt:  lifecycle.ComputeExpiry(now, ttlSeconds),
		},
	}

	c.mu.Lock()
	c.insertLocked(chatID, e, false)
	c.stopTypingLocked(chatID, receiverID)
	c.mu.Unlock()

	c.transport.Send(wire.Frame{
		Type:          wire.TypeMessage,
		ChatID:        chatID,
		SenderID:      c.userID,
		ReceiverID:    receiverID,
		Content:       content,
		MessageType:   models.MessageTypeText,
		DestructTimer: ttlSeconds,
	})
	return e, nil
}

// SendFile encrypts a binary payload, uploads the ciphertext, then sends
// the envelope. If the upload fails the optimistic entry is rolled back
// and no wire message is sent.
func (c *Cache) SendFile(ctx context.Context, chatID, receiverID int, receiverPub [32]byte, meta envelope.FileMeta, data []byte, ttlSeconds int) (Entry, error) {
	env, ciphertext, err := envelope.EncryptBytes(data, receiverPub, c.keys.Public, meta)
	if err != nil {
		return Entry{}, fmt.Errorf("encrypt: %w", err)
	}

	msgType := models.MessageTypeFile
	if strings.HasPrefix(meta.Type, "image/") {
		msgType = models.MessageTypeImage
	}

	now := c.clock.Now().UTC()
	e := Entry{
		LocalID: uuid.NewString(),
		Pending: true,
		Message: models.Message{
			ChatID:     chatID,
			SenderID:   c.userID,
			ReceiverID: receiverID,
			Type:       msgType,
			FileName:   meta.Name,
			FileSize:   meta.Size,
			CreatedAt:  now,
			ExpiresAt:  lifecycle.ComputeExpiry(now, ttlSeconds),
		},
	}
	c.mu.Lock()
	c.insertLocked(chatID, e, false)
	c.mu.Unlock()

	locator, err := c.uploader.Upload(ctx, uuid.NewString(), ciphertext)
	if err != nil {
		// No partial ghost messages: abandon the send entirely.
		c.removeEntry(chatID, e.Key())
		return Entry{}, fmt.Errorf("upload: %w", err)
	}

	env.ContentURL = locator
	content, err := env.Encode()
	if err != nil {
		c.removeEntry(chatID, e.Key())
		return Entry{}, err
	}

	c.mu.Lock()
	if st := c.chats[chatID]; st != nil {
		for i := range st.entries {
			if st.entries[i].Key() == e.Key() {
				st.entries[i].Content = content
				e = st.entries[i]
				break
			}
		}
	}
	c.mu.Unlock()

	c.transport.Send(wire.Frame{
		Type:          wire.TypeMessage,
		ChatID:        chatID,
		SenderID:      c.userID,
		ReceiverID:    receiverID,
		Content:       content,
		MessageType:   msgType,
		DestructTimer: ttlSeconds,
		FileName:      meta.Name,
		FileSize:      meta.Size,
	})
	return e, nil
}

// FetchFile downloads and decrypts an out-of-band payload.
func (c *Cache) FetchFile(ctx context.Context, e Entry) ([]byte, error) {
	env, ok := envelope.Decode(e.Content)
	if !ok || env.ContentURL == "" {
		return nil, envelope.ErrDecrypt
	}
	ciphertext, err := c.uploader.Fetch(ctx, env.ContentURL)
	if err != nil {
		return nil, err
	}
	return envelope.DecryptBytes(env, ciphertext, c.keys)
}

func (c *Cache) removeEntry(chatID int, key string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.sched.Cancel(key)
	delete(c.location, key)
	st := c.chats[chatID]
	if st == nil {
		return
	}
	delete(st.present, key)
	for i, e := range st.entries {
		if e.Key() == key {
			st.entries = append(st.entries[:i], st.entries[i+1:]...)
			return
		}
	}
}

// ApplyLocalRead marks the caller's received messages read after a
// successful mark-read call to the server.
func (c *Cache) ApplyLocalRead(chatID int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	st := c.chats[chatID]
	if st == nil {
		return
	}
	st.unread = 0
	for i := range st.entries {
		if st.entries[i].ReceiverID == c.userID {
			st.entries[i].Read = true
		}
	}
}

func (c *Cache) handleMessageRead(frame wire.Frame) {
	c.mu.Lock()
	defer c.mu.Unlock()
	st := c.chats[frame.ChatID]
	if st == nil {
		return
	}
	marked := make(map[int]bool, len(frame.MessageIDs))
	for _, id := range frame.MessageIDs {
		marked[id] = true
	}
	for i := range st.entries {
		if marked[st.entries[i].ID] {
			st.entries[i].Read = true
		}
	}
}
