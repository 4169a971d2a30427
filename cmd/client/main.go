// Command client is a terminal chat client. It signs up or logs in
// against a vanish server, keeps an encrypted local view of one chat,
// and renders incoming messages as they arrive.
package main

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"net/http"
	"os"
	"strings"

	"github.com/sirupsen/logrus"
	"github.com/vanish-chat/vanish/internal/auth"
	"github.com/vanish-chat/vanish/internal/cache"
	"github.com/vanish-chat/vanish/internal/envelope"
	"github.com/vanish-chat/vanish/internal/lifecycle"
	"github.com/vanish-chat/vanish/internal/models"
	"github.com/vanish-chat/vanish/internal/session"
	"github.com/vanish-chat/vanish/internal/wire"
)

var (
	server   = flag.String("server", "http://localhost:8080", "server base URL")
	username = flag.String("user", "", "username")
	password = flag.String("pass", "", "password")
	peerName = flag.String("peer", "", "user to chat with")
	ttl      = flag.Int("ttl", 0, "destruct timer in seconds, 0 = never")
	signup   = flag.Bool("signup", false, "create the account first")
)

func main() {
	flag.Parse()

	logger := logrus.New()
	logger.SetLevel(logrus.WarnLevel)
	log := logrus.NewEntry(logger)

	if *username == "" || *password == "" || *peerName == "" {
		fmt.Fprintln(os.Stderr, "usage: client -user NAME -pass PASS -peer NAME [-signup]")
		os.Exit(1)
	}

	keys, err := envelope.GenerateKeyPair()
	if err != nil {
		log.WithError(err).Fatal("generating keys")
	}

	if *signup {
		if err := doSignup(keys); err != nil {
			log.WithError(err).Fatal("signup failed")
		}
	}

	token, me, err := doLogin()
	if err != nil {
		log.WithError(err).Fatal("login failed")
	}
	tokens := auth.StaticToken(token)

	peer, chat, err := openChat(tokens)
	if err != nil {
		log.WithError(err).Fatal("opening chat")
	}
	peerPub, err := envelope.ParseKey(peer.PublicKey)
	if err != nil {
		log.WithError(err).Fatal("peer has no valid public key")
	}

	wsURL := strings.Replace(*server, "http", "ws", 1) + "/ws"
	sess := session.New(wsURL, tokens, log)

	uploader := cache.NewHTTPUploader(*server, tokens)
	store := cache.New(me.ID, keys, sess, uploader, lifecycle.SystemClock(), log)

	sess.Subscribe(wire.TypeNewMessage, func(frame wire.Frame) {
		if frame.Message == nil || frame.Message.ChatID != chat.ID {
			return
		}
		who := *peerName
		if frame.Message.SenderID == me.ID {
			who = "me"
		}
		fmt.Printf("[%s] %s\n", who, store.Render(cache.Entry{Message: *frame.Message}))
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go sess.Run(ctx)

	if history, err := fetchMessages(tokens, chat.ID); err == nil {
		store.LoadMessages(chat.ID, history)
		for _, e := range store.Messages(chat.ID) {
			who := *peerName
			if e.SenderID == me.ID {
				who = "me"
			}
			fmt.Printf("[%s] %s\n", who, store.Render(e))
		}
	}

	fmt.Printf("chatting with %s (ttl %ds, /quit to exit)\n", *peerName, *ttl)
	scanner := bufio.NewScanner(os.Stdin)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		switch {
		case line == "":
			continue
		case line == "/quit":
			sess.Close()
			return
		default:
			if _, err := store.SendText(chat.ID, peer.ID, peerPub, line, *ttl); err != nil {
				log.WithError(err).Error("send failed")
			}
		}
	}
}

func doSignup(keys *envelope.KeyPair) error {
	body, _ := json.Marshal(map[string]string{
		"username":   *username,
		"email":      *username + "@example.com",
		"password":   *password,
		"public_key": keys.PublicHex(),
	})
	resp, err := http.Post(*server+"/signup", "application/json", bytes.NewReader(body))
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusCreated {
		return fmt.Errorf("signup returned %d", resp.StatusCode)
	}
	return nil
}

func doLogin() (string, *models.User, error) {
	body, _ := json.Marshal(map[string]string{"username": *username, "password": *password})
	resp, err := http.Post(*server+"/login", "application/json", bytes.NewReader(body))
	if err != nil {
		return "", nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return "", nil, fmt.Errorf("login returned %d", resp.StatusCode)
	}
	var out struct {
		Token string      `json:"token"`
		User  models.User `json:"user"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return "", nil, err
	}
	return out.Token, &out.User, nil
}

func openChat(tokens auth.TokenSource) (*models.User, *models.Chat, error) {
	users, err := getJSON[[]models.User](tokens, "/users/search?q="+*peerName)
	if err != nil {
		return nil, nil, err
	}
	var peer *models.User
	for i := range users {
		if users[i].Username == *peerName {
			peer = &users[i]
		}
	}
	if peer == nil {
		return nil, nil, fmt.Errorf("user %q not found", *peerName)
	}

	body, _ := json.Marshal(map[string]string{"username": *peerName})
	req, _ := http.NewRequest("POST", *server+"/chats", bytes.NewReader(body))
	req.Header.Set("Authorization", "Bearer "+tokens.Token())
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return nil, nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusCreated && resp.StatusCode != http.StatusOK {
		return nil, nil, fmt.Errorf("chat open returned %d", resp.StatusCode)
	}
	var chat models.Chat
	if err := json.NewDecoder(resp.Body).Decode(&chat); err != nil {
		return nil, nil, err
	}
	return peer, &chat, nil
}

func fetchMessages(tokens auth.TokenSource, chatID int) ([]models.Message, error) {
	return getJSON[[]models.Message](tokens, fmt.Sprintf("/chats/%d/messages", chatID))
}

func getJSON[T any](tokens auth.TokenSource, path string) (T, error) {
	var out T
	req, _ := http.NewRequest("GET", *server+path, nil)
	req.Header.Set("Authorization", "Bearer "+tokens.Token())
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return out, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return out, fmt.Errorf("%s returned %d", path, resp.StatusCode)
	}
	err = json.NewDecoder(resp.Body).Decode(&out)
	return out, err
}
