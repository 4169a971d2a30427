package main

import (
	"context"
	"flag"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gorilla/mux"
	"github.com/sirupsen/logrus"
	"github.com/vanish-chat/vanish/internal/auth"
	"github.com/vanish-chat/vanish/internal/config"
	"github.com/vanish-chat/vanish/internal/email"
	"github.com/vanish-chat/vanish/internal/handlers"
	"github.com/vanish-chat/vanish/internal/lifecycle"
	"github.com/vanish-chat/vanish/internal/middleware"
	"github.com/vanish-chat/vanish/internal/store/sqlstore"
	"github.com/vanish-chat/vanish/internal/ws"
)

var (
	configPath = flag.String("config", "", "path to config.yaml")
	addr       = flag.String("addr", "", "http service address (overrides config)")
)

func main() {
	flag.Parse()

	logger := logrus.New()
	logger.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	log := logrus.NewEntry(logger)

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.WithError(err).Fatal("loading config")
	}
	if *addr != "" {
		cfg.Addr = *addr
	}
	if err := cfg.Validate(); err != nil {
		log.WithError(err).Fatal("invalid config")
	}
	if level, err := logrus.ParseLevel(cfg.LogLevel); err == nil {
		logger.SetLevel(level)
	}

	store, err := sqlstore.New(cfg.Driver, cfg.DSN)
	if err != nil {
		log.WithError(err).Fatal("opening database")
	}
	defer store.Close()

	clock := lifecycle.SystemClock()
	signer := auth.NewSigner([]byte(cfg.TokenSecret))

	hub := ws.NewHub(store, signer, clock, log)
	go hub.Run()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	sweeper := lifecycle.NewSweeper(store, clock, time.Duration(cfg.SweepInterval)*time.Second, log)
	go sweeper.Run(ctx)

	mailer := email.NewSender(cfg.SMTP.Host, cfg.SMTP.Port, cfg.SMTP.Username, cfg.SMTP.Password, cfg.SMTP.From, log)

	authHandler := &handlers.AuthHandler{Store: store, Signer: signer, Email: mailer, BaseURL: cfg.BaseURL, Log: log}
	chatHandler := &handlers.ChatHandler{Store: store, Hub: hub, Clock: clock, Log: log}
	uploadHandler := &handlers.UploadHandler{Dir: cfg.UploadDir, Log: log}
	blockHandler := &handlers.BlockHandler{Store: store}

	r := mux.NewRouter()
	r.Use(middleware.Logging(log))

	// Public endpoints
	r.HandleFunc("/signup", authHandler.Signup).Methods("POST")
	r.HandleFunc("/login", authHandler.Login).Methods("POST")
	r.HandleFunc("/verify", authHandler.Verify).Methods("GET")

	// Authenticated API
	api := r.NewRoute().Subrouter()
	api.Use(middleware.Auth(signer))
	api.HandleFunc("/users/search", authHandler.SearchUsers).Methods("GET")
	api.HandleFunc("/chats", chatHandler.CreateChat).Methods("POST")
	api.HandleFunc("/chats", chatHandler.GetChats).Methods("GET")
	api.HandleFunc("/chats/{id}/messages", chatHandler.GetChatMessages).Methods("GET")
	api.HandleFunc("/chats/{id}/read", chatHandler.MarkRead).Methods("POST")
	api.HandleFunc("/chats/{id}/delete", chatHandler.DeleteForMe).Methods("POST")
	api.HandleFunc("/chats/{id}/reactivate", chatHandler.Reactivate).Methods("POST")
	api.HandleFunc("/upload", uploadHandler.Upload).Methods("POST")
	api.HandleFunc("/files/{id}", uploadHandler.ServeFile).Methods("GET")
	api.HandleFunc("/blocks", blockHandler.List).Methods("GET")
	api.HandleFunc("/blocks/{id}", blockHandler.Block).Methods("POST")
	api.HandleFunc("/blocks/{id}", blockHandler.Unblock).Methods("DELETE")

	// Connections authenticate with a join frame, not at upgrade time.
	r.HandleFunc("/ws", func(w http.ResponseWriter, r *http.Request) {
		ws.ServeWs(hub, w, r)
	})

	server := &http.Server{Addr: cfg.Addr, Handler: r}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		server.Shutdown(shutdownCtx)
	}()

	log.WithField("addr", cfg.Addr).Info("starting server")
	if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		log.WithError(err).Fatal("server stopped")
	}
}
