package server

import (
	"context"
	"database/sql"
	"encoding/json"
	"log/slog"
	"math/rand/v2"
	"net/http"
	"net/netip"
	"time"

	"github.com/dukerupert/kidquest/internal/auth"
	"github.com/dukerupert/kidquest/internal/docstore"
	"github.com/dukerupert/kidquest/internal/handler"
	"github.com/dukerupert/kidquest/internal/middleware"
	"github.com/dukerupert/kidquest/internal/push"
	"github.com/dukerupert/kidquest/internal/room"
	"github.com/dukerupert/kidquest/internal/store"
	ws "github.com/dukerupert/kidquest/internal/websocket"
)

const (
	signInLimit  = 10
	signInWindow = time.Minute
	sweepEvery   = time.Hour
)

// Options carries the settings New needs beyond the stores.
type Options struct {
	AppID      string
	JWTSecret  []byte
	SessionTTL time.Duration

	VAPIDPublicKey  string
	VAPIDPrivateKey string
	VAPIDSubscriber string

	SMS auth.CodeSender
	// Events receives realtime messages. Nil publishes to the local hub.
	Events room.Publisher
	// AllowedOrigins are extra websocket origin patterns.
	AllowedOrigins []string
	// TrustedProxies may set forwarding headers that name the client for
	// rate limiting.
	TrustedProxies []netip.Prefix
	// ProfileRand drives generated usernames and avatars.
	ProfileRand *rand.Rand
}

type Server struct {
	db          *sql.DB
	hub         *ws.Hub
	authSvc     *auth.Service
	sweeper     *auth.Sweeper
	authH       *handler.AuthHandler
	profileH    *handler.ProfileHandler
	roomH       *handler.RoomHandler
	pushH       *handler.PushHandler
	realtimeH   *handler.RealtimeHandler
	rateLimiter *middleware.Limiter
	clientIP    *middleware.IPResolver
	logger      *slog.Logger
}

// New wires the stores, services and handlers. db holds accounts, sessions
// and push subscriptions; docs holds rooms and profiles.
func New(db *sql.DB, docs docstore.Store, hub *ws.Hub, opts Options, logger *slog.Logger) *Server {
	events := opts.Events
	if events == nil {
		events = hub
	}
	rng := opts.ProfileRand
	if rng == nil {
		rng = rand.New(rand.NewPCG(rand.Uint64(), rand.Uint64()))
	}

	profileStore := store.NewProfileStore(docs, opts.AppID, rng)
	roomStore := store.NewRoomStore(docs, opts.AppID, profileStore)
	accountStore := store.NewAccountStore(db)
	sessionStore := store.NewSessionStore(db)
	codeStore := store.NewVerificationStore(db)
	pushStore := store.NewPushStore(db)

	authLogger := logger.With("component", "auth")
	pushSvc := push.NewService(opts.VAPIDPublicKey, opts.VAPIDPrivateKey, opts.VAPIDSubscriber, pushStore, logger.With("component", "push"))
	authSvc := auth.NewService(accountStore, sessionStore, codeStore, profileStore, auth.NewTokenIssuer(opts.JWTSecret), opts.SMS, opts.SessionTTL, authLogger)
	roomSvc := room.NewService(roomStore, profileStore, events, pushSvc, logger.With("component", "room"))

	rl := middleware.NewLimiter()
	sweeper := auth.NewSweeper(sessionStore, codeStore, sweepEvery, authLogger)
	sweeper.Also(func() { rl.Sweep() })

	return &Server{
		db:          db,
		hub:         hub,
		authSvc:     authSvc,
		sweeper:     sweeper,
		authH:       handler.NewAuthHandler(authSvc, authLogger),
		profileH:    handler.NewProfileHandler(profileStore, events, logger.With("component", "profile")),
		roomH:       handler.NewRoomHandler(roomSvc, logger.With("component", "room_handler")),
		pushH:       handler.NewPushHandler(pushStore, pushSvc, logger.With("component", "push_handler")),
		realtimeH:   handler.NewRealtimeHandler(hub, roomSvc, opts.AllowedOrigins, logger.With("component", "websocket")),
		rateLimiter: rl,
		clientIP:    middleware.NewIPResolver(opts.TrustedProxies),
		logger:      logger,
	}
}

// Sweeper returns the cleanup loop for sessions, codes and rate limits.
func (s *Server) Sweeper() *auth.Sweeper {
	return s.sweeper
}

func (s *Server) Router() http.Handler {
	outerMux := http.NewServeMux()

	// Public routes (no auth required)
	outerMux.HandleFunc("GET /health", s.healthHandler)
	outerMux.HandleFunc("POST /auth/anonymous", s.rateLimitedHandler(s.authH.Anonymous))
	outerMux.HandleFunc("POST /auth/register", s.rateLimitedHandler(s.authH.Register))
	outerMux.HandleFunc("POST /auth/login", s.rateLimitedHandler(s.authH.Login))
	outerMux.HandleFunc("POST /auth/phone/start", s.rateLimitedHandler(s.authH.PhoneStart))
	outerMux.HandleFunc("POST /auth/phone/verify", s.rateLimitedHandler(s.authH.PhoneVerify))
	outerMux.HandleFunc("GET /api/themes", handler.Themes)
	outerMux.HandleFunc("GET /api/themes/{id}", handler.Theme)

	// Protected routes, wrapped with RequireAuth middleware
	protectedMux := http.NewServeMux()
	s.registerProtectedRoutes(protectedMux)

	authMiddleware := middleware.RequireAuth(s.authSvc, s.logger.With("component", "auth"))
	outerMux.Handle("/", authMiddleware(protectedMux))

	return middleware.RequestLogger(s.logger.With("component", "http"))(outerMux)
}

func (s *Server) healthHandler(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()
	if err := s.db.PingContext(ctx); err != nil {
		s.logger.Error("health check", "error", err)
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "unavailable"})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"status":  "ok",
		"clients": s.hub.ClientCount(),
		"dropped": s.hub.Dropped(),
	})
}

func (s *Server) rateLimitedHandler(h http.HandlerFunc) http.HandlerFunc {
	rl := middleware.RateLimit(s.rateLimiter, s.clientIP.ClientIP, signInLimit, signInWindow)
	return rl(h).ServeHTTP
}

func (s *Server) registerProtectedRoutes(mux *http.ServeMux) {
	mux.HandleFunc("POST /auth/logout", s.authH.Logout)

	// Profile routes
	mux.HandleFunc("GET /api/me", s.profileH.Me)
	mux.HandleFunc("PATCH /api/me", s.profileH.UpdateMe)
	mux.HandleFunc("POST /api/me/tasks", s.profileH.CompleteTask)
	mux.HandleFunc("PUT /api/me/friends/{id}", s.profileH.AddFriend)
	mux.HandleFunc("DELETE /api/me/friends/{id}", s.profileH.RemoveFriend)
	mux.HandleFunc("GET /api/profiles/{id}", s.profileH.Get)
	mux.HandleFunc("GET /api/leaderboard", s.profileH.Leaderboard)

	// Room routes
	mux.HandleFunc("GET /api/rooms", s.roomH.List)
	mux.HandleFunc("POST /api/rooms", s.roomH.Create)
	mux.HandleFunc("GET /api/rooms/{id}", s.roomH.Get)
	mux.HandleFunc("POST /api/rooms/{id}/join", s.roomH.Join)
	mux.HandleFunc("POST /api/rooms/{id}/messages", s.roomH.PostMessage)
	mux.HandleFunc("POST /api/rooms/{id}/challenge", s.roomH.Propose)
	mux.HandleFunc("POST /api/rooms/{id}/challenge/accept", s.roomH.Accept)
	mux.HandleFunc("POST /api/rooms/{id}/challenge/reject", s.roomH.Reject)
	mux.HandleFunc("POST /api/rooms/{id}/challenge/complete", s.roomH.Complete)
	mux.HandleFunc("POST /api/rooms/{id}/close", s.roomH.Close)

	// Push notification routes
	mux.HandleFunc("GET /api/push/vapid-key", s.pushH.GetVAPIDKey)
	mux.HandleFunc("GET /api/push/subscriptions", s.pushH.ListSubscriptions)
	mux.HandleFunc("POST /api/push/subscriptions", s.pushH.Subscribe)
	mux.HandleFunc("DELETE /api/push/subscriptions", s.pushH.Unsubscribe)

	// WebSocket
	mux.HandleFunc("GET /ws", s.realtimeH.Serve)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}
