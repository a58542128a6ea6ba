// TowerWitch Web Server
// REST API + WebSocket endpoint for live nearest-tower results.
package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/gorilla/websocket"
	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"
	"golang.org/x/time/rate"

	"github.com/skpeterson2000/towerwitch/internal/auth"
	"github.com/skpeterson2000/towerwitch/internal/db"
	"github.com/skpeterson2000/towerwitch/internal/logging"
	"github.com/skpeterson2000/towerwitch/internal/observability"
	"github.com/skpeterson2000/towerwitch/pkg/config"
	"github.com/skpeterson2000/towerwitch/pkg/geo"
	"github.com/skpeterson2000/towerwitch/pkg/gpsfeed"
	"github.com/skpeterson2000/towerwitch/pkg/locator"
	"github.com/skpeterson2000/towerwitch/pkg/registry"
	"github.com/skpeterson2000/towerwitch/pkg/tracker"
)

var (
	configPath = flag.String("config", "configs/config.json", "Path to configuration file")
	csvPath    = flag.String("csv", "", "Override the configured registry CSV path")
	port       = flag.String("port", "", "Override the configured listen port")
	fromDB     = flag.Bool("from-db", false, "Load the site registry from PostgreSQL instead of CSV")
	hashPass   = flag.String("hash", "", "Print the bcrypt hash of the given password and exit")
)

// Websocket timing. Clients that neither read nor pong within these
// windows are dropped.
const (
	wsWriteTimeout = 10 * time.Second
	wsPongTimeout  = 60 * time.Second
	wsPingInterval = 30 * time.Second
)

// contextKey scopes request-context values to this package.
type contextKey string

const (
	ctxUsername contextKey = "username"
	ctxRole     contextKey = "role"
)

// Server holds the HTTP server and its dependencies.
type Server struct {
	router       *chi.Mux
	cfg          *config.Config
	log          logging.Logger
	tracker      *tracker.Controller
	authSvc      *auth.Service
	collector    *observability.Collector
	database     *db.DB             // nil unless -from-db
	siteRepo     *db.SiteRepository // nil unless -from-db
	upgrader     websocket.Upgrader
	loginLimiter *rate.Limiter
}

func main() {
	flag.Parse()

	// Hash generation for the config's auth.users entries.
	if *hashPass != "" {
		hash, err := auth.NewService(auth.Config{}).HashPassword(*hashPass)
		if err != nil {
			log.Fatalf("Failed to hash password: %v", err)
		}
		fmt.Println(hash)
		return
	}

	log.Println("🚀 Starting TowerWitch web server...")

	// A .env file is optional; overrides may come from the shell too.
	if err := godotenv.Load(); err == nil {
		log.Println("📋 Loaded environment from .env")
	}

	// Load configuration
	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}
	if *csvPath != "" {
		cfg.Registry.CSVPath = *csvPath
	}
	if *port != "" {
		cfg.Server.Port = *port
	}
	if err := cfg.Validate(); err != nil {
		log.Fatalf("Invalid config: %v", err)
	}
	if cfg.Auth.JWTSecret == "" {
		log.Fatal("auth.jwt_secret is not set; set it in the config file or via TOWERWITCH_JWT_SECRET")
	}
	if len(cfg.Auth.Users) == 0 {
		log.Println("⚠️  No users configured; operator endpoints cannot be used")
	}

	logger := logging.New(logging.Config{Level: cfg.Log.Level, Format: cfg.Log.Format})

	collector, err := observability.NewCollector(prometheus.DefaultRegisterer)
	if err != nil {
		log.Fatalf("Failed to register metrics: %v", err)
	}

	// Connect to the database only when it is the registry source.
	var database *db.DB
	var siteRepo *db.SiteRepository
	if *fromDB {
		database, err = db.ReconnectWithRetry(cfg.Database, 5, time.Second, logger)
		if err != nil {
			log.Fatalf("Failed to connect to database: %v", err)
		}
		defer database.Close()
		siteRepo = db.NewSiteRepository(database)
		log.Println("✅ Connected to database")
	}

	sites, warnings, err := loadSites(context.Background(), cfg, siteRepo)
	if err != nil {
		log.Fatalf("Failed to load site registry: %v", err)
	}
	if warnings > 0 {
		log.Printf("⚠️  Registry loaded with %d warnings", warnings)
	}
	log.Printf("📡 Loaded %d sites", len(sites))

	unit, err := cfg.Query.ParsedUnit()
	if err != nil {
		log.Fatalf("Invalid config: %v", err)
	}

	trk, err := tracker.New(tracker.Config{
		Sites: sites,
		Query: tracker.Query{
			Unit:         unit,
			NearestCount: cfg.Query.NearestCount,
			Radius:       cfg.Query.Radius,
		},
		MinResolveInterval: cfg.GPS.MinResolveInterval(),
		Logger:             logger,
		Metrics:            collector,
	})
	if err != nil {
		log.Fatalf("Failed to create tracker: %v", err)
	}

	authSvc := auth.NewService(auth.Config{
		JWTSecret:     cfg.Auth.JWTSecret,
		TokenDuration: cfg.Auth.TokenDuration(),
	})

	// Start the position feed and the tracker.
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	source := gpsfeed.NewGPSDClient(gpsfeed.GPSDConfig{
		Address:        cfg.GPS.GPSDAddress,
		DialTimeout:    cfg.GPS.DialTimeout(),
		ReconnectDelay: cfg.GPS.ReconnectDelay(),
		Logger:         logger,
	})
	go func() {
		if err := source.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
			logger.Error("gps feed stopped", logging.Err(err))
		}
	}()
	go trk.Run(ctx, source)

	srv := NewServer(cfg, logger, trk, authSvc, collector, database, siteRepo)

	httpServer := &http.Server{
		Addr:         cfg.Server.Address(),
		Handler:      srv.router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	// Start server in goroutine
	go func() {
		log.Printf("📡 Server listening on %s", httpServer.Addr)
		var err error
		if cfg.Server.TLSEnabled {
			err = httpServer.ListenAndServeTLS(cfg.Server.TLSCertFile, cfg.Server.TLSKeyFile)
		} else {
			err = httpServer.ListenAndServe()
		}
		if err != nil && err != http.ErrServerClosed {
			log.Fatalf("Server failed: %v", err)
		}
	}()

	// Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Println("\n👋 Shutting down server...")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		log.Printf("Warning: HTTP shutdown: %v", err)
	}

	// Stopping the tracker closes every websocket subscription too.
	cancel()
	source.Close()
	trk.Stop()

	log.Println("✅ Server stopped")
}

// loadSites reads the registry from PostgreSQL when a repository is
// supplied, otherwise from the configured CSV path. The int return is the
// number of rows or frequency cells the CSV parser skipped.
func loadSites(ctx context.Context, cfg *config.Config, repo *db.SiteRepository) ([]registry.Site, int, error) {
	if repo != nil {
		sites, err := repo.GetAll(ctx)
		if err != nil {
			return nil, 0, fmt.Errorf("load sites from database: %w", err)
		}
		return sites, 0, nil
	}
	res, err := registry.Load(cfg.Registry.CSVPath, cfg.Registry.LoadOptions())
	if err != nil {
		return nil, 0, err
	}
	return res.Sites, len(res.Warnings), nil
}

// NewServer wires the handlers to their dependencies and builds the router.
func NewServer(cfg *config.Config, logger logging.Logger, trk *tracker.Controller, authSvc *auth.Service, collector *observability.Collector, database *db.DB, siteRepo *db.SiteRepository) *Server {
	s := &Server{
		router:    chi.NewRouter(),
		cfg:       cfg,
		log:       logging.OrNoop(logger).With(logging.String("component", "web")),
		tracker:   trk,
		authSvc:   authSvc,
		collector: collector,
		database:  database,
		siteRepo:  siteRepo,
		// Bursts of five login attempts, refilling one per second.
		loginLimiter: rate.NewLimiter(rate.Every(time.Second), 5),
	}
	s.upgrader = websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin:     s.checkOrigin,
	}
	s.setupRoutes()
	return s
}

// setupRoutes configures all HTTP routes.
func (s *Server) setupRoutes() {
	r := s.router

	// Middleware
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Compress(5))
	r.Use(s.metricsMiddleware)

	// CORS for LAN dashboards
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   s.cfg.Server.AllowedOrigins,
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type"},
		ExposedHeaders:   []string{"Link"},
		AllowCredentials: true,
		MaxAge:           300,
	}))

	// API routes
	r.Route("/api", func(r chi.Router) {
		// Public routes
		r.Post("/login", s.handleLogin)
		r.Get("/status", s.handleStatus)
		r.Get("/nearest", s.handleNearest)
		r.Get("/sites", s.handleSites)

		// Operator routes (require authentication)
		r.Group(func(r chi.Router) {
			r.Use(s.authMiddleware)

			r.Post("/position", s.handlePosition)
			r.Post("/refresh", s.handleRefresh)
			r.Post("/reload", s.handleReload)
		})
	})

	// Live result stream
	r.Get("/ws", s.handleWebSocket)

	// Operational endpoints
	r.Handle("/metrics", s.collector.Handler())
	r.Get("/health", s.handleHealth)
}

// metricsMiddleware records request counts and latency per matched route.
func (s *Server) metricsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		// Websocket connections are long-lived; a latency sample would be
		// meaningless.
		if r.URL.Path == "/ws" {
			next.ServeHTTP(w, r)
			return
		}

		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)

		route := chi.RouteContext(r.Context()).RoutePattern()
		if route == "" {
			route = "unmatched"
		}
		s.collector.RecordHTTPRequest(r.Method, route, strconv.Itoa(ww.Status()), time.Since(start))
	})
}

// authMiddleware guards the operator endpoints.
func (s *Server) authMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		authHeader := r.Header.Get("Authorization")
		if authHeader == "" {
			http.Error(w, "Missing authorization header", http.StatusUnauthorized)
			return
		}

		// Extract token (format: "Bearer <token>")
		var token string
		if len(authHeader) > 7 && authHeader[:7] == "Bearer " {
			token = authHeader[7:]
		} else {
			http.Error(w, "Invalid authorization header format", http.StatusUnauthorized)
			return
		}

		claims, err := s.authSvc.ValidateToken(token)
		if err != nil {
			http.Error(w, "Invalid or expired token", http.StatusUnauthorized)
			return
		}

		// Every guarded endpoint mutates tracker state, so the operator
		// role is required outright.
		if !auth.CanControlPosition(claims.Role) {
			http.Error(w, "Operator role required", http.StatusForbidden)
			return
		}

		ctx := context.WithValue(r.Context(), ctxUsername, claims.Username)
		ctx = context.WithValue(ctx, ctxRole, claims.Role)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// handleLogin exchanges configured credentials for a JWT.
func (s *Server) handleLogin(w http.ResponseWriter, r *http.Request) {
	if !s.loginLimiter.Allow() {
		http.Error(w, "Too many login attempts", http.StatusTooManyRequests)
		return
	}

	var req struct {
		Username string `json:"username"`
		Password string `json:"password"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}

	user, ok := s.findUser(req.Username)
	if !ok {
		http.Error(w, "Invalid credentials", http.StatusUnauthorized)
		return
	}
	if err := s.authSvc.ComparePassword(user.PasswordHash, req.Password); err != nil {
		http.Error(w, "Invalid credentials", http.StatusUnauthorized)
		return
	}

	role := user.Role
	if role == "" {
		role = auth.RoleViewer
	}

	token, err := s.authSvc.GenerateToken(user.Username, role)
	if err != nil {
		http.Error(w, "Failed to generate token", http.StatusInternalServerError)
		return
	}

	s.log.Info("login", logging.String("username", user.Username), logging.String("role", role))

	respondJSON(w, http.StatusOK, map[string]interface{}{
		"success": true,
		"token":   token,
		"user": map[string]interface{}{
			"username": user.Username,
			"role":     role,
		},
	})
}

// handleStatus reports tracker and registry health.
func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	status := map[string]interface{}{
		"state":       s.tracker.State().String(),
		"sitesLoaded": len(s.tracker.Sites()),
		"query":       encodeQuery(s.tracker.Query()),
	}
	if fix, ok := s.tracker.LastFix(); ok {
		status["lastFix"] = encodeFix(fix)
	}
	if s.database != nil {
		status["databaseUp"] = db.HealthCheck(r.Context(), s.database)
	}
	respondJSON(w, http.StatusOK, status)
}

// handleNearest returns the most recently published result set.
func (s *Server) handleNearest(w http.ResponseWriter, r *http.Request) {
	update, ok := s.tracker.Current()
	if !ok {
		http.Error(w, "No results published yet", http.StatusNotFound)
		return
	}
	respondJSON(w, http.StatusOK, encodeUpdate(update))
}

// handleSites runs an ad-hoc within-radius query against the last fix. The
// radius and unit parameters default to the tracker's query settings; the
// radius is measured in the requested unit.
func (s *Server) handleSites(w http.ResponseWriter, r *http.Request) {
	fix, ok := s.tracker.LastFix()
	if !ok {
		http.Error(w, "No position available yet", http.StatusNotFound)
		return
	}

	query := s.tracker.Query()
	unit := query.Unit
	radius := query.Radius

	if v := r.URL.Query().Get("unit"); v != "" {
		parsed, err := geo.ParseUnit(v)
		if err != nil {
			http.Error(w, "Invalid unit", http.StatusBadRequest)
			return
		}
		unit = parsed
	}
	if v := r.URL.Query().Get("radius"); v != "" {
		parsed, err := strconv.ParseFloat(v, 64)
		if err != nil || parsed <= 0 {
			http.Error(w, "Invalid radius", http.StatusBadRequest)
			return
		}
		radius = parsed
	}

	results, err := locator.FindWithinRadius(fix.Point(), s.tracker.Sites(), unit, radius)
	if err != nil {
		log.Printf("Error ranking sites: %v", err)
		http.Error(w, "Failed to rank sites", http.StatusInternalServerError)
		return
	}

	respondJSON(w, http.StatusOK, map[string]interface{}{
		"origin": encodeFix(fix),
		"unit":   string(unit),
		"radius": radius,
		"sites":  encodeResults(results),
		"count":  len(results),
	})
}

// handlePosition injects a manual position override.
func (s *Server) handlePosition(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Latitude  *float64 `json:"latitude"`
		Longitude *float64 `json:"longitude"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}
	if req.Latitude == nil || req.Longitude == nil {
		http.Error(w, "latitude and longitude are required", http.StatusBadRequest)
		return
	}
	lat, lon := *req.Latitude, *req.Longitude
	if lat < -90 || lat > 90 || lon < -180 || lon > 180 {
		http.Error(w, "latitude or longitude out of range", http.StatusBadRequest)
		return
	}

	if err := s.tracker.OverridePosition(lat, lon); err != nil {
		http.Error(w, "Tracker is stopped", http.StatusServiceUnavailable)
		return
	}

	username, _ := r.Context().Value(ctxUsername).(string)
	s.log.Info("manual position set",
		logging.String("username", username),
		logging.Float64("latitude", lat),
		logging.Float64("longitude", lon))

	update, _ := s.tracker.Current()
	respondJSON(w, http.StatusOK, encodeUpdate(update))
}

// handleRefresh re-resolves from the last known position.
func (s *Server) handleRefresh(w http.ResponseWriter, r *http.Request) {
	if err := s.tracker.Refresh(); err != nil {
		switch {
		case errors.Is(err, tracker.ErrNoPosition):
			http.Error(w, "No position available yet", http.StatusConflict)
		case errors.Is(err, tracker.ErrStopped):
			http.Error(w, "Tracker is stopped", http.StatusServiceUnavailable)
		default:
			log.Printf("Error refreshing: %v", err)
			http.Error(w, "Failed to refresh", http.StatusInternalServerError)
		}
		return
	}

	update, _ := s.tracker.Current()
	respondJSON(w, http.StatusOK, encodeUpdate(update))
}

// handleReload re-reads the site registry and swaps it in wholesale.
func (s *Server) handleReload(w http.ResponseWriter, r *http.Request) {
	sites, warnings, err := loadSites(r.Context(), s.cfg, s.siteRepo)
	if err != nil {
		log.Printf("Error reloading registry: %v", err)
		http.Error(w, "Failed to reload registry", http.StatusInternalServerError)
		return
	}

	s.tracker.ReplaceSites(sites)

	username, _ := r.Context().Value(ctxUsername).(string)
	s.log.Info("registry reloaded",
		logging.String("username", username),
		logging.Int("sites", len(sites)))

	respondJSON(w, http.StatusOK, map[string]interface{}{
		"success":     true,
		"sitesLoaded": len(sites),
		"warnings":    warnings,
	})
}

// handleHealth is the load-balancer probe.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, map[string]interface{}{
		"status": "ok",
		"time":   time.Now().UTC(),
	})
}

// handleWebSocket streams every published result set to the client.
func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.log.Warn("websocket upgrade failed", logging.Err(err))
		return
	}
	defer conn.Close()

	sub := s.tracker.Subscribe()
	defer sub.Cancel()

	s.log.Debug("websocket client connected", logging.String("remote", conn.RemoteAddr().String()))

	// Reader: clients send nothing we use, but reading is how close
	// frames and pongs get processed.
	done := make(chan struct{})
	go func() {
		defer close(done)
		conn.SetReadLimit(512)
		conn.SetReadDeadline(time.Now().Add(wsPongTimeout))
		conn.SetPongHandler(func(string) error {
			return conn.SetReadDeadline(time.Now().Add(wsPongTimeout))
		})
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	ping := time.NewTicker(wsPingInterval)
	defer ping.Stop()

	for {
		select {
		case update, ok := <-sub.C:
			if !ok {
				return
			}
			conn.SetWriteDeadline(time.Now().Add(wsWriteTimeout))
			if err := conn.WriteJSON(encodeUpdate(update)); err != nil {
				return
			}
		case <-ping.C:
			conn.SetWriteDeadline(time.Now().Add(wsWriteTimeout))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		case <-done:
			return
		}
	}
}

// checkOrigin admits websocket clients from the configured origins.
func (s *Server) checkOrigin(r *http.Request) bool {
	origin := r.Header.Get("Origin")
	if origin == "" {
		return true
	}
	for _, allowed := range s.cfg.Server.AllowedOrigins {
		if allowed == "*" || strings.EqualFold(allowed, origin) {
			return true
		}
	}
	return false
}

// findUser scans the configured users. User lists are operator-scale, so a
// linear scan is fine.
func (s *Server) findUser(username string) (config.UserConfig, bool) {
	for _, u := range s.cfg.Auth.Users {
		if u.Username == username {
			return u, true
		}
	}
	return config.UserConfig{}, false
}

// Wire types shared by the REST handlers and the websocket stream.

type fixJSON struct {
	Latitude  float64   `json:"latitude"`
	Longitude float64   `json:"longitude"`
	Quality   string    `json:"quality"`
	Source    string    `json:"source"`
	Time      time.Time `json:"time"`
}

type queryJSON struct {
	Unit         string  `json:"unit"`
	NearestCount int     `json:"nearestCount"`
	Radius       float64 `json:"radius"`
}

type resultJSON struct {
	ID              string   `json:"id"`
	Description     string   `json:"description"`
	County          string   `json:"county"`
	NAC             string   `json:"nac"`
	Latitude        float64  `json:"latitude"`
	Longitude       float64  `json:"longitude"`
	Distance        float64  `json:"distance"`
	Unit            string   `json:"unit"`
	Bearing         float64  `json:"bearing"`
	Cardinal        string   `json:"cardinal"`
	ControlChannels []string `json:"controlChannels"`
	Frequencies     int      `json:"frequencies"`
}

type updateJSON struct {
	Seq        uint64       `json:"seq"`
	Fix        fixJSON      `json:"fix"`
	Query      queryJSON    `json:"query"`
	Nearest    []resultJSON `json:"nearest"`
	InRange    []resultJSON `json:"inRange"`
	ResolvedAt time.Time    `json:"resolvedAt"`
}

func encodeFix(f gpsfeed.PositionFix) fixJSON {
	return fixJSON{
		Latitude:  f.Latitude,
		Longitude: f.Longitude,
		Quality:   f.Quality.String(),
		Source:    string(f.Source),
		Time:      f.Time,
	}
}

func encodeQuery(q tracker.Query) queryJSON {
	return queryJSON{
		Unit:         string(q.Unit),
		NearestCount: q.NearestCount,
		Radius:       q.Radius,
	}
}

func encodeResults(results []locator.RankedResult) []resultJSON {
	out := make([]resultJSON, len(results))
	for i, res := range results {
		out[i] = resultJSON{
			ID:              res.Site.ID,
			Description:     res.Site.Description,
			County:          res.Site.County,
			NAC:             res.Site.NAC,
			Latitude:        res.Site.Latitude,
			Longitude:       res.Site.Longitude,
			Distance:        res.Distance,
			Unit:            string(res.Unit),
			Bearing:         res.Bearing,
			Cardinal:        geo.Cardinal(res.Bearing),
			ControlChannels: res.ControlChannels,
			Frequencies:     len(res.Site.Frequencies),
		}
	}
	return out
}

func encodeUpdate(u tracker.Update) updateJSON {
	return updateJSON{
		Seq:        u.Seq,
		Fix:        encodeFix(u.Fix),
		Query:      encodeQuery(u.Query),
		Nearest:    encodeResults(u.Nearest),
		InRange:    encodeResults(u.InRange),
		ResolvedAt: u.ResolvedAt,
	}
}

// Helper functions

func respondJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}
