// Package api is the HTTP intake: credential submission, reset, status and
// its WebSocket stream, debug output, and the captive portal probes phones
// send while joined to the setup access point.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/HerbHall/hubnet/internal/acquire"
	"github.com/HerbHall/hubnet/internal/inspect"
	"github.com/HerbHall/hubnet/internal/metrics"
	"github.com/HerbHall/hubnet/internal/mode"
	"github.com/HerbHall/hubnet/internal/state"
	"github.com/HerbHall/hubnet/internal/status"
	"github.com/HerbHall/hubnet/internal/version"
)

// Controller is the part of the mode controller the API drives.
type Controller interface {
	Connect(ctx context.Context, req mode.ConnectRequest) mode.Result
	RequestReset(src mode.ResetSource) bool
	Status() mode.Status
}

// Inspector reads interfaces for the debug endpoint.
type Inspector interface {
	Inspect(ctx context.Context, iface string) (inspect.InterfaceState, error)
	FirstPresent(ctx context.Context, candidates []string) (inspect.InterfaceState, error)
}

// Scanner lists the wireless networks in range of an interface.
type Scanner interface {
	Scan(ctx context.Context, iface string) ([]inspect.Network, error)
}

// Config holds listener and rate limit settings.
type Config struct {
	Addr string
	// ConnectPerMin and ConnectBurst limit connect submissions; zero
	// disables the limit.
	ConnectPerMin   float64
	ConnectBurst    int
	Wireless        string
	WiredCandidates []string
	// StaticDefaults fill fields omitted from a static request.
	StaticDefaults StaticDefaults
	// ScanCacheTTL is how long a network scan is served before the radio
	// is asked again; zero scans on every request.
	ScanCacheTTL time.Duration
	// NetworksPerPage is the page size when a request names a page but no
	// per_page.
	NetworksPerPage int
}

// StaticDefaults are the addressing values offered to the installer.
type StaticDefaults struct {
	Address string
	Gateway string
	DNS     string
}

// Deps are the server's collaborators. Inspector, Scanner, Profiles,
// Shared, Broadcaster and Metrics may be nil; their endpoints then degrade.
type Deps struct {
	Controller  Controller
	Inspector   Inspector
	Scanner     Scanner
	Profiles    state.ProfileRepository
	Shared      state.SharedRepository
	Broadcaster *status.Broadcaster
	Metrics     *metrics.Metrics
	Logger      *zap.Logger
}

// Server is the hubnet HTTP server.
type Server struct {
	cfg        Config
	deps       Deps
	logger     *zap.Logger
	limiter    *rate.Limiter
	httpServer *http.Server
	router     chi.Router

	scanMu   sync.Mutex
	scanned  []inspect.Network
	scanTime time.Time
	now      func() time.Time
}

// New creates a Server and registers its routes.
func New(cfg Config, deps Deps) *Server {
	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &Server{
		cfg:    cfg,
		deps:   deps,
		logger: logger,
		now:    time.Now,
	}
	if cfg.ConnectPerMin > 0 {
		burst := cfg.ConnectBurst
		if burst < 1 {
			burst = 1
		}
		s.limiter = rate.NewLimiter(rate.Limit(cfg.ConnectPerMin/60), burst)
	}

	s.router = s.routes()
	s.httpServer = &http.Server{
		Addr:              cfg.Addr,
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       15 * time.Second,
		IdleTimeout:       60 * time.Second,
	}
	return s
}

// Handler returns the routing tree.
func (s *Server) Handler() http.Handler { return s.router }

func (s *Server) routes() chi.Router {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(s.recoverProblem)
	r.Use(s.requestLogger)
	r.Use(versionHeader)

	// Captive portal probes. Answering 204 keeps phones on the setup
	// network instead of switching to mobile data.
	for _, p := range []string{"/generate_204", "/gen_204", "/hotspot-detect.html", "/connectivity-check.html"} {
		r.Get(p, noContent)
	}

	r.Handle("/metrics", s.deps.Metrics.Handler())

	r.Route("/api/v1", func(api chi.Router) {
		// Connect runs the whole sequence inside the request.
		api.Post("/connect", s.handleConnect)
		api.Get("/status/stream", s.handleStream)

		api.Group(func(short chi.Router) {
			short.Use(middleware.Timeout(20 * time.Second))
			short.Post("/reset", s.handleReset)
			short.Get("/status", s.handleStatus)
			short.Get("/networks", s.handleNetworks)
			short.Get("/debug", s.handleDebug)
			short.Get("/health", s.handleHealth)
		})
	})

	r.NotFound(func(w http.ResponseWriter, r *http.Request) {
		NotFound(w, "no route for "+r.URL.Path, r.URL.Path)
	})
	return r
}

// Start begins serving HTTP requests.
func (s *Server) Start() error {
	s.logger.Info("starting HTTP server", zap.String("addr", s.httpServer.Addr))
	if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("HTTP server error: %w", err)
	}
	return nil
}

// Shutdown gracefully shuts down the HTTP server.
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("shutting down HTTP server")
	return s.httpServer.Shutdown(ctx)
}

type staticBody struct {
	Address string   `json:"address"`
	Gateway string   `json:"gateway,omitempty"`
	DNS     []string `json:"dns,omitempty"`
}

type connectBody struct {
	SSID     string      `json:"ssid"`
	Password string      `json:"password"`
	Static   *staticBody `json:"static,omitempty"`
}

type connectResponse struct {
	Success   bool   `json:"success"`
	Kind      string `json:"kind"`
	Address   string `json:"address"`
	AttemptID string `json:"attempt_id"`
}

func (s *Server) handleConnect(w http.ResponseWriter, r *http.Request) {
	if s.limiter != nil && !s.limiter.Allow() {
		w.Header().Set("Retry-After", "60")
		RateLimited(w, "too many connect attempts", r.URL.Path)
		return
	}

	var body connectBody
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, 16<<10))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&body); err != nil {
		BadRequest(w, "invalid JSON body: "+err.Error(), r.URL.Path)
		return
	}

	req := mode.ConnectRequest{SSID: body.SSID, Secret: body.Password}
	if body.Static != nil {
		st, err := s.parseStatic(*body.Static)
		if err != nil {
			BadRequest(w, err.Error(), r.URL.Path)
			return
		}
		req.Static = st
	}

	// Stopping the access point drops the installer's link, so the attempt
	// must outlive the request.
	res := s.deps.Controller.Connect(context.WithoutCancel(r.Context()), req)
	if !res.Success {
		WriteProblem(w, connectProblem(res, r.URL.Path))
		return
	}
	writeJSON(w, http.StatusOK, connectResponse{
		Success:   true,
		Kind:      string(res.Kind),
		Address:   res.Address.String(),
		AttemptID: res.AttemptID,
	})
}

func (s *Server) parseStatic(b staticBody) (*acquire.Static, error) {
	def := s.cfg.StaticDefaults
	addr, gw, dns := b.Address, b.Gateway, strings.Join(b.DNS, ",")
	if addr == "" {
		addr = def.Address
	}
	if gw == "" {
		gw = def.Gateway
	}
	if dns == "" {
		dns = def.DNS
	}
	return mode.ParseStatic(addr, gw, dns)
}

func (s *Server) handleReset(w http.ResponseWriter, _ *http.Request) {
	queued := s.deps.Controller.RequestReset(mode.SourceAPI)
	writeJSON(w, http.StatusAccepted, map[string]any{"accepted": true, "queued": queued})
}

func (s *Server) handleStatus(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, s.deps.Controller.Status())
}

type streamEvent struct {
	Status status.Value `json:"status"`
	At     time.Time    `json:"at"`
}

// handleStream pushes every status value to a WebSocket client until it
// disconnects.
func (s *Server) handleStream(w http.ResponseWriter, r *http.Request) {
	if s.deps.Broadcaster == nil {
		NotFound(w, "status streaming is not enabled", r.URL.Path)
		return
	}
	conn, err := websocket.Accept(w, r, nil)
	if err != nil {
		s.logger.Debug("websocket accept failed", zap.Error(err))
		return
	}
	defer conn.CloseNow()

	values, cancel := s.deps.Broadcaster.Subscribe()
	defer cancel()

	ctx := conn.CloseRead(r.Context())
	for {
		select {
		case <-ctx.Done():
			return
		case v, ok := <-values:
			if !ok {
				return
			}
			wctx, wcancel := context.WithTimeout(ctx, 5*time.Second)
			err := wsjson.Write(wctx, conn, streamEvent{Status: v, At: time.Now().UTC()})
			wcancel()
			if err != nil {
				s.logger.Debug("status stream write failed", zap.Error(err))
				return
			}
		}
	}
}

type debugResponse struct {
	Status   mode.Status             `json:"status"`
	Wired    *inspect.InterfaceState `json:"wired,omitempty"`
	Wireless *inspect.InterfaceState `json:"wireless,omitempty"`
	Profile  *state.Profile          `json:"profile,omitempty"`
	Shared   *state.Shared           `json:"shared,omitempty"`
	Errors   []string                `json:"errors,omitempty"`
}

func (s *Server) handleDebug(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	resp := debugResponse{Status: s.deps.Controller.Status()}

	if insp := s.deps.Inspector; insp != nil {
		if wired, err := insp.FirstPresent(ctx, s.cfg.WiredCandidates); err != nil {
			resp.Errors = append(resp.Errors, "wired: "+err.Error())
		} else {
			resp.Wired = &wired
		}
		if wireless, err := insp.Inspect(ctx, s.cfg.Wireless); err != nil {
			resp.Errors = append(resp.Errors, "wireless: "+err.Error())
		} else {
			resp.Wireless = &wireless
		}
	}
	if s.deps.Profiles != nil {
		p, err := s.deps.Profiles.Load(ctx)
		switch {
		case err == nil:
			red := p.Redacted()
			resp.Profile = &red
		case !errors.Is(err, state.ErrNotFound):
			resp.Errors = append(resp.Errors, "profile: "+err.Error())
		}
	}
	if s.deps.Shared != nil {
		if sh, err := s.deps.Shared.Load(ctx); err != nil {
			resp.Errors = append(resp.Errors, "shared: "+err.Error())
		} else {
			resp.Shared = &sh
		}
	}
	writeJSON(w, http.StatusOK, resp)
}

type networksResponse struct {
	Networks      []inspect.Network `json:"networks"`
	Page          int               `json:"page"`
	PerPage       int               `json:"per_page"`
	TotalPages    int               `json:"total_pages"`
	TotalNetworks int               `json:"total_networks"`
	HasNext       bool              `json:"has_next"`
	HasPrev       bool              `json:"has_prev"`
}

// handleNetworks lists the networks the wireless interface can see,
// strongest first. page is zero based; without page or per_page the whole
// list is one page. refresh=true skips the scan cache.
func (s *Server) handleNetworks(w http.ResponseWriter, r *http.Request) {
	if s.deps.Scanner == nil {
		NotFound(w, "network scanning is not enabled", r.URL.Path)
		return
	}
	q := r.URL.Query()
	page, err := queryInt(q.Get("page"))
	if err != nil {
		BadRequest(w, "page: "+err.Error(), r.URL.Path)
		return
	}
	perPage, err := queryInt(q.Get("per_page"))
	if err != nil {
		BadRequest(w, "per_page: "+err.Error(), r.URL.Path)
		return
	}
	if perPage == 0 && q.Has("page") {
		perPage = s.cfg.NetworksPerPage
	}

	nets, err := s.networks(r.Context(), q.Get("refresh") == "true")
	if err != nil {
		s.logger.Warn("network scan failed", zap.String("iface", s.cfg.Wireless), zap.Error(err))
		ScanFailed(w, err.Error(), r.URL.Path)
		return
	}
	writeJSON(w, http.StatusOK, pageNetworks(nets, page, perPage))
}

func (s *Server) networks(ctx context.Context, refresh bool) ([]inspect.Network, error) {
	s.scanMu.Lock()
	defer s.scanMu.Unlock()
	if !refresh && s.scanned != nil && s.now().Sub(s.scanTime) < s.cfg.ScanCacheTTL {
		return s.scanned, nil
	}
	nets, err := s.deps.Scanner.Scan(ctx, s.cfg.Wireless)
	if err != nil {
		return nil, err
	}
	nets = inspect.RankNetworks(nets)
	s.logger.Debug("network scan", zap.String("iface", s.cfg.Wireless), zap.Int("networks", len(nets)))
	s.scanned, s.scanTime = nets, s.now()
	return nets, nil
}

// pageNetworks slices nets into pages of perPage. perPage <= 0 returns every
// network as page 0.
func pageNetworks(nets []inspect.Network, page, perPage int) networksResponse {
	total := len(nets)
	if perPage <= 0 {
		perPage, page = total, 0
	}
	resp := networksResponse{Page: page, PerPage: perPage, TotalNetworks: total, Networks: []inspect.Network{}}
	if total == 0 {
		return resp
	}
	resp.TotalPages = (total + perPage - 1) / perPage
	if start := page * perPage; start < total {
		resp.Networks = nets[start:min(start+perPage, total)]
	}
	resp.HasNext = page < resp.TotalPages-1
	resp.HasPrev = page > 0
	return resp
}

func queryInt(v string) (int, error) {
	if v == "" {
		return 0, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("%q is not a number", v)
	}
	if n < 0 {
		return 0, fmt.Errorf("%d is negative", n)
	}
	return n, nil
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":  "ok",
		"service": "hubnet",
		"version": version.Map(),
	})
}

func noContent(w http.ResponseWriter, _ *http.Request) {
	w.WriteHeader(http.StatusNoContent)
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}
