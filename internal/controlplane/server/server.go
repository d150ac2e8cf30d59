// Package server exposes the journal daemon's local HTTP control plane:
// credential management, manual sync, live mirror control, scheduler
// reload, and the event stream.
package server

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/anthonyr0ux/trading-journal-macos/internal/events"
	"github.com/anthonyr0ux/trading-journal-macos/internal/ledger"
	"github.com/anthonyr0ux/trading-journal-macos/internal/services"
	"github.com/anthonyr0ux/trading-journal-macos/pkg/config"
	"github.com/anthonyr0ux/trading-journal-macos/pkg/ratelimit"
)

type Server struct {
	cfg       *config.Config
	ledger    *ledger.Ledger
	creds     *services.CredentialService
	syncer    *services.Syncer
	importer  *services.Importer
	mirror    *services.LiveMirrorManager
	scheduler *services.SyncScheduler
	hub       *events.Hub
}

// New wires the full service stack over an open ledger and secret store.
func New(cfg *config.Config, l *ledger.Ledger, secrets services.SecretStore) *Server {
	hub := events.NewHub()
	limiters := ratelimit.NewManager()
	creds := services.NewCredentialService(l, secrets, limiters)
	importer := services.NewImporter(l, hub)
	syncer := services.NewSyncer(l, creds, importer, hub, cfg.Sync.LookbackDays)

	syncFn := func(ctx context.Context, credentialID, trigger string) (*services.ImportResult, error) {
		return syncer.SyncNow(ctx, credentialID, trigger, services.DefaultSyncOptions())
	}

	return &Server{
		cfg:       cfg,
		ledger:    l,
		creds:     creds,
		syncer:    syncer,
		importer:  importer,
		mirror:    services.NewLiveMirrorManager(l, syncer.MirrorPoll, hub, cfg.Sync.MirrorPollInterval),
		scheduler: services.NewSyncScheduler(l, syncFn),
		hub:       hub,
	}
}

// Start brings the background machinery up: the scheduler loads its tasks
// from the database.
func (s *Server) Start(ctx context.Context) error {
	return s.scheduler.Reload(ctx)
}

// Close drains the mirror sessions and scheduler tasks.
func (s *Server) Close() {
	s.mirror.StopAll()
	s.scheduler.Stop()
	s.importer.Close()
}

func (s *Server) Router() http.Handler {
	gin.SetMode(gin.ReleaseMode)
	r := gin.New()
	r.Use(gin.Recovery())

	r.GET("/healthz", s.wrap(func(w http.ResponseWriter, r *http.Request) { w.WriteHeader(http.StatusOK) }))

	api := r.Group("/api")

	creds := api.Group("/credentials")
	creds.GET("/", s.wrap(s.handleCredentialsList))
	creds.POST("/", s.wrap(s.handleCredentialsCreate))
	credsID := creds.Group("/:credentialID")
	credsID.DELETE("/", s.wrap(s.handleCredentialDelete))
	credsID.POST("/test", s.wrap(s.handleCredentialTest))
	credsID.POST("/active", s.wrap(s.handleCredentialSetActive))
	credsID.POST("/auto-sync", s.wrap(s.handleCredentialSetAutoSync))
	credsID.POST("/live-mirror", s.wrap(s.handleCredentialSetLiveMirror))
	credsID.POST("/sync", s.wrap(s.handleSyncNow))
	credsID.GET("/history", s.wrap(s.handleSyncHistory))
	credsID.GET("/open-orders", s.wrap(s.handleOpenOrders))

	mirror := api.Group("/mirror")
	mirror.GET("/", s.wrap(s.handleMirrorStatus))
	mirror.POST("/:credentialID/start", s.wrap(s.handleMirrorStart))
	mirror.POST("/:credentialID/stop", s.wrap(s.handleMirrorStop))
	mirror.POST("/:credentialID/poll", s.wrap(s.handleMirrorPoll))

	scheduler := api.Group("/scheduler")
	scheduler.GET("/", s.wrap(s.handleSchedulerStatus))
	scheduler.POST("/reload", s.wrap(s.handleSchedulerReload))

	api.GET("/trades", s.wrap(s.handleTradesList))
	api.GET("/events", s.wrap(s.handleEvents))

	debug := api.Group("/debug")
	debug.GET("/trades", s.wrap(s.handleDebugTradeCounts))
	debug.POST("/trades/restore", s.wrap(s.handleDebugRestoreTrades))

	return r
}

type paramsKeyType string

const paramsKey paramsKeyType = "journal_path_params"

func (s *Server) wrap(h func(http.ResponseWriter, *http.Request)) gin.HandlerFunc {
	return func(c *gin.Context) {
		m := map[string]string{}
		for _, p := range c.Params {
			m[p.Key] = p.Value
		}
		ctx := context.WithValue(c.Request.Context(), paramsKey, m)
		c.Request = c.Request.WithContext(ctx)
		h(c.Writer, c.Request)
	}
}

func pathParam(r *http.Request, key string) string {
	m, _ := r.Context().Value(paramsKey).(map[string]string)
	return m[key]
}
