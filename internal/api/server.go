// Package api serves the screenpop webhook and its supporting JSON endpoints.
package api

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"go.uber.org/zap"

	"github.com/sells-group/screenpop/internal/model"
	"github.com/sells-group/screenpop/internal/screenpop"
	"github.com/sells-group/screenpop/internal/store"
	"github.com/sells-group/screenpop/pkg/connectwise"
)

// Store is the persistence the handlers use.
type Store interface {
	store.PhoneCache
	store.Extensions
}

// Syncer starts on-demand cache refreshes.
type Syncer interface {
	Trigger(ctx context.Context, syncType model.SyncType) (int64, error)
}

// Options carries the display and policy settings handlers report.
type Options struct {
	SyncInterval    time.Duration
	ConnectWiseURL  string
	NilearURL       string
	NilearTicketURL string
	AllowedOrigins  []string
}

// Server holds handler dependencies.
type Server struct {
	store     Store
	cw        connectwise.Client
	syncer    Syncer
	directory *screenpop.Directory
	opts      Options
	log       *zap.Logger
}

// NewServer creates a Server.
func NewServer(st Store, cw connectwise.Client, syncer Syncer, dir *screenpop.Directory, opts Options) *Server {
	return &Server{
		store:     st,
		cw:        cw,
		syncer:    syncer,
		directory: dir,
		opts:      opts,
		log:       zap.L().With(zap.String("component", "api")),
	}
}

// Handler returns the routed handler with middleware applied.
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()

	origins := s.opts.AllowedOrigins
	if len(origins) == 0 {
		origins = []string{"*"}
	}
	r.Use(middleware.RealIP)
	r.Use(requestID)
	r.Use(requestLogger(s.log))
	r.Use(middleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: origins,
		AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodOptions},
		AllowedHeaders: []string{"Accept", "Content-Type", requestIDHeader},
		ExposedHeaders: []string{requestIDHeader},
		MaxAge:         300,
	}))

	r.Get("/health", s.handleHealth)
	r.Get("/sync", s.handleSync)
	r.Post("/sync", s.handleSync)
	r.Get("/cache/clear", s.handleCacheClear)
	r.Post("/cache/clear", s.handleCacheClear)
	r.Get("/test", s.handleTest)

	r.Get("/screenpop", s.handleScreenpop)
	r.Get("/select-company/{companyID}", s.handleSelectCompany)
	r.Get("/company/{companyID}", s.handleCompany)
	r.Get("/technician/{identifier}", s.handleTechnician)

	r.Route("/api", func(r chi.Router) {
		r.Get("/companies/search", s.handleSearchCompanies)
		r.Get("/companies/{companyID}/contacts", s.handleCompanyContacts)
		r.Post("/companies/create", s.handleCreateCompany)
		r.Post("/contacts/{contactID}/add-phone", s.handleAddPhone)
		r.Post("/contacts/create", s.handleCreateContact)
		r.Post("/tickets/create", s.handleCreateTicket)
		r.Post("/extensions/assign", s.handleAssignExtension)
	})

	return r
}
