package rest

import (
	"context"
	"net/http"
	"time"

	"taxledger/internal/repository"
	"taxledger/internal/service"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
)

type Exporter interface {
	StartLedgerExport(ctx context.Context, assessmentID string, selected []string, actor service.Actor) (string, error)
	StartPaymentsExport(ctx context.Context, selected []string, filter repository.PaymentsFilter, actor service.Actor) (string, error)
	GetExports(ctx context.Context, actorID string) ([]interface{}, error)
	GetExport(ctx context.Context, exportID string, actorID string) (interface{}, error)
}

type Handler struct {
	engine  *service.Engine
	exports Exporter
}

func NewHandler(engine *service.Engine, exports Exporter) *Handler {
	return &Handler{
		engine:  engine,
		exports: exports,
	}
}

func (h *Handler) InitRouter() *chi.Mux {
	return h.InitRouterWithAuth(nil)
}

func (h *Handler) InitRouterWithAuth(authMiddleware func(http.Handler) http.Handler) *chi.Mux {
	r := chi.NewRouter()

	r.Use(
		middleware.RequestID,
		middleware.RealIP,
		middleware.Logger,
		middleware.Recoverer,
		middleware.Timeout(60*time.Second),
	)

	if authMiddleware != nil {
		r.Use(authMiddleware)
	}

	r.Route("/assessments", func(r chi.Router) {
		r.Post("/", h.createAssessment)
		r.Route("/{assessment_id}", func(r chi.Router) {
			r.Get("/", h.getAssessment)
			r.Patch("/", h.updateAssessment)
			r.Delete("/", h.cancelAssessment)
			r.Post("/interest", h.applyInterest)
			r.Post("/penalty", h.applyPenalty)
			r.Post("/payments", h.recordPayment)
			r.Get("/payments", h.listAssessmentPayments)
			r.Post("/approve", h.approveAssessment)
			r.Post("/reject", h.rejectAssessment)
			r.Get("/history", h.getHistory)
			r.Get("/verify", h.verifyAssessment)
		})
	})

	r.Route("/export", func(r chi.Router) {
		r.Get("/", h.listExports)
		r.Get("/{export_id}", h.getExport)
		r.Post("/ledger", h.exportLedger)
		r.Post("/payments", h.exportPayments)
	})

	return r
}
