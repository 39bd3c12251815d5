package main

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/google/uuid"
	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/ivyaspire/leadtrack/internal/classify"
	"github.com/ivyaspire/leadtrack/internal/cookiewatch"
	"github.com/ivyaspire/leadtrack/internal/dispatch"
	"github.com/ivyaspire/leadtrack/internal/model"
)

var servePort int

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the intent intake server",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		a, err := initApp(ctx)
		if err != nil {
			return err
		}
		defer a.Close()

		a.dispatcher.WarmUp(ctx)

		port := servePort
		if port == 0 {
			port = cfg.Server.Port
		}

		srv := &http.Server{
			Addr:    fmt.Sprintf(":%d", port),
			Handler: newIntakeRouter(a),
		}

		// Graceful shutdown
		go func() {
			<-ctx.Done()
			zap.L().Info("shutting down server")
			srv.Shutdown(ctx)
		}()

		zap.L().Info("starting server", zap.Int("port", port))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			return eris.Wrap(err, "server listen")
		}

		return nil
	},
}

func init() {
	serveCmd.Flags().IntVar(&servePort, "port", 0, "server port (default from config)")
	rootCmd.AddCommand(serveCmd)
}

// intentRequest is the intake payload: the accumulated form snapshot plus
// the attribution cookies forwarded from the visitor's browser.
type intentRequest struct {
	model.FormSnapshot
	FBP        string `json:"fbp,omitempty"`
	FBC        string `json:"fbc,omitempty"`
	CTAVariant string `json:"ctaVariant,omitempty"`
}

func newIntakeRouter(a *app) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: []string{"*"},
		AllowedMethods: []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders: []string{"Content-Type"},
	}))

	r.Get("/health", func(w http.ResponseWriter, req *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})

	r.Post("/intent/{intent}", a.handleIntent)

	r.Get("/session/{sessionID}", func(w http.ResponseWriter, req *http.Request) {
		data, err := a.store.GetSession(req.Context(), chi.URLParam(req, "sessionID"))
		if err != nil {
			zap.L().Error("session lookup failed", zap.Error(err))
			writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "lookup failed"})
			return
		}
		if data == nil {
			writeJSON(w, http.StatusNotFound, map[string]string{"error": "unknown session"})
			return
		}
		writeJSON(w, http.StatusOK, data)
	})

	return r
}

// handleIntent drives the pipeline for one UI intent: cookie capture,
// classification when the academic fields have arrived, event dispatch, and
// incremental persistence. Analytics and store failures are logged and
// swallowed; the form flow never sees them.
func (a *app) handleIntent(w http.ResponseWriter, req *http.Request) {
	var in intentRequest
	if err := json.NewDecoder(req.Body).Decode(&in); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid request body"})
		return
	}

	intent := chi.URLParam(req, "intent")
	snap := in.FormSnapshot
	if snap.SessionID == "" {
		snap.SessionID = uuid.NewString()
	}

	a.jar.Set(cookiewatch.FBPCookie, in.FBP)
	a.jar.Set(cookiewatch.FBCCookie, in.FBC)
	a.client.SetUserAgent(req.UserAgent())

	// Classify as soon as the academic fields are in; the category then
	// rides along on every later snapshot.
	if snap.LeadCategory == "" && snap.CurrentGrade != "" && snap.ScholarshipRequirement != "" {
		snap.LeadCategory = classify.Classify(classify.FieldsFromSnapshot(snap))
		snap.IsQualifiedLead = classify.Qualifies(snap.LeadCategory)
	}

	events, stage, ok := a.dispatchIntent(req.Context(), intent, snap, in.CTAVariant)
	if !ok {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "unknown intent"})
		return
	}

	if stage != "" {
		if err := a.store.SaveIncremental(req.Context(), snap.SessionID, snap, stage); err != nil {
			zap.L().Error("session save failed",
				zap.String("session_id", snap.SessionID),
				zap.String("stage", string(stage)),
				zap.Error(err),
			)
		}
	}

	writeJSON(w, http.StatusAccepted, map[string]any{
		"sessionId": snap.SessionID,
		"events":    events,
	})
}

// dispatchIntent maps an intent name to its dispatcher operation and the
// funnel stage recorded for it. Intents without a persistence stage return
// an empty stage.
func (a *app) dispatchIntent(ctx context.Context, intent string, snap model.FormSnapshot, variant string) ([]string, model.FunnelStage, bool) {
	d := a.dispatcher
	switch intent {
	case "page_view":
		return d.TrackPageView(ctx), "", true
	case "hero_cta":
		return d.TrackHeroCTA(ctx), "", true
	case "understand_approach_cta":
		return d.TrackUnderstandApproachCTA(ctx), "", true
	case "form_start":
		return nil, model.StageFormStart, true
	case "page_1_student_info":
		return nil, model.StagePage1StudentInfo, true
	case "page_1_academic_info":
		return nil, model.StagePage1AcademicInfo, true
	case "page_1_scholarship_info":
		return nil, model.StagePage1ScholarshipInfo, true
	case "page_1_continue":
		return d.TrackPage1Continue(ctx), "", true
	case "page_1_complete":
		return d.TrackPage1Complete(ctx, snap), model.StagePage1Complete, true
	case "lead_evaluated":
		return d.TrackPrimaryClassificationEvents(ctx, snap), model.StageLeadEvaluated, true
	case "mof_page_view":
		return d.TrackMofPageView(ctx), "", true
	case "page_2_view":
		return d.TrackPage2View(ctx, snap), model.StagePage2View, true
	case "counselling_slot":
		return nil, model.StagePage2CounsellingSlot, true
	case "parent_details":
		return nil, model.StagePage2ParentDetails, true
	case "page_2_submit":
		return d.TrackPage2Submit(ctx, snap), "", true
	case "form_submit":
		return d.TrackFormComplete(ctx, snap), model.StageFormSubmit, true
	case "call_scheduled":
		return d.TrackCallScheduled(ctx, snap), "", true
	case "cta_click":
		if variant == "" {
			variant = dispatch.CTABookCall
		}
		return d.TrackMofCTAClick(ctx, variant), "", true
	case "sticky_cta_click":
		return d.TrackMofStickyCTAClick(ctx), "", true
	}
	return nil, "", false
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(body)
}
