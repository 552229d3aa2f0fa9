package main

import (
	"encoding/json"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/sells-group/outreach-engine/internal/model"
	"github.com/sells-group/outreach-engine/internal/queue"
	"github.com/sells-group/outreach-engine/internal/store"
)

var servePort int

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the HTTP API server",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		env, err := initEnv(ctx)
		if err != nil {
			return err
		}
		defer env.Close()

		port := servePort
		if port == 0 {
			port = cfg.Server.Port
		}

		srv := &http.Server{
			Addr:    fmt.Sprintf(":%d", port),
			Handler: newRouter(env),
		}

		go func() {
			<-ctx.Done()
			zap.L().Info("shutting down server")
			_ = srv.Shutdown(ctx)
		}()

		zap.L().Info("starting server", zap.Int("port", port))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			return eris.Wrap(err, "server listen")
		}

		return nil
	},
}

func newRouter(env *appEnv) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: []string{"*"},
		AllowedMethods: []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders: []string{"Accept", "Content-Type", "X-User-ID"},
	}))

	r.Get("/health", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})

	api := &apiHandler{env: env}
	r.Route("/api/v1", func(r chi.Router) {
		r.Post("/jobs", api.submitJob)
		r.Get("/jobs", api.listJobs)
		r.Get("/jobs/{id}", api.getJob)
		r.Delete("/jobs/{id}", api.cancelJob)

		r.Get("/discovery/pending", api.pendingDiscovery)
		r.Post("/discovery/review", api.reviewDiscovery)

		r.Get("/scores/distribution", api.scoreDistribution)
		r.Get("/scores/{leadID}", api.leadScore)

		r.Post("/icps", api.createICP)
		r.Get("/icps", api.listICPs)
		r.Get("/icps/{id}", api.getICP)
		r.Put("/icps/{id}", api.updateICP)
		r.Delete("/icps/{id}", api.deleteICP)
		r.Post("/icps/{id}/default", api.setDefaultICP)

		r.Get("/credentials", api.listCredentials)
		r.Put("/credentials", api.putCredential)
		r.Delete("/credentials/{service}", api.deleteCredential)
	})

	return r
}

type apiHandler struct {
	env *appEnv
}

// userID reads the calling user from the X-User-ID header. Auth proper sits
// in front of this service.
func userID(r *http.Request) string {
	return r.Header.Get("X-User-ID")
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeErr(w http.ResponseWriter, status int, err error) {
	writeJSON(w, status, map[string]string{"error": err.Error()})
}

// writeStoreErr maps store misses to 404 and everything else to 500.
func writeStoreErr(w http.ResponseWriter, err error) {
	if eris.Is(err, store.ErrNotFound) {
		writeErr(w, http.StatusNotFound, err)
		return
	}
	zap.L().Error("api: request failed", zap.Error(err))
	writeErr(w, http.StatusInternalServerError, err)
}

func requireUser(w http.ResponseWriter, r *http.Request) (string, bool) {
	uid := userID(r)
	if uid == "" {
		writeErr(w, http.StatusBadRequest, eris.New("X-User-ID header is required"))
		return "", false
	}
	return uid, true
}

type submitJobRequest struct {
	JobType  model.JobKind   `json:"job_type"`
	Priority int             `json:"priority"`
	Target   model.JobTarget `json:"target"`
	Config   json.RawMessage `json:"config"`
}

func (h *apiHandler) submitJob(w http.ResponseWriter, r *http.Request) {
	uid, ok := requireUser(w, r)
	if !ok {
		return
	}

	var req submitJobRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeErr(w, http.StatusBadRequest, eris.Wrap(err, "invalid request body"))
		return
	}

	jobCfg, err := model.ConfigForKind(req.JobType)
	if err != nil {
		writeErr(w, http.StatusBadRequest, err)
		return
	}
	if len(req.Config) > 0 {
		if err := json.Unmarshal(req.Config, jobCfg); err != nil {
			writeErr(w, http.StatusBadRequest, eris.Wrapf(err, "invalid %s config", req.JobType))
			return
		}
	}

	job := &model.Job{
		UserID:   uid,
		Kind:     req.JobType,
		Priority: req.Priority,
		Target:   req.Target,
		Config:   jobCfg,
	}
	if err := h.env.Queue.Submit(r.Context(), job); err != nil {
		var verr *queue.ValidationError
		if eris.As(err, &verr) {
			writeErr(w, http.StatusBadRequest, verr)
			return
		}
		writeStoreErr(w, err)
		return
	}

	writeJSON(w, http.StatusAccepted, job)
}

func (h *apiHandler) listJobs(w http.ResponseWriter, r *http.Request) {
	uid, ok := requireUser(w, r)
	if !ok {
		return
	}

	q := r.URL.Query()
	jobs, err := h.env.Queue.List(r.Context(), uid, store.JobFilter{
		Status: model.JobStatus(q.Get("status")),
		Kind:   model.JobKind(q.Get("type")),
		LeadID: q.Get("lead_id"),
	})
	if err != nil {
		writeStoreErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, jobs)
}

func (h *apiHandler) getJob(w http.ResponseWriter, r *http.Request) {
	uid, ok := requireUser(w, r)
	if !ok {
		return
	}

	job, err := h.env.Queue.Get(r.Context(), uid, chi.URLParam(r, "id"))
	if err != nil {
		writeStoreErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, job)
}

func (h *apiHandler) cancelJob(w http.ResponseWriter, r *http.Request) {
	uid, ok := requireUser(w, r)
	if !ok {
		return
	}

	if err := h.env.Queue.Cancel(r.Context(), uid, chi.URLParam(r, "id")); err != nil {
		writeStoreErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "cancelled"})
}

func (h *apiHandler) pendingDiscovery(w http.ResponseWriter, r *http.Request) {
	uid, ok := requireUser(w, r)
	if !ok {
		return
	}

	q := r.URL.Query()
	candidates, err := h.env.Discovery.Pending(r.Context(), uid, store.DiscoveryFilter{
		Status: model.DiscoveryStatus(q.Get("status")),
		ICPID:  q.Get("icp_id"),
	})
	if err != nil {
		writeStoreErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, candidates)
}

type reviewRequest struct {
	ID     string             `json:"id"`
	Action model.ReviewAction `json:"action"`
	Reason string             `json:"reason,omitempty"`
}

func (h *apiHandler) reviewDiscovery(w http.ResponseWriter, r *http.Request) {
	uid, ok := requireUser(w, r)
	if !ok {
		return
	}

	var req reviewRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeErr(w, http.StatusBadRequest, eris.Wrap(err, "invalid request body"))
		return
	}
	if req.ID == "" {
		writeErr(w, http.StatusBadRequest, eris.New("id is required"))
		return
	}

	outcome, err := h.env.Discovery.Review(r.Context(), uid, req.ID, req.Action, req.Reason)
	if err != nil {
		writeStoreErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, outcome)
}

func (h *apiHandler) leadScore(w http.ResponseWriter, r *http.Request) {
	if _, ok := requireUser(w, r); !ok {
		return
	}

	leadID := chi.URLParam(r, "leadID")
	score, err := h.env.Scorer.Current(r.Context(), leadID)
	if err != nil {
		writeStoreErr(w, err)
		return
	}
	if score == nil {
		writeErr(w, http.StatusNotFound, eris.Errorf("lead %s has no score", leadID))
		return
	}

	resp := struct {
		Current *model.LeadScore  `json:"current"`
		History []model.LeadScore `json:"history,omitempty"`
	}{Current: score}

	if r.URL.Query().Get("history") == "true" {
		history, err := h.env.Scorer.History(r.Context(), leadID, 20)
		if err != nil {
			writeStoreErr(w, err)
			return
		}
		resp.History = history
	}
	writeJSON(w, http.StatusOK, resp)
}

func (h *apiHandler) scoreDistribution(w http.ResponseWriter, r *http.Request) {
	uid, ok := requireUser(w, r)
	if !ok {
		return
	}

	dist, err := h.env.Scorer.Distribution(r.Context(), uid)
	if err != nil {
		writeStoreErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, dist)
}

func (h *apiHandler) createICP(w http.ResponseWriter, r *http.Request) {
	uid, ok := requireUser(w, r)
	if !ok {
		return
	}

	var icp model.ICPProfile
	if err := json.NewDecoder(r.Body).Decode(&icp); err != nil {
		writeErr(w, http.StatusBadRequest, eris.Wrap(err, "invalid request body"))
		return
	}
	icp.UserID = uid
	if icp.Weights == (model.Weights{}) {
		icp.Weights = model.DefaultWeights
	}
	if err := icp.Validate(); err != nil {
		writeErr(w, http.StatusBadRequest, err)
		return
	}

	if err := h.env.Store.CreateICP(r.Context(), &icp); err != nil {
		writeStoreErr(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, icp)
}

func (h *apiHandler) listICPs(w http.ResponseWriter, r *http.Request) {
	uid, ok := requireUser(w, r)
	if !ok {
		return
	}

	icps, err := h.env.Store.ListICPs(r.Context(), uid)
	if err != nil {
		writeStoreErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, icps)
}

func (h *apiHandler) getICP(w http.ResponseWriter, r *http.Request) {
	uid, ok := requireUser(w, r)
	if !ok {
		return
	}

	icp, err := h.env.Store.GetICP(r.Context(), uid, chi.URLParam(r, "id"))
	if err != nil {
		writeStoreErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, icp)
}

func (h *apiHandler) updateICP(w http.ResponseWriter, r *http.Request) {
	uid, ok := requireUser(w, r)
	if !ok {
		return
	}

	var icp model.ICPProfile
	if err := json.NewDecoder(r.Body).Decode(&icp); err != nil {
		writeErr(w, http.StatusBadRequest, eris.Wrap(err, "invalid request body"))
		return
	}
	icp.ID = chi.URLParam(r, "id")
	icp.UserID = uid
	if err := icp.Validate(); err != nil {
		writeErr(w, http.StatusBadRequest, err)
		return
	}

	if err := h.env.Store.UpdateICP(r.Context(), &icp); err != nil {
		writeStoreErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, icp)
}

func (h *apiHandler) deleteICP(w http.ResponseWriter, r *http.Request) {
	uid, ok := requireUser(w, r)
	if !ok {
		return
	}

	if err := h.env.Store.DeleteICP(r.Context(), uid, chi.URLParam(r, "id")); err != nil {
		writeStoreErr(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *apiHandler) setDefaultICP(w http.ResponseWriter, r *http.Request) {
	uid, ok := requireUser(w, r)
	if !ok {
		return
	}

	if err := h.env.Store.SetDefaultICP(r.Context(), uid, chi.URLParam(r, "id")); err != nil {
		writeStoreErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"default": chi.URLParam(r, "id")})
}

// requireSecrets rejects credential endpoints when no encryption key is
// configured.
func (h *apiHandler) requireSecrets(w http.ResponseWriter) bool {
	if h.env.Secrets == nil {
		writeErr(w, http.StatusServiceUnavailable, eris.New("credential storage requires secrets.key to be configured"))
		return false
	}
	return true
}

type putCredentialRequest struct {
	Service string `json:"service"`
	APIKey  string `json:"api_key"`
}

func (h *apiHandler) putCredential(w http.ResponseWriter, r *http.Request) {
	uid, ok := requireUser(w, r)
	if !ok || !h.requireSecrets(w) {
		return
	}

	var req putCredentialRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeErr(w, http.StatusBadRequest, eris.Wrap(err, "invalid request body"))
		return
	}

	cred, err := h.env.Secrets.Store(r.Context(), uid, req.Service, req.APIKey)
	if err != nil {
		writeErr(w, http.StatusBadRequest, err)
		return
	}
	writeJSON(w, http.StatusOK, cred)
}

func (h *apiHandler) listCredentials(w http.ResponseWriter, r *http.Request) {
	uid, ok := requireUser(w, r)
	if !ok || !h.requireSecrets(w) {
		return
	}

	creds, err := h.env.Secrets.List(r.Context(), uid)
	if err != nil {
		writeStoreErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, creds)
}

func (h *apiHandler) deleteCredential(w http.ResponseWriter, r *http.Request) {
	uid, ok := requireUser(w, r)
	if !ok || !h.requireSecrets(w) {
		return
	}

	if err := h.env.Secrets.Delete(r.Context(), uid, chi.URLParam(r, "service")); err != nil {
		writeStoreErr(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func init() {
	serveCmd.Flags().IntVar(&servePort, "port", 0, "server port (default from config)")
	rootCmd.AddCommand(serveCmd)
}
