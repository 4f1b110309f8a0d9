package app

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime"
	"net"
	"net/http"
	"net/netip"
	"strconv"
	"strings"
	"time"

	"archboard/api/internal/auth"
	"archboard/api/internal/logging"
	"archboard/api/internal/metrics"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"
)

type HTTPServer struct {
	service    *Service
	corsOrigin string
	// proxies are the peers whose X-Forwarded-For is believed.
	proxies []netip.Prefix
}

func NewHTTPServer(service *Service, corsOrigin string) *HTTPServer {
	return &HTTPServer{
		service:    service,
		corsOrigin: corsOrigin,
		proxies:    parseTrustedProxies(service.cfg.TrustedProxies, service.logger),
	}
}

// parseTrustedProxies accepts bare IPs and CIDRs; bad entries are logged and
// skipped.
func parseTrustedProxies(entries []string, logger *zap.Logger) []netip.Prefix {
	var out []netip.Prefix
	for _, entry := range entries {
		if prefix, err := netip.ParsePrefix(entry); err == nil {
			out = append(out, prefix.Masked())
			continue
		}
		addr, err := netip.ParseAddr(entry)
		if err != nil {
			logger.Warn("ignoring invalid trusted proxy", zap.String("entry", entry))
			continue
		}
		addr = addr.Unmap()
		out = append(out, netip.PrefixFrom(addr, addr.BitLen()))
	}
	return out
}

func (s *HTTPServer) Handler() http.Handler {
	return s.routes()
}

func (s *HTTPServer) routes() chi.Router {
	r := chi.NewRouter()
	r.Use(s.withMiddleware)
	r.NotFound(func(w http.ResponseWriter, r *http.Request) {
		writeError(w, http.StatusNotFound, "NOT_FOUND", "Route not found", nil)
	})
	r.MethodNotAllowed(func(w http.ResponseWriter, r *http.Request) {
		writeError(w, http.StatusMethodNotAllowed, "METHOD_NOT_ALLOWED", "Method not allowed", nil)
	})

	r.Handle("/metrics", metrics.Handler())
	r.Get("/api/health", s.handleHealth)
	r.Get("/api/ready", s.handleReady)

	r.Get("/decision-log", redirectTo("/api/decisions"))
	r.Get("/api/decision-log", redirectTo("/api/decisions"))

	r.Route("/api/auth", func(r chi.Router) {
		r.Post("/login", s.handleLogin)
		r.Post("/signup", s.handleSignUp)
		r.Post("/signup/complete", s.handleCompleteFirmSignup)
		r.Post("/refresh", s.handleRefresh)
		r.Post("/logout", s.handleLogout)
		r.Get("/session", s.handleSession)
		r.Get("/invite/verify", s.handleInviteVerify)
		r.Post("/invite/verify", s.handleInviteVerify)
		r.Post("/verify-email", s.handleVerifyEmail)
		r.Post("/reset-password/request", s.handleRequestReset)
		r.Post("/reset-password", s.handleResetPassword)
	})
	r.Get("/api/exports/{token}", s.handleExportObject)

	r.Group(func(r chi.Router) {
		r.Use(s.authenticated)

		r.Post("/api/invites", s.handleCreateInvite)
		r.Get("/api/dashboard", s.handleDashboard)
		r.Get("/api/search", s.handleSearch)
		r.Get("/api/decisions", s.handleDecisionsAcrossProjects)

		r.Route("/api/projects", func(r chi.Router) {
			r.Get("/", s.handleListProjects)
			r.Post("/", s.handleCreateProject)
			r.Route("/{pid}", func(r chi.Router) {
				r.Get("/", s.handleGetProject)
				r.Patch("/", s.handleUpdateProject)

				r.Get("/decisions", s.handleListDecisions)
				r.Post("/decisions", s.handleCreateDecision)
				r.Route("/decisions/{did}", func(r chi.Router) {
					r.Get("/", s.handleGetDecision)
					r.Patch("/", s.handleUpdateDecision)
					r.Get("/detail", s.handleDecisionDetail)
					r.Post("/publish", s.handlePublishDecision)
					r.Post("/approve", s.handleApprove)
					r.Post("/related", s.handleAddRelated)
					r.Get("/versions/{vid}/download", s.handleDownload)
					r.Post("/versions/{vid}/download", s.handleDownload)
				})

				r.Get("/timeline", s.handleTimeline)
				r.Put("/timeline/phases/{phaseId}", s.handleUpdatePhase)
				r.Patch("/timeline/phases/{phaseId}", s.handleUpdatePhase)
				r.Get("/timeline/milestones", s.handleListMilestones)
				r.Post("/timeline/milestones", s.handleCreateMilestone)
				r.Patch("/timeline/milestones/{mid}", s.handleUpdateMilestone)
				r.Delete("/timeline/milestones/{mid}", s.handleDeleteMilestone)
				r.Post("/timeline/milestones/{mid}/reschedule", s.handleReschedule)
				r.Post("/timeline/checkpoints", s.handleAddCheckpoint)
				r.Delete("/timeline/checkpoints/{did}", s.handleRemoveCheckpoint)
			})
		})

		r.Route("/api/templates", func(r chi.Router) {
			r.Get("/", s.handleListTemplates)
			r.Post("/", s.handleCreateTemplate)
			r.Post("/apply", s.handleApplyTemplate)
			r.Route("/{id}", func(r chi.Router) {
				r.Get("/", s.handleGetTemplate)
				r.Patch("/", s.handleUpdateTemplate)
				r.Delete("/", s.handleDeleteTemplate)
				r.Get("/versions", s.handleTemplateVersions)
				r.Get("/versions/{from}/diff/{to}", s.handleTemplateDiff)
				r.Get("/history", s.handleTemplateHistory)
			})
		})
	})

	s.mountFunctions(r)
	return r
}

func (s *HTTPServer) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"ok": true})
}

func (s *HTTPServer) handleReady(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	status := "ready"
	statusCode := http.StatusOK
	checks := map[string]any{
		"database": map[string]any{"status": "ok"},
	}

	if err := s.service.Ping(ctx); err != nil {
		status = "not_ready"
		statusCode = http.StatusServiceUnavailable
		checks["database"] = map[string]any{"status": "error", "error": err.Error()}
	}
	if configured, err := s.service.PingSessions(ctx); configured {
		if err != nil {
			status = "not_ready"
			statusCode = http.StatusServiceUnavailable
			checks["redis"] = map[string]any{"status": "error", "error": err.Error()}
		} else {
			checks["redis"] = map[string]any{"status": "ok"}
		}
	}

	writeJSON(w, statusCode, map[string]any{
		"ok":     status == "ready",
		"status": status,
		"checks": checks,
	})
}

// redirectTo issues a permanent redirect that keeps the method and query.
func redirectTo(target string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		location := target
		if r.URL.RawQuery != "" {
			location += "?" + r.URL.RawQuery
		}
		http.Redirect(w, r, location, http.StatusPermanentRedirect)
	}
}

// Auth

func (s *HTTPServer) handleLogin(w http.ResponseWriter, r *http.Request) {
	var body LoginInput
	if !decodeOrFail(w, r, &body) {
		return
	}
	respond(w, http.StatusOK)(s.service.Login(r.Context(), body, clientIP(r, s.proxies)))
}

func (s *HTTPServer) handleSignUp(w http.ResponseWriter, r *http.Request) {
	var body SignUpInput
	if !decodeOrFail(w, r, &body) {
		return
	}
	respond(w, http.StatusCreated)(s.service.SignUp(r.Context(), body))
}

func (s *HTTPServer) handleCompleteFirmSignup(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Token    string `json:"token"`
		Password string `json:"password"`
	}
	if !decodeOrFail(w, r, &body) {
		return
	}
	respond(w, http.StatusCreated)(s.service.CompleteFirmSignup(r.Context(), body.Token, body.Password))
}

func (s *HTTPServer) handleRefresh(w http.ResponseWriter, r *http.Request) {
	var body struct {
		RefreshToken string `json:"refresh_token"`
	}
	if !decodeOrFail(w, r, &body) {
		return
	}
	session, err := s.service.Refresh(r.Context(), firstNonBlank(body.RefreshToken, bearerToken(r)))
	if err != nil {
		writeMappedError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"session": sessionPayload(session, true)})
}

func (s *HTTPServer) handleLogout(w http.ResponseWriter, r *http.Request) {
	session := Session{}
	if token := bearerToken(r); token != "" {
		if parsed, err := s.service.SessionFromToken(r.Context(), token); err == nil {
			session = parsed
		}
	}
	var body struct {
		RefreshToken string `json:"refresh_token"`
	}
	_ = decodeBody(r, &body)
	s.service.Logout(r.Context(), session, body.RefreshToken)
	writeJSON(w, http.StatusOK, map[string]any{"success": true})
}

func (s *HTTPServer) handleSession(w http.ResponseWriter, r *http.Request) {
	session, ok := s.requireSession(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, s.service.SessionInfo(session))
}

func (s *HTTPServer) handleInviteVerify(w http.ResponseWriter, r *http.Request) {
	token := r.URL.Query().Get("token")
	if r.Method == http.MethodPost {
		var body struct {
			Token string `json:"token"`
		}
		if !decodeOrFail(w, r, &body) {
			return
		}
		token = firstNonBlank(body.Token, token)
	}
	respond(w, http.StatusOK)(s.service.VerifyInvite(r.Context(), token))
}

func (s *HTTPServer) handleVerifyEmail(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Token string `json:"token"`
	}
	if !decodeOrFail(w, r, &body) {
		return
	}
	if err := s.service.VerifyEmail(r.Context(), body.Token); err != nil {
		writeMappedError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"message": "Email verified successfully"})
}

func (s *HTTPServer) handleRequestReset(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Email string `json:"email"`
	}
	if !decodeOrFail(w, r, &body) {
		return
	}
	respond(w, http.StatusOK)(s.service.RequestPasswordReset(r.Context(), body.Email))
}

func (s *HTTPServer) handleResetPassword(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Token       string `json:"token"`
		NewPassword string `json:"newPassword"`
	}
	if !decodeOrFail(w, r, &body) {
		return
	}
	if err := s.service.ResetPassword(r.Context(), body.Token, body.NewPassword); err != nil {
		writeMappedError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"message": "Password reset successfully"})
}

func (s *HTTPServer) handleCreateInvite(w http.ResponseWriter, r *http.Request) {
	var body InviteInput
	if !decodeOrFail(w, r, &body) {
		return
	}
	respond(w, http.StatusCreated)(s.service.CreateInvite(r.Context(), sessionFrom(r), body))
}

// Dashboard, projects, search

func (s *HTTPServer) handleDashboard(w http.ResponseWriter, r *http.Request) {
	respond(w, http.StatusOK)(s.service.Overview(r.Context(), sessionFrom(r)))
}

func (s *HTTPServer) handleSearch(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	limit, err := queryInt(q.Get("limit"), "limit")
	if err != nil {
		writeMappedError(w, err)
		return
	}
	offset, err := queryInt(q.Get("offset"), "offset")
	if err != nil {
		writeMappedError(w, err)
		return
	}
	respond(w, http.StatusOK)(s.service.Search(r.Context(), sessionFrom(r), SearchInput{
		Query:  q.Get("q"),
		Type:   q.Get("type"),
		Limit:  limit,
		Offset: offset,
	}))
}

func (s *HTTPServer) handleListProjects(w http.ResponseWriter, r *http.Request) {
	respond(w, http.StatusOK)(s.service.ListProjects(r.Context(), sessionFrom(r)))
}

func (s *HTTPServer) handleCreateProject(w http.ResponseWriter, r *http.Request) {
	var body ProjectInput
	if !decodeOrFail(w, r, &body) {
		return
	}
	respond(w, http.StatusCreated)(s.service.CreateProject(r.Context(), sessionFrom(r), body))
}

func (s *HTTPServer) handleGetProject(w http.ResponseWriter, r *http.Request) {
	respond(w, http.StatusOK)(s.service.GetProject(r.Context(), sessionFrom(r), chi.URLParam(r, "pid")))
}

func (s *HTTPServer) handleUpdateProject(w http.ResponseWriter, r *http.Request) {
	var body ProjectInput
	if !decodeOrFail(w, r, &body) {
		return
	}
	respond(w, http.StatusOK)(s.service.UpdateProject(r.Context(), sessionFrom(r), chi.URLParam(r, "pid"), body))
}

// Decisions

func decisionListFromQuery(r *http.Request) (DecisionListInput, error) {
	q := r.URL.Query()
	page, err := queryInt(q.Get("page"), "page")
	if err != nil {
		return DecisionListInput{}, err
	}
	pageSize, err := queryInt(q.Get("pageSize"), "pageSize")
	if err != nil {
		return DecisionListInput{}, err
	}
	return DecisionListInput{
		ProjectID:  firstNonBlank(chi.URLParam(r, "pid"), q.Get("projectId")),
		Status:     q.Get("status"),
		Phase:      q.Get("phase"),
		Assignee:   q.Get("assignee"),
		CostImpact: q.Get("costImpact"),
		Search:     q.Get("search"),
		SortBy:     q.Get("sortBy"),
		SortOrder:  q.Get("sortOrder"),
		Page:       page,
		PageSize:   pageSize,
	}, nil
}

func (s *HTTPServer) handleListDecisions(w http.ResponseWriter, r *http.Request) {
	in, err := decisionListFromQuery(r)
	if err != nil {
		writeMappedError(w, err)
		return
	}
	respond(w, http.StatusOK)(s.service.ListDecisions(r.Context(), sessionFrom(r), in, false))
}

func (s *HTTPServer) handleDecisionsAcrossProjects(w http.ResponseWriter, r *http.Request) {
	in, err := decisionListFromQuery(r)
	if err != nil {
		writeMappedError(w, err)
		return
	}
	respond(w, http.StatusOK)(s.service.ListDecisions(r.Context(), sessionFrom(r), in, true))
}

func (s *HTTPServer) handleCreateDecision(w http.ResponseWriter, r *http.Request) {
	var body DecisionInput
	if !decodeOrFail(w, r, &body) {
		return
	}
	respond(w, http.StatusCreated)(s.service.CreateDecision(r.Context(), sessionFrom(r), chi.URLParam(r, "pid"), body))
}

func (s *HTTPServer) handleGetDecision(w http.ResponseWriter, r *http.Request) {
	respond(w, http.StatusOK)(s.service.GetDecision(r.Context(), sessionFrom(r), chi.URLParam(r, "pid"), chi.URLParam(r, "did")))
}

func (s *HTTPServer) handleUpdateDecision(w http.ResponseWriter, r *http.Request) {
	var body DecisionInput
	if !decodeOrFail(w, r, &body) {
		return
	}
	respond(w, http.StatusOK)(s.service.UpdateDecision(r.Context(), sessionFrom(r), chi.URLParam(r, "pid"), chi.URLParam(r, "did"), body))
}

func (s *HTTPServer) handleDecisionDetail(w http.ResponseWriter, r *http.Request) {
	respond(w, http.StatusOK)(s.service.DecisionDetail(r.Context(), sessionFrom(r), chi.URLParam(r, "pid"), chi.URLParam(r, "did")))
}

func (s *HTTPServer) handlePublishDecision(w http.ResponseWriter, r *http.Request) {
	respond(w, http.StatusOK)(s.service.PublishDecision(r.Context(), sessionFrom(r), chi.URLParam(r, "pid"), chi.URLParam(r, "did")))
}

func (s *HTTPServer) handleApprove(w http.ResponseWriter, r *http.Request) {
	var body ApproveInput
	if !decodeOrFail(w, r, &body) {
		return
	}
	body.ProjectID = chi.URLParam(r, "pid")
	body.DecisionID = chi.URLParam(r, "did")
	respond(w, http.StatusOK)(s.service.Approve(r.Context(), sessionFrom(r), body))
}

func (s *HTTPServer) handleAddRelated(w http.ResponseWriter, r *http.Request) {
	var body RelatedInput
	if !decodeOrFail(w, r, &body) {
		return
	}
	respond(w, http.StatusCreated)(s.service.AddRelatedItem(r.Context(), sessionFrom(r), chi.URLParam(r, "pid"), chi.URLParam(r, "did"), body))
}

func (s *HTTPServer) handleDownload(w http.ResponseWriter, r *http.Request) {
	in := DownloadInput{Format: r.URL.Query().Get("format")}
	if r.Method == http.MethodPost {
		if !decodeOrFail(w, r, &in) {
			return
		}
	}
	in.ProjectID = chi.URLParam(r, "pid")
	in.DecisionID = chi.URLParam(r, "did")
	in.VersionID = chi.URLParam(r, "vid")
	respond(w, http.StatusOK)(s.service.Download(r.Context(), sessionFrom(r), in))
}

func (s *HTTPServer) handleExportObject(w http.ResponseWriter, r *http.Request) {
	obj, err := s.service.ExportObject(chi.URLParam(r, "token"))
	if err != nil {
		writeMappedError(w, err)
		return
	}
	w.Header().Set("Content-Type", obj.ContentType)
	w.Header().Set("Content-Disposition", mime.FormatMediaType("attachment", map[string]string{"filename": obj.Filename}))
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(obj.Data)
}

// Templates

func (s *HTTPServer) handleListTemplates(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	page, err := queryInt(q.Get("page"), "page")
	if err != nil {
		writeMappedError(w, err)
		return
	}
	pageSize, err := queryInt(q.Get("pageSize"), "pageSize")
	if err != nil {
		writeMappedError(w, err)
		return
	}
	respond(w, http.StatusOK)(s.service.ListTemplates(r.Context(), sessionFrom(r), TemplateListInput{
		Search:    q.Get("search"),
		Type:      q.Get("type"),
		Status:    q.Get("status"),
		SortBy:    q.Get("sortBy"),
		SortOrder: q.Get("sortOrder"),
		Page:      page,
		PageSize:  pageSize,
	}))
}

func (s *HTTPServer) handleCreateTemplate(w http.ResponseWriter, r *http.Request) {
	var body TemplateInput
	if !decodeOrFail(w, r, &body) {
		return
	}
	respond(w, http.StatusCreated)(s.service.CreateTemplate(r.Context(), sessionFrom(r), body))
}

func (s *HTTPServer) handleGetTemplate(w http.ResponseWriter, r *http.Request) {
	respond(w, http.StatusOK)(s.service.GetTemplate(r.Context(), sessionFrom(r), chi.URLParam(r, "id")))
}

func (s *HTTPServer) handleUpdateTemplate(w http.ResponseWriter, r *http.Request) {
	var body TemplateInput
	if !decodeOrFail(w, r, &body) {
		return
	}
	respond(w, http.StatusOK)(s.service.UpdateTemplate(r.Context(), sessionFrom(r), chi.URLParam(r, "id"), body))
}

func (s *HTTPServer) handleDeleteTemplate(w http.ResponseWriter, r *http.Request) {
	respond(w, http.StatusOK)(s.service.DeleteTemplate(r.Context(), sessionFrom(r), chi.URLParam(r, "id")))
}

func (s *HTTPServer) handleTemplateVersions(w http.ResponseWriter, r *http.Request) {
	respond(w, http.StatusOK)(s.service.ListTemplateVersions(r.Context(), sessionFrom(r), chi.URLParam(r, "id")))
}

func (s *HTTPServer) handleTemplateDiff(w http.ResponseWriter, r *http.Request) {
	from, errFrom := strconv.Atoi(chi.URLParam(r, "from"))
	to, errTo := strconv.Atoi(chi.URLParam(r, "to"))
	if errFrom != nil || errTo != nil {
		writeError(w, http.StatusBadRequest, "VALIDATION_ERROR", "versions must be positive integers", nil)
		return
	}
	respond(w, http.StatusOK)(s.service.DiffTemplateVersions(r.Context(), sessionFrom(r), chi.URLParam(r, "id"), from, to))
}

func (s *HTTPServer) handleTemplateHistory(w http.ResponseWriter, r *http.Request) {
	limit, err := queryInt(r.URL.Query().Get("limit"), "limit")
	if err != nil {
		writeMappedError(w, err)
		return
	}
	respond(w, http.StatusOK)(s.service.TemplateHistory(r.Context(), sessionFrom(r), chi.URLParam(r, "id"), limit))
}

func (s *HTTPServer) handleApplyTemplate(w http.ResponseWriter, r *http.Request) {
	var body ApplyInput
	if !decodeOrFail(w, r, &body) {
		return
	}
	respond(w, http.StatusCreated)(s.service.ApplyTemplate(r.Context(), sessionFrom(r), body))
}

// Timeline

func (s *HTTPServer) handleTimeline(w http.ResponseWriter, r *http.Request) {
	respond(w, http.StatusOK)(s.service.GetTimeline(r.Context(), sessionFrom(r), chi.URLParam(r, "pid")))
}

func (s *HTTPServer) handleUpdatePhase(w http.ResponseWriter, r *http.Request) {
	var body PhaseInput
	if !decodeOrFail(w, r, &body) {
		return
	}
	body.PhaseID = chi.URLParam(r, "phaseId")
	respond(w, http.StatusOK)(s.service.UpdatePhase(r.Context(), sessionFrom(r), chi.URLParam(r, "pid"), body))
}

func (s *HTTPServer) handleListMilestones(w http.ResponseWriter, r *http.Request) {
	respond(w, http.StatusOK)(s.service.ListMilestones(r.Context(), sessionFrom(r), chi.URLParam(r, "pid"), r.URL.Query().Get("filter")))
}

func (s *HTTPServer) handleCreateMilestone(w http.ResponseWriter, r *http.Request) {
	var body MilestoneInput
	if !decodeOrFail(w, r, &body) {
		return
	}
	respond(w, http.StatusCreated)(s.service.CreateMilestone(r.Context(), sessionFrom(r), chi.URLParam(r, "pid"), body))
}

func (s *HTTPServer) handleUpdateMilestone(w http.ResponseWriter, r *http.Request) {
	var body MilestoneInput
	if !decodeOrFail(w, r, &body) {
		return
	}
	body.MilestoneID = chi.URLParam(r, "mid")
	respond(w, http.StatusOK)(s.service.UpdateMilestone(r.Context(), sessionFrom(r), chi.URLParam(r, "pid"), body))
}

func (s *HTTPServer) handleDeleteMilestone(w http.ResponseWriter, r *http.Request) {
	respond(w, http.StatusOK)(s.service.DeleteMilestone(r.Context(), sessionFrom(r), chi.URLParam(r, "pid"), chi.URLParam(r, "mid")))
}

func (s *HTTPServer) handleReschedule(w http.ResponseWriter, r *http.Request) {
	var body struct {
		DueDate string `json:"dueDate"`
	}
	if !decodeOrFail(w, r, &body) {
		return
	}
	respond(w, http.StatusOK)(s.service.Reschedule(r.Context(), sessionFrom(r), chi.URLParam(r, "pid"), chi.URLParam(r, "mid"), body.DueDate))
}

func (s *HTTPServer) handleAddCheckpoint(w http.ResponseWriter, r *http.Request) {
	var body CheckpointInput
	if !decodeOrFail(w, r, &body) {
		return
	}
	respond(w, http.StatusOK)(s.service.AddCheckpoint(r.Context(), sessionFrom(r), chi.URLParam(r, "pid"), body))
}

func (s *HTTPServer) handleRemoveCheckpoint(w http.ResponseWriter, r *http.Request) {
	respond(w, http.StatusOK)(s.service.RemoveCheckpoint(r.Context(), sessionFrom(r), chi.URLParam(r, "pid"), chi.URLParam(r, "did")))
}

// Plumbing

type sessionKey struct{}

func sessionFrom(r *http.Request) Session {
	session, _ := r.Context().Value(sessionKey{}).(Session)
	return session
}

func (s *HTTPServer) authenticated(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		session, ok := s.requireSession(w, r)
		if !ok {
			return
		}
		next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), sessionKey{}, session)))
	})
}

func (s *HTTPServer) requireSession(w http.ResponseWriter, r *http.Request) (Session, bool) {
	token := bearerToken(r)
	if token == "" {
		writeError(w, errUnauthorized.Status, errUnauthorized.Code, errUnauthorized.Message, nil)
		return Session{}, false
	}
	session, err := s.service.SessionFromToken(r.Context(), token)
	if err != nil {
		if !errors.Is(err, auth.ErrInvalidToken) && !errors.Is(err, auth.ErrExpiredToken) {
			s.service.logger.Warn("session lookup failed", zap.Error(err))
		}
		writeError(w, errUnauthorized.Status, errUnauthorized.Code, errUnauthorized.Message, nil)
		return Session{}, false
	}
	return session, true
}

func (s *HTTPServer) withMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requestID := r.Header.Get("X-Request-ID")
		if requestID == "" {
			requestID = randomRequestID()
		}
		r = r.WithContext(logging.WithRequestID(r.Context(), requestID))

		started := time.Now()
		writer := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		if isFunctionPath(r.URL.Path) {
			setFunctionCORSHeaders(writer.Header())
		} else {
			setCORSHeaders(writer.Header(), s.corsOrigin)
		}
		writer.Header().Set("X-Request-ID", requestID)

		if r.Method == http.MethodOptions && !isFunctionPath(r.URL.Path) {
			writer.WriteHeader(http.StatusNoContent)
		} else {
			next.ServeHTTP(writer, r)
		}

		route := r.URL.Path
		if rctx := chi.RouteContext(r.Context()); rctx != nil && rctx.RoutePattern() != "" {
			route = rctx.RoutePattern()
		}
		elapsed := time.Since(started)
		metrics.RecordHTTPRequest(r.Method, route, writer.status, elapsed)
		logging.FromContext(r.Context(), s.service.logger).Info("request",
			zap.String("method", r.Method),
			zap.String("route", route),
			zap.Int("status", writer.status),
			zap.Int64("duration_ms", elapsed.Milliseconds()),
		)
	})
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}

func randomRequestID() string {
	buf := make([]byte, 8)
	_, _ = rand.Read(buf)
	return hex.EncodeToString(buf)
}

func setCORSHeaders(header http.Header, corsOrigin string) {
	header.Set("Access-Control-Allow-Origin", corsOrigin)
	header.Set("Access-Control-Allow-Headers", "Content-Type, Authorization, X-Request-ID")
	header.Set("Access-Control-Allow-Methods", "GET,POST,PUT,PATCH,DELETE,OPTIONS")
	header.Set("Cache-Control", "no-store")
	header.Set("Content-Type", "application/json")
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, status int, code, message string, details any) {
	response := map[string]any{
		"code":    code,
		"error":   message,
		"message": message,
	}
	if details != nil {
		response["details"] = details
	}
	writeJSON(w, status, response)
}

func writeMappedError(w http.ResponseWriter, err error) {
	status, code, message, details := mapError(err)
	writeError(w, status, code, message, details)
}

// respond adapts a service call result into a JSON response.
func respond(w http.ResponseWriter, status int) func(any, error) {
	return func(payload any, err error) {
		if err != nil {
			writeMappedError(w, err)
			return
		}
		writeJSON(w, status, payload)
	}
}

func decodeBody(r *http.Request, target any) error {
	if r.Body == nil {
		return nil
	}
	defer r.Body.Close()
	decoder := json.NewDecoder(r.Body)
	if err := decoder.Decode(target); err != nil {
		if errors.Is(err, http.ErrBodyReadAfterClose) || errors.Is(err, io.EOF) {
			return nil
		}
		return fmt.Errorf("invalid JSON body")
	}
	return nil
}

func decodeOrFail(w http.ResponseWriter, r *http.Request, target any) bool {
	if err := decodeBody(r, target); err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
		return false
	}
	return true
}

func queryInt(value, name string) (int, error) {
	value = strings.TrimSpace(value)
	if value == "" {
		return 0, nil
	}
	n, err := strconv.Atoi(value)
	if err != nil {
		return 0, validationError(name + " must be an integer")
	}
	return n, nil
}

func bearerToken(r *http.Request) string {
	header := strings.TrimSpace(r.Header.Get("Authorization"))
	if !strings.HasPrefix(header, "Bearer ") {
		return ""
	}
	return strings.TrimSpace(strings.TrimPrefix(header, "Bearer "))
}

// clientIP is the peer address unless the peer is a trusted proxy. Behind
// trusted proxies X-Forwarded-For is walked from the right and the first hop
// that is not itself a trusted proxy wins.
func clientIP(r *http.Request, proxies []netip.Prefix) string {
	peer, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		peer = r.RemoteAddr
	}
	if !isTrustedProxy(peer, proxies) {
		return peer
	}
	hops := strings.Split(r.Header.Get("X-Forwarded-For"), ",")
	for i := len(hops) - 1; i >= 0; i-- {
		hop := strings.TrimSpace(hops[i])
		if hop != "" && !isTrustedProxy(hop, proxies) {
			return hop
		}
	}
	return peer
}

func isTrustedProxy(host string, proxies []netip.Prefix) bool {
	addr, err := netip.ParseAddr(host)
	if err != nil {
		return false
	}
	addr = addr.Unmap()
	for _, p := range proxies {
		if p.Contains(addr) {
			return true
		}
	}
	return false
}
