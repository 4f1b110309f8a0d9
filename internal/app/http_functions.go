package app

import (
	"encoding/json"
	"io"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
)

const maxFunctionBody = 1 << 20

// functionCall is one invocation of /functions/v1/{name}. The body is kept raw
// so each action can decode its own input shape.
type functionCall struct {
	r       *http.Request
	action  string
	body    []byte
	session Session
}

func (c functionCall) decode(target any) error {
	if len(c.body) == 0 {
		return nil
	}
	if err := json.Unmarshal(c.body, target); err != nil {
		return validationError("invalid JSON body")
	}
	return nil
}

type functionHandler func(c functionCall) (any, error)

type function struct {
	public   bool
	allowGet bool
	handle   functionHandler
}

var errUnknownAction = validationError("Unknown action")

func (s *HTTPServer) functions() map[string]function {
	return map[string]function{
		"auth-login":         {public: true, handle: s.fnLogin},
		"auth-signup":        {public: true, handle: s.fnSignUp},
		"auth-session":       {allowGet: true, handle: s.fnSession},
		"auth-refresh":       {public: true, handle: s.fnRefresh},
		"auth-logout":        {public: true, handle: s.fnLogout},
		"auth-invite-verify": {public: true, allowGet: true, handle: s.fnInviteVerify},
		"dashboard":          {handle: s.fnDashboard},
		"decision-log":       {handle: s.fnDecisionLog},
		"templates-library":  {handle: s.fnTemplates},
		"timeline":           {handle: s.fnTimeline},
	}
}

func isFunctionPath(path string) bool {
	return strings.HasPrefix(path, "/functions/v1/")
}

func setFunctionCORSHeaders(header http.Header) {
	header.Set("Access-Control-Allow-Origin", "*")
	header.Set("Access-Control-Allow-Headers", "authorization, x-client-info, apikey, content-type")
	header.Set("Access-Control-Allow-Methods", "GET,POST,OPTIONS")
	header.Set("Content-Type", "application/json")
}

func (s *HTTPServer) mountFunctions(r chi.Router) {
	registry := s.functions()
	r.Options("/functions/v1/{name}", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/plain")
		w.WriteHeader(http.StatusOK)
		_, _ = io.WriteString(w, "ok")
	})
	invoke := func(w http.ResponseWriter, r *http.Request) {
		s.invokeFunction(w, r, registry)
	}
	r.Post("/functions/v1/{name}", invoke)
	r.Get("/functions/v1/{name}", invoke)
}

func writeFunctionError(w http.ResponseWriter, err error) {
	status, code, message, _ := mapError(err)
	writeJSON(w, status, map[string]any{"message": message, "code": code})
}

func (s *HTTPServer) invokeFunction(w http.ResponseWriter, r *http.Request, registry map[string]function) {
	name := chi.URLParam(r, "name")
	fn, ok := registry[name]
	if !ok {
		writeJSON(w, http.StatusNotFound, map[string]any{"message": "Function not found: " + name, "code": "NOT_FOUND"})
		return
	}
	if key := s.service.cfg.AnonKey; key != "" && r.Header.Get("apikey") != key {
		writeJSON(w, http.StatusUnauthorized, map[string]any{"message": "Invalid API key", "code": "UNAUTHORIZED"})
		return
	}
	if r.Method == http.MethodGet && !fn.allowGet {
		writeJSON(w, http.StatusMethodNotAllowed, map[string]any{"message": "Method not allowed", "code": "METHOD_NOT_ALLOWED"})
		return
	}

	call := functionCall{r: r}
	if r.Body != nil && r.Method == http.MethodPost {
		body, err := io.ReadAll(io.LimitReader(r.Body, maxFunctionBody))
		if err != nil {
			writeFunctionError(w, validationError("invalid JSON body"))
			return
		}
		call.body = body
		var envelope struct {
			Action string `json:"action"`
		}
		if err := call.decode(&envelope); err != nil {
			writeFunctionError(w, err)
			return
		}
		call.action = strings.TrimSpace(envelope.Action)
	}

	if !fn.public {
		token := bearerToken(r)
		session, err := s.service.SessionFromToken(r.Context(), token)
		if token == "" || err != nil {
			writeFunctionError(w, errUnauthorized)
			return
		}
		call.session = session
	}

	payload, err := fn.handle(call)
	if err != nil {
		writeFunctionError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, payload)
}

// Auth functions

func (s *HTTPServer) fnLogin(c functionCall) (any, error) {
	var in LoginInput
	if err := c.decode(&in); err != nil {
		return nil, err
	}
	return s.service.Login(c.r.Context(), in, clientIP(c.r, s.proxies))
}

func (s *HTTPServer) fnSignUp(c functionCall) (any, error) {
	if c.action == "complete" {
		var in struct {
			Token    string `json:"token"`
			Password string `json:"password"`
		}
		if err := c.decode(&in); err != nil {
			return nil, err
		}
		return s.service.CompleteFirmSignup(c.r.Context(), in.Token, in.Password)
	}
	var in SignUpInput
	if err := c.decode(&in); err != nil {
		return nil, err
	}
	return s.service.SignUp(c.r.Context(), in)
}

func (s *HTTPServer) fnSession(c functionCall) (any, error) {
	return s.service.SessionInfo(c.session), nil
}

func (s *HTTPServer) fnRefresh(c functionCall) (any, error) {
	var in struct {
		RefreshToken string `json:"refresh_token"`
	}
	if err := c.decode(&in); err != nil {
		return nil, err
	}
	token := in.RefreshToken
	if token == "" && bearerToken(c.r) != s.service.cfg.AnonKey {
		token = bearerToken(c.r)
	}
	session, err := s.service.Refresh(c.r.Context(), token)
	if err != nil {
		return nil, err
	}
	return map[string]any{"session": sessionPayload(session, true)}, nil
}

func (s *HTTPServer) fnLogout(c functionCall) (any, error) {
	session := Session{}
	if token := bearerToken(c.r); token != "" {
		if parsed, err := s.service.SessionFromToken(c.r.Context(), token); err == nil {
			session = parsed
		}
	}
	var in struct {
		RefreshToken string `json:"refresh_token"`
	}
	_ = c.decode(&in)
	s.service.Logout(c.r.Context(), session, in.RefreshToken)
	return map[string]any{"success": true}, nil
}

func (s *HTTPServer) fnInviteVerify(c functionCall) (any, error) {
	var in struct {
		Token string `json:"token"`
	}
	if err := c.decode(&in); err != nil {
		return nil, err
	}
	return s.service.VerifyInvite(c.r.Context(), firstNonBlank(in.Token, c.r.URL.Query().Get("token")))
}

// Feature functions

func (s *HTTPServer) fnDashboard(c functionCall) (any, error) {
	switch c.action {
	case "", "getOverview":
		return s.service.Overview(c.r.Context(), c.session)
	}
	return nil, errUnknownAction
}

type decisionCall struct {
	ProjectID  string `json:"projectId"`
	DecisionID string `json:"decisionId"`
}

func (s *HTTPServer) fnDecisionLog(c functionCall) (any, error) {
	ctx := c.r.Context()
	var ids decisionCall
	if err := c.decode(&ids); err != nil {
		return nil, err
	}
	switch c.action {
	case "list":
		var in DecisionListInput
		if err := c.decode(&in); err != nil {
			return nil, err
		}
		return s.service.ListDecisions(ctx, c.session, in, false)
	case "get":
		return s.service.GetDecision(ctx, c.session, ids.ProjectID, ids.DecisionID)
	case "detail":
		return s.service.DecisionDetail(ctx, c.session, ids.ProjectID, ids.DecisionID)
	case "approve":
		var in ApproveInput
		if err := c.decode(&in); err != nil {
			return nil, err
		}
		// "action" is the envelope verb here; the response verb must come
		// from approvalAction.
		in.Action = ""
		return s.service.Approve(ctx, c.session, in)
	case "download":
		var in DownloadInput
		if err := c.decode(&in); err != nil {
			return nil, err
		}
		return s.service.Download(ctx, c.session, in)
	case "create":
		var in DecisionInput
		if err := c.decode(&in); err != nil {
			return nil, err
		}
		return s.service.CreateDecision(ctx, c.session, ids.ProjectID, in)
	case "update":
		var in DecisionInput
		if err := c.decode(&in); err != nil {
			return nil, err
		}
		return s.service.UpdateDecision(ctx, c.session, ids.ProjectID, ids.DecisionID, in)
	case "publish":
		return s.service.PublishDecision(ctx, c.session, ids.ProjectID, ids.DecisionID)
	case "addRelated":
		var in RelatedInput
		if err := c.decode(&in); err != nil {
			return nil, err
		}
		return s.service.AddRelatedItem(ctx, c.session, ids.ProjectID, ids.DecisionID, in)
	}
	return nil, errUnknownAction
}

func (s *HTTPServer) fnTemplates(c functionCall) (any, error) {
	ctx := c.r.Context()
	var ids struct {
		TemplateID string `json:"templateId"`
		From       int    `json:"from"`
		To         int    `json:"to"`
		Limit      int    `json:"limit"`
	}
	if err := c.decode(&ids); err != nil {
		return nil, err
	}
	switch c.action {
	case "list":
		var in TemplateListInput
		if err := c.decode(&in); err != nil {
			return nil, err
		}
		return s.service.ListTemplates(ctx, c.session, in)
	case "get":
		return s.service.GetTemplate(ctx, c.session, ids.TemplateID)
	case "create":
		var in TemplateInput
		if err := c.decode(&in); err != nil {
			return nil, err
		}
		return s.service.CreateTemplate(ctx, c.session, in)
	case "update":
		var in TemplateInput
		if err := c.decode(&in); err != nil {
			return nil, err
		}
		return s.service.UpdateTemplate(ctx, c.session, ids.TemplateID, in)
	case "delete":
		return s.service.DeleteTemplate(ctx, c.session, ids.TemplateID)
	case "listVersions":
		return s.service.ListTemplateVersions(ctx, c.session, ids.TemplateID)
	case "apply":
		var in ApplyInput
		if err := c.decode(&in); err != nil {
			return nil, err
		}
		return s.service.ApplyTemplate(ctx, c.session, in)
	case "diff":
		return s.service.DiffTemplateVersions(ctx, c.session, ids.TemplateID, ids.From, ids.To)
	case "history":
		return s.service.TemplateHistory(ctx, c.session, ids.TemplateID, ids.Limit)
	}
	return nil, errUnknownAction
}

func (s *HTTPServer) fnTimeline(c functionCall) (any, error) {
	ctx := c.r.Context()
	var ids struct {
		ProjectID   string `json:"projectId"`
		MilestoneID string `json:"milestoneId"`
		DecisionID  string `json:"decisionId"`
		DueDate     string `json:"dueDate"`
		Filter      string `json:"filter"`
	}
	if err := c.decode(&ids); err != nil {
		return nil, err
	}
	switch c.action {
	case "getTimeline":
		return s.service.GetTimeline(ctx, c.session, ids.ProjectID)
	case "updatePhase":
		var in PhaseInput
		if err := c.decode(&in); err != nil {
			return nil, err
		}
		return s.service.UpdatePhase(ctx, c.session, ids.ProjectID, in)
	case "listMilestones":
		return s.service.ListMilestones(ctx, c.session, ids.ProjectID, ids.Filter)
	case "createMilestone":
		var in MilestoneInput
		if err := c.decode(&in); err != nil {
			return nil, err
		}
		return s.service.CreateMilestone(ctx, c.session, ids.ProjectID, in)
	case "updateMilestone":
		var in MilestoneInput
		if err := c.decode(&in); err != nil {
			return nil, err
		}
		return s.service.UpdateMilestone(ctx, c.session, ids.ProjectID, in)
	case "deleteMilestone":
		return s.service.DeleteMilestone(ctx, c.session, ids.ProjectID, ids.MilestoneID)
	case "reschedule":
		return s.service.Reschedule(ctx, c.session, ids.ProjectID, ids.MilestoneID, ids.DueDate)
	case "addCheckpoint":
		var in CheckpointInput
		if err := c.decode(&in); err != nil {
			return nil, err
		}
		return s.service.AddCheckpoint(ctx, c.session, ids.ProjectID, in)
	case "removeCheckpoint":
		return s.service.RemoveCheckpoint(ctx, c.session, ids.ProjectID, ids.DecisionID)
	}
	return nil, errUnknownAction
}
