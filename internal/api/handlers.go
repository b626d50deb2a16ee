package api

import (
	"net/http"
	"strings"
	"time"

	"github.com/labstack/echo/v4"

	"github.com/keshon/behavior-sim/internal/behavior"
	"github.com/keshon/behavior-sim/internal/engine"
	"github.com/keshon/behavior-sim/internal/safety"
)

type HealthResponse struct {
	Status  string `json:"status"`
	Version string `json:"version"`
}

// MessageRequest is one incoming message for an agent.
type MessageRequest struct {
	ID         string             `json:"id,omitempty"`
	Role       behavior.Role      `json:"role,omitempty"`
	Content    string             `json:"content"`
	At         time.Time          `json:"at,omitempty"`
	History    []behavior.Message `json:"history,omitempty"`
	Emotions   behavior.Emotions  `json:"emotions,omitempty"`
	Explicit   bool               `json:"explicit"`
	Age        string             `json:"age,omitempty"`
	Modulation float64            `json:"modulation,omitempty"`
	Candidate  string             `json:"candidate,omitempty"`
}

func (r MessageRequest) input(agentID string) engine.Input {
	return engine.Input{
		AgentID:    agentID,
		Message:    behavior.Message{ID: r.ID, Role: r.Role, Content: r.Content, At: r.At},
		History:    r.History,
		Emotions:   r.Emotions,
		Explicit:   r.Explicit,
		Age:        safety.ParseAge(r.Age),
		Modulation: r.Modulation,
		Candidate:  r.Candidate,
	}
}

type BatchItem struct {
	AgentID string `json:"agent_id"`
	MessageRequest
}

type BatchResponseItem struct {
	Decision *engine.Decision `json:"decision,omitempty"`
	Error    string           `json:"error,omitempty"`
}

type StateResponse struct {
	State    behavior.AgentState `json:"state"`
	Consents []string            `json:"consents"`
}

type AdvanceRequest struct {
	Consent  bool   `json:"consent"`
	Explicit bool   `json:"explicit"`
	Age      string `json:"age,omitempty"`
}

type DetectRequest struct {
	Message    behavior.Message    `json:"message"`
	History    []behavior.Message  `json:"history,omitempty"`
	Categories []behavior.Category `json:"categories,omitempty"` // empty means all
}

type ModerateRequest struct {
	Text     string            `json:"text"`
	Category behavior.Category `json:"category"`
	Phase    int               `json:"phase"`
	Explicit bool              `json:"explicit"`
}

type AccessRequest struct {
	AgentID  string            `json:"agent_id"`
	Category behavior.Category `json:"category"`
	Phase    int               `json:"phase"`
	Explicit bool              `json:"explicit"`
	Age      string            `json:"age,omitempty"`
}

func bind(c echo.Context, dst any) error {
	if err := c.Bind(dst); err != nil {
		return badRequest("invalid request body")
	}
	return nil
}

func category(c echo.Context) behavior.Category {
	return behavior.Category(strings.ToUpper(c.Param("category")))
}

func (s *Server) handleHealth(c echo.Context) error {
	return c.JSON(http.StatusOK, HealthResponse{Status: "ok", Version: s.opts.Version})
}

func (s *Server) handleMessage(c echo.Context) error {
	var req MessageRequest
	if err := bind(c, &req); err != nil {
		return err
	}
	if strings.TrimSpace(req.Content) == "" {
		return badRequest("content is required")
	}
	d, err := s.engine.Process(c.Request().Context(), req.input(c.Param("agent")))
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, d)
}

func (s *Server) handleBatch(c echo.Context) error {
	var items []BatchItem
	if err := bind(c, &items); err != nil {
		return err
	}
	inputs := make([]engine.Input, len(items))
	for i, it := range items {
		inputs[i] = it.input(it.AgentID)
	}
	results := s.engine.ProcessBatch(c.Request().Context(), inputs)
	out := make([]BatchResponseItem, len(results))
	for i, r := range results {
		if r.Err != nil {
			out[i].Error = r.Err.Error()
			continue
		}
		d := r.Decision
		out[i].Decision = &d
	}
	return c.JSON(http.StatusOK, out)
}

func (s *Server) handleState(c echo.Context) error {
	ctx := c.Request().Context()
	agentID := c.Param("agent")
	st, err := s.engine.State(ctx, agentID)
	if err != nil {
		return err
	}
	keys, err := s.engine.Consents(ctx, agentID)
	if err != nil {
		return err
	}
	if keys == nil {
		keys = []string{}
	}
	return c.JSON(http.StatusOK, StateResponse{State: st, Consents: keys})
}

func (s *Server) handleEnable(c echo.Context) error {
	var opts behavior.ProfileOptions
	if err := bind(c, &opts); err != nil {
		return err
	}
	p, err := s.engine.EnableBehavior(c.Request().Context(), c.Param("agent"), category(c), opts)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, p)
}

func (s *Server) handleDisable(c echo.Context) error {
	if err := s.engine.DisableBehavior(c.Request().Context(), c.Param("agent"), category(c)); err != nil {
		return err
	}
	return c.NoContent(http.StatusNoContent)
}

func (s *Server) handleReset(c echo.Context) error {
	p, err := s.engine.ResetPhase(c.Request().Context(), c.Param("agent"), category(c))
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, p)
}

func (s *Server) handleEvaluate(c echo.Context) error {
	res, err := s.engine.EvaluatePhase(c.Request().Context(), c.Param("agent"), category(c))
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, res)
}

func (s *Server) handleAdvance(c echo.Context) error {
	var req AdvanceRequest
	if err := bind(c, &req); err != nil {
		return err
	}
	res, err := s.engine.AdvancePhase(c.Request().Context(), engine.AdvanceRequest{
		AgentID:  c.Param("agent"),
		Category: category(c),
		Consent:  req.Consent,
		Explicit: req.Explicit,
		Age:      safety.ParseAge(req.Age),
	})
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, res)
}

func (s *Server) handleConsents(c echo.Context) error {
	keys, err := s.engine.Consents(c.Request().Context(), c.Param("agent"))
	if err != nil {
		return err
	}
	if keys == nil {
		keys = []string{}
	}
	return c.JSON(http.StatusOK, keys)
}

func (s *Server) handleGrant(c echo.Context) error {
	if err := s.engine.GrantConsent(c.Request().Context(), c.Param("agent"), c.Param("key")); err != nil {
		return err
	}
	return c.NoContent(http.StatusNoContent)
}

func (s *Server) handleRevoke(c echo.Context) error {
	if err := s.engine.RevokeConsent(c.Request().Context(), c.Param("agent"), c.Param("key")); err != nil {
		return err
	}
	return c.NoContent(http.StatusNoContent)
}

func (s *Server) handleRevokeAll(c echo.Context) error {
	if err := s.engine.RevokeAllConsent(c.Request().Context(), c.Param("agent")); err != nil {
		return err
	}
	return c.NoContent(http.StatusNoContent)
}

func (s *Server) handleDetect(c echo.Context) error {
	var req DetectRequest
	if err := bind(c, &req); err != nil {
		return err
	}
	cats := req.Categories
	if len(cats) == 0 {
		cats = behavior.AllCategories
	}
	profiles := make([]behavior.Profile, 0, len(cats))
	for _, cat := range cats {
		if !cat.Valid() {
			return badRequest("unknown category %q", cat)
		}
		profiles = append(profiles, behavior.Profile{Category: cat, Enabled: true, CurrentPhase: 1})
	}
	triggers := s.engine.Detector().Detect(req.Message, req.History, profiles)
	if triggers == nil {
		triggers = []behavior.TriggerEvent{}
	}
	return c.JSON(http.StatusOK, triggers)
}

func (s *Server) handleModerate(c echo.Context) error {
	var req ModerateRequest
	if err := bind(c, &req); err != nil {
		return err
	}
	if !req.Category.Valid() {
		return badRequest("unknown category %q", req.Category)
	}
	return c.JSON(http.StatusOK, s.engine.Moderator().Moderate(req.Text, req.Category, req.Phase, req.Explicit))
}

func (s *Server) handleAccess(c echo.Context) error {
	var req AccessRequest
	if err := bind(c, &req); err != nil {
		return err
	}
	if !req.Category.Valid() {
		return badRequest("unknown category %q", req.Category)
	}
	acc, err := s.engine.Gate().VerifyAccess(c.Request().Context(), safety.AccessRequest{
		AgentID:  req.AgentID,
		Category: req.Category,
		Phase:    req.Phase,
		Explicit: req.Explicit,
		Age:      safety.ParseAge(req.Age),
	})
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, acc)
}
