package api

import (
	"sort"

	"AlgoArena/internal/domain/models"
	dservice "AlgoArena/internal/domain/service"
	"AlgoArena/internal/registry"
	"AlgoArena/internal/service/ratelimit"
	"AlgoArena/internal/usecase"
	xhttp "AlgoArena/pkg/http"
	xlogger "AlgoArena/pkg/logger"

	"github.com/labstack/echo/v4"
)

// AdminHandler exposes the operator surface: engine controls, resets,
// agent inspection, and the leaderboard. It never mutates agents
// directly; everything goes through the engine, supervisor, or
// regeneration manager.
type AdminHandler struct {
	logger *xlogger.Logger
	engine *usecase.TickEngine
	sup    *usecase.RiskSupervisor
	regen  *usecase.RegenerationManager
	boot   *usecase.Bootstrapper
	reg    *registry.Registry
	news   dservice.NewsSource
	limit  *ratelimit.Limiter
}

func NewAdminHandler(
	logger *xlogger.Logger,
	engine *usecase.TickEngine,
	sup *usecase.RiskSupervisor,
	regen *usecase.RegenerationManager,
	boot *usecase.Bootstrapper,
	reg *registry.Registry,
	news dservice.NewsSource,
	limit *ratelimit.Limiter,
) *AdminHandler {
	return &AdminHandler{logger: logger, engine: engine, sup: sup, regen: regen, boot: boot, reg: reg, news: news, limit: limit}
}

func (h *AdminHandler) RegisterRoutes(e *echo.Echo) {
	e.GET("/health", h.Health)

	g := e.Group("/api")
	g.GET("/status", h.Status)
	g.GET("/leaderboard", h.Leaderboard)
	g.GET("/agents", h.Agents)
	g.GET("/agents/:id", h.Agent)
	g.GET("/news", h.News)

	// Mutating controls sit behind a per-client rate limit.
	throttled := ratelimit.Middleware(h.limit, 5, 1)
	g.POST("/engine/pause", h.Pause, throttled)
	g.POST("/engine/resume", h.Resume, throttled)
	g.POST("/engine/reset", h.Reset, throttled)
	g.POST("/supervise", h.Supervise, throttled)
	g.POST("/agents/:id/evolve", h.Evolve, throttled)
}

func (h *AdminHandler) Health(c echo.Context) error {
	return xhttp.SuccessResponse(c, map[string]any{"status": "ok"})
}

// Status reports the engine loop state.
func (h *AdminHandler) Status(c echo.Context) error {
	return xhttp.SuccessResponse(c, map[string]any{
		"running": h.engine.Running(),
		"tick":    h.engine.Tick(),
		"agents":  h.reg.Len(),
	})
}

func (h *AdminHandler) Pause(c echo.Context) error {
	h.engine.Pause()
	h.logger.Info("engine paused via api")
	return xhttp.SuccessResponse(c, map[string]any{"running": false})
}

func (h *AdminHandler) Resume(c echo.Context) error {
	h.engine.Resume()
	h.logger.Info("engine resumed via api")
	return xhttp.SuccessResponse(c, map[string]any{"running": true})
}

func (h *AdminHandler) Reset(c echo.Context) error {
	req := &models.ResetRequest{}
	if verr := xhttp.ReadAndValidateRequest(c, req); verr != nil {
		return xhttp.BadRequestResponse(c, verr)
	}
	ctx := c.Request().Context()
	switch req.Mode {
	case models.ResetSoft:
		h.engine.SoftReset(ctx)
	case models.ResetHard:
		h.engine.HardReset(ctx)
		// Drop the persisted snapshot too, or a crash before the next
		// snapshot pass would restore the roster we just wiped.
		h.boot.Wipe(ctx)
	}
	h.logger.Info("reset via api", xlogger.String("mode", req.Mode))
	return xhttp.SuccessResponse(c, map[string]any{"mode": req.Mode})
}

// Supervise runs one risk pass immediately instead of waiting for the
// next scheduled sweep.
func (h *AdminHandler) Supervise(c echo.Context) error {
	escalated := h.sup.Supervise(c.Request().Context())
	return xhttp.SuccessResponse(c, map[string]any{"escalated": escalated})
}

func (h *AdminHandler) Leaderboard(c echo.Context) error {
	board := h.engine.Leaderboard()
	if limit := xhttp.ParseIntDefault(c.QueryParam("limit"), 0); limit > 0 && limit < len(board) {
		board = board[:limit]
	}
	return xhttp.SuccessResponse(c, board)
}

// agentSummary is the list-view projection of an agent record.
type agentSummary struct {
	ID          string  `json:"id"`
	Name        string  `json:"name"`
	Model       string  `json:"model"`
	State       string  `json:"state"`
	Equity      float64 `json:"equity"`
	ROI         float64 `json:"roi"`
	CashedOut   float64 `json:"cashed_out"`
	TradesCount int     `json:"trades_count"`
	FaultCount  int     `json:"fault_count"`
}

func (h *AdminHandler) Agents(c echo.Context) error {
	agents := h.reg.SnapshotAll()
	out := make([]agentSummary, 0, len(agents))
	for _, a := range agents {
		out = append(out, agentSummary{
			ID:          a.ID,
			Name:        a.Name,
			Model:       a.Model,
			State:       string(a.State),
			Equity:      a.Equity,
			ROI:         a.ROI,
			CashedOut:   a.CashedOut,
			TradesCount: a.TradesCount,
			FaultCount:  a.FaultCount,
		})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return xhttp.ListResponse(c, out, int64(len(out)))
}

func (h *AdminHandler) Agent(c echo.Context) error {
	a, ok := h.reg.Snapshot(c.Param("id"))
	if !ok {
		return xhttp.AppErrorResponse(c, xhttp.NotFoundErrorf("agent %s not found", c.Param("id")))
	}
	// ?since trims the trade history to recent entries.
	if since, ok := xhttp.ParseTime(c.QueryParam("since")); ok {
		cutoff := since.UnixMilli()
		trimmed := a.TradeHistory[:0]
		for _, tr := range a.TradeHistory {
			if tr.Timestamp >= cutoff {
				trimmed = append(trimmed, tr)
			}
		}
		a.TradeHistory = trimmed
	}
	return xhttp.SuccessResponse(c, a)
}

// Evolve forces an evaluate-and-regenerate cycle on one agent.
func (h *AdminHandler) Evolve(c echo.Context) error {
	id := c.Param("id")
	if _, ok := h.reg.Snapshot(id); !ok {
		return xhttp.AppErrorResponse(c, xhttp.NotFoundErrorf("agent %s not found", id))
	}
	refined, err := h.regen.ForceEvolve(c.Request().Context(), id)
	if err != nil {
		h.logger.Error("force evolve failed", xlogger.String("agent", id), xlogger.Error(err))
		return xhttp.AppErrorResponse(c, err)
	}
	return xhttp.SuccessResponse(c, map[string]any{"agent": id, "refined": refined})
}

func (h *AdminHandler) News(c echo.Context) error {
	items := h.news.Latest()
	return xhttp.ListResponse(c, items, int64(len(items)))
}
