package handlers

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/newrelic/go-agent/v3/integrations/nrgin"

	"example.com/backstage/services/shortage/internal/analytics"
	"example.com/backstage/services/shortage/internal/domain"
	"example.com/backstage/services/shortage/internal/models"
	"example.com/backstage/services/shortage/internal/services"
	"example.com/backstage/services/shortage/internal/telemetry"
	"example.com/backstage/services/shortage/internal/tracing"
)

// ShortageHandler handles shortage-case HTTP requests
type ShortageHandler struct {
	shortageService *services.ShortageService
	tracer          tracing.Tracer
	metrics         *telemetry.Collector
}

// NewShortageHandler creates a new shortage handler
func NewShortageHandler(shortageService *services.ShortageService, tracer tracing.Tracer, metrics *telemetry.Collector) *ShortageHandler {
	return &ShortageHandler{
		shortageService: shortageService,
		tracer:          tracer,
		metrics:         metrics,
	}
}

// StatusRequest moves a case to a workflow step
type StatusRequest struct {
	Status models.Status `json:"status" binding:"required"`
}

// ETARequest sets the estimated arrival date
type ETARequest struct {
	ETA string `json:"eta"`
}

// TeamRequest assigns the owning team
type TeamRequest struct {
	Team string `json:"team"`
}

// SourceRequest changes the shortage source
type SourceRequest struct {
	Source models.Source `json:"source"`
}

// TransportRequest changes the transport mode
type TransportRequest struct {
	Transport string `json:"transport"`
}

// NotesRequest replaces the case notes
type NotesRequest struct {
	Notes string `json:"notes"`
}

// RootCauseRequest sets the completion of a root-cause item
type RootCauseRequest struct {
	Completed *bool `json:"completed" binding:"required"`
}

// RegisterRoutes registers the handler's routes
func (h *ShortageHandler) RegisterRoutes(router gin.IRouter) {
	router.GET("/dashboard", h.HandleGetDashboard)
	router.GET("/options", h.HandleGetOptions)

	cases := router.Group("/cases")
	cases.GET("", h.HandleListCases)
	cases.POST("", h.HandleCreateCase)
	cases.GET("/:id", h.HandleGetCase)
	cases.PUT("/:id/status", h.HandleChangeStatus)
	cases.PUT("/:id/eta", h.HandleSetETA)
	cases.PUT("/:id/team", h.HandleAssignTeam)
	cases.PUT("/:id/source", h.HandleSetSource)
	cases.PUT("/:id/transport", h.HandleSetTransport)
	cases.PUT("/:id/notes", h.HandleSetNotes)
	cases.POST("/:id/root-causes/:reason/toggle", h.HandleToggleRootCause)
	cases.PUT("/:id/root-causes/:reason", h.HandleSetRootCause)
	cases.DELETE("/:id/root-causes/:reason", h.HandleDeleteRootCause)

	router.GET("/root-causes", h.HandleListRootCauses)

	router.GET("/kanban", h.HandleGetKanban)
	router.POST("/kanban/:partCode/shortage", h.HandleCreateFromKanban)

	router.GET("/materials", h.HandleSearchMaterials)
	router.GET("/materials/:partCode/image", h.HandleGetPartImage)
}

// HandleGetDashboard returns every derived view for the window query parameter
func (h *ShortageHandler) HandleGetDashboard(c *gin.Context) {
	window := c.Query("window")
	h.tracer.AddAttribute(nrgin.Transaction(c), "window", window)

	dashboard, err := h.shortageService.Dashboard(c.Request.Context(), window)
	if err != nil {
		writeError(c, h.metrics, err)
		return
	}
	c.JSON(http.StatusOK, dashboard)
}

// HandleGetOptions returns the selectable values for case fields
func (h *ShortageHandler) HandleGetOptions(c *gin.Context) {
	c.JSON(http.StatusOK, h.shortageService.Options())
}

// HandleListCases returns the filtered case table
func (h *ShortageHandler) HandleListCases(c *gin.Context) {
	var filter analytics.SummaryFilter
	if err := c.ShouldBindQuery(&filter); err != nil {
		badRequest(c, h.metrics, err)
		return
	}

	summary, err := h.shortageService.Summary(c.Request.Context(), filter)
	if err != nil {
		writeError(c, h.metrics, err)
		return
	}
	c.JSON(http.StatusOK, summary)
}

// HandleGetCase returns one case with its derived fields
func (h *ShortageHandler) HandleGetCase(c *gin.Context) {
	id := c.Param("id")
	h.tracer.AddAttribute(nrgin.Transaction(c), "case_id", id)

	sc, err := h.shortageService.GetCase(c.Request.Context(), id)
	if err != nil {
		writeError(c, h.metrics, err)
		return
	}
	c.JSON(http.StatusOK, sc)
}

// HandleCreateCase raises a new case
func (h *ShortageHandler) HandleCreateCase(c *gin.Context) {
	var cmd domain.CreateCaseCommand
	if err := c.ShouldBindJSON(&cmd); err != nil {
		badRequest(c, h.metrics, err)
		return
	}

	created, err := h.shortageService.CreateCase(c.Request.Context(), cmd)
	if err != nil {
		writeError(c, h.metrics, err)
		return
	}
	c.JSON(http.StatusCreated, created)
}

// HandleChangeStatus moves a case to the requested step
func (h *ShortageHandler) HandleChangeStatus(c *gin.Context) {
	var req StatusRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, h.metrics, err)
		return
	}
	h.respond(c, func(id string) (*models.ShortageCase, error) {
		return h.shortageService.ChangeStatus(c.Request.Context(), domain.ChangeStatusCommand{CaseID: id, Status: req.Status})
	})
}

// HandleSetETA records a new ETA
func (h *ShortageHandler) HandleSetETA(c *gin.Context) {
	var req ETARequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, h.metrics, err)
		return
	}
	h.respond(c, func(id string) (*models.ShortageCase, error) {
		return h.shortageService.SetETA(c.Request.Context(), domain.SetETACommand{CaseID: id, ETA: req.ETA})
	})
}

// HandleAssignTeam changes the owning team
func (h *ShortageHandler) HandleAssignTeam(c *gin.Context) {
	var req TeamRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, h.metrics, err)
		return
	}
	h.respond(c, func(id string) (*models.ShortageCase, error) {
		return h.shortageService.AssignTeam(c.Request.Context(), domain.AssignTeamCommand{CaseID: id, Team: req.Team})
	})
}

// HandleSetSource changes the shortage source
func (h *ShortageHandler) HandleSetSource(c *gin.Context) {
	var req SourceRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, h.metrics, err)
		return
	}
	h.respond(c, func(id string) (*models.ShortageCase, error) {
		return h.shortageService.SetSource(c.Request.Context(), domain.SetSourceCommand{CaseID: id, Source: req.Source})
	})
}

// HandleSetTransport changes the transport mode
func (h *ShortageHandler) HandleSetTransport(c *gin.Context) {
	var req TransportRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, h.metrics, err)
		return
	}
	h.respond(c, func(id string) (*models.ShortageCase, error) {
		return h.shortageService.SetTransport(c.Request.Context(), domain.SetTransportCommand{CaseID: id, Transport: req.Transport})
	})
}

// HandleSetNotes replaces the case notes
func (h *ShortageHandler) HandleSetNotes(c *gin.Context) {
	var req NotesRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, h.metrics, err)
		return
	}
	h.respond(c, func(id string) (*models.ShortageCase, error) {
		return h.shortageService.SetNotes(c.Request.Context(), domain.SetNotesCommand{CaseID: id, Notes: req.Notes})
	})
}

// HandleSetRootCause sets the completion of one root-cause item
func (h *ShortageHandler) HandleSetRootCause(c *gin.Context) {
	var req RootCauseRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, h.metrics, err)
		return
	}
	h.respond(c, func(id string) (*models.ShortageCase, error) {
		return h.shortageService.SetRootCause(c.Request.Context(), domain.SetRootCauseCommand{
			CaseID:    id,
			Reason:    c.Param("reason"),
			Completed: req.Completed,
		})
	})
}

// HandleToggleRootCause flips the completion of one root-cause item
func (h *ShortageHandler) HandleToggleRootCause(c *gin.Context) {
	h.respond(c, func(id string) (*models.ShortageCase, error) {
		return h.shortageService.ToggleRootCause(c.Request.Context(), domain.RootCauseCommand{CaseID: id, Reason: c.Param("reason")})
	})
}

// HandleDeleteRootCause removes the saved state of one root-cause item
func (h *ShortageHandler) HandleDeleteRootCause(c *gin.Context) {
	h.respond(c, func(id string) (*models.ShortageCase, error) {
		return h.shortageService.DeleteRootCause(c.Request.Context(), domain.RootCauseCommand{CaseID: id, Reason: c.Param("reason")})
	})
}

// HandleListRootCauses returns the root-cause table filtered by the search parameter
func (h *ShortageHandler) HandleListRootCauses(c *gin.Context) {
	view, err := h.shortageService.RootCauses(c.Request.Context(), c.Query("search"))
	if err != nil {
		writeError(c, h.metrics, err)
		return
	}
	c.JSON(http.StatusOK, view)
}

// HandleGetKanban returns the kanban board
func (h *ShortageHandler) HandleGetKanban(c *gin.Context) {
	var filter analytics.KanbanFilter
	if err := c.ShouldBindQuery(&filter); err != nil {
		badRequest(c, h.metrics, err)
		return
	}

	view, err := h.shortageService.Kanban(c.Request.Context(), filter)
	if err != nil {
		writeError(c, h.metrics, err)
		return
	}
	c.JSON(http.StatusOK, view)
}

// HandleCreateFromKanban raises a shortage for a kanban part
func (h *ShortageHandler) HandleCreateFromKanban(c *gin.Context) {
	partCode := c.Param("partCode")
	h.tracer.AddAttribute(nrgin.Transaction(c), "part_code", partCode)

	created, err := h.shortageService.CreateFromKanban(c.Request.Context(), partCode)
	if err != nil {
		writeError(c, h.metrics, err)
		return
	}
	c.JSON(http.StatusCreated, created)
}

// HandleSearchMaterials searches the part catalog
func (h *ShortageHandler) HandleSearchMaterials(c *gin.Context) {
	limit := 0
	if raw := c.Query("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 0 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "limit must be a non-negative integer"})
			return
		}
		limit = n
	}

	hits, err := h.shortageService.SearchMaterials(c.Request.Context(), c.Query("q"), limit)
	if err != nil {
		writeError(c, h.metrics, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"materials": hits})
}

// HandleGetPartImage returns the image URL of a part; url is empty when there is none
func (h *ShortageHandler) HandleGetPartImage(c *gin.Context) {
	partCode := c.Param("partCode")
	c.JSON(http.StatusOK, gin.H{
		"partCode": partCode,
		"url":      h.shortageService.PartImage(c.Request.Context(), partCode),
	})
}

// respond runs a case write for the :id parameter and renders the updated case
func (h *ShortageHandler) respond(c *gin.Context, write func(id string) (*models.ShortageCase, error)) {
	id := c.Param("id")
	h.tracer.AddAttribute(nrgin.Transaction(c), "case_id", id)

	updated, err := write(id)
	if err != nil {
		writeError(c, h.metrics, err)
		return
	}
	c.JSON(http.StatusOK, updated)
}
