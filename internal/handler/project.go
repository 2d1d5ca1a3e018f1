package handler

import (
	"context"
	"net/http"
	"slices"
	"strings"

	"github.com/aman-churiwal/ai-gateway/internal/models"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

type ProjectStore interface {
	Create(ctx context.Context, project *models.Project) error
	FindByID(ctx context.Context, id uuid.UUID) (*models.Project, error)
	List(ctx context.Context) ([]models.Project, error)
}

type ProjectHandler struct {
	store     ProjectStore
	providers []string
}

// providers lists the names a project may pick as its default.
func NewProjectHandler(store ProjectStore, providers []string) *ProjectHandler {
	return &ProjectHandler{store: store, providers: providers}
}

func (h *ProjectHandler) Create(c *gin.Context) {
	var req struct {
		Name            string `json:"name" binding:"required"`
		OrganizationID  string `json:"organization_id"`
		DefaultProvider string `json:"default_provider"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err.Error())
		return
	}

	if req.DefaultProvider != "" && !slices.Contains(h.providers, req.DefaultProvider) {
		badRequest(c, "Unknown provider: "+req.DefaultProvider)
		return
	}

	// Without an organization the project belongs to the calling admin.
	orgID := req.OrganizationID
	if orgID == "" {
		orgID = c.GetString("user_id")
	}
	organizationID, err := uuid.Parse(orgID)
	if err != nil {
		badRequest(c, "Invalid organization_id")
		return
	}

	project := &models.Project{
		OrganizationID:  organizationID,
		Name:            strings.TrimSpace(req.Name),
		DefaultProvider: req.DefaultProvider,
	}
	if err := h.store.Create(c.Request.Context(), project); err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusCreated, project)
}

func (h *ProjectHandler) List(c *gin.Context) {
	projects, err := h.store.List(c.Request.Context())
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, projects)
}

func (h *ProjectHandler) Get(c *gin.Context) {
	id, ok := uuidParam(c, "project_id")
	if !ok {
		return
	}

	project, err := h.store.FindByID(c.Request.Context(), id)
	if err != nil {
		respondError(c, err)
		return
	}
	if project == nil {
		notFound(c, "Project not found")
		return
	}

	c.JSON(http.StatusOK, project)
}
