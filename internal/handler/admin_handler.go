package handler

import (
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/stemsi/codexam/internal/model"
	"github.com/stemsi/codexam/internal/repository"
	"github.com/stemsi/codexam/internal/response"
	"github.com/stemsi/codexam/internal/service"
	"github.com/stemsi/codexam/internal/validator"
)

// AdminHandler handles proctor endpoints: results, exports and access codes.
type AdminHandler struct {
	adminService *service.AdminService
	log          zerolog.Logger
}

// NewAdminHandler creates a new AdminHandler.
func NewAdminHandler(adminService *service.AdminService, log zerolog.Logger) *AdminHandler {
	return &AdminHandler{
		adminService: adminService,
		log:          log.With().Str("component", "admin_handler").Logger(),
	}
}

func resultFilter(c *gin.Context) repository.ResultFilter {
	return repository.ResultFilter{Class: c.Query("class"), Section: c.Query("section")}
}

// ListResults godoc
// GET /api/v1/admin/results?class=&section=&page=&per_page=
func (h *AdminHandler) ListResults(c *gin.Context) {
	page, _ := strconv.Atoi(c.DefaultQuery("page", "1"))
	perPage, _ := strconv.Atoi(c.DefaultQuery("per_page", "50"))
	if page < 1 {
		page = 1
	}
	if perPage < 1 || perPage > 200 {
		perPage = 50
	}

	results, total, err := h.adminService.ListResults(c.Request.Context(), resultFilter(c), page, perPage)
	if err != nil {
		h.log.Error().Err(err).Msg("List results failed")
		response.Fail(c, http.StatusInternalServerError, response.ErrInternal)
		return
	}
	if results == nil {
		results = []model.ExamResult{}
	}

	response.SuccessWithPagination(c, http.StatusOK, gin.H{"results": results}, response.NewPagination(page, perPage, total))
}

// ExportResults godoc
// GET /api/v1/admin/results/export?class=&section=
// Streams completed results as CSV.
func (h *AdminHandler) ExportResults(c *gin.Context) {
	f := resultFilter(c)
	results, err := h.adminService.AllResults(c.Request.Context(), f)
	if err != nil {
		h.log.Error().Err(err).Msg("Export results failed")
		response.Fail(c, http.StatusInternalServerError, response.ErrInternal)
		return
	}

	filename := service.ExportFilename(f.Class, f.Section, time.Now())
	c.Header("Content-Type", "text/csv; charset=utf-8")
	c.Header("Content-Disposition", `attachment; filename="`+filename+`"`)
	c.Status(http.StatusOK)
	if err := service.WriteResultsCSV(c.Writer, results); err != nil {
		h.log.Error().Err(err).Msg("Write CSV failed")
	}
}

// GetSession godoc
// GET /api/v1/admin/sessions/:id
// Returns the full session, including raw test output, and its violation log.
func (h *AdminHandler) GetSession(c *gin.Context) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		response.Fail(c, http.StatusBadRequest, response.ErrInvalidID)
		return
	}

	detail, err := h.adminService.GetSessionDetail(c.Request.Context(), id)
	if errors.Is(err, repository.ErrNotFound) {
		response.Fail(c, http.StatusNotFound, response.ErrUnknownSession)
		return
	}
	if err != nil {
		failSession(c, h.log, err)
		return
	}
	response.Success(c, http.StatusOK, detail)
}

// RotateAccessCode godoc
// PUT /api/v1/admin/class-sections/:class/:section/access-code
func (h *AdminHandler) RotateAccessCode(c *gin.Context) {
	var req model.RotateAccessCodeRequest
	if fields := validator.Bind(c, &req); fields != nil {
		response.FailWithFields(c, http.StatusBadRequest, response.ErrValidation, fields)
		return
	}

	class, section := c.Param("class"), c.Param("section")
	err := h.adminService.RotateAccessCode(c.Request.Context(), class, section, req.AccessCode)
	if errors.Is(err, repository.ErrNotFound) {
		response.Fail(c, http.StatusNotFound, response.ErrNotFound)
		return
	}
	if err != nil {
		h.log.Error().Err(err).Msg("Rotate access code failed")
		response.Fail(c, http.StatusInternalServerError, response.ErrInternal)
		return
	}

	h.log.Info().Str("class", class).Str("section", section).Msg("Access code rotated")
	response.Success(c, http.StatusOK, gin.H{"class": class, "section": section})
}
