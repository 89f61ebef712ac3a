package api

import (
	"io"
	"net/http"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/rrandiak/altoEditorAPI-sub000/internal/domain"
	"github.com/rrandiak/altoEditorAPI-sub000/internal/logger"
)

// UserHeader carries the name of the acting user.
const UserHeader = "X-User"

const (
	defaultListLimit = 50
	maxListLimit     = 500
	maxContentBytes  = 32 << 20
)

// Handler handles HTTP requests for the editor API
type Handler struct {
	service *Service
	log     logger.Logger
}

// NewHandler creates a new API handler
func NewHandler(service *Service, log logger.Logger) *Handler {
	if log == nil {
		log = logger.NewNop()
	}
	return &Handler{service: service, log: log}
}

func user(c *gin.Context) string {
	return strings.TrimSpace(c.GetHeader(UserHeader))
}

func requireUser(c *gin.Context) (string, bool) {
	u := user(c)
	if u == "" {
		respondError(c, domain.Validationf("missing %s header", UserHeader))
		return "", false
	}
	return u, true
}

func int64Param(c *gin.Context, name string) (int64, bool) {
	v, err := strconv.ParseInt(c.Param(name), 10, 64)
	if err != nil || v <= 0 {
		respondError(c, domain.Validationf("invalid %s %q", name, c.Param(name)))
		return 0, false
	}
	return v, true
}

// versionResponse is the JSON form of a version with its ALTO content.
type versionResponse struct {
	*domain.ContentVersion
	Content string `json:"content"`
}

// reqLog returns the request-scoped logger, falling back to the handler's.
func (h *Handler) reqLog(c *gin.Context) logger.Logger {
	return logger.FromContext(c.Request.Context(), h.log)
}

func toVersionResponse(v *domain.VersionWithContent) versionResponse {
	return versionResponse{ContentVersion: v.Version, Content: string(v.Content)}
}

// SubmitGenerate handles POST /api/v1/jobs/generate
func (h *Handler) SubmitGenerate(c *gin.Context) {
	var req GenerateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.reqLog(c).Warn("Invalid generate request", logger.Error(err))
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	j, err := h.service.SubmitGenerate(c.Request.Context(), req, user(c))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusAccepted, j)
}

// SubmitRetrieve handles POST /api/v1/jobs/retrieve
func (h *Handler) SubmitRetrieve(c *gin.Context) {
	var req RetrieveRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.reqLog(c).Warn("Invalid retrieve request", logger.Error(err))
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	j, err := h.service.SubmitRetrieveHierarchy(c.Request.Context(), req, user(c))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusAccepted, j)
}

// SubmitReindex handles POST /api/v1/jobs/reindex
func (h *Handler) SubmitReindex(c *gin.Context) {
	var req struct {
		Priority domain.Priority `json:"priority"`
	}
	// An empty body means default priority.
	if c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
	}

	j, err := h.service.SubmitReindex(c.Request.Context(), req.Priority, user(c))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusAccepted, j)
}

// ListJobs handles GET /api/v1/jobs
func (h *Handler) ListJobs(c *gin.Context) {
	filter := domain.JobFilter{Limit: defaultListLimit}

	for _, raw := range c.QueryArray("state") {
		for _, part := range strings.Split(raw, ",") {
			state, err := domain.ParseJobState(strings.ToUpper(strings.TrimSpace(part)))
			if err != nil {
				respondError(c, err)
				return
			}
			filter.States = append(filter.States, state)
		}
	}
	if raw := c.Query("kind"); raw != "" {
		kind, err := domain.ParseJobKind(strings.ToUpper(raw))
		if err != nil {
			respondError(c, err)
			return
		}
		filter.Kind = kind
	}
	if raw := c.Query("limit"); raw != "" {
		limit, err := strconv.Atoi(raw)
		if err != nil || limit <= 0 || limit > maxListLimit {
			respondError(c, domain.Validationf("limit must be between 1 and %d", maxListLimit))
			return
		}
		filter.Limit = limit
	}
	if raw := c.Query("offset"); raw != "" {
		offset, err := strconv.Atoi(raw)
		if err != nil || offset < 0 {
			respondError(c, domain.Validationf("invalid offset %q", raw))
			return
		}
		filter.Offset = offset
	}

	jobs, err := h.service.ListJobs(c.Request.Context(), filter)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"jobs":  jobs,
		"count": len(jobs),
	})
}

// GetJob handles GET /api/v1/jobs/:id
func (h *Handler) GetJob(c *gin.Context) {
	id, ok := int64Param(c, "id")
	if !ok {
		return
	}

	j, err := h.service.GetJob(c.Request.Context(), id)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, j)
}

// ListEngines handles GET /api/v1/engines
func (h *Handler) ListEngines(c *gin.Context) {
	engines := h.service.Engines()
	c.JSON(http.StatusOK, gin.H{
		"engines": engines,
		"count":   len(engines),
	})
}

// ListInstances handles GET /api/v1/instances
func (h *Handler) ListInstances(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"instances": h.service.Instances()})
}

// ListVersions handles GET /api/v1/objects/:pid/versions
func (h *Handler) ListVersions(c *gin.Context) {
	versions, err := h.service.Versions(c.Request.Context(), c.Param("pid"))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"versions": versions,
		"count":    len(versions),
	})
}

// GetVersion handles GET /api/v1/objects/:pid/versions/:version
func (h *Handler) GetVersion(c *gin.Context) {
	number, err := strconv.Atoi(c.Param("version"))
	if err != nil || number <= 0 {
		respondError(c, domain.Validationf("invalid version %q", c.Param("version")))
		return
	}

	v, err := h.service.Version(c.Request.Context(), c.Param("pid"), number)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, toVersionResponse(v))
}

// GetRelated handles GET /api/v1/objects/:pid/related
func (h *Handler) GetRelated(c *gin.Context) {
	u, ok := requireUser(c)
	if !ok {
		return
	}

	v, err := h.service.Related(c.Request.Context(), c.Param("pid"), u)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, toVersionResponse(v))
}

// PutContent handles PUT /api/v1/objects/:pid/content. The body is raw ALTO XML.
func (h *Handler) PutContent(c *gin.Context) {
	u, ok := requireUser(c)
	if !ok {
		return
	}

	body, err := io.ReadAll(io.LimitReader(c.Request.Body, maxContentBytes))
	if err != nil {
		respondError(c, domain.Validationf("read content: %v", err))
		return
	}
	if len(body) == 0 {
		respondError(c, domain.Validationf("empty content"))
		return
	}

	v, err := h.service.CreateOrUpdate(c.Request.Context(), c.Param("pid"), u, body)
	if err != nil {
		respondError(c, err)
		return
	}

	h.reqLog(c).Info("Content saved",
		logger.PID(v.PID),
		logger.Int("version", v.Version),
		logger.String("owner", v.Owner),
	)
	c.JSON(http.StatusOK, v)
}

// FetchInitial handles POST /api/v1/objects/:pid/fetch?instance=
func (h *Handler) FetchInitial(c *gin.Context) {
	v, err := h.service.FetchInitial(c.Request.Context(), c.Param("pid"), c.Query("instance"))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, toVersionResponse(v))
}

// GetOCR handles GET /api/v1/versions/:id/ocr
func (h *Handler) GetOCR(c *gin.Context) {
	id, ok := int64Param(c, "id")
	if !ok {
		return
	}

	text, err := h.service.OCR(c.Request.Context(), id)
	if err != nil {
		respondError(c, err)
		return
	}
	c.Data(http.StatusOK, "text/plain; charset=utf-8", text)
}

// AcceptVersion handles POST /api/v1/versions/:id/accept. Pass publish=false
// to accept without uploading to the remote instances.
func (h *Handler) AcceptVersion(c *gin.Context) {
	id, ok := int64Param(c, "id")
	if !ok {
		return
	}
	publish := c.DefaultQuery("publish", "true") != "false"

	res, err := h.service.Accept(c.Request.Context(), id, publish)
	if err != nil {
		_ = c.Error(err)
		c.JSON(StatusFor(err), gin.H{"error": err.Error(), "uploads": res.Uploads})
		return
	}
	c.JSON(http.StatusOK, res)
}

// PublishVersion handles POST /api/v1/versions/:id/publish
func (h *Handler) PublishVersion(c *gin.Context) {
	id, ok := int64Param(c, "id")
	if !ok {
		return
	}
	var req struct {
		Instances []string `json:"instances"`
	}
	if c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
	}

	handles, err := h.service.Publish(c.Request.Context(), id, req.Instances)
	if err != nil {
		_ = c.Error(err)
		c.JSON(StatusFor(err), gin.H{"error": err.Error(), "uploads": handles})
		return
	}
	c.JSON(http.StatusOK, gin.H{"uploads": handles})
}

// RejectVersion handles POST /api/v1/versions/:id/reject
func (h *Handler) RejectVersion(c *gin.Context) {
	id, ok := int64Param(c, "id")
	if !ok {
		return
	}

	v, err := h.service.Reject(c.Request.Context(), id)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, v)
}

// ArchiveVersion handles POST /api/v1/versions/:id/archive
func (h *Handler) ArchiveVersion(c *gin.Context) {
	id, ok := int64Param(c, "id")
	if !ok {
		return
	}

	v, err := h.service.Archive(c.Request.Context(), id)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, v)
}
