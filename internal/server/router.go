package server

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/driftnote-app/driftnote/backend/internal/auth"
	"github.com/driftnote-app/driftnote/backend/internal/broadcast"
	"github.com/driftnote-app/driftnote/backend/internal/docs"
	"github.com/driftnote-app/driftnote/backend/internal/users"
	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

const userIDContextKey = "driftnote_user_id"

var (
	errMissingIdentityVerifier = errors.New("identity verifier dependency required")
	errMissingTokenManager     = errors.New("token manager dependency required")
	errMissingRepository       = errors.New("document repository dependency required")
	errMissingVersionStore     = errors.New("version store dependency required")
	errMissingBroadcaster      = errors.New("broadcaster dependency required")
	errInvalidAuthorization    = errors.New("authorization header missing or invalid")
)

// IdentityVerifier validates identity-provider tokens.
type IdentityVerifier interface {
	Verify(ctx context.Context, token string) (auth.IdentityClaims, error)
}

// BackendTokenManager issues and validates backend bearer tokens.
type BackendTokenManager interface {
	IssueBackendToken(ctx context.Context, claims auth.IdentityClaims) (string, int64, error)
	ValidateToken(token string) (string, error)
}

// PreviewRenderer converts raw markdown into sanitized HTML.
type PreviewRenderer interface {
	Render(rawText string) (string, error)
}

// Dependencies wires the HTTP layer to the rest of the service.
type Dependencies struct {
	IdentityVerifier IdentityVerifier
	TokenManager     BackendTokenManager
	Repository       *docs.Repository
	Versions         *docs.VersionStore
	Users            *users.Service
	Broadcaster      *broadcast.Broadcaster
	Renderer         PreviewRenderer
	Logger           *zap.Logger
	VersionPageSize  int
}

// NewHTTPHandler builds the gin handler exposing the document API.
func NewHTTPHandler(deps Dependencies) (http.Handler, error) {
	if deps.IdentityVerifier == nil {
		return nil, errMissingIdentityVerifier
	}
	if deps.TokenManager == nil {
		return nil, errMissingTokenManager
	}
	if deps.Repository == nil {
		return nil, errMissingRepository
	}
	if deps.Versions == nil {
		return nil, errMissingVersionStore
	}
	if deps.Broadcaster == nil {
		return nil, errMissingBroadcaster
	}

	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	pageSize := deps.VersionPageSize
	if pageSize <= 0 {
		pageSize = docs.DefaultVersionPageSize
	}

	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(cors.New(cors.Config{
		AllowOrigins: []string{"*"},
		AllowMethods: []string{http.MethodGet, http.MethodPost, http.MethodPatch, http.MethodDelete, http.MethodOptions},
		AllowHeaders: []string{"Authorization", "Content-Type"},
		MaxAge:       12 * time.Hour,
	}))

	handler := &httpHandler{
		verifier:    deps.IdentityVerifier,
		tokens:      deps.TokenManager,
		repository:  deps.Repository,
		versions:    deps.Versions,
		users:       deps.Users,
		broadcaster: deps.Broadcaster,
		renderer:    deps.Renderer,
		logger:      logger,
		pageSize:    pageSize,
	}

	router.POST("/auth/token", handler.handleTokenExchange)

	protected := router.Group("/")
	protected.Use(handler.authorizeRequest)
	protected.POST("/documents", handler.handleCreate)
	protected.GET("/documents", handler.handleList)
	protected.GET("/documents/trash", handler.handleListTrash)
	protected.GET("/documents/:id", handler.handleGet)
	protected.PATCH("/documents/:id", handler.handleUpdate)
	protected.DELETE("/documents/:id", handler.handleSoftDelete)
	protected.POST("/documents/:id/restore", handler.handleRestore)
	protected.DELETE("/documents/:id/purge", handler.handlePurge)
	protected.GET("/documents/:id/versions", handler.handleListVersions)
	protected.POST("/documents/:id/versions/:versionID/restore", handler.handleRestoreVersion)
	protected.GET("/documents/:id/preview", handler.handlePreview)
	protected.GET("/documents/:id/stream", handler.handleStream)

	return router, nil
}

type httpHandler struct {
	verifier    IdentityVerifier
	tokens      BackendTokenManager
	repository  *docs.Repository
	versions    *docs.VersionStore
	users       *users.Service
	broadcaster *broadcast.Broadcaster
	renderer    PreviewRenderer
	logger      *zap.Logger
	pageSize    int
}

type tokenRequestPayload struct {
	IdentityToken string `json:"identity_token"`
}

type tokenResponsePayload struct {
	AccessToken string `json:"access_token"`
	ExpiresIn   int64  `json:"expires_in"`
	TokenType   string `json:"token_type"`
}

func (h *httpHandler) handleTokenExchange(c *gin.Context) {
	var request tokenRequestPayload
	if err := c.ShouldBindJSON(&request); err != nil || strings.TrimSpace(request.IdentityToken) == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request"})
		return
	}

	claims, err := h.verifier.Verify(c.Request.Context(), request.IdentityToken)
	if err != nil {
		h.logger.Warn("identity token verification failed", zap.Error(err))
		c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
		return
	}

	if h.users != nil {
		if _, err := h.users.EnsureAccount(claims); err != nil {
			h.logger.Error("failed to ensure account", zap.Error(err))
			c.JSON(http.StatusInternalServerError, gin.H{"error": "account_failed"})
			return
		}
	}

	token, expiresIn, err := h.tokens.IssueBackendToken(c.Request.Context(), claims)
	if err != nil {
		h.logger.Error("failed to issue backend token", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "token_issue_failed"})
		return
	}

	c.JSON(http.StatusOK, tokenResponsePayload{
		AccessToken: token,
		ExpiresIn:   expiresIn,
		TokenType:   "Bearer",
	})
}

type documentPayload struct {
	DocumentID       string `json:"document_id"`
	Title            string `json:"title"`
	Body             string `json:"body"`
	CreatedAtSeconds int64  `json:"created_at_s"`
	UpdatedAtSeconds int64  `json:"updated_at_s"`
	DeletedAtSeconds int64  `json:"deleted_at_s,omitempty"`
}

func toDocumentPayload(document docs.Document) documentPayload {
	return documentPayload{
		DocumentID:       document.DocumentID,
		Title:            document.Title,
		Body:             document.Body,
		CreatedAtSeconds: document.CreatedAtSeconds,
		UpdatedAtSeconds: document.UpdatedAtSeconds,
		DeletedAtSeconds: document.DeletedAtSeconds,
	}
}

type contentRequestPayload struct {
	Title string `json:"title"`
	Body  string `json:"body"`
}

func (h *httpHandler) handleCreate(c *gin.Context) {
	requesterID, ok := h.requester(c)
	if !ok {
		return
	}
	var request contentRequestPayload
	if err := c.ShouldBindJSON(&request); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request"})
		return
	}

	document, err := h.repository.Create(c.Request.Context(), requesterID, request.Title, request.Body)
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, toDocumentPayload(document))
}

func (h *httpHandler) handleList(c *gin.Context) {
	requesterID, ok := h.requester(c)
	if !ok {
		return
	}
	documents, err := h.repository.ListOwned(c.Request.Context(), requesterID)
	if err != nil {
		h.respondError(c, err)
		return
	}
	payload := make([]documentPayload, 0, len(documents))
	for _, document := range documents {
		payload = append(payload, toDocumentPayload(document))
	}
	c.JSON(http.StatusOK, gin.H{"documents": payload})
}

func (h *httpHandler) handleListTrash(c *gin.Context) {
	requesterID, ok := h.requester(c)
	if !ok {
		return
	}
	offset, limit := h.pagination(c)
	documents, err := h.repository.ListDeleted(c.Request.Context(), requesterID, offset, limit)
	if err != nil {
		h.respondError(c, err)
		return
	}
	payload := make([]documentPayload, 0, len(documents))
	for _, document := range documents {
		payload = append(payload, toDocumentPayload(document))
	}
	c.JSON(http.StatusOK, gin.H{"documents": payload, "offset": offset, "limit": limit})
}

func (h *httpHandler) handleGet(c *gin.Context) {
	requesterID, documentID, ok := h.requestTarget(c)
	if !ok {
		return
	}
	includeDeleted := c.Query("include_deleted") == "true"
	document, err := h.repository.Get(c.Request.Context(), documentID, requesterID, includeDeleted)
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, toDocumentPayload(document))
}

func (h *httpHandler) handleUpdate(c *gin.Context) {
	requesterID, documentID, ok := h.requestTarget(c)
	if !ok {
		return
	}
	var request contentRequestPayload
	if err := c.ShouldBindJSON(&request); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request"})
		return
	}

	document, err := h.repository.Update(c.Request.Context(), documentID, requesterID, request.Title, request.Body)
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, toDocumentPayload(document))
}

func (h *httpHandler) handleSoftDelete(c *gin.Context) {
	requesterID, documentID, ok := h.requestTarget(c)
	if !ok {
		return
	}
	if err := h.repository.SoftDelete(c.Request.Context(), documentID, requesterID); err != nil {
		h.respondError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

func (h *httpHandler) handleRestore(c *gin.Context) {
	requesterID, documentID, ok := h.requestTarget(c)
	if !ok {
		return
	}
	document, err := h.repository.Restore(c.Request.Context(), documentID, requesterID)
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, toDocumentPayload(document))
}

func (h *httpHandler) handlePurge(c *gin.Context) {
	requesterID, documentID, ok := h.requestTarget(c)
	if !ok {
		return
	}
	if err := h.repository.HardDestroy(c.Request.Context(), documentID, requesterID); err != nil {
		h.respondError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

type versionPayload struct {
	SnapshotID       string `json:"snapshot_id"`
	Title            string `json:"title"`
	Body             string `json:"body"`
	CreatedAtSeconds int64  `json:"created_at_s"`
}

func (h *httpHandler) handleListVersions(c *gin.Context) {
	requesterID, documentID, ok := h.requestTarget(c)
	if !ok {
		return
	}
	// Version browsing stays available while the document sits in the trash.
	if _, err := h.repository.Get(c.Request.Context(), documentID, requesterID, true); err != nil {
		h.respondError(c, err)
		return
	}

	offset, limit := h.pagination(c)
	snapshots, err := h.versions.List(c.Request.Context(), documentID, offset, limit)
	if err != nil {
		h.respondError(c, err)
		return
	}
	total, err := h.versions.Count(c.Request.Context(), documentID)
	if err != nil {
		h.respondError(c, err)
		return
	}

	payload := make([]versionPayload, 0, len(snapshots))
	for _, snapshot := range snapshots {
		payload = append(payload, versionPayload{
			SnapshotID:       snapshot.SnapshotID,
			Title:            snapshot.Title,
			Body:             snapshot.Body,
			CreatedAtSeconds: snapshot.CreatedAtSeconds,
		})
	}
	c.JSON(http.StatusOK, gin.H{
		"versions": payload,
		"total":    total,
		"offset":   offset,
		"limit":    limit,
	})
}

func (h *httpHandler) handleRestoreVersion(c *gin.Context) {
	requesterID, documentID, ok := h.requestTarget(c)
	if !ok {
		return
	}
	snapshotID := strings.TrimSpace(c.Param("versionID"))
	if snapshotID == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request"})
		return
	}

	document, err := h.repository.RestoreFromVersion(c.Request.Context(), documentID, snapshotID, requesterID)
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, toDocumentPayload(document))
}

func (h *httpHandler) handlePreview(c *gin.Context) {
	requesterID, documentID, ok := h.requestTarget(c)
	if !ok {
		return
	}
	if h.renderer == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "not_found"})
		return
	}
	document, err := h.repository.Get(c.Request.Context(), documentID, requesterID, false)
	if err != nil {
		h.respondError(c, err)
		return
	}
	rendered, err := h.renderer.Render(document.Body)
	if err != nil {
		h.logger.Error("preview render failed", zap.Error(err), zap.String("document_id", document.DocumentID))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "render_failed"})
		return
	}
	c.Data(http.StatusOK, "text/html; charset=utf-8", []byte(rendered))
}

func (h *httpHandler) authorizeRequest(c *gin.Context) {
	token := ""
	header := c.GetHeader("Authorization")
	switch {
	case strings.HasPrefix(header, "Bearer "):
		token = strings.TrimSpace(strings.TrimPrefix(header, "Bearer "))
	default:
		// EventSource clients cannot set headers; the stream endpoint
		// accepts the token as a query parameter instead.
		token = strings.TrimSpace(c.Query("access_token"))
	}
	if token == "" {
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": errInvalidAuthorization.Error()})
		return
	}
	subject, err := h.tokens.ValidateToken(token)
	if err != nil {
		h.logger.Warn("token validation failed", zap.Error(err))
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
		return
	}
	c.Set(userIDContextKey, subject)
	c.Next()
}

func (h *httpHandler) requester(c *gin.Context) (docs.UserID, bool) {
	requesterID, err := docs.NewUserID(c.GetString(userIDContextKey))
	if err != nil {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
		return "", false
	}
	return requesterID, true
}

func (h *httpHandler) requestTarget(c *gin.Context) (docs.UserID, docs.DocumentID, bool) {
	requesterID, ok := h.requester(c)
	if !ok {
		return "", "", false
	}
	documentID, err := docs.NewDocumentID(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request"})
		return "", "", false
	}
	return requesterID, documentID, true
}

func (h *httpHandler) pagination(c *gin.Context) (int, int) {
	offset, err := strconv.Atoi(c.DefaultQuery("offset", "0"))
	if err != nil || offset < 0 {
		offset = 0
	}
	limit, err := strconv.Atoi(c.DefaultQuery("limit", strconv.Itoa(h.pageSize)))
	if err != nil || limit <= 0 {
		limit = h.pageSize
	}
	if limit > docs.MaxVersionPageSize {
		limit = docs.MaxVersionPageSize
	}
	return offset, limit
}

// respondError translates the repository error taxonomy into the HTTP
// conventions: 403 for ownership violations, 404 for missing resources,
// 409 with a readable reason for deleted-state conflicts, 500 otherwise.
func (h *httpHandler) respondError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, docs.ErrPermissionDenied):
		c.JSON(http.StatusForbidden, gin.H{"error": "forbidden"})
	case errors.Is(err, docs.ErrNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": "not_found"})
	case errors.Is(err, docs.ErrDocumentDeleted):
		message := "document is deleted"
		var repositoryErr *docs.RepositoryError
		if errors.As(err, &repositoryErr) && repositoryErr.Unwrap() != nil {
			message = repositoryErr.Unwrap().Error()
		}
		c.JSON(http.StatusConflict, gin.H{"error": "document_deleted", "message": message})
	default:
		h.logger.Error("request failed", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal_error"})
	}
}
