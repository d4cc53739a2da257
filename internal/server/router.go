package server

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/campuslink/authbridge/internal/credstore"
	"github.com/campuslink/authbridge/internal/directory"
	"github.com/campuslink/authbridge/internal/provision"
	"github.com/campuslink/authbridge/internal/resolver"
	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

const callerEmailContextKey = "authbridge_caller_email"

var (
	errMissingResolverService   = errors.New("resolver service dependency required")
	errMissingProvisionService  = errors.New("provision service dependency required")
	errMissingTokenValidator    = errors.New("token validator dependency required")
	errMissingCredentialReader  = errors.New("credential reader dependency required")
	errInvalidAuthorization     = errors.New("authorization header missing or invalid")
	errProvisioningNotPermitted = errors.New("only Admin can provision accounts")
)

// ResolverService resolves a staff login handle to an email.
type ResolverService interface {
	Resolve(ctx context.Context, loginID, password string) (string, error)
}

// ProvisionService performs idempotent account provisioning.
type ProvisionService interface {
	Ensure(ctx context.Context, input provision.EnsureInput) (provision.EnsureResult, error)
}

// TokenValidator validates provider access tokens presented by callers.
type TokenValidator interface {
	Validate(token string) (directory.TokenClaims, error)
}

// CredentialReader resolves the calling principal's staff record.
type CredentialReader interface {
	FindStaffByEmail(ctx context.Context, email string) (credstore.StaffCredential, error)
}

// Dependencies wires the HTTP handler.
type Dependencies struct {
	Resolver    ResolverService
	Provisioner ProvisionService
	Tokens      TokenValidator
	Credentials CredentialReader
	Logger      *zap.Logger
}

// NewHTTPHandler builds the gin router hosting the login-resolver and
// provisioning endpoints.
func NewHTTPHandler(deps Dependencies) (http.Handler, error) {
	if deps.Resolver == nil {
		return nil, errMissingResolverService
	}
	if deps.Provisioner == nil {
		return nil, errMissingProvisionService
	}
	if deps.Tokens == nil {
		return nil, errMissingTokenValidator
	}
	if deps.Credentials == nil {
		return nil, errMissingCredentialReader
	}

	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(cors.New(cors.Config{
		AllowOrigins: []string{"*"},
		AllowMethods: []string{http.MethodPost, http.MethodOptions},
		AllowHeaders: []string{"Authorization", "Content-Type"},
		MaxAge:       12 * time.Hour,
	}))

	handler := &httpHandler{
		resolver:    deps.Resolver,
		provisioner: deps.Provisioner,
		tokens:      deps.Tokens,
		credentials: deps.Credentials,
		logger:      logger,
	}

	router.POST("/auth/resolve-login", handler.handleResolveLogin)

	gated := router.Group("/")
	gated.Use(handler.requireAdmin)
	gated.POST("/auth/provision", handler.handleProvision)

	return router, nil
}

type httpHandler struct {
	resolver    ResolverService
	provisioner ProvisionService
	tokens      TokenValidator
	credentials CredentialReader
	logger      *zap.Logger
}

type resolveRequestPayload struct {
	LoginID  string `json:"login_id"`
	Password string `json:"password"`
}

type resolveResponsePayload struct {
	Email string `json:"email"`
}

func (h *httpHandler) handleResolveLogin(c *gin.Context) {
	var request resolveRequestPayload
	if err := c.ShouldBindJSON(&request); err != nil ||
		strings.TrimSpace(request.LoginID) == "" || request.Password == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request"})
		return
	}

	email, err := h.resolver.Resolve(c.Request.Context(), request.LoginID, request.Password)
	if err != nil {
		if errors.Is(err, resolver.ErrInvalidLogin) || errors.Is(err, resolver.ErrMissingInput) {
			// Identical body for unknown user and wrong password.
			c.JSON(http.StatusUnauthorized, gin.H{"error": resolver.ErrInvalidLogin.Error()})
			return
		}
		h.logger.Error("login resolution failed", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "resolve_failed"})
		return
	}

	c.JSON(http.StatusOK, resolveResponsePayload{Email: email})
}

type provisionRequestPayload struct {
	Email    string         `json:"email"`
	Password string         `json:"password"`
	Metadata map[string]any `json:"user_metadata"`
}

type provisionResponsePayload struct {
	Success bool   `json:"success"`
	Status  string `json:"status"`
	UserID  string `json:"user_id"`
	Email   string `json:"email"`
}

func (h *httpHandler) handleProvision(c *gin.Context) {
	var request provisionRequestPayload
	if err := c.ShouldBindJSON(&request); err != nil || strings.TrimSpace(request.Email) == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request"})
		return
	}

	result, err := h.provisioner.Ensure(c.Request.Context(), provision.EnsureInput{
		Email:    request.Email,
		Password: request.Password,
		Metadata: request.Metadata,
	})
	if err != nil {
		if errors.Is(err, provision.ErrInvalidEmail) || errors.Is(err, provision.ErrWeakPassword) {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		// Surface the provider failure so the account-management flow can
		// report "record saved but login setup failed" and retry.
		h.logger.Error("provisioning failed",
			zap.String("email", directory.NormalizeEmail(request.Email)),
			zap.Error(err))
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusOK, provisionResponsePayload{
		Success: true,
		Status:  string(result.Status),
		UserID:  result.AccountID,
		Email:   result.Email,
	})
}

// requireAdmin validates the provider access token and checks that the
// caller's staff record carries the Admin role. Gating happens before any
// provider mutation.
func (h *httpHandler) requireAdmin(c *gin.Context) {
	header := c.GetHeader("Authorization")
	if !strings.HasPrefix(header, "Bearer ") {
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": errInvalidAuthorization.Error()})
		return
	}
	token := strings.TrimSpace(strings.TrimPrefix(header, "Bearer "))
	if token == "" {
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": errInvalidAuthorization.Error()})
		return
	}

	claims, err := h.tokens.Validate(token)
	if err != nil {
		if errors.Is(err, directory.ErrExpiredAccessToken) {
			h.logger.Info("caller token expired", zap.Error(err))
		} else {
			h.logger.Warn("caller token validation failed", zap.Error(err))
		}
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
		return
	}

	record, err := h.credentials.FindStaffByEmail(c.Request.Context(), claims.Email)
	if err != nil {
		if errors.Is(err, credstore.ErrNotFound) {
			c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": errProvisioningNotPermitted.Error()})
			return
		}
		h.logger.Error("caller lookup failed", zap.Error(err))
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "caller_lookup_failed"})
		return
	}

	role, err := credstore.ParseStaffRole(record.Role)
	if err != nil || role != credstore.RoleAdmin {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": errProvisioningNotPermitted.Error()})
		return
	}

	c.Set(callerEmailContextKey, claims.Email)
	c.Next()
}
