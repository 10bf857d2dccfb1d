package handlers

import (
	"net/http"

	"oracle-service/internal/models"
	"oracle-service/internal/services"
	"oracle-service/pkg/utils"

	"github.com/gofiber/fiber/v3"
)

type ProviderHandler struct {
	registry *services.ProviderRegistry
	auth     *Auth
}

func NewProviderHandler(registry *services.ProviderRegistry, auth *Auth) *ProviderHandler {
	return &ProviderHandler{
		registry: registry,
		auth:     auth,
	}
}

func (h *ProviderHandler) Register(app *fiber.App) {
	protectedGr := app.Group("oracle/protected/api/v1")
	providerGroup := protectedGr.Group("/providers", h.auth.Authenticate)

	// ============================================================================
	// ROLE-BASED ROUTES
	// Format: /providers/{scope}/...
	// ============================================================================

	// Provider routes - act on the caller's own provider record
	selfGroup := providerGroup.Group("/self", h.auth.RequireRole(models.RoleProvider))
	selfGroup.Post("/register", h.RegisterProvider)     // POST /providers/self/register
	selfGroup.Post("/deregister", h.DeregisterProvider) // POST /providers/self/deregister
	selfGroup.Post("/stake", h.IncreaseStake)           // POST /providers/self/stake

	// Read routes - any authenticated caller
	providerGroup.Get("/list", h.ListProviders)                 // GET /providers/list?active=true
	providerGroup.Get("/detail/:id", h.GetProvider)             // GET /providers/detail/:id
	providerGroup.Get("/detail/:id/slashes", h.GetSlashHistory) // GET /providers/detail/:id/slashes

	// Admin routes
	adminGroup := providerGroup.Group("/admin", h.auth.RequireRole(models.RoleAdmin))
	adminGroup.Post("/:id/slash", h.SlashProvider) // POST /providers/admin/:id/slash
}

// RegisterProvider stakes and activates the caller as a data provider
func (h *ProviderHandler) RegisterProvider(c fiber.Ctx) error {
	userID := c.Get(userIDHeader)
	if userID == "" {
		return missingUser(c)
	}

	var req models.RegisterProviderRequest
	if err := c.Bind().Body(&req); err != nil {
		return invalidBody(c)
	}

	provider, err := h.registry.Register(c.Context(), userID, req.Stake)
	if err != nil {
		return respondError(c, err, "register provider")
	}
	return c.Status(http.StatusCreated).JSON(utils.CreateSuccessResponse(provider))
}

func (h *ProviderHandler) DeregisterProvider(c fiber.Ctx) error {
	userID := c.Get(userIDHeader)
	if userID == "" {
		return missingUser(c)
	}

	provider, err := h.registry.Deregister(c.Context(), userID)
	if err != nil {
		return respondError(c, err, "deregister provider")
	}
	return c.Status(http.StatusOK).JSON(utils.CreateSuccessResponse(provider))
}

func (h *ProviderHandler) IncreaseStake(c fiber.Ctx) error {
	userID := c.Get(userIDHeader)
	if userID == "" {
		return missingUser(c)
	}

	var req models.StakeRequest
	if err := c.Bind().Body(&req); err != nil {
		return invalidBody(c)
	}

	provider, err := h.registry.IncreaseStake(c.Context(), userID, req.Amount)
	if err != nil {
		return respondError(c, err, "increase stake")
	}
	return c.Status(http.StatusOK).JSON(utils.CreateSuccessResponse(provider))
}

func (h *ProviderHandler) ListProviders(c fiber.Ctx) error {
	activeOnly := c.Query("active") == "true"

	providers, err := h.registry.List(c.Context(), activeOnly)
	if err != nil {
		return respondError(c, err, "list providers")
	}
	return c.Status(http.StatusOK).JSON(utils.CreateSuccessResponse(map[string]any{
		"providers": providers,
		"count":     len(providers),
	}))
}

func (h *ProviderHandler) GetProvider(c fiber.Ctx) error {
	provider, err := h.registry.Get(c.Context(), c.Params("id"))
	if err != nil {
		return respondError(c, err, "retrieve provider")
	}
	return c.Status(http.StatusOK).JSON(utils.CreateSuccessResponse(provider))
}

func (h *ProviderHandler) GetSlashHistory(c fiber.Ctx) error {
	providerID := c.Params("id")
	records, err := h.registry.SlashHistory(c.Context(), providerID)
	if err != nil {
		return respondError(c, err, "retrieve slash history")
	}
	return c.Status(http.StatusOK).JSON(utils.CreateSuccessResponse(map[string]any{
		"slashes":     records,
		"count":       len(records),
		"provider_id": providerID,
	}))
}

// SlashProvider burns part of a provider's stake (admin only)
func (h *ProviderHandler) SlashProvider(c fiber.Ctx) error {
	var req models.SlashRequest
	if err := c.Bind().Body(&req); err != nil {
		return invalidBody(c)
	}

	record, err := h.registry.Slash(c.Context(), c.Params("id"), req.Amount, req.Reason)
	if err != nil {
		return respondError(c, err, "slash provider")
	}
	return c.Status(http.StatusOK).JSON(utils.CreateSuccessResponse(record))
}
