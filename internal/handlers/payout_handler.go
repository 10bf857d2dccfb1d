package handlers

import (
	"context"
	"net/http"

	"oracle-service/internal/models"
	"oracle-service/internal/services"
	"oracle-service/pkg/utils"

	"github.com/gofiber/fiber/v3"
)

// AssessmentHistory lists every archived assessment for a policy, oldest first.
type AssessmentHistory interface {
	AssessmentHistory(ctx context.Context, policyID string) ([]models.DamageAssessment, error)
}

type PayoutHandler struct {
	settlement *services.SettlementWorkflow
	history    AssessmentHistory
	auth       *Auth
}

func NewPayoutHandler(settlement *services.SettlementWorkflow, history AssessmentHistory, auth *Auth) *PayoutHandler {
	return &PayoutHandler{
		settlement: settlement,
		history:    history,
		auth:       auth,
	}
}

func (h *PayoutHandler) Register(app *fiber.App) {
	protectedGr := app.Group("oracle/protected/api/v1")
	payoutGroup := protectedGr.Group("/payouts", h.auth.Authenticate)

	// ============================================================================
	// ROLE-BASED ROUTES
	// Format: /payouts/{scope}/...
	// ============================================================================

	// Operator routes - drive payouts through the settlement lifecycle
	manageGroup := payoutGroup.Group("/manage", h.auth.RequireRole(models.RoleOperator))
	manageGroup.Post("/initiate", h.InitiatePayout)          // POST /payouts/manage/initiate
	manageGroup.Post("/:id/calculate", h.CalculatePayout)    // POST /payouts/manage/:id/calculate
	manageGroup.Post("/:id/approve", h.ApprovePayout)        // POST /payouts/manage/:id/approve
	manageGroup.Post("/:id/process", h.ProcessPayout)        // POST /payouts/manage/:id/process
	manageGroup.Post("/batches", h.CreateBatch)              // POST /payouts/manage/batches
	manageGroup.Post("/batches/:id/process", h.ProcessBatch) // POST /payouts/manage/batches/:id/process

	// Admin routes - overrides and manual settlement
	adminGroup := payoutGroup.Group("/admin", h.auth.RequireRole(models.RoleAdmin))
	adminGroup.Post("/:id/reassess", h.ReassessPayout) // POST /payouts/admin/:id/reassess
	adminGroup.Post("/:id/confirm", h.ConfirmPayout)   // POST /payouts/admin/:id/confirm
	adminGroup.Post("/:id/fail", h.FailPayout)         // POST /payouts/admin/:id/fail

	// Read routes
	payoutGroup.Get("/detail/:id", h.GetPayout)                                // GET /payouts/detail/:id
	payoutGroup.Get("/by-policy/:policy_id", h.GetPayoutsByPolicy)             // GET /payouts/by-policy/:policy_id
	payoutGroup.Get("/batches/:id", h.GetBatch)                                // GET /payouts/batches/:id
	payoutGroup.Get("/assessments/:policy_id", h.GetAssessment)                // GET /payouts/assessments/:policy_id
	payoutGroup.Get("/assessments/:policy_id/history", h.GetAssessmentHistory) // GET /payouts/assessments/:policy_id/history
}

// ============================================================================
// LIFECYCLE HANDLERS
// ============================================================================

// InitiatePayout opens a payout for a triggered policy
func (h *PayoutHandler) InitiatePayout(c fiber.Ctx) error {
	var req models.InitiatePayoutRequest
	if err := c.Bind().Body(&req); err != nil {
		return invalidBody(c)
	}

	payout, err := h.settlement.Initiate(c.Context(), req.PolicyID)
	if err != nil {
		return respondError(c, err, "initiate payout")
	}
	return c.Status(http.StatusCreated).JSON(utils.CreateSuccessResponse(payout))
}

func (h *PayoutHandler) CalculatePayout(c fiber.Ctx) error {
	id, ok := parseID(c, "id")
	if !ok {
		return invalidUUID(c, "payout")
	}

	payout, err := h.settlement.Calculate(c.Context(), id)
	if err != nil {
		return respondError(c, err, "calculate payout")
	}
	return c.Status(http.StatusOK).JSON(utils.CreateSuccessResponse(payout))
}

func (h *PayoutHandler) ApprovePayout(c fiber.Ctx) error {
	id, ok := parseID(c, "id")
	if !ok {
		return invalidUUID(c, "payout")
	}

	payout, err := h.settlement.Approve(c.Context(), id)
	if err != nil {
		return respondError(c, err, "approve payout")
	}
	return c.Status(http.StatusOK).JSON(utils.CreateSuccessResponse(payout))
}

// ProcessPayout hands the payout to the payment rail. The response reflects
// the processing state; settlement arrives asynchronously.
func (h *PayoutHandler) ProcessPayout(c fiber.Ctx) error {
	id, ok := parseID(c, "id")
	if !ok {
		return invalidUUID(c, "payout")
	}

	payout, err := h.settlement.Process(c.Context(), id)
	if err != nil {
		return respondError(c, err, "process payout")
	}
	return c.Status(http.StatusAccepted).JSON(utils.CreateSuccessResponse(payout))
}

func (h *PayoutHandler) ReassessPayout(c fiber.Ctx) error {
	id, ok := parseID(c, "id")
	if !ok {
		return invalidUUID(c, "payout")
	}

	payout, err := h.settlement.Reassess(c.Context(), id)
	if err != nil {
		return respondError(c, err, "reassess payout")
	}
	return c.Status(http.StatusOK).JSON(utils.CreateSuccessResponse(payout))
}

func (h *PayoutHandler) ConfirmPayout(c fiber.Ctx) error {
	id, ok := parseID(c, "id")
	if !ok {
		return invalidUUID(c, "payout")
	}

	var req models.ConfirmPayoutRequest
	if err := c.Bind().Body(&req); err != nil {
		return invalidBody(c)
	}

	payout, err := h.settlement.Confirm(c.Context(), id, req.SettlementReference)
	if err != nil {
		return respondError(c, err, "confirm payout")
	}
	return c.Status(http.StatusOK).JSON(utils.CreateSuccessResponse(payout))
}

func (h *PayoutHandler) FailPayout(c fiber.Ctx) error {
	id, ok := parseID(c, "id")
	if !ok {
		return invalidUUID(c, "payout")
	}

	var req models.ReasonRequest
	if err := c.Bind().Body(&req); err != nil {
		return invalidBody(c)
	}

	payout, err := h.settlement.Fail(c.Context(), id, req.Reason)
	if err != nil {
		return respondError(c, err, "fail payout")
	}
	return c.Status(http.StatusOK).JSON(utils.CreateSuccessResponse(payout))
}

// ============================================================================
// BATCH HANDLERS
// ============================================================================

func (h *PayoutHandler) CreateBatch(c fiber.Ctx) error {
	var req models.CreateBatchRequest
	if err := c.Bind().Body(&req); err != nil {
		return invalidBody(c)
	}

	batch, err := h.settlement.CreateBatch(c.Context(), req.PayoutIDs)
	if err != nil {
		return respondError(c, err, "create batch")
	}
	return c.Status(http.StatusCreated).JSON(utils.CreateSuccessResponse(batch))
}

// ProcessBatch processes every member independently. Member failures are
// reported per item, so the request itself succeeds.
func (h *PayoutHandler) ProcessBatch(c fiber.Ctx) error {
	id, ok := parseID(c, "id")
	if !ok {
		return invalidUUID(c, "batch")
	}

	result, err := h.settlement.ProcessBatch(c.Context(), id)
	if err != nil {
		return respondError(c, err, "process batch")
	}
	return c.Status(http.StatusOK).JSON(utils.CreateSuccessResponse(result))
}

func (h *PayoutHandler) GetBatch(c fiber.Ctx) error {
	id, ok := parseID(c, "id")
	if !ok {
		return invalidUUID(c, "batch")
	}

	batch, err := h.settlement.GetBatch(c.Context(), id)
	if err != nil {
		return respondError(c, err, "retrieve batch")
	}
	return c.Status(http.StatusOK).JSON(utils.CreateSuccessResponse(batch))
}

// ============================================================================
// READ HANDLERS
// ============================================================================

func (h *PayoutHandler) GetPayout(c fiber.Ctx) error {
	id, ok := parseID(c, "id")
	if !ok {
		return invalidUUID(c, "payout")
	}

	payout, err := h.settlement.Get(c.Context(), id)
	if err != nil {
		return respondError(c, err, "retrieve payout")
	}
	return c.Status(http.StatusOK).JSON(utils.CreateSuccessResponse(payout))
}

func (h *PayoutHandler) GetPayoutsByPolicy(c fiber.Ctx) error {
	policyID := c.Params("policy_id")
	payouts, err := h.settlement.ListByPolicy(c.Context(), policyID)
	if err != nil {
		return respondError(c, err, "retrieve payouts")
	}
	return c.Status(http.StatusOK).JSON(utils.CreateSuccessResponse(map[string]any{
		"payouts":   payouts,
		"count":     len(payouts),
		"policy_id": policyID,
	}))
}

func (h *PayoutHandler) GetAssessment(c fiber.Ctx) error {
	assessment, err := h.settlement.GetAssessment(c.Context(), c.Params("policy_id"))
	if err != nil {
		return respondError(c, err, "retrieve assessment")
	}
	return c.Status(http.StatusOK).JSON(utils.CreateSuccessResponse(assessment))
}

// GetAssessmentHistory lists archived assessments, including ones replaced by a reassessment
func (h *PayoutHandler) GetAssessmentHistory(c fiber.Ctx) error {
	if h.history == nil {
		return c.Status(http.StatusServiceUnavailable).JSON(
			utils.CreateErrorResponse("ARCHIVE_UNAVAILABLE", "Assessment archive is not configured"))
	}

	policyID := c.Params("policy_id")
	assessments, err := h.history.AssessmentHistory(c.Context(), policyID)
	if err != nil {
		return respondError(c, models.NewExternalDependencyError("archive.history", err), "retrieve assessment history")
	}
	return c.Status(http.StatusOK).JSON(utils.CreateSuccessResponse(map[string]any{
		"assessments": assessments,
		"count":       len(assessments),
		"policy_id":   policyID,
	}))
}
