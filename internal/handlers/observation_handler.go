package handlers

import (
	"net/http"

	"oracle-service/internal/models"
	"oracle-service/internal/services"
	"oracle-service/pkg/utils"

	"github.com/gofiber/fiber/v3"
)

type ObservationHandler struct {
	ledger *services.ObservationLedger
	auth   *Auth
}

func NewObservationHandler(ledger *services.ObservationLedger, auth *Auth) *ObservationHandler {
	return &ObservationHandler{
		ledger: ledger,
		auth:   auth,
	}
}

func (h *ObservationHandler) Register(app *fiber.App) {
	protectedGr := app.Group("oracle/protected/api/v1")
	observationGroup := protectedGr.Group("/observations", h.auth.Authenticate)

	// Provider routes
	providerGroup := observationGroup.Group("/submit", h.auth.RequireRole(models.RoleProvider))
	providerGroup.Post("/", h.SubmitObservation) // POST /observations/submit

	// Verifier routes
	verifierGroup := observationGroup.Group("/verify", h.auth.RequireRole(models.RoleVerifier))
	verifierGroup.Post("/:id", h.VerifyObservation) // POST /observations/verify/:id

	// Operator routes - close out bad submissions
	reviewGroup := observationGroup.Group("/review", h.auth.RequireRole(models.RoleOperator))
	reviewGroup.Post("/:id/dispute", h.DisputeObservation) // POST /observations/review/:id/dispute
	reviewGroup.Post("/:id/reject", h.RejectObservation)   // POST /observations/review/:id/reject

	// Read routes
	observationGroup.Get("/detail/:id", h.GetObservation)                  // GET /observations/detail/:id
	observationGroup.Get("/by-subject/:subject_id", h.ListBySubject)       // GET /observations/by-subject/:subject_id?kind=weather
	observationGroup.Get("/latest/:subject_id/:kind", h.GetLatestVerified) // GET /observations/latest/:subject_id/:kind
}

// SubmitObservation records a pending observation from the calling provider
func (h *ObservationHandler) SubmitObservation(c fiber.Ctx) error {
	userID := c.Get(userIDHeader)
	if userID == "" {
		return missingUser(c)
	}

	var req models.SubmitObservationRequest
	if err := c.Bind().Body(&req); err != nil {
		return invalidBody(c)
	}

	obs, err := h.ledger.Submit(c.Context(), userID, req)
	if err != nil {
		return respondError(c, err, "submit observation")
	}
	return c.Status(http.StatusCreated).JSON(utils.CreateSuccessResponse(obs))
}

// VerifyObservation adds the caller to the submission's verifier set
func (h *ObservationHandler) VerifyObservation(c fiber.Ctx) error {
	userID := c.Get(userIDHeader)
	if userID == "" {
		return missingUser(c)
	}

	id, ok := parseID(c, "id")
	if !ok {
		return invalidUUID(c, "observation")
	}

	obs, err := h.ledger.Verify(c.Context(), id, userID)
	if err != nil {
		return respondError(c, err, "verify observation")
	}
	return c.Status(http.StatusOK).JSON(utils.CreateSuccessResponse(obs))
}

func (h *ObservationHandler) DisputeObservation(c fiber.Ctx) error {
	id, ok := parseID(c, "id")
	if !ok {
		return invalidUUID(c, "observation")
	}

	var req models.ReasonRequest
	if err := c.Bind().Body(&req); err != nil {
		return invalidBody(c)
	}

	obs, err := h.ledger.Dispute(c.Context(), id, req.Reason)
	if err != nil {
		return respondError(c, err, "dispute observation")
	}
	return c.Status(http.StatusOK).JSON(utils.CreateSuccessResponse(obs))
}

func (h *ObservationHandler) RejectObservation(c fiber.Ctx) error {
	id, ok := parseID(c, "id")
	if !ok {
		return invalidUUID(c, "observation")
	}

	var req models.ReasonRequest
	if err := c.Bind().Body(&req); err != nil {
		return invalidBody(c)
	}

	obs, err := h.ledger.Reject(c.Context(), id, req.Reason)
	if err != nil {
		return respondError(c, err, "reject observation")
	}
	return c.Status(http.StatusOK).JSON(utils.CreateSuccessResponse(obs))
}

func (h *ObservationHandler) GetObservation(c fiber.Ctx) error {
	id, ok := parseID(c, "id")
	if !ok {
		return invalidUUID(c, "observation")
	}

	obs, err := h.ledger.Get(c.Context(), id)
	if err != nil {
		return respondError(c, err, "retrieve observation")
	}
	return c.Status(http.StatusOK).JSON(utils.CreateSuccessResponse(obs))
}

func (h *ObservationHandler) ListBySubject(c fiber.Ctx) error {
	subjectID := c.Params("subject_id")
	kind := models.ObservationKind(c.Query("kind"))

	observations, err := h.ledger.ListBySubject(c.Context(), subjectID, kind)
	if err != nil {
		return respondError(c, err, "list observations")
	}
	return c.Status(http.StatusOK).JSON(utils.CreateSuccessResponse(map[string]any{
		"observations": observations,
		"count":        len(observations),
		"subject_id":   subjectID,
	}))
}

func (h *ObservationHandler) GetLatestVerified(c fiber.Ctx) error {
	kind := models.ObservationKind(c.Params("kind"))
	if !kind.IsValid() {
		return c.Status(http.StatusBadRequest).JSON(
			utils.CreateErrorResponse("VALIDATION_FAILED", "kind must be weather or vegetation"))
	}

	obs, err := h.ledger.LatestVerified(c.Context(), c.Params("subject_id"), kind)
	if err != nil {
		return respondError(c, err, "retrieve latest verified observation")
	}
	return c.Status(http.StatusOK).JSON(utils.CreateSuccessResponse(obs))
}
