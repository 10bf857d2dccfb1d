package handlers

import (
	"errors"
	"log/slog"
	"net/http"

	"oracle-service/internal/models"
	"oracle-service/pkg/utils"

	"github.com/gofiber/fiber/v3"
	"github.com/google/uuid"
)

var errorStatus = []struct {
	kind   error
	status int
	code   string
}{
	{models.ErrValidation, http.StatusBadRequest, "VALIDATION_FAILED"},
	{models.ErrAuthorization, http.StatusForbidden, "UNAUTHORIZED"},
	{models.ErrNotFound, http.StatusNotFound, "NOT_FOUND"},
	{models.ErrStateConflict, http.StatusConflict, "STATE_CONFLICT"},
	{models.ErrNotReady, http.StatusTooEarly, "NOT_READY"},
	{models.ErrBusy, http.StatusLocked, "RESOURCE_BUSY"},
	{models.ErrExternalDependency, http.StatusBadGateway, "EXTERNAL_DEPENDENCY"},
	{models.ErrSettlementFailure, http.StatusBadGateway, "SETTLEMENT_FAILED"},
}

// respondError writes err as an error envelope. Domain errors keep their
// message and invariant; anything else is logged and reported as a 500.
func respondError(c fiber.Ctx, err error, action string) error {
	var de *models.DomainError
	if errors.As(err, &de) {
		for _, mapping := range errorStatus {
			if errors.Is(err, mapping.kind) {
				if mapping.status >= http.StatusInternalServerError {
					slog.Error(action+" failed", "error", err)
				}
				return c.Status(mapping.status).JSON(
					utils.CreateInvariantErrorResponse(mapping.code, de.Message, de.Invariant))
			}
		}
	}

	slog.Error(action+" failed", "error", err)
	return c.Status(http.StatusInternalServerError).JSON(
		utils.CreateErrorResponse("INTERNAL_ERROR", "Failed to "+action))
}

func invalidUUID(c fiber.Ctx, what string) error {
	return c.Status(http.StatusBadRequest).JSON(
		utils.CreateErrorResponse("INVALID_UUID", "Invalid "+what+" ID format"))
}

func invalidBody(c fiber.Ctx) error {
	return c.Status(http.StatusBadRequest).JSON(
		utils.CreateErrorResponse("INVALID_REQUEST", "Invalid request body"))
}

func missingUser(c fiber.Ctx) error {
	return c.Status(http.StatusUnauthorized).JSON(
		utils.CreateErrorResponse("UNAUTHORIZED", "User ID is required"))
}

func parseID(c fiber.Ctx, param string) (uuid.UUID, bool) {
	id, err := uuid.Parse(c.Params(param))
	return id, err == nil
}
