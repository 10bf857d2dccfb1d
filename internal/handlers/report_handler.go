package handlers

import (
	"net/http"

	"oracle-service/internal/models"
	"oracle-service/internal/services"
	"oracle-service/pkg/utils"

	"github.com/gofiber/fiber/v3"
)

// ReportHandler accepts pre-verified damage reports over HTTP, for operators
// replaying reports the damage_reports queue did not deliver.
type ReportHandler struct {
	reports *services.OffchainReportService
	auth    *Auth
}

func NewReportHandler(reports *services.OffchainReportService, auth *Auth) *ReportHandler {
	return &ReportHandler{
		reports: reports,
		auth:    auth,
	}
}

func (h *ReportHandler) Register(app *fiber.App) {
	protectedGr := app.Group("oracle/protected/api/v1")
	reportGroup := protectedGr.Group("/reports", h.auth.Authenticate)

	ingestGroup := reportGroup.Group("/ingest", h.auth.RequireRole(models.RoleOperator))
	ingestGroup.Post("/", h.IngestReport) // POST /reports/ingest

	reportGroup.Get("/by-policy/:policy_id", h.GetReport) // GET /reports/by-policy/:policy_id
}

func (h *ReportHandler) IngestReport(c fiber.Ctx) error {
	var report models.OffchainReport
	if err := c.Bind().Body(&report); err != nil {
		return invalidBody(c)
	}

	stored, err := h.reports.Ingest(c.Context(), report)
	if err != nil {
		return respondError(c, err, "ingest report")
	}
	return c.Status(http.StatusOK).JSON(utils.CreateSuccessResponse(stored))
}

func (h *ReportHandler) GetReport(c fiber.Ctx) error {
	report, err := h.reports.Get(c.Context(), c.Params("policy_id"))
	if err != nil {
		return respondError(c, err, "retrieve report")
	}
	return c.Status(http.StatusOK).JSON(utils.CreateSuccessResponse(report))
}
