package controllers

import (
	"encoding/json"
	"log"

	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"

	"github.com/nimbusdeck/nimbusdeck/app/models"
	"github.com/nimbusdeck/nimbusdeck/app/repository"
	"github.com/nimbusdeck/nimbusdeck/internal/pkg/metrics/counter"
	"github.com/nimbusdeck/nimbusdeck/internal/pkg/usercontext"
)

type errorReportRequest struct {
	Error struct {
		Name    string `json:"name" validate:"required,max=200"`
		Message string `json:"message" validate:"required"`
		Stack   string `json:"stack"`
	} `json:"error"`
	Context  map[string]interface{} `json:"context"`
	Severity string                 `json:"severity" validate:"omitempty,oneof=low medium high critical"`
	Category string                 `json:"category" validate:"omitempty,max=50"`
}

// HandleErrorReport stores a client-side error report for the logged-in
// user and returns a public id the client can reference in support
// requests.
func HandleErrorReport(c *fiber.Ctx) error {
	userID := usercontext.GetUserID(c)
	if userID == 0 {
		return jsonError(c, fiber.StatusUnauthorized, "unauthorized", "login required")
	}

	var req errorReportRequest
	if err := c.BodyParser(&req); err != nil {
		return jsonError(c, fiber.StatusBadRequest, "invalid_body", "request body must be valid JSON")
	}
	if err := validate.Struct(&req); err != nil {
		return jsonError(c, fiber.StatusBadRequest, "validation_failed", validationMessage(err))
	}

	contextJSON := ""
	if len(req.Context) > 0 {
		raw, err := json.Marshal(req.Context)
		if err != nil {
			return jsonError(c, fiber.StatusBadRequest, "invalid_body", "context must be JSON-serializable")
		}
		contextJSON = string(raw)
	}

	severity := req.Severity
	if severity == "" {
		severity = models.ErrorSeverityMedium
	}
	category := req.Category
	if category == "" {
		category = "unknown"
	}

	report := &models.ErrorReport{
		PublicID:    uuid.NewString(),
		UserID:      userID,
		Name:        req.Error.Name,
		Message:     req.Error.Message,
		Stack:       req.Error.Stack,
		ContextJSON: contextJSON,
		Severity:    severity,
		Category:    category,
	}
	if err := repository.GetGlobalRepositories().ErrorReport.Create(report); err != nil {
		log.Printf("error report: create failed: %v", err)
		return jsonError(c, fiber.StatusInternalServerError, "internal_error", "could not store report")
	}

	if err := counter.AddErrorReport(category); err != nil {
		log.Printf("error report: counter increment failed: %v", err)
	}

	return c.JSON(fiber.Map{
		"success": true,
		"errorId": report.PublicID,
	})
}

// HandleListRecentErrorReports returns the newest error reports for the
// admin dashboard.
func HandleListRecentErrorReports(c *fiber.Ctx) error {
	limit := c.QueryInt("limit", 50)
	if limit < 1 || limit > 200 {
		limit = 50
	}

	reports, err := repository.GetGlobalRepositories().ErrorReport.ListRecent(limit)
	if err != nil {
		log.Printf("error report: list failed: %v", err)
		return jsonError(c, fiber.StatusInternalServerError, "internal_error", "could not list reports")
	}

	return c.JSON(fiber.Map{
		"success": true,
		"reports": reports,
	})
}
