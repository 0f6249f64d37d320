package controllers

import (
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v2"

	"github.com/nimbusdeck/nimbusdeck/internal/pkg/usercontext"
)

// Session keys shared between the auth controller and the user context
// middleware.
const (
	AUTH_KEY      string = "authenticated"
	USER_ID       string = usercontext.KeyUserID
	USER_NAME     string = usercontext.KeyUsername
	USER_IS_ADMIN string = usercontext.KeyIsAdmin
)

var validate = validator.New()

// jsonError writes a structured error body with the given HTTP status.
func jsonError(c *fiber.Ctx, status int, code, message string) error {
	return c.Status(status).JSON(fiber.Map{
		"success": false,
		"error":   code,
		"message": message,
	})
}

// validationMessage flattens validator errors into a short readable string.
func validationMessage(err error) string {
	verrs, ok := err.(validator.ValidationErrors)
	if !ok {
		return err.Error()
	}
	parts := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		parts = append(parts, strings.ToLower(fe.Field())+" failed on '"+fe.Tag()+"'")
	}
	return strings.Join(parts, ", ")
}
