package controllers

import (
	"errors"
	"log"
	"time"

	"github.com/gofiber/fiber/v2"
	"gorm.io/gorm"

	"github.com/nimbusdeck/nimbusdeck/app/models"
	"github.com/nimbusdeck/nimbusdeck/app/repository"
	"github.com/nimbusdeck/nimbusdeck/internal/pkg/session"
)

type registerRequest struct {
	Name     string `json:"name" validate:"required,min=3,max=150"`
	Email    string `json:"email" validate:"required,email"`
	Password string `json:"password" validate:"required,min=6"`
}

type loginRequest struct {
	Email    string `json:"email" validate:"required,email"`
	Password string `json:"password" validate:"required"`
}

// HandleAuthRegister creates a new user account.
func HandleAuthRegister(c *fiber.Ctx) error {
	var req registerRequest
	if err := c.BodyParser(&req); err != nil {
		return jsonError(c, fiber.StatusBadRequest, "invalid_body", "request body must be valid JSON")
	}
	if err := validate.Struct(&req); err != nil {
		return jsonError(c, fiber.StatusBadRequest, "validation_failed", validationMessage(err))
	}

	userRepo := repository.GetGlobalRepositories().User
	if _, err := userRepo.GetByEmail(req.Email); err == nil {
		return jsonError(c, fiber.StatusConflict, "email_taken", "an account with this email already exists")
	} else if !errors.Is(err, gorm.ErrRecordNotFound) {
		log.Printf("register: email lookup failed: %v", err)
		return jsonError(c, fiber.StatusInternalServerError, "internal_error", "could not create account")
	}

	user, err := models.CreateUser(req.Name, req.Email, req.Password)
	if err != nil {
		return jsonError(c, fiber.StatusBadRequest, "validation_failed", err.Error())
	}
	if err := userRepo.Create(user); err != nil {
		log.Printf("register: create user failed: %v", err)
		return jsonError(c, fiber.StatusInternalServerError, "internal_error", "could not create account")
	}

	return c.Status(fiber.StatusCreated).JSON(fiber.Map{
		"success": true,
		"user": fiber.Map{
			"id":    user.ID,
			"name":  user.Name,
			"email": user.Email,
		},
	})
}

// HandleAuthLogin verifies credentials and establishes a session.
//
// notice: in production you should not inform the user
// with detailed messages about login failures
func HandleAuthLogin(c *fiber.Ctx) error {
	var req loginRequest
	if err := c.BodyParser(&req); err != nil {
		return jsonError(c, fiber.StatusBadRequest, "invalid_body", "request body must be valid JSON")
	}
	if err := validate.Struct(&req); err != nil {
		return jsonError(c, fiber.StatusBadRequest, "validation_failed", validationMessage(err))
	}

	userRepo := repository.GetGlobalRepositories().User
	user, err := userRepo.GetByEmail(req.Email)
	if err != nil {
		return jsonError(c, fiber.StatusUnauthorized, "invalid_credentials", "there is a problem with the login process")
	}
	if !user.CheckPassword(req.Password) {
		return jsonError(c, fiber.StatusUnauthorized, "invalid_credentials", "there is a problem with the login process")
	}
	if !user.IsActive() {
		return jsonError(c, fiber.StatusForbidden, "account_disabled", "this account is not active")
	}

	sess, err := session.GetSessionStore().Get(c)
	if err != nil {
		log.Printf("login: session get failed: %v", err)
		return jsonError(c, fiber.StatusInternalServerError, "internal_error", "could not establish session")
	}

	sess.Set(AUTH_KEY, true)
	sess.Set(USER_ID, user.ID)
	sess.Set(USER_NAME, user.Name)
	sess.Set(USER_IS_ADMIN, user.Role == models.ROLE_ADMIN)

	if err := sess.Save(); err != nil {
		log.Printf("login: session save failed: %v", err)
		return jsonError(c, fiber.StatusInternalServerError, "internal_error", "could not establish session")
	}

	now := time.Now()
	user.LastLoginAt = &now
	if err := userRepo.Update(user); err != nil {
		log.Printf("login: last_login_at update failed: %v", err)
	}

	return c.JSON(fiber.Map{
		"success": true,
		"user": fiber.Map{
			"id":    user.ID,
			"name":  user.Name,
			"email": user.Email,
			"role":  user.Role,
		},
	})
}

// HandleAuthLogout destroys the current session.
func HandleAuthLogout(c *fiber.Ctx) error {
	sess, err := session.GetSessionStore().Get(c)
	if err != nil {
		return c.JSON(fiber.Map{"success": true})
	}
	if err := sess.Destroy(); err != nil {
		log.Printf("logout: session destroy failed: %v", err)
		return jsonError(c, fiber.StatusInternalServerError, "internal_error", "could not destroy session")
	}
	return c.JSON(fiber.Map{"success": true})
}
