package controllers

import (
	"errors"
	"log"

	"github.com/gofiber/fiber/v2"
	"gorm.io/gorm"

	"github.com/nimbusdeck/nimbusdeck/app/models"
	"github.com/nimbusdeck/nimbusdeck/app/repository"
	"github.com/nimbusdeck/nimbusdeck/internal/pkg/usercontext"
)

type createOrganizationRequest struct {
	Name  string `json:"name" validate:"required,min=2,max=150"`
	Seats int    `json:"seats" validate:"omitempty,min=1,max=1000"`
}

type addMemberRequest struct {
	UserID uint   `json:"userId"`
	Email  string `json:"email" validate:"omitempty,email"`
	Role   string `json:"role" validate:"omitempty,oneof=admin member"`
}

// HandleCreateOrganization creates an organization owned by the calling
// user and adds them as its first member.
func HandleCreateOrganization(c *fiber.Ctx) error {
	userID := usercontext.GetUserID(c)
	if userID == 0 {
		return jsonError(c, fiber.StatusUnauthorized, "unauthorized", "login required")
	}

	var req createOrganizationRequest
	if err := c.BodyParser(&req); err != nil {
		return jsonError(c, fiber.StatusBadRequest, "invalid_body", "request body must be valid JSON")
	}
	if err := validate.Struct(&req); err != nil {
		return jsonError(c, fiber.StatusBadRequest, "validation_failed", validationMessage(err))
	}

	seats := req.Seats
	if seats < 1 {
		seats = 1
	}

	orgRepo := repository.GetGlobalRepositories().Organization
	org := &models.Organization{
		Name:    req.Name,
		OwnerID: userID,
		Plan:    "free",
		Seats:   seats,
	}
	if err := orgRepo.Create(org); err != nil {
		log.Printf("organization: create failed: %v", err)
		return jsonError(c, fiber.StatusInternalServerError, "internal_error", "could not create organization")
	}

	member := &models.OrganizationMember{
		OrganizationID: org.ID,
		UserID:         userID,
		Role:           models.ORG_ROLE_OWNER,
	}
	if err := orgRepo.AddMember(member); err != nil {
		log.Printf("organization: add owner member failed: %v", err)
		return jsonError(c, fiber.StatusInternalServerError, "internal_error", "could not create organization")
	}

	return c.Status(fiber.StatusCreated).JSON(fiber.Map{
		"success":      true,
		"organization": org,
	})
}

// HandleListOrganizations returns the organizations the calling user
// belongs to.
func HandleListOrganizations(c *fiber.Ctx) error {
	userID := usercontext.GetUserID(c)
	if userID == 0 {
		return jsonError(c, fiber.StatusUnauthorized, "unauthorized", "login required")
	}

	orgs, err := repository.GetGlobalRepositories().Organization.ListByUser(userID)
	if err != nil {
		log.Printf("organization: list failed: %v", err)
		return jsonError(c, fiber.StatusInternalServerError, "internal_error", "could not list organizations")
	}

	return c.JSON(fiber.Map{
		"success":       true,
		"organizations": orgs,
	})
}

// HandleAddOrganizationMember adds a user to an organization. Only the
// owner or an org admin may add members, and the seat count caps
// membership.
func HandleAddOrganizationMember(c *fiber.Ctx) error {
	callerID := usercontext.GetUserID(c)
	if callerID == 0 {
		return jsonError(c, fiber.StatusUnauthorized, "unauthorized", "login required")
	}

	orgID, err := c.ParamsInt("id")
	if err != nil || orgID <= 0 {
		return jsonError(c, fiber.StatusBadRequest, "validation_failed", "invalid organization id")
	}

	var req addMemberRequest
	if err := c.BodyParser(&req); err != nil {
		return jsonError(c, fiber.StatusBadRequest, "invalid_body", "request body must be valid JSON")
	}
	if err := validate.Struct(&req); err != nil {
		return jsonError(c, fiber.StatusBadRequest, "validation_failed", validationMessage(err))
	}
	if req.UserID == 0 && req.Email == "" {
		return jsonError(c, fiber.StatusBadRequest, "validation_failed", "userId or email is required")
	}

	repos := repository.GetGlobalRepositories()
	org, err := repos.Organization.GetByID(uint(orgID))
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return jsonError(c, fiber.StatusNotFound, "not_found", "organization not found")
		}
		log.Printf("organization: load failed: %v", err)
		return jsonError(c, fiber.StatusInternalServerError, "internal_error", "could not load organization")
	}

	caller, err := repos.Organization.GetMember(org.ID, callerID)
	if err != nil || (caller.Role != models.ORG_ROLE_OWNER && caller.Role != models.ORG_ROLE_ADMIN) {
		return jsonError(c, fiber.StatusForbidden, "forbidden", "owner or admin role required")
	}

	target := req.UserID
	if target == 0 {
		user, err := repos.User.GetByEmail(req.Email)
		if err != nil {
			return jsonError(c, fiber.StatusNotFound, "not_found", "no user with this email")
		}
		target = user.ID
	}

	if _, err := repos.Organization.GetMember(org.ID, target); err == nil {
		return jsonError(c, fiber.StatusConflict, "already_member", "user is already a member")
	}

	count, err := repos.Organization.CountMembers(org.ID)
	if err != nil {
		log.Printf("organization: member count failed: %v", err)
		return jsonError(c, fiber.StatusInternalServerError, "internal_error", "could not add member")
	}
	if count >= int64(org.Seats) {
		return jsonError(c, fiber.StatusConflict, "seats_exhausted", "organization has no free seats")
	}

	role := req.Role
	if role == "" {
		role = models.ORG_ROLE_MEMBER
	}
	member := &models.OrganizationMember{
		OrganizationID: org.ID,
		UserID:         target,
		Role:           role,
	}
	if err := repos.Organization.AddMember(member); err != nil {
		log.Printf("organization: add member failed: %v", err)
		return jsonError(c, fiber.StatusInternalServerError, "internal_error", "could not add member")
	}

	return c.Status(fiber.StatusCreated).JSON(fiber.Map{
		"success": true,
		"member":  member,
	})
}
