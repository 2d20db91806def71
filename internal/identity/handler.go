package identity

import (
	"errors"
	"net/http"
	"time"

	"github.com/gofiber/fiber/v2"

	"github.com/ragkasi/BreatheSafe/internal/binding"
)

// Handler exposes user endpoints of the direct API.
type Handler struct {
	service *Service
}

// NewHandler constructs a user HTTP handler.
func NewHandler(service *Service) *Handler {
	return &Handler{service: service}
}

type registerRequest struct {
	Phone string `json:"phone_number" validate:"required,e164"`
	Name  string `json:"name" validate:"required,max=120"`
	PIN   string `json:"pin" validate:"required,numeric,min=4,max=12"`
}

type userResponse struct {
	ID        string    `json:"id"`
	Phone     string    `json:"phone_number"`
	Name      string    `json:"name"`
	Phase     string    `json:"phase"`
	HasPIN    bool      `json:"has_pin"`
	CreatedAt time.Time `json:"created_at"`
}

func toResponse(u User) userResponse {
	return userResponse{
		ID:        u.ID,
		Phone:     u.Phone,
		Name:      u.Name,
		Phase:     PhaseOf(&u).String(),
		HasPIN:    u.HasPIN(),
		CreatedAt: u.CreatedAt,
	}
}

// Register handles direct user onboarding.
func (h *Handler) Register(c *fiber.Ctx) error {
	var req registerRequest
	if err := binding.Body(c, &req); err != nil {
		return err
	}
	user, err := h.service.Register(c.UserContext(), RegisterInput{Phone: req.Phone, Name: req.Name, PIN: req.PIN})
	if err != nil {
		switch {
		case errors.Is(err, ErrPhoneTaken):
			return fiber.NewError(http.StatusConflict, err.Error())
		case errors.Is(err, ErrInvalidInput):
			return fiber.NewError(http.StatusBadRequest, err.Error())
		default:
			return fiber.NewError(http.StatusInternalServerError, err.Error())
		}
	}
	return c.Status(http.StatusCreated).JSON(toResponse(user))
}

// Get returns a single user by id.
func (h *Handler) Get(c *fiber.Ctx) error {
	user, err := h.service.Get(c.UserContext(), c.Params("id"))
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return fiber.NewError(http.StatusNotFound, err.Error())
		}
		return fiber.NewError(http.StatusInternalServerError, err.Error())
	}
	return c.Status(http.StatusOK).JSON(toResponse(user))
}
