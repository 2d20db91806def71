package locker

import (
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/gofiber/fiber/v2"

	"github.com/ragkasi/BreatheSafe/internal/binding"
)

// Handler exposes locker endpoints of the direct API.
type Handler struct {
	service *Service
}

// NewHandler builds a locker HTTP handler.
func NewHandler(service *Service) *Handler {
	return &Handler{service: service}
}

type ownerQuery struct {
	UserID string `query:"userId" validate:"required,uuid"`
}

type lockerResponse struct {
	ID        int64     `json:"id"`
	Locked    bool      `json:"locked"`
	UserID    string    `json:"assigned_user_id,omitempty"`
	UpdatedAt time.Time `json:"updated_at"`
}

func toResponse(l Locker) lockerResponse {
	return lockerResponse{ID: l.ID, Locked: l.Locked, UserID: l.UserID, UpdatedAt: l.UpdatedAt}
}

// Create provisions a new free locker.
func (h *Handler) Create(c *fiber.Ctx) error {
	l, err := h.service.Create(c.UserContext())
	if err != nil {
		return fiber.NewError(http.StatusInternalServerError, err.Error())
	}
	return c.Status(http.StatusCreated).JSON(toResponse(l))
}

// List returns every locker.
func (h *Handler) List(c *fiber.Ctx) error {
	lockers, err := h.service.List(c.UserContext())
	if err != nil {
		return fiber.NewError(http.StatusInternalServerError, err.Error())
	}
	out := make([]lockerResponse, 0, len(lockers))
	for _, l := range lockers {
		out = append(out, toResponse(l))
	}
	return c.Status(http.StatusOK).JSON(fiber.Map{"lockers": out})
}

// Get returns a single locker.
func (h *Handler) Get(c *fiber.Ctx) error {
	id, err := lockerID(c)
	if err != nil {
		return err
	}
	l, err := h.service.Get(c.UserContext(), id)
	if err != nil {
		return mapError(err)
	}
	return c.Status(http.StatusOK).JSON(toResponse(l))
}

// Assign gives a locker to a user regardless of its current owner.
func (h *Handler) Assign(c *fiber.Ctx) error {
	id, err := lockerID(c)
	if err != nil {
		return err
	}
	var q ownerQuery
	if err := binding.Query(c, &q); err != nil {
		return err
	}
	l, err := h.service.Assign(c.UserContext(), id, q.UserID)
	if err != nil {
		return mapError(err)
	}
	return c.Status(http.StatusOK).JSON(toResponse(l))
}

// Unlock opens a locker on behalf of its owner.
func (h *Handler) Unlock(c *fiber.Ctx) error {
	id, err := lockerID(c)
	if err != nil {
		return err
	}
	var q ownerQuery
	if err := binding.Query(c, &q); err != nil {
		return err
	}
	l, err := h.service.Unlock(c.UserContext(), id, q.UserID)
	if err != nil {
		return mapError(err)
	}
	return c.Status(http.StatusOK).JSON(toResponse(l))
}

func lockerID(c *fiber.Ctx) (int64, error) {
	id, err := strconv.ParseInt(c.Params("lockerId"), 10, 64)
	if err != nil || id <= 0 {
		return 0, fiber.NewError(http.StatusBadRequest, "locker id must be a positive integer")
	}
	return id, nil
}

func mapError(err error) error {
	switch {
	case errors.Is(err, ErrNotFound):
		return fiber.NewError(http.StatusNotFound, err.Error())
	case errors.Is(err, ErrNotOwner):
		return fiber.NewError(http.StatusForbidden, err.Error())
	case errors.Is(err, ErrNoCapacity):
		return fiber.NewError(http.StatusConflict, err.Error())
	default:
		return fiber.NewError(http.StatusInternalServerError, err.Error())
	}
}
