package handler

import (
	"errors"
	"net/http"
	"strconv"
	"strings"

	"github.com/labstack/echo/v4"

	"github.com/dan09-stack/qcea-queue/internal/model"
	"github.com/dan09-stack/qcea-queue/internal/repository"
)

// DirectoryHandler exposes read access to the person directory. All
// writes to directory records flow through the queue service or the
// admin tooling of the hosted backend, never through these handlers.
type DirectoryHandler struct {
	Persons *repository.PersonRepo
}

// NewDirectoryHandler constructs a DirectoryHandler.
func NewDirectoryHandler(persons *repository.PersonRepo) *DirectoryHandler {
	if persons == nil {
		panic("nil repository passed to NewDirectoryHandler")
	}
	return &DirectoryHandler{Persons: persons}
}

// ListFaculty handles GET /v1/faculty. The optional ?presence= query
// filters by availability; the kiosk uses ?presence=AVAILABLE to offer
// only faculty that can be queued for.
func (h *DirectoryHandler) ListFaculty(c echo.Context) error {
	presence := model.PresenceStatus(strings.ToUpper(c.QueryParam("presence")))
	if presence != "" && !model.ValidPresence(presence) {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid presence filter"})
	}
	faculty, err := h.Persons.FindByRole(c.Request().Context(), model.RoleFaculty, presence)
	if err != nil {
		return c.JSON(http.StatusInternalServerError, echo.Map{"error": "database error"})
	}
	return c.JSON(http.StatusOK, echo.Map{"faculty": faculty})
}

// GetPerson handles GET /v1/persons/:id.
func (h *DirectoryHandler) GetPerson(c echo.Context) error {
	id, err := strconv.ParseUint(c.Param("id"), 10, 64)
	if err != nil || id == 0 {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid person id"})
	}
	person, err := h.Persons.FindByID(c.Request().Context(), id)
	if err != nil {
		if errors.Is(err, repository.ErrPersonNotFound) {
			return c.JSON(http.StatusNotFound, echo.Map{"error": "person not found"})
		}
		return c.JSON(http.StatusInternalServerError, echo.Map{"error": "database error"})
	}
	return c.JSON(http.StatusOK, person)
}
