package handler

import (
	"log"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/labstack/echo/v4"

	"github.com/dan09-stack/qcea-queue/internal/model"
	"github.com/dan09-stack/qcea-queue/internal/publisher"
	"github.com/dan09-stack/qcea-queue/internal/queue"
	"github.com/dan09-stack/qcea-queue/internal/service"
	"github.com/dan09-stack/qcea-queue/internal/sse"
)

// QueueHandler exposes the queue operations over HTTP. Every mutation
// goes through the QueueService; handlers never issue store writes of
// their own. After a successful mutation the handler publishes an
// event to RabbitMQ (best-effort) and pushes a fresh snapshot to the
// SSE subscribers of the affected faculty queue.
type QueueHandler struct {
	Svc     *service.QueueService
	Hub     *sse.Hub
	AMQPURL string
}

// NewQueueHandler constructs a QueueHandler. Hub may be nil in tests.
func NewQueueHandler(svc *service.QueueService, hub *sse.Hub, amqpURL string) *QueueHandler {
	if svc == nil {
		panic("nil service passed to NewQueueHandler")
	}
	return &QueueHandler{Svc: svc, Hub: hub, AMQPURL: amqpURL}
}

// writeServiceError translates queue service errors into HTTP
// responses: validation 400, not-found 404, transient 503 with
// Retry-After, anything else 500.
func writeServiceError(c echo.Context, err error) error {
	if service.IsValidation(err) {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": err.Error()})
	}
	if service.IsNotFound(err) {
		return c.JSON(http.StatusNotFound, echo.Map{"error": err.Error()})
	}
	if service.IsTransient(err) {
		c.Response().Header().Set("Retry-After", "1")
		return c.JSON(http.StatusServiceUnavailable, echo.Map{"error": "store temporarily unavailable"})
	}
	log.Printf("handler: %s %s failed: %v", c.Request().Method, c.Path(), err)
	return c.JSON(http.StatusInternalServerError, echo.Map{"error": "database error"})
}

func facultyParam(c echo.Context) string {
	name := c.Param("name")
	if decoded, err := url.PathUnescape(name); err == nil {
		return decoded
	}
	return name
}

// notifyFaculty pushes a fresh snapshot of the faculty queue to its
// SSE subscribers. Snapshot failures are logged, never surfaced: the
// mutation already committed.
func (h *QueueHandler) notifyFaculty(c echo.Context, faculty, eventType string) {
	if h.Hub == nil {
		return
	}
	snap, err := h.Svc.QueueSnapshot(c.Request().Context(), faculty)
	if err != nil {
		log.Printf("handler: snapshot for sse broadcast failed: %v", err)
		return
	}
	h.Hub.BroadcastFaculty(faculty, eventType, snap)
}

// RequestQueue handles POST /v1/queue. The body carries the requester
// id, faculty name, concern (or other_concern) and optional details.
// Returns 201 with the issued ticket.
func (h *QueueHandler) RequestQueue(c echo.Context) error {
	var body struct {
		PersonID     uint64 `json:"person_id"`
		Faculty      string `json:"faculty"`
		Concern      string `json:"concern"`
		OtherConcern string `json:"other_concern"`
		Details      string `json:"details"`
	}
	if err := c.Bind(&body); err != nil {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid request body"})
	}
	if body.PersonID == 0 {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "person_id is required"})
	}
	ticket, err := h.Svc.RequestQueue(c.Request().Context(), body.PersonID, body.Faculty,
		body.Concern, body.OtherConcern, body.Details)
	if err != nil {
		return writeServiceError(c, err)
	}
	_ = publisher.Publish(c.Request().Context(), h.AMQPURL, queue.Event{
		Type:         queue.EventTicketRequested,
		TicketNumber: ticket.TicketNumber,
		PersonID:     ticket.PersonID,
		Faculty:      ticket.FacultyName,
		Position:     ticket.QueuePosition,
		Concern:      ticket.Concern,
		OccurredAt:   ticket.CreatedAt.Format(time.RFC3339),
	})
	h.notifyFaculty(c, ticket.FacultyName, queue.EventTicketRequested)
	return c.JSON(http.StatusCreated, ticket)
}

// CancelQueue handles DELETE /v1/queue/:personID. Cancelling without
// an active ticket reports already_inactive instead of failing, so a
// double-tap on the cancel button is harmless.
func (h *QueueHandler) CancelQueue(c echo.Context) error {
	personID, err := strconv.ParseUint(c.Param("personID"), 10, 64)
	if err != nil || personID == 0 {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid person id"})
	}
	result, err := h.Svc.CancelQueue(c.Request().Context(), personID)
	if err != nil {
		return writeServiceError(c, err)
	}
	if !result.AlreadyInactive {
		_ = publisher.Publish(c.Request().Context(), h.AMQPURL, queue.Event{
			Type:         queue.EventTicketCancelled,
			TicketNumber: result.Ticket.TicketNumber,
			PersonID:     result.Ticket.PersonID,
			Faculty:      result.FacultyName,
			Position:     result.Ticket.QueuePosition,
			Concern:      result.Ticket.Concern,
		})
		h.notifyFaculty(c, result.FacultyName, queue.EventTicketCancelled)
	}
	return c.JSON(http.StatusOK, result)
}

// CancelAll handles POST /v1/queue/cancel-all (admin). The service
// applies the cancellation as a single transaction, so the reported
// count is exact: all tickets cancelled or none.
func (h *QueueHandler) CancelAll(c echo.Context) error {
	cancelled, err := h.Svc.CancelAllQueues(c.Request().Context())
	if err != nil {
		return writeServiceError(c, err)
	}
	_ = publisher.Publish(c.Request().Context(), h.AMQPURL, queue.Event{
		Type:      queue.EventQueueCleared,
		Cancelled: cancelled,
	})
	if h.Hub != nil {
		h.Hub.BroadcastAll(queue.EventQueueCleared, echo.Map{"cancelled": cancelled})
	}
	return c.JSON(http.StatusOK, echo.Map{"cancelled": cancelled})
}

// CallNext handles POST /v1/faculty/:name/next (faculty/admin). An
// empty queue returns 200 with a null ticket after completing the one
// on display.
func (h *QueueHandler) CallNext(c echo.Context) error {
	faculty := facultyParam(c)
	ticket, err := h.Svc.CallNextTicket(c.Request().Context(), faculty)
	if err != nil {
		return writeServiceError(c, err)
	}
	if ticket != nil {
		_ = publisher.Publish(c.Request().Context(), h.AMQPURL, queue.Event{
			Type:         queue.EventTicketCalled,
			TicketNumber: ticket.TicketNumber,
			PersonID:     ticket.PersonID,
			Faculty:      ticket.FacultyName,
			Position:     ticket.QueuePosition,
			Concern:      ticket.Concern,
		})
	}
	h.notifyFaculty(c, faculty, queue.EventTicketCalled)
	return c.JSON(http.StatusOK, echo.Map{"ticket": ticket})
}

// Snapshot handles GET /v1/faculty/:name/queue.
func (h *QueueHandler) Snapshot(c echo.Context) error {
	snap, err := h.Svc.QueueSnapshot(c.Request().Context(), facultyParam(c))
	if err != nil {
		return writeServiceError(c, err)
	}
	return c.JSON(http.StatusOK, snap)
}

// Stream handles GET /v1/faculty/:name/queue/stream: an SSE feed of
// snapshots for one faculty queue. The initial snapshot arrives via
// the first broadcast after any mutation; clients render the REST
// snapshot first.
func (h *QueueHandler) Stream(c echo.Context) error {
	faculty := facultyParam(c)
	if _, err := h.Svc.QueueSnapshot(c.Request().Context(), faculty); err != nil {
		return writeServiceError(c, err)
	}
	h.Hub.ServeSSE(c.Response(), c.Request(), faculty)
	return nil
}

// StreamAll handles GET /v1/queue/stream: the global feed used by the
// admin dashboard.
func (h *QueueHandler) StreamAll(c echo.Context) error {
	h.Hub.ServeSSE(c.Response(), c.Request(), "")
	return nil
}

// SetPresence handles PATCH /v1/faculty/:name/presence
// (faculty/admin). Body: {"presence": "AVAILABLE"}.
func (h *QueueHandler) SetPresence(c echo.Context) error {
	faculty := facultyParam(c)
	var body struct {
		Presence model.PresenceStatus `json:"presence"`
	}
	if err := c.Bind(&body); err != nil {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid request body"})
	}
	if err := h.Svc.SetFacultyPresence(c.Request().Context(), faculty, body.Presence); err != nil {
		return writeServiceError(c, err)
	}
	h.notifyFaculty(c, faculty, "presence.changed")
	return c.JSON(http.StatusOK, echo.Map{"faculty": faculty, "presence": body.Presence})
}
