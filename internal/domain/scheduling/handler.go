package scheduling

import (
	"errors"
	"net/http"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"

	"github.com/carebook/booking/internal/platform/auth"
	"github.com/carebook/booking/pkg/pagination"
)

type Handler struct {
	svc *Service
}

func NewHandler(svc *Service) *Handler {
	return &Handler{svc: svc}
}

func (h *Handler) RegisterRoutes(api *echo.Group) {
	anyRole := auth.RequireRole(auth.RolePatient, auth.RoleDoctor, auth.RoleFieldWorker)
	bookers := auth.RequireRole(auth.RolePatient, auth.RoleFieldWorker)
	clinical := auth.RequireRole(auth.RoleDoctor)

	api.GET("/providers/:id/slots", h.ListSlots, anyRole)
	api.GET("/providers/:id/availability", h.GetAvailability, anyRole)
	api.GET("/providers/:id/appointments", h.ListProviderAppointments, clinical)

	api.POST("/appointments", h.CreateAppointment, bookers)
	api.GET("/appointments", h.ListPatientAppointments, anyRole)
	api.GET("/appointments/ref/:reference", h.GetAppointmentByReference, anyRole)
	api.GET("/appointments/:id", h.GetAppointment, anyRole)
	api.POST("/appointments/:id/cancel", h.CancelAppointment, anyRole)
	api.POST("/appointments/:id/reschedule", h.RescheduleAppointment, bookers)
	api.PATCH("/appointments/:id/status", h.UpdateStatus, clinical)
}

// mapError translates booking errors into HTTP errors.
func mapError(err error) error {
	switch {
	case errors.Is(err, ErrValidation):
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	case errors.Is(err, ErrNotFound):
		return echo.NewHTTPError(http.StatusNotFound, err.Error())
	case errors.Is(err, ErrConflict), errors.Is(err, ErrInvalidTransition):
		return echo.NewHTTPError(http.StatusConflict, err.Error())
	case errors.Is(err, ErrPolicyViolation), errors.Is(err, ErrProviderUnavailable):
		return echo.NewHTTPError(http.StatusUnprocessableEntity, err.Error())
	default:
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
}

func parseIDParam(c echo.Context, name string) (uuid.UUID, error) {
	id, err := uuid.Parse(c.Param(name))
	if err != nil {
		return uuid.Nil, echo.NewHTTPError(http.StatusBadRequest, "invalid "+name)
	}
	return id, nil
}

func callerID(c echo.Context) (uuid.UUID, error) {
	id, err := uuid.Parse(auth.UserIDFromContext(c.Request().Context()))
	if err != nil {
		return uuid.Nil, echo.NewHTTPError(http.StatusUnauthorized, "caller identity is not a valid id")
	}
	return id, nil
}

// patientOnly reports whether the caller acts solely as a patient and so may
// only touch their own appointments.
func patientOnly(c echo.Context) bool {
	return !auth.HasAnyRole(c.Request().Context(), auth.RoleDoctor, auth.RoleFieldWorker)
}

func (h *Handler) checkOwner(c echo.Context, a *Appointment) error {
	if !patientOnly(c) {
		return nil
	}
	me, err := callerID(c)
	if err != nil {
		return err
	}
	if a.PatientID != me {
		return echo.NewHTTPError(http.StatusForbidden, "appointment belongs to another patient")
	}
	return nil
}

// loadOwned fetches the appointment named by :id and checks the caller may act on it.
func (h *Handler) loadOwned(c echo.Context) (*Appointment, error) {
	id, err := parseIDParam(c, "id")
	if err != nil {
		return nil, err
	}
	a, err := h.svc.GetBooking(c.Request().Context(), id)
	if err != nil {
		return nil, mapError(err)
	}
	if err := h.checkOwner(c, a); err != nil {
		return nil, err
	}
	return a, nil
}

// -- Providers --

func (h *Handler) ListSlots(c echo.Context) error {
	providerID, err := parseIDParam(c, "id")
	if err != nil {
		return err
	}
	date := c.QueryParam("date")
	if date == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "date query parameter is required")
	}
	slots, err := h.svc.GetAvailableSlots(c.Request().Context(), providerID, date)
	if err != nil {
		return mapError(err)
	}
	return c.JSON(http.StatusOK, map[string]interface{}{
		"provider_id": providerID,
		"date":        date,
		"slots":       slots,
	})
}

func (h *Handler) GetAvailability(c echo.Context) error {
	providerID, err := parseIDParam(c, "id")
	if err != nil {
		return err
	}
	p, err := h.svc.GetProviderAvailability(c.Request().Context(), providerID)
	if err != nil {
		return mapError(err)
	}
	return c.JSON(http.StatusOK, p)
}

func (h *Handler) ListProviderAppointments(c echo.Context) error {
	providerID, err := parseIDParam(c, "id")
	if err != nil {
		return err
	}
	date := c.QueryParam("date")
	if date == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "date query parameter is required")
	}
	pg := pagination.FromContext(c)
	items, total, err := h.svc.ListProviderBookings(c.Request().Context(), providerID, date, pg.Limit, pg.Offset)
	if err != nil {
		return mapError(err)
	}
	return c.JSON(http.StatusOK, pagination.NewResponse(items, total, pg))
}

// -- Appointments --

func (h *Handler) CreateAppointment(c echo.Context) error {
	var req BookingRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	me, err := callerID(c)
	if err != nil {
		return err
	}
	if patientOnly(c) {
		if req.PatientID == uuid.Nil {
			req.PatientID = me
		}
		if req.PatientID != me {
			return echo.NewHTTPError(http.StatusForbidden, "patients may only book for themselves")
		}
		req.BookedBy = nil
	} else if auth.HasAnyRole(c.Request().Context(), auth.RoleFieldWorker) && req.PatientID != me {
		req.BookedBy = &me
	}

	a, err := h.svc.CreateBooking(c.Request().Context(), req)
	if err != nil {
		return mapError(err)
	}
	return c.JSON(http.StatusCreated, a)
}

func (h *Handler) GetAppointment(c echo.Context) error {
	a, err := h.loadOwned(c)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, a)
}

func (h *Handler) GetAppointmentByReference(c echo.Context) error {
	a, err := h.svc.GetBookingByReference(c.Request().Context(), c.Param("reference"))
	if err != nil {
		return mapError(err)
	}
	if err := h.checkOwner(c, a); err != nil {
		return err
	}
	return c.JSON(http.StatusOK, a)
}

func (h *Handler) ListPatientAppointments(c echo.Context) error {
	var patientID uuid.UUID
	if raw := c.QueryParam("patient_id"); raw != "" {
		id, err := uuid.Parse(raw)
		if err != nil {
			return echo.NewHTTPError(http.StatusBadRequest, "invalid patient_id")
		}
		patientID = id
	}
	if patientOnly(c) {
		me, err := callerID(c)
		if err != nil {
			return err
		}
		if patientID != uuid.Nil && patientID != me {
			return echo.NewHTTPError(http.StatusForbidden, "patients may only list their own appointments")
		}
		patientID = me
	}
	if patientID == uuid.Nil {
		return echo.NewHTTPError(http.StatusBadRequest, "patient_id is required")
	}

	var status *Status
	if raw := c.QueryParam("status"); raw != "" {
		st, err := ParseStatus(raw)
		if err != nil {
			return mapError(err)
		}
		status = &st
	}

	pg := pagination.FromContext(c)
	items, total, err := h.svc.ListPatientBookings(c.Request().Context(), patientID, status, pg.Limit, pg.Offset)
	if err != nil {
		return mapError(err)
	}
	return c.JSON(http.StatusOK, pagination.NewResponse(items, total, pg))
}

type cancelRequest struct {
	Reason string `json:"reason"`
}

func (h *Handler) CancelAppointment(c echo.Context) error {
	var req cancelRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	a, err := h.loadOwned(c)
	if err != nil {
		return err
	}
	actor, err := callerID(c)
	if err != nil {
		return err
	}
	a, err = h.svc.CancelBooking(c.Request().Context(), a.ID, actor, req.Reason)
	if err != nil {
		return mapError(err)
	}
	return c.JSON(http.StatusOK, a)
}

type rescheduleRequest struct {
	Date string `json:"date"`
	Time string `json:"time"`
}

func (h *Handler) RescheduleAppointment(c echo.Context) error {
	var req rescheduleRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	if req.Date == "" || req.Time == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "date and time are required")
	}
	a, err := h.loadOwned(c)
	if err != nil {
		return err
	}
	original, successor, err := h.svc.RescheduleBooking(c.Request().Context(), a.ID, req.Date, req.Time)
	if err != nil {
		return mapError(err)
	}
	return c.JSON(http.StatusOK, map[string]interface{}{
		"original":    original,
		"appointment": successor,
	})
}

type statusRequest struct {
	Status                Status  `json:"status"`
	Notes                 *string `json:"notes,omitempty"`
	ActualDurationMinutes *int    `json:"actual_duration_minutes,omitempty"`
}

func (h *Handler) UpdateStatus(c echo.Context) error {
	id, err := parseIDParam(c, "id")
	if err != nil {
		return err
	}
	var req statusRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	target, err := ParseStatus(string(req.Status))
	if err != nil {
		return mapError(err)
	}
	a, err := h.svc.UpdateStatus(c.Request().Context(), id, target, req.Notes, req.ActualDurationMinutes)
	if err != nil {
		return mapError(err)
	}
	return c.JSON(http.StatusOK, a)
}
