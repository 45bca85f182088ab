package scheduling

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"

	"github.com/carebook/booking/internal/platform/auth"
)

type apiEnv struct {
	*testEnv
	e *echo.Echo
}

func newAPIEnv(t *testing.T) *apiEnv {
	t.Helper()
	env := newTestEnv(t)
	e := echo.New()
	api := e.Group("/api/v1", auth.DevAuthMiddleware())
	NewHandler(env.svc).RegisterRoutes(api)
	return &apiEnv{testEnv: env, e: e}
}

func (a *apiEnv) do(method, path, body, userID, role string) *httptest.ResponseRecorder {
	var req *http.Request
	if body != "" {
		req = httptest.NewRequest(method, path, strings.NewReader(body))
		req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	} else {
		req = httptest.NewRequest(method, path, nil)
	}
	if userID != "" {
		req.Header.Set("X-User-ID", userID)
	}
	if role != "" {
		req.Header.Set("X-User-Role", role)
	}
	rec := httptest.NewRecorder()
	a.e.ServeHTTP(rec, req)
	return rec
}

func decode(t *testing.T, rec *httptest.ResponseRecorder, v interface{}) {
	t.Helper()
	if err := json.Unmarshal(rec.Body.Bytes(), v); err != nil {
		t.Fatalf("decode %q: %v", rec.Body.String(), err)
	}
}

func bookingBody(providerID uuid.UUID, patientID *uuid.UUID, date, hhmm string) string {
	body := map[string]interface{}{
		"provider_id": providerID,
		"date":        date,
		"time":        hhmm,
		"modality":    "video",
		"reason":      "sore throat",
	}
	if patientID != nil {
		body["patient_id"] = *patientID
	}
	b, _ := json.Marshal(body)
	return string(b)
}

func TestHandler_ListSlots(t *testing.T) {
	api := newAPIEnv(t)
	path := "/api/v1/providers/" + api.provider.ProviderID.String() + "/slots?date=" + testMonday

	rec := api.do(http.MethodGet, path, "", uuid.NewString(), auth.RolePatient)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	var resp struct {
		Date  string `json:"date"`
		Slots []Slot `json:"slots"`
	}
	decode(t, rec, &resp)
	if resp.Date != testMonday || len(resp.Slots) != 16 {
		t.Errorf("got %d slots for %s", len(resp.Slots), resp.Date)
	}

	missing := api.do(http.MethodGet, "/api/v1/providers/"+api.provider.ProviderID.String()+"/slots", "", "", "")
	if missing.Code != http.StatusBadRequest {
		t.Errorf("missing date: expected 400, got %d", missing.Code)
	}
	unknown := api.do(http.MethodGet, "/api/v1/providers/"+uuid.NewString()+"/slots?date="+testMonday, "", "", "")
	if unknown.Code != http.StatusNotFound {
		t.Errorf("unknown provider: expected 404, got %d", unknown.Code)
	}
	badID := api.do(http.MethodGet, "/api/v1/providers/not-a-uuid/slots?date="+testMonday, "", "", "")
	if badID.Code != http.StatusBadRequest {
		t.Errorf("bad id: expected 400, got %d", badID.Code)
	}
}

func TestHandler_PatientBooksForSelf(t *testing.T) {
	api := newAPIEnv(t)
	me := uuid.New()

	rec := api.do(http.MethodPost, "/api/v1/appointments",
		bookingBody(api.provider.ProviderID, nil, testMonday, "10:00"), me.String(), auth.RolePatient)
	if rec.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d: %s", rec.Code, rec.Body.String())
	}
	var a Appointment
	decode(t, rec, &a)
	if a.PatientID != me || a.Status != StatusScheduled || a.BookedBy != nil {
		t.Errorf("unexpected appointment %+v", a)
	}

	again := api.do(http.MethodPost, "/api/v1/appointments",
		bookingBody(api.provider.ProviderID, nil, testMonday, "10:00"), uuid.NewString(), auth.RolePatient)
	if again.Code != http.StatusConflict {
		t.Errorf("taken slot: expected 409, got %d", again.Code)
	}
}

func TestHandler_CreateAuthorization(t *testing.T) {
	api := newAPIEnv(t)
	other := uuid.New()

	rec := api.do(http.MethodPost, "/api/v1/appointments",
		bookingBody(api.provider.ProviderID, &other, testMonday, "10:00"), uuid.NewString(), auth.RolePatient)
	if rec.Code != http.StatusForbidden {
		t.Errorf("patient booking for someone else: expected 403, got %d", rec.Code)
	}

	rec = api.do(http.MethodPost, "/api/v1/appointments",
		bookingBody(api.provider.ProviderID, &other, testMonday, "10:00"), uuid.NewString(), auth.RoleDoctor)
	if rec.Code != http.StatusForbidden {
		t.Errorf("doctor booking: expected 403, got %d", rec.Code)
	}

	worker := uuid.New()
	rec = api.do(http.MethodPost, "/api/v1/appointments",
		bookingBody(api.provider.ProviderID, &other, testMonday, "10:00"), worker.String(), auth.RoleFieldWorker)
	if rec.Code != http.StatusCreated {
		t.Fatalf("field worker booking: expected 201, got %d: %s", rec.Code, rec.Body.String())
	}
	var a Appointment
	decode(t, rec, &a)
	if a.PatientID != other || a.BookedBy == nil || *a.BookedBy != worker {
		t.Errorf("booked_by should be the field worker: %+v", a)
	}
}

func TestHandler_CreateValidation(t *testing.T) {
	api := newAPIEnv(t)
	tests := []struct {
		name string
		body string
		want int
	}{
		{"malformed json", `{"date":`, http.StatusBadRequest},
		{"off grid", bookingBody(api.provider.ProviderID, nil, testMonday, "10:10"), http.StatusBadRequest},
		{"non-working day", bookingBody(api.provider.ProviderID, nil, testSaturday, "10:00"), http.StatusUnprocessableEntity},
		{"unknown provider", bookingBody(uuid.New(), nil, testMonday, "10:00"), http.StatusUnprocessableEntity},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := api.do(http.MethodPost, "/api/v1/appointments", tt.body, uuid.NewString(), auth.RolePatient)
			if rec.Code != tt.want {
				t.Errorf("expected %d, got %d: %s", tt.want, rec.Code, rec.Body.String())
			}
		})
	}
}

func TestHandler_GetAppointmentOwnership(t *testing.T) {
	api := newAPIEnv(t)
	a := api.book(t, testMonday, "10:00")
	path := "/api/v1/appointments/" + a.ID.String()

	if rec := api.do(http.MethodGet, path, "", a.PatientID.String(), auth.RolePatient); rec.Code != http.StatusOK {
		t.Errorf("owner: expected 200, got %d", rec.Code)
	}
	if rec := api.do(http.MethodGet, path, "", uuid.NewString(), auth.RolePatient); rec.Code != http.StatusForbidden {
		t.Errorf("other patient: expected 403, got %d", rec.Code)
	}
	if rec := api.do(http.MethodGet, path, "", uuid.NewString(), auth.RoleDoctor); rec.Code != http.StatusOK {
		t.Errorf("doctor: expected 200, got %d", rec.Code)
	}
	if rec := api.do(http.MethodGet, "/api/v1/appointments/ref/"+a.Reference, "", a.PatientID.String(), auth.RolePatient); rec.Code != http.StatusOK {
		t.Errorf("by reference: expected 200, got %d", rec.Code)
	}
	if rec := api.do(http.MethodGet, "/api/v1/appointments/"+uuid.NewString(), "", "", ""); rec.Code != http.StatusNotFound {
		t.Errorf("unknown: expected 404, got %d", rec.Code)
	}
}

func TestHandler_Cancel(t *testing.T) {
	api := newAPIEnv(t)
	soon := api.book(t, testMonday, "09:00")
	later := api.book(t, testMonday, "11:00")

	rec := api.do(http.MethodPost, "/api/v1/appointments/"+soon.ID.String()+"/cancel",
		`{"reason":"late"}`, soon.PatientID.String(), auth.RolePatient)
	if rec.Code != http.StatusUnprocessableEntity {
		t.Errorf("inside window: expected 422, got %d", rec.Code)
	}

	rec = api.do(http.MethodPost, "/api/v1/appointments/"+later.ID.String()+"/cancel",
		`{"reason":"travel"}`, later.PatientID.String(), auth.RolePatient)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	var a Appointment
	decode(t, rec, &a)
	if a.Status != StatusCancelled || a.CancelledBy == nil || *a.CancelledBy != later.PatientID {
		t.Errorf("unexpected appointment %+v", a)
	}

	rec = api.do(http.MethodPost, "/api/v1/appointments/"+later.ID.String()+"/cancel",
		`{}`, later.PatientID.String(), auth.RolePatient)
	if rec.Code != http.StatusConflict {
		t.Errorf("already cancelled: expected 409, got %d", rec.Code)
	}
}

func TestHandler_Reschedule(t *testing.T) {
	api := newAPIEnv(t)
	a := api.book(t, testMonday, "14:00")

	rec := api.do(http.MethodPost, "/api/v1/appointments/"+a.ID.String()+"/reschedule",
		`{"date":"`+testTuesday+`","time":"11:00"}`, a.PatientID.String(), auth.RolePatient)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	var resp struct {
		Original    Appointment `json:"original"`
		Appointment Appointment `json:"appointment"`
	}
	decode(t, rec, &resp)
	if resp.Original.Status != StatusRescheduled || resp.Appointment.Status != StatusScheduled {
		t.Errorf("statuses %s/%s", resp.Original.Status, resp.Appointment.Status)
	}
	if resp.Appointment.RescheduledFrom == nil || *resp.Appointment.RescheduledFrom != a.ID {
		t.Error("successor back link missing")
	}

	rec = api.do(http.MethodPost, "/api/v1/appointments/"+a.ID.String()+"/reschedule",
		`{"date":"`+testTuesday+`"}`, a.PatientID.String(), auth.RolePatient)
	if rec.Code != http.StatusBadRequest {
		t.Errorf("missing time: expected 400, got %d", rec.Code)
	}
}

func TestHandler_UpdateStatus(t *testing.T) {
	api := newAPIEnv(t)
	a := api.book(t, testMonday, "10:00")
	path := "/api/v1/appointments/" + a.ID.String() + "/status"

	if rec := api.do(http.MethodPatch, path, `{"status":"confirmed"}`, a.PatientID.String(), auth.RolePatient); rec.Code != http.StatusForbidden {
		t.Errorf("patient: expected 403, got %d", rec.Code)
	}

	rec := api.do(http.MethodPatch, path, `{"status":"confirmed"}`, uuid.NewString(), auth.RoleDoctor)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	var got Appointment
	decode(t, rec, &got)
	if got.Status != StatusConfirmed {
		t.Errorf("expected confirmed, got %s", got.Status)
	}

	if rec := api.do(http.MethodPatch, path, `{"status":"archived"}`, uuid.NewString(), auth.RoleDoctor); rec.Code != http.StatusBadRequest {
		t.Errorf("unknown status: expected 400, got %d", rec.Code)
	}
	if rec := api.do(http.MethodPatch, path, `{"status":"cancelled"}`, uuid.NewString(), auth.RoleDoctor); rec.Code != http.StatusConflict {
		t.Errorf("cancel via status: expected 409, got %d", rec.Code)
	}
}

func TestHandler_ListAppointments(t *testing.T) {
	api := newAPIEnv(t)
	a := api.book(t, testMonday, "10:00")
	api.book(t, testMonday, "11:00")

	rec := api.do(http.MethodGet, "/api/v1/appointments", "", a.PatientID.String(), auth.RolePatient)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	var page struct {
		Data  []Appointment `json:"data"`
		Total int           `json:"total"`
	}
	decode(t, rec, &page)
	if page.Total != 1 || len(page.Data) != 1 || page.Data[0].ID != a.ID {
		t.Errorf("patient should only see their own booking, got %d", page.Total)
	}

	rec = api.do(http.MethodGet, "/api/v1/appointments?patient_id="+uuid.NewString(), "", a.PatientID.String(), auth.RolePatient)
	if rec.Code != http.StatusForbidden {
		t.Errorf("listing another patient: expected 403, got %d", rec.Code)
	}

	rec = api.do(http.MethodGet, "/api/v1/providers/"+api.provider.ProviderID.String()+"/appointments?date="+testMonday+"&limit=1",
		"", uuid.NewString(), auth.RoleDoctor)
	if rec.Code != http.StatusOK {
		t.Fatalf("provider list: expected 200, got %d", rec.Code)
	}
	var provPage struct {
		Data    []Appointment `json:"data"`
		Total   int           `json:"total"`
		HasMore bool          `json:"has_more"`
	}
	decode(t, rec, &provPage)
	if provPage.Total != 2 || len(provPage.Data) != 1 || !provPage.HasMore {
		t.Errorf("unexpected provider page %+v", provPage)
	}
}
