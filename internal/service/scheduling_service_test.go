package service

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/clinicore/clinicore/internal/domain"
	"github.com/clinicore/clinicore/internal/domain/appointment"
	"github.com/clinicore/clinicore/internal/domain/order"
	"github.com/clinicore/clinicore/internal/domain/patient"
)

type schedFixture struct {
	appts    *memAppointmentRepo
	orders   *memOrderRepo
	patients *memPatientRepo
	entries  *memHistoryRepo
	svc      *SchedulingService
}

func newSchedFixture() *schedFixture {
	log := zap.NewNop()
	f := &schedFixture{
		appts:    newMemAppointmentRepo(),
		orders:   newMemOrderRepo(),
		patients: newMemPatientRepo(),
		entries:  newMemHistoryRepo(),
	}
	ledger := NewLedgerService(f.orders, log)
	auditSvc := NewAuditService(&memAuditRepo{}, log)
	f.svc = NewSchedulingService(f.appts, f.orders, f.patients, f.entries, ledger, passthroughTx{}, auditSvc, log)
	return f
}

func staffActor() *domain.Claims {
	return &domain.Claims{
		UserID: uuid.New(),
		Name:   "Dr. Reyes",
		Role:   domain.RoleDoctor,
	}
}

func (f *schedFixture) seedPatient(t *testing.T) *patient.Patient {
	t.Helper()
	p := &patient.Patient{Status: patient.StatusActive, FirstName: "Ana", LastName: "Silva"}
	if err := f.patients.Create(context.Background(), p); err != nil {
		t.Fatalf("seeding patient: %v", err)
	}
	return p
}

func (f *schedFixture) seedOrder(t *testing.T, patientID uuid.UUID, total, used int) *order.MedicalOrder {
	t.Helper()
	o := &order.MedicalOrder{PatientID: patientID, DoctorID: uuid.New(), TotalSessions: total, SessionsUsed: used}
	if used >= total {
		o.Completed = true
	}
	if err := f.orders.Create(context.Background(), o); err != nil {
		t.Fatalf("seeding order: %v", err)
	}
	return o
}

func bookCmd(patientID, doctorID uuid.UUID, orderID *uuid.UUID, at time.Time) *appointment.BookAppointmentCommand {
	return &appointment.BookAppointmentCommand{
		PatientID:      patientID,
		DoctorID:       doctorID,
		MedicalOrderID: orderID,
		ScheduledAt:    at,
		DurationMins:   30,
		CreatedBy:      uuid.New(),
	}
}

func TestBookRejectsPastSlot(t *testing.T) {
	f := newSchedFixture()
	p := f.seedPatient(t)

	_, err := f.svc.Book(context.Background(), bookCmd(p.ID, uuid.New(), nil, time.Now().Add(-time.Hour)), staffActor())
	if !errors.Is(err, appointment.ErrScheduledInPast) {
		t.Fatalf("Book() error = %v, want ErrScheduledInPast", err)
	}
}

func TestBookRejectsInactivePatient(t *testing.T) {
	f := newSchedFixture()
	p := &patient.Patient{Status: patient.StatusInactive}
	if err := f.patients.Create(context.Background(), p); err != nil {
		t.Fatal(err)
	}

	_, err := f.svc.Book(context.Background(), bookCmd(p.ID, uuid.New(), nil, time.Now().Add(time.Hour)), staffActor())
	if !errors.Is(err, patient.ErrPatientInactive) {
		t.Fatalf("Book() error = %v, want ErrPatientInactive", err)
	}
}

func TestBookRejectsDuplicateSlot(t *testing.T) {
	f := newSchedFixture()
	p := f.seedPatient(t)
	doctor := uuid.New()
	slot := time.Now().Add(24 * time.Hour)

	if _, err := f.svc.Book(context.Background(), bookCmd(p.ID, doctor, nil, slot), staffActor()); err != nil {
		t.Fatalf("first booking failed: %v", err)
	}

	_, err := f.svc.Book(context.Background(), bookCmd(p.ID, doctor, nil, slot), staffActor())
	if !errors.Is(err, appointment.ErrDuplicateBooking) {
		t.Fatalf("Book() error = %v, want ErrDuplicateBooking", err)
	}
}

func TestBookSlotSaturation(t *testing.T) {
	f := newSchedFixture()
	doctor := uuid.New()
	slot := time.Now().Add(24 * time.Hour)

	// Three different patients share the slot.
	for i := 0; i < 3; i++ {
		p := f.seedPatient(t)
		if _, err := f.svc.Book(context.Background(), bookCmd(p.ID, doctor, nil, slot), staffActor()); err != nil {
			t.Fatalf("booking #%d failed: %v", i+1, err)
		}
	}

	fourth := f.seedPatient(t)
	_, err := f.svc.Book(context.Background(), bookCmd(fourth.ID, doctor, nil, slot), staffActor())
	if !errors.Is(err, appointment.ErrSlotSaturated) {
		t.Fatalf("Book() error = %v, want ErrSlotSaturated", err)
	}
}

func TestBookCancelledRowFreesSlot(t *testing.T) {
	f := newSchedFixture()
	p := f.seedPatient(t)
	doctor := uuid.New()
	slot := time.Now().Add(24 * time.Hour)

	a, err := f.svc.Book(context.Background(), bookCmd(p.ID, doctor, nil, slot), staffActor())
	if err != nil {
		t.Fatalf("booking failed: %v", err)
	}
	if _, err := f.svc.Cancel(context.Background(), a.ID, "changed plans", staffActor()); err != nil {
		t.Fatalf("cancel failed: %v", err)
	}

	if _, err := f.svc.Book(context.Background(), bookCmd(p.ID, doctor, nil, slot), staffActor()); err != nil {
		t.Fatalf("rebooking after cancel failed: %v", err)
	}
}

func TestBookRequiresOrderWhenPatientHasOpenOrder(t *testing.T) {
	f := newSchedFixture()
	p := f.seedPatient(t)
	f.seedOrder(t, p.ID, 10, 0)

	_, err := f.svc.Book(context.Background(), bookCmd(p.ID, uuid.New(), nil, time.Now().Add(time.Hour)), staffActor())
	if !errors.Is(err, appointment.ErrMedicalOrderRequired) {
		t.Fatalf("Book() error = %v, want ErrMedicalOrderRequired", err)
	}
}

func TestBookRejectsExhaustedOrder(t *testing.T) {
	f := newSchedFixture()
	p := f.seedPatient(t)
	o := f.seedOrder(t, p.ID, 5, 5)

	_, err := f.svc.Book(context.Background(), bookCmd(p.ID, uuid.New(), &o.ID, time.Now().Add(time.Hour)), staffActor())
	if !errors.Is(err, order.ErrSessionsExhausted) {
		t.Fatalf("Book() error = %v, want ErrSessionsExhausted", err)
	}
}

func TestBookRejectsForeignOrder(t *testing.T) {
	f := newSchedFixture()
	p := f.seedPatient(t)
	other := f.seedPatient(t)
	o := f.seedOrder(t, other.ID, 5, 0)

	_, err := f.svc.Book(context.Background(), bookCmd(p.ID, uuid.New(), &o.ID, time.Now().Add(time.Hour)), staffActor())
	var validErr *ValidationError
	if !errors.As(err, &validErr) {
		t.Fatalf("Book() error = %v, want ValidationError", err)
	}
}

func TestBookSessionlessConsultation(t *testing.T) {
	f := newSchedFixture()
	p := f.seedPatient(t)

	a, err := f.svc.Book(context.Background(), bookCmd(p.ID, uuid.New(), nil, time.Now().Add(time.Hour)), staffActor())
	if err != nil {
		t.Fatalf("Book() error = %v", err)
	}
	if a.Status != appointment.StatusScheduled {
		t.Errorf("Status = %s, want scheduled", a.Status)
	}
	if a.MedicalOrderID != nil {
		t.Error("session-less consultation got an order linked")
	}
}

func TestMarkAttendedConsumesSessionAndCreatesEntry(t *testing.T) {
	f := newSchedFixture()
	p := f.seedPatient(t)
	o := f.seedOrder(t, p.ID, 10, 0)
	actor := staffActor()

	a, err := f.svc.Book(context.Background(), bookCmd(p.ID, uuid.New(), &o.ID, time.Now().Add(time.Hour)), actor)
	if err != nil {
		t.Fatalf("booking failed: %v", err)
	}

	attended, err := f.svc.MarkAttended(context.Background(), a.ID, AttendanceNote{
		Observations: "mobility improving",
		Evolution:    "completed full set",
	}, actor)
	if err != nil {
		t.Fatalf("MarkAttended() error = %v", err)
	}
	if attended.Status != appointment.StatusInProgress {
		t.Errorf("Status = %s, want in_progress", attended.Status)
	}

	got, err := f.orders.GetByID(context.Background(), o.ID)
	if err != nil {
		t.Fatal(err)
	}
	if got.SessionsUsed != 1 {
		t.Errorf("SessionsUsed = %d, want 1", got.SessionsUsed)
	}

	entry, err := f.entries.GetEntryByAppointmentID(context.Background(), a.ID)
	if err != nil {
		t.Fatalf("history entry missing: %v", err)
	}
	if entry.Observations != "mobility improving" {
		t.Errorf("Observations = %q", entry.Observations)
	}
	if entry.ProfessionalName != actor.Name {
		t.Errorf("ProfessionalName = %q, want %q", entry.ProfessionalName, actor.Name)
	}
}

func TestMarkAttendedSessionlessSkipsLedger(t *testing.T) {
	f := newSchedFixture()
	p := f.seedPatient(t)
	actor := staffActor()

	a, err := f.svc.Book(context.Background(), bookCmd(p.ID, uuid.New(), nil, time.Now().Add(time.Hour)), actor)
	if err != nil {
		t.Fatalf("booking failed: %v", err)
	}

	if _, err := f.svc.MarkAttended(context.Background(), a.ID, AttendanceNote{}, actor); err != nil {
		t.Fatalf("MarkAttended() error = %v", err)
	}

	if _, err := f.entries.GetEntryByAppointmentID(context.Background(), a.ID); err != nil {
		t.Errorf("history entry missing for session-less consultation: %v", err)
	}
}

func TestMarkAttendedFailsAtomicallyOnExhaustedOrder(t *testing.T) {
	f := newSchedFixture()
	p := f.seedPatient(t)
	o := f.seedOrder(t, p.ID, 2, 0)
	actor := staffActor()

	a, err := f.svc.Book(context.Background(), bookCmd(p.ID, uuid.New(), &o.ID, time.Now().Add(time.Hour)), actor)
	if err != nil {
		t.Fatalf("booking failed: %v", err)
	}

	// Exhaust the pool out of band.
	for i := 0; i < 2; i++ {
		if _, err := f.orders.ConsumeSession(context.Background(), o.ID); err != nil {
			t.Fatal(err)
		}
	}

	_, err = f.svc.MarkAttended(context.Background(), a.ID, AttendanceNote{}, actor)
	if !errors.Is(err, order.ErrSessionsExhausted) {
		t.Fatalf("MarkAttended() error = %v, want ErrSessionsExhausted", err)
	}
}

func TestRevertAttendanceKeepsEntryAndPool(t *testing.T) {
	f := newSchedFixture()
	p := f.seedPatient(t)
	o := f.seedOrder(t, p.ID, 10, 0)
	actor := staffActor()

	a, err := f.svc.Book(context.Background(), bookCmd(p.ID, uuid.New(), &o.ID, time.Now().Add(time.Hour)), actor)
	if err != nil {
		t.Fatalf("booking failed: %v", err)
	}
	if _, err := f.svc.MarkAttended(context.Background(), a.ID, AttendanceNote{Evolution: "initial"}, actor); err != nil {
		t.Fatalf("MarkAttended() error = %v", err)
	}

	reverted, err := f.svc.RevertAttendance(context.Background(), a.ID, "marked by mistake", actor)
	if err != nil {
		t.Fatalf("RevertAttendance() error = %v", err)
	}
	if reverted.Status != appointment.StatusConfirmed {
		t.Errorf("Status = %s, want confirmed", reverted.Status)
	}

	// The pool is monotonic: reverting never refunds the consumed session.
	got, err := f.orders.GetByID(context.Background(), o.ID)
	if err != nil {
		t.Fatal(err)
	}
	if got.SessionsUsed != 1 {
		t.Errorf("SessionsUsed = %d after revert, want 1", got.SessionsUsed)
	}

	entry, err := f.entries.GetEntryByAppointmentID(context.Background(), a.ID)
	if err != nil {
		t.Fatalf("history entry removed by revert: %v", err)
	}
	if entry.Evolution == "initial" {
		t.Error("reversal note not appended to entry")
	}
}

func TestRevertAttendanceRejectsNonAttended(t *testing.T) {
	f := newSchedFixture()
	p := f.seedPatient(t)
	actor := staffActor()

	a, err := f.svc.Book(context.Background(), bookCmd(p.ID, uuid.New(), nil, time.Now().Add(time.Hour)), actor)
	if err != nil {
		t.Fatalf("booking failed: %v", err)
	}

	_, err = f.svc.RevertAttendance(context.Background(), a.ID, "", actor)
	if !errors.Is(err, appointment.ErrInvalidTransition) {
		t.Fatalf("RevertAttendance() error = %v, want ErrInvalidTransition", err)
	}
}

func TestReattendAppendsToExistingEntry(t *testing.T) {
	f := newSchedFixture()
	p := f.seedPatient(t)
	o := f.seedOrder(t, p.ID, 10, 0)
	actor := staffActor()

	a, err := f.svc.Book(context.Background(), bookCmd(p.ID, uuid.New(), &o.ID, time.Now().Add(time.Hour)), actor)
	if err != nil {
		t.Fatalf("booking failed: %v", err)
	}
	if _, err := f.svc.MarkAttended(context.Background(), a.ID, AttendanceNote{Evolution: "first pass"}, actor); err != nil {
		t.Fatal(err)
	}
	if _, err := f.svc.RevertAttendance(context.Background(), a.ID, "", actor); err != nil {
		t.Fatal(err)
	}
	if _, err := f.svc.MarkAttended(context.Background(), a.ID, AttendanceNote{Evolution: "second pass"}, actor); err != nil {
		t.Fatal(err)
	}

	// Exactly one entry per appointment, with the re-attendance appended.
	entries, err := f.entries.ListEntriesByOrder(context.Background(), o.ID)
	if err != nil {
		t.Fatal(err)
	}
	if len(entries) != 1 {
		t.Fatalf("entries = %d, want 1", len(entries))
	}
}

func TestCompleteFromInProgress(t *testing.T) {
	f := newSchedFixture()
	p := f.seedPatient(t)
	actor := staffActor()

	a, err := f.svc.Book(context.Background(), bookCmd(p.ID, uuid.New(), nil, time.Now().Add(time.Hour)), actor)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := f.svc.MarkAttended(context.Background(), a.ID, AttendanceNote{}, actor); err != nil {
		t.Fatal(err)
	}

	done, err := f.svc.Complete(context.Background(), a.ID, actor)
	if err != nil {
		t.Fatalf("Complete() error = %v", err)
	}
	if done.Status != appointment.StatusCompleted {
		t.Errorf("Status = %s, want completed", done.Status)
	}
}

func TestCancelRBACForPatients(t *testing.T) {
	f := newSchedFixture()
	p := f.seedPatient(t)
	other := f.seedPatient(t)

	a, err := f.svc.Book(context.Background(), bookCmd(p.ID, uuid.New(), nil, time.Now().Add(time.Hour)), staffActor())
	if err != nil {
		t.Fatal(err)
	}

	intruder := &domain.Claims{UserID: uuid.New(), Role: domain.RolePatient, PatientID: &other.ID}
	if _, err := f.svc.Cancel(context.Background(), a.ID, "not mine", intruder); !errors.Is(err, ErrForbidden) {
		t.Fatalf("Cancel() error = %v, want ErrForbidden", err)
	}

	owner := &domain.Claims{UserID: uuid.New(), Role: domain.RolePatient, PatientID: &p.ID}
	cancelled, err := f.svc.Cancel(context.Background(), a.ID, "cannot make it", owner)
	if err != nil {
		t.Fatalf("Cancel() by owner error = %v", err)
	}
	if cancelled.Status != appointment.StatusCancelled {
		t.Errorf("Status = %s, want cancelled", cancelled.Status)
	}
}

func TestConcurrentModificationSurfaces(t *testing.T) {
	f := newSchedFixture()
	p := f.seedPatient(t)
	actor := staffActor()

	a, err := f.svc.Book(context.Background(), bookCmd(p.ID, uuid.New(), nil, time.Now().Add(time.Hour)), actor)
	if err != nil {
		t.Fatal(err)
	}

	// Simulate a lost update: another writer flips the row after our read.
	stale, err := f.appts.GetByID(context.Background(), a.ID)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := f.svc.Confirm(context.Background(), a.ID, actor); err != nil {
		t.Fatal(err)
	}

	if err := stale.Transition(appointment.StatusConfirmed); err != nil {
		t.Fatal(err)
	}
	err = f.appts.Update(context.Background(), stale, appointment.StatusScheduled)
	if !errors.Is(err, appointment.ErrConcurrentModification) {
		t.Fatalf("Update() error = %v, want ErrConcurrentModification", err)
	}
}
