package appointment

import (
	"errors"
	"testing"

	"github.com/google/uuid"
)

func TestTransitionMatrix(t *testing.T) {
	tests := []struct {
		from    AppointmentStatus
		to      AppointmentStatus
		allowed bool
	}{
		{StatusScheduled, StatusConfirmed, true},
		{StatusScheduled, StatusInProgress, true},
		{StatusScheduled, StatusNoShowRescheduled, true},
		{StatusScheduled, StatusNoShowSessionLost, true},
		{StatusScheduled, StatusRescheduled, true},
		{StatusScheduled, StatusCancelled, true},
		{StatusScheduled, StatusDischarged, true},
		{StatusScheduled, StatusCompleted, false},

		{StatusConfirmed, StatusInProgress, true},
		{StatusConfirmed, StatusDischarged, true},
		{StatusConfirmed, StatusCompleted, false},
		{StatusConfirmed, StatusScheduled, false},

		// Revert path: in_progress may step back to confirmed.
		{StatusInProgress, StatusConfirmed, true},
		{StatusInProgress, StatusCompleted, true},
		{StatusInProgress, StatusCancelled, true},
		{StatusInProgress, StatusNoShowRescheduled, false},
		{StatusInProgress, StatusDischarged, false},

		// Legacy unresolved no-shows stay reschedulable.
		{StatusNoShow, StatusRescheduled, true},
		{StatusNoShow, StatusCancelled, true},
		{StatusNoShow, StatusConfirmed, false},

		{StatusNoShowRescheduled, StatusRescheduled, true},
		{StatusNoShowRescheduled, StatusConfirmed, false},

		// Terminal states admit nothing.
		{StatusCompleted, StatusCancelled, false},
		{StatusCancelled, StatusScheduled, false},
		{StatusNoShowSessionLost, StatusRescheduled, false},
		{StatusRescheduled, StatusScheduled, false},
		{StatusDischarged, StatusScheduled, false},
	}

	for _, tt := range tests {
		a := &Appointment{Status: tt.from}
		if got := a.CanTransitionTo(tt.to); got != tt.allowed {
			t.Errorf("CanTransitionTo(%s -> %s) = %v, want %v", tt.from, tt.to, got, tt.allowed)
		}
	}
}

func TestTransitionRejectsAndPreservesStatus(t *testing.T) {
	a := &Appointment{Status: StatusCompleted}
	err := a.Transition(StatusCancelled)
	if !errors.Is(err, ErrInvalidTransition) {
		t.Fatalf("Transition() error = %v, want ErrInvalidTransition", err)
	}
	if a.Status != StatusCompleted {
		t.Errorf("status mutated to %s on rejected transition", a.Status)
	}
}

func TestCancelRecordsAudit(t *testing.T) {
	by := uuid.New()
	a := &Appointment{Status: StatusScheduled}

	if err := a.Cancel("patient request", by); err != nil {
		t.Fatalf("Cancel() error = %v", err)
	}
	if a.Status != StatusCancelled {
		t.Errorf("Status = %s, want cancelled", a.Status)
	}
	if a.CancelledAt == nil || a.CancelledBy == nil || *a.CancelledBy != by {
		t.Error("cancellation audit fields not recorded")
	}
	if a.CancellationReason != "patient request" {
		t.Errorf("CancellationReason = %q", a.CancellationReason)
	}
}

func TestResolveNoShowReschedule(t *testing.T) {
	a := &Appointment{Status: StatusConfirmed}

	if err := a.ResolveNoShow(NoShowReschedule, "called in sick"); err != nil {
		t.Fatalf("ResolveNoShow() error = %v", err)
	}
	if a.Status != StatusNoShowRescheduled {
		t.Errorf("Status = %s, want no_show_rescheduled", a.Status)
	}
	if a.SessionDeducted {
		t.Error("SessionDeducted set on reschedule option")
	}
	if a.NoShowReason != "called in sick" {
		t.Errorf("NoShowReason = %q", a.NoShowReason)
	}
}

func TestResolveNoShowSessionLost(t *testing.T) {
	a := &Appointment{Status: StatusScheduled}

	if err := a.ResolveNoShow(NoShowSessionLost, ""); err != nil {
		t.Fatalf("ResolveNoShow() error = %v", err)
	}
	if a.Status != StatusNoShowSessionLost {
		t.Errorf("Status = %s, want no_show_session_lost", a.Status)
	}
	if !a.SessionDeducted {
		t.Error("SessionDeducted not set on session_lost option")
	}
}

func TestResolveNoShowRejectsInvalidOption(t *testing.T) {
	a := &Appointment{Status: StatusScheduled}
	if err := a.ResolveNoShow("forgive", ""); !errors.Is(err, ErrInvalidNoShowOption) {
		t.Fatalf("ResolveNoShow() error = %v, want ErrInvalidNoShowOption", err)
	}
}

func TestResolveNoShowRejectsAttendedAppointment(t *testing.T) {
	a := &Appointment{Status: StatusInProgress}
	if err := a.ResolveNoShow(NoShowReschedule, ""); !errors.Is(err, ErrInvalidTransition) {
		t.Fatalf("ResolveNoShow() error = %v, want ErrInvalidTransition", err)
	}
}

func TestMarkSupersededLinksReplacement(t *testing.T) {
	replacementID := uuid.New()
	by := uuid.New()
	a := &Appointment{Status: StatusScheduled}

	if err := a.MarkSuperseded(replacementID, by, "doctor unavailable"); err != nil {
		t.Fatalf("MarkSuperseded() error = %v", err)
	}
	if a.Status != StatusRescheduled {
		t.Errorf("Status = %s, want rescheduled", a.Status)
	}
	if a.RescheduledToID == nil || *a.RescheduledToID != replacementID {
		t.Error("RescheduledToID not linked to replacement")
	}
	if a.RescheduledBy == nil || *a.RescheduledBy != by {
		t.Error("RescheduledBy not recorded")
	}
	if a.RescheduledAt == nil {
		t.Error("RescheduledAt not recorded")
	}
}

func TestIsTerminal(t *testing.T) {
	terminal := []AppointmentStatus{
		StatusCompleted, StatusCancelled, StatusDischarged,
		StatusNoShowSessionLost, StatusNoShowRescheduled, StatusRescheduled,
	}
	open := []AppointmentStatus{StatusScheduled, StatusConfirmed, StatusInProgress, StatusNoShow}

	for _, s := range terminal {
		if !s.IsTerminal() {
			t.Errorf("IsTerminal(%s) = false, want true", s)
		}
	}
	for _, s := range open {
		if s.IsTerminal() {
			t.Errorf("IsTerminal(%s) = true, want false", s)
		}
	}
}

func TestNoShowOptionValidity(t *testing.T) {
	if !NoShowReschedule.IsValid() || !NoShowSessionLost.IsValid() {
		t.Error("canonical options reported invalid")
	}
	if NoShowOption("pardon").IsValid() {
		t.Error("arbitrary option reported valid")
	}
}

func TestPardoned(t *testing.T) {
	a := &Appointment{}
	if a.Pardoned() {
		t.Error("fresh appointment reports pardoned")
	}
	by := uuid.New()
	a.PardonedBy = &by
	if !a.Pardoned() {
		t.Error("appointment with PardonedBy set reports unpardoned")
	}
}
