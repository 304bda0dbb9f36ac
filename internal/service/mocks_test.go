package service

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/clinicore/clinicore/internal/domain"
	"github.com/clinicore/clinicore/internal/domain/appointment"
	"github.com/clinicore/clinicore/internal/domain/history"
	"github.com/clinicore/clinicore/internal/domain/order"
	"github.com/clinicore/clinicore/internal/domain/patient"
)

// passthroughTx satisfies domain.Transactor without a database: fn runs
// directly, so the in-memory repos observe the same writes a transaction would.
type passthroughTx struct{}

func (passthroughTx) WithinTx(ctx context.Context, fn func(ctx context.Context) error) error {
	return fn(ctx)
}

type memAuditRepo struct {
	mu      sync.Mutex
	entries []*domain.AuditLog
}

func (m *memAuditRepo) Create(_ context.Context, entry *domain.AuditLog) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.entries = append(m.entries, entry)
	return nil
}

type memOrderRepo struct {
	mu     sync.Mutex
	orders map[uuid.UUID]*order.MedicalOrder
}

func newMemOrderRepo() *memOrderRepo {
	return &memOrderRepo{orders: make(map[uuid.UUID]*order.MedicalOrder)}
}

func (m *memOrderRepo) Create(_ context.Context, o *order.MedicalOrder) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if o.ID == uuid.Nil {
		o.ID = uuid.New()
	}
	o.CreatedAt = time.Now()
	cp := *o
	m.orders[o.ID] = &cp
	return nil
}

func (m *memOrderRepo) GetByID(_ context.Context, id uuid.UUID) (*order.MedicalOrder, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	o, ok := m.orders[id]
	if !ok {
		return nil, order.ErrOrderNotFound
	}
	cp := *o
	return &cp, nil
}

func (m *memOrderRepo) GetActiveByPatient(_ context.Context, patientID uuid.UUID) (*order.MedicalOrder, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var newest *order.MedicalOrder
	for _, o := range m.orders {
		if o.PatientID != patientID || o.Completed {
			continue
		}
		if newest == nil || o.CreatedAt.After(newest.CreatedAt) {
			newest = o
		}
	}
	if newest == nil {
		return nil, order.ErrNoActiveOrder
	}
	cp := *newest
	return &cp, nil
}

func (m *memOrderRepo) HasActiveByPatient(_ context.Context, patientID uuid.UUID) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, o := range m.orders {
		if o.PatientID == patientID && !o.Completed {
			return true, nil
		}
	}
	return false, nil
}

func (m *memOrderRepo) ConsumeSession(_ context.Context, id uuid.UUID) (*order.MedicalOrder, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	o, ok := m.orders[id]
	if !ok {
		return nil, order.ErrOrderNotFound
	}
	if err := o.Consume(); err != nil {
		return nil, err
	}
	cp := *o
	return &cp, nil
}

func (m *memOrderRepo) FinalizeEarly(_ context.Context, id uuid.UUID, reason string, actualUsed int) (*order.MedicalOrder, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	o, ok := m.orders[id]
	if !ok {
		return nil, order.ErrOrderNotFound
	}
	if o.Completed {
		return nil, order.ErrOrderCompleted
	}
	o.FinalizeEarly(reason, actualUsed)
	cp := *o
	return &cp, nil
}

func (m *memOrderRepo) MarkCompleted(_ context.Context, id uuid.UUID) (*order.MedicalOrder, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	o, ok := m.orders[id]
	if !ok {
		return nil, order.ErrOrderNotFound
	}
	if !o.Completed {
		now := time.Now()
		o.Completed = true
		o.CompletedAt = &now
	}
	cp := *o
	return &cp, nil
}

func (m *memOrderRepo) List(_ context.Context, q *order.ListOrdersQuery) (*order.PagedOrders, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*order.MedicalOrder
	for _, o := range m.orders {
		if q.PatientID != nil && o.PatientID != *q.PatientID {
			continue
		}
		if q.ActiveOnly && o.Completed {
			continue
		}
		cp := *o
		out = append(out, &cp)
	}
	return &order.PagedOrders{Orders: out, TotalCount: int64(len(out)), Page: q.Page, PageSize: q.PageSize}, nil
}

type memAppointmentRepo struct {
	mu    sync.Mutex
	appts map[uuid.UUID]*appointment.Appointment
	// resets records CreateNoShowReset calls for assertions.
	resets []*appointment.NoShowReset
}

func newMemAppointmentRepo() *memAppointmentRepo {
	return &memAppointmentRepo{appts: make(map[uuid.UUID]*appointment.Appointment)}
}

func (m *memAppointmentRepo) Create(_ context.Context, a *appointment.Appointment) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if a.ID == uuid.Nil {
		a.ID = uuid.New()
	}
	a.CreatedAt = time.Now()
	cp := *a
	m.appts[a.ID] = &cp
	return nil
}

func (m *memAppointmentRepo) GetByID(_ context.Context, id uuid.UUID) (*appointment.Appointment, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	a, ok := m.appts[id]
	if !ok {
		return nil, appointment.ErrAppointmentNotFound
	}
	cp := *a
	return &cp, nil
}

func (m *memAppointmentRepo) Update(_ context.Context, a *appointment.Appointment, expectedStatus appointment.AppointmentStatus) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	stored, ok := m.appts[a.ID]
	if !ok {
		return appointment.ErrAppointmentNotFound
	}
	if stored.Status != expectedStatus {
		return appointment.ErrConcurrentModification
	}
	cp := *a
	m.appts[a.ID] = &cp
	return nil
}

func (m *memAppointmentRepo) List(_ context.Context, q *appointment.ListAppointmentsQuery) (*appointment.PagedAppointments, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*appointment.Appointment
	for _, a := range m.appts {
		if q.PatientID != nil && a.PatientID != *q.PatientID {
			continue
		}
		if q.Status != nil && a.Status != *q.Status {
			continue
		}
		cp := *a
		out = append(out, &cp)
	}
	return &appointment.PagedAppointments{Appointments: out, TotalCount: int64(len(out)), Page: q.Page, PageSize: q.PageSize}, nil
}

func (m *memAppointmentRepo) CountPatientSlot(_ context.Context, patientID, doctorID uuid.UUID, at time.Time) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var n int64
	for _, a := range m.appts {
		if a.PatientID == patientID && a.DoctorID == doctorID && a.ScheduledAt.Equal(at) && a.Status != appointment.StatusCancelled {
			n++
		}
	}
	return n, nil
}

func (m *memAppointmentRepo) CountDoctorSlot(_ context.Context, doctorID uuid.UUID, at time.Time) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var n int64
	for _, a := range m.appts {
		if a.DoctorID == doctorID && a.ScheduledAt.Equal(at) && a.Status != appointment.StatusCancelled {
			n++
		}
	}
	return n, nil
}

func (m *memAppointmentRepo) ListUpcomingByPatient(_ context.Context, patientID uuid.UUID, statuses []appointment.AppointmentStatus, from time.Time) ([]*appointment.Appointment, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*appointment.Appointment
	for _, a := range m.appts {
		if a.PatientID != patientID || a.ScheduledAt.Before(from) {
			continue
		}
		for _, s := range statuses {
			if a.Status == s {
				cp := *a
				out = append(out, &cp)
				break
			}
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ScheduledAt.Before(out[j].ScheduledAt) })
	return out, nil
}

func (m *memAppointmentRepo) MarkPardoned(_ context.Context, patientID, pardonedBy uuid.UUID, at time.Time, reason string) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var n int64
	for _, a := range m.appts {
		if a.PatientID != patientID || a.PardonedBy != nil {
			continue
		}
		for _, s := range appointment.NoShowStatuses {
			if a.Status == s {
				by := pardonedBy
				ts := at
				a.PardonedBy = &by
				a.PardonedAt = &ts
				a.PardonReason = reason
				n++
				break
			}
		}
	}
	return n, nil
}

func (m *memAppointmentRepo) CountUnpardonedNoShows(_ context.Context, patientID uuid.UUID) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var n int64
	for _, a := range m.appts {
		if a.PatientID != patientID || a.PardonedBy != nil {
			continue
		}
		for _, s := range appointment.NoShowStatuses {
			if a.Status == s {
				n++
				break
			}
		}
	}
	return n, nil
}

func (m *memAppointmentRepo) CountAttendedByPatient(_ context.Context, patientID uuid.UUID) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var n int64
	for _, a := range m.appts {
		if a.PatientID != patientID {
			continue
		}
		for _, s := range appointment.AttendedStatuses {
			if a.Status == s {
				n++
				break
			}
		}
	}
	return n, nil
}

func (m *memAppointmentRepo) CreateNoShowReset(_ context.Context, r *appointment.NoShowReset) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if r.ID == uuid.Nil {
		r.ID = uuid.New()
	}
	m.resets = append(m.resets, r)
	return nil
}

type memHistoryRepo struct {
	mu      sync.Mutex
	entries map[uuid.UUID]*history.Entry // keyed by appointment ID
	unified map[uuid.UUID]*history.UnifiedHistory
}

func newMemHistoryRepo() *memHistoryRepo {
	return &memHistoryRepo{
		entries: make(map[uuid.UUID]*history.Entry),
		unified: make(map[uuid.UUID]*history.UnifiedHistory),
	}
}

func (m *memHistoryRepo) CreateEntry(_ context.Context, e *history.Entry) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, exists := m.entries[e.AppointmentID]; exists {
		return history.ErrEntryAlreadyExists
	}
	if e.ID == uuid.Nil {
		e.ID = uuid.New()
	}
	cp := *e
	m.entries[e.AppointmentID] = &cp
	return nil
}

func (m *memHistoryRepo) GetEntryByAppointmentID(_ context.Context, appointmentID uuid.UUID) (*history.Entry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.entries[appointmentID]
	if !ok {
		return nil, history.ErrEntryNotFound
	}
	cp := *e
	return &cp, nil
}

func (m *memHistoryRepo) UpdateEntry(_ context.Context, e *history.Entry) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *e
	m.entries[e.AppointmentID] = &cp
	return nil
}

func (m *memHistoryRepo) ListEntriesByOrder(_ context.Context, orderID uuid.UUID) ([]*history.Entry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*history.Entry
	for _, e := range m.entries {
		if e.MedicalOrderID != nil && *e.MedicalOrderID == orderID {
			cp := *e
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].AppointmentDate.Before(out[j].AppointmentDate) })
	return out, nil
}

func (m *memHistoryRepo) ListEntriesByPatient(_ context.Context, patientID uuid.UUID) ([]*history.Entry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*history.Entry
	for _, e := range m.entries {
		if e.PatientID == patientID {
			cp := *e
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].AppointmentDate.Before(out[j].AppointmentDate) })
	return out, nil
}

func (m *memHistoryRepo) UpsertUnified(_ context.Context, orderID uuid.UUID, patch *history.UnifiedHistoryPatch) (*history.UnifiedHistory, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	uh, ok := m.unified[orderID]
	if !ok {
		uh = &history.UnifiedHistory{
			ID:             uuid.New(),
			MedicalOrderID: orderID,
			PatientID:      patch.PatientID,
			TemplateData:   map[string]any{},
		}
		m.unified[orderID] = uh
	}
	for k, v := range patch.TemplateData {
		uh.TemplateData[k] = v
	}
	if patch.Discharge != nil {
		uh.Discharge = patch.Discharge
	}
	if patch.FinalSummary != nil {
		uh.FinalSummary = *patch.FinalSummary
	}
	if patch.Recommendations != nil {
		uh.Recommendations = *patch.Recommendations
	}
	if patch.Attachment != nil {
		uh.Attachment = patch.Attachment
	}
	if patch.FinalizedAt != nil {
		uh.FinalizedAt = patch.FinalizedAt
	}
	if patch.FinalizedBy != nil {
		uh.FinalizedBy = patch.FinalizedBy
	}
	cp := *uh
	return &cp, nil
}

func (m *memHistoryRepo) GetUnifiedByOrder(_ context.Context, orderID uuid.UUID) (*history.UnifiedHistory, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	uh, ok := m.unified[orderID]
	if !ok {
		return nil, history.ErrHistoryNotFound
	}
	cp := *uh
	return &cp, nil
}

type memPatientRepo struct {
	mu       sync.Mutex
	patients map[uuid.UUID]*patient.Patient
}

func newMemPatientRepo() *memPatientRepo {
	return &memPatientRepo{patients: make(map[uuid.UUID]*patient.Patient)}
}

func (m *memPatientRepo) Create(_ context.Context, p *patient.Patient) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if p.ID == uuid.Nil {
		p.ID = uuid.New()
	}
	cp := *p
	m.patients[p.ID] = &cp
	return nil
}

func (m *memPatientRepo) GetByID(_ context.Context, id uuid.UUID) (*patient.Patient, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.patients[id]
	if !ok {
		return nil, patient.ErrPatientNotFound
	}
	cp := *p
	return &cp, nil
}

func (m *memPatientRepo) List(_ context.Context, q *patient.ListPatientsQuery) (*patient.PagedPatients, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*patient.Patient
	for _, p := range m.patients {
		cp := *p
		out = append(out, &cp)
	}
	return &patient.PagedPatients{Patients: out, TotalCount: int64(len(out)), Page: q.Page, PageSize: q.PageSize}, nil
}

func (m *memPatientRepo) ExistsByNationalID(_ context.Context, nationalID string, excludeID *uuid.UUID) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, p := range m.patients {
		if excludeID != nil && p.ID == *excludeID {
			continue
		}
		if p.NationalID == nationalID {
			return true, nil
		}
	}
	return false, nil
}
