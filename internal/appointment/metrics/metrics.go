package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

type Metrics struct {
	Booked        prometheus.Counter
	Cancelled     *prometheus.CounterVec
	Completed     prometheus.Counter
	SlotConflicts prometheus.Counter
}

func New(reg prometheus.Registerer) *Metrics {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	f := promauto.With(reg)
	return &Metrics{
		Booked: f.NewCounter(prometheus.CounterOpts{
			Name: "consular_appointments_booked_total",
			Help: "Appointments booked",
		}),
		Cancelled: f.NewCounterVec(prometheus.CounterOpts{
			Name: "consular_appointments_cancelled_total",
			Help: "Appointments cancelled, by who cancelled (owner or staff)",
		}, []string{"by"}),
		Completed: f.NewCounter(prometheus.CounterOpts{
			Name: "consular_appointments_completed_total",
			Help: "Appointments marked completed",
		}),
		SlotConflicts: f.NewCounter(prometheus.CounterOpts{
			Name: "consular_appointment_slot_conflicts_total",
			Help: "Bookings rejected because the slot was taken",
		}),
	}
}

func (m *Metrics) IncBooked() {
	if m != nil {
		m.Booked.Inc()
	}
}

func (m *Metrics) IncCancelled(by string) {
	if m != nil {
		m.Cancelled.WithLabelValues(by).Inc()
	}
}

func (m *Metrics) IncCompleted() {
	if m != nil {
		m.Completed.Inc()
	}
}

func (m *Metrics) IncSlotConflict() {
	if m != nil {
		m.SlotConflicts.Inc()
	}
}
