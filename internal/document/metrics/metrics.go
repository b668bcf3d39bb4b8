package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

type Metrics struct {
	Uploaded    *prometheus.CounterVec
	UploadBytes prometheus.Histogram
	Validations *prometheus.CounterVec
	Downloads   prometheus.Counter
}

func New(reg prometheus.Registerer) *Metrics {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	f := promauto.With(reg)
	return &Metrics{
		Uploaded: f.NewCounterVec(prometheus.CounterOpts{
			Name: "consular_documents_uploaded_total",
			Help: "Documents uploaded by type",
		}, []string{"type"}),
		UploadBytes: f.NewHistogram(prometheus.HistogramOpts{
			Name:    "consular_document_upload_bytes",
			Help:    "Size of uploaded document files",
			Buckets: prometheus.ExponentialBuckets(16<<10, 4, 7),
		}),
		Validations: f.NewCounterVec(prometheus.CounterOpts{
			Name: "consular_document_validations_total",
			Help: "Document validation decisions by status",
		}, []string{"status"}),
		Downloads: f.NewCounter(prometheus.CounterOpts{
			Name: "consular_document_downloads_total",
			Help: "Files streamed through presigned links",
		}),
	}
}

func (m *Metrics) ObserveUpload(docType string, size int64) {
	if m != nil {
		m.Uploaded.WithLabelValues(docType).Inc()
		m.UploadBytes.Observe(float64(size))
	}
}

func (m *Metrics) IncValidation(status string) {
	if m != nil {
		m.Validations.WithLabelValues(status).Inc()
	}
}

func (m *Metrics) IncDownload() {
	if m != nil {
		m.Downloads.Inc()
	}
}
