// Package metrics содержит счётчики Prometheus сервиса inntektsmelding.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/mmeshcher/inntektsmelding-service/internal/model"
)

// Metrics объединяет все счётчики сервиса.
type Metrics struct {
	RequestsCreated     *prometheus.CounterVec
	RequestsExpired     *prometheus.CounterVec
	StatementsReceived  *prometheus.CounterVec
	ArchiveJobsFinished *prometheus.CounterVec
}

// New создаёт и регистрирует счётчики в указанном реестре.
func New(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		RequestsCreated: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "inntektsmelding_requests_created_total",
			Help: "Total number of income statement requests created",
		}, []string{"ytelse"}),
		RequestsExpired: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "inntektsmelding_requests_expired_total",
			Help: "Total number of requests expired by external case closure",
		}, []string{"ytelse"}),
		StatementsReceived: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "inntektsmelding_statements_received_total",
			Help: "Total number of income statements received",
		}, []string{"ytelse", "har_refusjon", "har_naturalytelse"}),
		ArchiveJobsFinished: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "inntektsmelding_archive_jobs_finished_total",
			Help: "Total number of archive jobs finished by result",
		}, []string{"result"}),
	}
}

// ObserveRequestCreated учитывает создание запроса по типу пособия.
func (m *Metrics) ObserveRequestCreated(benefitType model.BenefitType) {
	m.RequestsCreated.WithLabelValues(benefitType.String()).Inc()
}

// ObserveRequestsExpired учитывает перевод запросов в статус EXPIRED.
func (m *Metrics) ObserveRequestsExpired(benefitType model.BenefitType, count int64) {
	m.RequestsExpired.WithLabelValues(benefitType.String()).Add(float64(count))
}

// ObserveStatementReceived учитывает принятый inntektsmelding и состав его данных.
func (m *Metrics) ObserveStatementReceived(statement *model.IncomeStatement) {
	m.StatementsReceived.WithLabelValues(
		statement.BenefitType.String(),
		yesNo(len(statement.RefundPeriods) > 0),
		yesNo(len(statement.LapsedBenefits) > 0),
	).Inc()
}

// ObserveArchiveJob учитывает результат выполнения задания архивирования.
func (m *Metrics) ObserveArchiveJob(result string) {
	m.ArchiveJobsFinished.WithLabelValues(result).Inc()
}

func yesNo(v bool) string {
	if v {
		return "ja"
	}
	return "nei"
}
