// Package metrics публикует метрики леджера в формате Prometheus.
package metrics

import (
	"math/big"
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/mmeshcher/lendpool/internal/model"
)

const namespace = "lendpool"

// Metrics хранит собственный реестр, чтобы несколько экземпляров не конфликтовали.
type Metrics struct {
	registry     *prometheus.Registry
	operations   *prometheus.CounterVec
	poolBalance  prometheus.Gauge
	overdueLoans prometheus.Gauge
}

// New создаёт и регистрирует метрики.
func New() *Metrics {
	registry := prometheus.NewRegistry()
	operations := prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "operations_total",
		Help:      "Ledger operations by name and result.",
	}, []string{"operation", "result"})
	poolBalance := prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "pool_balance",
		Help:      "Pool liquidity after the last committed operation, in minimal units.",
	})
	overdueLoans := prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "overdue_loans",
		Help:      "Loans past their due timestamp at the last monitor run.",
	})
	registry.MustRegister(operations, poolBalance, overdueLoans)

	return &Metrics{
		registry:     registry,
		operations:   operations,
		poolBalance:  poolBalance,
		overdueLoans: overdueLoans,
	}
}

// ObserveOperation учитывает завершение операции. result: ok, rejected или error.
func (m *Metrics) ObserveOperation(operation, result string) {
	if m == nil {
		return
	}
	m.operations.WithLabelValues(operation, result).Inc()
}

// SetPoolBalance обновляет значение ликвидности пула.
func (m *Metrics) SetPoolBalance(pool model.Amount) {
	if m == nil {
		return
	}
	f, _ := new(big.Float).SetInt(pool.Big()).Float64()
	m.poolBalance.Set(f)
}

// SetOverdueLoans обновляет число просроченных займов.
func (m *Metrics) SetOverdueLoans(n int) {
	if m == nil {
		return
	}
	m.overdueLoans.Set(float64(n))
}

// Handler отдаёт метрики для scrape.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}
