package server

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds the Prometheus collectors for the regression service.
type Metrics struct {
	ModelsCreated   prometheus.Counter
	ModelsDeleted   prometheus.Counter
	Trainings       *prometheus.CounterVec
	Predictions     *prometheus.CounterVec
	TrainDuration   prometheus.Histogram
	PredictDuration prometheus.Histogram
}

// NewMetrics registers the service collectors with the given registerer.
// Pass prometheus.DefaultRegisterer in production; tests use a fresh
// registry to avoid duplicate registration.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)

	return &Metrics{
		ModelsCreated: factory.NewCounter(prometheus.CounterOpts{
			Name: "kriging_models_created_total",
			Help: "Number of regression models created.",
		}),
		ModelsDeleted: factory.NewCounter(prometheus.CounterOpts{
			Name: "kriging_models_deleted_total",
			Help: "Number of regression models deleted.",
		}),
		Trainings: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "kriging_trainings_total",
			Help: "Number of hyperparameter training runs by outcome.",
		}, []string{"outcome"}),
		Predictions: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "kriging_predictions_total",
			Help: "Number of prediction requests by outcome.",
		}, []string{"outcome"}),
		TrainDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "kriging_train_duration_seconds",
			Help:    "Wall time of hyperparameter training runs.",
			Buckets: prometheus.ExponentialBuckets(0.001, 4, 10),
		}),
		PredictDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "kriging_predict_duration_seconds",
			Help:    "Wall time of prediction requests.",
			Buckets: prometheus.ExponentialBuckets(0.0001, 4, 10),
		}),
	}
}
