package metrics

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
)

var (
	HarvestErrors = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "harvest_errors_total",
		Help: "Ошибки при опросе зеркала синдикации",
	})
	HarvestPostsTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "harvest_posts_total",
		Help: "Количество постов, прошедших фильтр окна",
	})
	DigestBuildSeconds = prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "digest_build_seconds",
		Help:    "Время построения дайджеста",
		Buckets: prometheus.DefBuckets,
	})
	SendErrors = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "send_errors_total",
		Help: "Ошибки отправки сообщений подписчикам",
	})

	DeliveryAttempted = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "delivery_attempted_total",
		Help: "Количество попыток доставки",
	})
	DeliveryDelivered = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "delivery_delivered_total",
		Help: "Количество успешных доставок",
	})
	DeliveryDeactivated = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "delivery_deactivated_total",
		Help: "Количество подписчиков, деактивированных при доставке",
	})
	DeliveryFailed = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "delivery_failed_total",
		Help: "Количество неудачных доставок",
	})

	NetworkRequestDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "network_request_duration_seconds",
		Help:    "Длительность сетевых запросов",
		Buckets: []float64{.005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10, 15, 20, 30, 45, 60, 90, 120},
	}, []string{"component", "operation", "target", "status"})

	NetworkRequestTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "network_request_total",
		Help: "Количество сетевых запросов",
	}, []string{"component", "operation", "target", "status"})

	LLMGenerationDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "llm_generation_duration_seconds",
		Help:    "Длительность генерации ответа LLM",
		Buckets: prometheus.DefBuckets,
	}, []string{"model", "purpose"})

	LLMTokensTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "llm_tokens_total",
		Help: "Количество токенов, использованных LLM",
	}, []string{"model", "type"})

	TranslationCacheHits = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "translation_cache_total",
		Help: "Результаты обращения к кэшу переводов",
	}, []string{"result"})

	LeaseAcquireTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "lease_acquire_total",
		Help: "Попытки получить лизинг на слот расписания",
	}, []string{"result"})
)

// MustRegister регистрирует метрики.
func MustRegister(registerer prometheus.Registerer) {
	registerer.MustRegister(
		HarvestErrors,
		HarvestPostsTotal,
		DigestBuildSeconds,
		SendErrors,
		DeliveryAttempted,
		DeliveryDelivered,
		DeliveryDeactivated,
		DeliveryFailed,
		NetworkRequestDuration,
		NetworkRequestTotal,
		LLMGenerationDuration,
		LLMTokensTotal,
		TranslationCacheHits,
		LeaseAcquireTotal,
	)
}

// StartServer запускает HTTP сервер с эндпоинтом /metrics.
func StartServer(ctx context.Context, logger zerolog.Logger, addr string) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	srv := &http.Server{
		Addr:         addr,
		Handler:      mux,
		ReadTimeout:  5 * time.Second,
		WriteTimeout: 5 * time.Second,
	}

	shutdownCtx, cancel := context.WithCancel(context.Background())
	go func() {
		select {
		case <-ctx.Done():
		case <-shutdownCtx.Done():
		}
		shutdownTimeout, timeoutCancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer timeoutCancel()
		if err := srv.Shutdown(shutdownTimeout); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error().Err(err).Msg("metrics: graceful shutdown failed")
		}
	}()

	go func() {
		logger.Info().Str("addr", addr).Msg("metrics: server started")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error().Err(err).Msg("metrics: server stopped")
		}
		cancel()
	}()
}

// ObserveNetworkRequest записывает длительность и статус сетевого запроса.
func ObserveNetworkRequest(component, operation, target string, start time.Time, err error) {
	if component == "" {
		component = "unknown"
	}
	if operation == "" {
		operation = "unknown"
	}
	if target == "" {
		target = "unknown"
	}
	status := "success"
	if err != nil {
		status = "error"
	}
	duration := time.Since(start).Seconds()
	NetworkRequestDuration.WithLabelValues(component, operation, target, status).Observe(duration)
	NetworkRequestTotal.WithLabelValues(component, operation, target, status).Inc()
}

// ObserveLLMGeneration records one call to the summarization/translation
// backend: purpose is "summarize" or "translate".
func ObserveLLMGeneration(model, purpose string, duration time.Duration, promptTokens, completionTokens, totalTokens int) {
	if model == "" {
		model = "unknown"
	}
	LLMGenerationDuration.WithLabelValues(model, purpose).Observe(duration.Seconds())
	if promptTokens > 0 {
		LLMTokensTotal.WithLabelValues(model, "prompt").Add(float64(promptTokens))
	}
	if completionTokens > 0 {
		LLMTokensTotal.WithLabelValues(model, "completion").Add(float64(completionTokens))
	}
	if totalTokens <= 0 {
		totalTokens = promptTokens + completionTokens
	}
	if totalTokens > 0 {
		LLMTokensTotal.WithLabelValues(model, "total").Add(float64(totalTokens))
	}
}

// ObserveTranslationCache records whether a translation was served from the
// TranslationRepo cache or freshly generated.
func ObserveTranslationCache(hit bool) {
	if hit {
		TranslationCacheHits.WithLabelValues("hit").Inc()
		return
	}
	TranslationCacheHits.WithLabelValues("miss").Inc()
}

// ObserveLeaseAcquire records the outcome of one lease acquisition attempt.
func ObserveLeaseAcquire(acquired bool) {
	if acquired {
		LeaseAcquireTotal.WithLabelValues("acquired").Inc()
		return
	}
	LeaseAcquireTotal.WithLabelValues("held").Inc()
}
