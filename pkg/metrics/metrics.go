// Package metrics provides Prometheus metrics instrumentation.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// RequestDuration tracks HTTP request duration.
	RequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "api_request_duration_seconds",
			Help:    "HTTP request duration in seconds",
			Buckets: []float64{.005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10},
		},
		[]string{"method", "path", "status"},
	)

	// RequestsTotal tracks total HTTP requests.
	RequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "api_requests_total",
			Help: "Total HTTP requests",
		},
		[]string{"method", "path", "status"},
	)

	// LLMStreamDuration tracks LLM streaming response duration.
	LLMStreamDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "llm_stream_duration_seconds",
			Help:    "LLM streaming response duration",
			Buckets: []float64{.5, 1, 2, 5, 10, 20, 30, 45, 60, 90, 120},
		},
		[]string{"model", "status"},
	)

	// LLMTokensTotal tracks total LLM tokens processed.
	LLMTokensTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "llm_tokens_total",
			Help: "Total LLM tokens processed",
		},
		[]string{"model", "direction"},
	)

	// SSEConnectionsActive tracks active SSE connections.
	SSEConnectionsActive = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "sse_connections_active",
			Help: "Number of active SSE connections",
		},
	)

	// TurnsTotal tracks chat turns by their final coordinator state.
	TurnsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "chat_turns_total",
			Help: "Total chat turns by final state",
		},
		[]string{"state"},
	)

	// ChatsTotal tracks total chats created.
	ChatsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "chats_total",
			Help: "Total chats created",
		},
		[]string{"tenant_id"},
	)

	// MessagesTotal tracks total messages persisted.
	MessagesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "messages_total",
			Help: "Total messages persisted",
		},
		[]string{"tenant_id", "role"},
	)

	// RAGRetrievalsTotal tracks retrievals by outcome.
	RAGRetrievalsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "rag_retrievals_total",
			Help: "Total knowledge retrievals by outcome",
		},
		[]string{"outcome"},
	)

	// RAGChunksReturned tracks how many chunks a retrieval injects.
	RAGChunksReturned = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "rag_chunks_returned",
			Help:    "Chunks returned per knowledge retrieval",
			Buckets: []float64{0, 1, 2, 3, 5, 8, 13, 21},
		},
	)

	// EmbeddingCacheTotal tracks query embedding cache lookups.
	EmbeddingCacheTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "embedding_cache_total",
			Help: "Query embedding cache lookups",
		},
		[]string{"result"},
	)

	// NATSPublishTotal tracks events published to JetStream.
	NATSPublishTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "nats_publish_total",
			Help: "Messages and events published to NATS",
		},
		[]string{"kind", "status"},
	)
)

// RecordRequest records metrics for an HTTP request.
func RecordRequest(method, path, status string, duration float64) {
	RequestDuration.WithLabelValues(method, path, status).Observe(duration)
	RequestsTotal.WithLabelValues(method, path, status).Inc()
}

// RecordLLMStream records metrics for an LLM streaming response.
func RecordLLMStream(model, status string, duration float64, tokensIn, tokensOut int) {
	LLMStreamDuration.WithLabelValues(model, status).Observe(duration)
	LLMTokensTotal.WithLabelValues(model, "in").Add(float64(tokensIn))
	LLMTokensTotal.WithLabelValues(model, "out").Add(float64(tokensOut))
}

// RecordTurn records the final state of a chat turn.
func RecordTurn(state string) {
	TurnsTotal.WithLabelValues(state).Inc()
}

// RecordRetrieval records a knowledge retrieval outcome and its size.
func RecordRetrieval(outcome string, chunks int) {
	RAGRetrievalsTotal.WithLabelValues(outcome).Inc()
	RAGChunksReturned.Observe(float64(chunks))
}

// IncrementSSEConnections increments the active SSE connection count.
func IncrementSSEConnections() {
	SSEConnectionsActive.Inc()
}

// DecrementSSEConnections decrements the active SSE connection count.
func DecrementSSEConnections() {
	SSEConnectionsActive.Dec()
}
