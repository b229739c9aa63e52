package proxy

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/roelfdiedericks/clawgate/internal/breaker"
	. "github.com/roelfdiedericks/clawgate/internal/logging"
	"github.com/roelfdiedericks/clawgate/internal/memory"
	. "github.com/roelfdiedericks/clawgate/internal/metrics"
	"github.com/roelfdiedericks/clawgate/internal/traffic"
	"github.com/roelfdiedericks/clawgate/internal/types"
	"github.com/roelfdiedericks/clawgate/internal/upstream"
)

// memoryFeature is the degradation feature name guarding retrieval.
const memoryFeature = "memory_retrieval"

// UpstreamBreakerName is the breaker guarding the forward path.
const UpstreamBreakerName = "llm_upstream"

// BreakerOpenError is returned when the upstream breaker denies a call. The
// HTTP layer maps it to 503 with a Retry-After hint.
type BreakerOpenError struct {
	RetryAfter time.Duration
}

func (e *BreakerOpenError) Error() string {
	return "upstream circuit open"
}

// Pipeline runs a request through sanitization, classification, memory
// retrieval, context assembly, and the upstream forward.
type Pipeline struct {
	sanitizer   *Sanitizer
	classifier  Classifier
	assembler   *Assembler
	retriever   *memory.Retriever // nil when memory is disabled
	degradation *breaker.Degradation
	breakers    *breaker.Registry
	analyzer    *traffic.Analyzer
	client      *upstream.Client

	optimizationEnabled bool
	maxMemoryResults    int
}

// PipelineOptions configures a pipeline.
type PipelineOptions struct {
	Assembly            AssemblyConfig
	OptimizationEnabled bool
	MaxMemoryResults    int
}

// NewPipeline wires the pipeline stages together. retriever may be nil.
func NewPipeline(client *upstream.Client, retriever *memory.Retriever, degradation *breaker.Degradation, breakers *breaker.Registry, analyzer *traffic.Analyzer, opts PipelineOptions) *Pipeline {
	if opts.MaxMemoryResults <= 0 {
		opts.MaxMemoryResults = memory.DefaultTopK
	}
	return &Pipeline{
		sanitizer:           NewSanitizer(),
		classifier:          NewClassifier("rule"),
		assembler:           NewAssembler(opts.Assembly),
		retriever:           retriever,
		degradation:         degradation,
		breakers:            breakers,
		analyzer:            analyzer,
		client:              client,
		optimizationEnabled: opts.OptimizationEnabled,
		maxMemoryResults:    opts.MaxMemoryResults,
	}
}

// newRequestID returns a short correlation ID for logs and traffic records.
func newRequestID() string {
	return strings.ReplaceAll(uuid.NewString(), "-", "")[:8]
}

// prepare runs the pre-forward stages and returns the optimized request
// together with the detected intent.
func (p *Pipeline) prepare(ctx context.Context, requestID string, req *types.ChatRequest) (*types.ChatRequest, Intent) {
	flags := p.sanitizer.Sanitize(req)
	preserve := PreserveMap(flags)

	intent := p.classifier.Classify(req)
	L_info("pipeline: classified", "request_id", requestID, "intent", intent)
	MetricInc("pipeline", "intent_"+string(intent))

	memCtx := p.retrieveContext(ctx, requestID, req, intent)

	optimized := req
	if p.optimizationEnabled {
		optimized = p.assembler.Assemble(req, intent, preserve)
	}

	if memCtx != "" {
		optimized = injectContext(optimized, memCtx)
		L_debug("pipeline: memory context injected",
			"request_id", requestID, "context_len", len(memCtx))
	}
	return optimized, intent
}

// retrieveContext queries memory for retrieval-intent requests. Failures
// degrade to no context; they never fail the request.
func (p *Pipeline) retrieveContext(ctx context.Context, requestID string, req *types.ChatRequest, intent Intent) string {
	if intent != IntentRetrieval || p.retriever == nil {
		return ""
	}

	query := req.LastUserContent()
	if query == "" {
		return ""
	}

	result, err := p.degradation.Execute(ctx, memoryFeature,
		func(ctx context.Context) (any, error) {
			return p.retriever.RetrieveForContext(ctx, query, p.maxMemoryResults)
		}, nil)
	if err != nil {
		L_warn("pipeline: memory retrieval failed",
			"request_id", requestID, "error", err)
		MetricFail("pipeline", "memory_retrieval")
		return ""
	}

	memCtx, _ := result.(string)
	if memCtx != "" {
		MetricSuccess("pipeline", "memory_retrieval")
	}
	return memCtx
}

// injectContext merges retrieved memory into the system prompt: appended to
// an existing system message, or prepended as a new one.
func injectContext(req *types.ChatRequest, memCtx string) *types.ChatRequest {
	messages := append([]types.Message(nil), req.Messages...)

	if len(messages) > 0 && messages[0].Role == "system" {
		combined := messages[0].Text() + "\n\n" + memCtx
		messages[0].Content = &combined
		return req.WithMessages(messages)
	}

	content := memCtx
	system := types.Message{Role: "system", Content: &content}
	return req.WithMessages(append([]types.Message{system}, messages...))
}

// upstreamBreaker returns the breaker guarding the forward path, or nil when
// no registry is wired (tests).
func (p *Pipeline) upstreamBreaker() *breaker.CircuitBreaker {
	if p.breakers == nil {
		return nil
	}
	return p.breakers.GetOrCreate(UpstreamBreakerName)
}

// recordForwardOutcome feeds the forward result into the upstream breaker.
// Client errors (4xx) are the caller's fault and never trip it.
func recordForwardOutcome(cb *breaker.CircuitBreaker, err error) {
	if cb == nil {
		return
	}
	if err == nil {
		cb.RecordSuccess()
		return
	}
	var upErr *upstream.Error
	if errors.As(err, &upErr) && !upErr.Transient {
		return
	}
	// A caller hanging up is not an upstream failure.
	if errors.Is(err, context.Canceled) {
		return
	}
	cb.RecordFailure()
}

// Process handles a non-streaming request end to end.
func (p *Pipeline) Process(ctx context.Context, req *types.ChatRequest) (*upstream.Response, error) {
	requestID := newRequestID()
	start := time.Now()
	original := req.Messages

	MetricInc("proxy", "requests_total")
	optimized, intent := p.prepare(ctx, requestID, req)

	cb := p.upstreamBreaker()
	if cb != nil && !cb.CanExecute() {
		MetricInc("proxy", "breaker_rejected")
		L_warn("pipeline: upstream breaker open", "request_id", requestID)
		return nil, &BreakerOpenError{RetryAfter: cb.Config().RecoveryTimeout}
	}

	resp, err := p.client.Forward(ctx, optimized)
	elapsed := time.Since(start)
	MetricDuration("proxy", "request", elapsed)
	recordForwardOutcome(cb, err)

	rec := p.analyzer.AnalyzeRequest(requestID, req.Model, string(intent),
		original, optimized.Messages, p.optimizationEnabled, elapsed.Seconds(), false)

	if err != nil {
		MetricFail("proxy", "upstream")
		L_error("pipeline: forward failed",
			"request_id", requestID, "model", req.Model, "error", err)
		return nil, err
	}

	MetricSuccess("proxy", "upstream")
	L_info("pipeline: request complete",
		"request_id", requestID,
		"model", req.Model,
		"intent", intent,
		"tokens_saved", rec.TokensSaved,
		"response_time", elapsed.Seconds())
	return resp, nil
}

// Stream handles a streaming request. The returned response body is live;
// the caller relays and closes it. Traffic is accounted at stream open, so
// response_time reflects time to first byte.
func (p *Pipeline) Stream(ctx context.Context, req *types.ChatRequest) (*http.Response, error) {
	requestID := newRequestID()
	start := time.Now()
	original := req.Messages

	MetricInc("proxy", "requests_total")
	MetricInc("proxy", "streaming_requests")
	optimized, intent := p.prepare(ctx, requestID, req)

	cb := p.upstreamBreaker()
	if cb != nil && !cb.CanExecute() {
		MetricInc("proxy", "breaker_rejected")
		L_warn("pipeline: upstream breaker open", "request_id", requestID)
		return nil, &BreakerOpenError{RetryAfter: cb.Config().RecoveryTimeout}
	}

	resp, err := p.client.Stream(ctx, optimized)
	elapsed := time.Since(start)
	recordForwardOutcome(cb, err)

	p.analyzer.AnalyzeRequest(requestID, req.Model, string(intent),
		original, optimized.Messages, p.optimizationEnabled, elapsed.Seconds(), true)

	if err != nil {
		MetricFail("proxy", "upstream")
		L_error("pipeline: stream failed",
			"request_id", requestID, "model", req.Model, "error", err)
		return nil, err
	}

	MetricSuccess("proxy", "upstream")
	L_info("pipeline: stream open",
		"request_id", requestID, "model", req.Model, "intent", intent)
	return resp, nil
}
