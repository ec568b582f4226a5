package function

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"
)

// ErrUnknownFunction is returned when invoking a name that is not registered.
var ErrUnknownFunction = errors.New("unknown function")

var (
	invocationsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "function_invocations_total",
			Help: "Function invocations by name and outcome.",
		},
		[]string{"function", "outcome"},
	)
	invocationDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "function_invocation_duration_seconds",
			Help:    "Function invocation latency in seconds.",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"function"},
	)
)

func init() {
	prometheus.MustRegister(invocationsTotal)
	prometheus.MustRegister(invocationDuration)
}

// Registry holds functions by name.
type Registry struct {
	mu     sync.RWMutex
	funcs  map[string]Function
	logger *zap.Logger
}

// NewRegistry creates an empty registry.
func NewRegistry(logger *zap.Logger) *Registry {
	return &Registry{
		funcs:  make(map[string]Function),
		logger: logger,
	}
}

// Register adds f. Names must be non-empty and unique.
func (r *Registry) Register(f Function) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	info := f.Info()
	if info.Name == "" {
		return fmt.Errorf("function has empty name")
	}
	if _, exists := r.funcs[info.Name]; exists {
		return fmt.Errorf("function %q already registered", info.Name)
	}

	r.funcs[info.Name] = f
	r.logger.Info("function registered",
		zap.String("name", info.Name),
		zap.String("trigger", info.Trigger),
	)
	return nil
}

// Get returns the function registered under name.
func (r *Registry) Get(name string) (Function, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	f, ok := r.funcs[name]
	return f, ok
}

// Infos returns metadata of every registered function sorted by name.
func (r *Registry) Infos() []Info {
	r.mu.RLock()
	defer r.mu.RUnlock()

	infos := make([]Info, 0, len(r.funcs))
	for _, f := range r.funcs {
		infos = append(infos, f.Info())
	}
	sort.Slice(infos, func(i, j int) bool { return infos[i].Name < infos[j].Name })
	return infos
}

// Invoke dispatches event to the named function, recording its outcome and
// latency.
func (r *Registry) Invoke(ctx context.Context, name string, event json.RawMessage) (any, error) {
	f, ok := r.Get(name)
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownFunction, name)
	}

	start := time.Now()
	result, err := f.Invoke(ctx, event)
	elapsed := time.Since(start)
	invocationDuration.WithLabelValues(name).Observe(elapsed.Seconds())

	if err != nil {
		invocationsTotal.WithLabelValues(name, "error").Inc()
		r.logger.Error("function failed",
			zap.String("function", name),
			zap.Duration("duration", elapsed),
			zap.Error(err),
		)
		return nil, err
	}

	invocationsTotal.WithLabelValues(name, "ok").Inc()
	r.logger.Info("function completed",
		zap.String("function", name),
		zap.Duration("duration", elapsed),
	)
	return result, nil
}
