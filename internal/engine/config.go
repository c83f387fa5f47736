package engine

import "time"

// Config tunes the routing engine. All options take effect on the next
// recompute; none requires a restart.
type Config struct {
	EnablePerformanceMonitoring  bool
	EnableLayoutAwareRouting     bool
	EnableBatchProcessing        bool
	DebounceTime                 time.Duration
	VirtualBendsEnabled          bool
	IntersectionDetectionEnabled bool
	Jetty                        float64

	TaskTimeout        time.Duration
	WorkerReadyTimeout time.Duration
	MaxRetryAttempts   int
	RetryBackoff       time.Duration
	MaxCacheSize       int
}

// DefaultConfig returns the engine defaults used by the server and wasm
// builds when nothing is configured.
func DefaultConfig() Config {
	return Config{
		EnablePerformanceMonitoring:  true,
		EnableLayoutAwareRouting:     true,
		EnableBatchProcessing:        true,
		DebounceTime:                 40 * time.Millisecond,
		VirtualBendsEnabled:          true,
		IntersectionDetectionEnabled: true,
		Jetty:                        20,
		TaskTimeout:                  250 * time.Millisecond,
		WorkerReadyTimeout:           time.Second,
		MaxRetryAttempts:             3,
		RetryBackoff:                 50 * time.Millisecond,
		MaxCacheSize:                 1024,
	}
}

// ConfigUpdate is a partial configuration change; nil fields keep their
// current value.
type ConfigUpdate struct {
	EnablePerformanceMonitoring  *bool    `json:"enablePerformanceMonitoring,omitempty"`
	EnableLayoutAwareRouting     *bool    `json:"enableLayoutAwareRouting,omitempty"`
	EnableBatchProcessing        *bool    `json:"enableBatchProcessing,omitempty"`
	DebounceTimeMs               *int     `json:"debounceTime,omitempty"`
	VirtualBendsEnabled          *bool    `json:"virtualBendsEnabled,omitempty"`
	IntersectionDetectionEnabled *bool    `json:"intersectionDetectionEnabled,omitempty"`
	Jetty                        *float64 `json:"jetty,omitempty"`
}

// ConfigView is the JSON shape of the runtime-tunable options, shared by the
// HTTP config endpoint and the websocket config.state broadcast. The debounce
// window is expressed in milliseconds.
type ConfigView struct {
	EnablePerformanceMonitoring  bool    `json:"enablePerformanceMonitoring"`
	EnableLayoutAwareRouting     bool    `json:"enableLayoutAwareRouting"`
	EnableBatchProcessing        bool    `json:"enableBatchProcessing"`
	DebounceTimeMs               int64   `json:"debounceTime"`
	VirtualBendsEnabled          bool    `json:"virtualBendsEnabled"`
	IntersectionDetectionEnabled bool    `json:"intersectionDetectionEnabled"`
	Jetty                        float64 `json:"jetty"`
}

func (c Config) View() ConfigView {
	return ConfigView{
		EnablePerformanceMonitoring:  c.EnablePerformanceMonitoring,
		EnableLayoutAwareRouting:     c.EnableLayoutAwareRouting,
		EnableBatchProcessing:        c.EnableBatchProcessing,
		DebounceTimeMs:               c.DebounceTime.Milliseconds(),
		VirtualBendsEnabled:          c.VirtualBendsEnabled,
		IntersectionDetectionEnabled: c.IntersectionDetectionEnabled,
		Jetty:                        c.Jetty,
	}
}

func (c Config) apply(u ConfigUpdate) Config {
	if u.EnablePerformanceMonitoring != nil {
		c.EnablePerformanceMonitoring = *u.EnablePerformanceMonitoring
	}
	if u.EnableLayoutAwareRouting != nil {
		c.EnableLayoutAwareRouting = *u.EnableLayoutAwareRouting
	}
	if u.EnableBatchProcessing != nil {
		c.EnableBatchProcessing = *u.EnableBatchProcessing
	}
	if u.DebounceTimeMs != nil && *u.DebounceTimeMs >= 0 {
		c.DebounceTime = time.Duration(*u.DebounceTimeMs) * time.Millisecond
	}
	if u.VirtualBendsEnabled != nil {
		c.VirtualBendsEnabled = *u.VirtualBendsEnabled
	}
	if u.IntersectionDetectionEnabled != nil {
		c.IntersectionDetectionEnabled = *u.IntersectionDetectionEnabled
	}
	if u.Jetty != nil && *u.Jetty > 0 {
		c.Jetty = *u.Jetty
	}
	return c
}
