package core

import (
	"context"
	"fmt"
	"strings"

	"github.com/goliatone/go-config/cfgx"
	goerrors "github.com/goliatone/go-errors"
	glog "github.com/goliatone/go-logger/glog"
	opts "github.com/goliatone/go-options"
)

type ErrorMapper func(err error) *goerrors.Error

type ConfigProvider interface {
	Load(ctx context.Context, defaults Config) (Config, error)
}

type RawConfigLoader interface {
	LoadRaw(ctx context.Context) (map[string]any, error)
}

type OptionsResolver interface {
	Resolve(defaults Config, loaded Config, runtime Config) (Config, error)
}

// Runtime carries the resolved configuration and every injected dependency
// the engine packages need. The facade constructs workflow/dispatch/delivery
// components from it.
type Runtime struct {
	Config         Config
	Logger         Logger
	LoggerProvider LoggerProvider
	Metrics        MetricsRecorder
	ErrorMapper    ErrorMapper
	Executions     ExecutionStore
	Steps          StepStore
	Webhooks       WebhookStore
	Deliveries     DeliveryStore
	Scheduler      Scheduler
	Secrets        SecretProvider
}

type runtimeBuilder struct {
	runtimeConfig   Config
	logger          Logger
	loggerProvider  LoggerProvider
	metricsRecorder MetricsRecorder
	errorMapper     ErrorMapper
	configProvider  ConfigProvider
	optionsResolver OptionsResolver
	executionStore  ExecutionStore
	stepStore       StepStore
	webhookStore    WebhookStore
	deliveryStore   DeliveryStore
	scheduler       Scheduler
	secretProvider  SecretProvider
}

type Option func(*runtimeBuilder)

func WithLogger(logger Logger) Option {
	return func(b *runtimeBuilder) {
		b.logger = logger
	}
}

func WithLoggerProvider(provider LoggerProvider) Option {
	return func(b *runtimeBuilder) {
		b.loggerProvider = provider
	}
}

func WithMetricsRecorder(recorder MetricsRecorder) Option {
	return func(b *runtimeBuilder) {
		b.metricsRecorder = recorder
	}
}

func WithErrorMapper(mapper ErrorMapper) Option {
	return func(b *runtimeBuilder) {
		b.errorMapper = mapper
	}
}

func WithConfigProvider(provider ConfigProvider) Option {
	return func(b *runtimeBuilder) {
		b.configProvider = provider
	}
}

func WithOptionsResolver(resolver OptionsResolver) Option {
	return func(b *runtimeBuilder) {
		b.optionsResolver = resolver
	}
}

func WithExecutionStore(store ExecutionStore) Option {
	return func(b *runtimeBuilder) {
		b.executionStore = store
	}
}

func WithStepStore(store StepStore) Option {
	return func(b *runtimeBuilder) {
		b.stepStore = store
	}
}

func WithWebhookStore(store WebhookStore) Option {
	return func(b *runtimeBuilder) {
		b.webhookStore = store
	}
}

func WithDeliveryStore(store DeliveryStore) Option {
	return func(b *runtimeBuilder) {
		b.deliveryStore = store
	}
}

func WithScheduler(scheduler Scheduler) Option {
	return func(b *runtimeBuilder) {
		b.scheduler = scheduler
	}
}

func WithSecretProvider(provider SecretProvider) Option {
	return func(b *runtimeBuilder) {
		b.secretProvider = provider
	}
}

func defaultRuntimeBuilder(runtime Config) runtimeBuilder {
	loggerProvider, logger := glog.Resolve("reportflow", nil, nil)
	return runtimeBuilder{
		runtimeConfig:   runtime,
		loggerProvider:  loggerProvider,
		logger:          logger,
		metricsRecorder: NopMetricsRecorder{},
		errorMapper:     defaultErrorMapper,
		configProvider:  NewCfgxConfigProvider(nil),
		optionsResolver: GoOptionsResolver{},
	}
}

func defaultErrorMapper(err error) *goerrors.Error {
	if err == nil {
		return nil
	}
	return workflowErrorMapper(err)
}

// NewRuntime resolves configuration through defaults < loaded < runtime
// layers and validates the injected dependency set.
func NewRuntime(cfg Config, options ...Option) (*Runtime, error) {
	builder := defaultRuntimeBuilder(cfg)
	for _, option := range options {
		if option == nil {
			continue
		}
		option(&builder)
	}

	loaded, err := builder.configProvider.Load(context.Background(), DefaultConfig())
	if err != nil {
		return nil, err
	}
	resolved, err := builder.optionsResolver.Resolve(DefaultConfig(), loaded, builder.runtimeConfig)
	if err != nil {
		return nil, err
	}

	if builder.executionStore == nil || builder.stepStore == nil {
		return nil, fmt.Errorf("core: execution and step stores are required")
	}
	if builder.webhookStore == nil || builder.deliveryStore == nil {
		return nil, fmt.Errorf("core: webhook and delivery stores are required")
	}
	if builder.scheduler == nil {
		return nil, fmt.Errorf("core: scheduler is required")
	}
	if builder.secretProvider == nil {
		return nil, fmt.Errorf("core: secret provider is required")
	}

	provider, logger := glog.Resolve("reportflow", builder.loggerProvider, builder.logger)
	logger = glog.Ensure(logger)

	return &Runtime{
		Config:         resolved,
		Logger:         logger,
		LoggerProvider: provider,
		Metrics:        builder.metricsRecorder,
		ErrorMapper:    builder.errorMapper,
		Executions:     builder.executionStore,
		Steps:          builder.stepStore,
		Webhooks:       builder.webhookStore,
		Deliveries:     builder.deliveryStore,
		Scheduler:      builder.scheduler,
		Secrets:        builder.secretProvider,
	}, nil
}

type staticRawConfigLoader struct {
	Values map[string]any
}

func (l staticRawConfigLoader) LoadRaw(context.Context) (map[string]any, error) {
	if len(l.Values) == 0 {
		return map[string]any{}, nil
	}
	out := make(map[string]any, len(l.Values))
	for key, value := range l.Values {
		out[key] = value
	}
	return out, nil
}

type CfgxConfigProvider struct {
	Loader RawConfigLoader
}

func NewCfgxConfigProvider(loader RawConfigLoader) *CfgxConfigProvider {
	return &CfgxConfigProvider{Loader: loader}
}

func (p *CfgxConfigProvider) Load(ctx context.Context, defaults Config) (Config, error) {
	if p == nil {
		return defaults, nil
	}
	loader := p.Loader
	if loader == nil {
		loader = staticRawConfigLoader{}
	}
	raw, err := loader.LoadRaw(ctx)
	if err != nil {
		return Config{}, err
	}
	cfg, err := cfgx.Build[Config](raw,
		cfgx.WithDefaults(defaults),
		cfgx.WithValidator[Config]((*Config).Validate),
	)
	if err != nil {
		return Config{}, err
	}
	return cfg, nil
}

type GoOptionsResolver struct{}

func (GoOptionsResolver) Resolve(defaults Config, loaded Config, runtime Config) (Config, error) {
	defaultLayer := configToLayerMap(defaults, true)
	loadedLayer := configToLayerMap(loaded, false)
	runtimeLayer := configToLayerMap(runtime, false)

	stack, err := opts.NewStack(
		opts.NewLayer(
			opts.NewScope("defaults", 0),
			defaultLayer,
			opts.WithSnapshotID[map[string]any]("defaults"),
		),
		opts.NewLayer(
			opts.NewScope("config", 10),
			loadedLayer,
			opts.WithSnapshotID[map[string]any]("config"),
		),
		opts.NewLayer(
			opts.NewScope("runtime", 20),
			runtimeLayer,
			opts.WithSnapshotID[map[string]any]("runtime"),
		),
	)
	if err != nil {
		return Config{}, fmt.Errorf("core: options stack build failed: %w", err)
	}
	merged, err := stack.Merge()
	if err != nil {
		return Config{}, fmt.Errorf("core: options merge failed: %w", err)
	}
	resolved, err := cfgx.Build[Config](merged.Value,
		cfgx.WithDefaults(defaults),
		cfgx.WithValidator[Config]((*Config).Validate),
	)
	if err != nil {
		return Config{}, err
	}
	if err := resolved.Validate(); err != nil {
		return Config{}, err
	}
	return resolved, nil
}

func configToLayerMap(cfg Config, includeZero bool) map[string]any {
	layer := map[string]any{}
	if includeZero || strings.TrimSpace(cfg.ServiceName) != "" {
		layer["service_name"] = cfg.ServiceName
	}

	workflow := map[string]any{}
	if includeZero || cfg.Workflow.DefaultMaxStepAttempts > 0 {
		workflow["default_max_step_attempts"] = cfg.Workflow.DefaultMaxStepAttempts
	}
	if includeZero || strings.TrimSpace(string(cfg.Workflow.ValidationPolicy)) != "" {
		workflow["validation_policy"] = string(cfg.Workflow.ValidationPolicy)
	}
	if includeZero || cfg.Workflow.RetryBaseDelay > 0 {
		workflow["retry_base_delay"] = cfg.Workflow.RetryBaseDelay
	}
	if includeZero || cfg.Workflow.RetryMaxDelay > 0 {
		workflow["retry_max_delay"] = cfg.Workflow.RetryMaxDelay
	}
	if len(workflow) > 0 {
		layer["workflow"] = workflow
	}

	delivery := map[string]any{}
	if includeZero || cfg.Delivery.DispatchBatchSize > 0 {
		delivery["dispatch_batch_size"] = cfg.Delivery.DispatchBatchSize
	}
	if includeZero || cfg.Delivery.DefaultTimeout > 0 {
		delivery["default_timeout"] = cfg.Delivery.DefaultTimeout
	}
	if includeZero || strings.TrimSpace(cfg.Delivery.SignatureHeader) != "" {
		delivery["signature_header"] = cfg.Delivery.SignatureHeader
	}
	if len(delivery) > 0 {
		layer["delivery"] = delivery
	}

	return layer
}
