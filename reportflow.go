// Package reportflow assembles the workflow orchestration and event delivery
// engine: the workflow engine drives executions through the report pipeline,
// the emitter turns lifecycle changes into canonical events, the dispatcher
// fans events out to webhook subscriptions, and the delivery worker posts
// signed payloads to endpoints.
package reportflow

import (
	"context"
	"fmt"

	job "github.com/goliatone/go-job"
	"github.com/goliatone/go-job/queue"

	"github.com/goliatone/go-reportflow/adapters/gocommand"
	"github.com/goliatone/go-reportflow/adapters/gojob"
	"github.com/goliatone/go-reportflow/adapters/gologger"
	"github.com/goliatone/go-reportflow/backoff"
	reportflowcommand "github.com/goliatone/go-reportflow/command"
	"github.com/goliatone/go-reportflow/core"
	"github.com/goliatone/go-reportflow/delivery"
	"github.com/goliatone/go-reportflow/dispatch"
	"github.com/goliatone/go-reportflow/events"
	reportflowquery "github.com/goliatone/go-reportflow/query"
	"github.com/goliatone/go-reportflow/webhooks"
	"github.com/goliatone/go-reportflow/workflow"
)

type Config = core.Config

type Option = core.Option

type Runtime = core.Runtime

type Event = core.Event

type WorkflowExecution = core.WorkflowExecution
type WorkflowStep = core.WorkflowStep
type Webhook = core.Webhook
type WebhookDelivery = core.WebhookDelivery

type StartRequest = workflow.StartRequest
type StepDefinition = workflow.StepDefinition
type StepRunner = workflow.StepRunner
type StepRunnerFunc = workflow.StepRunnerFunc

var (
	WithLogger          = core.WithLogger
	WithLoggerProvider  = core.WithLoggerProvider
	WithMetricsRecorder = core.WithMetricsRecorder
	WithErrorMapper     = core.WithErrorMapper
	WithConfigProvider  = core.WithConfigProvider
	WithOptionsResolver = core.WithOptionsResolver
	WithExecutionStore  = core.WithExecutionStore
	WithStepStore       = core.WithStepStore
	WithWebhookStore    = core.WithWebhookStore
	WithDeliveryStore   = core.WithDeliveryStore
	WithScheduler       = core.WithScheduler
	WithSecretProvider  = core.WithSecretProvider
)

func DefaultConfig() Config {
	return core.DefaultConfig()
}

// Commands groups the write-side handlers for go-command registration.
type Commands struct {
	StartWorkflow       *reportflowcommand.StartWorkflowCommand
	CancelWorkflow      *reportflowcommand.CancelWorkflowCommand
	PauseWorkflow       *reportflowcommand.PauseWorkflowCommand
	ResumeWorkflow      *reportflowcommand.ResumeWorkflowCommand
	SkipStep            *reportflowcommand.SkipStepCommand
	RetryDelivery       *reportflowcommand.RetryDeliveryCommand
	CreateWebhook       *reportflowcommand.CreateWebhookCommand
	RotateWebhookSecret *reportflowcommand.RotateWebhookSecretCommand
	SetWebhookActive    *reportflowcommand.SetWebhookActiveCommand
}

// Queries groups the read-side handlers.
type Queries struct {
	GetExecution          *reportflowquery.GetExecutionQuery
	GetExecutionByJobRun  *reportflowquery.GetExecutionByJobRunQuery
	ListExecutionSteps    *reportflowquery.ListExecutionStepsQuery
	GetWebhook            *reportflowquery.GetWebhookQuery
	GetDelivery           *reportflowquery.GetDeliveryQuery
	ListWebhookDeliveries *reportflowquery.ListWebhookDeliveriesQuery
}

// System is the wired engine: every collaborator shares the runtime's stores,
// scheduler, logger, and metrics.
type System struct {
	runtime *core.Runtime

	Registry   *workflow.RunnerRegistry
	Engine     *workflow.Engine
	Emitter    *events.Emitter
	Dispatcher *dispatch.Dispatcher
	Worker     *delivery.Worker
	Webhooks   *webhooks.Manager

	commands Commands
	queries  Queries
}

// New builds the system from resolved configuration and injected stores.
// Event flow is wired end to end: engine lifecycle changes reach the emitter,
// the emitter feeds the dispatcher, and dispatched deliveries land on the
// worker through the scheduler.
func New(cfg Config, options ...Option) (*System, error) {
	runtime, err := core.NewRuntime(cfg, options...)
	if err != nil {
		return nil, err
	}
	return NewFromRuntime(runtime)
}

func NewFromRuntime(runtime *core.Runtime) (*System, error) {
	if runtime == nil {
		return nil, fmt.Errorf("reportflow: runtime is required")
	}

	dispatcher := dispatch.NewDispatcher(runtime.Webhooks, runtime.Deliveries, runtime.Scheduler)
	dispatcher.Logger = runtime.Logger

	emitter := events.NewEmitter(dispatcher)

	policy := backoff.FromRetryPolicy(
		"exponential",
		runtime.Config.Workflow.RetryBaseDelay,
		runtime.Config.Workflow.RetryMaxDelay,
	)
	executor := workflow.NewExecutor(runtime.Steps, runtime.Scheduler, policy)

	registry := workflow.NewRunnerRegistry()
	engine := workflow.NewEngine(runtime.Executions, runtime.Steps, runtime.Scheduler, executor, registry)
	engine.Events = emitter
	engine.Metrics = runtime.Metrics
	engine.Logger = runtime.Logger
	engine.ValidationPolicy = runtime.Config.Workflow.ValidationPolicy

	worker := delivery.NewWorker(runtime.Deliveries, runtime.Webhooks, runtime.Secrets, runtime.Scheduler)
	worker.Events = emitter
	worker.Metrics = runtime.Metrics
	worker.Logger = runtime.Logger
	worker.SignatureHeader = runtime.Config.Delivery.SignatureHeader
	// Per-attempt deadlines come from each webhook's clamped window; the
	// shared client cap must never undercut that window.
	worker.Client.Timeout = core.MaxDeliveryTimeout

	manager := webhooks.NewManager(runtime.Webhooks, runtime.Secrets)
	manager.Logger = runtime.Logger
	manager.DefaultTimeout = runtime.Config.Delivery.DefaultTimeout

	system := &System{
		runtime:    runtime,
		Registry:   registry,
		Engine:     engine,
		Emitter:    emitter,
		Dispatcher: dispatcher,
		Worker:     worker,
		Webhooks:   manager,
	}
	system.commands = Commands{
		StartWorkflow:       reportflowcommand.NewStartWorkflowCommand(engine),
		CancelWorkflow:      reportflowcommand.NewCancelWorkflowCommand(engine),
		PauseWorkflow:       reportflowcommand.NewPauseWorkflowCommand(engine),
		ResumeWorkflow:      reportflowcommand.NewResumeWorkflowCommand(engine),
		SkipStep:            reportflowcommand.NewSkipStepCommand(engine),
		RetryDelivery:       reportflowcommand.NewRetryDeliveryCommand(worker),
		CreateWebhook:       reportflowcommand.NewCreateWebhookCommand(manager),
		RotateWebhookSecret: reportflowcommand.NewRotateWebhookSecretCommand(manager),
		SetWebhookActive:    reportflowcommand.NewSetWebhookActiveCommand(manager),
	}
	system.queries = Queries{
		GetExecution:          reportflowquery.NewGetExecutionQuery(runtime.Executions),
		GetExecutionByJobRun:  reportflowquery.NewGetExecutionByJobRunQuery(runtime.Executions),
		ListExecutionSteps:    reportflowquery.NewListExecutionStepsQuery(runtime.Steps),
		GetWebhook:            reportflowquery.NewGetWebhookQuery(runtime.Webhooks),
		GetDelivery:           reportflowquery.NewGetDeliveryQuery(runtime.Deliveries),
		ListWebhookDeliveries: reportflowquery.NewListWebhookDeliveriesQuery(runtime.Deliveries),
	}

	return system, nil
}

// RegisterHandlers subscribes every command and query handler to the process
// dispatcher and registers each message type with the go-command registry, so
// hosts can route work through gocommand.Dispatch or mirror it into a queue
// resolver. The host adds resolvers and calls Initialize on the adapter; the
// returned set tears the whole surface down.
func (s *System) RegisterHandlers(adapter *gocommand.RegistryAdapter) (gocommand.SubscriptionSet, error) {
	if s == nil || s.runtime == nil {
		return nil, fmt.Errorf("reportflow: system is not configured")
	}
	if adapter == nil {
		return nil, fmt.Errorf("reportflow: command registry adapter is required")
	}

	var set gocommand.SubscriptionSet
	keep := func(sub gocommand.Subscription, err error) error {
		if err != nil {
			set.Unsubscribe()
			return err
		}
		set = append(set, sub)
		return nil
	}

	if err := keep(gocommand.RegisterAndSubscribe(adapter, s.commands.StartWorkflow)); err != nil {
		return nil, err
	}
	if err := keep(gocommand.RegisterAndSubscribe(adapter, s.commands.CancelWorkflow)); err != nil {
		return nil, err
	}
	if err := keep(gocommand.RegisterAndSubscribe(adapter, s.commands.PauseWorkflow)); err != nil {
		return nil, err
	}
	if err := keep(gocommand.RegisterAndSubscribe(adapter, s.commands.ResumeWorkflow)); err != nil {
		return nil, err
	}
	if err := keep(gocommand.RegisterAndSubscribe(adapter, s.commands.SkipStep)); err != nil {
		return nil, err
	}
	if err := keep(gocommand.RegisterAndSubscribe(adapter, s.commands.RetryDelivery)); err != nil {
		return nil, err
	}
	if err := keep(gocommand.RegisterAndSubscribe(adapter, s.commands.CreateWebhook)); err != nil {
		return nil, err
	}
	if err := keep(gocommand.RegisterAndSubscribe(adapter, s.commands.RotateWebhookSecret)); err != nil {
		return nil, err
	}
	if err := keep(gocommand.RegisterAndSubscribe(adapter, s.commands.SetWebhookActive)); err != nil {
		return nil, err
	}
	if err := keep(gocommand.RegisterAndSubscribeQuery(adapter, s.queries.GetExecution)); err != nil {
		return nil, err
	}
	if err := keep(gocommand.RegisterAndSubscribeQuery(adapter, s.queries.GetExecutionByJobRun)); err != nil {
		return nil, err
	}
	if err := keep(gocommand.RegisterAndSubscribeQuery(adapter, s.queries.ListExecutionSteps)); err != nil {
		return nil, err
	}
	if err := keep(gocommand.RegisterAndSubscribeQuery(adapter, s.queries.GetWebhook)); err != nil {
		return nil, err
	}
	if err := keep(gocommand.RegisterAndSubscribeQuery(adapter, s.queries.GetDelivery)); err != nil {
		return nil, err
	}
	if err := keep(gocommand.RegisterAndSubscribeQuery(adapter, s.queries.ListWebhookDeliveries)); err != nil {
		return nil, err
	}

	return set, nil
}

// QueueRuntime bundles the consumer draining the task queue with the go-job
// logger bridges the host's queue server expects.
type QueueRuntime struct {
	Consumer       *gojob.Consumer
	LoggerProvider job.LoggerProvider
	Logger         job.Logger
}

// QueueRuntime builds the queue-side runtime: dequeued tasks route back into
// the workflow engine and the delivery worker, and queue workers log through
// the same resolved pipeline as the rest of the system.
func (s *System) QueueRuntime(dequeuer queue.Dequeuer, policy gojob.RetryPolicy) (QueueRuntime, error) {
	if s == nil || s.runtime == nil || s.Engine == nil || s.Worker == nil {
		return QueueRuntime{}, fmt.Errorf("reportflow: system is not configured")
	}
	if dequeuer == nil {
		return QueueRuntime{}, fmt.Errorf("reportflow: dequeuer is required")
	}

	_, logger, jobProvider, jobLogger := gologger.ResolveForJob(
		s.runtime.Config.ServiceName,
		s.runtime.LoggerProvider,
		s.runtime.Logger,
	)
	consumer := gojob.NewConsumer(dequeuer, gojob.TaskHandlers{
		AdvanceWorkflow: s.Engine.Advance,
		AttemptDelivery: func(ctx context.Context, deliveryID string) error {
			_, err := s.Worker.Attempt(ctx, deliveryID)
			return err
		},
	}, policy, logger)

	return QueueRuntime{
		Consumer:       consumer,
		LoggerProvider: jobProvider,
		Logger:         jobLogger,
	}, nil
}

// RegisterRunner binds the runner that executes steps with the given name.
func (s *System) RegisterRunner(stepName string, runner workflow.StepRunner) error {
	if s == nil || s.Registry == nil {
		return fmt.Errorf("reportflow: system is not configured")
	}
	return s.Registry.Register(stepName, runner)
}

func (s *System) Commands() Commands {
	if s == nil {
		return Commands{}
	}
	return s.commands
}

func (s *System) Queries() Queries {
	if s == nil {
		return Queries{}
	}
	return s.queries
}

func (s *System) Runtime() *Runtime {
	if s == nil {
		return nil
	}
	return s.runtime
}

func (s *System) Config() Config {
	if s == nil || s.runtime == nil {
		return Config{}
	}
	return s.runtime.Config
}

// ReplayDueDeliveries re-queues retrying deliveries whose next attempt is
// due; hosts run it on a timer as a safety net when queue tasks are lost.
func (s *System) ReplayDueDeliveries(ctx context.Context, limit int) (int, error) {
	if s == nil || s.Dispatcher == nil {
		return 0, fmt.Errorf("reportflow: system is not configured")
	}
	return s.Dispatcher.ReplayDue(ctx, limit)
}
