// Copyright (C) 2019-2025, Lux Industries, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package computevm

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"sync"

	"github.com/gorilla/rpc/v2"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/luxfi/database"
	"github.com/luxfi/database/versiondb"
	"github.com/luxfi/ids"
	"github.com/luxfi/log"
	"github.com/luxfi/version"

	rpcjson "github.com/luxfi/utils/json"

	vmcore "github.com/luxfi/computevm"
	"github.com/luxfi/computevm/vms/computevm/api"
	"github.com/luxfi/computevm/vms/computevm/config"
	"github.com/luxfi/computevm/vms/computevm/events"
	"github.com/luxfi/computevm/vms/computevm/ledger"
	"github.com/luxfi/computevm/vms/computevm/metrics"
	"github.com/luxfi/computevm/vms/computevm/payment"
	"github.com/luxfi/computevm/vms/computevm/quorum"
	"github.com/luxfi/computevm/vms/computevm/registry"
	"github.com/luxfi/computevm/vms/computevm/state"
	"github.com/luxfi/computevm/vms/computevm/task"
)

const (
	Name          = "computevm"
	MetricsPrefix = "computevm"
)

var (
	Version = &version.Semantic{
		Major: 1,
		Minor: 0,
		Patch: 0,
	}

	errUnknownState    = errors.New("unknown state")
	errNotInitialized  = errors.New("VM not initialized")
	errNotBootstrapped = errors.New("VM not bootstrapped")
	errShutdown        = errors.New("VM is shutting down")

	_ vmcore.VM = (*VM)(nil)
	_ api.VM    = (*VM)(nil)
)

// VM composes the task registry, submission ledger and quorum engine over
// one versioned database. Every mutating call commits as a whole or not at
// all.
type VM struct {
	config.Config

	log  log.Logger
	lock sync.RWMutex

	chainID ids.ID
	baseDB  database.Database
	db      *versiondb.Database

	state    *state.State
	bank     *payment.Bank
	registry *registry.Registry
	ledger   *ledger.Ledger
	engine   *quorum.Engine

	metrics   metrics.Metrics
	publisher vmcore.Publisher

	vmState     vmcore.State
	initialized bool
	shutdown    bool
}

func (vm *VM) Initialize(ctx context.Context, cfg *vmcore.Config) error {
	vm.lock.Lock()
	defer vm.lock.Unlock()

	if cfg.Log != nil {
		vm.log = cfg.Log
	}
	if vm.log == nil {
		vm.log = log.NewNoOpLogger()
	}
	vm.chainID = cfg.ChainID

	base := vm.Config
	if base == (config.Config{}) {
		base = config.DefaultConfig()
	}
	vmConfig, err := config.Overlay(base, cfg.ConfigBytes)
	if err != nil {
		return err
	}
	vm.Config = vmConfig

	genesis, err := ParseGenesis(cfg.GenesisBytes)
	if err != nil {
		return err
	}

	registerer := cfg.Registerer
	if registerer == nil {
		registerer = prometheus.NewRegistry()
	}
	vm.metrics, err = metrics.New(MetricsPrefix, registerer)
	if err != nil {
		return fmt.Errorf("failed to register metrics: %w", err)
	}

	vm.publisher = cfg.Publisher
	if vm.publisher == nil {
		vm.publisher = events.Noop{}
	}

	vm.baseDB = cfg.DB
	vm.db = versiondb.New(vm.baseDB)
	vm.state = state.New(vm.db)
	vm.bank = payment.NewBank(vm.state)
	vm.registry = registry.New(vm.Config, vm.state, vm.bank, vm.log)
	vm.ledger = ledger.New(vm.Config, vm.state, vm.registry, vm.log)
	vm.engine = quorum.NewEngine(vm.registry, vm.ledger, vm.bank, vm.RemainderPolicy, vm.log)
	vm.ledger.SetFinalizer(vm.engine)

	if err := vm.initGenesis(genesis); err != nil {
		vm.db.Abort()
		return err
	}

	vm.vmState = vmcore.Bootstrapping
	vm.initialized = true
	vm.log.Info("compute VM initialized",
		log.Stringer("chainID", vm.chainID),
		log.Uint32("minWorkers", vm.MinWorkers),
		log.Uint32("maxWorkers", vm.MaxWorkers),
		log.String("remainderPolicy", string(vm.RemainderPolicy)),
	)
	return nil
}

// initGenesis credits the genesis allocations the first time the database is
// opened.
func (vm *VM) initGenesis(genesis *Genesis) error {
	initialized, err := vm.state.IsInitialized()
	if err != nil {
		return err
	}
	if initialized {
		return nil
	}
	for _, a := range genesis.Allocations {
		if err := vm.bank.Credit(a.Address, a.Balance); err != nil {
			return fmt.Errorf("failed to apply genesis allocation to %s: %w", a.Address, err)
		}
	}
	if err := vm.state.SetInitialized(); err != nil {
		return err
	}
	if err := vm.db.Commit(); err != nil {
		return err
	}
	vm.log.Info("genesis applied", log.Int("allocations", len(genesis.Allocations)))
	return nil
}

func (vm *VM) SetState(_ context.Context, s vmcore.State) error {
	vm.lock.Lock()
	defer vm.lock.Unlock()

	switch s {
	case vmcore.Bootstrapping, vmcore.NormalOp:
		vm.vmState = s
		vm.log.Info("compute VM changed state", log.Stringer("state", s))
		return nil
	default:
		return fmt.Errorf("%w: %d", errUnknownState, s)
	}
}

func (vm *VM) IsBootstrapped() bool {
	vm.lock.RLock()
	defer vm.lock.RUnlock()

	return vm.vmState == vmcore.NormalOp
}

func (vm *VM) Shutdown(context.Context) error {
	vm.lock.Lock()
	defer vm.lock.Unlock()

	if vm.shutdown || vm.db == nil {
		return nil
	}
	vm.shutdown = true
	vm.log.Info("shutting down compute VM")
	return vm.db.Close()
}

func (*VM) Version(context.Context) (string, error) {
	return Version.String(), nil
}

func (vm *VM) CreateHandlers(context.Context) (map[string]http.Handler, error) {
	server := rpc.NewServer()
	server.RegisterCodec(rpcjson.NewCodec(), "application/json")
	server.RegisterCodec(rpcjson.NewCodec(), "application/json;charset=UTF-8")
	if err := server.RegisterService(api.NewService(vm), Name); err != nil {
		return nil, fmt.Errorf("failed to register %s service: %w", Name, err)
	}
	return map[string]http.Handler{
		"": server,
	}, nil
}

func (vm *VM) HealthCheck(context.Context) (interface{}, error) {
	vm.lock.RLock()
	defer vm.lock.RUnlock()

	if !vm.initialized {
		return nil, errNotInitialized
	}
	count, err := vm.registry.TaskCount()
	if err != nil {
		return nil, err
	}
	return map[string]interface{}{
		"healthy":      !vm.shutdown,
		"bootstrapped": vm.vmState == vmcore.NormalOp,
		"state":        vm.vmState.String(),
		"tasks":        count,
	}, nil
}

// PostTask creates a task and escrows its reward from the creator.
func (vm *VM) PostTask(
	ctx context.Context,
	creator ids.ShortID,
	work task.WorkDescriptor,
	reward uint64,
	maxWorkers uint32,
	attachedPayment uint64,
) (uint64, error) {
	vm.lock.Lock()
	var taskID uint64
	err := vm.atomically(metrics.PostTaskOp, func() error {
		var err error
		taskID, err = vm.registry.PostTask(creator, work, reward, maxWorkers, attachedPayment)
		return err
	})
	vm.lock.Unlock()
	if err != nil {
		return 0, err
	}

	vm.metrics.MarkPosted(reward)
	vm.publish(ctx, vmcore.TaskPosted, taskID, &task.Task{
		ID:           taskID,
		Creator:      creator,
		Work:         work,
		RewardAmount: reward,
		MaxWorkers:   maxWorkers,
		Status:       task.Open,
	})
	return taskID, nil
}

type submittedEvent struct {
	Worker ids.ShortID `json:"worker"`
	Hash   string      `json:"hash"`
}

// SubmitResult records worker's vote. If it fills the task's quota, the task
// is finalized in the same call and the outcome returned.
func (vm *VM) SubmitResult(ctx context.Context, taskID uint64, worker ids.ShortID, hash []byte) (*task.Outcome, error) {
	vm.lock.Lock()
	var (
		outcome *task.Outcome
		reward  uint64
	)
	err := vm.atomically(metrics.SubmitResultOp, func() error {
		var err error
		outcome, err = vm.ledger.SubmitResult(taskID, worker, hash)
		if err != nil || outcome == nil {
			return err
		}
		t, err := vm.registry.GetTask(taskID)
		if err != nil {
			return err
		}
		reward = t.RewardAmount
		return nil
	})
	vm.lock.Unlock()
	if err != nil {
		return nil, err
	}

	vm.metrics.MarkSubmitted()
	vm.publish(ctx, vmcore.ResultSubmitted, taskID, &submittedEvent{
		Worker: worker,
		Hash:   api.EncodeHash(hash),
	})
	if outcome != nil {
		vm.metrics.MarkFinalized(outcome, reward)
		vm.publish(ctx, vmcore.TaskFinalized, taskID, outcome)
	}
	return outcome, nil
}

// atomically runs f against the versioned database, committing its writes if
// it succeeds and discarding them otherwise. The caller must hold the lock.
func (vm *VM) atomically(op string, f func() error) error {
	if err := vm.ready(); err != nil {
		return err
	}
	if err := f(); err != nil {
		vm.db.Abort()
		vm.metrics.MarkRejected(op)
		if errors.Is(err, task.ErrInvariant) {
			vm.log.Error("call aborted on invariant violation",
				log.String("op", op),
				log.Err(err),
			)
		} else {
			vm.log.Warn("call rejected",
				log.String("op", op),
				log.Err(err),
			)
		}
		return err
	}
	if err := vm.db.Commit(); err != nil {
		vm.db.Abort()
		return fmt.Errorf("failed to commit %s: %w", op, err)
	}
	return nil
}

func (vm *VM) ready() error {
	switch {
	case !vm.initialized:
		return errNotInitialized
	case vm.shutdown:
		return errShutdown
	case vm.vmState != vmcore.NormalOp:
		return errNotBootstrapped
	default:
		return nil
	}
}

// publish delivers an event for a committed change. Failures are logged
// only.
func (vm *VM) publish(ctx context.Context, typ vmcore.MessageType, taskID uint64, content interface{}) {
	data, err := json.Marshal(content)
	if err != nil {
		vm.log.Warn("failed to encode event",
			log.Stringer("type", typ),
			log.Uint64("taskID", taskID),
			log.Err(err),
		)
		return
	}
	msg := &vmcore.Message{
		Type:    typ,
		TaskID:  taskID,
		Content: data,
	}
	if err := vm.publisher.Publish(ctx, msg); err != nil {
		vm.log.Warn("failed to publish event",
			log.Stringer("type", typ),
			log.Uint64("taskID", taskID),
			log.Err(err),
		)
	}
}

func (vm *VM) GetTask(taskID uint64) (*task.Task, error) {
	vm.lock.RLock()
	defer vm.lock.RUnlock()

	if !vm.initialized {
		return nil, errNotInitialized
	}
	return vm.registry.GetTask(taskID)
}

func (vm *VM) GetTaskStatus(taskID uint64) (task.Status, error) {
	vm.lock.RLock()
	defer vm.lock.RUnlock()

	if !vm.initialized {
		return 0, errNotInitialized
	}
	return vm.registry.GetTaskStatus(taskID)
}

func (vm *VM) TaskCount() (uint64, error) {
	vm.lock.RLock()
	defer vm.lock.RUnlock()

	if !vm.initialized {
		return 0, errNotInitialized
	}
	return vm.registry.TaskCount()
}

func (vm *VM) ListTasks(start uint64, limit int) ([]*task.Task, error) {
	vm.lock.RLock()
	defer vm.lock.RUnlock()

	if !vm.initialized {
		return nil, errNotInitialized
	}
	return vm.registry.ListTasks(start, limit)
}

func (vm *VM) GetSubmission(taskID uint64, worker ids.ShortID) ([]byte, error) {
	vm.lock.RLock()
	defer vm.lock.RUnlock()

	if !vm.initialized {
		return nil, errNotInitialized
	}
	if _, err := vm.registry.GetTask(taskID); err != nil {
		return nil, err
	}
	return vm.ledger.Submission(taskID, worker)
}

func (vm *VM) GetWorkers(taskID uint64) ([]ids.ShortID, error) {
	vm.lock.RLock()
	defer vm.lock.RUnlock()

	if !vm.initialized {
		return nil, errNotInitialized
	}
	if _, err := vm.registry.GetTask(taskID); err != nil {
		return nil, err
	}
	return vm.ledger.Workers(taskID)
}

func (vm *VM) GetBalance(addr ids.ShortID) (uint64, error) {
	vm.lock.RLock()
	defer vm.lock.RUnlock()

	if !vm.initialized {
		return 0, errNotInitialized
	}
	return vm.bank.Balance(addr)
}

// Escrowed returns the reward escrowed for taskID when it was posted.
func (vm *VM) Escrowed(taskID uint64) (uint64, error) {
	vm.lock.RLock()
	defer vm.lock.RUnlock()

	if !vm.initialized {
		return 0, errNotInitialized
	}
	return vm.bank.Escrowed(taskID)
}
