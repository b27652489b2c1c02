// Copyright (C) 2019-2025, Lux Industries, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package computevm

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/require"

	"github.com/luxfi/database/memdb"
	"github.com/luxfi/ids"
	"github.com/luxfi/log"
	utilsjson "github.com/luxfi/utils/json"

	vmcore "github.com/luxfi/computevm"
	"github.com/luxfi/computevm/vms/computevm/api"
	"github.com/luxfi/computevm/vms/computevm/config"
	"github.com/luxfi/computevm/vms/computevm/payment"
	"github.com/luxfi/computevm/vms/computevm/task"
)

const startingBalance = 1_000_000

var errPublish = errors.New("publish failed")

type recordingPublisher struct {
	messages []*vmcore.Message
	err      error
}

func (p *recordingPublisher) Publish(_ context.Context, msg *vmcore.Message) error {
	p.messages = append(p.messages, msg)
	return p.err
}

func (p *recordingPublisher) types() []vmcore.MessageType {
	types := make([]vmcore.MessageType, len(p.messages))
	for i, msg := range p.messages {
		types[i] = msg.Type
	}
	return types
}

type testVM struct {
	*VM
	publisher *recordingPublisher
	creator   ids.ShortID
}

func newTestVM(t *testing.T, cfg config.Config, configBytes []byte) *testVM {
	t.Helper()
	require := require.New(t)

	creator := ids.GenerateTestShortID()
	genesis := &Genesis{Allocations: []Allocation{{Address: creator, Balance: startingBalance}}}
	genesisBytes, err := genesis.Bytes()
	require.NoError(err)

	publisher := &recordingPublisher{}
	factory := &Factory{Config: cfg}
	instance, err := factory.New(log.NewNoOpLogger())
	require.NoError(err)
	vm := instance.(*VM)

	ctx := context.Background()
	require.NoError(vm.Initialize(ctx, &vmcore.Config{
		ChainID:      ids.GenerateTestID(),
		DB:           memdb.New(),
		Log:          log.NewNoOpLogger(),
		Registerer:   prometheus.NewRegistry(),
		Publisher:    publisher,
		GenesisBytes: genesisBytes,
		ConfigBytes:  configBytes,
	}))
	require.NoError(vm.SetState(ctx, vmcore.NormalOp))
	t.Cleanup(func() {
		require.NoError(vm.Shutdown(context.Background()))
	})

	return &testVM{
		VM:        vm,
		publisher: publisher,
		creator:   creator,
	}
}

func (vm *testVM) balance(t *testing.T, addr ids.ShortID) uint64 {
	t.Helper()
	balance, err := vm.GetBalance(addr)
	require.NoError(t, err)
	return balance
}

func TestInitializeAppliesGenesisOnce(t *testing.T) {
	require := require.New(t)

	creator := ids.GenerateTestShortID()
	genesisBytes, err := (&Genesis{Allocations: []Allocation{{Address: creator, Balance: 500}}}).Bytes()
	require.NoError(err)

	db := memdb.New()
	for i := 0; i < 2; i++ {
		vm := &VM{}
		require.NoError(vm.Initialize(context.Background(), &vmcore.Config{
			DB:           db,
			GenesisBytes: genesisBytes,
		}))
		balance, err := vm.GetBalance(creator)
		require.NoError(err)
		require.Equal(uint64(500), balance)
		require.NoError(vm.Shutdown(context.Background()))
	}
}

func TestInitializeRejectsBadInputs(t *testing.T) {
	tests := []struct {
		name    string
		config  *vmcore.Config
		wantErr error
	}{
		{
			name: "bad config",
			config: &vmcore.Config{
				DB:          memdb.New(),
				ConfigBytes: []byte(`{"remainderPolicy":"split"}`),
			},
			wantErr: config.ErrInvalidRemainderRule,
		},
		{
			name: "escrow allocation",
			config: &vmcore.Config{
				DB: memdb.New(),
				GenesisBytes: func() []byte {
					b, _ := (&Genesis{Allocations: []Allocation{{Address: payment.EscrowAccount, Balance: 1}}}).Bytes()
					return b
				}(),
			},
			wantErr: errReservedAddress,
		},
	}
	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			vm := &VM{}
			err := vm.Initialize(context.Background(), test.config)
			require.ErrorIs(t, err, test.wantErr)
		})
	}
}

func TestCallsRequireNormalOp(t *testing.T) {
	require := require.New(t)

	vm := newTestVM(t, config.Config{}, nil)
	require.NoError(vm.SetState(context.Background(), vmcore.Bootstrapping))
	require.False(vm.IsBootstrapped())

	_, err := vm.PostTask(context.Background(), vm.creator, task.WorkDescriptor{}, 100, 1, 100)
	require.ErrorIs(err, errNotBootstrapped)

	err = vm.SetState(context.Background(), vmcore.State(9))
	require.ErrorIs(err, errUnknownState)
}

func TestMajorityLifecycle(t *testing.T) {
	require := require.New(t)

	vm := newTestVM(t, config.Config{}, nil)
	ctx := context.Background()
	a, b, c := ids.GenerateTestShortID(), ids.GenerateTestShortID(), ids.GenerateTestShortID()

	taskID, err := vm.PostTask(ctx, vm.creator, task.WorkDescriptor{ImageURI: "oci://job"}, 100, 3, 100)
	require.NoError(err)
	require.Zero(taskID)
	require.Equal(uint64(startingBalance-100), vm.balance(t, vm.creator))
	escrowed, err := vm.Escrowed(taskID)
	require.NoError(err)
	require.Equal(uint64(100), escrowed)

	outcome, err := vm.SubmitResult(ctx, taskID, a, []byte("X"))
	require.NoError(err)
	require.Nil(outcome)
	outcome, err = vm.SubmitResult(ctx, taskID, b, []byte("X"))
	require.NoError(err)
	require.Nil(outcome)
	outcome, err = vm.SubmitResult(ctx, taskID, c, []byte("Y"))
	require.NoError(err)
	require.NotNil(outcome)
	require.Equal(task.Completed, outcome.Status)

	require.Equal(uint64(50), vm.balance(t, a))
	require.Equal(uint64(50), vm.balance(t, b))
	require.Zero(vm.balance(t, c))
	require.Equal(uint64(startingBalance-100), vm.balance(t, vm.creator))

	workers, err := vm.GetWorkers(taskID)
	require.NoError(err)
	require.Equal([]ids.ShortID{a, b, c}, workers)

	hash, err := vm.GetSubmission(taskID, c)
	require.NoError(err)
	require.Equal([]byte("Y"), hash)

	_, err = vm.SubmitResult(ctx, taskID, ids.GenerateTestShortID(), []byte("X"))
	require.ErrorIs(err, task.ErrTaskNotOpen)

	require.Equal([]vmcore.MessageType{
		vmcore.TaskPosted,
		vmcore.ResultSubmitted,
		vmcore.ResultSubmitted,
		vmcore.ResultSubmitted,
		vmcore.TaskFinalized,
	}, vm.publisher.types())

	var finalized task.Outcome
	require.NoError(json.Unmarshal(vm.publisher.messages[4].Content, &finalized))
	require.Equal(task.Completed, finalized.Status)
	require.Equal([]ids.ShortID{a, b}, finalized.Winners)
}

func TestNoMajorityRefunds(t *testing.T) {
	require := require.New(t)

	vm := newTestVM(t, config.Config{}, nil)
	ctx := context.Background()

	taskID, err := vm.PostTask(ctx, vm.creator, task.WorkDescriptor{}, 100, 2, 100)
	require.NoError(err)
	_, err = vm.SubmitResult(ctx, taskID, ids.GenerateTestShortID(), []byte("X"))
	require.NoError(err)
	outcome, err := vm.SubmitResult(ctx, taskID, ids.GenerateTestShortID(), []byte("Y"))
	require.NoError(err)
	require.Equal(task.Failed, outcome.Status)

	require.Equal(uint64(startingBalance), vm.balance(t, vm.creator))
	status, err := vm.GetTaskStatus(taskID)
	require.NoError(err)
	require.Equal(task.Failed, status)
}

func TestConfigBytesSelectRemainderPolicy(t *testing.T) {
	require := require.New(t)

	vm := newTestVM(t, config.Config{}, []byte(`{"remainderPolicy":"burn"}`))
	ctx := context.Background()

	taskID, err := vm.PostTask(ctx, vm.creator, task.WorkDescriptor{}, 100, 3, 100)
	require.NoError(err)
	var outcome *task.Outcome
	for i := 0; i < 3; i++ {
		outcome, err = vm.SubmitResult(ctx, taskID, ids.GenerateTestShortID(), []byte("X"))
		require.NoError(err)
	}
	require.Equal(uint64(99), outcome.TotalPaid())
	require.Equal(uint64(1), vm.balance(t, payment.EscrowAccount))
}

func TestRejectedPostLeavesNoTrace(t *testing.T) {
	require := require.New(t)

	vm := newTestVM(t, config.Config{}, nil)
	ctx := context.Background()
	poor := ids.GenerateTestShortID()

	_, err := vm.PostTask(ctx, poor, task.WorkDescriptor{}, 100, 1, 100)
	require.ErrorIs(err, task.ErrInsufficientFund)

	count, err := vm.TaskCount()
	require.NoError(err)
	require.Zero(count)
	_, err = vm.GetTask(0)
	require.ErrorIs(err, task.ErrTaskNotFound)
	require.Empty(vm.publisher.messages)

	taskID, err := vm.PostTask(ctx, vm.creator, task.WorkDescriptor{}, 100, 1, 100)
	require.NoError(err)
	require.Zero(taskID)
}

func TestInvariantViolationRollsBackSubmission(t *testing.T) {
	require := require.New(t)

	vm := newTestVM(t, config.Config{}, nil)
	ctx := context.Background()
	worker := ids.GenerateTestShortID()

	taskID, err := vm.PostTask(ctx, vm.creator, task.WorkDescriptor{}, 100, 1, 100)
	require.NoError(err)

	// Drain escrow behind the VM's back so the payout cannot be made.
	vm.lock.Lock()
	require.NoError(vm.state.SetBalance(payment.EscrowAccount, 0))
	require.NoError(vm.db.Commit())
	vm.lock.Unlock()

	_, err = vm.SubmitResult(ctx, taskID, worker, []byte("X"))
	require.ErrorIs(err, task.ErrInvariant)

	tsk, err := vm.GetTask(taskID)
	require.NoError(err)
	require.Equal(task.Open, tsk.Status)
	require.Zero(tsk.SubmissionsCount)
	require.Zero(vm.balance(t, worker))
	require.Equal(uint64(startingBalance-100), vm.balance(t, vm.creator))

	workers, err := vm.GetWorkers(taskID)
	require.NoError(err)
	require.Empty(workers)
	_, err = vm.GetSubmission(taskID, worker)
	require.ErrorIs(err, task.ErrSubmissionNotFound)
}

func TestPublishFailureKeepsCommit(t *testing.T) {
	require := require.New(t)

	vm := newTestVM(t, config.Config{}, nil)
	vm.publisher.err = errPublish

	taskID, err := vm.PostTask(context.Background(), vm.creator, task.WorkDescriptor{}, 100, 1, 100)
	require.NoError(err)
	_, err = vm.GetTask(taskID)
	require.NoError(err)
}

func TestHealthCheck(t *testing.T) {
	require := require.New(t)

	vm := newTestVM(t, config.Config{}, nil)
	_, err := vm.PostTask(context.Background(), vm.creator, task.WorkDescriptor{}, 100, 1, 100)
	require.NoError(err)

	health, err := vm.HealthCheck(context.Background())
	require.NoError(err)
	details := health.(map[string]interface{})
	require.Equal(true, details["bootstrapped"])
	require.Equal(uint64(1), details["tasks"])
}

type rpcError struct {
	Message string `json:"message"`
}

type rpcResponse struct {
	Result json.RawMessage `json:"result"`
	Error  *rpcError       `json:"error"`
}

// call posts a JSON-RPC request to handler and decodes the result into
// reply. It returns the error message if the call failed.
func call(t *testing.T, handler http.Handler, method string, args, reply interface{}) string {
	t.Helper()
	require := require.New(t)

	params, err := json.Marshal(args)
	require.NoError(err)
	body, err := json.Marshal(map[string]interface{}{
		"jsonrpc": "2.0",
		"method":  method,
		"params":  json.RawMessage(params),
		"id":      1,
	})
	require.NoError(err)

	req := httptest.NewRequest(http.MethodPost, "/", strings.NewReader(string(body)))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	require.Equal(http.StatusOK, rec.Code)

	var res rpcResponse
	require.NoError(json.Unmarshal(rec.Body.Bytes(), &res))
	if res.Error != nil {
		return res.Error.Message
	}
	require.NoError(json.Unmarshal(res.Result, reply))
	return ""
}

func TestCreateHandlersServesRPC(t *testing.T) {
	require := require.New(t)

	vm := newTestVM(t, config.Config{}, nil)
	handlers, err := vm.CreateHandlers(context.Background())
	require.NoError(err)
	handler, ok := handlers[""]
	require.True(ok)

	var ping api.PingReply
	require.Empty(call(t, handler, "computevm.ping", &api.PingArgs{}, &ping))
	require.True(ping.Success)

	msg := call(t, handler, "computevm.Ping", &api.PingArgs{}, &api.PingReply{})
	require.Contains(msg, "non-uppercase")

	var posted api.PostTaskReply
	require.Empty(call(t, handler, "computevm.postTask", &api.PostTaskArgs{
		From:            vm.creator.String(),
		ImageURI:        "docker.io/lux/simple-processor:latest",
		RewardAmount:    100,
		MaxWorkers:      1,
		AttachedPayment: 100,
	}, &posted))
	require.Zero(posted.TaskID)

	var escrow api.GetEscrowReply
	require.Empty(call(t, handler, "computevm.getEscrow", &api.GetTaskArgs{TaskID: posted.TaskID}, &escrow))
	require.Equal(utilsjson.Uint64(100), escrow.Escrowed)

	worker := ids.GenerateTestShortID()
	var submitted api.SubmitResultReply
	require.Empty(call(t, handler, "computevm.submitResult", &api.SubmitResultArgs{
		From:   worker.String(),
		TaskID: posted.TaskID,
		Hash:   api.EncodeHash([]byte("X")),
	}, &submitted))
	require.True(submitted.Finalized)
	require.NotNil(submitted.Outcome)
	require.Equal(task.Completed, submitted.Outcome.Status)
	require.Equal([]string{worker.String()}, submitted.Outcome.Winners)

	var balance api.GetBalanceReply
	require.Empty(call(t, handler, "computevm.getBalance", &api.GetBalanceArgs{Address: worker.String()}, &balance))
	require.Equal(utilsjson.Uint64(100), balance.Balance)

	msg = call(t, handler, "computevm.postTask", &api.PostTaskArgs{
		From:            payment.EscrowAccount.String(),
		RewardAmount:    100,
		MaxWorkers:      1,
		AttachedPayment: 100,
	}, &api.PostTaskReply{})
	require.Contains(msg, "account is reserved")
}

func TestEscrowAccountCannotDrainOtherTasks(t *testing.T) {
	require := require.New(t)

	vm := newTestVM(t, config.Config{}, nil)
	ctx := context.Background()

	honestID, err := vm.PostTask(ctx, vm.creator, task.WorkDescriptor{}, 1_000, 1, 1_000)
	require.NoError(err)

	_, err = vm.PostTask(ctx, payment.EscrowAccount, task.WorkDescriptor{}, 1_000, 1, 1_000)
	require.ErrorIs(err, task.ErrReservedAccount)
	require.ErrorIs(err, task.ErrValidation)

	_, err = vm.SubmitResult(ctx, honestID, payment.EscrowAccount, []byte("X"))
	require.ErrorIs(err, task.ErrReservedAccount)

	count, err := vm.TaskCount()
	require.NoError(err)
	require.Equal(uint64(1), count)
	require.Equal(uint64(1_000), vm.balance(t, payment.EscrowAccount))

	worker := ids.GenerateTestShortID()
	outcome, err := vm.SubmitResult(ctx, honestID, worker, []byte("X"))
	require.NoError(err)
	require.Equal(task.Completed, outcome.Status)
	require.Equal(uint64(1_000), vm.balance(t, worker))
	require.Zero(vm.balance(t, payment.EscrowAccount))
}
