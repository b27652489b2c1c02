// Copyright (C) 2019-2025, Lux Industries, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package registry

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/luxfi/database/memdb"
	"github.com/luxfi/ids"
	"github.com/luxfi/log"

	"github.com/luxfi/computevm/vms/computevm/config"
	"github.com/luxfi/computevm/vms/computevm/payment"
	"github.com/luxfi/computevm/vms/computevm/state"
	"github.com/luxfi/computevm/vms/computevm/task"
)

var testWork = task.WorkDescriptor{
	ImageURI: "docker.io/lux/simple-processor:latest",
	InputURI: "https://data.lux.network/inputs/1.json",
}

func newTestRegistry(t *testing.T, cfg config.Config) (*Registry, *payment.Bank) {
	t.Helper()

	s := state.New(memdb.New())
	bank := payment.NewBank(s)
	return New(cfg, s, bank, log.NewNoOpLogger()), bank
}

func TestPostTask(t *testing.T) {
	require := require.New(t)

	r, bank := newTestRegistry(t, config.DefaultConfig())
	creator := ids.GenerateTestShortID()
	require.NoError(bank.Credit(creator, 1_000))

	for want := uint64(0); want < 3; want++ {
		taskID, err := r.PostTask(creator, testWork, 100, 3, 100)
		require.NoError(err)
		require.Equal(want, taskID)
	}

	got, err := r.GetTask(1)
	require.NoError(err)
	require.Equal(&task.Task{
		ID:           1,
		Creator:      creator,
		Work:         testWork,
		RewardAmount: 100,
		MaxWorkers:   3,
		Status:       task.Open,
	}, got)

	status, err := r.GetTaskStatus(2)
	require.NoError(err)
	require.Equal(task.Open, status)

	count, err := r.TaskCount()
	require.NoError(err)
	require.Equal(uint64(3), count)

	balance, err := bank.Balance(creator)
	require.NoError(err)
	require.Equal(uint64(700), balance)
	escrowed, err := bank.Escrowed(2)
	require.NoError(err)
	require.Equal(uint64(100), escrowed)
}

func TestPostTaskValidation(t *testing.T) {
	cfg := config.DefaultConfig()
	cfg.MinWorkers = 3
	cfg.MaxWorkers = 9
	cfg.MaxURILength = 16

	tests := []struct {
		name        string
		work        task.WorkDescriptor
		reward      uint64
		maxWorkers  uint32
		payment     uint64
		expectedErr error
	}{
		{
			name:        "zero reward",
			reward:      0,
			maxWorkers:  3,
			payment:     0,
			expectedErr: task.ErrZeroReward,
		},
		{
			name:        "payment below reward",
			reward:      100,
			maxWorkers:  3,
			payment:     99,
			expectedErr: task.ErrPaymentMismatch,
		},
		{
			name:        "payment above reward",
			reward:      100,
			maxWorkers:  3,
			payment:     101,
			expectedErr: task.ErrPaymentMismatch,
		},
		{
			name:        "too few workers",
			reward:      100,
			maxWorkers:  2,
			payment:     100,
			expectedErr: task.ErrTooFewWorkers,
		},
		{
			name:        "too many workers",
			reward:      100,
			maxWorkers:  10,
			payment:     100,
			expectedErr: task.ErrTooManyWorkers,
		},
		{
			name:        "uri too long",
			work:        task.WorkDescriptor{ImageURI: "oci://registry.example/very/long/image"},
			reward:      100,
			maxWorkers:  3,
			payment:     100,
			expectedErr: task.ErrURITooLong,
		},
	}
	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			require := require.New(t)

			r, bank := newTestRegistry(t, cfg)
			creator := ids.GenerateTestShortID()
			require.NoError(bank.Credit(creator, 1_000))

			_, err := r.PostTask(creator, test.work, test.reward, test.maxWorkers, test.payment)
			require.ErrorIs(err, test.expectedErr)
			require.ErrorIs(err, task.ErrValidation)

			count, err := r.TaskCount()
			require.NoError(err)
			require.Zero(count)
			balance, err := bank.Balance(creator)
			require.NoError(err)
			require.Equal(uint64(1_000), balance)
		})
	}
}

func TestPostTaskInsufficientFunds(t *testing.T) {
	require := require.New(t)

	r, _ := newTestRegistry(t, config.DefaultConfig())
	_, err := r.PostTask(ids.GenerateTestShortID(), testWork, 100, 1, 100)
	require.ErrorIs(err, task.ErrInsufficientFund)
	require.ErrorIs(err, task.ErrValidation)
}

func TestPostTaskRejectsEscrowAccount(t *testing.T) {
	require := require.New(t)

	r, bank := newTestRegistry(t, config.DefaultConfig())
	creator := ids.GenerateTestShortID()
	require.NoError(bank.Credit(creator, 1_000))
	_, err := r.PostTask(creator, testWork, 1_000, 1, 1_000)
	require.NoError(err)

	_, err = r.PostTask(payment.EscrowAccount, testWork, 1_000, 1, 1_000)
	require.ErrorIs(err, task.ErrReservedAccount)
	require.ErrorIs(err, task.ErrValidation)

	count, err := r.TaskCount()
	require.NoError(err)
	require.Equal(uint64(1), count)
	balance, err := bank.Balance(payment.EscrowAccount)
	require.NoError(err)
	require.Equal(uint64(1_000), balance)
}

func TestGetTaskNotFound(t *testing.T) {
	require := require.New(t)

	r, _ := newTestRegistry(t, config.DefaultConfig())

	_, err := r.GetTask(0)
	require.ErrorIs(err, task.ErrTaskNotFound)
	require.ErrorIs(err, task.ErrNotFound)

	_, err = r.GetTaskStatus(12)
	require.ErrorIs(err, task.ErrNotFound)
}

func TestListTasks(t *testing.T) {
	require := require.New(t)

	cfg := config.DefaultConfig()
	cfg.MaxListLength = 3
	r, bank := newTestRegistry(t, cfg)
	creator := ids.GenerateTestShortID()
	require.NoError(bank.Credit(creator, 1_000))
	for i := 0; i < 5; i++ {
		_, err := r.PostTask(creator, testWork, 10, 1, 10)
		require.NoError(err)
	}

	tasks, err := r.ListTasks(1, 2)
	require.NoError(err)
	require.Len(tasks, 2)
	require.Equal(uint64(1), tasks[0].ID)
	require.Equal(uint64(2), tasks[1].ID)

	// Unbounded requests are capped.
	tasks, err = r.ListTasks(0, 0)
	require.NoError(err)
	require.Len(tasks, 3)

	tasks, err = r.ListTasks(4, 10)
	require.NoError(err)
	require.Len(tasks, 1)

	tasks, err = r.ListTasks(9, 10)
	require.NoError(err)
	require.Empty(tasks)
}
