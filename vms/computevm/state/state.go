// Copyright (C) 2019-2025, Lux Industries, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

// Package state is the keyed store behind the compute VM. It owns every
// task, submission, vote tally, worker order and balance, and performs no
// validation of its own: callers decide what may be written.
package state

import (
	"errors"
	"fmt"

	"github.com/luxfi/database"
	"github.com/luxfi/database/prefixdb"
	"github.com/luxfi/ids"

	"github.com/luxfi/computevm/vms/computevm/task"
)

var (
	TaskPrefix        = []byte("task")
	SubmissionPrefix  = []byte("submission")
	FrequencyPrefix   = []byte("frequency")
	WorkerPrefix      = []byte("worker")
	WorkerCountPrefix = []byte("workerCount")
	BalancePrefix     = []byte("balance")
	EscrowPrefix      = []byte("escrow")
	SingletonPrefix   = []byte("singleton")

	TaskCounterKey = []byte("taskCounter")
	InitializedKey = []byte("initialized")
)

// State is not safe for concurrent use. It keeps no cache so that aborting
// the underlying database discards every write made through it.
type State struct {
	db database.Database

	taskDB        database.Database
	submissionDB  database.Database
	frequencyDB   database.Database
	workerDB      database.Database
	workerCountDB database.Database
	balanceDB     database.Database
	escrowDB      database.Database
	singletonDB   database.Database
}

func New(db database.Database) *State {
	return &State{
		db:            db,
		taskDB:        prefixdb.New(TaskPrefix, db),
		submissionDB:  prefixdb.New(SubmissionPrefix, db),
		frequencyDB:   prefixdb.New(FrequencyPrefix, db),
		workerDB:      prefixdb.New(WorkerPrefix, db),
		workerCountDB: prefixdb.New(WorkerCountPrefix, db),
		balanceDB:     prefixdb.New(BalancePrefix, db),
		escrowDB:      prefixdb.New(EscrowPrefix, db),
		singletonDB:   prefixdb.New(SingletonPrefix, db),
	}
}

func (s *State) IsInitialized() (bool, error) {
	return s.singletonDB.Has(InitializedKey)
}

func (s *State) SetInitialized() error {
	return s.singletonDB.Put(InitializedKey, nil)
}

// TaskCounter returns the next unassigned task id.
func (s *State) TaskCounter() (uint64, error) {
	return getUInt64(s.singletonDB, TaskCounterKey)
}

func (s *State) SetTaskCounter(next uint64) error {
	return database.PutUInt64(s.singletonDB, TaskCounterKey, next)
}

// GetTask returns database.ErrNotFound if no task has the id.
func (s *State) GetTask(taskID uint64) (*task.Task, error) {
	b, err := s.taskDB.Get(database.PackUInt64(taskID))
	if err != nil {
		return nil, err
	}
	t := &task.Task{}
	if _, err := Codec.Unmarshal(b, t); err != nil {
		return nil, fmt.Errorf("failed to parse task %d: %w", taskID, err)
	}
	return t, nil
}

func (s *State) PutTask(t *task.Task) error {
	b, err := Codec.Marshal(CodecVersion, t)
	if err != nil {
		return fmt.Errorf("failed to serialize task %d: %w", t.ID, err)
	}
	return s.taskDB.Put(database.PackUInt64(t.ID), b)
}

// GetSubmission returns database.ErrNotFound if the worker has not voted on
// the task.
func (s *State) GetSubmission(taskID uint64, worker ids.ShortID) ([]byte, error) {
	return s.submissionDB.Get(submissionKey(taskID, worker))
}

func (s *State) HasSubmission(taskID uint64, worker ids.ShortID) (bool, error) {
	return s.submissionDB.Has(submissionKey(taskID, worker))
}

func (s *State) PutSubmission(taskID uint64, worker ids.ShortID, hash []byte) error {
	return s.submissionDB.Put(submissionKey(taskID, worker), hash)
}

// GetFrequency returns how many workers voted hash on the task.
func (s *State) GetFrequency(taskID uint64, hash []byte) (uint64, error) {
	return getUInt64(s.frequencyDB, frequencyKey(taskID, hash))
}

// IncrementFrequency adds one vote for hash and returns the new count.
func (s *State) IncrementFrequency(taskID uint64, hash []byte) (uint64, error) {
	key := frequencyKey(taskID, hash)
	count, err := getUInt64(s.frequencyDB, key)
	if err != nil {
		return 0, err
	}
	count++
	return count, database.PutUInt64(s.frequencyDB, key, count)
}

// AppendWorker adds worker to the end of the task's worker order and
// returns its index.
func (s *State) AppendWorker(taskID uint64, worker ids.ShortID) (uint64, error) {
	index, err := s.WorkerCount(taskID)
	if err != nil {
		return 0, err
	}
	if err := s.workerDB.Put(workerKey(taskID, index), worker[:]); err != nil {
		return 0, err
	}
	return index, database.PutUInt64(s.workerCountDB, database.PackUInt64(taskID), index+1)
}

func (s *State) WorkerCount(taskID uint64) (uint64, error) {
	return getUInt64(s.workerCountDB, database.PackUInt64(taskID))
}

// GetWorkers returns the task's workers in submission order.
func (s *State) GetWorkers(taskID uint64) ([]ids.ShortID, error) {
	count, err := s.WorkerCount(taskID)
	if err != nil {
		return nil, err
	}
	workers := make([]ids.ShortID, 0, count)
	for i := uint64(0); i < count; i++ {
		b, err := s.workerDB.Get(workerKey(taskID, i))
		if err != nil {
			return nil, fmt.Errorf("failed to read worker %d of task %d: %w", i, taskID, err)
		}
		worker, err := ids.ToShortID(b)
		if err != nil {
			return nil, fmt.Errorf("failed to parse worker %d of task %d: %w", i, taskID, err)
		}
		workers = append(workers, worker)
	}
	return workers, nil
}

func (s *State) GetBalance(addr ids.ShortID) (uint64, error) {
	return getUInt64(s.balanceDB, addr[:])
}

func (s *State) SetBalance(addr ids.ShortID, amount uint64) error {
	if amount == 0 {
		return s.balanceDB.Delete(addr[:])
	}
	return database.PutUInt64(s.balanceDB, addr[:], amount)
}

// GetEscrow returns the amount escrowed when the task was created.
func (s *State) GetEscrow(taskID uint64) (uint64, error) {
	return getUInt64(s.escrowDB, database.PackUInt64(taskID))
}

func (s *State) SetEscrow(taskID uint64, amount uint64) error {
	return database.PutUInt64(s.escrowDB, database.PackUInt64(taskID), amount)
}

func getUInt64(db database.Database, key []byte) (uint64, error) {
	v, err := database.GetUInt64(db, key)
	if errors.Is(err, database.ErrNotFound) {
		return 0, nil
	}
	return v, err
}

func submissionKey(taskID uint64, worker ids.ShortID) []byte {
	return append(database.PackUInt64(taskID), worker[:]...)
}

func frequencyKey(taskID uint64, hash []byte) []byte {
	return append(database.PackUInt64(taskID), hash...)
}

func workerKey(taskID uint64, index uint64) []byte {
	return append(database.PackUInt64(taskID), database.PackUInt64(index)...)
}
