// Copyright (C) 2019-2025, Lux Industries, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

// Package api exposes the compute VM over JSON-RPC.
package api

import (
	"context"
	"encoding/hex"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/luxfi/ids"
	"github.com/luxfi/utils/json"

	"github.com/luxfi/computevm/vms/computevm/task"
)

var (
	ErrNotBootstrapped = errors.New("VM not bootstrapped")
	ErrInvalidAddress  = errors.New("invalid address")
	ErrInvalidHash     = errors.New("invalid hash")
)

// VM is the view of the compute VM the service needs.
type VM interface {
	IsBootstrapped() bool
	Version(context.Context) (string, error)

	PostTask(ctx context.Context, creator ids.ShortID, work task.WorkDescriptor, reward uint64, maxWorkers uint32, attachedPayment uint64) (uint64, error)
	SubmitResult(ctx context.Context, taskID uint64, worker ids.ShortID, hash []byte) (*task.Outcome, error)

	GetTask(taskID uint64) (*task.Task, error)
	GetTaskStatus(taskID uint64) (task.Status, error)
	TaskCount() (uint64, error)
	ListTasks(start uint64, limit int) ([]*task.Task, error)
	GetSubmission(taskID uint64, worker ids.ShortID) ([]byte, error)
	GetWorkers(taskID uint64) ([]ids.ShortID, error)
	GetBalance(addr ids.ShortID) (uint64, error)
	Escrowed(taskID uint64) (uint64, error)
}

// Service is registered on the VM's JSON-RPC server.
type Service struct {
	vm VM
}

func NewService(vm VM) *Service {
	return &Service{vm: vm}
}

// EncodeHash formats a content hash as 0x-prefixed hex.
func EncodeHash(hash []byte) string {
	return "0x" + hex.EncodeToString(hash)
}

// DecodeHash parses a content hash with or without the 0x prefix.
func DecodeHash(s string) ([]byte, error) {
	b, err := hex.DecodeString(strings.TrimPrefix(s, "0x"))
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidHash, err)
	}
	return b, nil
}

func parseAddress(s string) (ids.ShortID, error) {
	addr, err := ids.ShortFromString(s)
	if err != nil {
		return ids.ShortEmpty, fmt.Errorf("%w %q: %w", ErrInvalidAddress, s, err)
	}
	return addr, nil
}

// APITask is the JSON form of a task.
type APITask struct {
	ID               json.Uint64 `json:"id"`
	Creator          string      `json:"creator"`
	ImageURI         string      `json:"imageURI"`
	InputURI         string      `json:"inputURI"`
	RewardAmount     json.Uint64 `json:"rewardAmount"`
	MaxWorkers       json.Uint32 `json:"maxWorkers"`
	SubmissionsCount json.Uint32 `json:"submissionsCount"`
	Status           task.Status `json:"status"`
}

func newAPITask(t *task.Task) APITask {
	return APITask{
		ID:               json.Uint64(t.ID),
		Creator:          t.Creator.String(),
		ImageURI:         t.Work.ImageURI,
		InputURI:         t.Work.InputURI,
		RewardAmount:     json.Uint64(t.RewardAmount),
		MaxWorkers:       json.Uint32(t.MaxWorkers),
		SubmissionsCount: json.Uint32(t.SubmissionsCount),
		Status:           t.Status,
	}
}

// APIPayout is the JSON form of a transfer out of escrow.
type APIPayout struct {
	To     string          `json:"to"`
	Amount json.Uint64     `json:"amount"`
	Kind   task.PayoutKind `json:"kind"`
}

// APIOutcome is the JSON form of a finalization.
type APIOutcome struct {
	Status      task.Status `json:"status"`
	Threshold   json.Uint32 `json:"threshold"`
	WinningHash string      `json:"winningHash,omitempty"`
	Winners     []string    `json:"winners"`
	Share       json.Uint64 `json:"share"`
	Remainder   json.Uint64 `json:"remainder"`
	Payouts     []APIPayout `json:"payouts"`
}

func newAPIOutcome(o *task.Outcome) *APIOutcome {
	out := &APIOutcome{
		Status:    o.Status,
		Threshold: json.Uint32(o.Threshold),
		Winners:   make([]string, len(o.Winners)),
		Share:     json.Uint64(o.Share),
		Remainder: json.Uint64(o.Remainder),
		Payouts:   make([]APIPayout, len(o.Payouts)),
	}
	if o.WinningHash != nil {
		out.WinningHash = EncodeHash(o.WinningHash)
	}
	for i, w := range o.Winners {
		out.Winners[i] = w.String()
	}
	for i, p := range o.Payouts {
		out.Payouts[i] = APIPayout{
			To:     p.To.String(),
			Amount: json.Uint64(p.Amount),
			Kind:   p.Kind,
		}
	}
	return out
}

type PingArgs struct{}

type PingReply struct {
	Success bool `json:"success"`
}

func (s *Service) Ping(_ *http.Request, _ *PingArgs, reply *PingReply) error {
	reply.Success = true
	return nil
}

type StatusArgs struct{}

type StatusReply struct {
	Bootstrapped bool   `json:"bootstrapped"`
	Version      string `json:"version"`
}

func (s *Service) Status(r *http.Request, _ *StatusArgs, reply *StatusReply) error {
	v, err := s.vm.Version(r.Context())
	if err != nil {
		return err
	}
	reply.Bootstrapped = s.vm.IsBootstrapped()
	reply.Version = v
	return nil
}

type PostTaskArgs struct {
	From            string      `json:"from"`
	ImageURI        string      `json:"imageURI"`
	InputURI        string      `json:"inputURI"`
	RewardAmount    json.Uint64 `json:"rewardAmount"`
	MaxWorkers      json.Uint32 `json:"maxWorkers"`
	AttachedPayment json.Uint64 `json:"attachedPayment"`
}

type PostTaskReply struct {
	TaskID json.Uint64 `json:"taskID"`
}

// PostTask creates a task and escrows its reward from the caller.
func (s *Service) PostTask(r *http.Request, args *PostTaskArgs, reply *PostTaskReply) error {
	if !s.vm.IsBootstrapped() {
		return ErrNotBootstrapped
	}
	creator, err := parseAddress(args.From)
	if err != nil {
		return err
	}
	taskID, err := s.vm.PostTask(
		r.Context(),
		creator,
		task.WorkDescriptor{
			ImageURI: args.ImageURI,
			InputURI: args.InputURI,
		},
		uint64(args.RewardAmount),
		uint32(args.MaxWorkers),
		uint64(args.AttachedPayment),
	)
	if err != nil {
		return err
	}
	reply.TaskID = json.Uint64(taskID)
	return nil
}

type SubmitResultArgs struct {
	From   string      `json:"from"`
	TaskID json.Uint64 `json:"taskID"`
	Hash   string      `json:"hash"`
}

type SubmitResultReply struct {
	Finalized bool        `json:"finalized"`
	Outcome   *APIOutcome `json:"outcome,omitempty"`
}

// SubmitResult records the caller's vote. The reply carries the outcome if
// this vote filled the quota.
func (s *Service) SubmitResult(r *http.Request, args *SubmitResultArgs, reply *SubmitResultReply) error {
	if !s.vm.IsBootstrapped() {
		return ErrNotBootstrapped
	}
	worker, err := parseAddress(args.From)
	if err != nil {
		return err
	}
	hash, err := DecodeHash(args.Hash)
	if err != nil {
		return err
	}
	outcome, err := s.vm.SubmitResult(r.Context(), uint64(args.TaskID), worker, hash)
	if err != nil {
		return err
	}
	if outcome != nil {
		reply.Finalized = true
		reply.Outcome = newAPIOutcome(outcome)
	}
	return nil
}

type GetTaskArgs struct {
	TaskID json.Uint64 `json:"taskID"`
}

type GetTaskReply struct {
	Task APITask `json:"task"`
}

func (s *Service) GetTask(_ *http.Request, args *GetTaskArgs, reply *GetTaskReply) error {
	t, err := s.vm.GetTask(uint64(args.TaskID))
	if err != nil {
		return err
	}
	reply.Task = newAPITask(t)
	return nil
}

type GetTaskStatusReply struct {
	Status task.Status `json:"status"`
}

func (s *Service) GetTaskStatus(_ *http.Request, args *GetTaskArgs, reply *GetTaskStatusReply) error {
	status, err := s.vm.GetTaskStatus(uint64(args.TaskID))
	if err != nil {
		return err
	}
	reply.Status = status
	return nil
}

type GetTaskCountArgs struct{}

type GetTaskCountReply struct {
	Count json.Uint64 `json:"count"`
}

func (s *Service) GetTaskCount(_ *http.Request, _ *GetTaskCountArgs, reply *GetTaskCountReply) error {
	count, err := s.vm.TaskCount()
	if err != nil {
		return err
	}
	reply.Count = json.Uint64(count)
	return nil
}

type ListTasksArgs struct {
	StartID json.Uint64 `json:"startID"`
	Limit   json.Uint32 `json:"limit"`
}

type ListTasksReply struct {
	Tasks []APITask `json:"tasks"`
}

// ListTasks pages through tasks in id order. A zero limit uses the
// configured maximum.
func (s *Service) ListTasks(_ *http.Request, args *ListTasksArgs, reply *ListTasksReply) error {
	tasks, err := s.vm.ListTasks(uint64(args.StartID), int(args.Limit))
	if err != nil {
		return err
	}
	reply.Tasks = make([]APITask, len(tasks))
	for i, t := range tasks {
		reply.Tasks[i] = newAPITask(t)
	}
	return nil
}

type GetSubmissionArgs struct {
	TaskID json.Uint64 `json:"taskID"`
	Worker string      `json:"worker"`
}

type GetSubmissionReply struct {
	Hash string `json:"hash"`
}

func (s *Service) GetSubmission(_ *http.Request, args *GetSubmissionArgs, reply *GetSubmissionReply) error {
	worker, err := parseAddress(args.Worker)
	if err != nil {
		return err
	}
	hash, err := s.vm.GetSubmission(uint64(args.TaskID), worker)
	if err != nil {
		return err
	}
	reply.Hash = EncodeHash(hash)
	return nil
}

type GetWorkersReply struct {
	Workers []string `json:"workers"`
}

// GetWorkers lists the workers who voted on a task in arrival order.
func (s *Service) GetWorkers(_ *http.Request, args *GetTaskArgs, reply *GetWorkersReply) error {
	workers, err := s.vm.GetWorkers(uint64(args.TaskID))
	if err != nil {
		return err
	}
	reply.Workers = make([]string, len(workers))
	for i, w := range workers {
		reply.Workers[i] = w.String()
	}
	return nil
}

type GetBalanceArgs struct {
	Address string `json:"address"`
}

type GetBalanceReply struct {
	Balance json.Uint64 `json:"balance"`
}

func (s *Service) GetBalance(_ *http.Request, args *GetBalanceArgs, reply *GetBalanceReply) error {
	addr, err := parseAddress(args.Address)
	if err != nil {
		return err
	}
	balance, err := s.vm.GetBalance(addr)
	if err != nil {
		return err
	}
	reply.Balance = json.Uint64(balance)
	return nil
}

type GetEscrowReply struct {
	Escrowed json.Uint64 `json:"escrowed"`
}

// GetEscrow returns the reward escrowed for a task when it was posted. The
// record is kept after finalization.
func (s *Service) GetEscrow(_ *http.Request, args *GetTaskArgs, reply *GetEscrowReply) error {
	taskID := uint64(args.TaskID)
	if _, err := s.vm.GetTask(taskID); err != nil {
		return err
	}
	escrowed, err := s.vm.Escrowed(taskID)
	if err != nil {
		return err
	}
	reply.Escrowed = json.Uint64(escrowed)
	return nil
}
