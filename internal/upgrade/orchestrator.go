// Package upgrade executes admin-gated proxy upgrade sequences one call at a
// time. A sequence is not transactional: when call k fails, calls before k
// stay committed and the failure is reported as a sequence break.
package upgrade

import (
	"context"
	"fmt"
	"log/slog"
	"math/big"
	"strings"
	"sync"

	"github.com/compose-network/shared-bridge/internal/bridgeerr"
	"github.com/compose-network/shared-bridge/internal/logger"
	"github.com/compose-network/shared-bridge/internal/metrics"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
)

const (
	StatusCommitted = "committed"
	StatusFailed    = "failed"
	StatusPending   = "pending"
)

type (
	// Admin issues calls on behalf of the credential that owns the upgradeable
	// contracts.
	Admin interface {
		Caller() common.Address
		OwnerOf(ctx context.Context, target common.Address) (common.Address, error)
		Call(ctx context.Context, target common.Address, value *big.Int, data []byte) (*types.Receipt, error)
	}

	Outcome struct {
		Name   string         `json:"name" yaml:"name"`
		Target common.Address `json:"target" yaml:"target"`
		Status string         `json:"status" yaml:"status"`
		TxHash common.Hash    `json:"txHash,omitempty" yaml:"tx-hash,omitempty"`
		Error  string         `json:"error,omitempty" yaml:"error,omitempty"`
	}

	Report struct {
		Outcomes []Outcome `json:"outcomes" yaml:"outcomes"`
	}

	// SequenceBreakError reports a sequence halted at call FailedAt. Calls
	// listed in Committed were applied; Pending were never issued.
	SequenceBreakError struct {
		Committed []string
		FailedAt  int
		Failed    string
		Pending   []string
		Cause     error
	}

	Orchestrator struct {
		admin    Admin
		bindings BindingStore
		metrics  metrics.Metricer
		logger   *slog.Logger
		running  sync.Mutex
	}
)

func (e *SequenceBreakError) Error() string {
	return fmt.Sprintf("%s: call %d (%s) failed after committing [%s], not issued [%s]: %v",
		bridgeerr.ReasonSequenceBreak, e.FailedAt, e.Failed,
		strings.Join(e.Committed, ", "), strings.Join(e.Pending, ", "), e.Cause)
}

func (e *SequenceBreakError) Unwrap() error {
	return e.Cause
}

func (e *SequenceBreakError) Is(target error) bool {
	return target == bridgeerr.ErrSequenceBreak
}

// As classifies the break itself as the outermost bridge error. The failed
// call's cause stays reachable through Unwrap.
func (e *SequenceBreakError) As(target any) bool {
	t, ok := target.(**bridgeerr.Error)
	if !ok {
		return false
	}
	*t = bridgeerr.Wrap(bridgeerr.ErrSequenceBreak, e.Cause)
	return true
}

func New(admin Admin, bindings BindingStore, m metrics.Metricer) *Orchestrator {
	if m == nil {
		m = metrics.NoopMetrics
	}
	return &Orchestrator{
		admin:    admin,
		bindings: bindings,
		metrics:  m,
		logger:   logger.Named("upgrade_orchestrator"),
	}
}

// ExecuteUpgrade issues a single admin call and waits for its receipt.
func (o *Orchestrator) ExecuteUpgrade(ctx context.Context, call Call) (*types.Receipt, error) {
	log := o.logger.With("call", call.Name).With("target", call.Target.Hex())

	if err := o.authorize(ctx, call); err != nil {
		o.metrics.RecordUpgradeCall(call.Name, StatusFailed)
		return nil, err
	}

	value := call.Value
	if value == nil {
		value = new(big.Int)
	}

	log.Info("executing upgrade call")
	receipt, err := o.admin.Call(ctx, call.Target, value, call.Data)
	if err != nil {
		o.metrics.RecordUpgradeCall(call.Name, StatusFailed)
		if _, reverted := bridgeerr.RevertReason(err); reverted {
			return nil, bridgeerr.Wrap(bridgeerr.ErrProxyCallReverted, err)
		}
		return nil, fmt.Errorf("failed to execute %s: %w", call.Name, err)
	}
	if receipt.Status != types.ReceiptStatusSuccessful {
		o.metrics.RecordUpgradeCall(call.Name, StatusFailed)
		return nil, bridgeerr.Wrap(bridgeerr.ErrProxyCallReverted, &bridgeerr.RevertError{})
	}

	if err := o.recordBinding(call); err != nil {
		return receipt, err
	}

	o.metrics.RecordUpgradeCall(call.Name, StatusCommitted)
	log.With("tx_hash", receipt.TxHash.Hex()).Info("upgrade call committed")

	return receipt, nil
}

// Run executes calls strictly in order. Call k+1 is only issued once call k's
// receipt is in. On failure the returned report marks every call and the
// error is a *SequenceBreakError.
func (o *Orchestrator) Run(ctx context.Context, calls []Call) (Report, error) {
	if !o.running.TryLock() {
		return Report{}, bridgeerr.New(bridgeerr.ErrSequenceInProgress, "another upgrade sequence is running")
	}
	defer o.running.Unlock()

	report := Report{Outcomes: make([]Outcome, len(calls))}
	for i, call := range calls {
		report.Outcomes[i] = Outcome{Name: call.Name, Target: call.Target, Status: StatusPending}
	}

	for i, call := range calls {
		o.logger.With("index", i).With("total", len(calls)).With("call", call.Name).Info("sequence step")

		receipt, err := o.ExecuteUpgrade(ctx, call)
		if err != nil {
			report.Outcomes[i].Status = StatusFailed
			report.Outcomes[i].Error = err.Error()

			brk := &SequenceBreakError{FailedAt: i, Failed: call.Name, Cause: err}
			for _, done := range calls[:i] {
				brk.Committed = append(brk.Committed, done.Name)
			}
			// The transaction landed but its bookkeeping failed.
			if receipt != nil {
				report.Outcomes[i].Status = StatusCommitted
				report.Outcomes[i].TxHash = receipt.TxHash
				brk.Committed = append(brk.Committed, call.Name)
			}
			for _, rest := range calls[i+1:] {
				brk.Pending = append(brk.Pending, rest.Name)
			}

			o.logger.
				With("failed_at", i).
				With("committed", brk.Committed).
				With("pending", brk.Pending).
				With("err", err.Error()).
				Error("upgrade sequence halted")
			return report, brk
		}

		report.Outcomes[i].Status = StatusCommitted
		report.Outcomes[i].TxHash = receipt.TxHash
	}

	return report, nil
}

func (o *Orchestrator) authorize(ctx context.Context, call Call) error {
	caller := o.admin.Caller()

	if !call.Unguarded {
		owner, err := o.admin.OwnerOf(ctx, call.Target)
		if err != nil {
			return fmt.Errorf("failed to read owner of %s: %w", call.Target.Hex(), err)
		}
		if owner != caller {
			return bridgeerr.New(bridgeerr.ErrUnauthorized, "%s is owned by %s, caller is %s", call.Target.Hex(), owner.Hex(), caller.Hex())
		}
	}

	proxy, _, ok := proxyUpgrade(call.Data)
	if !ok || o.bindings == nil {
		return nil
	}
	binding, found, err := o.bindings.Binding(proxy)
	if err != nil {
		return err
	}
	if found && binding.Admin != call.Target {
		return bridgeerr.New(bridgeerr.ErrUnauthorized, "proxy %s is administered by %s, not %s", proxy.Hex(), binding.Admin.Hex(), call.Target.Hex())
	}
	return nil
}

func (o *Orchestrator) recordBinding(call Call) error {
	proxy, implementation, ok := proxyUpgrade(call.Data)
	if !ok || o.bindings == nil {
		return nil
	}

	binding := ProxyBinding{Proxy: proxy, Implementation: implementation, Admin: call.Target}
	if err := o.bindings.PutBinding(binding); err != nil {
		return fmt.Errorf("failed to record binding of %s: %w", proxy.Hex(), err)
	}

	o.logger.
		With("proxy", proxy.Hex()).
		With("implementation", implementation.Hex()).
		Info("proxy binding updated")
	return nil
}
