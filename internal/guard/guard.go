// Package guard implements the Write-Path Guard (C7): it intercepts
// execution of SQL statements, parameter batches, and multi-statement
// scripts, classifying each with internal/sqlclassify and rejecting writes
// on a replica or during split-brain before any execution is attempted.
package guard

import (
	"context"
	"fmt"

	"github.com/litefs-adapter/core/internal/sqlclassify"
	coreerrors "github.com/litefs-adapter/core/pkg/errors"
	"github.com/litefs-adapter/core/pkg/ports"
)

// RoleChecker is the role-query collaborator the guard consults. It matches
// internal/role.Resolver's boolean IsPrimary projection: an unreachable
// leader-election port already collapses to "not primary" inside the
// resolver, which is what makes the guard's rejection fail-closed without
// the guard needing to inspect the underlying cause itself.
type RoleChecker interface {
	IsPrimary(ctx context.Context) bool
}

// Metrics is the optional observability collaborator the guard reports
// rejections to. internal/metrics.Collector satisfies this directly.
type Metrics interface {
	RecordWriteRejection(reason string)
}

// Guard sequences the split-brain check, the primary/replica check, and
// execution, in that fixed order. The split-brain detector is optional: a
// nil detector means the check is skipped entirely, while the role checker
// is mandatory.
type Guard struct {
	splitBrain ports.SplitBrainDetector
	role       RoleChecker
	metrics    Metrics
}

// New constructs a Guard. splitBrain may be nil to skip the split-brain
// check.
func New(splitBrain ports.SplitBrainDetector, role RoleChecker) *Guard {
	return &Guard{splitBrain: splitBrain, role: role}
}

// SetMetrics wires an optional Metrics collaborator; a Guard with no
// metrics set simply skips recording.
func (g *Guard) SetMetrics(m Metrics) {
	g.metrics = m
}

// Execute runs a single SQL statement through the guard. exec is invoked
// only if every check passes.
func (g *Guard) Execute(ctx context.Context, sql string, exec func() error) error {
	if err := g.check(ctx, sqlclassify.IsWrite(sql)); err != nil {
		return err
	}
	return exec()
}

// ExecuteScript runs a multi-statement script through the guard. The script
// is classified as a write if any one of its statements is a write; in that
// case the full set of checks applies before any statement executes.
// stmts must list every statement in the script so classification sees
// them all.
func (g *Guard) ExecuteScript(ctx context.Context, stmts []string, exec func() error) error {
	isWrite := false
	for _, s := range stmts {
		if sqlclassify.IsWrite(s) {
			isWrite = true
			break
		}
	}
	if err := g.check(ctx, isWrite); err != nil {
		return err
	}
	return exec()
}

// check applies the split-brain then role checks. A read-only statement
// (isWrite == false) bypasses both checks and is always allowed to
// proceed, including on a replica.
func (g *Guard) check(ctx context.Context, isWrite bool) error {
	if !isWrite {
		return nil
	}

	if g.splitBrain != nil {
		event, err := g.splitBrain.Check(ctx)
		if err != nil {
			return coreerrors.Wrap(coreerrors.ErrCodeSplitBrain, "unable to determine split-brain state", err).
				WithComponent("guard", "check")
		}
		if event != nil {
			if g.metrics != nil {
				g.metrics.RecordWriteRejection("split_brain")
			}
			leaderCount := len(event.ConflictingLeaders)
			return coreerrors.New(coreerrors.ErrCodeSplitBrain,
				fmt.Sprintf("write rejected: split-brain detected, %d leaders observed", leaderCount)).
				WithComponent("guard", "check").
				WithDetail("leader_count", leaderCount)
		}
	}

	if !g.role.IsPrimary(ctx) {
		if g.metrics != nil {
			g.metrics.RecordWriteRejection("not_primary")
		}
		return coreerrors.New(coreerrors.ErrCodeNotPrimary, "write rejected: node is not primary, this node is a replica").
			WithComponent("guard", "check")
	}

	return nil
}
