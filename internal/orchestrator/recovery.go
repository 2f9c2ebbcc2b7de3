package orchestrator

import (
	"context"
	"fmt"

	"github.com/google/uuid"

	"github.com/shaiso/Rollout/internal/domain"
)

// Recover загружает планы из Store. Завершённые планы доступны только
// для чтения; незавершённые задачи запущенных планов продолжаются с
// сохранённого checkpoint'а. Возвращает число загруженных планов.
func (o *Orchestrator) Recover(ctx context.Context) (int, error) {
	plans, err := o.store.ListPlans(ctx, PlanFilter{})
	if err != nil {
		return 0, fmt.Errorf("list plans: %w", err)
	}

	recovered := 0
	for _, snap := range plans {
		if o.getPlan(snap.ID) != nil {
			continue
		}
		tasks, err := o.store.ListTasks(ctx, snap.ID)
		if err != nil {
			o.logger.Error("failed to load plan tasks", "plan_id", snap.ID, "error", err)
			continue
		}
		if err := o.RecoverPlan(ctx, snap, tasks); err != nil {
			o.logger.Error("failed to recover plan", "plan_id", snap.ID, "error", err)
			continue
		}
		recovered++
	}
	return recovered, nil
}

// RecoverPlan восстанавливает план из снимков.
//
// Checkpoint'ы незавершённых задач загружаются одним запросом; задача
// RUNNING/PAUSED на момент падения продолжается со следующей стадии.
func (o *Orchestrator) RecoverPlan(ctx context.Context, snap domain.PlanSnapshot, taskSnaps []domain.TaskSnapshot) error {
	if o.getPlan(snap.ID) != nil {
		return fmt.Errorf("%w: %s", ErrPlanExists, snap.ID)
	}

	byID := make(map[uuid.UUID]domain.TaskSnapshot, len(taskSnaps))
	for _, ts := range taskSnaps {
		byID[ts.ID] = ts
	}

	plan := domain.RestorePlan(snap)
	tasks := make([]*domain.Task, 0, len(snap.TaskIDs))
	for _, id := range snap.TaskIDs {
		ts, ok := byID[id]
		if !ok {
			o.logger.Warn("task snapshot missing", "plan_id", snap.ID, "task_id", id)
			continue
		}
		tasks = append(tasks, domain.RestoreTask(ts))
	}

	state := NewPlanState(plan, tasks)
	if plan.Status().IsTerminal() {
		state.markFinalized()
		return o.addPlan(state)
	}

	var unfinished []*domain.Task
	for _, t := range tasks {
		if !t.IsFinished() && !t.IsSkipped() {
			unfinished = append(unfinished, t)
		}
	}

	cps, err := o.checkpoints.LoadBatch(ctx, unfinished)
	if err != nil {
		return fmt.Errorf("load checkpoints: %w", err)
	}
	for _, t := range unfinished {
		cp, ok := cps[t.ID()]
		if !ok {
			continue
		}
		if err := t.RestoreCheckpoint(cp); err != nil {
			return fmt.Errorf("restore checkpoint of task %s: %w", t.ID(), err)
		}
	}

	if err := o.addPlan(state); err != nil {
		return fmt.Errorf("%w: %s", err, snap.ID)
	}

	o.logger.Info("plan recovered",
		"plan_id", snap.ID,
		"status", plan.Status(),
		"unfinished", len(unfinished),
		"checkpoints", len(cps),
	)

	switch plan.Status() {
	case domain.PlanStatusRunning, domain.PlanStatusPaused:
		o.admit(ctx, state, unfinished)
	}
	return nil
}
