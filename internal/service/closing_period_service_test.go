package service

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pesio-ai/be-gl-closing/internal/errors"
	"github.com/pesio-ai/be-gl-closing/internal/repository"
)

func TestProvisionPeriod_FromDefaultTemplate(t *testing.T) {
	h := newHarness(t)
	p := h.march(t)

	assert.Equal(t, "2026-03", p.PeriodCode)
	assert.Equal(t, "March 2026", p.PeriodName)
	assert.Equal(t, repository.PeriodStatusOpen, p.Status)
	assert.Equal(t, time.Date(2026, 3, 31, 0, 0, 0, 0, time.UTC), p.PeriodEnd)
	assert.Equal(t, time.Date(2026, 4, 5, 0, 0, 0, 0, time.UTC), p.CutoffDate)
	require.NotNil(t, p.HardCloseDate)
	assert.Equal(t, time.Date(2026, 4, 15, 0, 0, 0, 0, time.UTC), *p.HardCloseDate)

	items, err := h.periods.Checklist(context.Background(), p.ID)
	require.NoError(t, err)
	assert.Len(t, items, 3)

	_, _, err = h.periods.ProvisionPeriod(context.Background(), "", time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC), controller)
	assert.True(t, errors.IsCode(err, errors.ErrCodeInvalidInput))
}

func TestHardClose_NeverFromOpen(t *testing.T) {
	h := newHarness(t)
	p := h.march(t)
	h.completeAll(t, p.ID)

	_, err := h.periods.HardClose(context.Background(), p.ID, controller)
	assert.ErrorIs(t, err, errors.ErrInvalidTransition)

	got, err := h.periods.Get(context.Background(), p.ID)
	require.NoError(t, err)
	assert.Equal(t, repository.PeriodStatusOpen, got.Status)
}

func TestSoftClose_BlockedByChecklist(t *testing.T) {
	h := newHarness(t)
	p := h.march(t)
	ctx := context.Background()

	_, err := h.periods.SoftClose(ctx, p.ID, controller)
	require.ErrorIs(t, err, errors.ErrInvalidTransition)
	assert.Contains(t, err.Error(), "bank_recon")

	// hard_close items do not gate soft close
	_, err = h.periods.CompleteChecklistItem(ctx, p.ID, "bank_recon", controller, nil)
	require.NoError(t, err)
	closed, err := h.periods.SoftClose(ctx, p.ID, controller)
	require.NoError(t, err)
	assert.Equal(t, repository.PeriodStatusSoftClose, closed.Status)
	assert.Equal(t, controller, *closed.SoftClosedBy)
	assert.Equal(t, h.now, *closed.SoftClosedAt)
}

func TestHardClose_BlockedByIncompleteRequiredItem(t *testing.T) {
	h := newHarness(t)
	p := h.march(t)
	ctx := context.Background()

	_, err := h.periods.CompleteChecklistItem(ctx, p.ID, "bank_recon", controller, nil)
	require.NoError(t, err)
	_, err = h.periods.SoftClose(ctx, p.ID, controller)
	require.NoError(t, err)

	_, err = h.periods.HardClose(ctx, p.ID, controller)
	require.ErrorIs(t, err, errors.ErrInvalidTransition)
	assert.Contains(t, err.Error(), "accruals")

	got, err := h.periods.Get(ctx, p.ID)
	require.NoError(t, err)
	assert.Equal(t, repository.PeriodStatusSoftClose, got.Status)

	// the optional review item never blocks
	_, err = h.periods.CompleteChecklistItem(ctx, p.ID, "accruals", controller, nil)
	require.NoError(t, err)
	hard, err := h.periods.HardClose(ctx, p.ID, controller)
	require.NoError(t, err)
	assert.Equal(t, repository.PeriodStatusHardClose, hard.Status)
}

func TestHardClose_ChecklistGateCanBeDisabled(t *testing.T) {
	h := newHarness(t)
	h.set(t, SettingRequireChecklistCompletion, false, repository.SettingTypeBoolean)
	p := h.march(t)
	ctx := context.Background()

	_, err := h.periods.SoftClose(ctx, p.ID, controller)
	require.NoError(t, err)
	_, err = h.periods.HardClose(ctx, p.ID, controller)
	require.NoError(t, err)
}

func TestReopen_HardCloseGatedBySetting(t *testing.T) {
	h := newHarness(t)
	p := h.softClosedMarch(t)
	ctx := context.Background()
	p, err := h.periods.HardClose(ctx, p.ID, controller)
	require.NoError(t, err)

	_, err = h.periods.Reopen(ctx, p.ID, controller, "late invoice")
	require.ErrorIs(t, err, errors.ErrInvalidTransition)
	got, err := h.periods.Get(ctx, p.ID)
	require.NoError(t, err)
	assert.Equal(t, repository.PeriodStatusHardClose, got.Status)

	h.set(t, SettingAllowReopenHardClose, true, repository.SettingTypeBoolean)

	_, err = h.periods.Reopen(ctx, p.ID, controller, "  ")
	assert.True(t, errors.IsCode(err, errors.ErrCodeInvalidInput))

	reopened, err := h.periods.Reopen(ctx, p.ID, controller, "late invoice")
	require.NoError(t, err)
	assert.Equal(t, repository.PeriodStatusOpen, reopened.Status)
	assert.Equal(t, controller, *reopened.ReopenedBy)
	assert.Equal(t, h.now, *reopened.ReopenedAt)
	assert.Equal(t, "late invoice", *reopened.ReopenReason)

	assert.Contains(t, h.notifier.types(), NotifyPeriodReopened)
}

func TestReopen_SoftCloseAlwaysAllowed(t *testing.T) {
	h := newHarness(t)
	p := h.softClosedMarch(t)

	reopened, err := h.periods.Reopen(context.Background(), p.ID, controller, "missed accrual")
	require.NoError(t, err)
	assert.Equal(t, repository.PeriodStatusOpen, reopened.Status)

	_, err = h.periods.Reopen(context.Background(), p.ID, controller, "again")
	assert.ErrorIs(t, err, errors.ErrInvalidTransition)
}

func TestTransitions_WriteAuditAndNotify(t *testing.T) {
	h := newHarness(t)
	p := h.softClosedMarch(t)

	history, err := h.periods.History(context.Background(), p.ID)
	require.NoError(t, err)
	var actions []string
	for _, e := range history {
		actions = append(actions, e.Action)
	}
	assert.Equal(t, []string{"provisioned", "checklist_completed", "checklist_completed", "soft_closed"}, actions)

	last := history[len(history)-1]
	require.NotNil(t, last.StatusBefore)
	assert.Equal(t, "open", *last.StatusBefore)
	assert.Equal(t, "soft_close", *last.StatusAfter)

	assert.Contains(t, h.events.names(), EventPeriodStatusChanged)
	assert.Contains(t, h.notifier.types(), NotifyPeriodClosed)
}

func TestTransition_LockedByAnotherHolder(t *testing.T) {
	h := newHarness(t)
	p := h.march(t)
	h.completeAll(t, p.ID)

	release, err := h.periods.locker.Obtain(context.Background(), p.ID)
	require.NoError(t, err)
	defer release()

	_, err = h.periods.SoftClose(context.Background(), p.ID, controller)
	assert.True(t, errors.IsCode(err, errors.ErrCodeConflict))
}

func TestChecklist_FrozenAfterHardClose(t *testing.T) {
	h := newHarness(t)
	p := h.softClosedMarch(t)
	ctx := context.Background()
	_, err := h.periods.HardClose(ctx, p.ID, controller)
	require.NoError(t, err)

	_, err = h.periods.ReopenChecklistItem(ctx, p.ID, "accruals", controller, nil)
	assert.ErrorIs(t, err, errors.ErrInvalidTransition)
}

func TestGuardJournalMutation(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	inMarch := time.Date(2026, 3, 20, 15, 30, 0, 0, time.UTC)

	d, err := h.periods.GuardJournalMutation(ctx, inMarch)
	require.NoError(t, err)
	assert.Equal(t, MutationDirect, d.Mode)
	assert.Nil(t, d.Period)

	p := h.march(t)
	d, err = h.periods.GuardJournalMutation(ctx, inMarch)
	require.NoError(t, err)
	assert.Equal(t, MutationDirect, d.Mode)

	h.completeAll(t, p.ID)
	_, err = h.periods.SoftClose(ctx, p.ID, controller)
	require.NoError(t, err)
	d, err = h.periods.GuardJournalMutation(ctx, inMarch)
	require.NoError(t, err)
	assert.Equal(t, MutationRevision, d.Mode)
	assert.Equal(t, p.ID, d.Period.ID)

	h.set(t, SettingClosingMode, "locked", repository.SettingTypeString)
	d, err = h.periods.GuardJournalMutation(ctx, inMarch)
	require.NoError(t, err)
	assert.Equal(t, MutationBlocked, d.Mode)

	h.set(t, SettingModuleEnabled, false, repository.SettingTypeBoolean)
	d, err = h.periods.GuardJournalMutation(ctx, inMarch)
	require.NoError(t, err)
	assert.Equal(t, MutationDirect, d.Mode)
}

func TestPeriodsNearCutoff(t *testing.T) {
	h := newHarness(t)
	h.march(t)

	// cutoff is 5 April; now is 10 March
	near, err := h.periods.PeriodsNearCutoff(context.Background(), 3)
	require.NoError(t, err)
	assert.Empty(t, near)

	h.now = time.Date(2026, 4, 3, 8, 0, 0, 0, time.UTC)
	near, err = h.periods.PeriodsNearCutoff(context.Background(), 3)
	require.NoError(t, err)
	assert.Len(t, near, 1)
}
