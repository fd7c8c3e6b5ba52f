package store

import (
	"context"
	"fmt"
	"time"

	"gorm.io/gorm"

	"github.com/domrelay/domrelay/internal/relayserver/core"
	"github.com/domrelay/domrelay/internal/pkg/util"
	v1 "github.com/domrelay/domrelay/pkg/apis/command/v1"
)

const defaultListLimit = 100

type commandRepo struct {
	db *gorm.DB
}

func (r *commandRepo) Create(ctx context.Context, cmd *v1.Command) error {
	row, err := toCommandRow(cmd)
	if err != nil {
		return err
	}
	if err := r.db.WithContext(ctx).Create(row).Error; err != nil {
		return fmt.Errorf("create command %s: %w", cmd.ID, err)
	}
	return nil
}

func (r *commandRepo) Get(ctx context.Context, id string) (*v1.Command, error) {
	var row commandRow
	if err := r.db.WithContext(ctx).Where("id = ?", id).First(&row).Error; err != nil {
		return nil, mapNotFound(err, "command", id)
	}
	return fromCommandRow(&row)
}

func (r *commandRepo) List(ctx context.Context, filter core.ListFilter) ([]v1.Command, error) {
	q := r.db.WithContext(ctx).Model(&commandRow{})
	if filter.DeviceID != "" {
		q = q.Where("device_id = ?", filter.DeviceID)
	}
	if filter.UserID != "" {
		q = q.Where("user_id = ?", filter.UserID)
	}
	if filter.Status != "" {
		q = q.Where("status = ?", string(filter.Status))
	}
	if filter.ParentID != "" {
		q = q.Where("parent_id = ?", filter.ParentID)
	}
	limit := filter.Limit
	if limit <= 0 {
		limit = defaultListLimit
	}

	// Ids are time-ordered, so they break ties between equal timestamps.
	var rows []commandRow
	if err := q.Order("created_at, id").Limit(limit).Find(&rows).Error; err != nil {
		return nil, err
	}
	return fromCommandRows(rows)
}

func (r *commandRepo) Claim(ctx context.Context, id, agentID string, at time.Time) (*v1.Command, error) {
	res := r.db.WithContext(ctx).Model(&commandRow{}).
		Where("id = ? AND status = ?", id, string(v1.CommandStatusPending)).
		Updates(map[string]any{
			"status":     string(v1.CommandStatusClaimed),
			"claimed_by": agentID,
			"claimed_at": at,
		})
	if res.Error != nil {
		return nil, fmt.Errorf("claim command %s: %w", id, res.Error)
	}
	if res.RowsAffected == 0 {
		// Lost the race or never existed; only the latter is an error.
		cur, err := r.Get(ctx, id)
		if err != nil {
			return nil, err
		}
		// A retried claim whose first response was lost already holds the row.
		if cur.Status == v1.CommandStatusClaimed && cur.ClaimedBy == agentID {
			return cur, nil
		}
		return nil, nil
	}
	return r.Get(ctx, id)
}

func (r *commandRepo) Complete(ctx context.Context, id string, result *v1.ExecutionResult, at time.Time) (*v1.Command, error) {
	encoded, err := encode(result)
	if err != nil {
		return nil, err
	}

	res := r.db.WithContext(ctx).Model(&commandRow{}).
		Where("id = ? AND status = ?", id, string(v1.CommandStatusClaimed)).
		Updates(map[string]any{
			"status":        string(result.CompletionStatus()),
			"status_reason": result.Reason,
			"result":        encoded,
			"completed_at":  at,
		})
	if res.Error != nil {
		return nil, fmt.Errorf("complete command %s: %w", id, res.Error)
	}
	if res.RowsAffected == 0 {
		// A replay of the result that was already recorded is answered with
		// the row instead of a conflict.
		if cur, err := r.Get(ctx, id); err == nil && sameResult(cur.Result, result) {
			return cur, nil
		}
		return nil, r.rejectTransition(ctx, id, v1.CommandStatusClaimed)
	}
	return r.Get(ctx, id)
}

func sameResult(stored, incoming *v1.ExecutionResult) bool {
	return stored != nil && incoming != nil &&
		stored.CommandID == incoming.CommandID &&
		stored.Status == incoming.Status &&
		stored.Timestamp.Equal(incoming.Timestamp)
}

func (r *commandRepo) Cancel(ctx context.Context, id, reason string, at time.Time) (*v1.Command, error) {
	res := r.db.WithContext(ctx).Model(&commandRow{}).
		Where("id = ? AND status IN ?", id, []string{string(v1.CommandStatusPending), string(v1.CommandStatusClaimed)}).
		Updates(map[string]any{
			"status":        string(v1.CommandStatusCancelled),
			"status_reason": reason,
			"completed_at":  at,
		})
	if res.Error != nil {
		return nil, fmt.Errorf("cancel command %s: %w", id, res.Error)
	}
	if res.RowsAffected == 0 {
		return nil, r.rejectTransition(ctx, id, "pending|claimed")
	}
	return r.Get(ctx, id)
}

func (r *commandRepo) ExpirePending(ctx context.Context, createdBefore, at time.Time) (int64, error) {
	res := r.db.WithContext(ctx).Model(&commandRow{}).
		Where("status = ? AND created_at < ?", string(v1.CommandStatusPending), createdBefore).
		Updates(map[string]any{
			"status":        string(v1.CommandStatusFailed),
			"status_reason": v1.ReasonExpired,
			"completed_at":  at,
		})
	return res.RowsAffected, res.Error
}

func (r *commandRepo) ExpireClaimed(ctx context.Context, claimedBefore, at time.Time) (int64, error) {
	res := r.db.WithContext(ctx).Model(&commandRow{}).
		Where("status = ? AND claimed_at < ?", string(v1.CommandStatusClaimed), claimedBefore).
		Updates(map[string]any{
			"status":        string(v1.CommandStatusFailed),
			"status_reason": v1.ReasonClaimExpired,
			"completed_at":  at,
		})
	return res.RowsAffected, res.Error
}

func (r *commandRepo) RecordVerdict(ctx context.Context, id string, verdict *v1.VerifierOutput) (bool, error) {
	if verdict.VerifiedAt == nil {
		now := time.Now().UTC()
		verdict.VerifiedAt = &now
	}
	encoded, err := encode(verdict)
	if err != nil {
		return false, err
	}

	res := r.db.WithContext(ctx).Model(&commandRow{}).
		Where("id = ? AND verified_at IS NULL", id).
		Updates(map[string]any{
			"verification":   encoded,
			"verdict_status": string(verdict.Status),
			"verified_at":    *verdict.VerifiedAt,
		})
	if res.Error != nil {
		return false, fmt.Errorf("record verdict for %s: %w", id, res.Error)
	}
	if res.RowsAffected == 0 {
		if _, err := r.Get(ctx, id); err != nil {
			return false, err
		}
		return false, nil
	}
	return true, nil
}

func (r *commandRepo) ListUnverified(ctx context.Context, createdBefore time.Time, limit int) ([]v1.Command, error) {
	if limit <= 0 {
		limit = defaultListLimit
	}
	terminal := []string{string(v1.CommandStatusDone), string(v1.CommandStatusFailed)}

	var rows []commandRow
	err := r.db.WithContext(ctx).
		Where("verified_at IS NULL AND status <> ?", string(v1.CommandStatusCancelled)).
		Where(r.db.Where("status IN ?", terminal).Or("created_at < ?", createdBefore)).
		Order("created_at, id").
		Limit(limit).
		Find(&rows).Error
	if err != nil {
		return nil, err
	}
	return fromCommandRows(rows)
}

func (r *commandRepo) SetArtifact(ctx context.Context, id, key string) error {
	// MySQL reports zero affected rows for an unchanged value, so existence is
	// checked explicitly.
	if _, err := r.Get(ctx, id); err != nil {
		return err
	}
	return r.db.WithContext(ctx).Model(&commandRow{}).
		Where("id = ?", id).
		Update("artifact_key", key).Error
}

// rejectTransition explains why a conditional update matched nothing.
func (r *commandRepo) rejectTransition(ctx context.Context, id string, want v1.CommandStatus) error {
	cmd, err := r.Get(ctx, id)
	if err != nil {
		return err
	}
	return util.InvalidState(id, string(cmd.Status), string(want))
}
