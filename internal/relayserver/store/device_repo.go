package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/domrelay/domrelay/internal/pkg/util"
	v1 "github.com/domrelay/domrelay/pkg/apis/command/v1"
)

type deviceRepo struct {
	db *gorm.DB
}

func (r *deviceRepo) Get(ctx context.Context, id string) (*v1.Device, error) {
	var row deviceRow
	if err := r.db.WithContext(ctx).Where("device_id = ?", id).First(&row).Error; err != nil {
		return nil, mapNotFound(err, "device", id)
	}
	return fromDeviceRow(&row)
}

func (r *deviceRepo) Upsert(ctx context.Context, device *v1.Device) (bool, error) {
	row, err := toDeviceRow(device)
	if err != nil {
		return false, err
	}

	var created bool
	err = r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var existing deviceRow
		err := tx.Where("device_id = ?", device.ID).First(&existing).Error
		switch {
		case err == nil:
			return tx.Model(&deviceRow{}).Where("device_id = ?", device.ID).Updates(map[string]any{
				"user_id":      row.UserID,
				"browser_info": row.BrowserInfo,
				"version":      row.Version,
				"capabilities": row.Capabilities,
				"status":       row.Status,
				"last_seen_at": row.LastSeenAt,
			}).Error
		case errors.Is(err, gorm.ErrRecordNotFound):
			created = true
			// A concurrent register of the same id degrades to an update.
			return tx.Clauses(clause.OnConflict{
				Columns:   []clause.Column{{Name: "device_id"}},
				DoUpdates: clause.AssignmentColumns([]string{"browser_info", "version", "capabilities", "status", "last_seen_at"}),
			}).Create(row).Error
		default:
			return err
		}
	})
	if err != nil {
		return false, fmt.Errorf("upsert device %s: %w", device.ID, err)
	}
	return created, nil
}

func (r *deviceRepo) Touch(ctx context.Context, id string, at time.Time) error {
	return r.SetStatus(ctx, id, v1.DeviceStatusOnline, at)
}

func (r *deviceRepo) SetStatus(ctx context.Context, id string, status v1.DeviceStatus, at time.Time) error {
	res := r.db.WithContext(ctx).Model(&deviceRow{}).
		Where("device_id = ?", id).
		Updates(map[string]any{"status": string(status), "last_seen_at": at})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return fmt.Errorf("device %s: %w", id, util.ErrNotFound)
	}
	return nil
}

func (r *deviceRepo) MarkOffline(ctx context.Context, before time.Time) (int64, error) {
	res := r.db.WithContext(ctx).Model(&deviceRow{}).
		Where("status = ? AND last_seen_at < ?", string(v1.DeviceStatusOnline), before).
		Update("status", string(v1.DeviceStatusOffline))
	return res.RowsAffected, res.Error
}

func (r *deviceRepo) List(ctx context.Context, userID string) ([]v1.Device, error) {
	q := r.db.WithContext(ctx).Order("device_id")
	if userID != "" {
		q = q.Where("user_id = ?", userID)
	}

	var rows []deviceRow
	if err := q.Find(&rows).Error; err != nil {
		return nil, err
	}

	out := make([]v1.Device, 0, len(rows))
	for i := range rows {
		d, err := fromDeviceRow(&rows[i])
		if err != nil {
			return nil, err
		}
		out = append(out, *d)
	}
	return out, nil
}

func (r *deviceRepo) CountOnline(ctx context.Context) (int64, error) {
	var n int64
	err := r.db.WithContext(ctx).Model(&deviceRow{}).
		Where("status = ?", string(v1.DeviceStatusOnline)).
		Count(&n).Error
	return n, err
}
