package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/domrelay/domrelay/internal/pkg/metrics"
	"github.com/domrelay/domrelay/internal/pkg/util"
	v1 "github.com/domrelay/domrelay/pkg/apis/command/v1"
)

// RegisterDevice creates the device on first contact and refreshes its
// metadata afterwards. The device is always marked online.
func (s *Service) RegisterDevice(ctx context.Context, userID string, req *v1.RegisterDeviceRequest) (*v1.RegisterDeviceResponse, error) {
	if req.DeviceID == "" {
		return nil, util.Validationf("device_id is required")
	}

	existing, err := s.device.Get(ctx, req.DeviceID)
	switch {
	case err == nil:
		if existing.UserID != "" && userID != "" && existing.UserID != userID {
			return nil, util.Validationf("device %q is registered to another user", req.DeviceID)
		}
	case errors.Is(err, util.ErrNotFound):
	default:
		return nil, err
	}

	now := s.now()
	device := &v1.Device{
		ID:           req.DeviceID,
		UserID:       userID,
		BrowserInfo:  req.BrowserInfo,
		Version:      req.Version,
		Capabilities: req.Capabilities,
		Status:       v1.DeviceStatusOnline,
		LastSeenAt:   now,
		CreatedAt:    now,
	}
	if existing != nil {
		device.CreatedAt = existing.CreatedAt
		if userID == "" {
			device.UserID = existing.UserID
		}
	}

	created, err := s.device.Upsert(ctx, device)
	if err != nil {
		return nil, err
	}

	resp := &v1.RegisterDeviceResponse{Device: *device, Status: v1.RegistrationUpdated}
	if created {
		resp.Status = v1.RegistrationOnline
	}
	if s.tokens != nil {
		token, expiresAt, err := s.tokens.IssueDeviceToken(device.UserID, device.ID)
		if err != nil {
			return nil, fmt.Errorf("issue device token: %w", err)
		}
		resp.Token, resp.ExpiresAt = token, expiresAt
	}

	s.logger.Info("Device registered", "device", device.ID, "status", resp.Status, "version", device.Version)
	s.refreshOnlineGauge(ctx)
	return resp, nil
}

// Heartbeat marks the device online and seen now.
func (s *Service) Heartbeat(ctx context.Context, deviceID string) error {
	return s.device.Touch(ctx, deviceID, s.now())
}

// SetPresence applies a presence announcement or a broker will message.
func (s *Service) SetPresence(ctx context.Context, deviceID string, online bool) error {
	status := v1.DeviceStatusOffline
	if online {
		status = v1.DeviceStatusOnline
	}
	if err := s.device.SetStatus(ctx, deviceID, status, s.now()); err != nil {
		return err
	}
	s.refreshOnlineGauge(ctx)
	return nil
}

// RefreshToken issues a new device token for a device the caller owns.
func (s *Service) RefreshToken(ctx context.Context, userID, deviceID string) (*v1.TokenResponse, error) {
	if s.tokens == nil {
		return nil, fmt.Errorf("%w: token issuing is not configured", util.ErrUnavailable)
	}
	device, err := s.device.Get(ctx, deviceID)
	if err != nil {
		return nil, err
	}
	if device.UserID != "" && device.UserID != userID {
		return nil, fmt.Errorf("device %s: %w", deviceID, util.ErrNotFound)
	}

	token, expiresAt, err := s.tokens.IssueDeviceToken(device.UserID, device.ID)
	if err != nil {
		return nil, fmt.Errorf("issue device token: %w", err)
	}
	return &v1.TokenResponse{Token: token, ExpiresAt: expiresAt}, nil
}

func (s *Service) GetDevice(ctx context.Context, deviceID string) (*v1.Device, error) {
	return s.device.Get(ctx, deviceID)
}

func (s *Service) ListDevices(ctx context.Context, userID string) ([]v1.Device, error) {
	return s.device.List(ctx, userID)
}

// MarkOfflineDevices flips devices without a heartbeat within timeout to offline.
func (s *Service) MarkOfflineDevices(ctx context.Context, timeout time.Duration) (int64, error) {
	n, err := s.device.MarkOffline(ctx, s.now().Add(-timeout))
	if err != nil {
		return 0, err
	}
	if n > 0 {
		s.logger.Info("Devices marked offline", "count", n)
	}
	s.refreshOnlineGauge(ctx)
	return n, nil
}

func (s *Service) refreshOnlineGauge(ctx context.Context) {
	n, err := s.device.CountOnline(ctx)
	if err != nil {
		s.logger.Warn("Counting online devices failed", "err", err)
		return
	}
	metrics.DevicesOnline.Set(float64(n))
}
