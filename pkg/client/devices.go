package client

import (
	"context"
	"net/http"
	"net/url"

	v1 "github.com/domrelay/domrelay/pkg/apis/command/v1"
)

func (c *Client) RegisterDevice(ctx context.Context, req *v1.RegisterDeviceRequest) (*v1.RegisterDeviceResponse, error) {
	var out v1.RegisterDeviceResponse
	if _, err := c.do(ctx, request{method: http.MethodPost, path: "/v1/devices/register", body: req, out: &out, retry: true}); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) Heartbeat(ctx context.Context, deviceID string) error {
	_, err := c.do(ctx, request{method: http.MethodPost, path: "/v1/devices/" + url.PathEscape(deviceID) + "/heartbeat", retry: true})
	return err
}

func (c *Client) RefreshToken(ctx context.Context, deviceID string) (*v1.TokenResponse, error) {
	var out v1.TokenResponse
	if _, err := c.do(ctx, request{method: http.MethodPost, path: "/v1/devices/" + url.PathEscape(deviceID) + "/token", out: &out, retry: true}); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) ListDevices(ctx context.Context) ([]v1.Device, error) {
	var out v1.DeviceList
	if _, err := c.do(ctx, request{method: http.MethodGet, path: "/v1/devices", out: &out, retry: true}); err != nil {
		return nil, err
	}
	return out.Items, nil
}
