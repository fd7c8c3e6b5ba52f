package store

import (
	"encoding/json"
	"fmt"

	v1 "github.com/domrelay/domrelay/pkg/apis/command/v1"
)

func toDeviceRow(d *v1.Device) (*deviceRow, error) {
	caps, err := json.Marshal(d.Capabilities)
	if err != nil {
		return nil, err
	}
	return &deviceRow{
		DeviceID:     d.ID,
		UserID:       d.UserID,
		BrowserInfo:  d.BrowserInfo,
		Version:      d.Version,
		Capabilities: string(caps),
		Status:       string(d.Status),
		LastSeenAt:   d.LastSeenAt,
		CreatedAt:    d.CreatedAt,
	}, nil
}

func fromDeviceRow(r *deviceRow) (*v1.Device, error) {
	d := &v1.Device{
		ID:          r.DeviceID,
		UserID:      r.UserID,
		BrowserInfo: r.BrowserInfo,
		Version:     r.Version,
		Status:      v1.DeviceStatus(r.Status),
		LastSeenAt:  r.LastSeenAt,
		CreatedAt:   r.CreatedAt,
	}
	if r.Capabilities != "" && r.Capabilities != "null" {
		if err := json.Unmarshal([]byte(r.Capabilities), &d.Capabilities); err != nil {
			return nil, fmt.Errorf("decode capabilities of device %s: %w", r.DeviceID, err)
		}
	}
	return d, nil
}

func toCommandRow(c *v1.Command) (*commandRow, error) {
	criteria, err := json.Marshal(c.SuccessCriteria)
	if err != nil {
		return nil, err
	}
	row := &commandRow{
		ID:              c.ID,
		DeviceID:        c.DeviceID,
		UserID:          c.UserID,
		Type:            string(c.Type),
		Payload:         string(c.Payload),
		Status:          string(c.Status),
		StatusReason:    c.StatusReason,
		SuccessCriteria: string(criteria),
		ClaimedBy:       c.ClaimedBy,
		ParentID:        c.ParentID,
		Attempt:         c.Attempt,
		ArtifactKey:     c.ArtifactKey,
		CreatedAt:       c.CreatedAt,
		ClaimedAt:       c.ClaimedAt,
		CompletedAt:     c.CompletedAt,
	}
	if c.Result != nil {
		s, err := encode(c.Result)
		if err != nil {
			return nil, err
		}
		row.Result = &s
	}
	return row, nil
}

func fromCommandRow(r *commandRow) (*v1.Command, error) {
	c := &v1.Command{
		ID:           r.ID,
		DeviceID:     r.DeviceID,
		UserID:       r.UserID,
		Type:         v1.CommandType(r.Type),
		Payload:      json.RawMessage(r.Payload),
		Status:       v1.CommandStatus(r.Status),
		StatusReason: r.StatusReason,
		ClaimedBy:    r.ClaimedBy,
		ParentID:     r.ParentID,
		Attempt:      r.Attempt,
		ArtifactKey:  r.ArtifactKey,
		CreatedAt:    r.CreatedAt,
		ClaimedAt:    r.ClaimedAt,
		CompletedAt:  r.CompletedAt,
	}
	if r.SuccessCriteria != "" && r.SuccessCriteria != "null" {
		if err := json.Unmarshal([]byte(r.SuccessCriteria), &c.SuccessCriteria); err != nil {
			return nil, fmt.Errorf("decode criteria of command %s: %w", r.ID, err)
		}
	}
	if r.Result != nil {
		c.Result = &v1.ExecutionResult{}
		if err := json.Unmarshal([]byte(*r.Result), c.Result); err != nil {
			return nil, fmt.Errorf("decode result of command %s: %w", r.ID, err)
		}
	}
	if r.Verification != nil {
		c.Verification = &v1.VerifierOutput{}
		if err := json.Unmarshal([]byte(*r.Verification), c.Verification); err != nil {
			return nil, fmt.Errorf("decode verdict of command %s: %w", r.ID, err)
		}
	}
	return c, nil
}

func fromCommandRows(rows []commandRow) ([]v1.Command, error) {
	out := make([]v1.Command, 0, len(rows))
	for i := range rows {
		c, err := fromCommandRow(&rows[i])
		if err != nil {
			return nil, err
		}
		out = append(out, *c)
	}
	return out, nil
}

func encode(v any) (string, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return "", err
	}
	return string(b), nil
}
