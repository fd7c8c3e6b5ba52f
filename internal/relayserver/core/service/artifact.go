package service

import (
	"context"
	"fmt"

	"github.com/domrelay/domrelay/internal/pkg/util"
	v1 "github.com/domrelay/domrelay/pkg/apis/command/v1"
)

func artifactKey(cmd *v1.Command) string {
	return fmt.Sprintf("%s/%s.png", cmd.DeviceID, cmd.ID)
}

// ArtifactUploadURL presigns an upload for the command's screenshot and
// records the object key on the command.
func (s *Service) ArtifactUploadURL(ctx context.Context, commandID string) (*v1.ArtifactUploadResponse, error) {
	if s.storage == nil {
		return nil, fmt.Errorf("%w: artifact storage is not configured", util.ErrUnavailable)
	}
	cmd, err := s.command.Get(ctx, commandID)
	if err != nil {
		return nil, err
	}

	key := artifactKey(cmd)
	url, err := s.storage.PresignUpload(ctx, key, s.artifactExpiry)
	if err != nil {
		return nil, err
	}
	if err := s.command.SetArtifact(ctx, cmd.ID, key); err != nil {
		return nil, err
	}
	return &v1.ArtifactUploadResponse{Key: key, URL: url, ExpiresAt: s.now().Add(s.artifactExpiry)}, nil
}

// ArtifactDownloadURL presigns a read of the command's recorded artifact.
func (s *Service) ArtifactDownloadURL(ctx context.Context, commandID string) (*v1.ArtifactUploadResponse, error) {
	if s.storage == nil {
		return nil, fmt.Errorf("%w: artifact storage is not configured", util.ErrUnavailable)
	}
	cmd, err := s.command.Get(ctx, commandID)
	if err != nil {
		return nil, err
	}
	if cmd.ArtifactKey == "" {
		return nil, fmt.Errorf("artifact of command %s: %w", cmd.ID, util.ErrNotFound)
	}

	url, err := s.storage.PresignDownload(ctx, cmd.ArtifactKey, s.artifactExpiry)
	if err != nil {
		return nil, err
	}
	return &v1.ArtifactUploadResponse{Key: cmd.ArtifactKey, URL: url, ExpiresAt: s.now().Add(s.artifactExpiry)}, nil
}
