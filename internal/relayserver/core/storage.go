package core

import (
	"context"
	"time"
)

// ArtifactStorage stores execution evidence (screenshots) out of band.
type ArtifactStorage interface {
	// PresignUpload returns a URL the agent can PUT the object to.
	PresignUpload(ctx context.Context, key string, expiry time.Duration) (string, error)

	// PresignDownload returns a temporary URL for reading the object.
	PresignDownload(ctx context.Context, key string, expiry time.Duration) (string, error)
}

// TokenIssuer mints device credentials.
type TokenIssuer interface {
	IssueDeviceToken(userID, deviceID string) (token string, expiresAt time.Time, err error)
}
