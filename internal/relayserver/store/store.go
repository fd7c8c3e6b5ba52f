// Package store implements the relay server's persistence ports on gorm.
// Status transitions are conditional updates on the current status, so the
// row itself arbitrates concurrent claims and completions.
package store

import (
	"errors"
	"fmt"

	"gorm.io/gorm"

	"github.com/domrelay/domrelay/internal/relayserver/core"
	"github.com/domrelay/domrelay/internal/pkg/util"
)

var _ core.Repository = (*Repository)(nil)

// Repository is the gorm-backed core.Repository.
type Repository struct {
	devices  *deviceRepo
	commands *commandRepo
}

// NewRepository wraps an open database.
func NewRepository(db *gorm.DB) *Repository {
	return &Repository{
		devices:  &deviceRepo{db: db},
		commands: &commandRepo{db: db},
	}
}

func (r *Repository) Device() core.DeviceRepository   { return r.devices }
func (r *Repository) Command() core.CommandRepository { return r.commands }

func mapNotFound(err error, kind, id string) error {
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return fmt.Errorf("%s %s: %w", kind, id, util.ErrNotFound)
	}
	return err
}
