package notifier

import (
	"context"
	"errors"
	"strings"

	"github.com/domrelay/domrelay/internal/relayserver/core"
	v1 "github.com/domrelay/domrelay/pkg/apis/command/v1"
)

// Multi fans a notification out to every configured backend.
type Multi []core.CommandNotifier

var _ core.CommandNotifier = Multi(nil)

func (m Multi) Name() string {
	names := make([]string, 0, len(m))
	for _, n := range m {
		names = append(names, n.Name())
	}
	return strings.Join(names, "+")
}

// Notify tries every backend and joins their errors.
func (m Multi) Notify(ctx context.Context, cmd *v1.Command) error {
	var errs []error
	for _, n := range m {
		if err := n.Notify(ctx, cmd); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
