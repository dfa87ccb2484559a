package controller

import (
	"context"
	"fmt"

	"github.com/vigilsec/vigil/pkg/scheduler"
	"github.com/vigilsec/vigil/pkg/types"
)

// openOwnerSession is the scheduler's connection factory. Scheduled
// actions run through the same permission-checked operations a client
// session would use, impersonating the task owner: an owner whose
// start_task grant was revoked keeps their schedules from firing.
func (c *Controller) openOwnerSession(ctx context.Context, owner string) (scheduler.Client, error) {
	user, err := c.store.GetUser(owner)
	if err != nil {
		return nil, fmt.Errorf("schedule owner: %w", err)
	}
	return &ownerSession{
		controller: c,
		principal: &types.Principal{
			UserID:      user.ID,
			Name:        user.Name,
			Admin:       user.Admin,
			Permissions: user.Permissions,
		},
	}, nil
}

// ownerSession is an in-process session bound to one user account.
type ownerSession struct {
	controller *Controller
	principal  *types.Principal
}

func (s *ownerSession) StartTask(ctx context.Context, taskID string) error {
	return s.controller.StartTask(ctx, s.principal, taskID)
}

func (s *ownerSession) StopTask(ctx context.Context, taskID string) error {
	return s.controller.StopTask(ctx, s.principal, taskID)
}

func (s *ownerSession) Close() error { return nil }
