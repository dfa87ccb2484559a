package controller

import (
	"fmt"

	"github.com/vigilsec/vigil/pkg/types"
)

// Authorize decides whether a principal may run a gated operation on a
// task. Admins pass every check. Other users must own the task and
// hold the operation's permission grant; the failure reason is never
// leaked beyond the wrapped sentinel.
func Authorize(p *types.Principal, task *types.Task, perm types.Permission) error {
	if p == nil {
		return fmt.Errorf("no session principal: %w", types.ErrPermission)
	}
	if p.Admin {
		return nil
	}
	if task.Owner != p.UserID {
		return fmt.Errorf("user %s: task %s: %w", p.UserID, task.ID, types.ErrPermission)
	}
	for _, granted := range p.Permissions {
		if granted == string(perm) {
			return nil
		}
	}
	return fmt.Errorf("user %s: %s: %w", p.UserID, perm, types.ErrPermission)
}
