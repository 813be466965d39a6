package healthmon

import (
	"context"
	"fmt"
	"os/exec"
)

// ServiceRestarter restarts the worker through the host's service manager.
// cmd/auto-recovery is the only caller; it is a thin os/exec wrapper rather
// than a systemd D-Bus client because the restart target is configurable
// (--service-name) and systemctl is present on every host this runs on.
type ServiceRestarter struct {
	serviceName string
}

// NewServiceRestarter binds a restarter to one systemd unit name.
func NewServiceRestarter(serviceName string) *ServiceRestarter {
	return &ServiceRestarter{serviceName: serviceName}
}

// Restart shells out to `systemctl restart <service>`. reason is logged by
// the caller, not passed to systemctl.
func (s *ServiceRestarter) Restart(ctx context.Context, reason string) error {
	cmd := exec.CommandContext(ctx, "systemctl", "restart", s.serviceName)
	out, err := cmd.CombinedOutput()
	if err != nil {
		return fmt.Errorf("healthmon: systemctl restart %s: %w: %s", s.serviceName, err, out)
	}
	return nil
}
