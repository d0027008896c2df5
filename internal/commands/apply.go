package commands

import (
	"flag"
	"fmt"

	"github.com/netfence/wifisplit/internal/cidr"
	"github.com/netfence/wifisplit/internal/config"
	"github.com/netfence/wifisplit/internal/enforcer"
	"github.com/netfence/wifisplit/internal/log"
)

func CreateApplyCommand() *ApplyCommand {
	ac := &ApplyCommand{
		fs: flag.NewFlagSet("apply", flag.ExitOnError),
	}
	return ac
}

// ApplyCommand applies enforcement once for the current connection and
// exits. Useful from hotplug scripts and for debugging.
type ApplyCommand struct {
	fs     *flag.FlagSet
	cfg    *config.Config
	policy *cidr.Policy
	stack  *enforcementStack
}

func (a *ApplyCommand) Name() string {
	return a.fs.Name()
}

func (a *ApplyCommand) Init(args []string, ctx *AppContext) error {
	if err := a.fs.Parse(args); err != nil {
		return err
	}

	cfg, policy, err := loadAndValidateConfigOrFail(ctx.ConfigPath)
	if err != nil {
		return err
	}
	a.cfg = cfg
	a.policy = policy

	stack, err := buildEnforcementStack(cfg, policy)
	if err != nil {
		return err
	}
	a.stack = stack
	return nil
}

func (a *ApplyCommand) Run() error {
	iface := a.cfg.General.Interface

	up, err := a.stack.rt.LinkUp(iface)
	if err != nil {
		return err
	}
	if !up {
		return fmt.Errorf("interface %s is down", iface)
	}

	gateway, err := a.stack.rt.InterfaceGateway(iface)
	if err != nil {
		return err
	}
	if gateway == nil {
		return fmt.Errorf("interface %s has no gateway", iface)
	}

	a.stack.enf.Apply(enforcer.Event{
		Type:      enforcer.EventConnect,
		Interface: iface,
		Gateway:   gateway,
	})

	status := a.stack.enf.Status()
	if status.State != enforcer.StateActive {
		return fmt.Errorf("enforcement did not activate: %s", status.Reason)
	}

	log.Infof("Enforcement active on %s with %d cutout routes", iface, len(status.Routes))
	return nil
}
