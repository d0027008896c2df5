package commands

import (
	"flag"

	"github.com/netfence/wifisplit/internal/log"
)

func CreateUndoCommand() *UndoCommand {
	uc := &UndoCommand{
		fs: flag.NewFlagSet("undo", flag.ExitOnError),
	}
	return uc
}

// UndoCommand tears enforcement down and restores the original routing
// state, regardless of how the rules got there.
type UndoCommand struct {
	fs    *flag.FlagSet
	stack *enforcementStack
	iface string
}

func (u *UndoCommand) Name() string {
	return u.fs.Name()
}

func (u *UndoCommand) Init(args []string, ctx *AppContext) error {
	if err := u.fs.Parse(args); err != nil {
		return err
	}

	cfg, policy, err := loadAndValidateConfigOrFail(ctx.ConfigPath)
	if err != nil {
		return err
	}
	u.iface = cfg.General.Interface

	stack, err := buildEnforcementStack(cfg, policy)
	if err != nil {
		return err
	}
	u.stack = stack
	return nil
}

func (u *UndoCommand) Run() error {
	// This fresh enforcer believes it is disabled, but a previous process
	// may have left rules behind.
	u.stack.enf.ForceTeardown()

	log.Infof("Enforcement removed from %s", u.iface)
	return nil
}
