package commands

import (
	"fmt"

	"github.com/netfence/wifisplit/internal/cidr"
	"github.com/netfence/wifisplit/internal/config"
	"github.com/netfence/wifisplit/internal/enforcer"
	"github.com/netfence/wifisplit/internal/firewall"
	"github.com/netfence/wifisplit/internal/routing"
)

// Runner is one CLI subcommand.
type Runner interface {
	Init(args []string, ctx *AppContext) error
	Run() error
	Name() string
}

// AppContext carries the global flags into every subcommand.
type AppContext struct {
	ConfigPath string
	Verbose    bool
	Version    string
}

// loadAndValidateConfigOrFail loads the configuration, validates it and
// parses the prefix policy.
func loadAndValidateConfigOrFail(configPath string) (*config.Config, *cidr.Policy, error) {
	cfg, err := config.LoadConfig(configPath)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to load configuration: %v", err)
	}

	if err := cfg.ValidateConfig(); err != nil {
		return nil, nil, fmt.Errorf("configuration validation failed: %v", err)
	}

	policy, err := cfg.ParsePolicy()
	if err != nil {
		return nil, nil, fmt.Errorf("failed to parse policy: %v", err)
	}

	return cfg, policy, nil
}

// enforcementStack bundles the production backends behind one enforcer.
type enforcementStack struct {
	enf *enforcer.Enforcer
	fw  firewall.Backend
	rt  *routing.Netlink
}

// buildEnforcementStack wires the iptables and netlink backends to an
// enforcer configured from cfg.
func buildEnforcementStack(cfg *config.Config, policy *cidr.Policy) (*enforcementStack, error) {
	fw, err := firewall.NewIPTables()
	if err != nil {
		return nil, fmt.Errorf("failed to initialize iptables backend: %v", err)
	}

	rt := routing.NewNetlink()
	backups := enforcer.NewBackupStore(cfg.General.StateDir)

	opts := enforcer.Options{
		Interface:      cfg.General.Interface,
		Policy:         policy,
		Exemptions:     cfg.Exemptions,
		MaxRetries:     cfg.General.MaxApplyRetries,
		BackendTimeout: cfg.General.BackendTimeout(),
	}

	return &enforcementStack{
		enf: enforcer.New(opts, fw, rt, backups),
		fw:  fw,
		rt:  rt,
	}, nil
}
