package commands

import (
	"flag"
	"fmt"

	"github.com/netfence/wifisplit/internal/firewall"
	"github.com/netfence/wifisplit/internal/routing"
	"github.com/netfence/wifisplit/internal/selfcheck"
)

func CreateSelfCheckCommand() *SelfCheckCommand {
	sc := &SelfCheckCommand{
		fs: flag.NewFlagSet("self-check", flag.ExitOnError),
	}
	return sc
}

// SelfCheckCommand runs the diagnostic suite against the live system.
type SelfCheckCommand struct {
	fs      *flag.FlagSet
	checker *selfcheck.Checker
}

func (s *SelfCheckCommand) Name() string {
	return s.fs.Name()
}

func (s *SelfCheckCommand) Init(args []string, ctx *AppContext) error {
	if err := s.fs.Parse(args); err != nil {
		return err
	}

	cfg, policy, err := loadAndValidateConfigOrFail(ctx.ConfigPath)
	if err != nil {
		return err
	}

	fw, err := firewall.NewIPTables()
	if err != nil {
		return fmt.Errorf("failed to initialize iptables backend: %v", err)
	}
	rt := routing.NewNetlink()

	s.checker = selfcheck.New(selfcheck.Options{
		Interface:  cfg.General.Interface,
		Policy:     policy,
		Exemptions: cfg.Exemptions,
		Hostname:   cfg.General.SelfCheckHostname,
	}, fw, rt, rt, selfcheck.UDPProber{})
	return nil
}

func (s *SelfCheckCommand) Run() error {
	results := s.checker.Run()

	failed := 0
	for _, r := range results {
		mark := "ok"
		if !r.OK {
			mark = "FAIL"
			failed++
		}
		if r.Detail != "" {
			fmt.Printf("%-14s [%s] %s\n", r.Name, mark, r.Detail)
		} else {
			fmt.Printf("%-14s [%s]\n", r.Name, mark)
		}
	}

	if failed > 0 {
		return fmt.Errorf("%d of %d checks failed", failed, len(results))
	}
	fmt.Printf("all %d checks passed\n", len(results))
	return nil
}
