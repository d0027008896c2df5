package commands

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/netfence/wifisplit/internal/api"
	"github.com/netfence/wifisplit/internal/cidr"
	"github.com/netfence/wifisplit/internal/config"
	"github.com/netfence/wifisplit/internal/enforcer"
	"github.com/netfence/wifisplit/internal/log"
	"github.com/netfence/wifisplit/internal/routing"
	"github.com/netfence/wifisplit/internal/selfcheck"
	"github.com/netfence/wifisplit/internal/watcher"
)

func CreateServiceCommand() *ServiceCommand {
	sc := &ServiceCommand{
		fs: flag.NewFlagSet("service", flag.ExitOnError),
	}
	return sc
}

// ServiceCommand runs the long-lived daemon: interface watcher, enforcer
// loop and the HTTP API.
type ServiceCommand struct {
	fs     *flag.FlagSet
	ctx    *AppContext
	cfg    *config.Config
	policy *cidr.Policy
	stack  *enforcementStack
}

func (s *ServiceCommand) Name() string {
	return s.fs.Name()
}

func (s *ServiceCommand) Init(args []string, ctx *AppContext) error {
	s.ctx = ctx
	if err := s.fs.Parse(args); err != nil {
		return err
	}

	cfg, policy, err := loadAndValidateConfigOrFail(ctx.ConfigPath)
	if err != nil {
		return err
	}
	s.cfg = cfg
	s.policy = policy

	stack, err := buildEnforcementStack(cfg, policy)
	if err != nil {
		return err
	}
	s.stack = stack
	return nil
}

func (s *ServiceCommand) Run() error {
	log.Infof("Starting wifisplit service for %s...", s.cfg.General.Interface)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM, syscall.SIGHUP)

	enfDone := make(chan struct{})
	go func() {
		s.stack.enf.Run(ctx)
		close(enfDone)
	}()

	w := watcher.New(watcher.Options{
		Interface: s.cfg.General.Interface,
		SSID:      s.cfg.General.SSID,
		Interval:  s.cfg.General.PollInterval(),
	}, s.stack.rt, watcher.WirelessExtResolver{}, s.stack.enf.Submit)
	go w.Run(ctx)

	controller := &serviceController{
		enf:   s.stack.enf,
		rt:    s.stack.rt,
		iface: s.cfg.General.Interface,
	}

	if s.cfg.API.Enabled {
		checker := selfcheck.New(selfcheck.Options{
			Interface:  s.cfg.General.Interface,
			Policy:     s.policy,
			Exemptions: s.cfg.Exemptions,
			Hostname:   s.cfg.General.SelfCheckHostname,
		}, s.stack.fw, s.stack.rt, s.stack.rt, selfcheck.UDPProber{})

		server := api.NewServer(s.cfg.API.Listen, s.ctx.Version, s.policy, controller, checker)
		if err := server.Start(); err != nil {
			log.Errorf("Failed to start API server: %v", err)
			log.Warnf("Service will continue without the HTTP API")
		} else {
			defer server.Stop()
		}
	} else {
		log.Infof("HTTP API is disabled")
	}

	for {
		sig := <-sigChan
		switch sig {
		case syscall.SIGHUP:
			log.Infof("Received SIGHUP, re-applying enforcement")
			if err := controller.Reapply(); err != nil {
				log.Warnf("Re-apply skipped: %v", err)
			}
		default:
			log.Infof("Received %v, shutting down", sig)
			cancel()
			<-enfDone
			// Leave the system the way we found it.
			s.stack.enf.Teardown()
			return nil
		}
	}
}

// serviceController exposes the running enforcer to the HTTP API.
type serviceController struct {
	enf   *enforcer.Enforcer
	rt    *routing.Netlink
	iface string
}

func (c *serviceController) Status() enforcer.Status {
	return c.enf.Status()
}

func (c *serviceController) Reapply() error {
	gateway, err := c.rt.InterfaceGateway(c.iface)
	if err != nil {
		return err
	}
	if gateway == nil {
		return fmt.Errorf("no gateway on %s", c.iface)
	}

	c.enf.Submit(enforcer.Event{
		Type:      enforcer.EventConnect,
		Interface: c.iface,
		Gateway:   gateway,
	})
	return nil
}

func (c *serviceController) Teardown() error {
	c.enf.Submit(enforcer.Event{
		Type:      enforcer.EventDisconnect,
		Interface: c.iface,
	})
	return nil
}
