package commands

import (
	"encoding/json"
	"flag"
	"fmt"
	"net/http"
	"time"

	"github.com/netfence/wifisplit/internal/api"
	"github.com/netfence/wifisplit/internal/cidr"
	"github.com/netfence/wifisplit/internal/config"
	"github.com/netfence/wifisplit/internal/enforcer"
	"github.com/netfence/wifisplit/internal/firewall"
)

func CreateStatusCommand() *StatusCommand {
	sc := &StatusCommand{
		fs: flag.NewFlagSet("status", flag.ExitOnError),
	}
	sc.fs.BoolVar(&sc.JSON, "json", false, "Print the raw JSON status")
	return sc
}

// StatusCommand reports the enforcement status: from the running service
// via its HTTP API when enabled, otherwise inferred from system state.
type StatusCommand struct {
	fs     *flag.FlagSet
	cfg    *config.Config
	policy *cidr.Policy
	JSON   bool
}

func (s *StatusCommand) Name() string {
	return s.fs.Name()
}

func (s *StatusCommand) Init(args []string, ctx *AppContext) error {
	if err := s.fs.Parse(args); err != nil {
		return err
	}

	cfg, policy, err := loadAndValidateConfigOrFail(ctx.ConfigPath)
	if err != nil {
		return err
	}
	s.cfg = cfg
	s.policy = policy
	return nil
}

func (s *StatusCommand) Run() error {
	var status enforcer.Status
	if s.cfg.API.Enabled {
		fetched, err := s.fetchStatus()
		if err != nil {
			return err
		}
		status = *fetched
	} else {
		inferred, err := s.inferStatus()
		if err != nil {
			return err
		}
		status = *inferred
	}

	if s.JSON {
		out, err := json.MarshalIndent(status, "", "  ")
		if err != nil {
			return err
		}
		fmt.Println(string(out))
		return nil
	}

	s.print(status)
	return nil
}

// fetchStatus asks the running daemon over its HTTP API.
func (s *StatusCommand) fetchStatus() (*enforcer.Status, error) {
	client := &http.Client{Timeout: 5 * time.Second}
	resp, err := client.Get(fmt.Sprintf("http://%s/api/v1/status", s.cfg.API.Listen))
	if err != nil {
		return nil, fmt.Errorf("failed to reach the service at %s (is it running?): %v", s.cfg.API.Listen, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("service answered %s", resp.Status)
	}

	var wrapper struct {
		Data api.StatusResponse `json:"data"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&wrapper); err != nil {
		return nil, fmt.Errorf("failed to decode status response: %v", err)
	}
	return &wrapper.Data.Status, nil
}

// inferStatus reconstructs the status from live system state: the
// installed chains and the persisted route backup. Used when no daemon
// API is available.
func (s *StatusCommand) inferStatus() (*enforcer.Status, error) {
	iface := s.cfg.General.Interface
	status := &enforcer.Status{
		Interface: iface,
		State:     enforcer.StateDisabled,
	}

	stack, err := buildEnforcementStack(s.cfg, s.policy)
	if err != nil {
		return nil, err
	}

	backups := enforcer.NewBackupStore(s.cfg.General.StateDir)
	if backup, err := backups.Load(iface); err == nil {
		status.Backup = backup
	}

	gateway, err := stack.rt.InterfaceGateway(iface)
	if err != nil || gateway == nil {
		// Without a gateway the compiled set cannot be reconstructed; the
		// backup record is the only evidence of enforcement.
		if status.Backup != nil {
			status.State = enforcer.StateFailed
			status.Reason = "route backup present but the interface has no gateway"
		}
		return status, nil
	}
	status.Gateway = gateway.String()

	rs, err := firewall.Compile(s.policy, iface, gateway, s.cfg.Exemptions)
	if err != nil {
		return nil, err
	}
	ok, err := stack.fw.Verify(rs)
	if err != nil {
		return nil, err
	}
	if ok {
		status.State = enforcer.StateActive
		for _, dst := range firewall.CompileRoutes(s.policy) {
			status.Routes = append(status.Routes, dst.String())
		}
	} else if status.Backup != nil {
		status.State = enforcer.StateFailed
		status.Reason = "route backup present but the firewall chains do not match"
	}
	return status, nil
}

func (s *StatusCommand) print(status enforcer.Status) {
	fmt.Printf("interface:  %s\n", status.Interface)
	fmt.Printf("state:      %s\n", status.State)
	if status.Reason != "" {
		fmt.Printf("reason:     %s\n", status.Reason)
	}
	if status.Gateway != "" {
		fmt.Printf("gateway:    %s\n", status.Gateway)
	}
	fmt.Printf("routes:     %d\n", len(status.Routes))
	if status.Retries > 0 {
		fmt.Printf("retries:    %d (exhausted: %v)\n", status.Retries, status.RetriesExhausted)
	}
	if status.Backup != nil {
		if status.Backup.NoPriorDefault {
			fmt.Printf("backup:     no prior default route (captured %s)\n",
				status.Backup.CapturedAt.Format(time.RFC3339))
		} else {
			fmt.Printf("backup:     %s via %s (captured %s)\n", status.Backup.Interface,
				status.Backup.Gateway, status.Backup.CapturedAt.Format(time.RFC3339))
		}
	}
}
