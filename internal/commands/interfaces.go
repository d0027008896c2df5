package commands

import (
	"flag"
	"fmt"
	"strings"

	"github.com/netfence/wifisplit/internal/routing"
)

func CreateInterfacesCommand() *InterfacesCommand {
	ic := &InterfacesCommand{
		fs: flag.NewFlagSet("interfaces", flag.ExitOnError),
	}
	return ic
}

// InterfacesCommand lists the network interfaces the daemon could watch.
type InterfacesCommand struct {
	fs *flag.FlagSet
}

func (i *InterfacesCommand) Name() string {
	return i.fs.Name()
}

func (i *InterfacesCommand) Init(args []string, ctx *AppContext) error {
	return i.fs.Parse(args)
}

func (i *InterfacesCommand) Run() error {
	infos, err := routing.ListInterfaces()
	if err != nil {
		return fmt.Errorf("failed to list interfaces: %v", err)
	}

	fmt.Printf("%-12s %-6s %s\n", "NAME", "STATE", "ADDRESSES")
	for _, info := range infos {
		state := "down"
		if info.Up {
			state = "up"
		}
		fmt.Printf("%-12s %-6s %s\n", info.Name, state, strings.Join(info.Addrs, ", "))
	}
	return nil
}
