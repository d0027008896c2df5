package config

import (
	"github.com/netfence/wifisplit/internal/cidr"
	"github.com/netfence/wifisplit/internal/errors"
	"github.com/netfence/wifisplit/internal/log"
)

// ParsePolicy converts the raw CIDR string lists into a parsed cidr.Policy.
//
// Malformed entries are skipped with a warning rather than aborting the
// load. The one fatal condition is an included set with zero valid
// prefixes, which is reported as CONFIG_INVALID: enforcing an empty policy
// would blackhole the interface for no reason the operator asked for.
func (c *Config) ParsePolicy() (*cidr.Policy, error) {
	if c.Policy == nil {
		return nil, errors.New(errors.ErrCodeConfigInvalid, "configuration has no policy section")
	}

	included := parseBlockList("included", c.Policy.Included)
	if len(included) == 0 {
		return nil, errors.Newf(errors.ErrCodeConfigInvalid,
			"no valid prefix remains in the included list (%d entries rejected)", len(c.Policy.Included))
	}

	return &cidr.Policy{
		Included: included,
		Excluded: parseBlockList("excluded", c.Policy.Excluded),
	}, nil
}

func parseBlockList(listName string, entries []string) []cidr.Block {
	blocks := make([]cidr.Block, 0, len(entries))
	for _, entry := range entries {
		block, err := cidr.Parse(entry)
		if err != nil {
			log.Warnf("Skipping invalid %s prefix %q: %v", listName, entry, err)
			continue
		}
		blocks = append(blocks, block)
	}
	return blocks
}
