package pkg

import (
	"fmt"
	"os"
	"sort"

	"gopkg.in/yaml.v3"
)

// Inventory describes the hosts a run can target, their group memberships,
// and the inventory-scoped variable fragments.
type Inventory struct {
	Vars   map[string]interface{} `yaml:"vars"`
	Groups map[string]*Group      `yaml:"groups"`
	Hosts  map[string]*Host       `yaml:"hosts"`
}

// Group bundles hosts with group-scoped variables.
type Group struct {
	Hosts map[string]*Host       `yaml:"hosts"`
	Vars  map[string]interface{} `yaml:"vars"`
}

// Host is a target identifier plus its own variable fragment. Groups is
// filled in during loading from the group definitions the host appears in.
type Host struct {
	Name    string                 `yaml:"-"`
	Host    string                 `yaml:"host"`
	Vars    map[string]interface{} `yaml:"vars"`
	Groups  []string               `yaml:"-"`
	IsLocal bool                   `yaml:"-"`
}

func (h *Host) String() string {
	return h.Name
}

// LoadInventory parses an inventory document from disk.
func LoadInventory(path string) (*Inventory, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("error reading inventory file %s: %w", path, err)
	}
	return ParseInventory(data)
}

// ParseInventory parses an inventory document, promoting group members into
// the top-level host map and recording their group memberships.
func ParseInventory(data []byte) (*Inventory, error) {
	var inventory Inventory
	if err := yaml.Unmarshal(data, &inventory); err != nil {
		return nil, fmt.Errorf("error parsing inventory: %w", err)
	}
	if inventory.Hosts == nil {
		inventory.Hosts = make(map[string]*Host)
	}
	if inventory.Groups == nil {
		inventory.Groups = make(map[string]*Group)
	}

	// Deterministic group iteration keeps membership ordering stable.
	groupNames := make([]string, 0, len(inventory.Groups))
	for name := range inventory.Groups {
		groupNames = append(groupNames, name)
	}
	sort.Strings(groupNames)

	for _, groupName := range groupNames {
		group := inventory.Groups[groupName]
		for hostName, groupHost := range group.Hosts {
			host, exists := inventory.Hosts[hostName]
			if !exists {
				host = groupHost
				if host == nil {
					host = &Host{}
				}
				inventory.Hosts[hostName] = host
			} else if groupHost != nil && host.Vars == nil {
				host.Vars = groupHost.Vars
			}
			host.Groups = append(host.Groups, groupName)
		}
	}

	for name, host := range inventory.Hosts {
		host.Name = name
		if host.Host == "" {
			host.Host = name
		}
		if host.Host == "localhost" || host.Host == "127.0.0.1" {
			host.IsLocal = true
		}
	}
	return &inventory, nil
}

// DefaultLocalhostInventory is used when no inventory file is given: the
// target is this machine.
func DefaultLocalhostInventory() *Inventory {
	return &Inventory{
		Hosts: map[string]*Host{
			"localhost": {Name: "localhost", Host: "localhost", IsLocal: true},
		},
		Groups: map[string]*Group{},
	}
}

// HostsForPattern selects hosts for a play's target: "all", a group name,
// or a single host name. Results are sorted by name for determinism.
func (i *Inventory) HostsForPattern(pattern string) ([]*Host, error) {
	var selected []*Host
	switch {
	case pattern == "" || pattern == "all":
		for _, host := range i.Hosts {
			selected = append(selected, host)
		}
	default:
		if group, ok := i.Groups[pattern]; ok {
			for name := range group.Hosts {
				if host, exists := i.Hosts[name]; exists {
					selected = append(selected, host)
				}
			}
		} else if host, ok := i.Hosts[pattern]; ok {
			selected = append(selected, host)
		} else {
			return nil, fmt.Errorf("no hosts match pattern %q in inventory", pattern)
		}
	}

	sort.Slice(selected, func(a, b int) bool { return selected[a].Name < selected[b].Name })
	return selected, nil
}

// GroupVars merges the group-scoped variable fragments of the groups the
// host belongs to, in the host's (sorted) membership order.
func (i *Inventory) GroupVars(host *Host) map[string]interface{} {
	fragments := make([]map[string]interface{}, 0, len(host.Groups))
	for _, groupName := range host.Groups {
		if group, ok := i.Groups[groupName]; ok && group.Vars != nil {
			fragments = append(fragments, group.Vars)
		}
	}
	return MergeVars(fragments...)
}
