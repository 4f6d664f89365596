package catalog

import (
	"fmt"

	apperrors "flightplan/internal/errors"
	"flightplan/internal/logging"
	"flightplan/internal/secrets"
	"flightplan/internal/types"
)

// Store is the persistence Import writes to.
type Store interface {
	UpsertKey(key *types.Key) error
	GetGlobalKey(ref string) (*types.Key, error)
	UpsertServer(srv *types.Server) error
	GetServer(ref string) (*types.Server, error)
	SetVariableValues(serverID int64, values map[string]string) error
	UpsertCommand(cmd *types.Command) error
	UpsertPlan(plan *types.Plan) error
	GetPlan(ref string) (*types.Plan, error)
}

// Summary counts the records written by Import.
type Summary struct {
	Keys      int
	Servers   int
	Variables int
	Commands  int
	Plans     int
}

func (s Summary) String() string {
	return fmt.Sprintf("%d keys, %d servers, %d variable values, %d commands, %d plans",
		s.Keys, s.Servers, s.Variables, s.Commands, s.Plans)
}

// Import validates c and upserts its records by reference. Records are
// written in dependency order: unscoped keys, servers, server keys,
// variable values, plans, commands and finally plan lines.
func Import(st Store, c *Catalog) (Summary, error) {
	var sum Summary
	if err := Validate(c); err != nil {
		return sum, err
	}

	var serverKeys []*types.Key
	for i := range c.Keys {
		k := &c.Keys[i]
		if k.Reference == "" {
			k.Reference = secrets.GenerateKeyReference(k.Name)
		}
		if k.Name == "" {
			k.Name = k.Reference
		}
		if k.ServerRef != "" {
			serverKeys = append(serverKeys, k)
			continue
		}
		if err := st.UpsertKey(k); err != nil {
			return sum, err
		}
		sum.Keys++
	}

	for i := range c.Servers {
		srv := &c.Servers[i]
		srv.SSHKeyID = 0
		if srv.SSHKeyRef != "" {
			key, err := st.GetGlobalKey(srv.SSHKeyRef)
			if err != nil {
				return sum, fmt.Errorf("server %s: %w", srv.Reference, err)
			}
			if key.Type != types.KeyTypeSSH {
				return sum, apperrors.ConfigurationError(fmt.Sprintf("server %s: key %s is not an SSH key", srv.Reference, key.Reference))
			}
			srv.SSHKeyID = key.ID
		}
		if err := st.UpsertServer(srv); err != nil {
			return sum, err
		}
		sum.Servers++
	}

	for _, k := range serverKeys {
		srv, err := st.GetServer(k.ServerRef)
		if err != nil {
			return sum, fmt.Errorf("key %s: %w", k.Reference, err)
		}
		k.ServerID = srv.ID
		if err := st.UpsertKey(k); err != nil {
			return sum, err
		}
		sum.Keys++
	}

	if len(c.Variables) > 0 {
		if err := st.SetVariableValues(0, c.Variables); err != nil {
			return sum, err
		}
		sum.Variables += len(c.Variables)
	}
	for i := range c.Servers {
		srv := &c.Servers[i]
		if len(srv.Variables) == 0 {
			continue
		}
		if err := st.SetVariableValues(srv.ID, srv.Variables); err != nil {
			return sum, err
		}
		sum.Variables += len(srv.Variables)
	}

	// Plans referenced by commands need an id before their lines can
	// reference those commands.
	planIDs := map[string]int64{}
	for i := range c.Plans {
		p := &c.Plans[i]
		if existing, err := st.GetPlan(p.Reference); err == nil {
			planIDs[p.Reference] = existing.ID
			continue
		} else if !apperrors.Is(err, apperrors.ErrCodeNotFound) {
			return sum, err
		}
		header := &types.Plan{
			Reference:        p.Reference,
			Name:             p.Name,
			AllowParallelRun: p.AllowParallelRun,
			OnErrorAction:    p.OnErrorAction,
			CustomExitCode:   p.CustomExitCode,
		}
		if err := st.UpsertPlan(header); err != nil {
			return sum, err
		}
		planIDs[p.Reference] = header.ID
	}

	for i := range c.Commands {
		cmd := &c.Commands[i]
		cmd.PlanID = 0
		if cmd.PlanRef != "" {
			id, ok := planIDs[cmd.PlanRef]
			if !ok {
				p, err := st.GetPlan(cmd.PlanRef)
				if err != nil {
					return sum, fmt.Errorf("command %s: %w", cmd.Reference, err)
				}
				id = p.ID
			}
			cmd.PlanID = id
		}
		if err := st.UpsertCommand(cmd); err != nil {
			return sum, err
		}
		sum.Commands++
	}

	for i := range c.Plans {
		p := &c.Plans[i]
		for j := range p.Lines {
			p.Lines[j].CommandID = 0
		}
		if err := st.UpsertPlan(p); err != nil {
			return sum, fmt.Errorf("plan %s: %w", p.Reference, err)
		}
		sum.Plans++
	}

	logging.Info("catalog imported", map[string]interface{}{
		"keys":      sum.Keys,
		"servers":   sum.Servers,
		"variables": sum.Variables,
		"commands":  sum.Commands,
		"plans":     sum.Plans,
	})
	return sum, nil
}

// ImportFiles loads, merges and imports catalog files.
func ImportFiles(st Store, paths ...string) (Summary, error) {
	c, err := LoadFiles(paths...)
	if err != nil {
		return Summary{}, err
	}
	return Import(st, c)
}
