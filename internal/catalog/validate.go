package catalog

import (
	"fmt"
	"sort"
	"strconv"
	"strings"

	apperrors "flightplan/internal/errors"
	"flightplan/internal/secrets"
	"flightplan/internal/types"
)

// Validate checks the catalog for missing fields, unknown enum values,
// duplicates and plans that include themselves through plan commands. All
// problems are reported together. References to records that are not part
// of the catalog are left to Import.
func Validate(c *Catalog) error {
	var problems []string
	add := func(format string, args ...interface{}) {
		problems = append(problems, fmt.Sprintf(format, args...))
	}

	keyScopes := map[string]bool{}
	sshKeys := map[string]bool{}
	for i, k := range c.Keys {
		ref := k.Reference
		if ref == "" {
			ref = secrets.GenerateKeyReference(k.Name)
		}
		where := fmt.Sprintf("keys[%d] (%s)", i, ref)
		if strings.TrimSpace(k.Name) == "" && k.Reference == "" {
			add("keys[%d]: name or reference is required", i)
			continue
		}
		switch k.Type {
		case "", types.KeyTypeSecret:
		case types.KeyTypeSSH:
			if k.ServerRef == "" && k.Partner == "" {
				sshKeys[ref] = true
			}
		default:
			add("%s: type must be s or k, got %q", where, k.Type)
		}
		if k.SecretValue == "" {
			add("%s: secret_value is required", where)
		}
		scope := ref + "|" + k.ServerRef + "|" + k.Partner
		if keyScopes[scope] {
			add("%s: duplicate key for the same server and partner", where)
		}
		keyScopes[scope] = true
	}

	servers := map[string]bool{}
	for i, s := range c.Servers {
		where := fmt.Sprintf("servers[%d] (%s)", i, s.Reference)
		if s.Reference == "" {
			add("servers[%d]: reference is required", i)
		} else if servers[s.Reference] {
			add("%s: duplicate reference", where)
		}
		servers[s.Reference] = true
		if s.Name == "" {
			add("%s: name is required", where)
		}
		if s.SSHUsername == "" {
			add("%s: ssh_username is required", where)
		}
		if s.IPv4 == "" && s.IPv6 == "" {
			add("%s: ipv4 or ipv6 is required", where)
		}
		if port := strings.TrimSpace(s.SSHPort); port != "" {
			if p, err := strconv.Atoi(port); err != nil || p <= 0 || p > 65535 {
				add("%s: ssh_port must be a number between 1-65535", where)
			}
		}
		switch s.SSHAuthMode {
		case "", types.AuthPassword:
			if s.SSHPassword == "" && s.SSHKeyRef == "" {
				add("%s: ssh_password is required for password authentication", where)
			}
		case types.AuthKey:
			if s.SSHKeyRef == "" {
				add("%s: ssh_key is required for key authentication", where)
			}
		default:
			add("%s: ssh_auth_mode must be p or k, got %q", where, s.SSHAuthMode)
		}
		switch s.UseSudo {
		case types.SudoNone, types.SudoNoPassword, types.SudoPassword:
		default:
			add("%s: use_sudo must be n, p or empty, got %q", where, s.UseSudo)
		}
		if s.SSHKeyRef != "" && !sshKeys[s.SSHKeyRef] && hasKeyRef(c, s.SSHKeyRef) {
			add("%s: ssh_key %q must be an unscoped key of type k", where, s.SSHKeyRef)
		}
	}

	commands := map[string]*types.Command{}
	for i := range c.Commands {
		cmd := &c.Commands[i]
		where := fmt.Sprintf("commands[%d] (%s)", i, cmd.Reference)
		if cmd.Reference == "" {
			add("commands[%d]: reference is required", i)
		} else if commands[cmd.Reference] != nil {
			add("%s: duplicate reference", where)
		}
		commands[cmd.Reference] = cmd
		if cmd.Name == "" {
			add("%s: name is required", where)
		}
		switch cmd.Action {
		case "", types.ActionSSHCommand:
		case types.ActionPlan:
			if cmd.PlanRef == "" {
				add("%s: action plan requires plan", where)
			}
		default:
			add("%s: unknown action %q", where, cmd.Action)
		}
	}

	plans := map[string]*types.Plan{}
	for i := range c.Plans {
		p := &c.Plans[i]
		where := fmt.Sprintf("plans[%d] (%s)", i, p.Reference)
		if p.Reference == "" {
			add("plans[%d]: reference is required", i)
		} else if plans[p.Reference] != nil {
			add("%s: duplicate reference", where)
		}
		plans[p.Reference] = p
		if p.Name == "" {
			add("%s: name is required", where)
		}
		if p.OnErrorAction != "" && !p.OnErrorAction.Valid() {
			add("%s: on_error_action must be e, ec or n, got %q", where, p.OnErrorAction)
		}
		for j, line := range p.Lines {
			lw := fmt.Sprintf("%s line %d", where, j)
			if line.CommandRef == "" {
				add("%s: command is required", lw)
			}
			for k, a := range line.Actions {
				aw := fmt.Sprintf("%s action %d", lw, k)
				if !a.Operator.Valid() {
					add("%s: unknown condition %q", aw, a.Operator)
				}
				if !a.Action.Valid() {
					add("%s: action must be e, ec or n, got %q", aw, a.Action)
				}
				if _, err := strconv.Atoi(strings.TrimSpace(a.Value)); err != nil {
					add("%s: value must be an integer, got %q", aw, a.Value)
				}
			}
		}
	}

	for _, cycle := range planCycles(plans, commands) {
		add("plan %s includes itself: %s", cycle[0], strings.Join(cycle, " -> "))
	}

	if len(problems) > 0 {
		return apperrors.New(apperrors.ErrCodeValidation,
			"catalog validation failed:\n  - "+strings.Join(problems, "\n  - "))
	}
	return nil
}

func hasKeyRef(c *Catalog, ref string) bool {
	for _, k := range c.Keys {
		if k.Reference == ref || (k.Reference == "" && secrets.GenerateKeyReference(k.Name) == ref) {
			return true
		}
	}
	return false
}

// planCycles returns every cycle of plans reaching themselves through
// lines whose command has action "plan".
func planCycles(plans map[string]*types.Plan, commands map[string]*types.Command) [][]string {
	edges := map[string][]string{}
	for ref, p := range plans {
		for _, line := range p.Lines {
			if cmd := commands[line.CommandRef]; cmd != nil && cmd.Action == types.ActionPlan && cmd.PlanRef != "" {
				edges[ref] = append(edges[ref], cmd.PlanRef)
			}
		}
	}

	refs := make([]string, 0, len(plans))
	for ref := range plans {
		refs = append(refs, ref)
	}
	sort.Strings(refs)

	const (
		unvisited = iota
		visiting
		done
	)
	state := map[string]int{}
	var cycles [][]string
	var stack []string

	var visit func(ref string)
	visit = func(ref string) {
		state[ref] = visiting
		stack = append(stack, ref)
		for _, next := range edges[ref] {
			switch state[next] {
			case visiting:
				for i, s := range stack {
					if s == next {
						cycle := append(append([]string(nil), stack[i:]...), next)
						cycles = append(cycles, cycle)
						break
					}
				}
			case unvisited:
				visit(next)
			}
		}
		stack = stack[:len(stack)-1]
		state[ref] = done
	}

	for _, ref := range refs {
		if state[ref] == unvisited {
			visit(ref)
		}
	}
	return cycles
}
