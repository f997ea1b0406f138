package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sort"
	"strings"

	"github.com/spf13/pflag"

	"github.com/and161185/authserver/internal/api"
)

func newFlags(name string) *pflag.FlagSet {
	fs := pflag.NewFlagSet(name, pflag.ContinueOnError)
	fs.SetOutput(io.Discard)
	return fs
}

// ------- grants -------

func (a *app) cmdAuthorize(ctx context.Context, args []string) error {
	fs := newFlags("authorize")
	lic := fs.StringP("license", "l", "", "license string")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *lic == "" && fs.NArg() > 0 {
		*lic = fs.Arg(0)
	}
	if *lic == "" {
		return errors.New("need -l <license>")
	}
	p, err := a.cli.Authorize(ctx, &api.AuthorizeRequest{License: strings.TrimSpace(*lic)})
	if err != nil {
		return err
	}
	if err := a.store(p); err != nil {
		return err
	}
	a.printJSON(p)
	return nil
}

func (a *app) cmdLogin(ctx context.Context, args []string) error {
	fs := newFlags("login")
	u := fs.StringP("user", "u", "", "username")
	p := fs.StringP("password", "p", "", "password")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *u == "" || *p == "" {
		return errors.New("need -u and -p")
	}
	pair, err := a.cli.Login(ctx, &api.LoginRequest{Username: *u, Password: *p})
	if err != nil {
		return err
	}
	if err := a.store(pair); err != nil {
		return err
	}
	fmt.Fprintln(a.out, "ok")
	return nil
}

func (a *app) cmdCheck(ctx context.Context, args []string) error {
	fs := newFlags("check")
	tok := fs.StringP("token", "t", "", "access token (default: cached)")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *tok == "" {
		tf, err := loadTokens()
		if err != nil {
			return err
		}
		*tok = tf.Token
	}
	p, err := a.cli.CheckToken(ctx, &api.CheckTokenRequest{Token: *tok})
	if err != nil {
		return err
	}
	a.printJSON(p)
	return nil
}

func (a *app) cmdRefresh(ctx context.Context) error {
	tf, err := loadTokens()
	if err != nil {
		return err
	}
	p, err := a.cli.RefreshToken(ctx, &api.RefreshTokenRequest{RefreshToken: tf.RefreshToken})
	if err != nil {
		return err
	}
	if err := a.store(p); err != nil {
		return err
	}
	a.printJSON(p)
	return nil
}

func (a *app) cmdLogout(ctx context.Context, args []string) error {
	fs := newFlags("logout")
	user := fs.String("user", "", "user id (default: self)")
	if err := fs.Parse(args); err != nil {
		return err
	}
	bctx, err := a.bearer(ctx)
	if err != nil {
		return err
	}
	if _, err := a.cli.Logout(bctx, &api.LogoutRequest{UserID: *user}); err != nil {
		return err
	}
	if *user == "" {
		if err := clearTokens(); err != nil {
			return err
		}
	}
	fmt.Fprintln(a.out, "ok")
	return nil
}

// ------- users -------

func (a *app) cmdUser(ctx context.Context, args []string) error {
	if len(args) != 2 || args[0] != "get" {
		return errUsage
	}
	bctx, err := a.bearer(ctx)
	if err != nil {
		return err
	}
	u, err := a.cli.GetUser(bctx, &api.GetUserRequest{Identifier: args[1]})
	if err != nil {
		return err
	}
	a.printJSON(u)
	return nil
}

// ------- roles -------

// parsePolicy reads a comma list of ra, rs, wa, ws. "none" or "" clears all bits.
func parsePolicy(s string) (api.Policy, error) {
	var p api.Policy
	for _, f := range strings.Split(strings.ToLower(s), ",") {
		switch strings.TrimSpace(f) {
		case "", "none":
		case "ra":
			p.ReadAll = true
		case "rs":
			p.ReadSelf = true
		case "wa":
			p.WriteAll = true
		case "ws":
			p.WriteSelf = true
		default:
			return api.Policy{}, fmt.Errorf("unknown access bit %q", f)
		}
	}
	return p, nil
}

// parsePatch turns alias=bits pairs into an update patch.
func parsePatch(sets []string) (map[string]api.Policy, error) {
	out := make(map[string]api.Policy, len(sets))
	for _, s := range sets {
		alias, bits, ok := strings.Cut(s, "=")
		alias = strings.TrimSpace(alias)
		if !ok || alias == "" {
			return nil, fmt.Errorf("bad --set %q, want alias=bits", s)
		}
		p, err := parsePolicy(bits)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", alias, err)
		}
		out[alias] = p
	}
	return out, nil
}

func policyString(p api.Policy) string {
	var bits []string
	if p.ReadAll {
		bits = append(bits, "ra")
	}
	if p.ReadSelf {
		bits = append(bits, "rs")
	}
	if p.WriteAll {
		bits = append(bits, "wa")
	}
	if p.WriteSelf {
		bits = append(bits, "ws")
	}
	if len(bits) == 0 {
		return "none"
	}
	return strings.Join(bits, ",")
}

// printRole writes one "alias bits" line per operation, sorted by alias.
func (a *app) printRole(r *api.Role) {
	fmt.Fprintf(a.out, "%s (%s)\n", r.Name, r.ID)
	aliases := make([]string, 0, len(r.Permissions))
	for alias := range r.Permissions {
		aliases = append(aliases, alias)
	}
	sort.Strings(aliases)
	for _, alias := range aliases {
		fmt.Fprintf(a.out, "  %-16s %s\n", alias, policyString(r.Permissions[alias]))
	}
}

func (a *app) cmdRole(ctx context.Context, args []string) error {
	if len(args) < 1 {
		return errUsage
	}
	sub, rest := args[0], args[1:]
	fs := newFlags("role " + sub)
	sets := fs.StringArray("set", nil, "alias=bits (repeatable)")
	user := fs.String("user", "", "user id")
	if err := fs.Parse(rest); err != nil {
		return err
	}
	if fs.NArg() != 1 {
		return errUsage
	}
	name := fs.Arg(0)

	bctx, err := a.bearer(ctx)
	if err != nil {
		return err
	}
	switch sub {
	case "get":
		r, err := a.cli.GetRole(bctx, &api.GetRoleRequest{Name: name})
		if err != nil {
			return err
		}
		a.printRole(r)
	case "create":
		r, err := a.cli.CreateRole(bctx, &api.CreateRoleRequest{Name: name})
		if err != nil {
			return err
		}
		a.printRole(r)
	case "update":
		patch, err := parsePatch(*sets)
		if err != nil {
			return err
		}
		if len(patch) == 0 {
			return errors.New("need at least one --set")
		}
		r, err := a.cli.UpdateRole(bctx, &api.UpdateRoleRequest{Name: name, Permissions: patch})
		if err != nil {
			return err
		}
		a.printRole(r)
	case "delete":
		if _, err := a.cli.DeleteRole(bctx, &api.DeleteRoleRequest{Name: name}); err != nil {
			return err
		}
		fmt.Fprintln(a.out, "ok")
	case "assign":
		if *user == "" {
			return errors.New("need --user")
		}
		if _, err := a.cli.AssignRole(bctx, &api.AssignRoleRequest{UserID: *user, Role: name}); err != nil {
			return err
		}
		fmt.Fprintln(a.out, "ok")
	default:
		return errUsage
	}
	return nil
}

// ------- licenses -------

func (a *app) cmdLicense(ctx context.Context, args []string) error {
	if len(args) < 1 || args[0] != "issue" {
		return errUsage
	}
	fs := newFlags("license issue")
	user := fs.String("user", "", "user id")
	grant := fs.String("grant", "", "grant type recorded on tokens (license|password)")
	if err := fs.Parse(args[1:]); err != nil {
		return err
	}
	if *user == "" {
		return errors.New("need --user")
	}
	bctx, err := a.bearer(ctx)
	if err != nil {
		return err
	}
	res, err := a.cli.IssueLicense(bctx, &api.IssueLicenseRequest{UserID: *user, GrantType: *grant})
	if err != nil {
		return err
	}
	fmt.Fprintln(a.out, res.License)
	return nil
}
