package main

import (
	"bytes"
	"context"
	"errors"
	"net"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"
	"google.golang.org/grpc/test/bufconn"

	"github.com/and161185/authserver/internal/api"
)

func withTmpConfig(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	t.Setenv("XDG_CONFIG_HOME", dir)
	return filepath.Join(dir, "authctl")
}

// stubServer records the bearer of every governed call.
type stubServer struct {
	mu      sync.Mutex
	bearers []string
	patch   map[string]api.Policy
}

func (s *stubServer) seen(ctx context.Context) {
	md, _ := metadata.FromIncomingContext(ctx)
	s.mu.Lock()
	defer s.mu.Unlock()
	s.bearers = append(s.bearers, strings.Join(md.Get("authorization"), ","))
}

func (s *stubServer) last() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.bearers) == 0 {
		return ""
	}
	return s.bearers[len(s.bearers)-1]
}

func (s *stubServer) Authorize(_ context.Context, r *api.AuthorizeRequest) (*api.TokenPair, error) {
	if r.License != "good" {
		return nil, status.Error(codes.Unauthenticated, "invalid license")
	}
	return &api.TokenPair{Token: "acc", RefreshToken: "ref", TokenValidity: 300, RefreshTokenValidity: 3600}, nil
}

func (s *stubServer) Login(_ context.Context, r *api.LoginRequest) (*api.TokenPair, error) {
	return &api.TokenPair{Token: "acc-" + r.Username, RefreshToken: "ref", TokenValidity: 300, RefreshTokenValidity: 3600}, nil
}

func (s *stubServer) CheckToken(_ context.Context, r *api.CheckTokenRequest) (*api.TokenPair, error) {
	return &api.TokenPair{Token: r.Token, TokenValidity: 120}, nil
}

func (s *stubServer) RefreshToken(_ context.Context, r *api.RefreshTokenRequest) (*api.TokenPair, error) {
	return &api.TokenPair{Token: "acc2", RefreshToken: r.RefreshToken, TokenValidity: 300, RefreshTokenValidity: 1800}, nil
}

func (s *stubServer) Logout(ctx context.Context, _ *api.LogoutRequest) (*api.Empty, error) {
	s.seen(ctx)
	return &api.Empty{}, nil
}

func (s *stubServer) GetUser(ctx context.Context, r *api.GetUserRequest) (*api.User, error) {
	s.seen(ctx)
	return &api.User{ID: "id-1", Username: r.Identifier, Active: true, Roles: []string{"USER"}}, nil
}

func (s *stubServer) GetRole(ctx context.Context, r *api.GetRoleRequest) (*api.Role, error) {
	s.seen(ctx)
	return &api.Role{ID: "r-1", Name: r.Name, Permissions: map[string]api.Policy{
		"get-user": {ReadSelf: true},
		"logout":   {WriteSelf: true, WriteAll: true},
	}}, nil
}

func (s *stubServer) CreateRole(ctx context.Context, r *api.CreateRoleRequest) (*api.Role, error) {
	s.seen(ctx)
	return &api.Role{ID: "r-2", Name: r.Name}, nil
}

func (s *stubServer) UpdateRole(ctx context.Context, r *api.UpdateRoleRequest) (*api.Role, error) {
	s.seen(ctx)
	s.mu.Lock()
	s.patch = r.Permissions
	s.mu.Unlock()
	return &api.Role{ID: "r-1", Name: r.Name, Permissions: r.Permissions}, nil
}

func (s *stubServer) DeleteRole(ctx context.Context, _ *api.DeleteRoleRequest) (*api.Empty, error) {
	s.seen(ctx)
	return &api.Empty{}, nil
}

func (s *stubServer) AssignRole(ctx context.Context, _ *api.AssignRoleRequest) (*api.Empty, error) {
	s.seen(ctx)
	return &api.Empty{}, nil
}

func (s *stubServer) IssueLicense(ctx context.Context, r *api.IssueLicenseRequest) (*api.IssueLicenseResponse, error) {
	s.seen(ctx)
	return &api.IssueLicenseResponse{License: "lic-" + r.UserID}, nil
}

func newTestApp(t *testing.T, now func() time.Time) (*app, *stubServer, *bytes.Buffer) {
	t.Helper()
	stub := &stubServer{}
	lis := bufconn.Listen(1 << 20)
	gs := grpc.NewServer()
	api.RegisterAuthServerServer(gs, stub)
	go func() { _ = gs.Serve(lis) }()

	cc, err := grpc.NewClient("passthrough:///bufnet",
		grpc.WithContextDialer(func(context.Context, string) (net.Conn, error) { return lis.Dial() }),
		grpc.WithTransportCredentials(insecure.NewCredentials()))
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	t.Cleanup(func() { _ = cc.Close(); gs.Stop() })

	out := &bytes.Buffer{}
	return &app{cli: api.NewClient(cc), out: out, now: now}, stub, out
}

func Test_cfgDir_And_Paths(t *testing.T) {
	base := withTmpConfig(t)
	if got := cfgDir(); got != base {
		t.Fatalf("cfgDir=%q, want %q", got, base)
	}
	if !strings.HasPrefix(tokenPath(), base) || !strings.HasSuffix(tokenPath(), "token.json") {
		t.Fatalf("tokenPath unexpected: %s", tokenPath())
	}
}

func Test_tokens_SaveLoadClear(t *testing.T) {
	_ = withTmpConfig(t)

	if _, err := loadTokens(); !errors.Is(err, errLoginRequired) {
		t.Fatalf("want errLoginRequired, got %v", err)
	}
	now := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	tf := fromPair(&api.TokenPair{Token: "a", RefreshToken: "r", TokenValidity: 60, RefreshTokenValidity: 600}, now)
	if !tf.TokenExpires.Equal(now.Add(time.Minute)) || !tf.RefreshExpires.Equal(now.Add(10*time.Minute)) {
		t.Fatalf("expiry: %+v", tf)
	}
	if err := saveTokens(tf); err != nil {
		t.Fatalf("saveTokens: %v", err)
	}
	fi, err := os.Stat(tokenPath())
	if err != nil || fi.Mode().Perm() != 0o600 {
		t.Fatalf("token file mode: %v %v", fi, err)
	}
	got, err := loadTokens()
	if err != nil || got.Token != "a" || got.RefreshToken != "r" {
		t.Fatalf("loadTokens: %+v %v", got, err)
	}
	if err := clearTokens(); err != nil {
		t.Fatalf("clearTokens: %v", err)
	}
	if err := clearTokens(); err != nil {
		t.Fatalf("clearTokens twice: %v", err)
	}
}

func Test_parsePatch(t *testing.T) {
	t.Parallel()

	got, err := parsePatch([]string{"get-user=ra,rs", "logout=none", "delete-role="})
	if err != nil {
		t.Fatalf("parsePatch: %v", err)
	}
	if !got["get-user"].ReadAll || !got["get-user"].ReadSelf || got["get-user"].WriteAll {
		t.Fatalf("get-user: %+v", got["get-user"])
	}
	if got["logout"] != (api.Policy{}) || got["delete-role"] != (api.Policy{}) {
		t.Fatalf("cleared: %+v", got)
	}
	for _, bad := range []string{"noequals", "=ra", "x=rw"} {
		if _, err := parsePatch([]string{bad}); err == nil {
			t.Fatalf("want error for %q", bad)
		}
	}
}

func Test_policyString(t *testing.T) {
	t.Parallel()

	if s := policyString(api.Policy{}); s != "none" {
		t.Fatalf("empty: %q", s)
	}
	if s := policyString(api.Policy{ReadAll: true, WriteSelf: true}); s != "ra,ws" {
		t.Fatalf("bits: %q", s)
	}
}

func Test_run_AuthorizeThenGoverned(t *testing.T) {
	_ = withTmpConfig(t)
	now := time.Date(2025, 1, 1, 12, 0, 0, 0, time.UTC)
	a, stub, out := newTestApp(t, func() time.Time { return now })
	ctx := context.Background()

	if err := a.run(ctx, []string{"authorize", "-l", "bad"}); status.Code(err) != codes.Unauthenticated {
		t.Fatalf("bad license: %v", err)
	}
	if err := a.run(ctx, []string{"authorize", "-l", "good"}); err != nil {
		t.Fatalf("authorize: %v", err)
	}
	if !strings.Contains(out.String(), `"token": "acc"`) {
		t.Fatalf("authorize output: %s", out.String())
	}

	out.Reset()
	if err := a.run(ctx, []string{"role", "get", "USER"}); err != nil {
		t.Fatalf("role get: %v", err)
	}
	if stub.last() != "Bearer acc" {
		t.Fatalf("bearer: %q", stub.last())
	}
	want := "USER (r-1)\n  get-user         rs\n  logout           wa,ws\n"
	if out.String() != want {
		t.Fatalf("role output:\n%q\nwant\n%q", out.String(), want)
	}

	if err := a.run(ctx, []string{"role", "update", "USER", "--set", "get-user=ra", "--set", "logout=none"}); err != nil {
		t.Fatalf("role update: %v", err)
	}
	stub.mu.Lock()
	patch := stub.patch
	stub.mu.Unlock()
	if len(patch) != 2 || !patch["get-user"].ReadAll {
		t.Fatalf("patch sent: %+v", patch)
	}
	if err := a.run(ctx, []string{"role", "update", "USER"}); err == nil {
		t.Fatalf("update without --set must fail")
	}
	if err := a.run(ctx, []string{"role", "assign", "USER"}); err == nil {
		t.Fatalf("assign without --user must fail")
	}

	out.Reset()
	if err := a.run(ctx, []string{"license", "issue", "--user", "u-1"}); err != nil {
		t.Fatalf("license issue: %v", err)
	}
	if strings.TrimSpace(out.String()) != "lic-u-1" {
		t.Fatalf("license output: %q", out.String())
	}

	if err := a.run(ctx, []string{"logout"}); err != nil {
		t.Fatalf("logout: %v", err)
	}
	if _, err := loadTokens(); !errors.Is(err, errLoginRequired) {
		t.Fatalf("self logout must clear cache, got %v", err)
	}
	if err := a.run(ctx, []string{"user", "get", "alice"}); !errors.Is(err, errLoginRequired) {
		t.Fatalf("want errLoginRequired, got %v", err)
	}
}

func Test_bearer_RefreshesExpiredAccess(t *testing.T) {
	_ = withTmpConfig(t)
	now := time.Date(2025, 1, 1, 12, 0, 0, 0, time.UTC)
	clock := now
	a, stub, _ := newTestApp(t, func() time.Time { return clock })
	ctx := context.Background()

	if err := a.run(ctx, []string{"login", "-u", "bob", "-p", "pw"}); err != nil {
		t.Fatalf("login: %v", err)
	}

	clock = now.Add(10 * time.Minute)
	if err := a.run(ctx, []string{"user", "get", "bob"}); err != nil {
		t.Fatalf("user get: %v", err)
	}
	if stub.last() != "Bearer acc2" {
		t.Fatalf("want refreshed bearer, got %q", stub.last())
	}
	tf, err := loadTokens()
	if err != nil || tf.Token != "acc2" || !tf.RefreshExpires.Equal(clock.Add(30*time.Minute)) {
		t.Fatalf("cache after refresh: %+v %v", tf, err)
	}

	clock = now.Add(2 * time.Hour)
	if err := a.run(ctx, []string{"user", "get", "bob"}); !errors.Is(err, errLoginRequired) {
		t.Fatalf("want errLoginRequired after refresh window, got %v", err)
	}
}

func Test_run_Usage(t *testing.T) {
	_ = withTmpConfig(t)
	a, _, _ := newTestApp(t, time.Now)
	for _, args := range [][]string{nil, {"nope"}, {"user"}, {"role"}, {"license", "revoke"}} {
		if err := a.run(context.Background(), args); !errors.Is(err, errUsage) {
			t.Fatalf("%v: want errUsage, got %v", args, err)
		}
	}
}
