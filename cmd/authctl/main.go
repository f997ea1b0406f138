// Command authctl is a CLI client for the authserver API.
package main

import (
	"context"
	"crypto/tls"
	"crypto/x509"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/spf13/pflag"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"

	"github.com/and161185/authserver/internal/api"
)

// ---- grpc dial ----

func loadTLS(caPath string, skipVerify, plaintext bool) (credentials.TransportCredentials, error) {
	switch {
	case plaintext:
		return insecure.NewCredentials(), nil
	case skipVerify:
		return credentials.NewTLS(&tls.Config{InsecureSkipVerify: true}), nil
	case caPath == "":
		return credentials.NewClientTLSFromCert(nil, ""), nil
	}
	pem, err := os.ReadFile(caPath)
	if err != nil {
		return nil, err
	}
	pool := x509.NewCertPool()
	if !pool.AppendCertsFromPEM(pem) {
		return nil, errors.New("bad CA cert")
	}
	return credentials.NewTLS(&tls.Config{RootCAs: pool}), nil
}

func dial(addr, caPath string, skipVerify, plaintext bool) (*grpc.ClientConn, error) {
	creds, err := loadTLS(caPath, skipVerify, plaintext)
	if err != nil {
		return nil, err
	}
	return grpc.NewClient(addr, grpc.WithTransportCredentials(creds))
}

// ---- app ----

type app struct {
	cli *api.Client
	out io.Writer
	now func() time.Time
}

func (a *app) printJSON(v any) {
	enc := json.NewEncoder(a.out)
	enc.SetIndent("", "  ")
	_ = enc.Encode(v)
}

// store caches p as the current pair.
func (a *app) store(p *api.TokenPair) error {
	return saveTokens(fromPair(p, a.now()))
}

// bearer attaches the cached access token to ctx, refreshing it first when it
// has expired and the refresh window is still open.
func (a *app) bearer(ctx context.Context) (context.Context, error) {
	tf, err := loadTokens()
	if err != nil {
		return nil, err
	}
	now := a.now()
	if !now.Before(tf.TokenExpires) {
		if !now.Before(tf.RefreshExpires) {
			return nil, errLoginRequired
		}
		p, err := a.cli.RefreshToken(ctx, &api.RefreshTokenRequest{RefreshToken: tf.RefreshToken})
		if err != nil {
			return nil, fmt.Errorf("refresh: %w", err)
		}
		if err := a.store(p); err != nil {
			return nil, err
		}
		tf.Token = p.Token
	}
	return metadata.AppendToOutgoingContext(ctx, "authorization", "Bearer "+tf.Token), nil
}

func usage(w io.Writer) {
	fmt.Fprintf(w, `authctl CLI
Usage:
  authctl --addr HOST:PORT [--cacert file | --insecure | --plaintext] <cmd> [args]

Commands:
  version
  authorize  -l <license>                           (saves pair)
  login      -u <username> -p <password>            (saves pair)
  check      [-t <token>]
  refresh
  logout     [--user <id>]
  user get   <id|username|email>
  role get|create|delete <name>
  role update <name> --set alias=ra,rs,wa,ws [--set ...]
  role assign --user <id> <name>
  license issue --user <id> [--grant license|password]
`)
}

// run dispatches one command. args starts at the command name.
func (a *app) run(ctx context.Context, args []string) error {
	if len(args) == 0 {
		return errUsage
	}
	cmd, rest := args[0], args[1:]
	switch cmd {
	case "authorize":
		return a.cmdAuthorize(ctx, rest)
	case "login":
		return a.cmdLogin(ctx, rest)
	case "check":
		return a.cmdCheck(ctx, rest)
	case "refresh":
		return a.cmdRefresh(ctx)
	case "logout":
		return a.cmdLogout(ctx, rest)
	case "user":
		return a.cmdUser(ctx, rest)
	case "role":
		return a.cmdRole(ctx, rest)
	case "license":
		return a.cmdLicense(ctx, rest)
	default:
		return errUsage
	}
}

var errUsage = errors.New("usage")

// ---- main ----

var (
	version   = "dev"
	buildDate = "unknown"
)

// main parses global flags and runs a single command.
func main() {
	fs := pflag.NewFlagSet("authctl", pflag.ExitOnError)
	fs.SetInterspersed(false)
	addr := fs.String("addr", "localhost:8443", "server addr")
	caPath := fs.String("cacert", "", "CA cert (PEM)")
	skipVerify := fs.Bool("insecure", false, "skip cert verify (dev)")
	plaintext := fs.Bool("plaintext", false, "no TLS (dev)")
	timeout := fs.Duration("timeout", 30*time.Second, "per-command timeout")
	fs.Usage = func() { usage(os.Stderr) }
	_ = fs.Parse(os.Args[1:])

	if fs.NArg() < 1 {
		usage(os.Stderr)
		os.Exit(2)
	}
	if fs.Arg(0) == "version" {
		fmt.Printf("authctl %s (%s)\n", version, buildDate)
		return
	}

	cc, err := dial(*addr, *caPath, *skipVerify, *plaintext)
	if err != nil {
		fail(err)
	}
	defer cc.Close()

	ctx, cancel := context.WithTimeout(context.Background(), *timeout)
	defer cancel()

	a := &app{cli: api.NewClient(cc), out: os.Stdout, now: time.Now}
	if err := a.run(ctx, fs.Args()); err != nil {
		if errors.Is(err, errUsage) {
			usage(os.Stderr)
			os.Exit(2)
		}
		fail(err)
	}
}

func fail(err error) {
	if s, ok := status.FromError(err); ok {
		fmt.Fprintf(os.Stderr, "rpc error: code=%s msg=%s\n", s.Code(), s.Message())
		os.Exit(1)
	}
	fmt.Fprintln(os.Stderr, err)
	os.Exit(1)
}
