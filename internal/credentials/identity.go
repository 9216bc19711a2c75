package credentials

import (
	"context"
	"errors"
	"fmt"
	"strings"

	awsconfig "github.com/aws/aws-sdk-go-v2/config"

	"github.com/fentz26/switchboard/internal/connectors"
)

// CLIProbe checks an identity by running a command such as
// `aws sts get-caller-identity --profile P`. Exit status 0 means valid.
type CLIProbe struct {
	conn    connectors.Connector
	command []string
}

// NewCLIProbe creates a probe running command through conn.
func NewCLIProbe(conn connectors.Connector, command []string) *CLIProbe {
	return &CLIProbe{conn: conn, command: command}
}

// Check implements IdentityProbe.
func (p *CLIProbe) Check(ctx context.Context, profile string) (IdentityStatus, error) {
	res, err := runWithProfile(ctx, p.conn, p.command, profile)
	if err != nil {
		return IdentityStatus{}, err
	}
	return IdentityStatus{Valid: res.Success()}, nil
}

// CLILogin runs an interactive login command such as `aws sso login --profile P`.
type CLILogin struct {
	conn    connectors.Connector
	command []string
}

// NewCLILogin creates a login runner executing command through conn.
func NewCLILogin(conn connectors.Connector, command []string) *CLILogin {
	return &CLILogin{conn: conn, command: command}
}

// Login implements LoginRunner. The child process is killed when ctx ends.
func (l *CLILogin) Login(ctx context.Context, profile string) error {
	res, err := runWithProfile(ctx, l.conn, l.command, profile)
	if err != nil {
		return err
	}
	if !res.Success() {
		return fmt.Errorf("login exited with status %d: %s", res.ExitCode, strings.TrimSpace(res.Stderr))
	}
	return nil
}

func runWithProfile(ctx context.Context, conn connectors.Connector, command []string, profile string) (*connectors.ExecResult, error) {
	if len(command) == 0 {
		return nil, errors.New("empty command")
	}
	args := append(append([]string(nil), command[1:]...), "--profile", profile)
	return conn.Execute(ctx, command[0], args)
}

// SDKProbe resolves the profile's credentials with the AWS SDK shared config
// chain. It reports expiry for temporary credentials.
type SDKProbe struct{}

// NewSDKProbe creates an SDK-backed probe.
func NewSDKProbe() *SDKProbe {
	return &SDKProbe{}
}

// Check implements IdentityProbe.
func (p *SDKProbe) Check(ctx context.Context, profile string) (IdentityStatus, error) {
	cfg, err := awsconfig.LoadDefaultConfig(ctx, awsconfig.WithSharedConfigProfile(profile))
	if err != nil {
		return IdentityStatus{}, fmt.Errorf("loading profile %s: %w", profile, err)
	}
	if cfg.Credentials == nil {
		return IdentityStatus{}, nil
	}

	creds, err := cfg.Credentials.Retrieve(ctx)
	if err != nil {
		return IdentityStatus{}, fmt.Errorf("retrieving credentials for %s: %w", profile, err)
	}

	status := IdentityStatus{Valid: creds.HasKeys()}
	if creds.CanExpire {
		status.ExpiresAt = creds.Expires
	}
	return status, nil
}
