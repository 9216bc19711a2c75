// Package credentials makes sure every selected worker can authenticate
// before it is started. Each worker's auth kind decides what "ready" means:
// a live cloud identity, a stored secret, or nothing at all.
package credentials

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/fentz26/switchboard/internal/models"
	"github.com/fentz26/switchboard/internal/scheduler"
)

const (
	// DefaultLoginTimeout bounds an interactive login.
	DefaultLoginTimeout = 300 * time.Second
	// renewalMargin is how close to expiry an identity counts as expired.
	renewalMargin = 5 * time.Minute
	// DefaultProfile is used when a worker names no identity profile.
	DefaultProfile = "default"
)

// ErrUnknownAuthKind is returned for a worker whose auth kind is not handled.
var ErrUnknownAuthKind = errors.New("unknown auth kind")

// IdentityStatus is the result of probing a delegated-login identity.
type IdentityStatus struct {
	Valid     bool
	ExpiresAt time.Time // zero when the identity does not expire
}

// NeedsRenewal reports whether the identity is invalid or expires within
// five minutes of now.
func (s IdentityStatus) NeedsRenewal(now time.Time) bool {
	if !s.Valid {
		return true
	}
	return !s.ExpiresAt.IsZero() && s.ExpiresAt.Before(now.Add(renewalMargin))
}

// IdentityProbe checks whether a profile currently has a usable identity.
type IdentityProbe interface {
	Check(ctx context.Context, profile string) (IdentityStatus, error)
}

// LoginRunner performs an interactive login for a profile. It must stop
// when ctx is done.
type LoginRunner interface {
	Login(ctx context.Context, profile string) error
}

// OutputSource exposes recent output of a running worker.
type OutputSource interface {
	Output(name string) string
}

// Result reports per-worker readiness.
type Result struct {
	Ready     map[string]bool   `json:"ready"`
	OAuthURLs map[string]string `json:"oauth_urls,omitempty"`
	Errors    map[string]string `json:"errors,omitempty"`
}

// Failed returns the sorted names of workers that are not ready.
func (r Result) Failed() []string {
	var failed []string
	for name, ok := range r.Ready {
		if !ok {
			failed = append(failed, name)
		}
	}
	sort.Strings(failed)
	return failed
}

// Config wires a Coordinator.
type Config struct {
	Probe           IdentityProbe
	Login           LoginRunner
	Secrets         SecretStore
	Output          OutputSource // optional
	Scheduler       *scheduler.Scheduler
	LoginTimeout    time.Duration
	OAuthAutomation bool
	// OpenURL opens an OAuth URL when automation is on. Defaults to the
	// platform browser.
	OpenURL func(url string) error
}

// Coordinator prepares credentials for a set of workers.
type Coordinator struct {
	probe           IdentityProbe
	login           LoginRunner
	secrets         SecretStore
	output          OutputSource
	sch             *scheduler.Scheduler
	loginTimeout    time.Duration
	oauthAutomation bool
	openURL         func(string) error
	now             func() time.Time
	logger          *zap.Logger
}

// NewCoordinator creates a coordinator.
func NewCoordinator(cfg Config, logger *zap.Logger) *Coordinator {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.Scheduler == nil {
		cfg.Scheduler = scheduler.New(nil, logger)
	}
	if cfg.LoginTimeout <= 0 {
		cfg.LoginTimeout = DefaultLoginTimeout
	}
	if cfg.OpenURL == nil {
		cfg.OpenURL = OpenBrowser
	}
	return &Coordinator{
		probe:           cfg.Probe,
		login:           cfg.Login,
		secrets:         cfg.Secrets,
		output:          cfg.Output,
		sch:             cfg.Scheduler,
		loginTimeout:    cfg.LoginTimeout,
		oauthAutomation: cfg.OAuthAutomation,
		openURL:         cfg.OpenURL,
		now:             time.Now,
		logger:          logger,
	}
}

// SetOutputSource attaches the source scanned for OAuth URLs.
func (c *Coordinator) SetOutputSource(src OutputSource) {
	c.output = src
}

// Prepare checks every worker concurrently. A failure for one worker never
// affects the others; it only marks that worker not ready.
func (c *Coordinator) Prepare(ctx context.Context, cfgs []models.WorkerConfig) Result {
	res := Result{
		Ready:     make(map[string]bool, len(cfgs)),
		OAuthURLs: make(map[string]string),
		Errors:    make(map[string]string),
	}
	var mu sync.Mutex
	for _, wc := range cfgs {
		res.Ready[wc.Name] = false
	}

	g := c.sch.Group(ctx)
	for _, wc := range cfgs {
		wc := wc
		g.Go(string(wc.AuthKind), func(ctx context.Context) error {
			ready, url, err := c.prepareOne(ctx, wc)

			mu.Lock()
			defer mu.Unlock()
			res.Ready[wc.Name] = ready
			if url != "" {
				res.OAuthURLs[wc.Name] = url
			}
			if err != nil {
				res.Errors[wc.Name] = err.Error()
				return fmt.Errorf("%s: %w", wc.Name, err)
			}
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		c.logger.Warn("credential preparation incomplete", zap.Error(err))
	}

	// Panics and cancelled waits never reach the job body.
	for name, ok := range res.Ready {
		if _, recorded := res.Errors[name]; !ok && !recorded {
			res.Errors[name] = "credentials not prepared"
		}
	}
	return res
}

func (c *Coordinator) prepareOne(ctx context.Context, wc models.WorkerConfig) (bool, string, error) {
	switch wc.AuthKind {
	case models.AuthNone:
		return true, "", nil
	case models.AuthDelegatedLogin:
		ok, err := c.ensureIdentity(ctx, ProfileFor(wc))
		return ok, "", err
	case models.AuthSecretToken:
		ok, err := c.hasSecret(wc)
		return ok, "", err
	case models.AuthOAuth:
		return true, c.scanOAuth(wc.Name), nil
	default:
		return false, "", fmt.Errorf("%w: %q", ErrUnknownAuthKind, wc.AuthKind)
	}
}

func (c *Coordinator) ensureIdentity(ctx context.Context, profile string) (bool, error) {
	if c.probe == nil || c.login == nil {
		return false, errors.New("no identity provider configured")
	}
	logger := c.logger.With(zap.String("profile", profile))

	status, err := c.probe.Check(ctx, profile)
	if err != nil {
		logger.Debug("identity probe failed", zap.Error(err))
		status = IdentityStatus{}
	}
	if !status.NeedsRenewal(c.now()) {
		return true, nil
	}

	logger.Info("identity needs renewal, starting login")
	loginCtx, cancel := context.WithTimeout(ctx, c.loginTimeout)
	defer cancel()
	if err := c.login.Login(loginCtx, profile); err != nil {
		return false, fmt.Errorf("login for profile %s: %w", profile, err)
	}

	status, err = c.probe.Check(ctx, profile)
	if err != nil {
		return false, fmt.Errorf("verifying profile %s: %w", profile, err)
	}
	if !status.Valid {
		return false, fmt.Errorf("profile %s still invalid after login", profile)
	}
	return true, nil
}

func (c *Coordinator) hasSecret(wc models.WorkerConfig) (bool, error) {
	if c.secrets == nil {
		return false, errors.New("no secret store configured")
	}
	key := SecretKey(wc)
	value, err := c.secrets.Get(key)
	if err != nil {
		return false, fmt.Errorf("secret %s: %w", key, err)
	}
	if value == "" {
		return false, fmt.Errorf("secret %s: %w", key, ErrSecretNotFound)
	}
	return true, nil
}

// scanOAuth looks for an authorization URL in the worker's output and
// opens it when automation is enabled.
func (c *Coordinator) scanOAuth(name string) string {
	if c.output == nil {
		return ""
	}
	url := DetectOAuthURL(c.output.Output(name))
	if url == "" {
		return ""
	}
	if c.oauthAutomation {
		if err := c.openURL(url); err != nil {
			c.logger.Warn("failed to open browser", zap.String("worker", name), zap.Error(err))
		}
	}
	return url
}

// ScanOAuth checks the output of the named workers for authorization URLs.
func (c *Coordinator) ScanOAuth(names []string) map[string]string {
	urls := make(map[string]string)
	for _, name := range names {
		if url := c.scanOAuth(name); url != "" {
			urls[name] = url
		}
	}
	return urls
}

// ProfileFor returns the identity profile a delegated-login worker uses.
func ProfileFor(wc models.WorkerConfig) string {
	if p := wc.Env["AWS_PROFILE"]; p != "" {
		return p
	}
	return DefaultProfile
}

// SecretKey returns the secret store key for a secret-token worker:
// "<kind>:<identity>" when the worker declares a credential, else its name.
func SecretKey(wc models.WorkerConfig) string {
	if wc.Credential == nil || wc.Credential.Kind == "" {
		return wc.Name
	}
	identity := ""
	if wc.Credential.IdentityEnv != "" {
		identity = wc.Env[wc.Credential.IdentityEnv]
	}
	if identity == "" {
		identity = "default"
	}
	return wc.Credential.Kind + ":" + identity
}
