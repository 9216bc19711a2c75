package credentials

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fentz26/switchboard/internal/models"
	"github.com/fentz26/switchboard/internal/scheduler"
)

type fakeProbe struct {
	mu       sync.Mutex
	statuses map[string][]IdentityStatus // consumed in order, last one repeats
	calls    map[string]int
	err      error
}

func (p *fakeProbe) Check(_ context.Context, profile string) (IdentityStatus, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.calls == nil {
		p.calls = map[string]int{}
	}
	n := p.calls[profile]
	p.calls[profile]++
	if p.err != nil {
		return IdentityStatus{}, p.err
	}
	seq := p.statuses[profile]
	if len(seq) == 0 {
		return IdentityStatus{}, nil
	}
	if n >= len(seq) {
		n = len(seq) - 1
	}
	return seq[n], nil
}

type fakeLogin struct {
	mu       sync.Mutex
	profiles []string
	block    bool
	err      error
	active   int
	peak     int
}

func (l *fakeLogin) Login(ctx context.Context, profile string) error {
	l.mu.Lock()
	l.profiles = append(l.profiles, profile)
	l.active++
	if l.active > l.peak {
		l.peak = l.active
	}
	l.mu.Unlock()
	defer func() {
		l.mu.Lock()
		l.active--
		l.mu.Unlock()
	}()

	if l.block {
		<-ctx.Done()
		return ctx.Err()
	}
	time.Sleep(5 * time.Millisecond)
	return l.err
}

type memSecrets map[string]string

func (m memSecrets) Get(key string) (string, error) {
	v, ok := m[key]
	if !ok {
		return "", ErrSecretNotFound
	}
	return v, nil
}
func (m memSecrets) Set(key, value string) error { m[key] = value; return nil }
func (m memSecrets) Delete(key string) error     { delete(m, key); return nil }

type staticOutput map[string]string

func (o staticOutput) Output(name string) string { return o[name] }

func newTestCoordinator(cfg Config) *Coordinator {
	if cfg.Scheduler == nil {
		cfg.Scheduler = scheduler.New(nil, nil)
	}
	return NewCoordinator(cfg, nil)
}

func TestIdentityStatus_NeedsRenewal(t *testing.T) {
	now := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)

	assert.True(t, IdentityStatus{}.NeedsRenewal(now))
	assert.False(t, IdentityStatus{Valid: true}.NeedsRenewal(now))
	assert.True(t, IdentityStatus{Valid: true, ExpiresAt: now.Add(4 * time.Minute)}.NeedsRenewal(now))
	assert.False(t, IdentityStatus{Valid: true, ExpiresAt: now.Add(10 * time.Minute)}.NeedsRenewal(now))
}

func TestPrepare_AuthKinds(t *testing.T) {
	probe := &fakeProbe{statuses: map[string][]IdentityStatus{
		"prod": {{Valid: true}},
	}}
	secrets := memSecrets{"jira:dev@example.com": "tok"}
	c := newTestCoordinator(Config{Probe: probe, Login: &fakeLogin{}, Secrets: secrets})

	cfgs := []models.WorkerConfig{
		{Name: "terraform", AuthKind: models.AuthNone},
		{Name: "aws", AuthKind: models.AuthDelegatedLogin, Env: map[string]string{"AWS_PROFILE": "prod"}},
		{Name: "jira", AuthKind: models.AuthSecretToken,
			Env:        map[string]string{"ATLASSIAN_EMAIL": "dev@example.com"},
			Credential: &models.CredentialRef{Kind: "jira", IdentityEnv: "ATLASSIAN_EMAIL"}},
		{Name: "github", AuthKind: models.AuthSecretToken,
			Credential: &models.CredentialRef{Kind: "github", IdentityEnv: "GITHUB_USERNAME"}},
		{Name: "web", AuthKind: models.AuthOAuth},
	}

	res := c.Prepare(context.Background(), cfgs)

	assert.Equal(t, map[string]bool{
		"terraform": true,
		"aws":       true,
		"jira":      true,
		"github":    false,
		"web":       true,
	}, res.Ready)
	assert.Equal(t, []string{"github"}, res.Failed())
	assert.Contains(t, res.Errors["github"], "github:default")
}

func TestPrepare_UnknownAuthKind(t *testing.T) {
	c := newTestCoordinator(Config{})
	res := c.Prepare(context.Background(), []models.WorkerConfig{{Name: "odd", AuthKind: "kerberos"}})
	assert.False(t, res.Ready["odd"])
	assert.Contains(t, res.Errors["odd"], ErrUnknownAuthKind.Error())
}

func TestPrepare_RenewsExpiredIdentity(t *testing.T) {
	probe := &fakeProbe{statuses: map[string][]IdentityStatus{
		"dev": {{Valid: false}, {Valid: true}},
	}}
	login := &fakeLogin{}
	c := newTestCoordinator(Config{Probe: probe, Login: login})

	res := c.Prepare(context.Background(), []models.WorkerConfig{
		{Name: "aws", AuthKind: models.AuthDelegatedLogin, Env: map[string]string{"AWS_PROFILE": "dev"}},
	})

	assert.True(t, res.Ready["aws"])
	assert.Equal(t, []string{"dev"}, login.profiles)
	assert.Equal(t, 2, probe.calls["dev"])
}

func TestPrepare_LoginFailureIsNotReady(t *testing.T) {
	login := &fakeLogin{err: errors.New("user cancelled")}
	c := newTestCoordinator(Config{Probe: &fakeProbe{}, Login: login})

	res := c.Prepare(context.Background(), []models.WorkerConfig{
		{Name: "aws", AuthKind: models.AuthDelegatedLogin},
		{Name: "tf", AuthKind: models.AuthNone},
	})

	assert.False(t, res.Ready["aws"])
	assert.True(t, res.Ready["tf"])
	assert.Equal(t, []string{DefaultProfile}, login.profiles)
}

func TestPrepare_LoginTimeout(t *testing.T) {
	login := &fakeLogin{block: true}
	c := newTestCoordinator(Config{Probe: &fakeProbe{}, Login: login, LoginTimeout: 20 * time.Millisecond})

	start := time.Now()
	res := c.Prepare(context.Background(), []models.WorkerConfig{
		{Name: "aws", AuthKind: models.AuthDelegatedLogin},
	})

	assert.False(t, res.Ready["aws"])
	assert.Less(t, time.Since(start), 2*time.Second)
	assert.Contains(t, res.Errors["aws"], context.DeadlineExceeded.Error())
}

func TestPrepare_SerializesInteractiveLogins(t *testing.T) {
	login := &fakeLogin{}
	c := newTestCoordinator(Config{Probe: &fakeProbe{}, Login: login})

	var cfgs []models.WorkerConfig
	for _, p := range []string{"a", "b", "c", "d"} {
		cfgs = append(cfgs, models.WorkerConfig{
			Name: "aws-" + p, AuthKind: models.AuthDelegatedLogin,
			Env: map[string]string{"AWS_PROFILE": p},
		})
	}
	c.Prepare(context.Background(), cfgs)

	assert.Len(t, login.profiles, 4)
	assert.Equal(t, 1, login.peak)
}

func TestPrepare_OAuthDetection(t *testing.T) {
	var opened []string
	c := newTestCoordinator(Config{
		Output:          staticOutput{"web": "visit https://id.example.com/oauth/authorize?client=1 to continue"},
		OAuthAutomation: true,
		OpenURL: func(url string) error {
			opened = append(opened, url)
			return nil
		},
	})

	res := c.Prepare(context.Background(), []models.WorkerConfig{{Name: "web", AuthKind: models.AuthOAuth}})
	assert.True(t, res.Ready["web"])
	assert.Equal(t, "https://id.example.com/oauth/authorize?client=1", res.OAuthURLs["web"])
	assert.Equal(t, []string{"https://id.example.com/oauth/authorize?client=1"}, opened)
}

func TestPrepare_Empty(t *testing.T) {
	c := newTestCoordinator(Config{})
	res := c.Prepare(context.Background(), nil)
	assert.Empty(t, res.Ready)
	assert.Empty(t, res.Failed())
}

func TestSecretKey(t *testing.T) {
	tests := []struct {
		name string
		wc   models.WorkerConfig
		want string
	}{
		{"no credential", models.WorkerConfig{Name: "custom"}, "custom"},
		{"identity set", models.WorkerConfig{
			Name:       "atlassian-mcp",
			Env:        map[string]string{"ATLASSIAN_EMAIL": "a@b.c"},
			Credential: &models.CredentialRef{Kind: "jira", IdentityEnv: "ATLASSIAN_EMAIL"},
		}, "jira:a@b.c"},
		{"identity missing", models.WorkerConfig{
			Name:       "github-mcp",
			Credential: &models.CredentialRef{Kind: "github", IdentityEnv: "GITHUB_USERNAME"},
		}, "github:default"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, SecretKey(tt.wc))
		})
	}
}

func TestScanOAuth(t *testing.T) {
	c := newTestCoordinator(Config{Output: staticOutput{
		"a": "listening on stdio",
		"b": "please sign in at https://example.com/login?next=/",
	}})
	urls := c.ScanOAuth([]string{"a", "b", "missing"})
	require.Len(t, urls, 1)
	assert.Equal(t, "https://example.com/login?next=/", urls["b"])
}
