package mcp

import (
	"context"
	"errors"
	"testing"

	"github.com/fentz26/switchboard/internal/analyzer"
	"github.com/fentz26/switchboard/internal/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

type fixedBooster struct {
	value float64
	err   error
	calls []string
}

func (b *fixedBooster) Boost(_ context.Context, worker string, base float64, fingerprint string) (float64, error) {
	b.calls = append(b.calls, worker+"@"+fingerprint)
	if b.err != nil {
		return 0, b.err
	}
	return base + b.value, nil
}

func newDefaultRegistry(t *testing.T) *Registry {
	t.Helper()
	reg := NewRegistry()
	require.NoError(t, reg.RegisterDefaults())
	return reg
}

func TestSelector_Select(t *testing.T) {
	sel := NewSelector(newDefaultRegistry(t), nil, nil)
	signal := analyzer.Classify("Deploy ECS service to prod Tokyo using Jira DEVOPS-123")

	result := sel.Select(context.Background(), signal, 0)

	assert.Equal(t, DefaultThreshold, result.Threshold)
	assert.ElementsMatch(t, []string{"atlassian-mcp", "aws-api-mcp"}, result.SelectedNames())
	for _, m := range result.Selected {
		assert.InDelta(t, 0.8, m.Confidence, 1e-9)
		assert.Contains(t, m.Rationale, "capabilities")
	}
	assert.Empty(t, result.Rejected)
}

func TestSelector_TerraformOnly(t *testing.T) {
	reg := newDefaultRegistry(t)
	sel := NewSelector(reg, nil, nil)

	result := sel.Select(context.Background(), analyzer.Classify("Update Terraform infrastructure"), DefaultThreshold)

	require.Equal(t, []string{"terraform-registry-mcp"}, result.SelectedNames())
	for _, m := range append(result.Selected, result.Rejected...) {
		d, ok := reg.Get(m.Name)
		require.True(t, ok)
		assert.NotContains(t, d.Capabilities, "aws")
		assert.NotContains(t, d.Capabilities, "jira")
	}
}

func TestSelector_DropsZeroScoresAndPartitions(t *testing.T) {
	reg := NewRegistry()
	require.NoError(t, reg.Register(models.WorkerDescriptor{Name: "cap-only", Command: "a", Capabilities: []string{"aws"}}))
	require.NoError(t, reg.Register(models.WorkerDescriptor{Name: "hint-only", Command: "b", Capabilities: []string{"other"}, Keywords: []string{"aw"}}))
	require.NoError(t, reg.Register(models.WorkerDescriptor{Name: "both", Command: "c", Capabilities: []string{"aws"}, Keywords: []string{"aws", "ws"}}))
	require.NoError(t, reg.Register(models.WorkerDescriptor{Name: "none", Command: "d", Capabilities: []string{"github"}}))

	sel := NewSelector(reg, nil, nil)
	result := sel.Select(context.Background(), models.TaskSignal{Services: []string{"aws"}}, 0.7)

	require.Len(t, result.Selected, 1)
	assert.Equal(t, "both", result.Selected[0].Name)
	// Keyword bonus is added once even though two hints match.
	assert.InDelta(t, 0.8, result.Selected[0].Confidence, 1e-9)

	require.Len(t, result.Rejected, 2)
	assert.Equal(t, "cap-only", result.Rejected[0].Name)
	assert.InDelta(t, 0.6, result.Rejected[0].Confidence, 1e-9)
	assert.Equal(t, "hint-only", result.Rejected[1].Name)
	assert.InDelta(t, 0.2, result.Rejected[1].Confidence, 1e-9)
}

func TestSelector_StableTies(t *testing.T) {
	reg := NewRegistry()
	for _, name := range []string{"c", "a", "b"} {
		require.NoError(t, reg.Register(models.WorkerDescriptor{Name: name, Command: name, Capabilities: []string{"aws"}}))
	}
	sel := NewSelector(reg, nil, nil)

	result := sel.Select(context.Background(), models.TaskSignal{Services: []string{"aws"}}, 0.5)
	assert.Equal(t, []string{"c", "a", "b"}, result.SelectedNames())
}

func TestSelector_Idempotent(t *testing.T) {
	sel := NewSelector(newDefaultRegistry(t), nil, nil)
	signal := analyzer.Classify("Check cloudwatch logs for the github repo in prod")

	first := sel.Select(context.Background(), signal, 0.7)
	second := sel.Select(context.Background(), signal, 0.7)
	assert.Equal(t, first, second)
}

func TestSelector_ThresholdMonotonic(t *testing.T) {
	sel := NewSelector(newDefaultRegistry(t), nil, nil)
	signal := analyzer.Classify("Check cloudwatch logs for the github repo and the jira ticket in prod")

	low := sel.Select(context.Background(), signal, 0.5)
	high := sel.Select(context.Background(), signal, 0.9)
	assert.LessOrEqual(t, len(high.Selected), len(low.Selected))
	assert.Equal(t, len(low.Selected)+len(low.Rejected), len(high.Selected)+len(high.Rejected))
}

func TestSelector_Booster(t *testing.T) {
	reg := NewRegistry()
	require.NoError(t, reg.Register(models.WorkerDescriptor{Name: "w", Command: "w", Capabilities: []string{"aws"}}))
	require.NoError(t, reg.Register(models.WorkerDescriptor{Name: "unrelated", Command: "u", Capabilities: []string{"x"}}))
	signal := models.TaskSignal{Account: "prod", Services: []string{"aws"}}

	t.Run("boost is clamped to +0.2", func(t *testing.T) {
		b := &fixedBooster{value: 0.5}
		result := NewSelector(reg, b, nil).Select(context.Background(), signal, 0.7)
		require.Len(t, result.Selected, 1)
		assert.InDelta(t, 0.8, result.Selected[0].Confidence, 1e-9)
		assert.Contains(t, result.Selected[0].Rationale, "history boost")
		// Zero-score entries are never boosted.
		assert.Equal(t, []string{"w@prod:aws"}, b.calls)
	})

	t.Run("boost never lowers the score", func(t *testing.T) {
		b := &fixedBooster{value: -0.4}
		result := NewSelector(reg, b, nil).Select(context.Background(), signal, 0.5)
		require.Len(t, result.Selected, 1)
		assert.InDelta(t, 0.6, result.Selected[0].Confidence, 1e-9)
	})

	t.Run("booster failure leaves score unchanged", func(t *testing.T) {
		core, logs := observer.New(zapcore.DebugLevel)
		b := &fixedBooster{err: errors.New("db down")}
		result := NewSelector(reg, b, zap.New(core)).Select(context.Background(), signal, 0.5)
		require.Len(t, result.Selected, 1)
		assert.InDelta(t, 0.6, result.Selected[0].Confidence, 1e-9)

		entries := logs.FilterMessage("confidence boost failed").All()
		require.Len(t, entries, 1)
		assert.Equal(t, "w", entries[0].ContextMap()["worker"])
		assert.Equal(t, "db down", entries[0].ContextMap()["error"])
	})
}
