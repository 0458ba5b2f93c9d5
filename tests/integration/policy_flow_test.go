package integration

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vmgridlabs/updpolicy/pkg/config"
	"github.com/vmgridlabs/updpolicy/pkg/domain"
	"github.com/vmgridlabs/updpolicy/pkg/inventory"
	"github.com/vmgridlabs/updpolicy/pkg/policy"
	"github.com/vmgridlabs/updpolicy/pkg/telemetry"
)

const updatesPolicy = `# update traffic routing
$tag:whonix-updatevm $default allow,target=sys-whonix
$tag:whonix-updatevm $anyvm deny
$type:TemplateVM $default allow,target=sys-net
$anyvm $anyvm deny
`

// Exercises the full path an enforcement daemon would take: load the file
// through the provider, evaluate requests against the live snapshot, swap
// the file on disk, and evaluate against the new snapshot.
func TestPolicyLoadEvaluateReloadFlow(t *testing.T) {
	dir := t.TempDir()
	policyPath := filepath.Join(dir, "updates.policy")
	require.NoError(t, os.WriteFile(policyPath, []byte(updatesPolicy), 0o600))

	inv := inventory.NewMemoryInventory()
	inv.SetFacts("fedora-template", inventory.VMFacts{Type: "TemplateVM"})
	inv.SetFacts("whonix-ws-1", inventory.VMFacts{Tags: []string{"whonix-updatevm"}, Type: "AppVM"})
	inv.SetFacts("personal-vm", inventory.VMFacts{Type: "AppVM"})

	metrics := telemetry.NewMetrics()
	provider, err := config.NewFileProvider(config.ProviderOptions{
		Path:    policyPath,
		Metrics: metrics,
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = provider.Close() })

	eval, err := policy.NewEvaluator(policy.EvaluatorOptions{
		Inventory: inv,
		CacheSize: 32,
		Metrics:   metrics,
	})
	require.NoError(t, err)

	ctx := context.Background()
	snapshot := provider.Current()

	// Template update traffic is redirected to sys-net.
	verdict, err := eval.Evaluate(ctx, snapshot.Rules, domain.Request{
		Source: "fedora-template",
		Dest:   domain.TokenDefault,
	})
	require.NoError(t, err)
	assert.Equal(t, domain.ActionAllow, verdict.Action)
	assert.Equal(t, "sys-net", verdict.Target)

	// Tagged sources hit their fallback route first, whatever the dest.
	verdict, err = eval.Evaluate(ctx, snapshot.Rules, domain.Request{
		Source: "whonix-ws-1",
		Dest:   "sys-firewall",
	})
	require.NoError(t, err)
	assert.Equal(t, domain.ActionAllow, verdict.Action)
	assert.Equal(t, "sys-whonix", verdict.Target)

	// Everything else falls through to the catch-all deny.
	verdict, err = eval.Evaluate(ctx, snapshot.Rules, domain.Request{
		Source: "personal-vm",
		Dest:   "sys-net",
	})
	require.NoError(t, err)
	assert.Equal(t, domain.ActionDeny, verdict.Action)

	// Swap the policy on disk: personal-vm becomes allowed.
	updated := "personal-vm sys-net allow\n$anyvm $anyvm deny\n"
	require.NoError(t, os.WriteFile(policyPath, []byte(updated), 0o600))

	require.Eventually(t, func() bool {
		return provider.Current().Generation != snapshot.Generation
	}, 3*time.Second, 20*time.Millisecond, "reload should publish a new snapshot")

	// Cache entries are scoped to the rule set they came from; flushing on
	// swap just releases the superseded ones early.
	eval.FlushCache()

	verdict, err = eval.Evaluate(ctx, provider.Current().Rules, domain.Request{
		Source: "personal-vm",
		Dest:   "sys-net",
	})
	require.NoError(t, err)
	assert.Equal(t, domain.ActionAllow, verdict.Action)
	assert.Empty(t, verdict.Target)

	// The pre-reload snapshot still evaluates consistently.
	verdict, err = eval.Evaluate(ctx, snapshot.Rules, domain.Request{
		Source: "fedora-template",
		Dest:   domain.TokenDefault,
	})
	require.NoError(t, err)
	assert.Equal(t, "sys-net", verdict.Target)
}

func TestPolicyFlowFailClosed(t *testing.T) {
	dir := t.TempDir()
	policyPath := filepath.Join(dir, "updates.policy")

	// No catch-all: the engine must not assume one exists.
	require.NoError(t, os.WriteFile(policyPath,
		[]byte("$type:TemplateVM $default allow,target=sys-net\n"), 0o600))

	provider, err := config.NewFileProvider(config.ProviderOptions{Path: policyPath})
	require.NoError(t, err)
	t.Cleanup(func() { _ = provider.Close() })

	eval, err := policy.NewEvaluator(policy.EvaluatorOptions{
		Inventory: inventory.NewMemoryInventory(),
	})
	require.NoError(t, err)

	_, err = eval.Evaluate(context.Background(), provider.Current().Rules, domain.Request{
		Source: "stray-vm",
		Dest:   "sys-net",
	})
	require.ErrorIs(t, err, domain.ErrNoMatch, "dispatcher treats this as deny")
}
