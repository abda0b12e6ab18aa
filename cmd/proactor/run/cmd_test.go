package run_test

import (
	"bytes"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/randalmurphal/proactor/cmd/proactor/run"
)

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	cmd := run.NewRunCommand()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	cmd.SetArgs(args)
	err := cmd.Execute()
	return out.String(), err
}

func TestRun_Proactor(t *testing.T) {
	path := filepath.Join(t.TempDir(), "journal.db")
	out, err := execute(t, "--events", "40", "--stage-delay", "0s", "--cpu-rounds", "10", "--journal", path)
	require.NoError(t, err)

	assert.Contains(t, out, "strategy")
	assert.Regexp(t, `succeeded\s+40`, out)
	assert.Regexp(t, `journal succeeded\s+40`, out)
	assert.Contains(t, out, "pool blocking")
}

func TestRun_Direct(t *testing.T) {
	out, err := execute(t, "--direct", "--events", "10", "--stage-delay", "0s", "--producers", "2")
	require.NoError(t, err)

	assert.Regexp(t, `strategy\s+direct`, out)
	assert.Regexp(t, `succeeded\s+10`, out)
	assert.Contains(t, out, "pool event_loop")
}

func TestRun_FailPolicyUnderCeiling(t *testing.T) {
	out, err := execute(t, "--events", "30", "--producers", "6", "--max-concurrency", "1",
		"--backpressure", "fail", "--stage-delay", "5ms")
	require.NoError(t, err)

	assert.Regexp(t, `backpressure\s+fail`, out)
	assert.NotRegexp(t, `sink rejected\s+0\n`, out)
}

func TestRun_InvalidFlags(t *testing.T) {
	_, err := execute(t, "--backpressure", "block")
	assert.Error(t, err)

	_, err = execute(t, "--events", "0")
	assert.Error(t, err)
}
