/*
Copyright 2026.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

package cli

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/telekom/k8s-conductor/pkg/config"
	"github.com/telekom/k8s-conductor/pkg/election"
)

func writeRunConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "conductor.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

const runConfigYAML = `
lease:
  name: rollout-controller
  namespace: conductor-system
store:
  backend: kube
`

func TestLoadRunConfigExplicitPath(t *testing.T) {
	path := writeRunConfig(t, runConfigYAML)

	cfg, err := loadRunConfig(&rootState{configPath: path})
	require.NoError(t, err)
	assert.Equal(t, "rollout-controller", cfg.Lease.Name)
	assert.Equal(t, "conductor-system", cfg.Lease.Namespace)
}

func TestLoadRunConfigEnvPath(t *testing.T) {
	path := writeRunConfig(t, runConfigYAML)
	t.Setenv(config.EnvPath, path)

	cfg, err := loadRunConfig(&rootState{})
	require.NoError(t, err)
	assert.Equal(t, "rollout-controller", cfg.Lease.Name)
}

func TestLoadRunConfigFlagsOnly(t *testing.T) {
	t.Setenv(config.EnvPath, "")

	cfg, err := loadRunConfig(&rootState{})
	require.NoError(t, err)
	assert.Equal(t, config.BackendKube, cfg.Store.Backend)
	assert.Empty(t, cfg.Lease.Name)
}

func TestLoadRunConfigMissingExplicitFile(t *testing.T) {
	_, err := loadRunConfig(&rootState{configPath: "/does/not/exist.yaml"})
	require.Error(t, err)
}

func TestRunCommandRejectsMissingLeaseName(t *testing.T) {
	t.Setenv(config.EnvPath, "")

	root := NewRootCommand(Config{OutputWriter: &bytes.Buffer{}})
	root.SetErr(&bytes.Buffer{})
	root.SetArgs([]string{"run"})

	err := root.Execute()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid configuration")
}

func TestRunCommandRejectsBadDurationFlag(t *testing.T) {
	t.Setenv(config.EnvPath, "")

	root := NewRootCommand(Config{OutputWriter: &bytes.Buffer{}})
	root.SetErr(&bytes.Buffer{})
	root.SetArgs([]string{"run", "--lease", "demo", "--lease-duration", "soon"})

	err := root.Execute()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "lease.leaseDuration")
}

func TestReportTransitions(t *testing.T) {
	buf := &bytes.Buffer{}
	rt := &rootState{writer: buf}

	at := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	events := make(chan election.Event, 2)
	events <- election.Event{Kind: election.EventAcquired, Identity: "node-a", Transitions: 4, At: at}
	events <- election.Event{Kind: election.EventLost, Reason: election.ReasonSuperseded, At: at.Add(time.Minute)}
	close(events)

	reportTransitions(rt, events)

	out := buf.String()
	assert.Contains(t, out, "leadership acquired as node-a (transitions 4)")
	assert.Contains(t, out, "leadership lost (Superseded)")
	assert.Contains(t, out, "2026-03-01T10:00:00Z")
}
