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
	"testing"

	"github.com/spf13/cobra"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRootStateNamespace(t *testing.T) {
	rt := &rootState{}
	assert.Equal(t, DefaultNamespace, rt.Namespace())

	rt = &rootState{namespace: "controllers"}
	assert.Equal(t, "controllers", rt.Namespace())
}

func TestRootStateWriterFallsBackToStdout(t *testing.T) {
	rt := &rootState{}
	assert.Equal(t, os.Stdout, rt.Writer())

	buf := &bytes.Buffer{}
	rt = &rootState{writer: buf}
	assert.Equal(t, buf, rt.Writer())
}

func TestGetRootMissingState(t *testing.T) {
	cmd := &cobra.Command{Use: "orphan"}
	_, err := getRoot(cmd)
	require.Error(t, err)
}

func execRoot(t *testing.T, args ...string) (*rootState, error) {
	t.Helper()
	root := NewRootCommand(Config{OutputWriter: &bytes.Buffer{}})
	root.SetArgs(args)
	execErr := root.Execute()
	rt, err := getRoot(root)
	require.NoError(t, err)
	return rt, execErr
}

func TestRootEnvFallbacks(t *testing.T) {
	t.Setenv("CONDUCTOR_KUBECONFIG", "/tmp/env-kubeconfig")
	t.Setenv("CONDUCTOR_CONTEXT", "env-context")
	t.Setenv("CONDUCTOR_NAMESPACE", "env-ns")
	t.Setenv("CONDUCTOR_DEBUG", "TRUE")

	rt, err := execRoot(t, "version")
	require.NoError(t, err)
	assert.Equal(t, "/tmp/env-kubeconfig", rt.kubeconfig)
	assert.Equal(t, "env-context", rt.kubeContext)
	assert.Equal(t, "env-ns", rt.Namespace())
	assert.True(t, rt.debug)
}

func TestRootFlagsWinOverEnv(t *testing.T) {
	t.Setenv("CONDUCTOR_NAMESPACE", "env-ns")
	t.Setenv("CONDUCTOR_CONTEXT", "env-context")

	rt, err := execRoot(t, "version", "-n", "flag-ns", "--context", "flag-context")
	require.NoError(t, err)
	assert.Equal(t, "flag-ns", rt.Namespace())
	assert.Equal(t, "flag-context", rt.kubeContext)
}

func TestRootClientOptions(t *testing.T) {
	rt := &rootState{kubeconfig: "/tmp/kc", kubeContext: "staging"}
	opts := rt.clientOptions()
	assert.Equal(t, "/tmp/kc", opts.Kubeconfig)
	assert.Equal(t, "staging", opts.Context)
}

func TestRootUnknownCommand(t *testing.T) {
	root := NewRootCommand(Config{OutputWriter: &bytes.Buffer{}})
	root.SetErr(&bytes.Buffer{})
	root.SetArgs([]string{"frobnicate"})
	require.Error(t, root.Execute())
}

func TestCompletionBash(t *testing.T) {
	buf := &bytes.Buffer{}
	root := NewRootCommand(Config{OutputWriter: buf})
	root.SetArgs([]string{"completion", "bash"})

	require.NoError(t, root.Execute())
	assert.Contains(t, buf.String(), "bash completion")
}

func TestCompletionUnsupportedShell(t *testing.T) {
	root := NewRootCommand(Config{OutputWriter: &bytes.Buffer{}})
	root.SetErr(&bytes.Buffer{})
	root.SetArgs([]string{"completion", "tcsh"})

	err := root.Execute()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unsupported shell")
}
