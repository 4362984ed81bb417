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

package election

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestConfig_DefaultsFillUnsetFields(t *testing.T) {
	cfg := Config{Name: "rollout-controller", Namespace: "conductor-system"}
	cfg.Defaults()

	assert.NotEmpty(t, cfg.Identity, "an identity is generated when none is given")
	assert.Contains(t, cfg.Identity, "_", "generated identities are hostname_uuid")
	assert.Equal(t, DefaultLeaseDuration, cfg.LeaseDuration)
	assert.Equal(t, DefaultRenewDeadline, cfg.RenewDeadline)
	assert.Equal(t, DefaultRetryPeriod, cfg.RetryPeriod)
	assert.Equal(t, DefaultJitterFraction, cfg.JitterFraction)
	assert.Equal(t, 10*time.Second, cfg.CallTimeout)

	require.NoError(t, cfg.Validate())
}

func TestConfig_DefaultsKeepExplicitValues(t *testing.T) {
	cfg := Config{
		Name:          "rollout-controller",
		Namespace:     "conductor-system",
		Identity:      "node-a",
		LeaseDuration: 30 * time.Second,
		RenewDeadline: 20 * time.Second,
		RetryPeriod:   5 * time.Second,
		CallTimeout:   3 * time.Second,
	}
	cfg.Defaults()

	assert.Equal(t, "node-a", cfg.Identity)
	assert.Equal(t, 30*time.Second, cfg.LeaseDuration)
	assert.Equal(t, 20*time.Second, cfg.RenewDeadline)
	assert.Equal(t, 5*time.Second, cfg.RetryPeriod)
	assert.Equal(t, 3*time.Second, cfg.CallTimeout)
}

func TestConfig_Validate(t *testing.T) {
	valid := Config{
		Name:           "rollout-controller",
		Namespace:      "conductor-system",
		Identity:       "node-a",
		LeaseDuration:  15 * time.Second,
		RenewDeadline:  10 * time.Second,
		RetryPeriod:    2 * time.Second,
		CallTimeout:    10 * time.Second,
		JitterFraction: 1.2,
	}
	require.NoError(t, valid.Validate())

	tests := []struct {
		name    string
		mutate  func(c *Config)
		wantMsg string
	}{
		{
			name:    "missing name",
			mutate:  func(c *Config) { c.Name = "" },
			wantMsg: "lease name must be set",
		},
		{
			name:    "missing namespace",
			mutate:  func(c *Config) { c.Namespace = "" },
			wantMsg: "lease namespace must be set",
		},
		{
			name:    "missing identity",
			mutate:  func(c *Config) { c.Identity = "" },
			wantMsg: "holder identity must be set",
		},
		{
			name:    "renew deadline not shorter than lease duration",
			mutate:  func(c *Config) { c.RenewDeadline = c.LeaseDuration },
			wantMsg: "must be shorter than leaseDuration",
		},
		{
			name:    "retry period not shorter than renew deadline",
			mutate:  func(c *Config) { c.RetryPeriod = c.RenewDeadline },
			wantMsg: "must be shorter than renewDeadline",
		},
		{
			name:    "negative retry period",
			mutate:  func(c *Config) { c.RetryPeriod = -time.Second },
			wantMsg: "retryPeriod must be positive",
		},
		{
			name:    "negative jitter",
			mutate:  func(c *Config) { c.JitterFraction = -0.5 },
			wantMsg: "jitterFraction must not be negative",
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			cfg := valid
			tc.mutate(&cfg)
			err := cfg.Validate()
			require.Error(t, err)
			assert.Contains(t, err.Error(), tc.wantMsg)
		})
	}
}

func TestConfig_ValidateCollectsAllProblems(t *testing.T) {
	err := Config{}.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "lease name must be set")
	assert.Contains(t, err.Error(), "holder identity must be set")
	assert.Contains(t, err.Error(), "retryPeriod must be positive")
}
