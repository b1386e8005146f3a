package main

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/geo-analyzer/internal/config"
)

func TestRegisterSecrets(t *testing.T) {
	c := testConfig()
	c.Secrets = config.SecretsConfig{DeepSeekAPIKey: "sk-deep", DoubaoAPIKey: "sk-dou"}
	c.Quota = config.QuotaConfig{DefaultLimit: 1000, Limits: map[string]int{"doubao_api_key": 0}}

	reg := registerSecrets(c)

	assert.True(t, reg.Has("deepseek_api_key"))
	assert.True(t, reg.Has("doubao_api_key"))
	assert.False(t, reg.Has("anthropic_api_key"))

	deep, err := reg.Snapshot("deepseek_api_key")
	require.NoError(t, err)
	assert.Equal(t, 1000, deep.QuotaLimit)

	dou, err := reg.Snapshot("doubao_api_key")
	require.NoError(t, err)
	assert.Zero(t, dou.QuotaLimit)
}

func TestInitDiagnosis_OfflineWithoutCredentials(t *testing.T) {
	c := testConfig()
	c.Providers = []config.ProviderConfig{{
		Key: "deepseek", Label: "DeepSeek", Kind: "openai", Endpoint: "https://api.deepseek.com",
		Secret: "deepseek_api_key", Enabled: true,
	}}

	env, err := initDiagnosis(c, "diagnose")
	require.NoError(t, err)
	defer env.Close()

	assert.False(t, env.Live)
	assert.Equal(t, 10, env.Engine.Iterations())
}

func TestInitDiagnosis_LiveWithCredential(t *testing.T) {
	c := testConfig()
	c.Secrets = config.SecretsConfig{DeepSeekAPIKey: "sk-deep"}
	c.Providers = []config.ProviderConfig{{
		Key: "deepseek", Label: "DeepSeek", Kind: "openai", Endpoint: "https://api.deepseek.com",
		Secret: "deepseek_api_key", Enabled: true,
	}}

	env, err := initDiagnosis(c, "diagnose")
	require.NoError(t, err)
	defer env.Close()

	assert.True(t, env.Live)
}

func TestInitDiagnosis_InvalidConfig(t *testing.T) {
	c := testConfig()
	c.Orchestrator.Iterations = 0

	_, err := initDiagnosis(c, "diagnose")
	assert.Error(t, err)
}

func TestInitDiagnosis_MissingLexicon(t *testing.T) {
	c := testConfig()
	c.Lexicon.Path = "/nonexistent/lexicon.yaml"

	_, err := initDiagnosis(c, "diagnose")
	assert.Error(t, err)
}

func TestCommandsRegistered(t *testing.T) {
	names := make(map[string]bool)
	for _, c := range rootCmd.Commands() {
		names[c.Name()] = true
	}
	assert.True(t, names["diagnose"])
	assert.True(t, names["serve"])
}
