package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const validMappings = `{
	"stolostron": {
		"open-cluster-management-io": {
			"branchMappings": {"main": "main", "release-0.10": "release-2.8"},
			"prLabels": ["sync"]
		}
	}
}`

func TestLoadValid(t *testing.T) {
	dir := t.TempDir()
	keyPath := filepath.Join(dir, "auth.key")
	require.NoError(t, os.WriteFile(keyPath, []byte("fake pem"), 0o600))
	cfgPath := filepath.Join(dir, "config.json")
	require.NoError(t, os.WriteFile(cfgPath, []byte(`{
		"appID": 123,
		"privateKeyPath": "`+keyPath+`",
		"dbPath": "`+filepath.Join(dir, "magic-mirror.db")+`",
		"upstreamMappings": `+validMappings+`
	}`), 0o600))

	cfg, err := Load(cfgPath)
	require.NoError(t, err)

	assert.Equal(t, int64(123), cfg.AppID)
	assert.Equal(t, []byte("fake pem"), cfg.PrivateKey)
	assert.Equal(t, "info", cfg.LogLevel)
	assert.Equal(t, 30, cfg.SyncInterval)
	assert.Equal(t, ":8080", cfg.ListenAddr)
	assert.Equal(t, "magic-mirror[bot]", cfg.GitUserName)
	assert.Equal(t, "magic-mirror[bot]@users.noreply.github.com", cfg.GitUserEmail)

	mapping := cfg.UpstreamMappings["stolostron"]["open-cluster-management-io"]
	assert.Equal(t, "release-2.8", mapping.BranchMappings["release-0.10"])
	assert.Equal(t, []string{"sync"}, mapping.PRLabels)
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.json"))
	assert.Error(t, err)
}

func TestLoadInvalid(t *testing.T) {
	dir := t.TempDir()
	keyPath := filepath.Join(dir, "auth.key")
	require.NoError(t, os.WriteFile(keyPath, []byte("fake pem"), 0o600))

	cases := []struct {
		name    string
		body    string
		wantErr string
	}{
		{
			name:    "missing appID",
			body:    `{"privateKeyPath": "` + keyPath + `", "upstreamMappings": ` + validMappings + `}`,
			wantErr: `"appID"`,
		},
		{
			name:    "appID wrong type",
			body:    `{"appID": "123", "privateKeyPath": "` + keyPath + `", "upstreamMappings": ` + validMappings + `}`,
			wantErr: `"appID"`,
		},
		{
			name: "privateKeyPath does not exist",
			body: `{"appID": 1, "privateKeyPath": "` + filepath.Join(dir, "missing.key") + `",
				"upstreamMappings": ` + validMappings + `}`,
			wantErr: `"privateKeyPath"`,
		},
		{
			name: "syncInterval wrong type",
			body: `{"appID": 1, "privateKeyPath": "` + keyPath + `", "syncInterval": "30",
				"upstreamMappings": ` + validMappings + `}`,
			wantErr: `"syncInterval"`,
		},
		{
			name: "bad log level",
			body: `{"appID": 1, "privateKeyPath": "` + keyPath + `", "logLevel": "verbose",
				"upstreamMappings": ` + validMappings + `}`,
			wantErr: `"logLevel"`,
		},
		{
			name:    "no upstream mappings",
			body:    `{"appID": 1, "privateKeyPath": "` + keyPath + `"}`,
			wantErr: `"upstreamMappings"`,
		},
		{
			name: "empty upstream org map",
			body: `{"appID": 1, "privateKeyPath": "` + keyPath + `",
				"upstreamMappings": {"stolostron": {}}}`,
			wantErr: `"upstreamMappings.stolostron"`,
		},
		{
			name: "no branch mappings",
			body: `{"appID": 1, "privateKeyPath": "` + keyPath + `",
				"upstreamMappings": {"stolostron": {"upstream": {"branchMappings": {}}}}}`,
			wantErr: `"branchMappings"`,
		},
		{
			name: "empty fork branch",
			body: `{"appID": 1, "privateKeyPath": "` + keyPath + `",
				"upstreamMappings": {"stolostron": {"upstream": {"branchMappings": {"main": ""}}}}}`,
			wantErr: `branchMappings.main`,
		},
		{
			name: "two upstream branches share a fork branch",
			body: `{"appID": 1, "privateKeyPath": "` + keyPath + `",
				"upstreamMappings": {"stolostron": {"upstream":
					{"branchMappings": {"main": "main", "release-0.10": "main"}}}}}`,
			wantErr: `to the fork branch "main"`,
		},
		{
			name: "empty label",
			body: `{"appID": 1, "privateKeyPath": "` + keyPath + `",
				"upstreamMappings": {"stolostron": {"upstream":
					{"branchMappings": {"main": "main"}, "prLabels": [""]}}}}`,
			wantErr: `prLabels[0]`,
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			cfgPath := filepath.Join(dir, "config-"+tc.name+".json")
			require.NoError(t, os.WriteFile(cfgPath, []byte(tc.body), 0o600))

			_, err := Load(cfgPath)
			require.Error(t, err)
			assert.Contains(t, err.Error(), tc.wantErr)
		})
	}
}
