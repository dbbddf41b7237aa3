package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
)

// Default probe locations, checked in order.
var (
	configProbePaths     = []string{"config.json", "/etc/magic-mirror/config.json"}
	privateKeyProbePaths = []string{"auth.key", "/etc/magic-mirror/auth.key"}
	dbProbePaths         = []string{"magic-mirror.db", "/etc/magic-mirror/magic-mirror.db"}
)

// UpstreamMapping describes how one upstream org's branches map onto a fork.
type UpstreamMapping struct {
	// BranchMappings maps upstream branch -> fork branch.
	BranchMappings map[string]string `json:"branchMappings"`
	// PRLabels are applied to every sync PR opened for this mapping.
	PRLabels []string `json:"prLabels,omitempty"`
}

// Config is the validated runtime configuration.
type Config struct {
	AppID          int64  `json:"appID"`
	PrivateKeyPath string `json:"privateKeyPath,omitempty"`
	DBPath         string `json:"dbPath,omitempty"`
	LogLevel       string `json:"logLevel,omitempty"`
	SyncInterval   int    `json:"syncInterval,omitempty"`
	WebhookSecret  string `json:"webhookSecret,omitempty"`
	ListenAddr     string `json:"listenAddr,omitempty"`

	// Git actor used for cherry-pick commits.
	GitUserName  string `json:"gitUserName,omitempty"`
	GitUserEmail string `json:"gitUserEmail,omitempty"`

	// Optional SQS ingest (serve --sqs).
	AWSRegion   string `json:"awsRegion,omitempty"`
	SQSQueueURL string `json:"sqsQueueURL,omitempty"`

	// UpstreamMappings maps fork org -> upstream org -> mapping.
	UpstreamMappings map[string]map[string]UpstreamMapping `json:"upstreamMappings"`

	// PrivateKey holds the PEM contents after Load resolves PrivateKeyPath.
	PrivateKey []byte `json:"-"`
}

// Load reads the configuration file at path, or probes the default
// locations when path is empty. The result is validated and the signing
// key is read into PrivateKey.
func Load(path string) (*Config, error) {
	if path == "" {
		p, err := probe(configProbePaths)
		if err != nil {
			return nil, fmt.Errorf("no configuration file found at %v", configProbePaths)
		}
		path = p
	}

	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config %s: %w", path, err)
	}

	// Decode into a raw map as well, so validation can distinguish
	// "absent" from "wrong type" and name the offending path.
	var m map[string]json.RawMessage
	if err := json.Unmarshal(raw, &m); err != nil {
		return nil, fmt.Errorf("parse config %s: %w", path, err)
	}

	cfg := &Config{
		LogLevel:     "info",
		SyncInterval: 30,
		ListenAddr:   ":8080",
		GitUserName:  "magic-mirror[bot]",
		GitUserEmail: "magic-mirror[bot]@users.noreply.github.com",
	}
	if err := json.Unmarshal(raw, cfg); err != nil {
		return nil, fmt.Errorf("parse config %s: %w", path, err)
	}

	if err := cfg.Validate(m); err != nil {
		return nil, err
	}

	if cfg.PrivateKeyPath == "" {
		p, err := probe(privateKeyProbePaths)
		if err != nil {
			return nil, fmt.Errorf("no private key found at %v; set privateKeyPath", privateKeyProbePaths)
		}
		cfg.PrivateKeyPath = p
	}
	cfg.PrivateKey, err = os.ReadFile(cfg.PrivateKeyPath)
	if err != nil {
		return nil, fmt.Errorf("read private key %s: %w", cfg.PrivateKeyPath, err)
	}

	if cfg.DBPath == "" {
		if p, perr := probe(dbProbePaths); perr == nil {
			cfg.DBPath = p
		} else if _, serr := os.Stat("/etc/magic-mirror"); serr == nil {
			cfg.DBPath = "/etc/magic-mirror/magic-mirror.db"
		} else {
			cfg.DBPath = "magic-mirror.db"
		}
	}

	return cfg, nil
}

// Validate checks the decoded configuration against the raw document.
// Error messages name the offending JSON path.
func (c *Config) Validate(raw map[string]json.RawMessage) error {
	if c.AppID == 0 {
		return errors.New(`the configuration's "appID" must be a non-zero integer`)
	}
	if r, ok := raw["privateKeyPath"]; ok {
		if !isJSONString(r) {
			return errors.New(`the configuration's "privateKeyPath" must be a string`)
		}
		if _, err := os.Stat(c.PrivateKeyPath); err != nil {
			return fmt.Errorf(`the configuration's "privateKeyPath" (%s) does not exist`, c.PrivateKeyPath)
		}
	}
	if r, ok := raw["syncInterval"]; ok && !isJSONNumber(r) {
		return errors.New(`the configuration's "syncInterval" must be an integer (seconds)`)
	}
	if r, ok := raw["logLevel"]; ok && !isJSONString(r) {
		return errors.New(`the configuration's "logLevel" must be a string`)
	}
	switch c.LogLevel {
	case "debug", "info", "error":
	default:
		return fmt.Errorf(`the configuration's "logLevel" must be one of debug, info, error; got %q`, c.LogLevel)
	}
	if r, ok := raw["webhookSecret"]; ok && !isJSONString(r) {
		return errors.New(`the configuration's "webhookSecret" must be a string`)
	}

	if len(c.UpstreamMappings) == 0 {
		return errors.New(`the configuration's "upstreamMappings" must be set`)
	}
	for forkOrg, upstreams := range c.UpstreamMappings {
		if len(upstreams) == 0 {
			return fmt.Errorf(`the configuration's "upstreamMappings.%s" must map at least one upstream org`, forkOrg)
		}
		for upstreamOrg, mapping := range upstreams {
			prefix := fmt.Sprintf("upstreamMappings.%s.%s", forkOrg, upstreamOrg)
			if len(mapping.BranchMappings) == 0 {
				return fmt.Errorf(`the configuration's "%s" must set "branchMappings"`, prefix)
			}
			seen := map[string]string{}
			for upstreamBranch, forkBranch := range mapping.BranchMappings {
				if forkBranch == "" {
					return fmt.Errorf(
						`the configuration's "%s.branchMappings.%s" must be a non-empty string`,
						prefix, upstreamBranch,
					)
				}
				if other, dup := seen[forkBranch]; dup {
					return fmt.Errorf(
						`the configuration's "%s.branchMappings" maps both %q and %q to the fork branch %q`,
						prefix, other, upstreamBranch, forkBranch,
					)
				}
				seen[forkBranch] = upstreamBranch
			}
			for i, label := range mapping.PRLabels {
				if label == "" {
					return fmt.Errorf(`the configuration's "%s.prLabels[%d]" must be a non-empty string`, prefix, i)
				}
			}
		}
	}
	return nil
}

func probe(paths []string) (string, error) {
	for _, p := range paths {
		if _, err := os.Stat(p); err == nil {
			return filepath.Clean(p), nil
		}
	}
	return "", os.ErrNotExist
}

func isJSONString(r json.RawMessage) bool {
	var s string
	return json.Unmarshal(r, &s) == nil
}

func isJSONNumber(r json.RawMessage) bool {
	var n float64
	return json.Unmarshal(r, &n) == nil
}
