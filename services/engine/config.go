package engine

// Config snapshot and run manifest

import (
	"crypto/sha256"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
)

type ConfigSnapshot struct {
	Environment string            `json:"environment"`
	Version     string            `json:"version"`
	ConfigHash  string            `json:"config_hash"`
	Timestamp   uint64            `json:"timestamp"`
	Values      map[string]string `json:"values"`
}

// SnapshotConfig hashes the effective flat parameters so two runs can be
// compared by hash alone. encoding/json sorts map keys, so the hash is stable.
func SnapshotConfig(env, version string, values map[string]string) *ConfigSnapshot {
	b, _ := json.Marshal(values)
	snap := &ConfigSnapshot{
		Environment: env,
		Version:     version,
		ConfigHash:  fmt.Sprintf("%x", sha256.Sum256(b)),
		Timestamp:   uint64(time.Now().UnixMilli()),
		Values:      make(map[string]string, len(values)),
	}
	for k, v := range values {
		snap.Values[k] = v
	}
	return snap
}

// RunManifest records what is needed to reproduce one symbol run.
type RunManifest struct {
	JobID          string          `json:"job_id"`
	Symbol         string          `json:"symbol"`
	ConfigSnapshot *ConfigSnapshot `json:"config_snapshot"`
	DataChecksum   string          `json:"data_checksum"`
	Bars           int             `json:"bars"`
	Gaps           int             `json:"gaps"`
	EngineVersion  string          `json:"engine_version"`
	CreatedAt      uint64          `json:"created_at"`
}

// DescribeValidation flattens validator errors into "Field: rule" text so a
// bad parameter is named in the message. Other errors pass through.
func DescribeValidation(err error) error {
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return err
	}
	parts := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		rule := fe.Tag()
		if fe.Param() != "" {
			rule += "=" + fe.Param()
		}
		field := fe.Namespace()
		if i := strings.Index(field, "."); i >= 0 {
			field = field[i+1:]
		}
		parts = append(parts, fmt.Sprintf("%s: %s", field, rule))
	}
	return fmt.Errorf("invalid config: %s", strings.Join(parts, "; "))
}
