package schema

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/Veraticus/callscore/internal/common"
	"github.com/gofrs/flock"
	"github.com/google/uuid"
)

// Artifact file names inside a bundle directory.
const (
	ClassifierFile          = "classifier.json"
	LabelEncoderFile        = "label_encoder.json"
	FeatureNamesFile        = "feature_names.json"
	CategoricalEncodersFile = "categorical_encoders.json"
	ManifestFile            = "manifest.json"
)

var artifactFiles = []string{ClassifierFile, LabelEncoderFile, FeatureNamesFile, CategoricalEncodersFile}

// Bundle is a schema plus the serialized classifier trained against it.
type Bundle struct {
	Schema     *ModelSchema
	Classifier json.RawMessage
}

type manifest struct {
	CreatedAt time.Time `json:"created_at"`
	Version   string    `json:"version"`
	Artifacts []string  `json:"artifacts"`
}

type classifierArtifact struct {
	Model   json.RawMessage `json:"model"`
	Version string          `json:"version"`
}

type labelArtifact struct {
	LabelEncoder *LabelEncoder `json:"label_encoder"`
	Version      string        `json:"version"`
}

type featureNamesArtifact struct {
	Version      string   `json:"version"`
	FeatureNames []string `json:"feature_names"`
}

type encodersArtifact struct {
	Encoders map[string]*CategoricalEncoder `json:"categorical_encoders"`
	Version  string                         `json:"version"`
}

// Registry stores one bundle in a directory. Writers replace the directory
// atomically; readers never observe a half-written bundle.
type Registry struct {
	dir  string
	lock *flock.Flock
}

// NewRegistry creates a registry rooted at dir.
func NewRegistry(dir string) *Registry {
	clean := filepath.Clean(dir)
	lockPath := filepath.Join(filepath.Dir(clean), "."+filepath.Base(clean)+".lock")
	return &Registry{dir: clean, lock: flock.New(lockPath)}
}

// Dir returns the bundle directory.
func (r *Registry) Dir() string {
	return r.dir
}

// Exists reports whether a bundle manifest is present.
func (r *Registry) Exists() bool {
	_, err := os.Stat(filepath.Join(r.dir, ManifestFile))
	return err == nil
}

// Save writes b as a new bundle version and returns the version.
func (r *Registry) Save(b Bundle) (string, error) {
	if b.Schema == nil {
		return "", fmt.Errorf("%w: bundle has no schema", common.ErrIncompleteBundle)
	}
	if err := b.Schema.Validate(); err != nil {
		return "", err
	}
	if len(b.Classifier) == 0 {
		return "", fmt.Errorf("%w: bundle has no classifier", common.ErrIncompleteBundle)
	}

	version := b.Schema.Version
	if version == "" {
		version = uuid.NewString()
	}
	created := b.Schema.CreatedAt
	if created.IsZero() {
		created = time.Now().UTC()
	}

	parent := filepath.Dir(r.dir)
	if err := os.MkdirAll(parent, 0750); err != nil {
		return "", fmt.Errorf("failed to create model directory: %w", err)
	}

	if err := r.lock.Lock(); err != nil {
		return "", fmt.Errorf("failed to lock model directory: %w", err)
	}
	defer func() {
		if err := r.lock.Unlock(); err != nil {
			slog.Warn("failed to release model lock", "error", err)
		}
	}()

	staging, err := os.MkdirTemp(parent, "."+filepath.Base(r.dir)+".staging-")
	if err != nil {
		return "", fmt.Errorf("failed to create staging directory: %w", err)
	}
	defer func() { _ = os.RemoveAll(staging) }()

	artifacts := map[string]any{
		ClassifierFile:          classifierArtifact{Version: version, Model: b.Classifier},
		LabelEncoderFile:        labelArtifact{Version: version, LabelEncoder: b.Schema.LabelEncoder},
		FeatureNamesFile:        featureNamesArtifact{Version: version, FeatureNames: b.Schema.FeatureNames},
		CategoricalEncodersFile: encodersArtifact{Version: version, Encoders: nonNilEncoders(b.Schema.CategoricalEncoders)},
		ManifestFile:            manifest{Version: version, CreatedAt: created, Artifacts: artifactFiles},
	}
	for name, v := range artifacts {
		if err := writeArtifact(filepath.Join(staging, name), v); err != nil {
			return "", err
		}
	}

	var previous string
	if _, err := os.Stat(r.dir); err == nil {
		previous = r.dir + ".previous"
		_ = os.RemoveAll(previous)
		if err := os.Rename(r.dir, previous); err != nil {
			return "", fmt.Errorf("failed to move previous bundle aside: %w", err)
		}
	}
	if err := os.Rename(staging, r.dir); err != nil {
		if previous != "" {
			_ = os.Rename(previous, r.dir)
		}
		return "", fmt.Errorf("failed to install bundle: %w", err)
	}
	if previous != "" {
		if err := os.RemoveAll(previous); err != nil {
			slog.Warn("failed to remove previous bundle", "path", previous, "error", err)
		}
	}

	slog.Info("saved model bundle",
		"dir", r.dir,
		"version", version,
		"features", len(b.Schema.FeatureNames))
	return version, nil
}

// Load reads the bundle. Every artifact must be present and carry the
// manifest's version, otherwise ErrIncompleteBundle is returned.
func (r *Registry) Load() (Bundle, error) {
	if err := r.lock.RLock(); err != nil {
		return Bundle{}, fmt.Errorf("failed to lock model directory: %w", err)
	}
	defer func() { _ = r.lock.Unlock() }()

	var m manifest
	if err := readArtifact(filepath.Join(r.dir, ManifestFile), &m); err != nil {
		return Bundle{}, err
	}
	if m.Version == "" {
		return Bundle{}, fmt.Errorf("%w: manifest has no version", common.ErrIncompleteBundle)
	}

	var (
		cls   classifierArtifact
		label labelArtifact
		names featureNamesArtifact
		encs  encodersArtifact
	)
	parts := []struct {
		target  any
		version *string
		name    string
	}{
		{name: ClassifierFile, target: &cls, version: &cls.Version},
		{name: LabelEncoderFile, target: &label, version: &label.Version},
		{name: FeatureNamesFile, target: &names, version: &names.Version},
		{name: CategoricalEncodersFile, target: &encs, version: &encs.Version},
	}
	for _, p := range parts {
		if err := readArtifact(filepath.Join(r.dir, p.name), p.target); err != nil {
			return Bundle{}, err
		}
		if *p.version != m.Version {
			return Bundle{}, fmt.Errorf("%w: %s has version %q, manifest has %q",
				common.ErrIncompleteBundle, p.name, *p.version, m.Version)
		}
	}
	if len(cls.Model) == 0 || string(cls.Model) == "null" {
		return Bundle{}, fmt.Errorf("%w: %s has no model", common.ErrIncompleteBundle, ClassifierFile)
	}

	s := &ModelSchema{
		CreatedAt:           m.CreatedAt,
		CategoricalEncoders: nonNilEncoders(encs.Encoders),
		LabelEncoder:        label.LabelEncoder,
		Version:             m.Version,
		FeatureNames:        names.FeatureNames,
	}
	if err := s.Validate(); err != nil {
		return Bundle{}, err
	}
	return Bundle{Schema: s, Classifier: cls.Model}, nil
}

func nonNilEncoders(in map[string]*CategoricalEncoder) map[string]*CategoricalEncoder {
	if in == nil {
		return map[string]*CategoricalEncoder{}
	}
	return in
}

func writeArtifact(path string, v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode %s: %w", filepath.Base(path), err)
	}
	if err := os.WriteFile(path, data, 0600); err != nil {
		return fmt.Errorf("failed to write %s: %w", filepath.Base(path), err)
	}
	return nil
}

func readArtifact(path string, v any) error {
	data, err := os.ReadFile(path) //nolint:gosec // path is inside the configured model directory
	if errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("%w: %s is missing", common.ErrIncompleteBundle, filepath.Base(path))
	}
	if err != nil {
		return fmt.Errorf("failed to read %s: %w", filepath.Base(path), err)
	}
	if err := json.Unmarshal(data, v); err != nil {
		return fmt.Errorf("%w: %s: %v", common.ErrIncompleteBundle, filepath.Base(path), err)
	}
	return nil
}
