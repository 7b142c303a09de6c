// Package runtime implements the content-addressed runtime build system
// (spec §4.7): a Spec hashes to a stable runtime_hash over its
// deterministic fields only, a Builder turns a spec into a prepared Python
// virtualenv keyed by that hash, and a GC reclaims environments that have
// fallen idle.
package runtime

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"sort"
)

// PythonSpec pins the interpreter a runtime is built against.
type PythonSpec struct {
	Version   string `json:"version,omitempty"`
	Path      string `json:"path,omitempty"`
	UVManaged bool   `json:"uv_managed"`
}

// LockSource names how dependency versions are pinned.
type LockSource struct {
	SourceType     string   `json:"source_type"` // "hash" | "uri" | "inline" | "requirements"
	ContentHash    string   `json:"content_hash,omitempty"`
	URI            string   `json:"uri,omitempty"`
	InlineContent  string   `json:"inline_content,omitempty"`
	Requirements   []string `json:"requirements,omitempty"`
}

func LockFromRequirements(requirements []string) LockSource {
	return LockSource{SourceType: "requirements", Requirements: requirements}
}

func LockFromHash(contentHash string) LockSource {
	return LockSource{SourceType: "hash", ContentHash: contentHash}
}

func LockFromURI(uri string) LockSource {
	return LockSource{SourceType: "uri", URI: uri}
}

// sortedRequirements returns Requirements ordered for canonical hashing,
// without mutating the original slice.
func (l LockSource) sortedRequirements() []string {
	if len(l.Requirements) == 0 {
		return nil
	}
	out := make([]string, len(l.Requirements))
	copy(out, l.Requirements)
	sort.Strings(out)
	return out
}

// Spec is the full runtime specification. PythonSpec, LockSource,
// Constraints, and Extras are deterministic and participate in Hash();
// EnvVars, Secrets, and Metadata do not, so attaching a new environment
// variable to a spec never changes its runtime_hash or forces a rebuild.
type Spec struct {
	PythonSpec  PythonSpec     `json:"python_spec"`
	LockSource  LockSource     `json:"lock_source"`
	Constraints []string       `json:"constraints,omitempty"`
	Extras      []string       `json:"extras,omitempty"`

	EnvVars  map[string]string `json:"env_vars,omitempty"`
	Secrets  []string          `json:"secrets,omitempty"`
	Metadata map[string]any    `json:"metadata,omitempty"`
}

// Simple builds a minimal Spec from a Python version and a requirements
// list, for the common case.
func Simple(pythonVersion string, requirements []string) Spec {
	return Spec{
		PythonSpec: PythonSpec{Version: pythonVersion, UVManaged: true},
		LockSource: LockFromRequirements(requirements),
	}
}

// WithEnvVars returns a copy of s with env vars merged in. Since EnvVars is
// non-deterministic, this never changes Hash().
func (s Spec) WithEnvVars(envVars map[string]string) Spec {
	merged := make(map[string]string, len(s.EnvVars)+len(envVars))
	for k, v := range s.EnvVars {
		merged[k] = v
	}
	for k, v := range envVars {
		merged[k] = v
	}
	s.EnvVars = merged
	return s
}

// WithSecrets returns a copy of s with secret names merged in (de-duplicated).
func (s Spec) WithSecrets(secrets []string) Spec {
	set := make(map[string]struct{}, len(s.Secrets)+len(secrets))
	for _, v := range s.Secrets {
		set[v] = struct{}{}
	}
	for _, v := range secrets {
		set[v] = struct{}{}
	}
	merged := make([]string, 0, len(set))
	for v := range set {
		merged = append(merged, v)
	}
	sort.Strings(merged)
	s.Secrets = merged
	return s
}

// deterministicView holds the canonical, hash-relevant subset of a Spec. Map
// keys in Go's encoding/json are always emitted sorted, and explicitly
// sorting slice fields here mirrors the source's sort_requirements /
// sorted-tuple canonicalization so equal specs hash equal regardless of
// construction order.
type deterministicView struct {
	PythonSpec  PythonSpec `json:"python_spec"`
	LockSource  struct {
		SourceType    string   `json:"source_type"`
		ContentHash   string   `json:"content_hash,omitempty"`
		URI           string   `json:"uri,omitempty"`
		InlineContent string   `json:"inline_content,omitempty"`
		Requirements  []string `json:"requirements,omitempty"`
	} `json:"lock_source"`
	Constraints []string `json:"constraints"`
	Extras      []string `json:"extras"`
}

func (s Spec) deterministic() deterministicView {
	constraints := append([]string(nil), s.Constraints...)
	sort.Strings(constraints)
	extras := append([]string(nil), s.Extras...)
	sort.Strings(extras)

	view := deterministicView{
		PythonSpec:  s.PythonSpec,
		Constraints: constraints,
		Extras:      extras,
	}
	view.LockSource.SourceType = s.LockSource.SourceType
	view.LockSource.ContentHash = s.LockSource.ContentHash
	view.LockSource.URI = s.LockSource.URI
	view.LockSource.InlineContent = s.LockSource.InlineContent
	view.LockSource.Requirements = s.LockSource.sortedRequirements()
	return view
}

// Hash computes the runtime_hash: a SHA-256 digest of the canonical JSON
// encoding of the spec's deterministic fields. Two specs that differ only in
// EnvVars, Secrets, or Metadata hash identically.
func (s Spec) Hash() string {
	view := s.deterministic()
	b, err := json.Marshal(view)
	if err != nil {
		panic("runtime: spec is not JSON-serializable: " + err.Error())
	}
	sum := sha256.Sum256(b)
	return hex.EncodeToString(sum[:])
}

// Equal reports whether s and other have the same deterministic fields,
// i.e. whether they resolve to the same runtime_hash.
func (s Spec) Equal(other Spec) bool {
	return s.Hash() == other.Hash()
}
