package recording

import (
	"bufio"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"cuelang.org/go/cue/cuecontext"
	"gopkg.in/yaml.v3"

	"github.com/roach88/driverbench/internal/driver"
)

// fixtureVersion is bumped when the on-disk layout changes.
const fixtureVersion = 1

const (
	manifestFile = "manifest.yaml"
	workloadFile = "workload.jsonl"
)

// manifestSchema constrains the fixture manifest. Loading validates the
// manifest against it before touching the workload file, so a stale or
// hand-edited fixture fails with a schema error instead of a confusing
// replay miss later.
const manifestSchema = `
{
	version:  1
	provider: "sqlite" | "postgres" | "d1"
	entries:  int & >=0
}
`

// Manifest describes a fixture directory.
type Manifest struct {
	Version  int    `yaml:"version" json:"version"`
	Provider string `yaml:"provider" json:"provider"`
	Entries  int    `yaml:"entries" json:"entries"`
}

// workloadEntry is one line of the workload file. Results are kept as JSON
// to preserve numeric fidelity across save/load.
type workloadEntry struct {
	Kind         string            `json:"kind"` // "query" | "execute"
	Key          Key               `json:"key"`
	Result       *driver.ResultSet `json:"result,omitempty"`
	RowsAffected *int64            `json:"rowsAffected,omitempty"`
}

// Save writes the recorded workload to dir: a YAML manifest plus one JSON
// line per recorded entry.
func (s *Store) Save(dir string) error {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("creating fixture dir: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	m := Manifest{
		Version:  fixtureVersion,
		Provider: string(s.provider),
		Entries:  len(s.queries) + len(s.execs),
	}
	mb, err := yaml.Marshal(m)
	if err != nil {
		return fmt.Errorf("marshaling manifest: %w", err)
	}
	if err := os.WriteFile(filepath.Join(dir, manifestFile), mb, 0o644); err != nil {
		return fmt.Errorf("writing manifest: %w", err)
	}

	f, err := os.Create(filepath.Join(dir, workloadFile))
	if err != nil {
		return fmt.Errorf("creating workload file: %w", err)
	}
	defer f.Close()

	w := bufio.NewWriter(f)
	for key, rs := range s.queries {
		if err := writeEntry(w, workloadEntry{Kind: "query", Key: key, Result: rs}); err != nil {
			return err
		}
	}
	for key, n := range s.execs {
		rows := n
		if err := writeEntry(w, workloadEntry{Kind: "execute", Key: key, RowsAffected: &rows}); err != nil {
			return err
		}
	}
	return w.Flush()
}

func writeEntry(w *bufio.Writer, e workloadEntry) error {
	b, err := json.Marshal(e)
	if err != nil {
		return fmt.Errorf("marshaling workload entry %q: %w", e.Key, err)
	}
	if _, err := w.Write(append(b, '\n')); err != nil {
		return fmt.Errorf("writing workload entry: %w", err)
	}
	return nil
}

// Load reads a fixture directory written by Save. The manifest is
// validated against the embedded CUE schema first; duplicate keys in the
// workload file fail exactly as they would during capture.
func Load(dir string) (*Store, error) {
	mb, err := os.ReadFile(filepath.Join(dir, manifestFile))
	if err != nil {
		return nil, fmt.Errorf("reading manifest: %w", err)
	}
	var m Manifest
	if err := yaml.Unmarshal(mb, &m); err != nil {
		return nil, fmt.Errorf("parsing manifest: %w", err)
	}
	if err := validateManifest(m); err != nil {
		return nil, err
	}

	s := NewStore(driver.Provider(m.Provider))

	f, err := os.Open(filepath.Join(dir, workloadFile))
	if err != nil {
		return nil, fmt.Errorf("opening workload file: %w", err)
	}
	defer f.Close()

	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 16*1024*1024)
	lineNo := 0
	for scanner.Scan() {
		lineNo++
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}
		var e workloadEntry
		if err := json.Unmarshal(line, &e); err != nil {
			return nil, fmt.Errorf("parsing workload line %d: %w", lineNo, err)
		}
		switch e.Kind {
		case "query":
			if e.Result == nil {
				return nil, fmt.Errorf("workload line %d: query entry missing result", lineNo)
			}
			if err := s.putQuery(e.Key, e.Result); err != nil {
				return nil, err
			}
		case "execute":
			if e.RowsAffected == nil {
				return nil, fmt.Errorf("workload line %d: execute entry missing rowsAffected", lineNo)
			}
			if err := s.putExec(e.Key, *e.RowsAffected); err != nil {
				return nil, err
			}
		default:
			return nil, fmt.Errorf("workload line %d: unknown kind %q", lineNo, e.Kind)
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("reading workload file: %w", err)
	}
	if got := s.Len(); got != m.Entries {
		return nil, fmt.Errorf("manifest declares %d entries, workload has %d", m.Entries, got)
	}
	return s, nil
}

// validateManifest unifies the manifest with the CUE schema and requires a
// fully concrete result.
func validateManifest(m Manifest) error {
	ctx := cuecontext.New()
	schema := ctx.CompileString(manifestSchema)
	if err := schema.Err(); err != nil {
		return fmt.Errorf("compiling manifest schema: %w", err)
	}
	value := ctx.Encode(m)
	if err := value.Err(); err != nil {
		return fmt.Errorf("encoding manifest: %w", err)
	}
	unified := schema.Unify(value)
	if err := unified.Validate(); err != nil {
		return fmt.Errorf("invalid fixture manifest: %w", err)
	}
	return nil
}
