package announce

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"sync"
)

// DefaultStateFile is the state file name used when none is configured.
const DefaultStateFile = "auto_messages_state.json"

// FileStore keeps announcement state in a JSON object
// {"<id>": {"last_sent": <unix seconds>, "counter": <n>}}.
type FileStore struct {
	Path string

	mu sync.Mutex
}

func (s *FileStore) path() string {
	if strings.TrimSpace(s.Path) == "" {
		return DefaultStateFile
	}
	return s.Path
}

// Load reads the state file. A missing file yields an empty map.
func (s *FileStore) Load(ctx context.Context) (map[string]State, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	data, err := os.ReadFile(s.path())
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return map[string]State{}, nil
		}
		return nil, fmt.Errorf("load announcement state: read file: %w", err)
	}
	states := map[string]State{}
	if len(strings.TrimSpace(string(data))) == 0 {
		return states, nil
	}
	if err := json.Unmarshal(data, &states); err != nil {
		return nil, fmt.Errorf("load announcement state: decode json: %w", err)
	}
	return states, nil
}

// Save replaces the state file atomically via a temp file and rename.
func (s *FileStore) Save(ctx context.Context, states map[string]State) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	path := s.path()
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("save announcement state: create dir: %w", err)
	}
	data, err := json.MarshalIndent(states, "", "  ")
	if err != nil {
		return fmt.Errorf("save announcement state: encode json: %w", err)
	}

	tmp, err := os.CreateTemp(dir, "."+filepath.Base(path)+".*.tmp")
	if err != nil {
		return fmt.Errorf("save announcement state: create temp: %w", err)
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmpName)
		return fmt.Errorf("save announcement state: write temp: %w", err)
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmpName)
		return fmt.Errorf("save announcement state: close temp: %w", err)
	}
	if err := os.Rename(tmpName, path); err != nil {
		_ = os.Remove(tmpName)
		return fmt.Errorf("save announcement state: rename: %w", err)
	}
	return nil
}
