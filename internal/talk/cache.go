package talk

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/dmeise/gotalk/internal/types"
)

// indexFile maps room token to the metadata snapshot of the last
// successful poll. It lives next to the per-room message logs.
const indexFile = "rooms.json"

func readMessageLog(path string) ([]types.Message, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	var messages []types.Message
	if err := json.Unmarshal(raw, &messages); err != nil {
		return nil, fmt.Errorf("parse message log %s: %w", path, err)
	}
	return messages, nil
}

func writeMessageLog(path string, messages []types.Message) error {
	raw, err := json.Marshal(messages)
	if err != nil {
		return fmt.Errorf("encode message log: %w", err)
	}
	if err := os.WriteFile(path, raw, 0o600); err != nil {
		return fmt.Errorf("write message log %s: %w", path, err)
	}
	return nil
}

func readIndex(dataDir string) (map[string]types.Room, error) {
	raw, err := os.ReadFile(filepath.Join(dataDir, indexFile))
	if err != nil {
		return nil, err
	}

	var index map[string]types.Room
	if err := json.Unmarshal(raw, &index); err != nil {
		return nil, fmt.Errorf("parse room index: %w", err)
	}
	return index, nil
}

func writeIndex(dataDir string, index map[string]types.Room) error {
	raw, err := json.Marshal(index)
	if err != nil {
		return fmt.Errorf("encode room index: %w", err)
	}
	path := filepath.Join(dataDir, indexFile)
	if err := os.WriteFile(path, raw, 0o600); err != nil {
		return fmt.Errorf("write room index %s: %w", path, err)
	}
	return nil
}
