package main

import (
	"bufio"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/DavinciDreams/Megawatts-sub008/internal/types"
)

// openInput opens path, or stdin for "-".
func openInput(path string) (io.ReadCloser, error) {
	if path == "-" {
		return io.NopCloser(os.Stdin), nil
	}
	return os.Open(path)
}

// decodeInteractions reads one JSON interaction per line. Blank lines are
// skipped; a malformed line fails with its line number.
func decodeInteractions(r io.Reader) ([]types.Interaction, error) {
	var out []types.Interaction
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)
	line := 0
	for sc.Scan() {
		line++
		text := strings.TrimSpace(sc.Text())
		if text == "" {
			continue
		}
		var i types.Interaction
		if err := json.Unmarshal([]byte(text), &i); err != nil {
			return nil, fmt.Errorf("line %d: %w", line, err)
		}
		out = append(out, i)
	}
	return out, sc.Err()
}

func readInteractions(path string) ([]types.Interaction, error) {
	f, err := openInput(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return decodeInteractions(f)
}

// readSignals reads a JSON array of integration metric snapshots. An empty
// path yields none.
func readSignals(path string) ([]types.IntegrationMetrics, error) {
	if path == "" {
		return nil, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var out []types.IntegrationMetrics
	if err := json.Unmarshal(data, &out); err != nil {
		return nil, fmt.Errorf("failed to parse metrics %s: %w", path, err)
	}
	return out, nil
}

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
