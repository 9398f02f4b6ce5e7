// Package tidy reformats HTML field content through the html5-tidy
// executable, in batches, so note files carry stable formatting across
// round trips.
package tidy

import (
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"sort"
	"strings"

	"github.com/conorfennell/decksync/internal/apperr"
	"github.com/conorfennell/decksync/internal/decktree"
	"github.com/conorfennell/decksync/internal/domain"
	"github.com/conorfennell/decksync/internal/parser"
)

const batchSize = 300

var tidyArgs = []string{
	"-q", "-m", "-i", "-omit", "-utf8",
	"--tidy-mark", "no",
	"--show-body-only", "yes",
	"--wrap", "68",
	"--wrap-attributes", "yes",
}

// Fields runs every HTML-bearing field of the given notes through tidy and
// returns the reformatted text keyed by field-note id. Fields without
// markup are left out of the result. A missing tidy executable is a fatal
// tooling error.
func Fields(notes map[int64]domain.ColNote) (map[string]string, error) {
	dir, err := os.MkdirTemp("", "decksync-tidy-")
	if err != nil {
		return nil, fmt.Errorf("failed to stage tidy batch: %w", err)
	}
	defer os.RemoveAll(dir)

	nids := make([]int64, 0, len(notes))
	for nid := range notes {
		nids = append(nids, nid)
	}
	sort.Slice(nids, func(i, j int) bool { return nids[i] < nids[j] })

	var paths []string
	ids := map[string]string{}
	for _, nid := range nids {
		for _, f := range notes[nid].Fields {
			if !parser.HasHTML(f.Text) {
				continue
			}
			id := decktree.FieldNoteID(nid, f.Name)
			path := filepath.Join(dir, id+".html")
			if err := os.WriteFile(path, []byte(f.Text), 0o644); err != nil {
				return nil, fmt.Errorf("failed to stage field for tidy: %w", err)
			}
			paths = append(paths, path)
			ids[path] = id
		}
	}

	for start := 0; start < len(paths); start += batchSize {
		end := start + batchSize
		if end > len(paths) {
			end = len(paths)
		}
		if err := run(paths[start:end]); err != nil {
			return nil, err
		}
	}

	tidied := make(map[string]string, len(paths))
	for _, path := range paths {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read tidied field: %w", err)
		}
		tidied[ids[path]] = strings.TrimSuffix(string(data), "\n")
	}
	return tidied, nil
}

func run(paths []string) error {
	cmd := exec.Command("tidy", append(append([]string{}, tidyArgs...), paths...)...)
	out, err := cmd.CombinedOutput()
	if err != nil {
		if errors.Is(err, exec.ErrNotFound) {
			return &apperr.MissingToolError{Tool: "tidy", Err: err}
		}
		// Exit status 1 only signals warnings; the files were rewritten.
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) && exitErr.ExitCode() == 1 {
			return nil
		}
		return fmt.Errorf("tidy: %w: %s", err, strings.TrimSpace(string(out)))
	}
	return nil
}
