// Package media reconciles attachment files between a note-file tree and a
// collection's media store.
package media

import (
	"bytes"
	"fmt"
	"os"
	"path"
	"path/filepath"
	"regexp"
	"sort"
	"strings"

	"github.com/bmatcuk/doublestar/v4"

	"github.com/conorfennell/decksync/internal/anki"
	"github.com/conorfennell/decksync/internal/apperr"
	"github.com/conorfennell/decksync/internal/domain"
	"github.com/conorfennell/decksync/internal/kirepo"
)

var (
	imgSrcRE = regexp.MustCompile(`(?i)<(?:img|audio|object|source)[^>]+(?:src|data)=["']?([^"'> ]+)["']?`)
	soundRE  = regexp.MustCompile(`\[sound:([^\]]+)\]`)
	urlRE    = regexp.MustCompile(`(?i)^(https?|ftp)://`)
)

// Filenames extracts the local attachment filenames referenced by a field.
// Remote URLs and paths outside the store root are left alone.
func Filenames(fieldText string) []string {
	var names []string
	for _, re := range []*regexp.Regexp{imgSrcRE, soundRE} {
		for _, m := range re.FindAllStringSubmatch(fieldText, -1) {
			name := strings.TrimSpace(m[1])
			if name == "" || urlRE.MatchString(name) {
				continue
			}
			if name == filepath.Base(name) {
				names = append(names, name)
			}
		}
	}
	return names
}

// NotetypeReferences reports whether a notetype's styling or templates
// reference the given attachment name.
func NotetypeReferences(nt domain.Notetype, name string) bool {
	if strings.Contains(nt.CSS, name) {
		return true
	}
	for _, tmpl := range nt.Tmpls {
		if strings.Contains(tmpl.QFmt, name) || strings.Contains(tmpl.AFmt, name) {
			return true
		}
	}
	return false
}

// TemplateFilenames returns the names of shared attachment files under the
// tree's media directories that any of the given notetypes reference from a
// template or its styling. Shared files carry a leading underscore.
func TemplateFilenames(nts []domain.Notetype, treeRoot string) ([]string, error) {
	matches, err := doublestar.Glob(os.DirFS(treeRoot), "**/"+kirepo.MediaDir+"/_*")
	if err != nil {
		return nil, fmt.Errorf("failed to enumerate media files: %w", err)
	}
	seen := map[string]bool{}
	var names []string
	for _, match := range matches {
		base := path.Base(match)
		if seen[base] {
			continue
		}
		seen[base] = true
		for _, nt := range nts {
			if NotetypeReferences(nt, base) {
				names = append(names, base)
				break
			}
		}
	}
	sort.Strings(names)
	return names, nil
}

// Sync copies attachment files found under the tree's media directories into
// the collection's store. Files whose stored bytes already match are
// skipped. When only names is non-nil, attachments outside the set are
// ignored. The store may rename an added file on content collision, which
// surfaces as a warning. Returns the number of files written.
func Sync(col *anki.Collection, treeRoot string, names map[string]bool, warnings *apperr.Warnings) (int, error) {
	matches, err := doublestar.Glob(os.DirFS(treeRoot), "**/"+kirepo.MediaDir+"/*")
	if err != nil {
		return 0, fmt.Errorf("failed to enumerate media files: %w", err)
	}

	written := 0
	seen := map[string]bool{}
	for _, m := range matches {
		name := path.Base(m)
		if seen[name] || (names != nil && !names[name]) {
			continue
		}
		seen[name] = true

		abs, err := resolve(filepath.Join(treeRoot, filepath.FromSlash(m)))
		if err != nil || abs == "" {
			// Dangling chain entries are ignored; the real file is reached
			// through another match.
			continue
		}
		data, err := os.ReadFile(abs)
		if err != nil {
			return written, fmt.Errorf("failed to read media file %q: %w", abs, err)
		}
		stored, err := col.MediaData(name)
		if err != nil {
			return written, err
		}
		if stored != nil && bytes.Equal(stored, data) {
			continue
		}

		storedName, err := col.AddMediaFile(abs)
		if err != nil {
			return written, err
		}
		written++
		if storedName != name {
			warnings.Add(apperr.RenamedMediaFile{Name: name, NewName: storedName})
		}
	}
	return written, nil
}

const maxLinkDepth = 40

// resolve follows symlinks and link placeholder files down to a regular
// file, returning "" when the chain dangles.
func resolve(abs string) (string, error) {
	for depth := 0; depth < maxLinkDepth; depth++ {
		info, err := os.Lstat(abs)
		if os.IsNotExist(err) {
			return "", nil
		}
		if err != nil {
			return "", fmt.Errorf("failed to stat media file %q: %w", abs, err)
		}
		if info.Mode()&os.ModeSymlink != 0 {
			resolved, err := filepath.EvalSymlinks(abs)
			if err != nil {
				return "", nil
			}
			abs = resolved
			continue
		}
		if !info.Mode().IsRegular() {
			return "", nil
		}
		if next, ok := placeholderTarget(abs, info.Size()); ok {
			abs = next
			continue
		}
		return abs, nil
	}
	return "", nil
}

// placeholderTarget detects a link placeholder: a short single-line file
// whose content is a relative path ending in the same base name and
// resolving to an existing file.
func placeholderTarget(abs string, size int64) (string, bool) {
	if size == 0 || size > 4096 {
		return "", false
	}
	data, err := os.ReadFile(abs)
	if err != nil {
		return "", false
	}
	content := strings.TrimSpace(string(data))
	if content == "" || strings.ContainsAny(content, "\n\x00") {
		return "", false
	}
	if path.Base(content) != filepath.Base(abs) {
		return "", false
	}
	target := filepath.Join(filepath.Dir(abs), filepath.FromSlash(content))
	if info, err := os.Stat(target); err != nil || info.IsDir() {
		return "", false
	}
	return target, true
}
