// Package dedupe collapses parsed artifacts that describe the same person.
//
// Artifacts are grouped by normalized email, then by normalized phone. Within a
// group the most recently modified file stays in place and the rest are moved
// into a quarantine subdirectory. Nothing is deleted, so a run can be undone by
// moving files back.
package dedupe

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/panjf2000/ants/v2"

	"github.com/joseph-ayodele/docqueue/constants"
	"github.com/joseph-ayodele/docqueue/internal/common"
)

// Report lists artifact paths left in place and paths moved to quarantine.
type Report struct {
	Kept    []string `json:"kept"`
	Removed []string `json:"removed"`
}

// Deduper scans an artifact directory.
type Deduper struct {
	logger  *slog.Logger
	workers int
	dryRun  bool
}

// Option configures a Deduper.
type Option func(*Deduper)

// WithLogger sets a custom logger.
func WithLogger(logger *slog.Logger) Option {
	return func(d *Deduper) {
		if logger != nil {
			d.logger = logger
		}
	}
}

// WithWorkers sets how many artifacts are read concurrently.
func WithWorkers(n int) Option {
	return func(d *Deduper) {
		if n > 0 {
			d.workers = n
		}
	}
}

// WithDryRun reports what would move without touching the filesystem.
func WithDryRun(dryRun bool) Option {
	return func(d *Deduper) { d.dryRun = dryRun }
}

func New(opts ...Option) *Deduper {
	d := &Deduper{
		logger:  slog.Default(),
		workers: 8,
	}
	for _, o := range opts {
		o(d)
	}
	return d
}

// Run dedupes dir with default options.
func Run(ctx context.Context, dir string, opts ...Option) (Report, error) {
	return New(opts...).Run(ctx, dir)
}

type artifactInfo struct {
	path    string
	modTime time.Time
	keys    identity
	readErr error
}

func (d *Deduper) Run(ctx context.Context, dir string) (Report, error) {
	report := Report{Kept: []string{}, Removed: []string{}}

	info, err := os.Stat(dir)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return report, common.NewAppError("NOT_FOUND", "artifact dir "+dir, common.ErrNotFound)
		}
		return report, fmt.Errorf("stat artifact dir: %w", err)
	}
	if !info.IsDir() {
		return report, common.NewAppError("INVALID_DIR", dir+" is not a directory", common.ErrInvalidInput)
	}

	entries, err := os.ReadDir(dir)
	if err != nil {
		return report, fmt.Errorf("list artifacts: %w", err)
	}
	var paths []string
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), constants.ArtifactSuffix) {
			continue
		}
		paths = append(paths, filepath.Join(dir, e.Name()))
	}
	sort.Strings(paths)

	artifacts, err := d.scan(ctx, paths)
	if err != nil {
		return report, err
	}

	moved := map[string]bool{}
	quarantine := filepath.Join(dir, constants.DuplicatesDirName)

	byEmail := group(artifacts, moved, func(id identity) string { return id.email })
	if err := d.collapse(ctx, "email", byEmail, quarantine, moved, &report); err != nil {
		return report, err
	}
	byPhone := group(artifacts, moved, func(id identity) string { return id.phone })
	if err := d.collapse(ctx, "phone", byPhone, quarantine, moved, &report); err != nil {
		return report, err
	}

	for _, a := range artifacts {
		if !moved[a.path] {
			report.Kept = append(report.Kept, a.path)
		}
	}
	d.logger.Info("dedupe complete", "dir", dir, "scanned", len(artifacts),
		"kept", len(report.Kept), "removed", len(report.Removed), "dry_run", d.dryRun)
	return report, nil
}

// scan stats and parses artifacts concurrently, preserving input order.
func (d *Deduper) scan(ctx context.Context, paths []string) ([]*artifactInfo, error) {
	out := make([]*artifactInfo, len(paths))
	if len(paths) == 0 {
		return out, nil
	}

	pool, err := ants.NewPool(d.workers)
	if err != nil {
		return nil, fmt.Errorf("create dedupe pool: %w", err)
	}
	defer pool.Release()

	var wg sync.WaitGroup
	for i, p := range paths {
		if err := ctx.Err(); err != nil {
			wg.Wait()
			return nil, err
		}
		i, p := i, p
		wg.Add(1)
		if err := pool.Submit(func() {
			defer wg.Done()
			out[i] = readArtifact(p)
		}); err != nil {
			wg.Done()
			out[i] = &artifactInfo{path: p, readErr: err}
		}
	}
	wg.Wait()

	// Only regular files take part.
	kept := out[:0]
	for _, a := range out {
		if a == nil {
			continue
		}
		if a.readErr != nil {
			if errors.Is(a.readErr, errNotRegular) {
				continue
			}
			d.logger.Warn("artifact unreadable, leaving in place", "path", a.path, "error", a.readErr)
		}
		kept = append(kept, a)
	}
	return kept, nil
}

var errNotRegular = errors.New("not a regular file")

func readArtifact(path string) *artifactInfo {
	a := &artifactInfo{path: path}
	st, err := os.Stat(path)
	if err != nil {
		a.readErr = err
		return a
	}
	if !st.Mode().IsRegular() {
		a.readErr = errNotRegular
		return a
	}
	a.modTime = st.ModTime()
	a.keys, a.readErr = identityFromFile(path)
	return a
}

// group buckets artifacts by key, skipping empty keys and already moved files.
// Keys are returned in sorted order for deterministic processing.
func group(artifacts []*artifactInfo, moved map[string]bool, key func(identity) string) []keyGroup {
	buckets := map[string][]*artifactInfo{}
	for _, a := range artifacts {
		if moved[a.path] {
			continue
		}
		if k := key(a.keys); k != "" {
			buckets[k] = append(buckets[k], a)
		}
	}
	out := make([]keyGroup, 0, len(buckets))
	for k, members := range buckets {
		out = append(out, keyGroup{key: k, members: members})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].key < out[j].key })
	return out
}

type keyGroup struct {
	key     string
	members []*artifactInfo
}

func (d *Deduper) collapse(ctx context.Context, kind string, groups []keyGroup, quarantine string, moved map[string]bool, report *Report) error {
	for _, g := range groups {
		if err := ctx.Err(); err != nil {
			return err
		}
		var members []*artifactInfo
		for _, m := range g.members {
			if !moved[m.path] {
				members = append(members, m)
			}
		}
		if len(members) < 2 {
			continue
		}

		// newest first; name breaks ties so reruns agree
		sort.Slice(members, func(i, j int) bool {
			if !members[i].modTime.Equal(members[j].modTime) {
				return members[i].modTime.After(members[j].modTime)
			}
			return members[i].path > members[j].path
		})
		keeper := members[0]

		for _, old := range members[1:] {
			dest, err := d.relocate(old.path, quarantine)
			if err != nil {
				d.logger.Warn("failed to move duplicate", "path", old.path, "error", err)
				continue
			}
			moved[old.path] = true
			report.Removed = append(report.Removed, old.path)
			d.logger.Info("moved duplicate", "path", old.path, "dest", dest, "key_kind", kind, "kept", keeper.path)
		}
	}
	return nil
}

// relocate moves path into quarantine without overwriting earlier duplicates.
func (d *Deduper) relocate(path, quarantine string) (string, error) {
	dest := filepath.Join(quarantine, filepath.Base(path))
	if d.dryRun {
		return dest, nil
	}
	if err := os.MkdirAll(quarantine, 0o755); err != nil {
		return "", fmt.Errorf("create quarantine dir: %w", err)
	}
	dest, err := freeName(dest)
	if err != nil {
		return "", err
	}
	if err := os.Rename(path, dest); err != nil {
		return "", fmt.Errorf("move duplicate: %w", err)
	}
	return dest, nil
}

// freeName returns dest, or "<stem>--dup<ext>", "<stem>--dup2<ext>", ... when taken.
func freeName(dest string) (string, error) {
	if _, err := os.Lstat(dest); errors.Is(err, fs.ErrNotExist) {
		return dest, nil
	}
	dir := filepath.Dir(dest)
	base := filepath.Base(dest)
	ext := filepath.Ext(base)
	stem := strings.TrimSuffix(base, ext)
	for n := 1; n < 10000; n++ {
		suffix := "--dup"
		if n > 1 {
			suffix = fmt.Sprintf("--dup%d", n)
		}
		candidate := filepath.Join(dir, stem+suffix+ext)
		if _, err := os.Lstat(candidate); errors.Is(err, fs.ErrNotExist) {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("no free quarantine name for %s", base)
}
