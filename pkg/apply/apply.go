package apply

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/tqbf/patchkit/pkg/index"
	"github.com/tqbf/patchkit/pkg/migrate"
	"github.com/tqbf/patchkit/pkg/paths"
	"github.com/tqbf/patchkit/pkg/progress"
)

const (
	TaskVerify = "verify"
	TaskApply  = "apply"

	chunkSize = 32 << 10
)

var (
	ErrVerification = errors.New("verification failed")
	ErrMalformed    = errors.New("malformed patch")
)

// AssetSource hands out blob contents by hash. *bundle.Reader satisfies it.
type AssetSource interface {
	OpenAsset(hash string) (io.ReadCloser, error)
}

// assetIndex is implemented by sources that can answer presence without
// opening a blob. When available, every added file's blob is checked before
// the first mutation.
type assetIndex interface {
	HasAsset(hash string) bool
}

type Phase int

const (
	PhaseVerify Phase = iota
	PhaseApply
	PhaseDone
	PhaseFailed
)

func (p Phase) String() string {
	switch p {
	case PhaseVerify:
		return "verify"
	case PhaseApply:
		return "apply"
	case PhaseDone:
		return "done"
	case PhaseFailed:
		return "failed"
	default:
		return fmt.Sprintf("Phase(%d)", int(p))
	}
}

// MismatchError reports a file whose on-disk state differs from what the
// patch expects to delete.
type MismatchError struct {
	Path         string
	ExpectedHash string
	ExpectedSize int64
	ActualHash   string
	ActualSize   int64
	Missing      bool
}

func (e *MismatchError) Error() string {
	if e.Missing {
		return fmt.Sprintf("%s: file is missing", e.Path)
	}
	return fmt.Sprintf(
		"%s: expected %s (%d bytes), found %s (%d bytes)",
		e.Path,
		index.Short(e.ExpectedHash), e.ExpectedSize,
		index.Short(e.ActualHash), e.ActualSize,
	)
}

func (e *MismatchError) Unwrap() error {
	return ErrVerification
}

type options struct {
	skipVerify bool
	tracker    *progress.Tracker
	onPhase    func(Phase)
}

type Option func(*options)

// WithSkipVerify disables the pre-flight hash check of files the patch
// deletes.
func WithSkipVerify(skip bool) Option {
	return func(o *options) { o.skipVerify = skip }
}

func WithTracker(t *progress.Tracker) Option {
	return func(o *options) { o.tracker = t }
}

// WithPhaseHook is called on every phase transition.
func WithPhaseHook(fn func(Phase)) Option {
	return func(o *options) { o.onPhase = fn }
}

type applier struct {
	root  string
	src   AssetSource
	patch *migrate.Patch
	opts  options
	buf   []byte
}

// Apply brings the tree at root from the patch's source version to its target
// version. Every path and, where the source can tell, every added blob is
// checked before the first mutation. Unless verification is skipped, every
// file the patch deletes is hashed too. Errors after that point leave the
// tree partially patched.
func Apply(
	root string,
	src AssetSource,
	patch *migrate.Patch,
	opts ...Option,
) error {
	a := &applier{
		root:  root,
		src:   src,
		patch: patch,
		buf:   make([]byte, chunkSize),
	}
	for _, opt := range opts {
		opt(&a.opts)
	}

	slog.Info("applying patch",
		"name", patch.Name,
		"version", patch.Version,
		"version_id", versionID(patch.VersionID),
		"platform", patch.Platform,
		"ops", len(patch.Migrations),
	)

	if err := a.run(); err != nil {
		a.enter(PhaseFailed)
		return err
	}
	a.enter(PhaseDone)
	return nil
}

func (a *applier) run() error {
	a.enter(PhaseVerify)
	if err := a.checkPaths(); err != nil {
		a.opts.tracker.Fail(TaskVerify)
		return err
	}
	if err := a.checkAssets(); err != nil {
		a.opts.tracker.Fail(TaskVerify)
		return err
	}
	if a.opts.skipVerify {
		slog.Warn("skipping verification")
		a.opts.tracker.Done(TaskVerify)
	} else {
		if err := a.verify(); err != nil {
			a.opts.tracker.Fail(TaskVerify)
			return err
		}
	}

	a.enter(PhaseApply)
	a.opts.tracker.Start(TaskApply)
	total := len(a.patch.Migrations)
	for i, op := range a.patch.Migrations {
		slog.Debug("apply",
			"step", fmt.Sprintf("%d/%d", i+1, total),
			"op", op.String(),
		)
		if err := a.applyOp(op); err != nil {
			a.opts.tracker.Fail(TaskApply)
			return err
		}
		a.opts.tracker.Step(TaskApply, i+1, total)
	}
	a.opts.tracker.Done(TaskApply)
	return nil
}

func (a *applier) enter(p Phase) {
	if a.opts.onPhase != nil {
		a.opts.onPhase(p)
	}
}

func (a *applier) checkPaths() error {
	for i, op := range a.patch.Migrations {
		if _, err := paths.Resolve(a.root, op.Entry.Path); err != nil {
			return fmt.Errorf("%w: migration %d: %v", ErrMalformed, i, err)
		}
	}
	return nil
}

func (a *applier) checkAssets() error {
	idx, ok := a.src.(assetIndex)
	if !ok {
		return nil
	}
	for i, op := range a.patch.Migrations {
		if op.Kind != migrate.OpAdd || op.Entry.IsDir {
			continue
		}
		if !idx.HasAsset(op.Entry.Hash) {
			slog.Error("missing asset",
				"path", op.Entry.Path,
				"hash", index.Short(op.Entry.Hash),
			)
			return fmt.Errorf(
				"%w: migration %d: no asset %s for %s",
				ErrMalformed, i, op.Entry.Hash, op.Entry.Path,
			)
		}
	}
	return nil
}

func (a *applier) verify() error {
	a.opts.tracker.Start(TaskVerify)

	var deletes []index.Entry
	for _, op := range a.patch.Migrations {
		if op.Kind == migrate.OpDelete && !op.Entry.IsDir {
			deletes = append(deletes, op.Entry)
		}
	}

	for i, e := range deletes {
		full, _ := paths.Resolve(a.root, e.Path)
		hash, size, err := index.HashFile(full)
		switch {
		case errors.Is(err, os.ErrNotExist):
			slog.Error("verification failed", "path", e.Path, "missing", true)
			return &MismatchError{
				Path:         e.Path,
				ExpectedHash: e.Hash,
				ExpectedSize: e.Size,
				Missing:      true,
			}
		case err != nil:
			return fmt.Errorf("verify %s: %w", e.Path, err)
		case hash != e.Hash || size != e.Size:
			slog.Error("verification failed",
				"path", e.Path,
				"expected", index.Short(e.Hash),
				"actual", index.Short(hash),
			)
			return &MismatchError{
				Path:         e.Path,
				ExpectedHash: e.Hash,
				ExpectedSize: e.Size,
				ActualHash:   hash,
				ActualSize:   size,
			}
		}
		a.opts.tracker.Step(TaskVerify, i+1, len(deletes))
	}

	slog.Debug("verified", "files", len(deletes))
	a.opts.tracker.Done(TaskVerify)
	return nil
}

func (a *applier) applyOp(op migrate.Op) error {
	e := op.Entry
	full, err := paths.Resolve(a.root, e.Path)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrMalformed, err)
	}

	switch {
	case op.Kind == migrate.OpAdd && e.IsDir:
		if err := os.MkdirAll(full, 0755); err != nil {
			return fmt.Errorf("create dir %s: %w", e.Path, err)
		}
	case op.Kind == migrate.OpAdd:
		if err := a.writeFile(full, e); err != nil {
			return fmt.Errorf("write %s: %w", e.Path, err)
		}
	case e.IsDir:
		if err := os.Remove(full); err != nil {
			return fmt.Errorf("remove dir %s: %w", e.Path, err)
		}
	default:
		if err := os.Remove(full); err != nil {
			return fmt.Errorf("remove %s: %w", e.Path, err)
		}
	}
	return nil
}

func (a *applier) writeFile(full string, e index.Entry) error {
	src, err := a.src.OpenAsset(e.Hash)
	if err != nil {
		return err
	}
	defer src.Close()

	f, err := os.OpenFile(full, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0644)
	if err != nil {
		return err
	}
	if _, err := io.CopyBuffer(onlyWriter{f}, src, a.buf); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}

func versionID(id *uint64) any {
	if id == nil {
		return nil
	}
	return *id
}

// onlyWriter hides ReaderFrom so copies go through the fixed-size buffer.
type onlyWriter struct {
	io.Writer
}
