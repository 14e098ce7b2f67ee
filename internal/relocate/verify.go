package relocate

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
)

// Problem kinds reported by Verify.
const (
	ProblemMissing   = "missing"
	ProblemMisplaced = "misplaced"
	ProblemCorrupt   = "corrupt"
)

// FileHasher recomputes the content hash of a stored file.
type FileHasher interface {
	HashFile(path string) (string, error)
}

// VerifyOptions tunes a consistency scan.
type VerifyOptions struct {
	// Deep re-hashes every file and compares it with the stored content hash.
	Deep bool
}

// Problem is one media row whose file does not match the index.
type Problem struct {
	MediaID  int64  `json:"media_id"`
	PostID   string `json:"post_id"`
	Path     string `json:"path"`
	Expected string `json:"expected_dir"`
	Kind     string `json:"kind"`
}

// VerifyReport summarizes a consistency scan.
type VerifyReport struct {
	Checked  int       `json:"checked"`
	Problems []Problem `json:"problems"`
}

const verifyPageSize = 500

// Verify scans every media row and reports files that are gone or sit in a
// directory other than the one their rating implies. It never writes.
func (e *Engine) Verify(ctx context.Context, opts VerifyOptions) (VerifyReport, error) {
	if e.media == nil {
		return VerifyReport{}, errors.New("verify: no media lister configured")
	}
	if opts.Deep && e.hasher == nil {
		return VerifyReport{}, errors.New("verify: deep scan needs a file hasher")
	}
	var (
		report VerifyReport
		after  int64
	)
	for {
		if err := ctx.Err(); err != nil {
			return report, fmt.Errorf("verify: %w", err)
		}
		page, err := e.media.ListMedia(ctx, after, verifyPageSize)
		if err != nil {
			return report, fmt.Errorf("verify: %w", err)
		}
		if len(page) == 0 {
			break
		}
		for _, m := range page {
			report.Checked++
			after = m.ID
			expected := e.files.Dir(m.Rating)
			problem := Problem{MediaID: m.ID, PostID: m.PostID, Path: m.LocalPath, Expected: expected}
			if _, err := os.Stat(m.LocalPath); errors.Is(err, fs.ErrNotExist) {
				problem.Kind = ProblemMissing
			} else if filepath.Clean(filepath.Dir(m.LocalPath)) != filepath.Clean(expected) {
				problem.Kind = ProblemMisplaced
			} else if opts.Deep && !e.intact(m.LocalPath, m.DataHash) {
				problem.Kind = ProblemCorrupt
			} else {
				continue
			}
			report.Problems = append(report.Problems, problem)
		}
	}
	return report, nil
}

func (e *Engine) intact(path, want string) bool {
	got, err := e.hasher.HashFile(path)
	return err == nil && got == want
}
