// Copyright 2026 Datadog, Inc.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//      http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package gitrepo is a thin wrapper over the git binary for the ancestry
// and diff queries the executor and the CLI need.
package gitrepo

import (
	"bytes"
	"context"
	"os/exec"
	"runtime"
	"strings"

	"go.chromium.org/luci/common/errors"
)

// Repo is a local git checkout.
type Repo struct {
	// Dir is the checkout directory.
	Dir string

	run runFunc
}

// New returns a Repo for the given checkout directory.
func New(dir string) *Repo {
	return &Repo{Dir: dir, run: runGit}
}

// IsAncestor reports whether ancestor is reachable by following parent links
// backward from commit.
func (r *Repo) IsAncestor(ctx context.Context, ancestor, commit string) (bool, error) {
	res, err := r.git(ctx, "merge-base", "--is-ancestor", ancestor, commit)
	if err != nil {
		return false, err
	}
	switch res.exitCode {
	case 0:
		return true, nil
	case 1:
		return false, nil
	default:
		return false, res.asError("merge-base")
	}
}

// ChangedFiles returns the paths changed between base and head, relative to
// the repository root. An empty head means HEAD.
func (r *Repo) ChangedFiles(ctx context.Context, base, head string) ([]string, error) {
	if head == "" {
		head = "HEAD"
	}
	res, err := r.git(ctx, "diff", "--name-only", base+"..."+head)
	if err != nil {
		return nil, err
	}
	if res.exitCode != 0 {
		return nil, res.asError("diff")
	}

	var files []string
	for _, line := range strings.Split(res.stdout, "\n") {
		if line != "" {
			files = append(files, line)
		}
	}
	return files, nil
}

// RevParse resolves a revision to a full commit sha.
func (r *Repo) RevParse(ctx context.Context, rev string) (string, error) {
	res, err := r.git(ctx, "rev-parse", rev)
	if err != nil {
		return "", err
	}
	if res.exitCode != 0 {
		return "", res.asError("rev-parse")
	}
	return res.stdout, nil
}

type gitResult struct {
	args     []string
	stdout   string
	stderr   string
	exitCode int
}

// asError converts an unexpected exit status into an error carrying stderr.
func (res *gitResult) asError(what string) error {
	return errors.Reason("git %s failed with exit code %d; output: %q", what, res.exitCode, res.stderr).Err()
}

type runFunc func(ctx context.Context, dir string, args ...string) (*gitResult, error)

func (r *Repo) git(ctx context.Context, args ...string) (*gitResult, error) {
	res, err := r.run(ctx, r.Dir, args...)
	if err != nil {
		return nil, errors.Annotate(err, "git %q", args).Err()
	}
	return res, nil
}

// runGit executes git in dir. A non-zero exit status is not an error here;
// callers interpret exit codes (merge-base uses 1 as a negative answer).
//
// Suitable only for commands that exit quickly and have small output.
func runGit(ctx context.Context, dir string, args ...string) (*gitResult, error) {
	exe := "git"
	if runtime.GOOS == "windows" {
		exe = "git.exe"
	}
	cmd := exec.CommandContext(ctx, exe, append([]string{"-C", dir}, args...)...)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		// An unstarted or killed process has no exit status to interpret.
		if _, isExit := err.(*exec.ExitError); !isExit {
			return nil, err
		}
	}
	return &gitResult{
		args:     args,
		stdout:   strings.TrimSuffix(stdout.String(), "\n"),
		stderr:   strings.TrimSpace(stderr.String()),
		exitCode: cmd.ProcessState.ExitCode(),
	}, nil
}
