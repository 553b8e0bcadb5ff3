// Package gitsrc fetches pipeline code bundles from git repositories.
package gitsrc

import (
	"context"
	"fmt"
	"os"
	"strings"

	git "github.com/go-git/go-git/v5"
	"github.com/go-git/go-git/v5/plumbing"
	"github.com/go-git/go-git/v5/plumbing/transport"
	gitssh "github.com/go-git/go-git/v5/plumbing/transport/ssh"
)

// DefaultSSHKeyEnvVar holds the private key used for SSH clone URLs.
const DefaultSSHKeyEnvVar = "FLUME_GIT_SSH_KEY"

// Source describes a fetched code bundle.
type Source struct {
	Dir        string
	URL        string
	Ref        string
	CommitHash string
}

// Fetcher clones pipeline repositories.
type Fetcher struct {
	sshKeyEnvVar string
}

// NewFetcher returns a Fetcher reading SSH keys from sshKeyEnvVar,
// falling back to DefaultSSHKeyEnvVar when empty.
func NewFetcher(sshKeyEnvVar string) *Fetcher {
	if sshKeyEnvVar == "" {
		sshKeyEnvVar = DefaultSSHKeyEnvVar
	}
	return &Fetcher{sshKeyEnvVar: sshKeyEnvVar}
}

// Clone fetches the repository at url into dir, checked out at ref. It
// is a shallow single-branch clone; pipeline runs never need history.
func (f *Fetcher) Clone(ctx context.Context, url, ref, dir string) (*Source, error) {
	opts := &git.CloneOptions{
		URL:          url,
		Depth:        1,
		SingleBranch: true,
	}
	if ref != "" {
		opts.ReferenceName = plumbing.NewBranchReferenceName(ref)
	}

	if IsSSHURL(url) {
		auth, err := f.sshAuth()
		if err != nil {
			return nil, err
		}
		opts.Auth = auth
	}

	repo, err := git.PlainCloneContext(ctx, dir, false, opts)
	if err != nil {
		return nil, fmt.Errorf("clone %s at ref %q: %w", url, ref, err)
	}

	head, err := repo.Head()
	if err != nil {
		return nil, fmt.Errorf("read HEAD of cloned repository: %w", err)
	}

	return &Source{
		Dir:        dir,
		URL:        url,
		Ref:        ref,
		CommitHash: head.Hash().String(),
	}, nil
}

// IsSSHURL reports whether a clone URL needs SSH authentication.
func IsSSHURL(url string) bool {
	return strings.HasPrefix(url, "git@") || strings.HasPrefix(url, "ssh://")
}

func (f *Fetcher) sshAuth() (transport.AuthMethod, error) {
	key := os.Getenv(f.sshKeyEnvVar)
	if key == "" {
		return nil, fmt.Errorf("SSH clone requires a private key in %s", f.sshKeyEnvVar)
	}
	auth, err := gitssh.NewPublicKeys("git", []byte(key), "")
	if err != nil {
		return nil, fmt.Errorf("parse SSH private key from %s: %w", f.sshKeyEnvVar, err)
	}
	return auth, nil
}
