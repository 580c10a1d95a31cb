// Package digest computes the running cryptographic digest over the
// reconstructed payload stream that is snapshotted into each
// MD5Checksum (and optionally SHA1Checksum) frame.
package digest

import (
	"crypto/md5"
	"crypto/sha1"
	"hash"
)

// Runner feeds bytes into an MD5 hash in emission order, and
// optionally into a SHA-1 hash alongside it. MD5 is required by the
// wire format for compatibility with existing archives; SHA-1 is an
// additive, opt-in cross-check per spec.md's design notes.
type Runner struct {
	md5  hash.Hash
	sha1 hash.Hash
}

// Option configures a Runner at construction time.
type Option func(*Runner)

// WithSHA1 enables tracking a parallel SHA-1 digest.
func WithSHA1(enabled bool) Option {
	return func(r *Runner) {
		if enabled {
			r.sha1 = sha1.New()
		}
	}
}

// New returns a Runner with a fresh MD5 state, and a SHA-1 state too if
// WithSHA1(true) was given.
func New(opts ...Option) *Runner {
	r := &Runner{md5: md5.New()}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Feed hashes b into every enabled digest, in order. Never returns an
// error: hash.Hash.Write never fails.
func (r *Runner) Feed(b []byte) {
	r.md5.Write(b)
	if r.sha1 != nil {
		r.sha1.Write(b)
	}
}

// MD5 returns the current 16-byte MD5 digest of every byte fed so far.
func (r *Runner) MD5() []byte {
	return r.md5.Sum(nil)
}

// SHA1 returns the current 20-byte SHA-1 digest, or nil if SHA-1
// tracking was not enabled.
func (r *Runner) SHA1() []byte {
	if r.sha1 == nil {
		return nil
	}
	return r.sha1.Sum(nil)
}

// HasSHA1 reports whether this Runner is tracking SHA-1 alongside MD5.
func (r *Runner) HasSHA1() bool {
	return r.sha1 != nil
}
