package hook

import (
	"fmt"
	"sync"

	"github.com/pkg/errors"
	"github.com/rs/zerolog"
)

// snapshotLen is the size of the original-byte window captured before a
// patch is applied. Oversized so any plausible detour footprint fits.
const snapshotLen = 50

// Site owns the original bytes at one hooked address and knows how to put
// them back. It knows nothing about other sites; overlapping hooks are the
// callers' problem to serialize, see Registry.PatchLock.
type Site struct {
	addr uintptr
	mem  Memory
	log  zerolog.Logger

	mu        sync.Mutex
	original  []byte
	finalized bool
}

// newSite captures the original bytes at addr. This must run strictly
// before any byte at addr is modified; the snapshot is never re-captured.
func newSite(mem Memory, addr uintptr, log zerolog.Logger) (*Site, error) {
	buf := make([]byte, snapshotLen)
	if err := mem.ReadAt(addr, buf); err != nil {
		return nil, errors.Wrapf(err, "capture originals at 0x%x", addr)
	}
	return &Site{
		addr:     addr,
		mem:      mem,
		log:      log.With().Str("site", fmt.Sprintf("0x%x", addr)).Logger(),
		original: buf,
	}, nil
}

// Addr returns the hooked address.
func (s *Site) Addr() uintptr { return s.addr }

// Finalized reports whether the restoration snapshot has been trimmed to
// its final length.
func (s *Site) Finalized() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.finalized
}

// OriginalLen returns the current length of the stored original bytes.
func (s *Site) OriginalLen() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.original)
}

// forwardScanLen counts the leading bytes the patch changed, stopping at
// the first byte that still matches the snapshot. A patch byte equal to
// the original by coincidence stops the scan early, so this is a safe
// lower bound on the patch length.
func forwardScanLen(orig, live []byte) int {
	n := 0
	for n < len(orig) && n < len(live) && orig[n] != live[n] {
		n++
	}
	return n
}

// backwardScanLen returns the length past which no live byte differs from
// the snapshot. Under a single contiguous patch starting at the site
// address this is the exact patch length.
func backwardScanLen(orig, live []byte) int {
	n := len(orig)
	for n > 0 && orig[n-1] == live[n-1] {
		n--
	}
	return n
}

// Finalize compares the snapshot against the now-patched live bytes to
// work out how much Restore must write back, then trims the snapshot to
// that length. Call it exactly once, right after the detour has been
// written; calling it again is a no-op. Live memory is not touched.
func (s *Site) Finalize() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.finalized {
		return nil
	}
	live := make([]byte, len(s.original))
	if err := s.mem.ReadAt(s.addr, live); err != nil {
		return errors.Wrapf(err, "read live bytes at 0x%x", s.addr)
	}
	fwd := forwardScanLen(s.original, live)
	bwd := backwardScanLen(s.original, live)
	if fwd != bwd {
		// The patch is not a simple contiguous overwrite. The backward
		// length is still the right amount to restore, so keep going.
		s.log.Warn().Int("forward", fwd).Int("backward", bwd).
			Msg("patch length scans disagree")
	}
	s.original = s.original[:bwd]
	s.finalized = true
	s.log.Debug().Int("length", bwd).Msg("site finalized")
	return nil
}

// Restore writes the captured original bytes back over the patch. Before
// finalization only the bytes up to the forward-scan boundary are written,
// so an unfinalized restore can never clobber memory the patch may not
// have occupied. Safe to call repeatedly; rewriting already-original bytes
// is harmless.
func (s *Site) Restore() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	buf := s.original
	if !s.finalized {
		live := make([]byte, len(s.original))
		if err := s.mem.ReadAt(s.addr, live); err != nil {
			return errors.Wrapf(err, "read live bytes at 0x%x", s.addr)
		}
		buf = s.original[:forwardScanLen(s.original, live)]
	}
	if len(buf) == 0 {
		return nil
	}
	prev, err := s.mem.Protect(s.addr, len(buf), ProtAll)
	if err != nil {
		return errors.Wrapf(err, "unprotect 0x%x", s.addr)
	}
	if err := s.mem.WriteAt(s.addr, buf); err != nil {
		return errors.Wrapf(err, "write originals at 0x%x", s.addr)
	}
	if _, err := s.mem.Protect(s.addr, len(buf), prev); err != nil {
		return errors.Wrapf(err, "reprotect 0x%x", s.addr)
	}
	s.log.Debug().Int("length", len(buf)).Msg("site restored")
	return nil
}
