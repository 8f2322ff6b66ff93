package hook

import (
	"sync"

	"github.com/rs/zerolog"
	"go.uber.org/multierr"
)

// Registry is a process-wide directory of hook sites keyed by address.
// Lookup and iteration are safe without caller-side locking; construct one
// per host process at session start and Close it at teardown.
type Registry struct {
	mem  Memory
	mode int
	log  zerolog.Logger

	sites    sync.Map // uintptr -> *Site
	createMu sync.Mutex
	patchMu  sync.Mutex
}

// NewRegistry builds a registry over mem. mode is the x86 decode mode, 32
// or 64; it selects instruction decoding and the pointer width read
// through memory-indirect jumps.
func NewRegistry(mem Memory, mode int, logger zerolog.Logger) *Registry {
	if mode != 32 && mode != 64 {
		panic("hook: decode mode must be 32 or 64")
	}
	return &Registry{
		mem:  mem,
		mode: mode,
		log:  logger.With().Str("component", "hook_registry").Logger(),
	}
}

// RegisterOrGet returns the Site tracking addr, constructing it on first
// request. Construction captures the original bytes, so the call must
// happen strictly before the detour is written. Concurrent first-time
// requests for the same address all get the same Site; at most one is ever
// constructed per address.
func (r *Registry) RegisterOrGet(addr uintptr) (*Site, error) {
	if v, ok := r.sites.Load(addr); ok {
		return v.(*Site), nil
	}
	r.createMu.Lock()
	defer r.createMu.Unlock()
	if v, ok := r.sites.Load(addr); ok {
		return v.(*Site), nil
	}
	s, err := newSite(r.mem, addr, r.log)
	if err != nil {
		return nil, err
	}
	r.sites.Store(addr, s)
	r.log.Debug().Uint64("addr", uint64(addr)).Msg("site registered")
	return s, nil
}

// PatchLock returns the advisory mutex hook owners serialize their
// enable/disable sequences through when they may target overlapping
// regions. Site and Registry operations are safe without it.
func (r *Registry) PatchLock() *sync.Mutex { return &r.patchMu }

// RevertAll restores every tracked site. A site that fails to restore does
// not stop the sweep; all failures come back aggregated. Running it again
// is harmless.
func (r *Registry) RevertAll() error {
	var errs error
	r.sites.Range(func(_, v any) bool {
		s := v.(*Site)
		if err := s.Restore(); err != nil {
			r.log.Error().Err(err).Uint64("addr", uint64(s.Addr())).
				Msg("restore failed, continuing sweep")
			errs = multierr.Append(errs, err)
		}
		return true
	})
	return errs
}

// Close reverts every site and drops them all, ending the registry's
// lifetime. The aggregated restore errors, if any, are returned.
func (r *Registry) Close() error {
	err := r.RevertAll()
	r.sites.Range(func(k, _ any) bool {
		r.sites.Delete(k)
		return true
	})
	return err
}
