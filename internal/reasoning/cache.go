package reasoning

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"

	"go.uber.org/zap"

	"docintel/internal/util"
)

const programFilePrefix = "compiled_v"

// Store persists compiled programs as versioned JSON artifacts under a
// single directory. Artifacts are write-once: saving always allocates
// the next version number.
type Store struct {
	dir string
}

func NewStore(dir string) *Store {
	return &Store{dir: dir}
}

func programPath(dir string, version int) string {
	return filepath.Join(dir, fmt.Sprintf("%s%d.json", programFilePrefix, version))
}

// versions lists the compiled version numbers present on disk, ascending.
func (s *Store) versions() ([]int, error) {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("read program dir: %w", err)
	}
	var out []int
	for _, e := range entries {
		name := e.Name()
		if !strings.HasPrefix(name, programFilePrefix) || !strings.HasSuffix(name, ".json") {
			continue
		}
		n, err := strconv.Atoi(strings.TrimSuffix(strings.TrimPrefix(name, programFilePrefix), ".json"))
		if err != nil {
			continue
		}
		out = append(out, n)
	}
	sort.Ints(out)
	return out, nil
}

// Latest loads the highest-versioned program, or nil when none exists.
func (s *Store) Latest() (*CompiledProgram, error) {
	vs, err := s.versions()
	if err != nil {
		return nil, err
	}
	if len(vs) == 0 {
		return nil, nil
	}
	var p CompiledProgram
	if err := util.ReadJSON(programPath(s.dir, vs[len(vs)-1]), &p); err != nil {
		return nil, err
	}
	return &p, nil
}

// Save writes the program as the next version and returns the version
// string it was assigned.
func (s *Store) Save(p *CompiledProgram) (string, error) {
	vs, err := s.versions()
	if err != nil {
		return "", err
	}
	next := 1
	if len(vs) > 0 {
		next = vs[len(vs)-1] + 1
	}
	p.Version = fmt.Sprintf("%s%d", programFilePrefix, next)
	if err := util.WriteJSONAtomic(programPath(s.dir, next), p); err != nil {
		return "", fmt.Errorf("save compiled program: %w", err)
	}
	return p.Version, nil
}

// Cache holds the active program behind an atomic pointer. Readers get
// a consistent snapshot; Swap replaces the whole program at once so a
// query never sees instructions from two different versions.
type Cache struct {
	store  *Store
	log    *zap.Logger
	active atomic.Pointer[CompiledProgram]
	once   sync.Once
}

func NewCache(store *Store, log *zap.Logger) *Cache {
	if log == nil {
		log = zap.NewNop()
	}
	return &Cache{store: store, log: log}
}

// Active returns the current program, lazily loading the latest disk
// artifact on first use and falling back to the baseline.
func (c *Cache) Active() *CompiledProgram {
	c.once.Do(func() {
		p, err := c.store.Latest()
		if err != nil {
			c.log.Warn("load compiled program failed, using baseline", zap.Error(err))
		}
		if p == nil {
			p = Baseline()
		}
		c.active.Store(p)
		c.log.Info("prompt program active", zap.String("version", p.Version))
	})
	return c.active.Load()
}

// Swap atomically replaces the active program.
func (c *Cache) Swap(p *CompiledProgram) {
	c.Active()
	c.active.Store(p)
	c.log.Info("prompt program swapped", zap.String("version", p.Version))
}
