package structex

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"gopkg.in/yaml.v3"
)

// ManifestSuffix marks the YAML files Discover scans for plugin declarations.
const ManifestSuffix = ".structex.yaml"

// manifest is the on-disk plugin declaration format:
//
//	plugins:
//	  - kind: provider
//	    name: gemini
//	    ref: structex/gemini
//	    priority: 60
//	    cost: 1.5
//	    capabilities: [vision, json]
type manifest struct {
	Plugins []manifestPlugin `yaml:"plugins"`
}

type manifestPlugin struct {
	Kind         string   `yaml:"kind"`
	Name         string   `yaml:"name"`
	Ref          string   `yaml:"ref"`
	Priority     int      `yaml:"priority"`
	Cost         float64  `yaml:"cost"`
	Version      string   `yaml:"version"`
	Capabilities []string `yaml:"capabilities"`
}

// discoveryCache is the serialized descriptor set persisted between runs,
// keyed by the manifest fingerprint.
type discoveryCache struct {
	Fingerprint string           `yaml:"fingerprint"`
	Plugins     []manifestPlugin `yaml:"plugins"`
}

// builders maps implementation references to factories. Manifests declare
// refs; the process binds them at startup via RegisterBuilder. This is the
// explicit registration table the discovery layer resolves against instead
// of import side effects.
var (
	buildersMu sync.RWMutex
	builders   = map[string]Factory{}
)

// RegisterBuilder binds an implementation reference to a factory. Later
// bindings for the same ref replace earlier ones.
func RegisterBuilder(ref string, factory Factory) {
	buildersMu.Lock()
	defer buildersMu.Unlock()
	builders[ref] = factory
}

func lookupBuilder(ref string) (Factory, bool) {
	buildersMu.RLock()
	defer buildersMu.RUnlock()
	f, ok := builders[ref]
	return f, ok
}

// Discovery scans manifest directories and merges declared plugins into a
// registry without instantiating anything. Results are cached to CachePath
// keyed by a fingerprint of the manifest set, and re-scanned when the
// fingerprint changes.
type Discovery struct {
	Dirs      []string
	CachePath string
	log       *slog.Logger
}

// NewDiscovery returns a Discovery over the given manifest directories.
func NewDiscovery(cachePath string, dirs ...string) *Discovery {
	return &Discovery{Dirs: dirs, CachePath: cachePath, log: slog.Default()}
}

// WithLogger replaces the discovery logger.
func (d *Discovery) WithLogger(log *slog.Logger) *Discovery {
	if log != nil {
		d.log = log
	}
	return d
}

// Discover merges manifest-declared plugins into r, loaded=false, and
// returns how many were merged. Identities already bound programmatically,
// and discovered plugins that have since been loaded, are left untouched.
// When force is false and the manifest fingerprint matches the cache file,
// descriptors come from the cache without re-reading manifests.
func (d *Discovery) Discover(r *Registry, force bool) (int, error) {
	fp, paths, err := d.fingerprint()
	if err != nil {
		return 0, fmt.Errorf("discover: fingerprint: %w", err)
	}

	var plugins []manifestPlugin
	if !force {
		if cached, ok := d.readCache(fp); ok {
			d.log.Debug("discovery cache hit", "fingerprint", fp, "plugins", len(cached))
			plugins = cached
		}
	}
	if plugins == nil {
		plugins, err = d.scan(paths)
		if err != nil {
			return 0, err
		}
		if err := d.writeCache(fp, plugins); err != nil {
			d.log.Debug("discovery cache write failed", "error", err)
		}
	}

	merged := 0
	for _, p := range plugins {
		factory, _ := lookupBuilder(p.Ref)
		cfg := PluginConfig{
			Priority:     p.Priority,
			Cost:         p.Cost,
			Version:      p.Version,
			Capabilities: p.Capabilities,
		}
		if cfg.Priority == 0 {
			cfg.Priority = DefaultPluginConfig().Priority
		}
		if cfg.Cost == 0 {
			cfg.Cost = DefaultPluginConfig().Cost
		}
		ok, err := r.mergeDiscovered(Kind(p.Kind), p.Name, p.Ref, factory, cfg)
		if err != nil {
			d.log.Debug("discovery merge skipped", "kind", p.Kind, "name", p.Name, "error", err)
			continue
		}
		if ok {
			merged++
		}
	}
	d.log.Info("discovery complete", "plugins", merged, "fingerprint", fp)
	return merged, nil
}

// ClearCache deletes the discovery cache file.
func (d *Discovery) ClearCache() error {
	if d.CachePath == "" {
		return nil
	}
	err := os.Remove(d.CachePath)
	if err != nil && !os.IsNotExist(err) {
		return err
	}
	return nil
}

// fingerprint hashes the sorted manifest paths with their sizes and mtimes,
// standing in for an installed-package fingerprint.
func (d *Discovery) fingerprint() (string, []string, error) {
	var paths []string
	for _, dir := range d.Dirs {
		err := filepath.WalkDir(dir, func(path string, entry fs.DirEntry, err error) error {
			if err != nil {
				if os.IsNotExist(err) {
					return filepath.SkipDir
				}
				return err
			}
			if entry.IsDir() || !strings.HasSuffix(path, ManifestSuffix) {
				return nil
			}
			paths = append(paths, path)
			return nil
		})
		if err != nil && !os.IsNotExist(err) {
			return "", nil, err
		}
	}
	sort.Strings(paths)

	h := sha256.New()
	for _, p := range paths {
		info, err := os.Stat(p)
		if err != nil {
			continue
		}
		fmt.Fprintf(h, "%s|%d|%d\n", p, info.Size(), info.ModTime().UnixNano())
	}
	return hex.EncodeToString(h.Sum(nil)), paths, nil
}

func (d *Discovery) scan(paths []string) ([]manifestPlugin, error) {
	var plugins []manifestPlugin
	for _, path := range paths {
		raw, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("discover: read %s: %w", path, err)
		}
		var m manifest
		if err := yaml.Unmarshal(raw, &m); err != nil {
			return nil, fmt.Errorf("discover: parse %s: %w", path, err)
		}
		d.log.Debug("manifest scanned", "path", path, "plugins", len(m.Plugins))
		plugins = append(plugins, m.Plugins...)
	}
	return plugins, nil
}

func (d *Discovery) readCache(fingerprint string) ([]manifestPlugin, bool) {
	if d.CachePath == "" {
		return nil, false
	}
	raw, err := os.ReadFile(d.CachePath)
	if err != nil {
		return nil, false
	}
	var c discoveryCache
	if err := yaml.Unmarshal(raw, &c); err != nil {
		return nil, false
	}
	if c.Fingerprint != fingerprint {
		return nil, false
	}
	return c.Plugins, true
}

func (d *Discovery) writeCache(fingerprint string, plugins []manifestPlugin) error {
	if d.CachePath == "" {
		return nil
	}
	raw, err := yaml.Marshal(discoveryCache{Fingerprint: fingerprint, Plugins: plugins})
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(d.CachePath), 0o755); err != nil {
		return err
	}
	return os.WriteFile(d.CachePath, raw, 0o644)
}
