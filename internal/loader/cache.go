// Package loader builds and maintains the message cache: the raw system
// messages of every Fandom language, the regexes compiled from them, and the
// per-wiki override layer discovered at runtime.
package loader

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"sync"

	"github.com/KockaAdmiralac/kockalogger/internal/messages"
)

// Matcher pairs one compiled regex with the raw template it was built from.
// The template's $N order drives capture renumbering after a match.
type Matcher struct {
	Regex    *regexp.Regexp
	Template string
}

// Cache holds the four message maps. The i18n regex list of a name is
// positionally aligned with its raw list; the custom/i18n2 layer is keyed by
// {language}:{wiki}:{domain} and takes precedence during matching. Writers
// replace whole slots under the lock, so readers never see a half-written
// state.
type Cache struct {
	mu     sync.RWMutex
	raw    map[string][]string
	i18n   map[string][]*regexp.Regexp
	custom map[string]map[string]string
	i18n2  map[string]map[string]*regexp.Regexp
}

// NewCache returns an empty cache.
func NewCache() *Cache {
	return &Cache{
		raw:    make(map[string][]string),
		i18n:   make(map[string][]*regexp.Regexp),
		custom: make(map[string]map[string]string),
		i18n2:  make(map[string]map[string]*regexp.Regexp),
	}
}

// Matchers returns the ordered matcher list for one message name: the wiki's
// override first when one exists, then every language's regex. The first
// match wins.
func (c *Cache) Matchers(key, name string) []Matcher {
	c.mu.RLock()
	defer c.mu.RUnlock()

	var out []Matcher
	if slot, ok := c.i18n2[key]; ok {
		if re, ok := slot[name]; ok {
			out = append(out, Matcher{Regex: re, Template: c.custom[key][name]})
		}
	}
	regexes := c.i18n[name]
	templates := c.raw[name]
	for i, re := range regexes {
		if i < len(templates) {
			out = append(out, Matcher{Regex: re, Template: templates[i]})
		}
	}
	return out
}

// Raw returns the de-duplicated raw strings of one message name across all
// languages, used for literal containment checks. A wiki's override of the
// name, when one exists under key, comes first.
func (c *Cache) Raw(key, name string) []string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	raws := c.raw[name]
	override, ok := c.custom[key][name]
	if !ok || override == "" {
		return raws
	}
	out := make([]string, 0, len(raws)+1)
	out = append(out, override)
	return append(out, raws...)
}

// Regexes returns the compiled regexes of one message name.
func (c *Cache) Regexes(name string) []*regexp.Regexp {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.i18n[name]
}

// Empty reports whether the cache holds no messages at all.
func (c *Cache) Empty() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.raw) == 0
}

// replace installs freshly built raw and i18n maps.
func (c *Cache) replace(raw map[string][]string, i18n map[string][]*regexp.Regexp) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.raw = raw
	c.i18n = i18n
}

// setCustom replaces one override slot with a new raw set and its compiled
// regexes.
func (c *Cache) setCustom(key string, raws map[string]string, compiled map[string]*regexp.Regexp) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.custom[key] = raws
	c.i18n2[key] = compiled
}

// Override returns the compiled override regexes of one slot.
func (c *Cache) Override(key string) map[string]*regexp.Regexp {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.i18n2[key]
}

// Cache files. Debug mode splits the cache into one file per map so the
// regexes can be inspected without scrolling past the raw corpus.
const (
	cacheFile            = "_loader.json"
	cacheFileCustom      = "_loader_custom.json"
	cacheFileI18n        = "_loader_i18n.json"
	cacheFileI18n2       = "_loader_i18n2.json"
	cacheFileMessage     = "_loader_messagecache.json"
	cacheFilePermissions = 0o644
)

// cacheDump is the serialized form. Regexes are stored as their sources.
type cacheDump struct {
	MessageCache map[string][]string          `json:"messagecache"`
	I18n         map[string][]string          `json:"i18n"`
	Custom       map[string]map[string]string `json:"custom"`
	I18n2        map[string]map[string]string `json:"i18n2"`
}

// dump snapshots the cache into its serialized form.
func (c *Cache) dump() *cacheDump {
	c.mu.RLock()
	defer c.mu.RUnlock()

	d := &cacheDump{
		MessageCache: make(map[string][]string, len(c.raw)),
		I18n:         make(map[string][]string, len(c.i18n)),
		Custom:       make(map[string]map[string]string, len(c.custom)),
		I18n2:        make(map[string]map[string]string, len(c.i18n2)),
	}
	for name, raws := range c.raw {
		d.MessageCache[name] = append([]string(nil), raws...)
	}
	for name, regexes := range c.i18n {
		sources := make([]string, len(regexes))
		for i, re := range regexes {
			sources[i] = re.String()
		}
		d.I18n[name] = sources
	}
	for key, slot := range c.custom {
		copied := make(map[string]string, len(slot))
		for name, raw := range slot {
			copied[name] = raw
		}
		d.Custom[key] = copied
	}
	for key, slot := range c.i18n2 {
		sources := make(map[string]string, len(slot))
		for name, re := range slot {
			sources[name] = re.String()
		}
		d.I18n2[key] = sources
	}
	return d
}

// restore replaces the cache contents from a serialized dump, recompiling
// every regex source.
func (c *Cache) restore(d *cacheDump) error {
	raw := make(map[string][]string, len(d.MessageCache))
	for name, raws := range d.MessageCache {
		raw[name] = raws
	}
	i18n := make(map[string][]*regexp.Regexp, len(d.I18n))
	for name, sources := range d.I18n {
		regexes := make([]*regexp.Regexp, len(sources))
		for i, src := range sources {
			re, err := regexp.Compile(src)
			if err != nil {
				return fmt.Errorf("compile %s[%d]: %w", name, i, err)
			}
			regexes[i] = re
		}
		i18n[name] = regexes
	}
	custom := make(map[string]map[string]string, len(d.Custom))
	for key, slot := range d.Custom {
		custom[key] = slot
	}
	i18n2 := make(map[string]map[string]*regexp.Regexp, len(d.I18n2))
	for key, slot := range d.I18n2 {
		compiled := make(map[string]*regexp.Regexp, len(slot))
		for name, src := range slot {
			re, err := regexp.Compile(src)
			if err != nil {
				return fmt.Errorf("compile override %s/%s: %w", key, name, err)
			}
			compiled[name] = re
		}
		i18n2[key] = compiled
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	c.raw = raw
	c.i18n = i18n
	c.custom = custom
	c.i18n2 = i18n2
	return nil
}

// Save persists the cache under dir: a single file normally, one file per
// map in debug mode.
func (c *Cache) Save(dir string, debug bool) error {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create cache dir: %w", err)
	}
	d := c.dump()
	if !debug {
		return writeJSON(filepath.Join(dir, cacheFile), d)
	}
	parts := map[string]any{
		cacheFileMessage: d.MessageCache,
		cacheFileI18n:    d.I18n,
		cacheFileCustom:  d.Custom,
		cacheFileI18n2:   d.I18n2,
	}
	for name, part := range parts {
		if err := writeJSON(filepath.Join(dir, name), part); err != nil {
			return err
		}
	}
	return nil
}

// Load reads a previously saved cache from dir. A missing or undecodable
// file yields an empty cache and no error. A file whose regex sources no
// longer compile returns an error with the cache left empty; either way the
// caller re-fetches.
func (c *Cache) Load(dir string, debug bool) error {
	if !debug {
		var d cacheDump
		if !readJSON(filepath.Join(dir, cacheFile), &d) {
			return nil
		}
		return c.restore(&d)
	}
	var d cacheDump
	ok := readJSON(filepath.Join(dir, cacheFileMessage), &d.MessageCache)
	ok = readJSON(filepath.Join(dir, cacheFileI18n), &d.I18n) && ok
	readJSON(filepath.Join(dir, cacheFileCustom), &d.Custom)
	readJSON(filepath.Join(dir, cacheFileI18n2), &d.I18n2)
	if !ok {
		return nil
	}
	return c.restore(&d)
}

func writeJSON(path string, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("marshal %s: %w", filepath.Base(path), err)
	}
	if err := os.WriteFile(path, data, cacheFilePermissions); err != nil {
		return fmt.Errorf("write %s: %w", filepath.Base(path), err)
	}
	return nil
}

// readJSON reports whether the file existed and decoded cleanly.
func readJSON(path string, v any) bool {
	data, err := os.ReadFile(path)
	if err != nil {
		return false
	}
	return json.Unmarshal(data, v) == nil
}

// compileOverrides builds the compiled regex set for one override slot,
// skipping names without a transform rule.
func compileOverrides(overrides map[string]string) (map[string]*regexp.Regexp, error) {
	compiled := make(map[string]*regexp.Regexp, len(overrides))
	for name, raw := range overrides {
		if !messages.Transformable(name) {
			continue
		}
		re, err := messages.Compile(name, raw)
		if err != nil {
			return nil, fmt.Errorf("compile override %s: %w", name, err)
		}
		if re != nil {
			compiled[name] = re
		}
	}
	return compiled, nil
}
