// Package styles holds the embedded catalogue of art styles and the packs
// sold for them.
package styles

import (
	_ "embed"
	"fmt"
	"strings"
	"sync"

	"gopkg.in/yaml.v3"

	"stickerpack/internal/domain"
)

//go:embed styles.yaml
var catalogYAML []byte

// Style describes how a sticker is rendered.
type Style struct {
	Key              string `yaml:"key"`
	Name             string `yaml:"name"`
	Prompt           string `yaml:"prompt"`
	RemoveBackground bool   `yaml:"removeBackground"`
}

// Pack is a purchasable product mapped onto a style.
type Pack struct {
	ID         string `yaml:"id"`
	Name       string `yaml:"name"`
	StyleKey   string `yaml:"style"`
	PriceCents int    `yaml:"priceCents"`
	Popular    bool   `yaml:"popular"`
}

// Catalog indexes styles and packs.
type Catalog struct {
	EmotionTemplate string  `yaml:"emotionTemplate"`
	Styles          []Style `yaml:"styles"`
	Packs           []Pack  `yaml:"packs"`

	styles map[string]Style
	packs  map[string]Pack
}

// Parse decodes and validates a catalogue document.
func Parse(data []byte) (*Catalog, error) {
	var c Catalog
	if err := yaml.Unmarshal(data, &c); err != nil {
		return nil, fmt.Errorf("styles: decode catalog: %w", err)
	}
	c.styles = make(map[string]Style, len(c.Styles))
	for _, s := range c.Styles {
		if s.Key == "" || strings.TrimSpace(s.Prompt) == "" {
			return nil, fmt.Errorf("styles: style %q is incomplete", s.Key)
		}
		c.styles[s.Key] = s
	}
	c.packs = make(map[string]Pack, len(c.Packs))
	for _, p := range c.Packs {
		if _, ok := c.styles[p.StyleKey]; !ok {
			return nil, fmt.Errorf("styles: pack %q references unknown style %q", p.ID, p.StyleKey)
		}
		if p.PriceCents <= 0 {
			return nil, fmt.Errorf("styles: pack %q has no price", p.ID)
		}
		c.packs[p.ID] = p
	}
	return &c, nil
}

var (
	defaultOnce    sync.Once
	defaultCatalog *Catalog
)

// Default returns the embedded catalogue. It panics if the embedded file is
// invalid, which the package tests guard against.
func Default() *Catalog {
	defaultOnce.Do(func() {
		c, err := Parse(catalogYAML)
		if err != nil {
			panic(err)
		}
		defaultCatalog = c
	})
	return defaultCatalog
}

// Style looks up a style by key.
func (c *Catalog) Style(key string) (Style, bool) {
	s, ok := c.styles[key]
	return s, ok
}

// Pack looks up a pack by id.
func (c *Catalog) Pack(id string) (Pack, bool) {
	p, ok := c.packs[id]
	return p, ok
}

// DefaultPack returns the popular pack, or the first one.
func (c *Catalog) DefaultPack() Pack {
	for _, p := range c.Packs {
		if p.Popular {
			return p
		}
	}
	return c.Packs[0]
}

// ResolvePack maps an upload's pack or style selector onto a pack. Empty
// input selects the default pack.
func (c *Catalog) ResolvePack(selector string) (Pack, bool) {
	selector = strings.TrimSpace(selector)
	if selector == "" {
		return c.DefaultPack(), true
	}
	if p, ok := c.packs[selector]; ok {
		return p, true
	}
	for _, p := range c.Packs {
		if p.StyleKey == selector {
			return p, true
		}
	}
	return Pack{}, false
}

// PackForStyle returns the pack priced for a style key.
func (c *Catalog) PackForStyle(styleKey string) (Pack, bool) {
	for _, p := range c.Packs {
		if p.StyleKey == styleKey {
			return p, true
		}
	}
	return Pack{}, false
}

// Prompt builds the full generation prompt for one emotion.
func (c *Catalog) Prompt(style Style, emotion domain.Emotion) string {
	var b strings.Builder
	b.WriteString(strings.TrimSpace(style.Prompt))
	b.WriteString("\n\nExpression: ")
	b.WriteString(emotion.Label())
	b.WriteString(". The character has ")
	b.WriteString(emotion.Expression())
	b.WriteString(".\n\n")
	b.WriteString(strings.TrimSpace(c.EmotionTemplate))
	if style.RemoveBackground {
		b.WriteString("\nOnly the character is opaque; the surrounding background is fully transparent.")
	}
	return b.String()
}
