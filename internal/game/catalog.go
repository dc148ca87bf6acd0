/*
Copyright © 2026 Seednode <seednode@seedno.de>
*/

package game

import (
	"bytes"
	_ "embed"
	"fmt"
	"math/rand/v2"
	"slices"
	"strings"
	"sync"

	"github.com/spf13/viper"
)

// VariantNSFW selects the adult prompt pool. Any other variant gets the general pool.
const VariantNSFW = "nsfw"

//go:embed prompts.yaml
var defaultPrompts []byte

// Prompts is the on-disk layout of a question catalog.
type Prompts struct {
	General []string `mapstructure:"general_prompts"`
	NSFW    []string `mapstructure:"nsfw_prompts"`
	Classic []string `mapstructure:"questions"`
}

// Catalog holds deduplicated prompt pools keyed by game variant.
type Catalog struct {
	mu      sync.Mutex
	general []string
	nsfw    []string
	shuffle func(n int, swap func(i, j int))
}

// NewCatalog builds the variant pools. The nsfw pool mixes in the general
// prompts; the default pool mixes in the classic questions.
func NewCatalog(p Prompts) *Catalog {
	return &Catalog{
		general: dedupe(p.General, p.Classic),
		nsfw:    dedupe(p.NSFW, p.General),
		shuffle: rand.Shuffle,
	}
}

// LoadCatalog reads a catalog from path (any format viper understands),
// or the built-in catalog when path is empty.
func LoadCatalog(path string) (*Catalog, error) {
	v := viper.New()

	if path == "" {
		v.SetConfigType("yaml")
		if err := v.ReadConfig(bytes.NewReader(defaultPrompts)); err != nil {
			return nil, fmt.Errorf("reading built-in catalog: %w", err)
		}
	} else {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("reading catalog %s: %w", path, err)
		}
	}

	var p Prompts
	if err := v.Unmarshal(&p); err != nil {
		return nil, fmt.Errorf("decoding catalog: %w", err)
	}

	c := NewCatalog(p)
	if len(c.general) == 0 && len(c.nsfw) == 0 {
		return nil, fmt.Errorf("catalog %q contains no prompts", path)
	}

	return c, nil
}

// Pool returns a copy of the prompts available to variant.
func (c *Catalog) Pool(variant string) []string {
	if variant == VariantNSFW {
		return slices.Clone(c.nsfw)
	}

	return slices.Clone(c.general)
}

// Draw samples up to n prompts for variant without replacement. The
// result is shorter than n when the pool runs out.
func (c *Catalog) Draw(variant string, n int) []string {
	pool := c.Pool(variant)

	c.mu.Lock()
	c.shuffle(len(pool), func(i, j int) {
		pool[i], pool[j] = pool[j], pool[i]
	})
	c.mu.Unlock()

	if n < len(pool) {
		pool = pool[:n]
	}

	return pool
}

func dedupe(lists ...[]string) []string {
	seen := make(map[string]bool)
	out := []string{}

	for _, list := range lists {
		for _, s := range list {
			s = strings.TrimSpace(s)
			if s == "" || seen[s] {
				continue
			}
			seen[s] = true
			out = append(out, s)
		}
	}

	return out
}
