// Package fixture loads feed content from YAML or TOML files into a content
// store, so a server can start with a browsable feed.
package fixture

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"strings"

	"github.com/bmatcuk/doublestar/v4"
	"github.com/goccy/go-yaml"
	"github.com/microcosm-cc/bluemonday"
	"github.com/pelletier/go-toml/v2"

	"github.com/GriffinCanCode/feedmodel/internal/domain/feed"
	"github.com/GriffinCanCode/feedmodel/internal/shared/validate"
	"github.com/GriffinCanCode/feedmodel/internal/store"
)

var (
	// ErrNoFiles is returned when a pattern matches no fixture file.
	ErrNoFiles = errors.New("no fixture files matched")
	// ErrUnsupportedFormat is returned for files that are neither YAML nor TOML.
	ErrUnsupportedFormat = errors.New("unsupported fixture format")
	// ErrMultipleRoots is returned when more than one fixture declares a root.
	ErrMultipleRoots = errors.New("more than one fixture declares a root")
)

// Item is one feature of a fixture.
type Item struct {
	ID     string `yaml:"id" toml:"id"`
	Parent string `yaml:"parent" toml:"parent"`
	Title  string `yaml:"title" toml:"title"`
	Body   string `yaml:"body" toml:"body"`
}

// Page is the content served behind a continuation token.
type Page struct {
	Token    string `yaml:"token" toml:"token"`
	Features []Item `yaml:"features" toml:"features"`
	// Next names the page that follows, if any.
	Next string `yaml:"next" toml:"next"`
}

// Shared is a shared state entry.
type Shared struct {
	ID      string `yaml:"id" toml:"id"`
	Payload string `yaml:"payload" toml:"payload"`
}

// Fixture is the content of one file.
type Fixture struct {
	Source   string   `yaml:"-" toml:"-"`
	Root     string   `yaml:"root" toml:"root"`
	Title    string   `yaml:"title" toml:"title"`
	Features []Item   `yaml:"features" toml:"features"`
	Next     string   `yaml:"next" toml:"next"`
	Pages    []Page   `yaml:"pages" toml:"pages"`
	Shared   []Shared `yaml:"shared" toml:"shared"`
}

// Load expands a doublestar pattern and parses every matching file in
// lexical order.
func Load(pattern string) ([]*Fixture, error) {
	matches, err := doublestar.FilepathGlob(pattern)
	if err != nil {
		return nil, fmt.Errorf("expand %q: %w", pattern, err)
	}
	if len(matches) == 0 {
		return nil, fmt.Errorf("%w: %s", ErrNoFiles, pattern)
	}
	slices.Sort(matches)

	fixtures := make([]*Fixture, 0, len(matches))
	for _, path := range matches {
		f, err := LoadFile(path)
		if err != nil {
			return nil, err
		}
		fixtures = append(fixtures, f)
	}
	return fixtures, nil
}

// LoadFile parses one fixture file, choosing the decoder by extension.
func LoadFile(path string) (*Fixture, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read fixture: %w", err)
	}
	f, err := Parse(filepath.Ext(path), data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	f.Source = path
	if err := f.Validate(); err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return f, nil
}

// Validate checks every content id the fixture declares.
func (f *Fixture) Validate() error {
	check := func(items []Item) error {
		for _, item := range items {
			if err := validate.ContentID(item.ID, "feature id", true); err != nil {
				return err
			}
			if err := validate.ContentID(item.Parent, "parent", false); err != nil {
				return err
			}
		}
		return nil
	}
	if err := validate.ContentID(f.Root, "root", false); err != nil {
		return err
	}
	if err := check(f.Features); err != nil {
		return err
	}
	for _, page := range f.Pages {
		if err := validate.String(page.Token, "page token", 1, validate.MaxContentIDLength, true); err != nil {
			return err
		}
		if err := check(page.Features); err != nil {
			return err
		}
	}
	for _, shared := range f.Shared {
		if err := validate.ContentID(shared.ID, "shared id", true); err != nil {
			return err
		}
	}
	return nil
}

// Parse decodes fixture data. ext is a file extension such as ".yaml".
func Parse(ext string, data []byte) (*Fixture, error) {
	var f Fixture
	switch strings.ToLower(ext) {
	case ".yaml", ".yml":
		if err := yaml.Unmarshal(data, &f); err != nil {
			return nil, fmt.Errorf("parse yaml: %w", err)
		}
	case ".toml":
		if err := toml.Unmarshal(data, &f); err != nil {
			return nil, fmt.Errorf("parse toml: %w", err)
		}
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnsupportedFormat, ext)
	}
	return &f, nil
}

// TokenID returns the content id of the token child leading to page.
func TokenID(page string) string {
	return "token::" + page
}

// Apply writes fixtures into s. Features without a parent hang off the root.
func Apply(ctx context.Context, s store.ContentStore, fixtures ...*Fixture) error {
	sanitizer := bluemonday.UGCPolicy()

	var (
		root     string
		head     []feed.StreamStructure
		payloads []feed.PayloadWithID
	)
	for _, f := range fixtures {
		if f.Root == "" {
			continue
		}
		if root != "" {
			return fmt.Errorf("%w: %s and %s", ErrMultipleRoots, root, f.Root)
		}
		root = f.Root
		head = append(head, feed.Append(root, ""))
		payloads = append(payloads, feed.PayloadWithID{
			ContentID: root,
			Feature:   &feed.StreamFeature{ContentID: root, Card: &feed.Card{Title: f.Title}},
		})
	}

	for _, f := range fixtures {
		structures, items := pageContent(root, f.Features, f.Next, sanitizer)
		head = append(head, structures...)
		payloads = append(payloads, items...)

		for _, page := range f.Pages {
			structures, items := pageContent(root, page.Features, page.Next, sanitizer)
			if err := s.PutPage(ctx, []byte(page.Token), structures); err != nil {
				return fmt.Errorf("store page %s: %w", page.Token, err)
			}
			payloads = append(payloads, items...)
		}
		for _, shared := range f.Shared {
			payloads = append(payloads, feed.PayloadWithID{
				ContentID:   shared.ID,
				SharedState: &feed.StreamSharedState{ContentID: shared.ID, Payload: []byte(shared.Payload)},
			})
		}
	}

	if err := s.PutPayloads(ctx, payloads); err != nil {
		return fmt.Errorf("store payloads: %w", err)
	}
	if root == "" {
		return nil
	}
	if err := s.SetHead(ctx, head); err != nil {
		return fmt.Errorf("store head: %w", err)
	}
	return nil
}

func pageContent(root string, items []Item, next string, sanitizer *bluemonday.Policy) ([]feed.StreamStructure, []feed.PayloadWithID) {
	structures := make([]feed.StreamStructure, 0, len(items)+1)
	payloads := make([]feed.PayloadWithID, 0, len(items)+1)
	for _, item := range items {
		parent := item.Parent
		if parent == "" {
			parent = root
		}
		structures = append(structures, feed.Append(item.ID, parent))
		payloads = append(payloads, feed.PayloadWithID{
			ContentID: item.ID,
			Feature: &feed.StreamFeature{
				ContentID: item.ID,
				ParentID:  parent,
				Card: &feed.Card{
					Title: sanitizer.Sanitize(item.Title),
					Body:  sanitizer.Sanitize(item.Body),
				},
			},
		})
	}
	if next != "" {
		id := TokenID(next)
		structures = append(structures, feed.Append(id, root))
		payloads = append(payloads, feed.PayloadWithID{
			ContentID: id,
			Token:     &feed.StreamToken{ContentID: id, ParentID: root, NextPageToken: []byte(next)},
		})
	}
	return structures, payloads
}
