/*
Copyright © 2026 Benny Powers <web@bennypowers.com>

This program is free software: you can redistribute it and/or modify
it under the terms of the GNU General Public License as published by
the Free Software Foundation, either version 3 of the License, or
(at your option) any later version.

This program is distributed in the hope that it will be useful,
but WITHOUT ANY WARRANTY; without even the implied warranty of
MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the
GNU General Public License for more details.

You should have received a copy of the GNU General Public License
along with this program. If not, see <http://www.gnu.org/licenses/>.
*/
package registry

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"slices"
	"strings"
	"sync"

	goversion "github.com/hashicorp/go-version"
)

// DefaultURL is the public npm registry.
const DefaultURL = "https://registry.npmjs.org"

// Packument is the registry document for one package.
type Packument struct {
	Name     string             `json:"name"`
	DistTags map[string]string  `json:"dist-tags"`
	Versions map[string]Version `json:"versions"`
}

// Version is one published version.
type Version struct {
	Version string `json:"version"`
}

// Client reads packuments from a registry. Documents are cached for the
// client's lifetime, except after Forget.
type Client struct {
	fetcher Fetcher
	baseURL string

	mu    sync.Mutex
	cache map[string]*Packument
}

// New creates a client for baseURL, or the public registry when empty.
func New(fetcher Fetcher, baseURL string) *Client {
	if fetcher == nil {
		fetcher = HTTPFetcher{}
	}
	if baseURL == "" {
		baseURL = DefaultURL
	}
	return &Client{
		fetcher: fetcher,
		baseURL: strings.TrimSuffix(baseURL, "/"),
		cache:   make(map[string]*Packument),
	}
}

// packumentURL escapes the scope separator the way the npm CLI does.
func (c *Client) packumentURL(name string) string {
	return c.baseURL + "/" + strings.Replace(name, "/", "%2f", 1)
}

// Packument fetches the document for name. A package that was never
// published yields an empty document.
func (c *Client) Packument(ctx context.Context, name string) (*Packument, error) {
	c.mu.Lock()
	if p, ok := c.cache[name]; ok {
		c.mu.Unlock()
		return p, nil
	}
	c.mu.Unlock()

	body, err := c.fetcher.Fetch(ctx, c.packumentURL(name))
	var fetchErr *FetchError
	if errors.As(err, &fetchErr) && fetchErr.IsNotFound() {
		body, err = []byte(`{}`), nil
	}
	if err != nil {
		return nil, err
	}
	var p Packument
	if err := json.Unmarshal(body, &p); err != nil {
		return nil, fmt.Errorf("parsing packument for %s: %w", name, err)
	}
	if p.Name == "" {
		p.Name = name
	}
	c.mu.Lock()
	c.cache[name] = &p
	c.mu.Unlock()
	return &p, nil
}

// Published reports whether version of name is already in the registry.
func (c *Client) Published(ctx context.Context, name, version string) (bool, error) {
	p, err := c.Packument(ctx, name)
	if err != nil {
		return false, err
	}
	_, ok := p.Versions[version]
	return ok, nil
}

// Latest returns the highest published version, ignoring dist-tags.
func (c *Client) Latest(ctx context.Context, name string) (string, error) {
	p, err := c.Packument(ctx, name)
	if err != nil {
		return "", err
	}
	var versions []*goversion.Version
	for v := range p.Versions {
		parsed, err := goversion.NewVersion(v)
		if err != nil {
			continue
		}
		versions = append(versions, parsed)
	}
	if len(versions) == 0 {
		return "", nil
	}
	slices.SortFunc(versions, func(a, b *goversion.Version) int { return a.Compare(b) })
	return versions[len(versions)-1].Original(), nil
}

// Forget drops the cached document for name.
func (c *Client) Forget(name string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.cache, name)
}
