// Package updatecheck polls a release manifest off the tick loop and hands
// newer versions to the engine inbox.
package updatecheck

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
	"strings"
	"time"

	"golang.org/x/mod/semver"

	"somnia.ai/internal/sim/engine"
)

// Manifest is the document served at the release URL.
type Manifest struct {
	Version string `json:"version"`
	URL     string `json:"url"`
}

type Config struct {
	URL      string
	Current  string
	Interval time.Duration
	Client   *http.Client
	Logger   *log.Logger
}

// Submitter is the engine inbox.
type Submitter interface {
	Submit(in engine.Input) bool
}

type Checker struct {
	cfg  Config
	eng  Submitter
	last string
}

func New(cfg Config, eng Submitter) *Checker {
	if cfg.Interval <= 0 {
		cfg.Interval = 6 * time.Hour
	}
	if cfg.Client == nil {
		cfg.Client = &http.Client{Timeout: 10 * time.Second}
	}
	return &Checker{cfg: cfg, eng: eng}
}

func (c *Checker) logf(format string, args ...any) {
	if c.cfg.Logger != nil {
		c.cfg.Logger.Printf(format, args...)
	}
}

// Run checks once immediately and then every Interval until ctx ends.
func (c *Checker) Run(ctx context.Context) {
	t := time.NewTicker(c.cfg.Interval)
	defer t.Stop()
	for {
		if _, err := c.CheckOnce(ctx); err != nil && ctx.Err() == nil {
			c.logf("update check: %v", err)
		}
		select {
		case <-ctx.Done():
			return
		case <-t.C:
		}
	}
}

// CheckOnce fetches the manifest and submits an UpdateNotice when it names a
// version newer than Current that was not already submitted.
func (c *Checker) CheckOnce(ctx context.Context) (bool, error) {
	m, err := c.fetch(ctx)
	if err != nil {
		return false, err
	}
	if !Newer(m.Version, c.cfg.Current) || m.Version == c.last {
		return false, nil
	}
	if !c.eng.Submit(engine.UpdateNotice{Version: m.Version, URL: m.URL}) {
		return false, fmt.Errorf("engine inbox full")
	}
	c.last = m.Version
	return true, nil
}

func (c *Checker) fetch(ctx context.Context) (Manifest, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.cfg.URL, nil)
	if err != nil {
		return Manifest{}, err
	}
	req.Header.Set("Accept", "application/json")
	resp, err := c.cfg.Client.Do(req)
	if err != nil {
		return Manifest{}, err
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(io.LimitReader(resp.Body, 64*1024))
	if err != nil {
		return Manifest{}, err
	}
	if resp.StatusCode != http.StatusOK {
		return Manifest{}, fmt.Errorf("GET %s: status=%d", c.cfg.URL, resp.StatusCode)
	}
	var m Manifest
	if err := json.Unmarshal(body, &m); err != nil {
		// A bare version string is accepted too.
		m = Manifest{Version: strings.TrimSpace(string(body))}
	}
	if m.Version == "" {
		return Manifest{}, fmt.Errorf("manifest at %s has no version", c.cfg.URL)
	}
	return m, nil
}

// Newer reports whether candidate is a later semantic version than current.
// A leading "v" is optional. An unparseable current is treated as older than
// any valid candidate.
func Newer(candidate, current string) bool {
	a, b := canonical(candidate), canonical(current)
	if !semver.IsValid(a) {
		return false
	}
	if !semver.IsValid(b) {
		return true
	}
	return semver.Compare(a, b) > 0
}

func canonical(v string) string {
	v = strings.TrimSpace(v)
	if v != "" && !strings.HasPrefix(v, "v") {
		v = "v" + v
	}
	return v
}
