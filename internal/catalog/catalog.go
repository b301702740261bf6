// Package catalog authors and lists recall sets and points. It is shared
// by the CLI, the MCP server and the seed importer.
package catalog

import (
	"context"
	"errors"
	"fmt"
	"io"
	"slices"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/Jmemon/contextual-clarity-sub001/internal/model"
	"github.com/Jmemon/contextual-clarity-sub001/internal/scheduler"
	"github.com/Jmemon/contextual-clarity-sub001/internal/store"
)

// ErrEmptyContent rejects a point or set without text.
var ErrEmptyContent = errors.New("catalog: content is required")

// Catalog creates sets and points with a fresh memory state.
type Catalog struct {
	store     *store.Store
	scheduler *scheduler.Scheduler
	now       func() time.Time
	newID     func() string
}

// New returns a Catalog over st. now defaults to time.Now.
func New(st *store.Store, sched *scheduler.Scheduler, now func() time.Time) *Catalog {
	if now == nil {
		now = time.Now
	}
	return &Catalog{store: st, scheduler: sched, now: now, newID: store.NewID}
}

// SetSummary is a set with its point counts.
type SetSummary struct {
	model.RecallSet
	Points int `json:"points"`
	Due    int `json:"due"`
}

// CreateSet stores a new set.
func (c *Catalog) CreateSet(ctx context.Context, name, description string) (model.RecallSet, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return model.RecallSet{}, fmt.Errorf("%w: set name", ErrEmptyContent)
	}
	set := model.RecallSet{
		ID:          c.newID(),
		Name:        name,
		Description: strings.TrimSpace(description),
		CreatedAt:   c.now(),
	}
	if err := c.store.Sets.Create(ctx, set); err != nil {
		return model.RecallSet{}, fmt.Errorf("catalog: creating set: %w", err)
	}
	return set, nil
}

// FindSet resolves ref as a set id, then as a case-insensitive name.
func (c *Catalog) FindSet(ctx context.Context, ref string) (model.RecallSet, error) {
	set, err := c.store.Sets.FindByID(ctx, ref)
	if err == nil {
		return set, nil
	}
	if !errors.Is(err, store.ErrNotFound) {
		return model.RecallSet{}, err
	}
	sets, err := c.store.Sets.List(ctx)
	if err != nil {
		return model.RecallSet{}, err
	}
	for _, s := range sets {
		if strings.EqualFold(s.Name, ref) {
			return s, nil
		}
	}
	return model.RecallSet{}, fmt.Errorf("%w: set %q", store.ErrNotFound, ref)
}

// AddPoint stores a new point in setID, due immediately.
func (c *Catalog) AddPoint(ctx context.Context, setID, content, pointContext string) (model.RecallPoint, error) {
	content = strings.TrimSpace(content)
	if content == "" {
		return model.RecallPoint{}, ErrEmptyContent
	}
	if _, err := c.store.Sets.FindByID(ctx, setID); err != nil {
		return model.RecallPoint{}, fmt.Errorf("catalog: adding point: %w", err)
	}
	now := c.now()
	p := model.RecallPoint{
		ID:        c.newID(),
		SetID:     setID,
		Content:   content,
		Context:   strings.TrimSpace(pointContext),
		State:     c.scheduler.CreateInitialState(now),
		CreatedAt: now,
	}
	if err := c.store.Points.Create(ctx, p); err != nil {
		return model.RecallPoint{}, fmt.Errorf("catalog: adding point: %w", err)
	}
	return p, nil
}

// ListSets returns every set with its point and due counts, by name.
func (c *Catalog) ListSets(ctx context.Context) ([]SetSummary, error) {
	sets, err := c.store.Sets.List(ctx)
	if err != nil {
		return nil, fmt.Errorf("catalog: listing sets: %w", err)
	}
	due, err := c.store.Points.CountDue(ctx, c.now())
	if err != nil {
		return nil, fmt.Errorf("catalog: counting due points: %w", err)
	}
	out := make([]SetSummary, 0, len(sets))
	for _, s := range sets {
		points, err := c.store.Points.FindBySet(ctx, s.ID)
		if err != nil {
			return nil, fmt.Errorf("catalog: listing points: %w", err)
		}
		out = append(out, SetSummary{RecallSet: s, Points: len(points), Due: due[s.ID]})
	}
	slices.SortFunc(out, func(a, b SetSummary) int { return strings.Compare(a.Name, b.Name) })
	return out, nil
}

// DuePoints returns the points of setID due now.
func (c *Catalog) DuePoints(ctx context.Context, setID string) ([]model.RecallPoint, error) {
	if _, err := c.store.Sets.FindByID(ctx, setID); err != nil {
		return nil, err
	}
	return c.store.Points.FindDue(ctx, setID, c.now())
}

// SeedFile is the YAML layout accepted by Import.
//
//	name: Cell biology
//	description: Organelles and what they do
//	points:
//	  - content: Mitochondria produce ATP.
//	    context: Oxidative phosphorylation happens on the inner membrane.
type SeedFile struct {
	Name        string      `yaml:"name"`
	Description string      `yaml:"description"`
	Points      []SeedPoint `yaml:"points"`
}

// SeedPoint is one point of a SeedFile.
type SeedPoint struct {
	Content string `yaml:"content"`
	Context string `yaml:"context"`
}

// Import reads a SeedFile from r. The points join the set with the same
// name, which is created when missing. It returns the set and the number
// of points added.
func (c *Catalog) Import(ctx context.Context, r io.Reader) (model.RecallSet, int, error) {
	var seed SeedFile
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(&seed); err != nil {
		return model.RecallSet{}, 0, fmt.Errorf("catalog: parsing seed file: %w", err)
	}
	if strings.TrimSpace(seed.Name) == "" {
		return model.RecallSet{}, 0, fmt.Errorf("%w: seed file name", ErrEmptyContent)
	}

	set, err := c.FindSet(ctx, seed.Name)
	switch {
	case errors.Is(err, store.ErrNotFound):
		set, err = c.CreateSet(ctx, seed.Name, seed.Description)
		if err != nil {
			return model.RecallSet{}, 0, err
		}
	case err != nil:
		return model.RecallSet{}, 0, err
	}

	added := 0
	for i, sp := range seed.Points {
		if _, err := c.AddPoint(ctx, set.ID, sp.Content, sp.Context); err != nil {
			return set, added, fmt.Errorf("catalog: point %d: %w", i+1, err)
		}
		added++
	}
	return set, added, nil
}
