// Package archive copies finished sessions to S3-compatible object storage:
// a JSON record with the transcript, outcomes, tangents and summary, plus a
// readable Markdown transcript.
package archive

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"path"
	"strings"
	"sync"
	"time"

	"github.com/Jmemon/contextual-clarity-sub001/internal/event"
	"github.com/Jmemon/contextual-clarity-sub001/internal/model"
	"github.com/Jmemon/contextual-clarity-sub001/internal/store"
)

const (
	defaultPrefix     = "sessions"
	defaultPutTimeout = 30 * time.Second
)

// Config is the archive section of the configuration file.
type Config struct {
	// Endpoint is host:port of the object store. Empty disables archiving.
	Endpoint  string        `yaml:"endpoint"`
	Bucket    string        `yaml:"bucket"`
	AccessKey string        `yaml:"access_key"`
	SecretKey string        `yaml:"secret_key"`
	UseSSL    bool          `yaml:"use_ssl"`
	Region    string        `yaml:"region"`
	Prefix    string        `yaml:"prefix"`
	Timeout   time.Duration `yaml:"timeout"`
}

// Defaults fills unset fields.
func (c *Config) Defaults() {
	if c.Prefix == "" {
		c.Prefix = defaultPrefix
	}
	if c.Timeout <= 0 {
		c.Timeout = defaultPutTimeout
	}
}

// Enabled reports whether archiving is configured.
func (c Config) Enabled() bool {
	return c.Endpoint != ""
}

// Validate requires a bucket and credentials when archiving is enabled.
func (c Config) Validate() error {
	if !c.Enabled() {
		return nil
	}
	var errs []error
	if c.Bucket == "" {
		errs = append(errs, errors.New("archive: bucket is required"))
	}
	if c.AccessKey == "" || c.SecretKey == "" {
		errs = append(errs, errors.New("archive: access_key and secret_key are required"))
	}
	return errors.Join(errs...)
}

// ObjectStore is the upload surface the Archiver needs.
type ObjectStore interface {
	Put(ctx context.Context, key string, data []byte, contentType string) error
}

// Record is the archived JSON document of one session.
type Record struct {
	Session  model.Session               `json:"session"`
	Set      model.RecallSet             `json:"set"`
	Messages []model.Message             `json:"messages"`
	Outcomes []model.RecallOutcome       `json:"outcomes"`
	Tangents []model.TangentEvent        `json:"tangents"`
	Summary  model.SessionMetricsSummary `json:"summary"`
}

// Archiver uploads completed sessions. Start subscribes to the bus; each
// session_completed event triggers one Archive call.
type Archiver struct {
	objects ObjectStore
	store   *store.Store
	bus     *event.Bus
	config  Config
	logger  *slog.Logger

	mu   sync.Mutex
	sub  *event.Subscription
	done chan struct{}
}

// New creates an Archiver.
func New(objects ObjectStore, st *store.Store, bus *event.Bus, cfg Config, logger *slog.Logger) *Archiver {
	cfg.Defaults()
	if logger == nil {
		logger = slog.Default()
	}
	return &Archiver{objects: objects, store: st, bus: bus, config: cfg, logger: logger}
}

// Start begins consuming session_completed events.
func (a *Archiver) Start() error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.sub != nil {
		return nil
	}
	a.sub = a.bus.Subscribe(event.OnlyTypes(event.SessionCompleted))
	a.done = make(chan struct{})
	go a.loop(a.sub, a.done)
	return nil
}

// Stop unsubscribes and waits for an in-flight upload.
func (a *Archiver) Stop(ctx context.Context) error {
	a.mu.Lock()
	sub, done := a.sub, a.done
	a.sub, a.done = nil, nil
	a.mu.Unlock()
	if sub == nil {
		return nil
	}
	sub.Close()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (a *Archiver) loop(sub *event.Subscription, done chan struct{}) {
	defer close(done)
	for evt := range sub.C() {
		ctx, cancel := context.WithTimeout(context.Background(), a.config.Timeout)
		if err := a.Archive(ctx, evt.SessionID); err != nil {
			a.logger.Error("archive: upload failed", "session_id", evt.SessionID, "error", err)
		} else {
			a.logger.Info("archive: session archived", "session_id", evt.SessionID)
		}
		cancel()
	}
}

// Archive uploads the record and transcript of sessionID.
func (a *Archiver) Archive(ctx context.Context, sessionID string) error {
	rec, err := a.load(ctx, sessionID)
	if err != nil {
		return err
	}

	data, err := json.MarshalIndent(rec, "", "  ")
	if err != nil {
		return fmt.Errorf("archive: encoding %s: %w", sessionID, err)
	}
	base := Key(a.config.Prefix, rec.Session)
	if err := a.objects.Put(ctx, base+".json", data, "application/json"); err != nil {
		return err
	}
	return a.objects.Put(ctx, base+".md", []byte(Transcript(rec)), "text/markdown")
}

func (a *Archiver) load(ctx context.Context, sessionID string) (Record, error) {
	var rec Record
	var err error
	if rec.Session, err = a.store.Sessions.FindByID(ctx, sessionID); err != nil {
		return rec, fmt.Errorf("archive: loading session %s: %w", sessionID, err)
	}
	if rec.Set, err = a.store.Sets.FindByID(ctx, rec.Session.SetID); err != nil {
		return rec, fmt.Errorf("archive: loading set %s: %w", rec.Session.SetID, err)
	}
	if rec.Messages, err = a.store.Messages.FindBySession(ctx, sessionID); err != nil {
		return rec, fmt.Errorf("archive: loading messages: %w", err)
	}
	if rec.Outcomes, err = a.store.Outcomes.FindBySession(ctx, sessionID); err != nil {
		return rec, fmt.Errorf("archive: loading outcomes: %w", err)
	}
	if rec.Tangents, err = a.store.Tangents.FindBySession(ctx, sessionID); err != nil {
		return rec, fmt.Errorf("archive: loading tangents: %w", err)
	}
	rec.Summary, err = a.store.Metrics.FindBySession(ctx, sessionID)
	if err != nil && !errors.Is(err, store.ErrNotFound) {
		return rec, fmt.Errorf("archive: loading summary: %w", err)
	}
	return rec, nil
}

// Key returns the object key, without extension, for sess:
// <prefix>/<set id>/<yyyy-mm-dd>/<session id>.
func Key(prefix string, sess model.Session) string {
	return path.Join(prefix, sess.SetID, sess.StartedAt.UTC().Format("2006-01-02"), sess.ID)
}

// Transcript renders rec as Markdown.
func Transcript(rec Record) string {
	var b strings.Builder
	fmt.Fprintf(&b, "# %s\n\n", rec.Set.Name)
	fmt.Fprintf(&b, "Session `%s`, %s, %d/%d points recalled.\n\n",
		rec.Session.ID, rec.Session.Status, len(rec.Session.RecalledPointIDs), len(rec.Session.TargetPointIDs))
	for _, m := range rec.Messages {
		who := "Tutor"
		if m.Role == model.RoleUser {
			who = "Learner"
		}
		fmt.Fprintf(&b, "**%s** (%s)\n\n%s\n\n", who, m.Timestamp.UTC().Format(time.TimeOnly), m.Content)
	}
	if len(rec.Tangents) > 0 {
		b.WriteString("## Tangents\n\n")
		for _, t := range rec.Tangents {
			fmt.Fprintf(&b, "- %s (%s)\n", t.Topic, t.Status)
		}
		b.WriteString("\n")
	}
	if rec.Summary.SessionID != "" {
		fmt.Fprintf(&b, "## Summary\n\nRecall rate %.0f%%, %d messages, %s, est. $%.4f.\n",
			rec.Summary.RecallRate*100, rec.Summary.TotalMessages,
			rec.Summary.Duration.Round(time.Second), rec.Summary.EstimatedCostUSD)
	}
	return b.String()
}
