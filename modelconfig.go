package authkit

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/casbin/casbin/v2/model"
	"github.com/google/uuid"
	"github.com/pmezard/go-difflib/difflib"

	"github.com/altlock/authkit/logger"
)

// ModelStatus is the lifecycle state of a model configuration version.
type ModelStatus string

const (
	ModelStatusDraft    ModelStatus = "draft"
	ModelStatusActive   ModelStatus = "active"
	ModelStatusArchived ModelStatus = "archived"
)

// ModelConfig is one versioned casbin model definition. Version numbers are
// monotonic per store. At most one version is Active at any time.
type ModelConfig struct {
	ID         string      `json:"id" yaml:"id"`
	Content    string      `json:"content" yaml:"content"`
	Version    int         `json:"version" yaml:"version"`
	Status     ModelStatus `json:"status" yaml:"status"`
	Remark     string      `json:"remark,omitempty" yaml:"remark,omitempty"`
	CreatedBy  string      `json:"created_by" yaml:"created_by"`
	CreatedAt  time.Time   `json:"created_at" yaml:"created_at"`
	ApprovedBy string      `json:"approved_by,omitempty" yaml:"approved_by,omitempty"`
	ApprovedAt time.Time   `json:"approved_at,omitempty" yaml:"approved_at,omitempty"`
}

// ModelConfigStore persists model configuration versions.
type ModelConfigStore interface {
	Insert(ctx context.Context, mc *ModelConfig) error
	Get(ctx context.Context, id string) (*ModelConfig, error)

	// Active returns the single active version, or nil if none exists.
	Active(ctx context.Context) (*ModelConfig, error)

	// NextVersion returns the next monotonic version number.
	NextVersion(ctx context.Context) (int, error)

	// Activate atomically archives the current active version (if any)
	// and marks the target active with the given approval metadata. It
	// must never leave two active rows, even under concurrent calls.
	Activate(ctx context.Context, id, approvedBy string, approvedAt time.Time) error

	// List returns all versions ordered by version number.
	List(ctx context.Context) ([]*ModelConfig, error)
}

// Reloader receives the newly active model content after a publish or
// rollback commits. Reload failures surface to the publish caller but the
// store transition has already happened.
type Reloader interface {
	ReloadModel(ctx context.Context, content string) error
}

var (
	// ErrModelInvalid reports model text that does not parse as a casbin
	// model grammar.
	ErrModelInvalid = errors.New("model content does not parse")

	// ErrNotArchived reports a rollback aimed at a version that is not
	// archived. Rolling back onto a draft is meaningless; publish it
	// instead.
	ErrNotArchived = errors.New("rollback target is not archived")
)

// Versioner manages the draft -> active -> archived lifecycle of model
// configurations and drives the enforcement engine reload on publish.
type Versioner struct {
	store    ModelConfigStore
	reloader Reloader
	log      logger.Logger
	newID    func() string
	now      func() time.Time
}

type VersionerOption func(*Versioner) error

// WithReloader installs the reload target invoked after publish/rollback.
func WithReloader(r Reloader) VersionerOption {
	return func(v *Versioner) error {
		v.reloader = r
		return nil
	}
}

// WithVersionerLogger installs a Logger on the Versioner.
func WithVersionerLogger(l logger.Logger) VersionerOption {
	return func(v *Versioner) error {
		v.log = l
		return nil
	}
}

// WithVersionerClock overrides the time source. Intended for tests.
func WithVersionerClock(now func() time.Time) VersionerOption {
	return func(v *Versioner) error {
		v.now = now
		return nil
	}
}

func NewVersioner(store ModelConfigStore, opts ...VersionerOption) (*Versioner, error) {
	v := &Versioner{
		store: store,
		log:   logger.NewNull(),
		newID: uuid.NewString,
		now:   time.Now,
	}
	for _, opt := range opts {
		if err := opt(v); err != nil {
			return nil, err
		}
	}
	return v, nil
}

// CreateDraft validates the model text and inserts it as a new draft with
// the next version number.
func (v *Versioner) CreateDraft(ctx context.Context, content, remark, createdBy string) (*ModelConfig, error) {
	if _, err := model.NewModelFromString(content); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrModelInvalid, err)
	}
	version, err := v.store.NextVersion(ctx)
	if err != nil {
		return nil, err
	}
	mc := &ModelConfig{
		ID:        v.newID(),
		Content:   content,
		Version:   version,
		Status:    ModelStatusDraft,
		Remark:    remark,
		CreatedBy: createdBy,
		CreatedAt: v.now(),
	}
	if err := v.store.Insert(ctx, mc); err != nil {
		return nil, err
	}
	v.log.Info("model draft created", "id", mc.ID, "version", mc.Version, "created_by", createdBy)
	return mc, nil
}

// Publish activates the target version, archiving whatever was active
// before, then reloads the enforcement engine with the new content. The
// store transition and the reload are separate steps: a reload failure is
// returned but does not undo the activation.
func (v *Versioner) Publish(ctx context.Context, id, approvedBy string) (*ModelConfig, error) {
	mc, err := v.store.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	return v.activate(ctx, mc, approvedBy)
}

// Rollback reactivates a previously archived version. Targets that are not
// archived are rejected with ErrNotArchived.
func (v *Versioner) Rollback(ctx context.Context, id, approvedBy string) (*ModelConfig, error) {
	mc, err := v.store.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if mc.Status != ModelStatusArchived {
		return nil, fmt.Errorf("%w: version %d is %s", ErrNotArchived, mc.Version, mc.Status)
	}
	return v.activate(ctx, mc, approvedBy)
}

func (v *Versioner) activate(ctx context.Context, mc *ModelConfig, approvedBy string) (*ModelConfig, error) {
	at := v.now()
	if err := v.store.Activate(ctx, mc.ID, approvedBy, at); err != nil {
		return nil, err
	}
	mc.Status = ModelStatusActive
	mc.ApprovedBy = approvedBy
	mc.ApprovedAt = at
	v.log.Info("model version activated", "id", mc.ID, "version", mc.Version, "approved_by", approvedBy)

	if v.reloader != nil {
		if err := v.reloader.ReloadModel(ctx, mc.Content); err != nil {
			v.log.Error("model reload after activation failed", "id", mc.ID, "error", err)
			return mc, err
		}
	}
	return mc, nil
}

// Diff returns a unified diff between the contents of two versions.
// Read-only; no state change.
func (v *Versioner) Diff(ctx context.Context, fromID, toID string) (string, error) {
	from, err := v.store.Get(ctx, fromID)
	if err != nil {
		return "", err
	}
	to, err := v.store.Get(ctx, toID)
	if err != nil {
		return "", err
	}
	return difflib.GetUnifiedDiffString(difflib.UnifiedDiff{
		A:        difflib.SplitLines(from.Content),
		B:        difflib.SplitLines(to.Content),
		FromFile: fmt.Sprintf("version %d", from.Version),
		ToFile:   fmt.Sprintf("version %d", to.Version),
		Context:  3,
	})
}

// Active returns the currently active version, or nil when nothing has
// been published yet.
func (v *Versioner) Active(ctx context.Context) (*ModelConfig, error) {
	return v.store.Active(ctx)
}

// List returns every version ordered by version number.
func (v *Versioner) List(ctx context.Context) ([]*ModelConfig, error) {
	return v.store.List(ctx)
}

// Summary renders a one-line description of a version, used by the CLI.
func (mc *ModelConfig) Summary() string {
	b := strings.Builder{}
	fmt.Fprintf(&b, "v%d [%s] %s", mc.Version, mc.Status, mc.ID)
	if mc.Remark != "" {
		fmt.Fprintf(&b, " - %s", mc.Remark)
	}
	return b.String()
}
