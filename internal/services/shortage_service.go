package services

import (
	"context"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"

	"example.com/backstage/services/shortage/config"
	"example.com/backstage/services/shortage/internal/analytics"
	"example.com/backstage/services/shortage/internal/cache"
	"example.com/backstage/services/shortage/internal/clock"
	"example.com/backstage/services/shortage/internal/domain"
	"example.com/backstage/services/shortage/internal/models"
	"example.com/backstage/services/shortage/internal/search"
	"example.com/backstage/services/shortage/internal/store"
	"example.com/backstage/services/shortage/internal/telemetry"
	"example.com/backstage/services/shortage/internal/tracing"
)

const (
	defaultSearchLimit = 20
	reindexBatchSize   = 500
)

var (
	// ErrSearchUnavailable is returned when neither the index nor the catalog can serve a search
	ErrSearchUnavailable = errors.New("material search is not configured")
	// ErrCatalogUnavailable is returned by catalog reads when no catalog is wired
	ErrCatalogUnavailable = errors.New("material catalog is not configured")
)

// DashboardCache stores computed dashboards by key
type DashboardCache interface {
	Get(ctx context.Context, key string, value interface{}) error
	Set(ctx context.Context, key string, value interface{}, expiration time.Duration) error
	Delete(ctx context.Context, keys ...string) error
}

// MaterialIndex is the search index over the part catalog
type MaterialIndex interface {
	EnsureIndex(ctx context.Context) error
	IndexMaterials(ctx context.Context, materials []models.Material) error
	SearchMaterials(ctx context.Context, term string, limit int) ([]models.Material, error)
}

// MaterialCatalog is the authoritative part catalog
type MaterialCatalog interface {
	Search(ctx context.Context, term string, limit int) ([]models.Material, error)
	GetByPartCode(ctx context.Context, partCode string) (*models.Material, error)
	BySource(ctx context.Context, source string) ([]models.Material, error)
	All(ctx context.Context, batchSize int, fn func([]models.Material) error) error
}

// ImageResolver finds the image of a part
type ImageResolver interface {
	PartImageURL(ctx context.Context, partCode string) string
}

// ChangeNotifier announces committed case writes to other processes
type ChangeNotifier interface {
	NotifyCaseChanged(ctx context.Context, caseID string, paths []string) error
}

// refresher is implemented by stores that can reload state written elsewhere
type refresher interface {
	Refresh(ctx context.Context) error
}

// Dependencies wires the service. Only Store is required.
type Dependencies struct {
	Store    store.Store
	Cache    DashboardCache
	Index    MaterialIndex
	Catalog  MaterialCatalog
	Images   ImageResolver
	Notifier ChangeNotifier
	Tracer   tracing.Tracer
	Clock    clock.Clock
	Metrics  *telemetry.Collector
}

// MaterialHit is a catalog search result with its display flag and suggested reason
type MaterialHit struct {
	models.Material
	SourceFlag      string `json:"sourceFlag"`
	SuggestedReason string `json:"suggestedReason,omitempty"`
}

// RootCauseView is the root-cause table with its completion summary
type RootCauseView struct {
	Items []analytics.RootCauseItem `json:"items"`
	Stats analytics.RootCauseStats  `json:"stats"`
}

// ShortageService handles shortage-case business logic
type ShortageService struct {
	store    store.Store
	cache    DashboardCache
	index    MaterialIndex
	catalog  MaterialCatalog
	images   ImageResolver
	notifier ChangeNotifier
	tracer   tracing.Tracer
	clock    clock.Clock
	metrics  *telemetry.Collector
	engine   config.EngineConfig
	opts     analytics.Options

	mu      sync.RWMutex
	latest  models.Snapshot
	live    bool
	pending chan struct{}

	// gen counts state changes; cached dashboards are trusted only once cleanGen has caught up
	gen      atomic.Uint64
	cleanGen atomic.Uint64
}

// NewShortageService creates a new shortage service
func NewShortageService(deps Dependencies, engine config.EngineConfig) *ShortageService {
	if deps.Tracer == nil {
		deps.Tracer = &tracing.NewRelicTracer{}
	}
	if deps.Clock == nil {
		deps.Clock = clock.System{}
	}
	if deps.Metrics == nil {
		deps.Metrics = telemetry.GetCollector()
	}
	if deps.Cache == nil {
		deps.Cache = cache.NewRedisCacheWithClient(nil)
	}
	teams := engine.Teams
	if len(teams) == 0 {
		teams = config.DefaultTeams
	}

	return &ShortageService{
		store:    deps.Store,
		cache:    deps.Cache,
		index:    deps.Index,
		catalog:  deps.Catalog,
		images:   deps.Images,
		notifier: deps.Notifier,
		tracer:   deps.Tracer,
		clock:    deps.Clock,
		metrics:  deps.Metrics,
		engine:   engine,
		opts: analytics.Options{
			Location:       engine.LoadLocation(),
			TrendWeeks:     engine.TrendWeeks,
			TeamTrendWeeks: engine.TeamTrendWeeks,
			Teams:          teams,
		},
		pending: make(chan struct{}, 1),
	}
}

// Run subscribes to the store and keeps every window's cached dashboard in step with the
// delivered snapshots until ctx is done
func (s *ShortageService) Run(ctx context.Context) error {
	cancel, err := s.store.Subscribe(ctx, s.OnSnapshot)
	if err != nil {
		return errors.Wrap(err, "failed to subscribe to case store")
	}
	defer cancel()
	defer s.setLive(false)

	log.Info().Msg("Subscribed to case snapshots")

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-s.pending:
			g := s.gen.Load()
			s.invalidate(ctx)
			if err := s.recompute(ctx, s.snapshot(), g); err != nil {
				log.Error().Err(err).Msg("Failed to recompute dashboards")
			}
		}
	}
}

// OnSnapshot takes a delivered snapshot as the current state. Cached dashboards stop being
// served at once and are dropped and rebuilt by Run.
func (s *ShortageService) OnSnapshot(snapshot models.Snapshot) {
	s.mu.Lock()
	s.latest = snapshot
	s.live = true
	s.mu.Unlock()
	s.gen.Add(1)

	open := 0
	for _, c := range snapshot {
		if !c.Status.IsResolved() {
			open++
		}
	}
	s.metrics.RecordSnapshot(len(snapshot), open)

	select {
	case s.pending <- struct{}{}:
	default:
	}
}

// Refresh reloads the store from its backing database when it supports that
func (s *ShortageService) Refresh(ctx context.Context) error {
	if r, ok := s.store.(refresher); ok {
		return r.Refresh(ctx)
	}
	return nil
}

// Reconcile refreshes the store, or recomputes from the current snapshot when the store
// cannot be refreshed
func (s *ShortageService) Reconcile(ctx context.Context) error {
	if _, ok := s.store.(refresher); ok {
		return s.Refresh(ctx)
	}
	return s.RecomputeAll(ctx)
}

// RecomputeAll rebuilds and caches the dashboard of every window
func (s *ShortageService) RecomputeAll(ctx context.Context) error {
	g := s.gen.Load()
	snap, err := s.current(ctx)
	if err != nil {
		return err
	}
	return s.recompute(ctx, snap, g)
}

// recompute caches every window built from snap, which must be at least as new as generation g
func (s *ShortageService) recompute(ctx context.Context, snap models.Snapshot, g uint64) error {
	now := s.clock.Now()
	cases := analytics.NormalizeSnapshot(snap, now, s.opts.Location)

	eg, ctx := errgroup.WithContext(ctx)
	for _, w := range analytics.Windows {
		w := w
		eg.Go(func() error {
			start := time.Now()
			d := analytics.BuildDashboardFromCases(cases, now, string(w), s.opts)
			s.metrics.RecordOperation(telemetry.OperationDashboard, true, time.Since(start))
			if err := s.storeDashboard(ctx, cache.GetDashboardCacheKey(string(w)), d, g); err != nil {
				return errors.Wrapf(err, "failed to cache %s dashboard", w)
			}
			return nil
		})
	}
	return eg.Wait()
}

// Dashboard returns every derived view for window. An empty window uses the configured
// default; unknown tokens fall back to month.
func (s *ShortageService) Dashboard(ctx context.Context, window string) (analytics.Dashboard, error) {
	txn := s.tracer.StartTransaction("dashboard")
	defer s.tracer.EndTransaction(txn)

	if window == "" {
		window = s.engine.DefaultWindow
	}
	w := analytics.ParseWindow(window)
	s.tracer.AddAttribute(txn, "window", string(w))
	key := cache.GetDashboardCacheKey(string(w))

	var d analytics.Dashboard
	g := s.gen.Load()
	if s.cleanGen.Load() >= g {
		err := s.cache.Get(ctx, key, &d)
		if err == nil {
			s.metrics.RecordCache(true)
			return d, nil
		}
		if !errors.Is(err, cache.ErrCacheMiss) {
			log.Warn().Err(err).Str("key", key).Msg("Dashboard cache read failed")
		}
	}
	s.metrics.RecordCache(false)

	snap, err := s.current(ctx)
	if err != nil {
		s.tracer.RecordError(txn, err)
		return analytics.Dashboard{}, err
	}

	start := time.Now()
	segment := s.tracer.StartSegment("build-dashboard", txn)
	d = analytics.BuildDashboard(snap, s.clock.Now(), string(w), s.opts)
	segment.End()
	s.metrics.RecordOperation(telemetry.OperationDashboard, true, time.Since(start))

	if err := s.storeDashboard(ctx, key, d, g); err != nil {
		log.Warn().Err(err).Str("key", key).Msg("Failed to cache dashboard")
	}
	return d, nil
}

// storeDashboard caches d, built from the state of generation g, unless the state has moved on.
// A change that lands while the write is in flight removes the entry again.
func (s *ShortageService) storeDashboard(ctx context.Context, key string, d analytics.Dashboard, g uint64) error {
	if s.gen.Load() != g {
		return nil
	}
	if err := s.cache.Set(ctx, key, d, s.engine.CacheTTL); err != nil {
		return err
	}
	if s.gen.Load() != g {
		return s.cache.Delete(ctx, key)
	}
	return nil
}

// Summary returns the filtered case table
func (s *ShortageService) Summary(ctx context.Context, filter analytics.SummaryFilter) (analytics.Summary, error) {
	cases, err := s.normalized(ctx)
	if err != nil {
		return analytics.Summary{}, err
	}
	return analytics.BuildSummary(cases, filter), nil
}

// RootCauses returns the root-cause items matching term, incomplete first
func (s *ShortageService) RootCauses(ctx context.Context, term string) (RootCauseView, error) {
	cases, err := s.normalized(ctx)
	if err != nil {
		return RootCauseView{}, err
	}
	items := analytics.FilterRootCauses(analytics.DeriveRootCauses(cases), term)
	analytics.SortRootCauses(items)
	if items == nil {
		items = []analytics.RootCauseItem{}
	}
	return RootCauseView{Items: items, Stats: analytics.SummarizeRootCauses(items)}, nil
}

// GetCase returns one case with its derived fields
func (s *ShortageService) GetCase(ctx context.Context, id string) (*analytics.NormalizedCase, error) {
	c, err := s.store.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	n := analytics.Normalize(*c, s.clock.Now(), s.opts.Location)
	return &n, nil
}

// Options returns the selectable values for case fields
func (s *ShortageService) Options() domain.Options {
	return domain.ListOptions(s.opts.Teams)
}

// CreateCase validates and stores a new case
func (s *ShortageService) CreateCase(ctx context.Context, cmd domain.CreateCaseCommand) (*models.ShortageCase, error) {
	start := time.Now()
	txn := s.tracer.StartTransaction("case-create")
	defer s.tracer.EndTransaction(txn)
	s.tracer.AddAttribute(txn, "part_code", cmd.PartCode)

	created, err := s.create(ctx, cmd)
	s.metrics.RecordOperation(telemetry.OperationCreate, err == nil, time.Since(start))
	if err != nil {
		s.tracer.RecordError(txn, err)
		s.recordRejection(err)
		log.Warn().Err(err).Str("part_code", cmd.PartCode).Msg("Case creation rejected")
		return nil, err
	}

	log.Info().
		Str("case_id", created.ID).
		Str("part_code", created.PartCode).
		Msg("Shortage case created")
	s.afterWrite(ctx, created.ID, nil)
	return created, nil
}

func (s *ShortageService) create(ctx context.Context, cmd domain.CreateCaseCommand) (*models.ShortageCase, error) {
	record, err := domain.NewCase(cmd, s.clock.Now())
	if err != nil {
		return nil, err
	}
	return s.store.Create(ctx, record)
}

// ChangeStatus moves a case to the requested workflow step
func (s *ShortageService) ChangeStatus(ctx context.Context, cmd domain.ChangeStatusCommand) (*models.ShortageCase, error) {
	return s.write(ctx, telemetry.OperationStatus, cmd.CaseID, cmd, func(c models.ShortageCase, now time.Time) (models.Patch, error) {
		return domain.ChangeStatus(c, cmd.Status, now)
	})
}

// SetETA records a new ETA. The case is moved to ordering from any status.
func (s *ShortageService) SetETA(ctx context.Context, cmd domain.SetETACommand) (*models.ShortageCase, error) {
	return s.write(ctx, telemetry.OperationETA, cmd.CaseID, cmd, func(c models.ShortageCase, now time.Time) (models.Patch, error) {
		return domain.SetETA(c, cmd.ETA, now)
	})
}

// AssignTeam changes the owning team
func (s *ShortageService) AssignTeam(ctx context.Context, cmd domain.AssignTeamCommand) (*models.ShortageCase, error) {
	return s.write(ctx, telemetry.OperationTeam, cmd.CaseID, cmd, func(_ models.ShortageCase, now time.Time) (models.Patch, error) {
		return domain.AssignTeam(strings.TrimSpace(cmd.Team), now), nil
	})
}

// SetSource changes where the shortage came from
func (s *ShortageService) SetSource(ctx context.Context, cmd domain.SetSourceCommand) (*models.ShortageCase, error) {
	return s.write(ctx, telemetry.OperationSource, cmd.CaseID, cmd, func(_ models.ShortageCase, now time.Time) (models.Patch, error) {
		return domain.SetSource(cmd.Source, now), nil
	})
}

// SetTransport changes the transport mode
func (s *ShortageService) SetTransport(ctx context.Context, cmd domain.SetTransportCommand) (*models.ShortageCase, error) {
	return s.write(ctx, telemetry.OperationTransport, cmd.CaseID, cmd, func(_ models.ShortageCase, now time.Time) (models.Patch, error) {
		return domain.SetTransport(cmd.Transport, now), nil
	})
}

// ToggleRootCause flips the completion of one root-cause item
func (s *ShortageService) ToggleRootCause(ctx context.Context, cmd domain.RootCauseCommand) (*models.ShortageCase, error) {
	return s.write(ctx, telemetry.OperationRootCauseToggle, cmd.CaseID, cmd, func(c models.ShortageCase, now time.Time) (models.Patch, error) {
		return domain.ToggleRootCause(c, cmd.Reason, now)
	})
}

// SetRootCause sets the completion of one root-cause item. Repeating it changes nothing.
func (s *ShortageService) SetRootCause(ctx context.Context, cmd domain.SetRootCauseCommand) (*models.ShortageCase, error) {
	return s.write(ctx, telemetry.OperationRootCauseSet, cmd.CaseID, cmd, func(c models.ShortageCase, now time.Time) (models.Patch, error) {
		return domain.SetRootCause(c, cmd.Reason, *cmd.Completed, now)
	})
}

// SetNotes replaces the free-text notes of a case
func (s *ShortageService) SetNotes(ctx context.Context, cmd domain.SetNotesCommand) (*models.ShortageCase, error) {
	return s.write(ctx, telemetry.OperationNotes, cmd.CaseID, cmd, func(_ models.ShortageCase, now time.Time) (models.Patch, error) {
		return domain.SetNotes(cmd.Notes, now), nil
	})
}

// DeleteRootCause removes the saved state of one root-cause item
func (s *ShortageService) DeleteRootCause(ctx context.Context, cmd domain.RootCauseCommand) (*models.ShortageCase, error) {
	return s.write(ctx, telemetry.OperationRootCauseDelete, cmd.CaseID, cmd, func(c models.ShortageCase, now time.Time) (models.Patch, error) {
		return domain.DeleteRootCause(c, cmd.Reason, now)
	})
}

type patchBuilder func(c models.ShortageCase, now time.Time) (models.Patch, error)

// write validates cmd, reads the case, builds the patch and hands it to the store. Nothing is
// applied locally; the change shows up with the next snapshot.
func (s *ShortageService) write(ctx context.Context, op, caseID string, cmd interface{}, build patchBuilder) (*models.ShortageCase, error) {
	start := time.Now()
	txn := s.tracer.StartTransaction("case-" + op)
	defer s.tracer.EndTransaction(txn)
	s.tracer.AddAttribute(txn, "case_id", caseID)

	updated, patch, err := s.apply(ctx, caseID, cmd, build)
	s.metrics.RecordOperation(op, err == nil, time.Since(start))
	if err != nil {
		s.tracer.RecordError(txn, err)
		s.recordRejection(err)
		log.Warn().Err(err).Str("case_id", caseID).Str("operation", op).Msg("Case update rejected")
		return nil, err
	}

	s.afterWrite(ctx, caseID, patch.Paths())
	return updated, nil
}

func (s *ShortageService) apply(ctx context.Context, caseID string, cmd interface{}, build patchBuilder) (*models.ShortageCase, models.Patch, error) {
	if err := domain.ValidateStruct(cmd); err != nil {
		return nil, nil, err
	}
	current, err := s.store.Get(ctx, caseID)
	if err != nil {
		return nil, nil, err
	}
	patch, err := build(*current, s.clock.Now())
	if err != nil {
		return nil, nil, err
	}
	updated, err := s.store.Update(ctx, caseID, patch)
	if err != nil {
		return nil, nil, err
	}
	return updated, patch, nil
}

// recordRejection counts validation failures. Every write path goes through here, so callers
// must not count them again.
func (s *ShortageService) recordRejection(err error) {
	if domain.IsInvalid(err) {
		s.metrics.RecordError(telemetry.ErrorTypeValidation)
	}
}

// afterWrite announces the change and, without a live subscription, drops cached dashboards
func (s *ShortageService) afterWrite(ctx context.Context, caseID string, paths []string) {
	if s.notifier != nil {
		if err := s.notifier.NotifyCaseChanged(ctx, caseID, paths); err != nil {
			log.Warn().Err(err).Str("case_id", caseID).Msg("Failed to publish case change")
		}
	}
	if !s.isLive() {
		s.gen.Add(1)
		s.invalidate(ctx)
	}
}

// Kanban returns the kanban-managed parts of the catalog with their stock levels
func (s *ShortageService) Kanban(ctx context.Context, filter analytics.KanbanFilter) (analytics.KanbanView, error) {
	if s.catalog == nil {
		return analytics.KanbanView{}, ErrCatalogUnavailable
	}
	materials, err := s.catalog.BySource(ctx, string(models.SourceKanban))
	if err != nil {
		return analytics.KanbanView{}, err
	}
	return analytics.BuildKanbanView(materials, filter), nil
}

// CreateFromKanban raises a shortage for a kanban part, dated today
func (s *ShortageService) CreateFromKanban(ctx context.Context, partCode string) (*models.ShortageCase, error) {
	if s.catalog == nil {
		return nil, ErrCatalogUnavailable
	}
	m, err := s.catalog.GetByPartCode(ctx, strings.TrimSpace(partCode))
	if err != nil {
		return nil, err
	}
	today := s.clock.Now().In(s.opts.Location).Format("2006-01-02")
	return s.CreateCase(ctx, domain.KanbanCase(*m, today))
}

// SearchMaterials looks up catalog parts. Terms shorter than three characters match nothing.
// The search index is tried first and the catalog database serves when it fails.
func (s *ShortageService) SearchMaterials(ctx context.Context, term string, limit int) ([]MaterialHit, error) {
	term = strings.TrimSpace(term)
	if len([]rune(term)) < search.MinTermLength {
		return []MaterialHit{}, nil
	}
	if limit <= 0 {
		limit = defaultSearchLimit
	}

	var (
		materials []models.Material
		err       = ErrSearchUnavailable
	)
	if s.index != nil {
		materials, err = s.index.SearchMaterials(ctx, term, limit)
		if err != nil {
			log.Warn().Err(err).Str("term", term).Msg("Search index unavailable, falling back to catalog")
		}
	}
	if err != nil && s.catalog != nil {
		materials, err = s.catalog.Search(ctx, term, limit)
	}
	if err != nil {
		return nil, err
	}

	hits := make([]MaterialHit, 0, len(materials))
	for _, m := range materials {
		hits = append(hits, MaterialHit{
			Material:        m,
			SourceFlag:      domain.SourceFlag(m.Source),
			SuggestedReason: domain.SuggestedReason(m),
		})
	}
	return hits, nil
}

// PartImage returns the image URL of a part, or "" when there is none
func (s *ShortageService) PartImage(ctx context.Context, partCode string) string {
	if s.images == nil {
		return ""
	}
	return s.images.PartImageURL(ctx, partCode)
}

// ReindexMaterials copies the whole catalog into the search index and returns the number of
// materials indexed
func (s *ShortageService) ReindexMaterials(ctx context.Context) (int, error) {
	if s.index == nil || s.catalog == nil {
		return 0, ErrSearchUnavailable
	}

	start := time.Now()
	txn := s.tracer.StartTransaction("reindex-materials")
	defer s.tracer.EndTransaction(txn)

	if err := s.index.EnsureIndex(ctx); err != nil {
		s.tracer.RecordError(txn, err)
		s.metrics.RecordOperation(telemetry.OperationReindex, false, time.Since(start))
		return 0, err
	}

	count := 0
	err := s.catalog.All(ctx, reindexBatchSize, func(batch []models.Material) error {
		if err := s.index.IndexMaterials(ctx, batch); err != nil {
			return err
		}
		count += len(batch)
		return nil
	})
	s.metrics.RecordOperation(telemetry.OperationReindex, err == nil, time.Since(start))
	if err != nil {
		s.tracer.RecordError(txn, err)
		return count, errors.Wrap(err, "failed to reindex materials")
	}

	log.Info().Int("count", count).Dur("duration", time.Since(start)).Msg("Materials reindexed")
	return count, nil
}

func (s *ShortageService) normalized(ctx context.Context) ([]analytics.NormalizedCase, error) {
	snap, err := s.current(ctx)
	if err != nil {
		return nil, err
	}
	return analytics.NormalizeSnapshot(snap, s.clock.Now(), s.opts.Location), nil
}

// current is the last delivered snapshot, or a fresh read when nothing is subscribed
func (s *ShortageService) current(ctx context.Context) (models.Snapshot, error) {
	s.mu.RLock()
	snap, live := s.latest, s.live
	s.mu.RUnlock()
	if live {
		return snap, nil
	}
	return s.store.Snapshot(ctx)
}

func (s *ShortageService) snapshot() models.Snapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.latest
}

func (s *ShortageService) isLive() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.live
}

func (s *ShortageService) setLive(live bool) {
	s.mu.Lock()
	s.live = live
	s.mu.Unlock()
}

// invalidate drops every cached dashboard and marks the current generation clean
func (s *ShortageService) invalidate(ctx context.Context) {
	g := s.gen.Load()
	keys := make([]string, 0, len(analytics.Windows))
	for _, w := range analytics.Windows {
		keys = append(keys, cache.GetDashboardCacheKey(string(w)))
	}
	if err := s.cache.Delete(ctx, keys...); err != nil {
		log.Warn().Err(err).Msg("Failed to drop cached dashboards")
		return
	}
	for {
		clean := s.cleanGen.Load()
		if clean >= g || s.cleanGen.CompareAndSwap(clean, g) {
			return
		}
	}
}
