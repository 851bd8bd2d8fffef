package services

import (
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"example.com/backstage/services/shortage/config"
	"example.com/backstage/services/shortage/internal/analytics"
	"example.com/backstage/services/shortage/internal/cache"
	"example.com/backstage/services/shortage/internal/clock"
	"example.com/backstage/services/shortage/internal/domain"
	"example.com/backstage/services/shortage/internal/models"
	"example.com/backstage/services/shortage/internal/store"
	"example.com/backstage/services/shortage/internal/telemetry"
)

var serviceNow = time.Date(2024, 6, 15, 12, 0, 0, 0, time.UTC)

// MockCache is a mock implementation of DashboardCache
type MockCache struct {
	mock.Mock
}

func (m *MockCache) Get(ctx context.Context, key string, value interface{}) error {
	return m.Called(ctx, key, value).Error(0)
}

func (m *MockCache) Set(ctx context.Context, key string, value interface{}, expiration time.Duration) error {
	return m.Called(ctx, key, value, expiration).Error(0)
}

func (m *MockCache) Delete(ctx context.Context, keys ...string) error {
	return m.Called(ctx, keys).Error(0)
}

// MockIndex is a mock implementation of MaterialIndex
type MockIndex struct {
	mock.Mock
}

func (m *MockIndex) EnsureIndex(ctx context.Context) error {
	return m.Called(ctx).Error(0)
}

func (m *MockIndex) IndexMaterials(ctx context.Context, materials []models.Material) error {
	return m.Called(ctx, materials).Error(0)
}

func (m *MockIndex) SearchMaterials(ctx context.Context, term string, limit int) ([]models.Material, error) {
	args := m.Called(ctx, term, limit)
	materials, _ := args.Get(0).([]models.Material)
	return materials, args.Error(1)
}

// MockCatalog is a mock implementation of MaterialCatalog
type MockCatalog struct {
	mock.Mock
}

func (m *MockCatalog) Search(ctx context.Context, term string, limit int) ([]models.Material, error) {
	args := m.Called(ctx, term, limit)
	materials, _ := args.Get(0).([]models.Material)
	return materials, args.Error(1)
}

func (m *MockCatalog) GetByPartCode(ctx context.Context, partCode string) (*models.Material, error) {
	args := m.Called(ctx, partCode)
	material, _ := args.Get(0).(*models.Material)
	return material, args.Error(1)
}

func (m *MockCatalog) BySource(ctx context.Context, source string) ([]models.Material, error) {
	args := m.Called(ctx, source)
	materials, _ := args.Get(0).([]models.Material)
	return materials, args.Error(1)
}

func (m *MockCatalog) All(ctx context.Context, batchSize int, fn func([]models.Material) error) error {
	return m.Called(ctx, batchSize, fn).Error(0)
}

// MockNotifier is a mock implementation of ChangeNotifier
type MockNotifier struct {
	mock.Mock
}

func (m *MockNotifier) NotifyCaseChanged(ctx context.Context, caseID string, paths []string) error {
	return m.Called(ctx, caseID, paths).Error(0)
}

// memCache keeps dashboards as JSON, like the redis cache does
type memCache struct {
	mu   sync.Mutex
	data map[string][]byte
	sets int
}

func newMemCache() *memCache {
	return &memCache{data: map[string][]byte{}}
}

func (c *memCache) Get(_ context.Context, key string, value interface{}) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	raw, ok := c.data[key]
	if !ok {
		return cache.ErrCacheMiss
	}
	return json.Unmarshal(raw, value)
}

func (c *memCache) Set(_ context.Context, key string, value interface{}, _ time.Duration) error {
	raw, err := json.Marshal(value)
	if err != nil {
		return err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.data[key] = raw
	c.sets++
	return nil
}

func (c *memCache) Delete(_ context.Context, keys ...string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, k := range keys {
		delete(c.data, k)
	}
	return nil
}

// gatedCache holds the first Set after arm until release is closed
type gatedCache struct {
	*memCache
	mu      sync.Mutex
	armed   bool
	entered chan struct{}
	release chan struct{}
}

func newGatedCache() *gatedCache {
	return &gatedCache{
		memCache: newMemCache(),
		entered:  make(chan struct{}),
		release:  make(chan struct{}),
	}
}

func (c *gatedCache) arm() {
	c.mu.Lock()
	c.armed = true
	c.mu.Unlock()
}

func (c *gatedCache) Set(ctx context.Context, key string, value interface{}, expiration time.Duration) error {
	c.mu.Lock()
	hold := c.armed
	c.armed = false
	c.mu.Unlock()
	if hold {
		close(c.entered)
		<-c.release
	}
	return c.memCache.Set(ctx, key, value, expiration)
}

func (c *memCache) dashboard(window string) (analytics.Dashboard, bool) {
	var d analytics.Dashboard
	err := c.Get(context.Background(), cache.GetDashboardCacheKey(window), &d)
	return d, err == nil
}

func testEngine() config.EngineConfig {
	return config.EngineConfig{
		Teams:          config.DefaultTeams,
		TrendWeeks:     12,
		TeamTrendWeeks: 8,
		DefaultWindow:  "month",
		Location:       "UTC",
		CacheTTL:       time.Minute,
	}
}

func daysAgo(n int) string {
	return models.FormatInstant(serviceNow.Add(-time.Duration(n) * 24 * time.Hour))
}

func seedCases() []models.ShortageCase {
	return []models.ShortageCase{
		{
			ID:           "open-1",
			PartCode:     "P-100",
			DisplayName:  "Bracket",
			Source:       models.SourceKanban,
			Status:       models.StatusCreated,
			CreatedAt:    daysAgo(10),
			AssignedTeam: "Design",
			ReasonTags:   models.ReasonTags{domain.ReasonNoPartCode, "Unmapped Reason"},
		},
		{
			ID:           "done-1",
			PartCode:     "P-200",
			DisplayName:  "Hinge",
			Source:       models.SourceBOM,
			Status:       models.StatusReceived,
			CreatedAt:    daysAgo(20),
			ResolvedAt:   daysAgo(15),
			AssignedTeam: "Purchase",
			ReasonTags:   models.ReasonTags{domain.ReasonLeadDaysTooLong},
		},
	}
}

func newTestService(t *testing.T, deps Dependencies) (*ShortageService, *store.MemoryStore) {
	t.Helper()
	mem := store.NewMemoryStore(clock.Fixed(serviceNow), seedCases()...)
	deps.Store = mem
	deps.Clock = clock.Fixed(serviceNow)
	if deps.Metrics == nil {
		deps.Metrics = telemetry.NewCollector()
	}
	return NewShortageService(deps, testEngine()), mem
}

func TestCreateCaseStoresAndNotifies(t *testing.T) {
	ctx := context.Background()
	notifier := new(MockNotifier)
	notifier.On("NotifyCaseChanged", ctx, mock.AnythingOfType("string"), []string(nil)).Return(nil).Once()

	svc, mem := newTestService(t, Dependencies{Notifier: notifier})

	created, err := svc.CreateCase(ctx, domain.CreateCaseCommand{
		PartCode:     "P-300",
		DisplayName:  "Gasket",
		Source:       "bom",
		ShortageDate: "2024-06-14",
		ReasonTags:   []string{domain.ReasonInvestigate},
	})
	require.NoError(t, err)
	require.NotEmpty(t, created.ID)
	assert.Equal(t, models.StatusCreated, created.Status)
	assert.Equal(t, models.FormatInstant(serviceNow), created.CreatedAt)

	stored, err := mem.Get(ctx, created.ID)
	require.NoError(t, err)
	assert.Equal(t, "Gasket", stored.DisplayName)

	notifier.AssertExpectations(t)
}

func TestCreateCaseRejectsMissingReasons(t *testing.T) {
	ctx := context.Background()
	notifier := new(MockNotifier)
	metrics := telemetry.NewCollector()
	svc, mem := newTestService(t, Dependencies{Notifier: notifier, Metrics: metrics})

	_, err := svc.CreateCase(ctx, domain.CreateCaseCommand{PartCode: "P-1", ShortageDate: "2024-06-14"})
	require.Error(t, err)
	assert.True(t, domain.IsInvalid(err))

	snap, err := mem.Snapshot(ctx)
	require.NoError(t, err)
	assert.Len(t, snap, 2)
	assert.Equal(t, int64(1), metrics.Counter(telemetry.CounterCaseWritesRejected))
	assert.Equal(t, int64(1), metrics.ErrorCount(telemetry.ErrorTypeValidation))
	notifier.AssertNotCalled(t, "NotifyCaseChanged", mock.Anything, mock.Anything, mock.Anything)
}

func TestSetETAOnReceivedCaseForcesOrdering(t *testing.T) {
	ctx := context.Background()
	svc, _ := newTestService(t, Dependencies{})

	updated, err := svc.SetETA(ctx, domain.SetETACommand{CaseID: "done-1", ETA: "2024-07-01"})
	require.NoError(t, err)

	assert.Equal(t, models.StatusOrdering, updated.Status)
	assert.Empty(t, updated.ResolvedAt)
	assert.Equal(t, "2024-07-01", updated.ETA)
	require.Len(t, updated.ETAHistory, 1)
	assert.True(t, updated.ETAHistory[0].IsInitial)
}

func TestSetETARepeatedKeepsOneHistoryEntry(t *testing.T) {
	ctx := context.Background()
	svc, _ := newTestService(t, Dependencies{})
	cmd := domain.SetETACommand{CaseID: "open-1", ETA: "2024-07-01"}

	_, err := svc.SetETA(ctx, cmd)
	require.NoError(t, err)
	updated, err := svc.SetETA(ctx, cmd)
	require.NoError(t, err)
	require.Len(t, updated.ETAHistory, 1)

	updated, err = svc.SetETA(ctx, domain.SetETACommand{CaseID: "open-1", ETA: "2024-07-08"})
	require.NoError(t, err)
	require.Len(t, updated.ETAHistory, 2)
	assert.False(t, updated.ETAHistory[1].IsInitial)
}

func TestCreateCaseWithTakenIDLeavesCaseAlone(t *testing.T) {
	ctx := context.Background()
	svc, mem := newTestService(t, Dependencies{})

	_, err := svc.CreateCase(ctx, domain.CreateCaseCommand{
		ID:           "open-1",
		PartCode:     "P-999",
		ShortageDate: "2024-06-14",
		ReasonTags:   []string{domain.ReasonInvestigate},
	})
	require.True(t, errors.Is(err, store.ErrExists))

	stored, err := mem.Get(ctx, "open-1")
	require.NoError(t, err)
	assert.Equal(t, "P-100", stored.PartCode)
}

func TestChangeStatusWritesThroughStore(t *testing.T) {
	ctx := context.Background()
	notifier := new(MockNotifier)
	notifier.On("NotifyCaseChanged", ctx, "open-1", mock.Anything).Return(errors.New("bus down")).Once()
	svc, mem := newTestService(t, Dependencies{Notifier: notifier})

	updated, err := svc.ChangeStatus(ctx, domain.ChangeStatusCommand{CaseID: "open-1", Status: models.StatusReceived})
	require.NoError(t, err, "a failed notification does not fail the write")
	assert.Equal(t, models.StatusReceived, updated.Status)
	assert.Equal(t, models.FormatInstant(serviceNow), updated.ResolvedAt)

	stored, err := mem.Get(ctx, "open-1")
	require.NoError(t, err)
	assert.Equal(t, models.StatusReceived, stored.Status)
	notifier.AssertExpectations(t)
}

func TestRejectedWritesLeaveStoreUntouched(t *testing.T) {
	ctx := context.Background()
	svc, mem := newTestService(t, Dependencies{})
	before, err := mem.Snapshot(ctx)
	require.NoError(t, err)

	_, err = svc.ChangeStatus(ctx, domain.ChangeStatusCommand{CaseID: "open-1", Status: models.StatusCreated})
	assert.True(t, errors.Is(err, domain.ErrSameStatus))

	_, err = svc.ChangeStatus(ctx, domain.ChangeStatusCommand{CaseID: "open-1", Status: "shipped"})
	assert.True(t, domain.IsInvalid(err))

	_, err = svc.SetTransport(ctx, domain.SetTransportCommand{CaseID: "open-1", Transport: "Teleport"})
	assert.True(t, domain.IsInvalid(err))

	_, err = svc.AssignTeam(ctx, domain.AssignTeamCommand{CaseID: "missing", Team: "Store"})
	assert.True(t, errors.Is(err, store.ErrNotFound))

	_, err = svc.ToggleRootCause(ctx, domain.RootCauseCommand{CaseID: "open-1", Reason: "Unmapped Reason"})
	assert.True(t, errors.Is(err, domain.ErrUnmappedReason))

	after, err := mem.Snapshot(ctx)
	require.NoError(t, err)
	assert.Equal(t, before, after)
}

func TestFieldUpdates(t *testing.T) {
	ctx := context.Background()
	svc, _ := newTestService(t, Dependencies{})

	c, err := svc.AssignTeam(ctx, domain.AssignTeamCommand{CaseID: "open-1", Team: "  Store "})
	require.NoError(t, err)
	assert.Equal(t, "Store", c.AssignedTeam)

	c, err = svc.SetSource(ctx, domain.SetSourceCommand{CaseID: "open-1", Source: models.SourceLongtree})
	require.NoError(t, err)
	assert.Equal(t, models.SourceLongtree, c.Source)

	c, err = svc.SetTransport(ctx, domain.SetTransportCommand{CaseID: "open-1", Transport: "Airfreight"})
	require.NoError(t, err)
	assert.Equal(t, "Airfreight", c.Transport)
	assert.Equal(t, models.FormatInstant(serviceNow), c.LastUpdated)
}

func TestRootCauseToggleAndDelete(t *testing.T) {
	ctx := context.Background()
	svc, _ := newTestService(t, Dependencies{})

	view, err := svc.RootCauses(ctx, "")
	require.NoError(t, err)
	require.Len(t, view.Items, 2)
	assert.Equal(t, analytics.RootCauseStats{Total: 2, Completed: 0, Percentage: 0}, view.Stats)

	c, err := svc.ToggleRootCause(ctx, domain.RootCauseCommand{CaseID: "open-1", Reason: domain.ReasonNoPartCode})
	require.NoError(t, err)
	require.Contains(t, c.RootCauseSolutions, domain.ReasonNoPartCode)
	assert.True(t, c.RootCauseSolutions[domain.ReasonNoPartCode].Completed)

	view, err = svc.RootCauses(ctx, "")
	require.NoError(t, err)
	assert.Equal(t, 1, view.Stats.Completed)
	assert.Equal(t, 50, view.Stats.Percentage)
	assert.False(t, view.Items[0].Completed, "incomplete items sort first")

	view, err = svc.RootCauses(ctx, "p-100")
	require.NoError(t, err)
	require.Len(t, view.Items, 1)
	assert.Equal(t, "open-1", view.Items[0].CaseID)

	c, err = svc.DeleteRootCause(ctx, domain.RootCauseCommand{CaseID: "open-1", Reason: domain.ReasonNoPartCode})
	require.NoError(t, err)
	assert.Nil(t, c.RootCauseSolutions)
}

func TestSetRootCauseIsRepeatable(t *testing.T) {
	ctx := context.Background()
	svc, _ := newTestService(t, Dependencies{})
	done := true
	cmd := domain.SetRootCauseCommand{CaseID: "open-1", Reason: domain.ReasonNoPartCode, Completed: &done}

	first, err := svc.SetRootCause(ctx, cmd)
	require.NoError(t, err)
	second, err := svc.SetRootCause(ctx, cmd)
	require.NoError(t, err)

	assert.True(t, second.RootCauseSolutions[domain.ReasonNoPartCode].Completed)
	assert.Equal(t, first.RootCauseSolutions[domain.ReasonNoPartCode].CompletedDate,
		second.RootCauseSolutions[domain.ReasonNoPartCode].CompletedDate)

	_, err = svc.SetRootCause(ctx, domain.SetRootCauseCommand{CaseID: "open-1", Reason: domain.ReasonNoPartCode})
	assert.True(t, domain.IsInvalid(err), "completed is required")
}

func TestSetNotes(t *testing.T) {
	ctx := context.Background()
	notifier := new(MockNotifier)
	notifier.On("NotifyCaseChanged", ctx, "open-1", []string{models.FieldNotes, models.FieldLastUpdated}).Return(nil).Once()
	svc, mem := newTestService(t, Dependencies{Notifier: notifier})

	c, err := svc.SetNotes(ctx, domain.SetNotesCommand{CaseID: "open-1", Notes: "awaiting supplier reply"})
	require.NoError(t, err)
	assert.Equal(t, "awaiting supplier reply", c.Notes)

	stored, err := mem.Get(ctx, "open-1")
	require.NoError(t, err)
	assert.Equal(t, "awaiting supplier reply", stored.Notes)
	assert.Equal(t, models.FormatInstant(serviceNow), stored.LastUpdated)

	_, err = svc.SetNotes(ctx, domain.SetNotesCommand{CaseID: "missing", Notes: "x"})
	assert.True(t, errors.Is(err, store.ErrNotFound))
	notifier.AssertExpectations(t)
}

func TestKanban(t *testing.T) {
	ctx := context.Background()
	catalog := new(MockCatalog)
	catalog.On("BySource", ctx, "kanban").Return([]models.Material{
		{PartCode: "K-2", KanbanID: "KB-10", StockQty: 1, MinStock: 5},
		{PartCode: "K-1", KanbanID: "KB-3", StockQty: 9, MinStock: 5, OpenPOQty: 4},
	}, nil).Once()
	svc, _ := newTestService(t, Dependencies{Catalog: catalog})

	v, err := svc.Kanban(ctx, analytics.KanbanFilter{})
	require.NoError(t, err)
	require.Len(t, v.Items, 2)
	assert.Equal(t, "K-1", v.Items[0].PartCode)
	assert.Equal(t, analytics.StockRed, v.Items[1].StockLevel)
	catalog.AssertExpectations(t)

	svc, _ = newTestService(t, Dependencies{})
	_, err = svc.Kanban(ctx, analytics.KanbanFilter{})
	assert.True(t, errors.Is(err, ErrCatalogUnavailable))
}

func TestCreateFromKanban(t *testing.T) {
	ctx := context.Background()
	catalog := new(MockCatalog)
	catalog.On("GetByPartCode", ctx, "K-1").Return(&models.Material{
		PartCode:     "K-1",
		Description:  "Hex bolt M8",
		Source:       "kanban",
		SupplierName: "",
	}, nil).Once()
	catalog.On("GetByPartCode", ctx, "NOPE").Return(nil, errors.Wrap(models.ErrMaterialNotFound, "NOPE")).Once()
	svc, mem := newTestService(t, Dependencies{Catalog: catalog})

	created, err := svc.CreateFromKanban(ctx, " K-1 ")
	require.NoError(t, err)
	assert.Equal(t, "K-1", created.PartCode)
	assert.Equal(t, "Hex bolt M8", created.DisplayName)
	assert.Equal(t, models.SourceKanban, created.Source)
	assert.Equal(t, "N/A", created.SupplierName)
	assert.Equal(t, models.ReasonTags{domain.ReasonOther}, created.ReasonTags)
	assert.Empty(t, created.AssignedTeam)

	snap, err := mem.Snapshot(ctx)
	require.NoError(t, err)
	assert.Len(t, snap, 3)

	_, err = svc.CreateFromKanban(ctx, "NOPE")
	assert.True(t, errors.Is(err, models.ErrMaterialNotFound))
	catalog.AssertExpectations(t)
}

func TestDashboardServedFromCache(t *testing.T) {
	ctx := context.Background()
	c := new(MockCache)
	c.On("Get", ctx, "shortage:dashboard:quarter", mock.AnythingOfType("*analytics.Dashboard")).
		Run(func(args mock.Arguments) {
			d := args.Get(2).(*analytics.Dashboard)
			d.Window = analytics.WindowQuarter
			d.CaseCount = 42
		}).
		Return(nil).Once()

	metrics := telemetry.NewCollector()
	svc, _ := newTestService(t, Dependencies{Cache: c, Metrics: metrics})

	d, err := svc.Dashboard(ctx, "quarter")
	require.NoError(t, err)
	assert.Equal(t, 42, d.CaseCount)
	assert.Equal(t, int64(1), metrics.Counter(telemetry.CounterCacheHits))
	c.AssertNotCalled(t, "Set", mock.Anything, mock.Anything, mock.Anything, mock.Anything)
}

func TestDashboardComputedOnCacheMiss(t *testing.T) {
	ctx := context.Background()
	c := new(MockCache)
	c.On("Get", ctx, "shortage:dashboard:month", mock.Anything).Return(cache.ErrCacheMiss).Once()
	c.On("Set", ctx, "shortage:dashboard:month", mock.AnythingOfType("analytics.Dashboard"), time.Minute).Return(nil).Once()

	metrics := telemetry.NewCollector()
	svc, _ := newTestService(t, Dependencies{Cache: c, Metrics: metrics})

	d, err := svc.Dashboard(ctx, "")
	require.NoError(t, err)
	assert.Equal(t, analytics.WindowMonth, d.Window)
	assert.Equal(t, 2, d.CaseCount)
	assert.Equal(t, 1, d.KPIs.CurrentOpen)
	assert.Equal(t, 100, d.KPIs.SLA7)
	assert.Len(t, d.WeeklyTrend, 12)
	assert.Len(t, d.TeamTrend, 8)
	assert.Equal(t, int64(1), metrics.Counter(telemetry.CounterCacheMisses))
	c.AssertExpectations(t)
}

func TestDashboardSurvivesCacheFailure(t *testing.T) {
	ctx := context.Background()
	c := new(MockCache)
	c.On("Get", ctx, mock.Anything, mock.Anything).Return(errors.New("connection refused"))
	c.On("Set", ctx, mock.Anything, mock.Anything, mock.Anything).Return(errors.New("connection refused"))
	svc, _ := newTestService(t, Dependencies{Cache: c})

	d, err := svc.Dashboard(ctx, "week")
	require.NoError(t, err)
	assert.Equal(t, analytics.WindowWeek, d.Window)
}

func TestRunKeepsCachedDashboardsCurrent(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	mc := newMemCache()
	svc, _ := newTestService(t, Dependencies{Cache: mc})

	done := make(chan error, 1)
	go func() { done <- svc.Run(ctx) }()

	require.Eventually(t, func() bool {
		for _, w := range analytics.Windows {
			if _, ok := mc.dashboard(string(w)); !ok {
				return false
			}
		}
		return true
	}, time.Second, 10*time.Millisecond)

	_, err := svc.ChangeStatus(ctx, domain.ChangeStatusCommand{CaseID: "open-1", Status: models.StatusRequisition})
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		d, ok := mc.dashboard("month")
		return ok && d.KPIs.CurrentOpen == 1 && len(svc.snapshot()) == 2 &&
			svc.snapshot()["open-1"].Status == models.StatusRequisition
	}, time.Second, 10*time.Millisecond)

	cancel()
	require.NoError(t, <-done)
}

func TestDashboardBuiltBeforeAWriteIsNotCached(t *testing.T) {
	ctx := context.Background()
	gc := newGatedCache()
	svc, _ := newTestService(t, Dependencies{Cache: gc})
	gc.arm()

	built := make(chan analytics.Dashboard, 1)
	go func() {
		d, err := svc.Dashboard(ctx, "month")
		assert.NoError(t, err)
		built <- d
	}()
	<-gc.entered

	_, err := svc.ChangeStatus(ctx, domain.ChangeStatusCommand{CaseID: "open-1", Status: models.StatusReceived})
	require.NoError(t, err)
	close(gc.release)
	assert.Equal(t, 1, (<-built).KPIs.CurrentOpen)

	d, err := svc.Dashboard(ctx, "month")
	require.NoError(t, err)
	assert.Equal(t, 0, d.KPIs.CurrentOpen)
}

func TestLiveDashboardBuiltBeforeAWriteIsNotCached(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	gc := newGatedCache()
	svc, _ := newTestService(t, Dependencies{Cache: gc})
	done := make(chan error, 1)
	go func() { done <- svc.Run(ctx) }()

	require.Eventually(t, func() bool {
		for _, w := range analytics.Windows {
			if _, ok := gc.dashboard(string(w)); !ok {
				return false
			}
		}
		return true
	}, time.Second, 10*time.Millisecond)

	require.NoError(t, gc.Delete(ctx, cache.GetDashboardCacheKey("month")))
	gc.arm()

	built := make(chan analytics.Dashboard, 1)
	go func() {
		d, err := svc.Dashboard(ctx, "month")
		assert.NoError(t, err)
		built <- d
	}()
	<-gc.entered

	_, err := svc.ChangeStatus(ctx, domain.ChangeStatusCommand{CaseID: "open-1", Status: models.StatusReceived})
	require.NoError(t, err)
	close(gc.release)
	assert.Equal(t, 1, (<-built).KPIs.CurrentOpen)

	d, err := svc.Dashboard(ctx, "month")
	require.NoError(t, err)
	assert.Equal(t, 0, d.KPIs.CurrentOpen)

	require.Eventually(t, func() bool {
		cached, ok := gc.dashboard("month")
		return ok && cached.KPIs.CurrentOpen == 0
	}, time.Second, 10*time.Millisecond)

	cancel()
	require.NoError(t, <-done)
}

func TestSummary(t *testing.T) {
	ctx := context.Background()
	svc, _ := newTestService(t, Dependencies{})

	s, err := svc.Summary(ctx, analytics.SummaryFilter{})
	require.NoError(t, err)
	require.Len(t, s.Rows, 1)
	assert.Equal(t, "open-1", s.Rows[0].ID)
	assert.Equal(t, analytics.SeverityHigh, s.Rows[0].Severity)
	assert.Equal(t, []string{"Design", "Purchase"}, s.Teams)

	s, err = svc.Summary(ctx, analytics.SummaryFilter{Status: analytics.StatusAll, Search: "hinge"})
	require.NoError(t, err)
	require.Len(t, s.Rows, 1)
	assert.Equal(t, "done-1", s.Rows[0].ID)
}

func TestGetCase(t *testing.T) {
	ctx := context.Background()
	svc, _ := newTestService(t, Dependencies{})

	c, err := svc.GetCase(ctx, "open-1")
	require.NoError(t, err)
	assert.Equal(t, 10, c.TimeOpen)
	assert.Equal(t, 10, c.TimeSpent)

	_, err = svc.GetCase(ctx, "nope")
	assert.True(t, errors.Is(err, store.ErrNotFound))
}

func TestSearchMaterialsFallsBackToCatalog(t *testing.T) {
	ctx := context.Background()
	index := new(MockIndex)
	catalog := new(MockCatalog)

	index.On("SearchMaterials", ctx, "brack", 20).Return(nil, errors.New("index offline")).Once()
	catalog.On("Search", ctx, "brack", 20).Return([]models.Material{
		{PartCode: "P-100", Description: "Bracket", Source: "kanban"},
		{PartCode: "P-101", Description: "Bracket arm", Source: "other"},
	}, nil).Once()

	svc, _ := newTestService(t, Dependencies{Index: index, Catalog: catalog})

	hits, err := svc.SearchMaterials(ctx, " brack ", 0)
	require.NoError(t, err)
	require.Len(t, hits, 2)
	assert.Equal(t, "Kanban", hits[0].SourceFlag)
	assert.Empty(t, hits[0].SuggestedReason)
	assert.Equal(t, "Other", hits[1].SourceFlag)
	assert.Equal(t, domain.ReasonNoRequirement, hits[1].SuggestedReason)

	index.AssertExpectations(t)
	catalog.AssertExpectations(t)
}

func TestSearchMaterialsShortTerm(t *testing.T) {
	index := new(MockIndex)
	svc, _ := newTestService(t, Dependencies{Index: index})

	hits, err := svc.SearchMaterials(context.Background(), "ab", 10)
	require.NoError(t, err)
	assert.Empty(t, hits)
	index.AssertNotCalled(t, "SearchMaterials", mock.Anything, mock.Anything, mock.Anything)
}

func TestSearchMaterialsUnconfigured(t *testing.T) {
	svc, _ := newTestService(t, Dependencies{})

	_, err := svc.SearchMaterials(context.Background(), "bracket", 10)
	assert.True(t, errors.Is(err, ErrSearchUnavailable))
}

func TestReindexMaterials(t *testing.T) {
	ctx := context.Background()
	index := new(MockIndex)
	catalog := new(MockCatalog)

	batches := [][]models.Material{
		{{PartCode: "P-1"}, {PartCode: "P-2"}},
		{{PartCode: "P-3"}},
	}
	index.On("EnsureIndex", ctx).Return(nil).Once()
	index.On("IndexMaterials", ctx, batches[0]).Return(nil).Once()
	index.On("IndexMaterials", ctx, batches[1]).Return(nil).Once()
	catalog.On("All", ctx, reindexBatchSize, mock.Anything).
		Run(func(args mock.Arguments) {
			fn := args.Get(2).(func([]models.Material) error)
			for _, b := range batches {
				require.NoError(t, fn(b))
			}
		}).
		Return(nil).Once()

	svc, _ := newTestService(t, Dependencies{Index: index, Catalog: catalog})

	n, err := svc.ReindexMaterials(ctx)
	require.NoError(t, err)
	assert.Equal(t, 3, n)
	index.AssertExpectations(t)
	catalog.AssertExpectations(t)
}

func TestReconcileWithoutRefreshRecomputes(t *testing.T) {
	mc := newMemCache()
	svc, _ := newTestService(t, Dependencies{Cache: mc})

	require.NoError(t, svc.Refresh(context.Background()))
	require.NoError(t, svc.Reconcile(context.Background()))

	d, ok := mc.dashboard("year")
	require.True(t, ok)
	assert.Equal(t, 2, d.CaseCount)
	assert.Equal(t, 4, mc.sets)
}

func TestOptionsUseConfiguredTeams(t *testing.T) {
	svc, _ := newTestService(t, Dependencies{})

	opts := svc.Options()
	assert.Equal(t, config.DefaultTeams, opts.Teams)
	assert.Contains(t, opts.Transports, "Seafreight")
	assert.Equal(t, "Add Part code", opts.RootCauses[domain.ReasonNoPartCode])
}

func TestPartImageWithoutResolver(t *testing.T) {
	svc, _ := newTestService(t, Dependencies{})
	assert.Empty(t, svc.PartImage(context.Background(), "P-100"))
}
