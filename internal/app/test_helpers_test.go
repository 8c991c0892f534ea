package app

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"code.cloudfoundry.org/clock"
	"github.com/sirupsen/logrus"
	"github.com/sirupsen/logrus/hooks/test"

	"github.com/example/ecs-manage/internal/core/failure"
	"github.com/example/ecs-manage/internal/core/inspect"
	"github.com/example/ecs-manage/internal/core/rollout"
	"github.com/example/ecs-manage/internal/core/service"
	"github.com/example/ecs-manage/internal/core/taskdef"
	"github.com/example/ecs-manage/internal/ports/secondary"
)

const testAccountPrefix = "arn:aws:ecs:eu-west-1:123456789012:task-definition/"

func revisionARN(family string, rev int) string {
	return fmt.Sprintf("%s%s:%d", testAccountPrefix, family, rev)
}

// stepClock is a clock.Clock whose timers fire immediately after moving the
// clock forward by their duration, so waits cost no real time.
type stepClock struct {
	mu  sync.Mutex
	now time.Time
}

var _ clock.Clock = (*stepClock)(nil)

func newStepClock() *stepClock {
	return &stepClock{now: time.Date(2026, 1, 20, 12, 0, 0, 0, time.UTC)}
}

func (c *stepClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *stepClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

func (c *stepClock) Sleep(d time.Duration) { c.Advance(d) }

func (c *stepClock) Since(t time.Time) time.Duration { return c.Now().Sub(t) }

func (c *stepClock) After(d time.Duration) <-chan time.Time { return c.NewTimer(d).C() }

func (c *stepClock) NewTimer(d time.Duration) clock.Timer {
	c.Advance(d)
	ch := make(chan time.Time, 1)
	ch <- c.Now()
	return &firedTimer{ch: ch}
}

func (c *stepClock) NewTicker(d time.Duration) clock.Ticker {
	return &firedTicker{ch: make(chan time.Time)}
}

type firedTimer struct{ ch chan time.Time }

func (t *firedTimer) C() <-chan time.Time        { return t.ch }
func (t *firedTimer) Reset(d time.Duration) bool { return false }
func (t *firedTimer) Stop() bool                 { return false }

type firedTicker struct{ ch chan time.Time }

func (t *firedTicker) C() <-chan time.Time { return t.ch }
func (t *firedTicker) Stop()               {}

// healthFunc returns the tasks a service runs at revision after its nth
// sample since the revision became active.
type healthFunc func(revision string, desired, sample int) []service.TaskHealth

func allHealthy(revision string, desired, sample int) []service.TaskHealth {
	tasks := make([]service.TaskHealth, 0, desired)
	for i := 0; i < desired; i++ {
		tasks = append(tasks, service.TaskHealth{
			TaskID:         fmt.Sprintf("%s/task-%d", revision, i),
			Revision:       revision,
			LastStatus:     service.TaskStatusRunning,
			HealthStatus:   service.HealthHealthy,
			HasHealthCheck: true,
		})
	}
	return tasks
}

func crashLooping(revision string, desired, sample int) []service.TaskHealth {
	tasks := make([]service.TaskHealth, 0, desired)
	for i := 0; i < desired; i++ {
		tasks = append(tasks, service.TaskHealth{
			TaskID:        fmt.Sprintf("crash-%d-%d", sample, i),
			Revision:      revision,
			LastStatus:    service.TaskStatusStopped,
			StopCode:      "EssentialContainerExited",
			StoppedReason: "Essential container in task exited",
			ExitCodes:     []int{1},
		})
	}
	return tasks
}

func neverStarting(revision string, desired, sample int) []service.TaskHealth {
	return []service.TaskHealth{{TaskID: "pending-0", Revision: revision, LastStatus: service.TaskStatusPending}}
}

// mockPlatform implements secondary.Platform for testing. Services converge
// on their desired count as soon as an update is accepted; health per
// revision is scripted.
type mockPlatform struct {
	mu        sync.Mutex
	services  map[string]*service.ServiceState
	revisions map[string][]service.TaskDefinitionRevision // newest first
	health    map[string]healthFunc                       // by revision ARN
	samples   map[string]int
	tasks     map[string]service.TaskHealth // by task ID, latest sample wins

	updateErr       func(req secondary.UpdateServiceRequest) error
	describeErr     []error // consumed one per DescribeService call
	describeTaskErr []error // consumed one per DescribeTaskDefinition call
	registerErr     error
	registerErrs    []error // consumed one per RegisterTaskDefinition call, before storing
	registerLost    int     // registrations stored whose response is then lost
	createErrs      []error // consumed one per CreateService call, before storing
	createLost      int     // creations stored whose response is then lost

	updates    []secondary.UpdateServiceRequest
	registered []service.TaskTemplate
	created    []secondary.CreateServiceRequest
	tokens     map[string]string // client token of each created service
	calls      int
}

var _ secondary.Platform = (*mockPlatform)(nil)

func newMockPlatform() *mockPlatform {
	return &mockPlatform{
		services:  make(map[string]*service.ServiceState),
		revisions: make(map[string][]service.TaskDefinitionRevision),
		health:    make(map[string]healthFunc),
		samples:   make(map[string]int),
		tasks:     make(map[string]service.TaskHealth),
		tokens:    make(map[string]string),
	}
}

// addRevision registers a revision of tmpl directly, bypassing the counters.
func (m *mockPlatform) addRevision(tmpl service.TaskTemplate) service.TaskDefinitionRevision {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.addRevisionLocked(tmpl)
}

func (m *mockPlatform) addRevisionLocked(tmpl service.TaskTemplate) service.TaskDefinitionRevision {
	n := len(m.revisions[tmpl.Family]) + 1
	rev := service.TaskDefinitionRevision{
		Family:      tmpl.Family,
		Revision:    n,
		ARN:         revisionARN(tmpl.Family, n),
		ContentHash: taskdef.Hash(tmpl),
		Template:    tmpl,
	}
	m.revisions[tmpl.Family] = append([]service.TaskDefinitionRevision{rev}, m.revisions[tmpl.Family]...)
	return rev
}

func (m *mockPlatform) addService(id service.ID, revision string, desired int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.services[id.String()] = &service.ServiceState{
		ID:             id,
		Status:         "ACTIVE",
		ActiveRevision: revision,
		DesiredCount:   desired,
		RunningCount:   desired,
	}
}

func (m *mockPlatform) setDefinition(id service.ID, def service.Definition) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.services[id.String()].Definition = def
}

func (m *mockPlatform) setHealth(revision string, fn healthFunc) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.health[revision] = fn
}

func (m *mockPlatform) callCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.calls
}

func (m *mockPlatform) DescribeService(ctx context.Context, id service.ID) (*service.ServiceState, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls++

	if len(m.describeErr) > 0 {
		err := m.describeErr[0]
		m.describeErr = m.describeErr[1:]
		if err != nil {
			return nil, err
		}
	}

	st, ok := m.services[id.String()]
	if !ok {
		return nil, failure.New(failure.KindPlatformRejected, "service %s not found", id)
	}

	fn := m.health[st.ActiveRevision]
	if fn == nil {
		fn = allHealthy
	}
	m.samples[st.ActiveRevision]++
	tasks := fn(st.ActiveRevision, st.DesiredCount, m.samples[st.ActiveRevision])
	for _, t := range tasks {
		m.tasks[t.TaskID] = t
	}

	snapshot := *st
	snapshot.TaskIDs = nil
	snapshot.RunningCount = 0
	for _, t := range tasks {
		snapshot.TaskIDs = append(snapshot.TaskIDs, t.TaskID)
		if t.LastStatus == service.TaskStatusRunning {
			snapshot.RunningCount++
		}
	}
	return &snapshot, nil
}

func (m *mockPlatform) DescribeTasks(ctx context.Context, cluster string, taskIDs []string) ([]service.TaskHealth, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls++

	var result []service.TaskHealth
	for _, id := range taskIDs {
		if t, ok := m.tasks[id]; ok {
			result = append(result, t)
		}
	}
	return result, nil
}

func (m *mockPlatform) ListServices(ctx context.Context, cluster string) ([]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls++

	var names []string
	for _, st := range m.services {
		if st.ID.Cluster == cluster {
			names = append(names, st.ID.Service)
		}
	}
	sort.Strings(names)
	return names, nil
}

func (m *mockPlatform) ListTaskDefinitions(ctx context.Context, family string, limit int) ([]service.TaskDefinitionRevision, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls++

	revs := m.revisions[family]
	if limit > 0 && len(revs) > limit {
		revs = revs[:limit]
	}
	return append([]service.TaskDefinitionRevision(nil), revs...), nil
}

func (m *mockPlatform) DescribeTaskDefinition(ctx context.Context, ref string) (*service.TaskDefinitionRevision, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls++

	if len(m.describeTaskErr) > 0 {
		err := m.describeTaskErr[0]
		m.describeTaskErr = m.describeTaskErr[1:]
		if err != nil {
			return nil, err
		}
	}

	for _, revs := range m.revisions {
		for _, rev := range revs {
			if rev.ARN == ref || rev.Ref() == ref {
				r := rev
				return &r, nil
			}
		}
	}
	return nil, failure.New(failure.KindPlatformRejected, "task definition %s not found", ref)
}

func (m *mockPlatform) RegisterTaskDefinition(ctx context.Context, tmpl service.TaskTemplate) (*service.TaskDefinitionRevision, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls++

	if m.registerErr != nil {
		return nil, m.registerErr
	}
	if len(m.registerErrs) > 0 {
		err := m.registerErrs[0]
		m.registerErrs = m.registerErrs[1:]
		if err != nil {
			return nil, err
		}
	}
	m.registered = append(m.registered, tmpl)
	rev := m.addRevisionLocked(tmpl)
	if m.registerLost > 0 {
		m.registerLost--
		return nil, failure.New(failure.KindPlatformUnavailable, "connection reset after request was sent")
	}
	rev.ContentHash = "" // the platform does not know our hashes
	return &rev, nil
}

func (m *mockPlatform) UpdateService(ctx context.Context, req secondary.UpdateServiceRequest) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls++

	m.updates = append(m.updates, req)
	if m.updateErr != nil {
		if err := m.updateErr(req); err != nil {
			return err
		}
	}

	st, ok := m.services[req.ID.String()]
	if !ok {
		return failure.New(failure.KindPlatformRejected, "service %s not found", req.ID)
	}
	if req.Revision != "" && req.Revision != st.ActiveRevision {
		st.ActiveRevision = req.Revision
		m.samples[req.Revision] = 0
	}
	st.DesiredCount = req.DesiredCount
	st.RunningCount = req.DesiredCount
	return nil
}

// CreateService behaves like the platform: a repeated creation with the
// same client token succeeds, any other creation of an existing service is
// rejected.
func (m *mockPlatform) CreateService(ctx context.Context, req secondary.CreateServiceRequest) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls++

	m.created = append(m.created, req)
	if len(m.createErrs) > 0 {
		err := m.createErrs[0]
		m.createErrs = m.createErrs[1:]
		if err != nil {
			return err
		}
	}

	key := req.ID.String()
	if _, ok := m.services[key]; ok {
		if req.ClientToken != "" && m.tokens[key] == req.ClientToken {
			return nil
		}
		return failure.New(failure.KindPlatformRejected, "Creation of service was not idempotent.")
	}
	m.services[key] = &service.ServiceState{
		ID:             req.ID,
		Status:         "ACTIVE",
		ActiveRevision: req.Revision,
		DesiredCount:   req.DesiredCount,
		RunningCount:   req.DesiredCount,
		Definition:     req.Definition,
	}
	m.tokens[key] = req.ClientToken
	if m.createLost > 0 {
		m.createLost--
		return failure.New(failure.KindPlatformUnavailable, "connection reset after request was sent")
	}
	return nil
}

// mockRegions implements secondary.PlatformRegions for testing. The empty
// region is the default.
type mockRegions map[string]*mockPlatform

var _ secondary.PlatformRegions = mockRegions(nil)

func (m mockRegions) Region(region string) secondary.Platform {
	return m[region]
}

// mockRegistry implements secondary.ImageRegistry and
// secondary.TargetGroups for testing. Anything not listed as missing
// exists.
type mockRegistry struct {
	mu      sync.Mutex
	missing map[string]bool
	errs    map[string][]error // consumed one per lookup of a key
	lookups map[string]int
}

var (
	_ secondary.ImageRegistry = (*mockRegistry)(nil)
	_ secondary.TargetGroups  = (*mockRegistry)(nil)
)

func newMockRegistry(missing ...string) *mockRegistry {
	m := &mockRegistry{
		missing: make(map[string]bool),
		errs:    make(map[string][]error),
		lookups: make(map[string]int),
	}
	for _, key := range missing {
		m.missing[key] = true
	}
	return m
}

func (m *mockRegistry) lookup(key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.lookups[key]++
	if errs := m.errs[key]; len(errs) > 0 {
		m.errs[key] = errs[1:]
		if errs[0] != nil {
			return errs[0]
		}
	}
	if m.missing[key] {
		return failure.New(failure.KindPlatformRejected, "%s not found", key)
	}
	return nil
}

func (m *mockRegistry) DescribeImage(ctx context.Context, img inspect.RegistryImage) error {
	return m.lookup(img.Image)
}

func (m *mockRegistry) DescribeTargetGroup(ctx context.Context, arn string) error {
	return m.lookup(arn)
}

// mockHistoryRepository implements secondary.HistoryRepository for testing.
type mockHistoryRepository struct {
	mu      sync.Mutex
	records []*secondary.OutcomeRecord
	err     error
}

var _ secondary.HistoryRepository = (*mockHistoryRepository)(nil)

func (m *mockHistoryRepository) Record(ctx context.Context, record *secondary.OutcomeRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return m.err
	}
	m.records = append(m.records, record)
	return nil
}

func (m *mockHistoryRepository) List(ctx context.Context, filters secondary.HistoryFilters) ([]*secondary.OutcomeRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var result []*secondary.OutcomeRecord
	for i := len(m.records) - 1; i >= 0; i-- {
		r := m.records[i]
		if filters.Cluster != "" && r.Cluster != filters.Cluster {
			continue
		}
		if filters.Service != "" && r.Service != filters.Service {
			continue
		}
		if filters.Status != "" && r.Status != filters.Status {
			continue
		}
		result = append(result, r)
		if filters.Limit > 0 && len(result) == filters.Limit {
			break
		}
	}
	return result, nil
}

func (m *mockHistoryRepository) GetByID(ctx context.Context, id string) (*secondary.OutcomeRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, r := range m.records {
		if r.ID == id {
			return r, nil
		}
	}
	return nil, fmt.Errorf("outcome %s not found", id)
}

// mockLocker implements secondary.ServiceLocker for testing.
type mockLocker struct {
	mu       sync.Mutex
	held     map[string]string
	acquired []string
	released []string
}

var _ secondary.ServiceLocker = (*mockLocker)(nil)

func newMockLocker() *mockLocker {
	return &mockLocker{held: make(map[string]string)}
}

func (m *mockLocker) Acquire(ctx context.Context, key, owner string, ttl time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if holder, ok := m.held[key]; ok && holder != owner {
		return failure.New(failure.KindLocked, "%s is held by %s", key, holder)
	}
	m.held[key] = owner
	m.acquired = append(m.acquired, key)
	return nil
}

func (m *mockLocker) Release(ctx context.Context, key, owner string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.held[key] == owner {
		delete(m.held, key)
		m.released = append(m.released, key)
	}
	return nil
}

// mockNotifier implements secondary.Notifier for testing.
type mockNotifier struct {
	mu   sync.Mutex
	sent []secondary.Notification
}

func (m *mockNotifier) Notify(ctx context.Context, msg secondary.Notification) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sent = append(m.sent, msg)
	return nil
}

// mockMetrics implements secondary.MetricsPublisher for testing.
type mockMetrics struct {
	mu      sync.Mutex
	samples []secondary.MetricsSample
}

func (m *mockMetrics) Publish(ctx context.Context, sample secondary.MetricsSample) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.samples = append(m.samples, sample)
	return nil
}

func testLogger() (logrus.FieldLogger, *test.Hook) {
	logger, hook := test.NewNullLogger()
	logger.SetLevel(logrus.DebugLevel)
	return logger, hook
}

// testEngineConfig samples health every 30s and needs three healthy samples
// spanning a minute.
func testEngineConfig() EngineConfig {
	poll := BackoffConfig{Initial: 30 * time.Second, Factor: 1, Cap: 30 * time.Second}
	retry := RetryConfig{Attempts: 3, Backoff: BackoffConfig{Initial: time.Second, Factor: 2, Cap: 4 * time.Second}}
	return EngineConfig{
		Timeout:         30 * time.Minute,
		RevisionHistory: 10,
		Retry:           retry,
		Rollout: RolloutConfig{
			Verify: rollout.VerifyPolicy{
				MinHealthySamples: 3,
				SustainWindow:     60 * time.Second,
				FailureThreshold:  3,
				MaxAttempts:       10,
			},
			Poll:           poll,
			RollbackBudget: 10 * time.Minute,
		},
		Scaling: ScalingConfig{StepTimeout: 2 * time.Minute, Poll: poll},
	}
}

type testEngine struct {
	svc      *ReconcileServiceImpl
	platform *mockPlatform
	history  *mockHistoryRepository
	locker   *mockLocker
	notifier *mockNotifier
	metrics  *mockMetrics
	clock    *stepClock
	logs     *test.Hook
}

func newTestEngine(cfg EngineConfig) *testEngine {
	e := &testEngine{
		platform: newMockPlatform(),
		history:  &mockHistoryRepository{},
		locker:   newMockLocker(),
		notifier: &mockNotifier{},
		metrics:  &mockMetrics{},
		clock:    newStepClock(),
	}
	var log logrus.FieldLogger
	log, e.logs = testLogger()
	e.svc = NewReconcileService(e.platform, e.history, e.locker, e.notifier, e.metrics, cfg, e.clock, log)

	var ids atomic.Int64
	e.svc.newID = func() string {
		return fmt.Sprintf("inv-%d", ids.Add(1))
	}
	return e
}

func webSpec(image string, desired int) service.ServiceSpec {
	return service.ServiceSpec{
		Cluster: "prod",
		Service: "web",
		Containers: []service.ContainerSpec{{
			Name:         "app",
			Image:        image,
			Memory:       512,
			PortMappings: []service.PortMapping{{ContainerPort: 8080}},
		}},
		DesiredCount: desired,
		Deployment:   service.DeploymentPolicy{MaxSurgePercent: 100, MaxUnavailablePercent: 0},
	}
}
