package worker

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/samstikhin/ulearn-notifier/internal/model"
	"github.com/samstikhin/ulearn-notifier/internal/repository"
	"github.com/samstikhin/ulearn-notifier/internal/repository/memory"
	"github.com/samstikhin/ulearn-notifier/internal/service/planner"
	"github.com/samstikhin/ulearn-notifier/pkg/logger"
	"github.com/samstikhin/ulearn-notifier/pkg/metrics"
)

type mockSender struct {
	mock.Mock
}

func (m *mockSender) SendOne(ctx context.Context, d *model.Delivery) error {
	return m.Called(ctx, d).Error(0)
}

func (m *mockSender) SendBatch(ctx context.Context, ds []*model.Delivery) error {
	return m.Called(ctx, ds).Error(0)
}

type mockCourses struct {
	mock.Mock
}

func (m *mockCourses) FindCourse(ctx context.Context, id string) (*model.Course, error) {
	args := m.Called(ctx, id)
	c, _ := args.Get(0).(*model.Course)
	return c, args.Error(1)
}

type mockReporter struct {
	mock.Mock
}

func (m *mockReporter) Ping(ctx context.Context, interval time.Duration) {
	m.Called(ctx, interval)
}

type mockPlanner struct {
	mock.Mock
}

func (m *mockPlanner) CreateDeliveries(ctx context.Context) (planner.PlanResult, error) {
	args := m.Called(ctx)
	return args.Get(0).(planner.PlanResult), args.Error(1)
}

var testConfig = DispatcherConfig{
	PollInterval:      10 * time.Millisecond,
	SendTimeout:       200 * time.Millisecond,
	KeepAliveInterval: time.Minute,
	Lease:             time.Minute,
}

type harness struct {
	store      *memory.Store
	planner    *mockPlanner
	sender     *mockSender
	courses    *mockCourses
	reporter   *mockReporter
	metrics    *metrics.Metrics
	dispatcher *Dispatcher
}

func newHarness(t *testing.T, cfg DispatcherConfig, storeOpts ...memory.Option) *harness {
	t.Helper()
	h := &harness{
		store:    memory.NewStore(storeOpts...),
		planner:  &mockPlanner{},
		sender:   &mockSender{},
		courses:  &mockCourses{},
		reporter: &mockReporter{},
		metrics:  metrics.New("test"),
	}
	h.planner.On("CreateDeliveries", mock.Anything).Return(planner.PlanResult{}, nil).Maybe()
	h.reporter.On("Ping", mock.Anything, cfg.KeepAliveInterval).Maybe()
	h.dispatcher = NewDispatcher(h.planner, h.store, h.courses, h.sender, h.reporter, cfg, logger.Nop(), h.metrics)
	return h
}

// seed stores count planned notifications of kind for one user, each with a
// due delivery through one transport of type typ.
func (h *harness) seed(t *testing.T, typ model.TransportType, kind model.Kind, count int, courseID string) []*model.Delivery {
	t.Helper()
	ctx := context.Background()
	userID := "user-" + uuid.NewString()
	tr := &model.Transport{UserID: userID, Type: typ, Address: "addr", IsEnabled: true}
	require.NoError(t, h.store.Upsert(ctx, tr))

	var out []*model.Delivery
	for i := 0; i < count; i++ {
		n := &model.Notification{
			ID:                uuid.New(),
			CourseID:          courseID,
			InitiatedByUserID: "other",
			RecipientUserID:   userID,
			Kind:              kind,
			Payload:           json.RawMessage(fmt.Sprintf(`{"comment_id": %d}`, i+1)),
			TargetKey:         fmt.Sprintf("comment:%d", i+1),
		}
		require.NoError(t, h.store.Create(ctx, n))
		d := model.NewDelivery(n, tr, time.Now().Add(-time.Second))
		outcome, err := h.store.MarkPlanned(ctx, repository.PlanMark{
			NotificationID: n.ID,
			Deliveries:     []*model.Delivery{d},
		})
		require.NoError(t, err)
		require.True(t, outcome.Planned)
		out = append(out, d)
	}
	return out
}

func (h *harness) statusOf(t *testing.T, id uuid.UUID) *model.Delivery {
	t.Helper()
	for _, d := range h.store.Deliveries() {
		if d.ID == id {
			return d
		}
	}
	t.Fatalf("delivery %s not found", id)
	return nil
}

func TestDispatcher_BatchGroupSentInOneCall(t *testing.T) {
	h := newHarness(t, testConfig)
	seeded := h.seed(t, model.TransportMail, model.KindNewComment, 3, "basic")

	h.sender.On("SendBatch", mock.Anything, mock.MatchedBy(func(ds []*model.Delivery) bool {
		return len(ds) == 3
	})).Return(nil).Once()

	require.NoError(t, h.dispatcher.SendDeliveries(context.Background()))

	h.sender.AssertExpectations(t)
	h.sender.AssertNotCalled(t, "SendOne", mock.Anything, mock.Anything)
	h.courses.AssertNotCalled(t, "FindCourse", mock.Anything, mock.Anything)
	for _, d := range seeded {
		got := h.statusOf(t, d.ID)
		assert.Equal(t, model.DeliveryStatusSent, got.Status)
		assert.NotNil(t, got.SentAt)
	}
}

func TestDispatcher_BatchFailureFailsWholeGroup(t *testing.T) {
	h := newHarness(t, testConfig)
	seeded := h.seed(t, model.TransportChatBot, model.KindLikedYourComment, 3, "basic")

	h.sender.On("SendBatch", mock.Anything, mock.Anything).Return(errors.New("bot is down")).Once()

	require.NoError(t, h.dispatcher.SendDeliveries(context.Background()))

	for _, d := range seeded {
		got := h.statusOf(t, d.ID)
		assert.Equal(t, model.DeliveryStatusFailed, got.Status)
		assert.Equal(t, 1, got.FailsCount)
	}
}

func TestDispatcher_RetriesUntilSenderSucceeds(t *testing.T) {
	h := newHarness(t, testConfig)
	seeded := h.seed(t, model.TransportMail, model.KindAddedInstructor, 1, "basic")

	h.courses.On("FindCourse", mock.Anything, "basic").Return(&model.Course{ID: "basic", Title: "Basic"}, nil)
	h.sender.On("SendOne", mock.Anything, mock.Anything).Return(errors.New("smtp timeout")).Twice()
	h.sender.On("SendOne", mock.Anything, mock.MatchedBy(func(d *model.Delivery) bool {
		return d.Notification.Course != nil && d.Notification.Course.Title == "Basic"
	})).Return(nil).Once()

	for i := 0; i < 2; i++ {
		require.NoError(t, h.dispatcher.SendDeliveries(context.Background()))
		got := h.statusOf(t, seeded[0].ID)
		assert.Equal(t, model.DeliveryStatusFailed, got.Status)
		assert.Equal(t, i+1, got.FailsCount)
	}

	require.NoError(t, h.dispatcher.SendDeliveries(context.Background()))
	assert.Equal(t, model.DeliveryStatusSent, h.statusOf(t, seeded[0].ID).Status)
	h.sender.AssertNumberOfCalls(t, "SendOne", 3)

	// nothing left to send
	require.NoError(t, h.dispatcher.SendDeliveries(context.Background()))
	h.sender.AssertNumberOfCalls(t, "SendOne", 3)
}

func TestDispatcher_CourseNotFoundMarksFailed(t *testing.T) {
	h := newHarness(t, testConfig)
	seeded := h.seed(t, model.TransportMail, model.KindNewComment, 1, "deleted-course")

	h.courses.On("FindCourse", mock.Anything, "deleted-course").Return(nil, nil)

	assert.NotPanics(t, func() {
		require.NoError(t, h.dispatcher.SendDeliveries(context.Background()))
	})

	got := h.statusOf(t, seeded[0].ID)
	assert.Equal(t, model.DeliveryStatusFailed, got.Status)
	assert.Equal(t, 1, got.FailsCount)
	h.sender.AssertNotCalled(t, "SendOne", mock.Anything, mock.Anything)
}

func TestDispatcher_AbandonsAfterMaxFailures(t *testing.T) {
	h := newHarness(t, testConfig, memory.WithMaxFailures(2))
	seeded := h.seed(t, model.TransportMail, model.KindNewComment, 1, "gone")
	h.courses.On("FindCourse", mock.Anything, "gone").Return(nil, nil)

	for i := 0; i < 3; i++ {
		require.NoError(t, h.dispatcher.SendDeliveries(context.Background()))
	}

	got := h.statusOf(t, seeded[0].ID)
	assert.Equal(t, model.DeliveryStatusAbandoned, got.Status)
	assert.Equal(t, 2, got.FailsCount)
	h.courses.AssertNumberOfCalls(t, "FindCourse", 2)
	assert.Equal(t, 1.0, testutil.ToFloat64(h.metrics.DeliveriesAbandoned))
}

func TestDispatcher_AbandonedCountComesFromStore(t *testing.T) {
	h := newHarness(t, testConfig)
	h.seed(t, model.TransportMail, model.KindNewComment, 1, "gone")
	h.courses.On("FindCourse", mock.Anything, "gone").Return(nil, nil)

	for i := 0; i < 3; i++ {
		require.NoError(t, h.dispatcher.SendDeliveries(context.Background()))
	}

	assert.Equal(t, 0.0, testutil.ToFloat64(h.metrics.DeliveriesAbandoned), "store without a failure limit never abandons")
	assert.Equal(t, 3.0, testutil.ToFloat64(h.metrics.DeliveriesFailed.WithLabelValues("mail", "course_not_found")))
}

func TestDispatcher_SendTimeout(t *testing.T) {
	cfg := testConfig
	cfg.SendTimeout = 20 * time.Millisecond
	h := newHarness(t, cfg)
	seeded := h.seed(t, model.TransportChatBot, model.KindNewComment, 2, "basic")

	release := make(chan struct{})
	defer close(release)
	h.sender.On("SendBatch", mock.Anything, mock.Anything).Run(func(mock.Arguments) {
		<-release
	}).Return(nil)

	require.NoError(t, h.dispatcher.SendDeliveries(context.Background()))
	for _, d := range seeded {
		assert.Equal(t, model.DeliveryStatusFailed, h.statusOf(t, d.ID).Status)
	}
}

func TestDispatcher_GroupsSentConcurrently(t *testing.T) {
	cfg := testConfig
	cfg.Workers = 4
	h := newHarness(t, cfg)

	var seeded []*model.Delivery
	for i := 0; i < 4; i++ {
		seeded = append(seeded, h.seed(t, model.TransportMail, model.KindNewComment, 2, "basic")...)
	}

	var mu sync.Mutex
	var batches [][]*model.Delivery
	h.sender.On("SendBatch", mock.Anything, mock.Anything).Run(func(args mock.Arguments) {
		mu.Lock()
		defer mu.Unlock()
		batches = append(batches, args.Get(1).([]*model.Delivery))
	}).Return(nil)

	require.NoError(t, h.dispatcher.SendDeliveries(context.Background()))

	assert.Len(t, batches, 4)
	seen := make(map[uuid.UUID]bool)
	for _, b := range batches {
		for _, d := range b {
			assert.False(t, seen[d.ID], "delivery sent twice")
			seen[d.ID] = true
		}
	}
	for _, d := range seeded {
		assert.Equal(t, model.DeliveryStatusSent, h.statusOf(t, d.ID).Status)
	}
}

func TestDispatcher_HeartbeatOnPlanningError(t *testing.T) {
	h := newHarness(t, testConfig)
	h.planner.ExpectedCalls = nil
	h.planner.On("CreateDeliveries", mock.Anything).Return(planner.PlanResult{}, errors.New("db is gone")).Once()

	h.dispatcher.Iterate(context.Background())

	h.reporter.AssertNumberOfCalls(t, "Ping", 1)
	h.sender.AssertNotCalled(t, "SendOne", mock.Anything, mock.Anything)
}

func TestDispatcher_HeartbeatOnPanic(t *testing.T) {
	h := newHarness(t, testConfig)
	h.planner.ExpectedCalls = nil
	h.planner.On("CreateDeliveries", mock.Anything).Run(func(mock.Arguments) {
		panic("unexpected nil")
	}).Return(planner.PlanResult{}, nil).Once()

	assert.NotPanics(t, func() { h.dispatcher.Iterate(context.Background()) })
	h.reporter.AssertNumberOfCalls(t, "Ping", 1)
}

type signalReporter chan struct{}

func (r signalReporter) Ping(context.Context, time.Duration) {
	select {
	case r <- struct{}{}:
	default:
	}
}

func TestDispatcher_RunStopsOnCancel(t *testing.T) {
	h := newHarness(t, testConfig)
	pings := make(signalReporter, 1)
	d := NewDispatcher(h.planner, h.store, h.courses, h.sender, pings, testConfig, logger.Nop(), metrics.New("test"))
	ctx, cancel := context.WithCancel(context.Background())

	done := make(chan struct{})
	go func() {
		d.Run(ctx)
		close(done)
	}()

	select {
	case <-pings:
	case <-time.After(time.Second):
		t.Fatal("no heartbeat")
	}
	cancel()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("dispatch loop did not stop")
	}
}

func TestGroupDeliveries(t *testing.T) {
	mail := &model.Transport{ID: uuid.New(), Type: model.TransportMail}
	bot := &model.Transport{ID: uuid.New(), Type: model.TransportChatBot}
	mk := func(tr *model.Transport, kind model.Kind) *model.Delivery {
		return model.NewDelivery(&model.Notification{ID: uuid.New(), Kind: kind}, tr, time.Now())
	}

	a := mk(mail, model.KindNewComment)
	b := mk(bot, model.KindNewComment)
	c := mk(mail, model.KindLikedYourComment)
	d := mk(mail, model.KindNewComment)

	groups := GroupDeliveries([]*model.Delivery{a, b, c, d})
	require.Len(t, groups, 3)
	assert.Equal(t, GroupKey{TransportID: mail.ID, Kind: model.KindNewComment}, groups[0].Key)
	assert.Equal(t, []*model.Delivery{a, d}, groups[0].Deliveries)
	assert.Equal(t, []*model.Delivery{b}, groups[1].Deliveries)
	assert.Equal(t, []*model.Delivery{c}, groups[2].Deliveries)
}
