package service

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/mock/gomock"

	"github.com/acme/shelfsort/internal/core"
	"github.com/acme/shelfsort/internal/data"
	domainjob "github.com/acme/shelfsort/internal/domain/job"
	"github.com/acme/shelfsort/internal/domain/model"
	apperrors "github.com/acme/shelfsort/internal/errors"
	"github.com/acme/shelfsort/internal/mocks"
)

// recordingQueue is an in-memory Enqueuer that dedups on DedupKey.
type recordingQueue struct {
	requests []EnqueueRequest
	seen     map[string]bool
	err      error
}

func (q *recordingQueue) Enqueue(_ context.Context, req EnqueueRequest) (JobHandle, error) {
	if q.err != nil {
		return JobHandle{}, q.err
	}
	if q.seen == nil {
		q.seen = map[string]bool{}
	}
	key := req.Options.DedupKey
	if key != "" && q.seen[key] {
		return JobHandle{ID: key, Duplicated: true}, nil
	}
	q.seen[key] = true
	q.requests = append(q.requests, req)
	return JobHandle{ID: key}, nil
}

type stubStarter struct {
	got StartRequest
	res StartResult
	err error

	finished []FinishEvent
	outcome  WebhookOutcome
	finErr   error
}

func (s *stubStarter) Start(_ context.Context, req StartRequest) (StartResult, error) {
	s.got = req
	return s.res, s.err
}

func (s *stubStarter) OnWebhook(_ context.Context, ev FinishEvent) (WebhookOutcome, error) {
	s.finished = append(s.finished, ev)
	return s.outcome, s.finErr
}

func jobWith(t *testing.T, name string, payload any) *model.Job {
	t.Helper()
	raw, err := json.Marshal(payload)
	require.NoError(t, err)
	return &model.Job{ID: "job-1", Name: name, Payload: raw}
}

func TestPushDownJob(t *testing.T) {
	req := PushDownJob(testShop, "42", WebhookDedupPrefix, 30*time.Second)

	assert.Equal(t, model.QueueBulkOperation, req.Queue)
	assert.Equal(t, model.JobNamePushDown, req.Name)
	assert.Equal(t, model.PushDownPayload{Shop: testShop, CollectionID: "42"}, req.Payload)
	assert.Equal(t, "BO:42", req.Options.DedupKey)
	assert.Equal(t, 30*time.Second, req.Options.TTL)
	assert.Equal(t, 30*time.Second, req.Options.Delay)
	assert.Equal(t, testShop, req.Options.GroupKey)
}

func TestPushDownHandler_Handle(t *testing.T) {
	starter := &stubStarter{res: StartResult{OperationID: testOpID}}
	h := NewPushDownHandler(starter, nil)
	job := jobWith(t, model.JobNamePushDown, model.PushDownPayload{Shop: testShop, CollectionID: "42"})

	raw, err := h.Handle(context.Background(), job)
	require.NoError(t, err)

	assert.Equal(t, testShop, starter.got.Shop)
	assert.Equal(t, "42", starter.got.CollectionID)
	assert.JSONEq(t, string(job.Payload), string(starter.got.Payload))

	var res model.PushDownResult
	require.NoError(t, json.Unmarshal(raw, &res))
	assert.Equal(t, testOpID, res.OperationID)
}

func TestPushDownHandler_BadPayloadIsPermanent(t *testing.T) {
	h := NewPushDownHandler(&stubStarter{}, nil)

	_, err := h.Handle(context.Background(), &model.Job{Name: model.JobNamePushDown, Payload: json.RawMessage(`{`)})
	require.Error(t, err)
	assert.True(t, apperrors.IsPermanent(err))

	_, err = h.Handle(context.Background(), jobWith(t, model.JobNamePushDown, model.PushDownPayload{Shop: testShop}))
	require.Error(t, err)
	assert.True(t, apperrors.IsValidation(err))
}

func TestPushDownHandler_PropagatesBusy(t *testing.T) {
	starter := &stubStarter{err: apperrors.UpstreamBusy("bulk operation in progress", 0)}
	h := NewPushDownHandler(starter, nil)

	_, err := h.Handle(context.Background(), jobWith(t, model.JobNamePushDown, model.PushDownPayload{Shop: testShop, CollectionID: "42"}))
	require.Error(t, err)
	assert.True(t, apperrors.IsUpstreamBusy(err))
}

func TestBulkFinishJob(t *testing.T) {
	code := "ACCESS_DENIED"
	ev := FinishEvent{Shop: testShop, ExternalID: testOpID, Status: "failed", ErrorCode: &code}
	req := BulkFinishJob(ev)

	assert.Equal(t, model.QueueBulkOperation, req.Queue)
	assert.Equal(t, model.JobNameBulkFinish, req.Name)
	assert.Equal(t, BulkFinishDedupPrefix+testOpID, req.Options.DedupKey)
	assert.Zero(t, req.Options.TTL, "dedup must hold until the job ends")
	assert.Zero(t, req.Options.Delay)

	raw, err := json.Marshal(req.Payload)
	require.NoError(t, err)
	var back FinishEvent
	require.NoError(t, json.Unmarshal(raw, &back))
	assert.Equal(t, ev, back)
}

func TestPushDownHandler_FinishJob(t *testing.T) {
	ctx := context.Background()
	ev := FinishEvent{Shop: testShop, ExternalID: testOpID, Status: "completed"}

	t.Run("runs the finish and reports the outcome", func(t *testing.T) {
		driver := &stubStarter{outcome: WebhookOutcome{Status: model.BulkOperationCompleted, MovesPlanned: 3, MovesApplied: 3}}
		h := NewPushDownHandler(driver, nil)

		raw, err := h.Handle(ctx, jobWith(t, model.JobNameBulkFinish, ev))
		require.NoError(t, err)
		require.Len(t, driver.finished, 1)
		assert.Equal(t, ev, driver.finished[0])
		assert.Empty(t, driver.got.Shop, "finish jobs never start exports")

		var res BulkFinishResult
		require.NoError(t, json.Unmarshal(raw, &res))
		assert.Equal(t, testOpID, res.OperationID)
		assert.Equal(t, model.BulkOperationCompleted, res.Status)
		assert.Equal(t, 3, res.MovesApplied)
	})

	t.Run("failure before a terminal state is retried", func(t *testing.T) {
		driver := &stubStarter{finErr: errors.New("fetch bulk operation status: connection reset")}
		h := NewPushDownHandler(driver, nil)

		_, err := h.Handle(ctx, jobWith(t, model.JobNameBulkFinish, ev))
		require.Error(t, err)
		assert.False(t, apperrors.IsPermanent(err))
	})

	t.Run("persisted push-down failure is not retried", func(t *testing.T) {
		driver := &stubStarter{
			outcome: WebhookOutcome{Status: model.BulkOperationFailed, MovesPlanned: 4, MovesApplied: 2},
			finErr:  errors.New("reorder collection after 2 of 4 moves: boom"),
		}
		h := NewPushDownHandler(driver, nil)

		_, err := h.Handle(ctx, jobWith(t, model.JobNameBulkFinish, ev))
		require.Error(t, err)
		assert.True(t, apperrors.IsAborted(err))
		assert.True(t, apperrors.IsPermanent(err))
	})

	t.Run("missing operation id", func(t *testing.T) {
		driver := &stubStarter{}
		h := NewPushDownHandler(driver, nil)

		_, err := h.Handle(ctx, jobWith(t, model.JobNameBulkFinish, FinishEvent{Shop: testShop}))
		require.Error(t, err)
		assert.True(t, apperrors.IsValidation(err))
		assert.Empty(t, driver.finished)
	})
}

func newAutoSortingFixture(t *testing.T) (*AutoSortingHandler, *mocks.MockCollectionRepository, *mocks.MockMerchantSettings, *recordingQueue) {
	t.Helper()
	ctrl := gomock.NewController(t)
	collections := mocks.NewMockCollectionRepository(ctrl)
	merchants := mocks.NewMockMerchantSettings(ctrl)
	queue := &recordingQueue{}
	h, err := NewAutoSortingHandler(AutoSortingHandlerOptions{
		Collections: collections,
		Merchants:   merchants,
		Queue:       queue,
	})
	require.NoError(t, err)
	return h, collections, merchants, queue
}

func TestAutoSortingHandler_FansOutPerCollection(t *testing.T) {
	h, collections, merchants, queue := newAutoSortingFixture(t)
	ctx := context.Background()

	merchants.EXPECT().Get(ctx, testShop).Return(&model.MerchantConfig{Shop: testShop, Active: true}, nil)
	collections.EXPECT().ListActive(ctx, testShop).Return([]*model.Collection{
		{ID: "1", Shop: testShop, IsActive: true},
		{ID: "2", Shop: testShop, IsActive: true},
		{ID: "1", Shop: testShop, IsActive: true},
	}, nil)

	raw, err := h.Handle(ctx, jobWith(t, model.JobNameAutoSorting, model.AutoSortingPayload{Shop: testShop}))
	require.NoError(t, err)

	var res AutoSortingResult
	require.NoError(t, json.Unmarshal(raw, &res))
	assert.Equal(t, AutoSortingResult{Shop: testShop, Enqueued: 2, Duplicated: 1}, res)

	require.Len(t, queue.requests, 2)
	for _, req := range queue.requests {
		assert.Equal(t, model.QueueBulkOperation, req.Queue)
		assert.Equal(t, 4*time.Second, req.Options.Delay)
		assert.Contains(t, req.Options.DedupKey, PushDownDedupPrefix)
	}
}

func TestAutoSortingHandler_SkipsInactiveMerchant(t *testing.T) {
	tests := []struct {
		name     string
		merchant *model.MerchantConfig
		err      error
	}{
		{name: "inactive", merchant: &model.MerchantConfig{Shop: testShop}},
		{name: "unknown", err: data.ErrMerchantNotFound},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h, _, merchants, queue := newAutoSortingFixture(t)
			merchants.EXPECT().Get(gomock.Any(), testShop).Return(tt.merchant, tt.err)

			raw, err := h.Handle(context.Background(), jobWith(t, model.JobNameAutoSorting, model.AutoSortingPayload{Shop: testShop}))
			require.NoError(t, err)
			assert.JSONEq(t, `{"shop":"s1.myshopify.com","enqueued":0,"duplicated":0}`, string(raw))
			assert.Empty(t, queue.requests)
		})
	}
}

func TestAutoSortingHandler_EnqueueError(t *testing.T) {
	h, collections, merchants, queue := newAutoSortingFixture(t)
	queue.err = errors.New("db down")
	merchants.EXPECT().Get(gomock.Any(), testShop).Return(&model.MerchantConfig{Shop: testShop, Active: true}, nil)
	collections.EXPECT().ListActive(gomock.Any(), testShop).Return([]*model.Collection{{ID: "1"}}, nil)

	_, err := h.Handle(context.Background(), jobWith(t, model.JobNameAutoSorting, model.AutoSortingPayload{Shop: testShop}))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "db down")
}

type hideFixture struct {
	shop      *mocks.MockShopAPI
	products  *mocks.MockProductRepository
	merchants *mocks.MockMerchantSettings
	now       time.Time
	handler   *HideProductHandler
}

func newHideFixture(t *testing.T) *hideFixture {
	t.Helper()
	ctrl := gomock.NewController(t)
	f := &hideFixture{
		shop:      mocks.NewMockShopAPI(ctrl),
		products:  mocks.NewMockProductRepository(ctrl),
		merchants: mocks.NewMockMerchantSettings(ctrl),
		now:       time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC),
	}
	h, err := NewHideProductHandler(HideProductHandlerOptions{
		Shop:      f.shop,
		Products:  f.products,
		Merchants: f.merchants,
		Clock:     func() time.Time { return f.now },
	})
	require.NoError(t, err)
	f.handler = h
	return f
}

func hidingMerchant(channel model.HidingChannel) *model.MerchantConfig {
	return &model.MerchantConfig{
		Shop:             testShop,
		Active:           true,
		EnableHiding:     true,
		HidingChannel:    channel,
		HideAfterDays:    3,
		TagHiddenProduct: true,
		HiddenProductTag: "hidden-oos",
		PublicationID:    "gid://shopify/Publication/1",
	}
}

func hideJob(t *testing.T) *model.Job {
	return jobWith(t, model.JobNameHideProduct, model.HideProductPayload{Shop: testShop, ProductID: "9"})
}

func TestHideProductHandler_OnlineStore(t *testing.T) {
	f := newHideFixture(t)
	ctx := context.Background()

	f.merchants.EXPECT().Get(ctx, testShop).Return(hidingMerchant(model.HidingChannelOnlineStore), nil)
	f.products.EXPECT().Get(ctx, testShop, "9").Return(&model.Product{ID: "9", Shop: testShop, OOS: true}, nil)
	gomock.InOrder(
		f.shop.EXPECT().SetPublished(ctx, core.PublicationParams{
			Shop: testShop, ProductID: "9", PublicationID: "gid://shopify/Publication/1", Published: false,
		}).Return(nil),
		f.shop.EXPECT().AddTags(ctx, core.TagsParams{Shop: testShop, ProductID: "9", Tags: []string{"hidden-oos"}}).Return(nil),
		f.products.EXPECT().SetHidden(ctx, core.ScheduleHideParams{Shop: testShop, ProductID: "9", At: &f.now}).Return(nil),
	)

	raw, err := f.handler.Handle(ctx, hideJob(t))
	require.NoError(t, err)

	var res HideProductResult
	require.NoError(t, json.Unmarshal(raw, &res))
	assert.True(t, res.Hidden)
	assert.Equal(t, model.HidingChannelOnlineStore, res.Channel)
}

func TestHideProductHandler_AllChannelsDrafts(t *testing.T) {
	f := newHideFixture(t)
	merchant := hidingMerchant(model.HidingChannelAll)
	merchant.TagHiddenProduct = false

	f.merchants.EXPECT().Get(gomock.Any(), testShop).Return(merchant, nil)
	f.products.EXPECT().Get(gomock.Any(), testShop, "9").Return(&model.Product{ID: "9", OOS: true}, nil)
	f.shop.EXPECT().SetProductStatus(gomock.Any(), core.ProductStatusParams{
		Shop: testShop, ProductID: "9", Status: model.ProductStatusDraft,
	}).Return(nil)
	f.products.EXPECT().SetHidden(gomock.Any(), gomock.Any()).Return(nil)

	_, err := f.handler.Handle(context.Background(), hideJob(t))
	require.NoError(t, err)
}

func TestHideProductHandler_Skips(t *testing.T) {
	hiddenAt := time.Date(2025, 2, 1, 0, 0, 0, 0, time.UTC)
	excluding := hidingMerchant(model.HidingChannelAll)
	excluding.ExcludeHiding = true
	excluding.ExcludeHideTags = []string{"keep"}

	tests := []struct {
		name     string
		merchant *model.MerchantConfig
		merchErr error
		product  *model.Product
		prodErr  error
		reason   string
	}{
		{name: "merchant not found", merchErr: data.ErrMerchantNotFound, reason: "merchant not found"},
		{name: "hiding disabled", merchant: &model.MerchantConfig{Shop: testShop, Active: true}, reason: "hiding disabled"},
		{name: "product not found", merchant: hidingMerchant(model.HidingChannelAll), prodErr: data.ErrProductNotFound, reason: "product not found"},
		{name: "back in stock", merchant: hidingMerchant(model.HidingChannelAll), product: &model.Product{ID: "9"}, reason: "back in stock"},
		{
			name:     "already hidden",
			merchant: hidingMerchant(model.HidingChannelAll),
			product:  &model.Product{ID: "9", OOS: true, HiddenAt: &hiddenAt},
			reason:   "already hidden",
		},
		{
			name:     "excluded by tag",
			merchant: excluding,
			product:  &model.Product{ID: "9", OOS: true, Tags: []string{"keep"}},
			reason:   "excluded by tag",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newHideFixture(t)
			f.merchants.EXPECT().Get(gomock.Any(), testShop).Return(tt.merchant, tt.merchErr)
			if tt.product != nil || tt.prodErr != nil {
				f.products.EXPECT().Get(gomock.Any(), testShop, "9").Return(tt.product, tt.prodErr)
			}

			raw, err := f.handler.Handle(context.Background(), hideJob(t))
			require.NoError(t, err)

			var res HideProductResult
			require.NoError(t, json.Unmarshal(raw, &res))
			assert.False(t, res.Hidden)
			assert.Equal(t, tt.reason, res.Reason)
		})
	}
}

func TestHideProductHandler_MissingPublication(t *testing.T) {
	f := newHideFixture(t)
	merchant := hidingMerchant(model.HidingChannelOnlineStore)
	merchant.PublicationID = ""
	f.merchants.EXPECT().Get(gomock.Any(), testShop).Return(merchant, nil)
	f.products.EXPECT().Get(gomock.Any(), testShop, "9").Return(&model.Product{ID: "9", OOS: true}, nil)

	_, err := f.handler.Handle(context.Background(), hideJob(t))
	require.Error(t, err)
	assert.True(t, apperrors.IsValidation(err))
}

func TestHideProductHandler_UpstreamErrorRetries(t *testing.T) {
	f := newHideFixture(t)
	f.merchants.EXPECT().Get(gomock.Any(), testShop).Return(hidingMerchant(model.HidingChannelAll), nil)
	f.products.EXPECT().Get(gomock.Any(), testShop, "9").Return(&model.Product{ID: "9", OOS: true}, nil)
	f.shop.EXPECT().SetProductStatus(gomock.Any(), gomock.Any()).Return(errors.New("connection reset"))

	_, err := f.handler.Handle(context.Background(), hideJob(t))
	require.Error(t, err)
	assert.False(t, apperrors.IsPermanent(err))
}

func TestClearScheduledHideOnFailure(t *testing.T) {
	ctrl := gomock.NewController(t)
	products := mocks.NewMockProductRepository(ctrl)
	handler := ClearScheduledHideOnFailure(products, nil)
	payload, _ := json.Marshal(model.HideProductPayload{Shop: testShop, ProductID: "9"})

	products.EXPECT().SetHidden(gomock.Any(), core.ScheduleHideParams{Shop: testShop, ProductID: "9"}).Return(nil)
	handler(context.Background(), domainjob.Event{
		Kind: domainjob.EventFailed, Queue: model.QueueHideProduct, JobID: "j1", Payload: payload,
	})

	// Other queues, other kinds and unusable payloads are ignored.
	handler(context.Background(), domainjob.Event{Kind: domainjob.EventFailed, Queue: model.QueueBulkOperation, Payload: payload})
	handler(context.Background(), domainjob.Event{Kind: domainjob.EventCompleted, Queue: model.QueueHideProduct, Payload: payload})
	handler(context.Background(), domainjob.Event{Kind: domainjob.EventFailed, Queue: model.QueueHideProduct, Payload: json.RawMessage(`{}`)})
}
