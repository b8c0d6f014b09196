package api

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/luoliAsyns/Gateway/pkg/auth"
	"github.com/luoliAsyns/Gateway/pkg/coupon"
	"github.com/luoliAsyns/Gateway/pkg/dedup"
	"github.com/luoliAsyns/Gateway/pkg/metrics"
	"github.com/luoliAsyns/Gateway/pkg/mq"
	"github.com/luoliAsyns/Gateway/pkg/order"
	"github.com/luoliAsyns/Gateway/pkg/upstream"
	"github.com/luoliAsyns/Gateway/pkg/webhook"
)

const (
	testTaobaoSecret  = "taobao-secret"
	testGoofishSecret = "goofish-secret"
)

type fakeFetcher struct {
	trade *order.Trade
	err   error
}

func (f *fakeFetcher) TradeInfo(context.Context, string) (*order.Trade, error) {
	return f.trade, f.err
}

type published struct {
	route string
	body  []byte
}

type fakePublisher struct {
	mu   sync.Mutex
	msgs []published
	err  error
}

func (p *fakePublisher) Publish(_ context.Context, route string, body []byte) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.err != nil {
		return p.err
	}
	p.msgs = append(p.msgs, published{route: route, body: body})
	return nil
}

type fakeOrderStore struct {
	orders  map[string]*order.Order
	marked  []string
	markErr error
}

func orderKey(p order.Platform, tid string) string { return string(p) + "/" + tid }

func (f *fakeOrderStore) Get(_ context.Context, p order.Platform, tid string) (*order.Order, error) {
	o, ok := f.orders[orderKey(p, tid)]
	if !ok {
		return nil, order.ErrNotFound
	}
	return o, nil
}

func (f *fakeOrderStore) MarkRefundReceived(_ context.Context, o *order.Order) error {
	if f.markErr != nil {
		return f.markErr
	}
	f.marked = append(f.marked, o.Tid)
	return nil
}

type fakeCouponStore struct {
	byOrder     map[string]*coupon.Coupon
	invalidated []string
	events      []coupon.Event
}

func (f *fakeCouponStore) QueryByOrder(_ context.Context, p order.Platform, tid string) (*coupon.Coupon, error) {
	c, ok := f.byOrder[orderKey(p, tid)]
	if !ok {
		return nil, coupon.ErrNotFound
	}
	return c, nil
}

func (f *fakeCouponStore) Invalidate(_ context.Context, code string) error {
	f.invalidated = append(f.invalidated, code)
	return nil
}

func (f *fakeCouponStore) Update(_ context.Context, _ *coupon.Coupon, ev coupon.Event) error {
	f.events = append(f.events, ev)
	return nil
}

type fakeSessions struct {
	mu       sync.Mutex
	sessions map[string]string
}

func newFakeSessions() *fakeSessions {
	return &fakeSessions{sessions: make(map[string]string)}
}

func (f *fakeSessions) Put(_ context.Context, user, token string, _ time.Duration) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sessions[user] = token
	return nil
}

func (f *fakeSessions) Get(_ context.Context, user string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.sessions[user], nil
}

func (f *fakeSessions) Delete(_ context.Context, user string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.sessions, user)
	return nil
}

// testEnv bundles a Server with every fake it is wired to.
type testEnv struct {
	server    *Server
	handler   http.Handler
	fetcher   *fakeFetcher
	publisher *fakePublisher
	orders    *fakeOrderStore
	coupons   *fakeCouponStore
	sessions  *fakeSessions
	authMgr   *auth.Manager
	users     *fakeUsers
	reader    *fakeCouponReader
	consumes  *fakeConsumes
	partner   *fakePartnerClient
	accounts  *fakeAccounts
	branches  *fakeBranches
	notifier  *countingNotifier
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	log := slog.New(slog.NewTextHandler(io.Discard, nil))

	env := &testEnv{
		fetcher:   &fakeFetcher{},
		publisher: &fakePublisher{},
		orders:    &fakeOrderStore{orders: map[string]*order.Order{}},
		coupons:   &fakeCouponStore{byOrder: map[string]*coupon.Coupon{}},
		sessions:  newFakeSessions(),
		authMgr:   auth.NewManager("test-secret", time.Hour),
		users:     &fakeUsers{creds: map[string]string{}},
		reader:    &fakeCouponReader{byCode: map[string]*coupon.Coupon{}},
		consumes:  &fakeConsumes{used: map[string]bool{}},
		partner:   &fakePartnerClient{},
		accounts:  &fakeAccounts{},
		branches:  &fakeBranches{banned: map[string]bool{}, city: map[string]string{}},
		notifier:  &countingNotifier{},
	}

	resolve := func(_ context.Context, skuID string) (order.TargetPartner, bool, error) {
		if skuID == "9001" {
			return order.TargetPartnerChago, true, nil
		}
		return order.TargetPartnerUnmapped, false, nil
	}

	reconciler := coupon.NewReconciler(env.orders, env.coupons,
		map[order.TargetPartner]coupon.PartnerRefunder{}, metrics.Noop{}, log)

	env.server = NewServer(Deps{
		Log:       log,
		Validator: webhook.NewValidator(testTaobaoSecret, testGoofishSecret),
		Dedup:     dedup.NewMemoryStore(),
		Fetchers: map[order.Platform]upstream.Fetcher{
			order.PlatformTaobao: env.fetcher,
		},
		Resolve:    resolve,
		Publisher:  env.publisher,
		Reconciler: reconciler,
		Counters:   metrics.Noop{},
		Dumper:     staticDumper("orders_received 3\nrefunds_received 1\n"),
		Notifier:   env.notifier,
		Auth:       env.authMgr,
		Sessions:   env.sessions,
		Users:      env.users,
		Coupons:    env.reader,
		Consumes:   env.consumes,
		Partner:    env.partner,
		Accounts:   env.accounts,
		Branches:   env.branches,
	})
	env.handler = env.server.Router(nil)
	return env
}

func (e *testEnv) post(t *testing.T, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, path, strings.NewReader(body))
	rec := httptest.NewRecorder()
	e.handler.ServeHTTP(rec, req)
	return rec
}

func taobaoCreateURL(body, timestamp string) string {
	sign := webhook.SignTaobao([]byte(body), timestamp, testTaobaoSecret)
	return fmt.Sprintf("/api/gateway/receive-external-order/create?aopic=1&timestamp=%s&sign=%s",
		timestamp, sign)
}

func taobaoRefundURL(body, timestamp string) string {
	sign := webhook.SignTaobao([]byte(body), timestamp, testTaobaoSecret)
	return fmt.Sprintf("/api/gateway/receive-external-order/refund?aopic=4&timestamp=%s&sign=%s",
		timestamp, sign)
}

// The intake lifecycle of one trade: ingest, reject the duplicate, then
// reconcile its refund while an unknown tid stays a harmless no-op.
func TestWebhookLifecycle(t *testing.T) {
	env := newTestEnv(t)
	env.fetcher.trade = &order.Trade{
		FromPlatform: order.PlatformTaobao,
		Tid:          "T1",
		SellerNick:   "tea-shop",
		Payment:      "45.00",
		Status:       "WAIT_BUYER_PAY",
		Items: []order.Item{
			{SkuID: "9001", Title: "milk tea voucher", Price: "45.00", Num: 1},
			{SkuID: "1234", Title: "unrelated product", Price: "5.00", Num: 1},
		},
	}

	createBody := `{"tid":"T1","seller_nick":"tea-shop","payment":"45.00","status":"TRADE_SUCCESS"}`

	rec := env.post(t, taobaoCreateURL(createBody, "1700000000"), createBody)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, "ok", rec.Body.String())
	require.Len(t, env.publisher.msgs, 1)
	assert.Equal(t, "external-order.inserting", env.publisher.msgs[0].route)
	// the webhook status wins over the stale fetched one
	assert.Contains(t, string(env.publisher.msgs[0].body), `"status":"TRADE_SUCCESS"`)
	assert.Contains(t, string(env.publisher.msgs[0].body), `"sku_id":"9001"`)
	assert.NotContains(t, string(env.publisher.msgs[0].body), "unrelated")

	// identical retry from the relay
	rec = env.post(t, taobaoCreateURL(createBody, "1700000000"), createBody)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "duplicate", rec.Body.String())
	assert.Len(t, env.publisher.msgs, 1)

	// refund while the coupon is still unredeemed
	env.orders.orders["taobao/T1"] = &order.Order{FromPlatform: order.PlatformTaobao, Tid: "T1"}
	env.coupons.byOrder["taobao/T1"] = &coupon.Coupon{Code: "C1", Status: coupon.StatusShipped}

	refundBody := `{"tid":"T1","refund_status":"WAIT_SELLER_AGREE"}`
	rec = env.post(t, taobaoRefundURL(refundBody, "1700000100"), refundBody)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, []string{"C1"}, env.coupons.invalidated)
	assert.Equal(t, []string{"T1"}, env.orders.marked)

	// refund for a trade that was never ours
	unknownBody := `{"tid":"T2","refund_status":"WAIT_SELLER_AGREE"}`
	rec = env.post(t, taobaoRefundURL(unknownBody, "1700000200"), unknownBody)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "ok", rec.Body.String())
	assert.Equal(t, []string{"T1"}, env.orders.marked)
}

func TestWebhookUnknownEventCode(t *testing.T) {
	env := newTestEnv(t)
	rec := env.post(t, "/api/gateway/receive-external-order/create?aopic=99", `{"tid":"T1"}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, rec.Body.String(), "unknown aopic")
}

func TestWebhookBadSignature(t *testing.T) {
	env := newTestEnv(t)
	body := `{"tid":"T1","seller_nick":"tea-shop","payment":"45.00","status":"TRADE_SUCCESS"}`
	url := "/api/gateway/receive-external-order/create?aopic=1&timestamp=1700000000&sign=deadbeef"

	rec := env.post(t, url, body)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, rec.Body.String(), "not pass sign validate")
	assert.Empty(t, env.publisher.msgs)
}

func TestWebhookRefundEventOnCreateEndpoint(t *testing.T) {
	env := newTestEnv(t)
	body := `{"tid":"T1","refund_status":"WAIT_SELLER_AGREE"}`
	sign := webhook.SignTaobao([]byte(body), "1700000000", testTaobaoSecret)
	url := "/api/gateway/receive-external-order/create?aopic=4&timestamp=1700000000&sign=" + sign

	rec := env.post(t, url, body)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, rec.Body.String(), "not a trade event")
}

func TestWebhookTradeFetchFailure(t *testing.T) {
	env := newTestEnv(t)
	env.fetcher.err = upstream.ErrNoAccessToken

	body := `{"tid":"T9","seller_nick":"tea-shop","payment":"45.00","status":"TRADE_SUCCESS"}`
	rec := env.post(t, taobaoCreateURL(body, "1700000000"), body)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "fetch trade info failed", rec.Body.String())
	assert.Empty(t, env.publisher.msgs)
}

func TestWebhookNothingOfOurs(t *testing.T) {
	env := newTestEnv(t)
	env.fetcher.trade = &order.Trade{
		FromPlatform: order.PlatformTaobao,
		Tid:          "T3",
		Items:        []order.Item{{SkuID: "1234", Title: "unrelated", Price: "5.00", Num: 1}},
	}

	body := `{"tid":"T3","seller_nick":"tea-shop","payment":"5.00","status":"TRADE_SUCCESS"}`
	rec := env.post(t, taobaoCreateURL(body, "1700000000"), body)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "ok", rec.Body.String())
	assert.Empty(t, env.publisher.msgs)
}

func TestWebhookPublishFailure(t *testing.T) {
	env := newTestEnv(t)
	env.fetcher.trade = &order.Trade{
		FromPlatform: order.PlatformTaobao,
		Tid:          "T4",
		Items:        []order.Item{{SkuID: "9001", Title: "voucher", Price: "45.00", Num: 1}},
	}
	env.publisher.err = fmt.Errorf("broker gone")

	body := `{"tid":"T4","seller_nick":"tea-shop","payment":"45.00","status":"TRADE_SUCCESS"}`
	rec := env.post(t, taobaoCreateURL(body, "1700000000"), body)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "sent mq failed", rec.Body.String())
}

func TestWebhookRetryAfterPublishFailure(t *testing.T) {
	env := newTestEnv(t)
	env.fetcher.trade = &order.Trade{
		FromPlatform: order.PlatformTaobao,
		Tid:          "T6",
		Items:        []order.Item{{SkuID: "9001", Title: "voucher", Price: "45.00", Num: 1}},
	}
	env.publisher.err = fmt.Errorf("broker gone")

	body := `{"tid":"T6","seller_nick":"tea-shop","payment":"45.00","status":"TRADE_SUCCESS"}`
	rec := env.post(t, taobaoCreateURL(body, "1700000000"), body)
	require.Equal(t, http.StatusBadRequest, rec.Code)
	require.Empty(t, env.publisher.msgs)

	// The relay retries the same notification once the broker is back.
	env.publisher.err = nil
	rec = env.post(t, taobaoCreateURL(body, "1700000000"), body)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "ok", rec.Body.String())
	require.Len(t, env.publisher.msgs, 1)
	assert.Equal(t, mq.RouteExternalOrderInserting, env.publisher.msgs[0].route)
}

func TestWebhookRefundNotApplicable(t *testing.T) {
	env := newTestEnv(t)
	env.orders.orders["taobao/T5"] = &order.Order{FromPlatform: order.PlatformTaobao, Tid: "T5"}
	env.coupons.byOrder["taobao/T5"] = &coupon.Coupon{Code: "C5", Status: coupon.StatusInvalidated}

	body := `{"tid":"T5","refund_status":"WAIT_SELLER_AGREE"}`
	rec := env.post(t, taobaoRefundURL(body, "1700000000"), body)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, rec.Body.String(), "not applicable, status invalidated")
}
