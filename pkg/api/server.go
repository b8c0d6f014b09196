package api

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/luoliAsyns/Gateway/pkg/auth"
	"github.com/luoliAsyns/Gateway/pkg/bridge"
	"github.com/luoliAsyns/Gateway/pkg/coupon"
	"github.com/luoliAsyns/Gateway/pkg/dedup"
	"github.com/luoliAsyns/Gateway/pkg/metrics"
	"github.com/luoliAsyns/Gateway/pkg/mq"
	"github.com/luoliAsyns/Gateway/pkg/notify"
	"github.com/luoliAsyns/Gateway/pkg/order"
	"github.com/luoliAsyns/Gateway/pkg/partner"
	"github.com/luoliAsyns/Gateway/pkg/store"
	"github.com/luoliAsyns/Gateway/pkg/upstream"
	"github.com/luoliAsyns/Gateway/pkg/webhook"
)

// RefundReconciler is the refund state machine as the HTTP layer sees it.
type RefundReconciler interface {
	HandleRefund(ctx context.Context, platform order.Platform, tid string) (coupon.Outcome, error)
}

// CounterDumper renders the business counters for the admin dump endpoint.
type CounterDumper interface {
	Dump(ctx context.Context) (string, error)
}

// UserStore is the remote admin-user service.
type UserStore interface {
	Login(ctx context.Context, username, password string) (bool, error)
	ChangePassword(ctx context.Context, username, newPassword string) error
	Register(ctx context.Context, username, phone string, gender int) (string, error)
}

// CouponReader looks coupons up by code and records events on them.
type CouponReader interface {
	Query(ctx context.Context, code string) (*coupon.Coupon, error)
	Update(ctx context.Context, c *coupon.Coupon, ev coupon.Event) error
}

// ConsumeReader checks past redemptions.
type ConsumeReader interface {
	Query(ctx context.Context, goodsType, code string) (*store.ConsumeInfo, error)
}

// PartnerClient is the slice of the chago client the handlers call.
type PartnerClient interface {
	partner.BranchLister
	Refund(ctx context.Context, partnerOrderID string) (string, error)
	Order(ctx context.Context, orderNo string) (*partner.OrderInfo, error)
	UserInfo(ctx context.Context) (map[string]any, error)
}

// AccountStore holds the captured partner login.
type AccountStore interface {
	Save(ctx context.Context, a *partner.Account) error
	Load(ctx context.Context) (*partner.Account, error)
}

// BranchDirectory answers branch city and ban questions.
type BranchDirectory interface {
	CityOf(ctx context.Context, branchID string) (string, error)
	IsBanned(ctx context.Context, branchID string) (bool, error)
	Refresh(ctx context.Context, lister partner.BranchLister) (int, error)
}

// Server wires the handlers to their collaborators.
type Server struct {
	log        *slog.Logger
	validator  *webhook.Validator
	dedup      dedup.Store
	fetchers   map[order.Platform]upstream.Fetcher
	resolve    order.SkuResolver
	publisher  mq.Publisher
	reconciler RefundReconciler
	subscriber bridge.Subscriber
	counters   metrics.Recorder
	dumper     CounterDumper
	notifier   notify.Notifier
	auth       *auth.Manager
	sessions   auth.Sessions
	users      UserStore
	coupons    CouponReader
	consumes   ConsumeReader
	partner    PartnerClient
	accounts   AccountStore
	branches   BranchDirectory
}

// Deps carries everything a Server needs; cmd/gateway fills it in once at
// startup.
type Deps struct {
	Log        *slog.Logger
	Validator  *webhook.Validator
	Dedup      dedup.Store
	Fetchers   map[order.Platform]upstream.Fetcher
	Resolve    order.SkuResolver
	Publisher  mq.Publisher
	Reconciler RefundReconciler
	Subscriber bridge.Subscriber
	Counters   metrics.Recorder
	Dumper     CounterDumper
	Notifier   notify.Notifier
	Auth       *auth.Manager
	Sessions   auth.Sessions
	Users      UserStore
	Coupons    CouponReader
	Consumes   ConsumeReader
	Partner    PartnerClient
	Accounts   AccountStore
	Branches   BranchDirectory
}

func NewServer(d Deps) *Server {
	return &Server{
		log:        d.Log,
		validator:  d.Validator,
		dedup:      d.Dedup,
		fetchers:   d.Fetchers,
		resolve:    d.Resolve,
		publisher:  d.Publisher,
		reconciler: d.Reconciler,
		subscriber: d.Subscriber,
		counters:   d.Counters,
		dumper:     d.Dumper,
		notifier:   d.Notifier,
		auth:       d.Auth,
		sessions:   d.Sessions,
		users:      d.Users,
		coupons:    d.Coupons,
		consumes:   d.Consumes,
		partner:    d.Partner,
		accounts:   d.Accounts,
		branches:   d.Branches,
	}
}

// Router builds the full route table. The rate limiter and request logging
// wrap everything; admin routes additionally require a live session.
func (s *Server) Router(limiter *GlobalRateLimiter) http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("POST /api/gateway/receive-external-order/create", s.handleCreate)
	mux.HandleFunc("POST /api/gateway/receive-external-order/refund", s.handleRefund)
	mux.HandleFunc("GET /api/gateway/receive-external-order/sse", s.handleSSE)

	mux.HandleFunc("POST /api/gateway/admin/login", s.handleLogin)

	authed := RequireAuth(s.auth, s.sessions, s.log)
	mux.Handle("POST /api/gateway/admin/logout", authed(http.HandlerFunc(s.handleLogout)))
	mux.Handle("POST /api/gateway/admin/change-password", authed(http.HandlerFunc(s.handleChangePassword)))
	mux.Handle("POST /api/gateway/admin/register", authed(http.HandlerFunc(s.handleRegister)))
	mux.Handle("GET /api/gateway/admin/counters", authed(http.HandlerFunc(s.handleCounters)))

	mux.HandleFunc("POST /api/gateway/prod/chago/token", s.handleChagoToken)
	mux.HandleFunc("POST /api/gateway/prod/chago/consume", s.handleChagoConsume)
	mux.HandleFunc("GET /api/gateway/prod/chago/order", s.handleChagoOrder)
	mux.HandleFunc("GET /api/gateway/prod/chago/city", s.handleChagoCity)
	mux.Handle("GET /api/gateway/prod/chago/refresh-region-branch-map",
		authed(http.HandlerFunc(s.handleChagoRefreshBranches)))
	mux.Handle("POST /api/gateway/admin/chago/refund", authed(http.HandlerFunc(s.handleChagoRefund)))
	mux.Handle("GET /api/gateway/admin/chago/user-info", authed(http.HandlerFunc(s.handleChagoUserInfo)))
	mux.Handle("GET /api/gateway/admin/chago/token", authed(http.HandlerFunc(s.handleChagoTokenInfo)))

	var h http.Handler = mux
	if limiter != nil {
		h = limiter.Middleware(h)
	}
	h = Logging(s.log)(h)
	h = RequestID(h)
	return h
}
