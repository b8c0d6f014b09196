package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"

	"github.com/luoliAsyns/Gateway/pkg/coupon"
	"github.com/luoliAsyns/Gateway/pkg/metrics"
	"github.com/luoliAsyns/Gateway/pkg/mq"
	"github.com/luoliAsyns/Gateway/pkg/partner"
	"github.com/luoliAsyns/Gateway/pkg/store"
)

// handleChagoToken ingests a captured partner app login. The body is the raw
// capture, noise and all; operators paste it straight from their tooling.
func (s *Server) handleChagoToken(w http.ResponseWriter, r *http.Request) {
	raw, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxWebhookBody))
	if err != nil {
		jsonFail(w, http.StatusBadRequest, "read body failed", s.log)
		return
	}

	account, err := partner.ParseCapturedLogin(raw)
	if err != nil {
		s.log.Info("captured login rejected", "reason", err)
		jsonFail(w, http.StatusBadRequest, err.Error(), s.log)
		return
	}
	if err := s.accounts.Save(r.Context(), account); err != nil {
		s.log.Error("account cache failed", "error", err)
		jsonFail(w, http.StatusInternalServerError, "cache account failed", s.log)
		return
	}

	s.notifier.Notify(r.Context(), fmt.Sprintf(
		"chago account refreshed, phone %s, expires %s",
		account.Phone, account.ExpiresAt.Format("2006-01-02 15:04:05")))
	s.log.Info("chago account refreshed", "phone", account.Phone,
		"expires_at", account.ExpiresAt)
	jsonOK(w, nil, s.log)
}

// handleChagoConsume accepts one redemption request. Everything is checked
// before the queue sees it: the coupon must exist and be redeemable, a
// partner account must be live, the branch must not be banned, and the
// coupon must not have been redeemed before.
func (s *Server) handleChagoConsume(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	var req struct {
		Coupon    string          `json:"coupon"`
		GoodsType string          `json:"goods_type"`
		Goods     json.RawMessage `json:"goods"`
		BranchID  string          `json:"branch_id"`
		Remark    string          `json:"remark"`
	}
	if err := decodeJSON(r, &req); err != nil || req.Coupon == "" || req.GoodsType == "" || req.BranchID == "" {
		jsonFail(w, http.StatusBadRequest, "coupon, goods_type and branch_id required", s.log)
		return
	}

	c, err := s.coupons.Query(ctx, req.Coupon)
	if errors.Is(err, coupon.ErrNotFound) {
		jsonFail(w, http.StatusBadRequest, "coupon not found", s.log)
		return
	}
	if err != nil {
		s.log.Error("coupon lookup failed", "coupon", req.Coupon, "error", err)
		jsonFail(w, http.StatusInternalServerError, "coupon lookup failed", s.log)
		return
	}
	if c.Status != coupon.StatusShipped {
		jsonFail(w, http.StatusBadRequest,
			fmt.Sprintf("coupon not redeemable, status %s", c.Status), s.log)
		return
	}

	if _, err := s.accounts.Load(ctx); err != nil {
		if errors.Is(err, partner.ErrNoAccount) {
			s.notifier.Notify(ctx, "consume blocked: no chago account cached")
			jsonFail(w, http.StatusBadRequest, "no partner account, try later", s.log)
			return
		}
		s.log.Error("account load failed", "error", err)
		jsonFail(w, http.StatusInternalServerError, "account check failed", s.log)
		return
	}

	banned, err := s.branches.IsBanned(ctx, req.BranchID)
	if err != nil {
		s.log.Error("banned branch check failed", "branch", req.BranchID, "error", err)
		jsonFail(w, http.StatusInternalServerError, "branch check failed", s.log)
		return
	}
	if banned {
		s.notifier.Notify(ctx, fmt.Sprintf(
			"consume rejected: banned branch %s, coupon %s", req.BranchID, req.Coupon))
		jsonFail(w, http.StatusBadRequest, "branch not allowed", s.log)
		return
	}

	if _, err := s.consumes.Query(ctx, req.GoodsType, req.Coupon); err == nil {
		jsonFail(w, http.StatusBadRequest, "coupon already used", s.log)
		return
	} else if !errors.Is(err, coupon.ErrNotFound) {
		s.log.Error("consume lookup failed", "coupon", req.Coupon, "error", err)
		jsonFail(w, http.StatusInternalServerError, "consume lookup failed", s.log)
		return
	}

	info := store.ConsumeInfo{
		Coupon:    req.Coupon,
		GoodsType: req.GoodsType,
		Goods:     req.Goods,
		Branch:    req.BranchID,
		Remark:    req.Remark,
	}
	body, err := json.Marshal(info)
	if err != nil {
		jsonFail(w, http.StatusInternalServerError, "encode consume failed", s.log)
		return
	}
	if err := s.publisher.Publish(ctx, mq.RouteConsumeInfoInserting, body); err != nil {
		s.log.Error("publish consume failed", "coupon", req.Coupon, "error", err)
		jsonFail(w, http.StatusInternalServerError, "sent mq failed", s.log)
		return
	}

	s.counters.Inc(ctx, metrics.CounterConsumesReceived)
	s.log.Info("consume accepted", "coupon", req.Coupon, "branch", req.BranchID)
	jsonOK(w, nil, s.log)
}

// handleChagoOrder reports the partner's view of the order behind a coupon.
// A payment drift between the two systems is synced onto the coupon, best
// effort.
func (s *Server) handleChagoOrder(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	code := r.URL.Query().Get("coupon")
	if code == "" {
		jsonFail(w, http.StatusBadRequest, "coupon required", s.log)
		return
	}

	c, err := s.coupons.Query(ctx, code)
	if errors.Is(err, coupon.ErrNotFound) {
		jsonFail(w, http.StatusBadRequest, "coupon not found", s.log)
		return
	}
	if err != nil {
		s.log.Error("coupon lookup failed", "coupon", code, "error", err)
		jsonFail(w, http.StatusInternalServerError, "coupon lookup failed", s.log)
		return
	}
	if c.PartnerOrderID == "" {
		jsonFail(w, http.StatusBadRequest, "coupon has no partner order", s.log)
		return
	}

	info, err := s.partner.Order(ctx, c.PartnerOrderID)
	if err != nil {
		s.log.Error("partner order query failed", "order_no", c.PartnerOrderID, "error", err)
		jsonFail(w, http.StatusBadGateway, "partner query failed", s.log)
		return
	}

	if info.Payment != "" && info.Payment != c.PartnerPayment {
		c.PartnerPayment = info.Payment
		if err := s.coupons.Update(ctx, c, coupon.EventPartnerQuery); err != nil {
			s.log.Error("payment sync failed", "coupon", code, "error", err)
		}
	}

	jsonOK(w, info, s.log)
}

func (s *Server) handleChagoCity(w http.ResponseWriter, r *http.Request) {
	branchID := r.URL.Query().Get("branchId")
	if branchID == "" {
		jsonFail(w, http.StatusBadRequest, "branchId required", s.log)
		return
	}

	city, err := s.branches.CityOf(r.Context(), branchID)
	if err != nil {
		s.log.Error("branch city lookup failed", "branch", branchID, "error", err)
		jsonFail(w, http.StatusInternalServerError, "city lookup failed", s.log)
		return
	}
	if city == "" {
		jsonFail(w, http.StatusNotFound, "unknown branch", s.log)
		return
	}
	jsonOK(w, city, s.log)
}

func (s *Server) handleChagoRefreshBranches(w http.ResponseWriter, r *http.Request) {
	n, err := s.branches.Refresh(r.Context(), s.partner)
	if err != nil {
		s.log.Error("branch map refresh failed", "error", err)
		jsonFail(w, http.StatusBadGateway, "refresh failed", s.log)
		return
	}
	s.log.Info("branch map refreshed", "branches", n,
		"by", usernameFrom(r.Context()))
	jsonOK(w, n, s.log)
}

// handleChagoRefund is the operator's manual compensating refund. When the
// request names the coupon the refund is recorded on it as a proxy refund.
func (s *Server) handleChagoRefund(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	var req struct {
		OrderNo string `json:"order_no"`
		Coupon  string `json:"coupon"`
	}
	if err := decodeJSON(r, &req); err != nil || req.OrderNo == "" {
		jsonFail(w, http.StatusBadRequest, "order_no required", s.log)
		return
	}

	result, err := s.partner.Refund(ctx, req.OrderNo)
	if err != nil {
		s.log.Error("manual partner refund failed", "order_no", req.OrderNo, "error", err)
		jsonFail(w, http.StatusBadGateway, err.Error(), s.log)
		return
	}

	if req.Coupon != "" {
		if c, err := s.coupons.Query(ctx, req.Coupon); err == nil {
			if err := s.coupons.Update(ctx, c, coupon.EventProxyRefund); err != nil {
				s.log.Error("proxy refund record failed", "coupon", req.Coupon, "error", err)
			}
		} else {
			s.log.Error("proxy refund coupon lookup failed", "coupon", req.Coupon, "error", err)
		}
	}

	s.log.Info("manual partner refund", "order_no", req.OrderNo,
		"by", usernameFrom(ctx), "result", result)
	jsonOK(w, result, s.log)
}

func (s *Server) handleChagoUserInfo(w http.ResponseWriter, r *http.Request) {
	info, err := s.partner.UserInfo(r.Context())
	if err != nil {
		s.log.Error("partner user info failed", "error", err)
		jsonFail(w, http.StatusBadGateway, err.Error(), s.log)
		return
	}
	jsonOK(w, info, s.log)
}

// handleChagoTokenInfo lets operators check the cached account without
// exposing the full token.
func (s *Server) handleChagoTokenInfo(w http.ResponseWriter, r *http.Request) {
	account, err := s.accounts.Load(r.Context())
	if errors.Is(err, partner.ErrNoAccount) {
		jsonFail(w, http.StatusNotFound, "no account cached", s.log)
		return
	}
	if err != nil {
		s.log.Error("account load failed", "error", err)
		jsonFail(w, http.StatusInternalServerError, "account load failed", s.log)
		return
	}

	token := account.Token
	if len(token) > 12 {
		token = token[:12] + "..."
	}
	jsonOK(w, map[string]any{
		"phone":      account.Phone,
		"user_id":    account.UserID,
		"token":      token,
		"expires_at": account.ExpiresAt,
	}, s.log)
}
