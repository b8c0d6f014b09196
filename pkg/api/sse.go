package api

import (
	"net/http"
	"strings"

	"github.com/luoliAsyns/Gateway/pkg/bridge"
)

// sseSink writes one refresh event per relevant coupon change and flushes
// immediately, so the browser repaints without polling.
type sseSink struct {
	w http.ResponseWriter
	f http.Flusher
}

func (s sseSink) Refresh() error {
	if _, err := s.w.Write([]byte("data: refresh\n\n")); err != nil {
		return err
	}
	s.f.Flush()
	return nil
}

// handleSSE streams coupon-change notifications for the coupons named in
// the query string. Connections are short-lived (one status page view), so
// there is no heartbeat; the relay ends on disconnect or shutdown.
func (s *Server) handleSSE(w http.ResponseWriter, r *http.Request) {
	// The parameter repeats (?coupons=C1&coupons=C2) and each value may
	// itself be a comma-separated list.
	var coupons []string
	for _, v := range r.URL.Query()["coupons"] {
		for _, c := range strings.Split(v, ",") {
			if c = strings.TrimSpace(c); c != "" {
				coupons = append(coupons, c)
			}
		}
	}
	if len(coupons) == 0 {
		textFail(w, "no coupons given")
		return
	}

	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming unsupported", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	if err := bridge.Relay(r.Context(), s.subscriber, bridge.ChannelCouponChanged,
		coupons, sseSink{w: w, f: flusher}, s.log); err != nil {
		s.log.Error("coupon stream failed", "error", err,
			"request_id", requestIDFrom(r.Context()))
	}
}
