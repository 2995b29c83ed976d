// internal/service/payment/interfaces/http_handler.go
package interfaces

import (
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/pkg/errors"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/propagation"

	"caremesh/internal/service/payment/application"
	"caremesh/internal/service/payment/domain"
)

// CoordinatorHandler 暴露两阶段核销协议的 HTTP 接口。
type CoordinatorHandler struct {
	coordinator *application.RedemptionCoordinator
}

// NewCoordinatorHandler 创建一个新的 HTTP 处理器实例
func NewCoordinatorHandler(coordinator *application.RedemptionCoordinator) *CoordinatorHandler {
	return &CoordinatorHandler{coordinator: coordinator}
}

// RegisterRoutes 在 ServeMux 上注册所有路由
func (h *CoordinatorHandler) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("/validate_coupon", h.handleValidate)
	mux.HandleFunc("/redeem_coupon", h.handleRedeem)
	mux.HandleFunc("/get_redemption", h.handleGetRedemption)
}

func extractCtx(r *http.Request) *http.Request {
	propagator := otel.GetTextMapPropagator()
	ctx := propagator.Extract(r.Context(), propagation.HeaderCarrier(r.Header))
	return r.WithContext(ctx)
}

type errorBody struct {
	Error   string `json:"error"`
	Message string `json:"message"`
}

// writeError 映射协调器的类型化错误：
//
//	503 账本不可达（可重试）
//	409 核销冲突（已触发退款补偿）
//	422 券被账本拒绝（不可重试，调用方要改请求）
func writeError(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError
	code := "INTERNAL"
	switch {
	case errors.Is(err, domain.ErrLedgerUnavailable):
		status, code = http.StatusServiceUnavailable, "LEDGER_UNAVAILABLE"
	case errors.Is(err, domain.ErrCouponConflict):
		status, code = http.StatusConflict, "COUPON_CONFLICT"
	case errors.Is(err, domain.ErrCouponRejected):
		status, code = http.StatusUnprocessableEntity, "COUPON_REJECTED"
	case errors.Is(err, domain.ErrRecordNotFound):
		status, code = http.StatusNotFound, "RECORD_NOT_FOUND"
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(errorBody{Error: code, Message: err.Error()})
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func (h *CoordinatorHandler) handleValidate(w http.ResponseWriter, r *http.Request) {
	r = extractCtx(r)
	var req application.ValidateCouponRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}
	result, err := h.coordinator.ValidateCoupon(r.Context(), &req)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

func (h *CoordinatorHandler) handleRedeem(w http.ResponseWriter, r *http.Request) {
	r = extractCtx(r)
	var req application.RedeemCouponRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}
	if req.PaymentID == 0 {
		// 核销的前置条件是扣款凭证已存在
		http.Error(w, "payment_id is required", http.StatusBadRequest)
		return
	}
	result, err := h.coordinator.RedeemCoupon(r.Context(), &req)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

func (h *CoordinatorHandler) handleGetRedemption(w http.ResponseWriter, r *http.Request) {
	r = extractCtx(r)
	caseID, err := strconv.ParseInt(r.URL.Query().Get("case_id"), 10, 64)
	if err != nil || caseID <= 0 {
		http.Error(w, "Missing or invalid case_id", http.StatusBadRequest)
		return
	}
	record, err := h.coordinator.GetRedemption(r.Context(), caseID)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, record)
}
