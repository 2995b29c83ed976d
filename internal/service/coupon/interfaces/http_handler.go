// internal/service/coupon/interfaces/http_handler.go
package interfaces

import (
	"encoding/json"
	"net/http"

	"github.com/pkg/errors"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/propagation"

	"caremesh/internal/service/coupon/application"
	"caremesh/internal/service/coupon/domain"
)

// LedgerHandler 封装了账本服务的 HTTP 处理器。
// 请求鉴权由上游网关处理，这里只做输入解码和类型化错误到状态码的映射。
type LedgerHandler struct {
	service *application.LedgerService
}

// NewLedgerHandler 创建一个新的 HTTP 处理器实例
func NewLedgerHandler(service *application.LedgerService) *LedgerHandler {
	return &LedgerHandler{service: service}
}

// RegisterRoutes 在 ServeMux 上注册所有路由
func (h *LedgerHandler) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("/create_coupon", h.handleCreateCoupon)
	mux.HandleFunc("/create_batch", h.handleCreateBatch)
	mux.HandleFunc("/distribute_coupon", h.handleDistribute)
	mux.HandleFunc("/distribute_batch", h.handleDistributeBatch)
	mux.HandleFunc("/validate_coupon", h.handleValidate)
	mux.HandleFunc("/confirm_use", h.handleConfirmUse)
	mux.HandleFunc("/cancel_coupon", h.handleCancel)
	mux.HandleFunc("/cancel_batch", h.handleCancelBatch)
	mux.HandleFunc("/get_coupon", h.handleGetCoupon)
}

func extractCtx(r *http.Request) *http.Request {
	propagator := otel.GetTextMapPropagator()
	ctx := propagator.Extract(r.Context(), propagation.HeaderCarrier(r.Header))
	return r.WithContext(ctx)
}

// statusFor 把账本的类型化错误映射为 HTTP 状态码。
// 守卫竞争失败用 409，让协调方能和 404（调用方 bug）区分开。
func statusFor(err error) int {
	switch {
	case errors.Is(err, domain.ErrCouponNotFound), errors.Is(err, domain.ErrBatchNotFound):
		return http.StatusNotFound
	case errors.Is(err, domain.ErrAlreadyRedeemed):
		return http.StatusConflict
	case errors.Is(err, domain.ErrInvalidState),
		errors.Is(err, domain.ErrCouponExpired),
		errors.Is(err, domain.ErrBeneficiaryMismatch),
		errors.Is(err, domain.ErrCouponNotEligible):
		return http.StatusForbidden
	default:
		return http.StatusInternalServerError
	}
}

// errorBody 是所有失败响应的统一结构，error 字段是稳定的机器可读标识。
type errorBody struct {
	Error   string `json:"error"`
	Message string `json:"message"`
}

func errorCode(err error) string {
	switch {
	case errors.Is(err, domain.ErrCouponNotFound):
		return "COUPON_NOT_FOUND"
	case errors.Is(err, domain.ErrBatchNotFound):
		return "BATCH_NOT_FOUND"
	case errors.Is(err, domain.ErrAlreadyRedeemed):
		return "ALREADY_REDEEMED"
	case errors.Is(err, domain.ErrInvalidState):
		return "INVALID_STATE"
	case errors.Is(err, domain.ErrCouponExpired):
		return "EXPIRED"
	case errors.Is(err, domain.ErrBeneficiaryMismatch):
		return "BENEFICIARY_MISMATCH"
	default:
		return "INTERNAL"
	}
}

func writeError(w http.ResponseWriter, err error) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusFor(err))
	_ = json.NewEncoder(w).Encode(errorBody{Error: errorCode(err), Message: err.Error()})
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func (h *LedgerHandler) handleCreateCoupon(w http.ResponseWriter, r *http.Request) {
	r = extractCtx(r)
	var req application.CreateCouponRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}
	coupon, err := h.service.CreateCoupon(r.Context(), &req)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, coupon)
}

func (h *LedgerHandler) handleCreateBatch(w http.ResponseWriter, r *http.Request) {
	r = extractCtx(r)
	var req application.CreateBatchRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}
	resp, err := h.service.CreateBatch(r.Context(), &req)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, resp)
}

func (h *LedgerHandler) handleDistribute(w http.ResponseWriter, r *http.Request) {
	r = extractCtx(r)
	var req application.DistributeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}
	coupon, err := h.service.Distribute(r.Context(), &req)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, coupon)
}

func (h *LedgerHandler) handleDistributeBatch(w http.ResponseWriter, r *http.Request) {
	r = extractCtx(r)
	var req application.DistributeBatchRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}
	affected, err := h.service.DistributeBatch(r.Context(), &req)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]int64{"distributed": affected})
}

func (h *LedgerHandler) handleValidate(w http.ResponseWriter, r *http.Request) {
	r = extractCtx(r)
	var req application.ValidateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}
	// 校验是只读操作，类型化的失败原因放在 200 响应体里；
	// 非 200 只表示基础设施故障
	result, err := h.service.Validate(r.Context(), &req)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

func (h *LedgerHandler) handleConfirmUse(w http.ResponseWriter, r *http.Request) {
	r = extractCtx(r)
	var req application.ConfirmUseRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}
	result, err := h.service.ConfirmUse(r.Context(), &req)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

func (h *LedgerHandler) handleCancel(w http.ResponseWriter, r *http.Request) {
	r = extractCtx(r)
	var req application.CancelRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}
	if err := h.service.Cancel(r.Context(), &req); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"cancelled": true})
}

func (h *LedgerHandler) handleCancelBatch(w http.ResponseWriter, r *http.Request) {
	r = extractCtx(r)
	var req application.CancelBatchRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}
	affected, err := h.service.CancelBatch(r.Context(), &req)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]int64{"cancelled": affected})
}

func (h *LedgerHandler) handleGetCoupon(w http.ResponseWriter, r *http.Request) {
	r = extractCtx(r)
	code := r.URL.Query().Get("code")
	if code == "" {
		http.Error(w, "code is required", http.StatusBadRequest)
		return
	}
	coupon, err := h.service.GetCoupon(r.Context(), code)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, coupon)
}
