// internal/service/allocation/interfaces/http_handler.go
package interfaces

import (
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/pkg/errors"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/propagation"

	"caremesh/internal/service/allocation/application"
	"caremesh/internal/service/allocation/domain"
)

// ReplicaHandler 暴露副本的查询和本地预留接口。
// 这里没有任何写账本的路径：核销走支付服务的协调器。
type ReplicaHandler struct {
	service *application.ReplicaService
}

// NewReplicaHandler 创建一个新的 HTTP 处理器实例
func NewReplicaHandler(service *application.ReplicaService) *ReplicaHandler {
	return &ReplicaHandler{service: service}
}

// RegisterRoutes 在 ServeMux 上注册所有路由
func (h *ReplicaHandler) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("/list_coupons", h.handleList)
	mux.HandleFunc("/list_available_coupons", h.handleListAvailable)
	mux.HandleFunc("/get_coupon", h.handleGet)
	mux.HandleFunc("/assign_coupon", h.handleAssign)
	mux.HandleFunc("/unassign_coupon", h.handleUnassign)
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

func writeError(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError
	code := "INTERNAL"
	switch {
	case errors.Is(err, domain.ErrAllocationNotFound):
		status, code = http.StatusNotFound, "ALLOCATION_NOT_FOUND"
	case errors.Is(err, domain.ErrNotAssignable):
		status, code = http.StatusConflict, "NOT_ASSIGNABLE"
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

func ownerIDFrom(r *http.Request) (int64, bool) {
	id, err := strconv.ParseInt(r.URL.Query().Get("owner_id"), 10, 64)
	return id, err == nil && id > 0
}

func (h *ReplicaHandler) handleList(w http.ResponseWriter, r *http.Request) {
	r = extractCtx(r)
	ownerID, ok := ownerIDFrom(r)
	if !ok {
		http.Error(w, "Missing or invalid owner_id", http.StatusBadRequest)
		return
	}
	allocations, err := h.service.ListForOwner(r.Context(), ownerID)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toViews(allocations))
}

func (h *ReplicaHandler) handleListAvailable(w http.ResponseWriter, r *http.Request) {
	r = extractCtx(r)
	ownerID, ok := ownerIDFrom(r)
	if !ok {
		http.Error(w, "Missing or invalid owner_id", http.StatusBadRequest)
		return
	}
	allocations, err := h.service.ListAvailableForOwner(r.Context(), ownerID)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toViews(allocations))
}

func (h *ReplicaHandler) handleGet(w http.ResponseWriter, r *http.Request) {
	r = extractCtx(r)
	code := r.URL.Query().Get("code")
	if code == "" {
		http.Error(w, "Missing code", http.StatusBadRequest)
		return
	}
	allocation, err := h.service.GetByCode(r.Context(), code)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toView(allocation))
}

type assignRequest struct {
	Code   string `json:"code"`
	CaseID int64  `json:"case_id"`
}

func (h *ReplicaHandler) handleAssign(w http.ResponseWriter, r *http.Request) {
	r = extractCtx(r)
	var req assignRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}
	allocation, err := h.service.Assign(r.Context(), req.Code, req.CaseID)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toView(allocation))
}

func (h *ReplicaHandler) handleUnassign(w http.ResponseWriter, r *http.Request) {
	r = extractCtx(r)
	var req assignRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}
	allocation, err := h.service.Unassign(r.Context(), req.Code)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toView(allocation))
}

// allocationView 是对外的副本视图，隐藏同步簿记字段。
type allocationView struct {
	CouponCode       string   `json:"coupon_code"`
	Status           string   `json:"status"`
	DiscountType     string   `json:"discount_type"`
	DiscountValue    float64  `json:"discount_value"`
	MaxDiscount      *float64 `json:"max_discount,omitempty"`
	Currency         string   `json:"currency"`
	ExpiresAt        string   `json:"expires_at"`
	AssignedToCaseID *int64   `json:"assigned_to_case_id,omitempty"`
}

func toView(a *domain.Allocation) allocationView {
	return allocationView{
		CouponCode:       a.CouponCode,
		Status:           string(a.Status),
		DiscountType:     a.DiscountType,
		DiscountValue:    a.DiscountValue,
		MaxDiscount:      a.MaxDiscount,
		Currency:         a.Currency,
		ExpiresAt:        a.ExpiresAt.Format("2006-01-02T15:04:05Z07:00"),
		AssignedToCaseID: a.AssignedToCaseID,
	}
}

func toViews(allocations []*domain.Allocation) []allocationView {
	views := make([]allocationView, len(allocations))
	for i, a := range allocations {
		views[i] = toView(a)
	}
	return views
}
