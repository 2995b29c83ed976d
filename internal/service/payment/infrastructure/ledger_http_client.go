// internal/service/payment/infrastructure/ledger_http_client.go
package infrastructure

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"caremesh/internal/pkg/httpclient"
	"caremesh/internal/pkg/nacos"
	"caremesh/internal/service/payment/domain"
	"caremesh/internal/service/payment/domain/port"
)

const ledgerServiceName = "coupon-service"

// LedgerHTTPClient 是到账本服务的出站适配器。
// 每次调用都通过 Nacos 重新发现实例，账本扩缩容对协调器透明。
type LedgerHTTPClient struct {
	nacos  *nacos.Client
	client *httpclient.Client
}

// NewLedgerHTTPClient 创建账本客户端。
func NewLedgerHTTPClient(nacosClient *nacos.Client, client *httpclient.Client) *LedgerHTTPClient {
	return &LedgerHTTPClient{nacos: nacosClient, client: client}
}

func (c *LedgerHTTPClient) serviceURL(path string) (string, error) {
	base, err := c.nacos.DiscoverServiceURL(ledgerServiceName)
	if err != nil {
		return "", fmt.Errorf("%w: %v", domain.ErrLedgerUnavailable, err)
	}
	return base + path, nil
}

// ledgerError 把账本的 HTTP 错误翻译为协调器的类型化错误。
func ledgerError(err error) error {
	var statusErr *httpclient.StatusError
	if !errors.As(err, &statusErr) {
		// 连接失败、超时、context 取消
		return fmt.Errorf("%w: %v", domain.ErrLedgerUnavailable, err)
	}
	var body struct {
		Error   string `json:"error"`
		Message string `json:"message"`
	}
	_ = json.Unmarshal(statusErr.Body, &body)

	switch {
	case statusErr.StatusCode == http.StatusConflict:
		return fmt.Errorf("%w: %s", domain.ErrCouponConflict, body.Message)
	case statusErr.StatusCode == http.StatusNotFound,
		statusErr.StatusCode == http.StatusForbidden:
		return fmt.Errorf("%w: %s (%s)", domain.ErrCouponRejected, body.Message, body.Error)
	case statusErr.StatusCode >= 500:
		return fmt.Errorf("%w: status %d", domain.ErrLedgerUnavailable, statusErr.StatusCode)
	default:
		return err
	}
}

// Validate 调用账本的只读校验。
func (c *LedgerHTTPClient) Validate(ctx context.Context, req *port.LedgerValidateRequest) (*port.LedgerValidateReply, error) {
	target, err := c.serviceURL("/validate_coupon")
	if err != nil {
		return nil, err
	}
	payload := map[string]interface{}{
		"code":             req.Code,
		"beneficiary_kind": req.BeneficiaryKind,
		"beneficiary_id":   req.BeneficiaryID,
		"fee":              req.Fee,
	}
	var reply struct {
		Valid           bool    `json:"valid"`
		Reason          string  `json:"reason"`
		Currency        string  `json:"currency"`
		DiscountAmount  float64 `json:"discount_amount"`
		RemainingAmount float64 `json:"remaining_amount"`
	}
	if err := c.client.PostJSON(ctx, target, payload, &reply); err != nil {
		return nil, ledgerError(err)
	}
	return &port.LedgerValidateReply{
		Valid:           reply.Valid,
		Reason:          reply.Reason,
		Currency:        reply.Currency,
		DiscountAmount:  reply.DiscountAmount,
		RemainingAmount: reply.RemainingAmount,
	}, nil
}

// ConfirmUse 调用账本的核销迁移。
func (c *LedgerHTTPClient) ConfirmUse(ctx context.Context, req *port.LedgerConfirmRequest) (*port.LedgerConfirmReply, error) {
	target, err := c.serviceURL("/confirm_use")
	if err != nil {
		return nil, err
	}
	payload := map[string]interface{}{
		"code":            req.Code,
		"case_id":         req.CaseID,
		"payment_id":      req.PaymentID,
		"patient_id":      req.PatientID,
		"used_by_user_id": req.UsedByUserID,
		"original_amount": req.OriginalAmount,
	}
	var reply struct {
		CouponID       int64     `json:"coupon_id"`
		CouponCode     string    `json:"coupon_code"`
		DiscountAmount float64   `json:"discount_amount"`
		ChargedAmount  float64   `json:"charged_amount"`
		UsedAt         time.Time `json:"used_at"`
	}
	if err := c.client.PostJSON(ctx, target, payload, &reply); err != nil {
		return nil, ledgerError(err)
	}
	return &port.LedgerConfirmReply{
		CouponID:       reply.CouponID,
		CouponCode:     reply.CouponCode,
		DiscountAmount: reply.DiscountAmount,
		ChargedAmount:  reply.ChargedAmount,
		UsedAt:         reply.UsedAt,
	}, nil
}

// GetCoupon 查询券的权威状态，用于核销冲突的赢家判定。
func (c *LedgerHTTPClient) GetCoupon(ctx context.Context, code string) (*port.LedgerCouponState, error) {
	target, err := c.serviceURL("/get_coupon?code=" + url.QueryEscape(code))
	if err != nil {
		return nil, err
	}
	// 账本返回完整的券实体，这里只解码赢家判定需要的字段
	var reply struct {
		Code          string `json:"Code"`
		Status        string `json:"Status"`
		UsedForCaseID *int64 `json:"UsedForCaseID"`
	}
	if err := c.client.GetJSON(ctx, target, &reply); err != nil {
		return nil, ledgerError(err)
	}
	return &port.LedgerCouponState{
		Code:          reply.Code,
		Status:        reply.Status,
		UsedForCaseID: reply.UsedForCaseID,
	}, nil
}
