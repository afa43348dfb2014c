package httpapi

import (
	"time"

	"github.com/vladislavdragonenkov/checkout/internal/domain"
	"github.com/vladislavdragonenkov/checkout/internal/service/checkout"
)

// placeOrderRequest — тело POST /api/v1/orders.
type placeOrderRequest struct {
	UserID        string           `json:"user_id"`
	Items         []orderItemInput `json:"items"`
	CouponGrantID string           `json:"coupon_grant_id,omitempty"`
	PaymentMethod string           `json:"payment_method"`
	Card          *cardInput       `json:"card,omitempty"`
}

type orderItemInput struct {
	ProductID string `json:"product_id"`
	Qty       int32  `json:"qty"`
}

type cardInput struct {
	Type   string `json:"type"`
	Number string `json:"number"`
}

func (r placeOrderRequest) toCommand() checkout.PlaceOrderCommand {
	cmd := checkout.PlaceOrderCommand{
		UserID:        r.UserID,
		CouponGrantID: r.CouponGrantID,
		Method:        domain.PaymentMethod(r.PaymentMethod),
	}
	for _, item := range r.Items {
		cmd.Items = append(cmd.Items, checkout.PlaceOrderItem{
			ProductID: item.ProductID,
			Qty:       item.Qty,
		})
	}
	if r.Card != nil {
		cmd.Card = &domain.CardDetails{Type: r.Card.Type, Number: r.Card.Number}
	}
	return cmd
}

// orderResponse — представление заказа в ответах API.
type orderResponse struct {
	ID            string              `json:"id"`
	UserID        string              `json:"user_id"`
	Status        string              `json:"status"`
	Items         []orderItemResponse `json:"items"`
	SubtotalMinor int64               `json:"subtotal_minor"`
	DiscountMinor int64               `json:"discount_minor"`
	TotalMinor    int64               `json:"total_minor"`
	CouponGrantID string              `json:"coupon_grant_id,omitempty"`
	CreatedAt     time.Time           `json:"created_at"`
	UpdatedAt     time.Time           `json:"updated_at"`
}

type orderItemResponse struct {
	ProductID  string `json:"product_id"`
	Qty        int32  `json:"qty"`
	PriceMinor int64  `json:"price_minor"`
}

func toOrderResponse(order domain.Order) orderResponse {
	resp := orderResponse{
		ID:            order.ID,
		UserID:        order.UserID,
		Status:        string(order.Status),
		SubtotalMinor: order.SubtotalMinor(),
		DiscountMinor: order.DiscountMinor,
		TotalMinor:    order.TotalMinor(),
		CouponGrantID: order.CouponGrantID,
		CreatedAt:     order.CreatedAt,
		UpdatedAt:     order.UpdatedAt,
	}
	for _, item := range order.Items {
		resp.Items = append(resp.Items, orderItemResponse{
			ProductID:  item.ProductID,
			Qty:        item.Qty,
			PriceMinor: item.PriceMinor,
		})
	}
	return resp
}

// callbackRequest — payload, который шлюз доставляет на callback URL.
// Формат зеркалит wire-формат шлюза.
type callbackRequest struct {
	TransactionKey string `json:"transaction_key"`
	OrderID        string `json:"order_id"`
	Status         string `json:"status"`
	AmountMinor    int64  `json:"amount"`
	Message        string `json:"message,omitempty"`
}

func (r callbackRequest) toDomain() domain.GatewayCallback {
	return domain.GatewayCallback{
		TransactionKey: r.TransactionKey,
		OrderID:        r.OrderID,
		Status:         domain.GatewayStatus(r.Status),
		AmountMinor:    r.AmountMinor,
		Message:        r.Message,
	}
}

type callbackResponse struct {
	Outcome string `json:"outcome"`
}

type syncResponse struct {
	Outcome string `json:"outcome"`
}

type errorResponse struct {
	Error string `json:"error"`
}
