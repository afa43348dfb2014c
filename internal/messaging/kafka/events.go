package kafka

import "time"

// EventType определяет тип события
type EventType string

const (
	// Order события
	EventTypeOrderCreated  EventType = "order.created"
	EventTypeOrderPaid     EventType = "order.paid"
	EventTypeOrderCanceled EventType = "order.canceled"

	// Payment события
	EventTypePaymentRequested EventType = "payment.requested"
	EventTypePaymentSettled   EventType = "payment.settled"
	EventTypePaymentFailed    EventType = "payment.failed"
	EventTypePaymentSynced    EventType = "payment.synced"

	// Складские события
	EventTypeStockReserved EventType = "stock.reserved"
	EventTypeStockRestored EventType = "stock.restored"
)

// Topics для Kafka
const (
	TopicOrderEvents     = "checkout.order.events"
	TopicPaymentEvents   = "checkout.payment.events"
	TopicDeadLetterQueue = "checkout.dlq" // Dead Letter Queue для failed messages
)

// Kafka headers для retry логики
const (
	HeaderRetryCount    = "x-retry-count"
	HeaderOriginalTopic = "x-original-topic"
	HeaderErrorMessage  = "x-error-message"
	HeaderFailedAt      = "x-failed-at"
)

// OrderEvent представляет событие жизненного цикла заказа
type OrderEvent struct {
	EventType EventType              `json:"event_type"`
	OrderID   string                 `json:"order_id"`
	UserID    string                 `json:"user_id"`
	Status    string                 `json:"status"`
	Timestamp time.Time              `json:"timestamp"`
	Metadata  map[string]interface{} `json:"metadata,omitempty"`
}

// PaymentEvent представляет событие платёжной попытки
type PaymentEvent struct {
	EventType      EventType              `json:"event_type"`
	PaymentID      string                 `json:"payment_id"`
	OrderID        string                 `json:"order_id"`
	TransactionKey string                 `json:"transaction_key,omitempty"`
	Status         string                 `json:"status"`
	Timestamp      time.Time              `json:"timestamp"`
	Metadata       map[string]interface{} `json:"metadata,omitempty"`
}

// NewOrderEvent создает новое событие заказа
func NewOrderEvent(eventType EventType, orderID, userID, status string, metadata map[string]interface{}) *OrderEvent {
	return &OrderEvent{
		EventType: eventType,
		OrderID:   orderID,
		UserID:    userID,
		Status:    status,
		Timestamp: time.Now(),
		Metadata:  metadata,
	}
}

// StockEvent представляет изменение складского резерва по позиции заказа
type StockEvent struct {
	EventType EventType `json:"event_type"`
	ProductID string    `json:"product_id"`
	OrderID   string    `json:"order_id"`
	Qty       int32     `json:"qty"`
	Timestamp time.Time `json:"timestamp"`
}

// NewStockEvent создает новое складское событие
func NewStockEvent(eventType EventType, productID, orderID string, qty int32) *StockEvent {
	return &StockEvent{
		EventType: eventType,
		ProductID: productID,
		OrderID:   orderID,
		Qty:       qty,
		Timestamp: time.Now(),
	}
}

// NewPaymentEvent создает новое событие платежа
func NewPaymentEvent(eventType EventType, paymentID, orderID, transactionKey, status string, metadata map[string]interface{}) *PaymentEvent {
	return &PaymentEvent{
		EventType:      eventType,
		PaymentID:      paymentID,
		OrderID:        orderID,
		TransactionKey: transactionKey,
		Status:         status,
		Timestamp:      time.Now(),
		Metadata:       metadata,
	}
}
