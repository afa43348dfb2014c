package gateway

import (
	"context"
	"sync"

	"github.com/vladislavdragonenkov/checkout/internal/domain"
)

// MockClient — конфигурируемая заглушка GatewayClient для тестов.
type MockClient struct {
	mu sync.Mutex

	ChargeResult domain.ChargeResult
	ChargeErr    error
	StatusResult domain.ChargeResult
	StatusErr    error

	// ChargeErrs позволяет задать последовательность ошибок по попыткам;
	// после исчерпания используется ChargeErr/ChargeResult.
	ChargeErrs []error

	ChargeCalls int
	StatusCalls int
}

// NewMockClient возвращает mock с успешным сценарием по умолчанию.
func NewMockClient() *MockClient {
	return &MockClient{
		ChargeResult: domain.ChargeResult{
			Success:        true,
			TransactionKey: "tx-mock-1",
			Status:         domain.GatewayStatusPending,
		},
		StatusResult: domain.ChargeResult{
			Success:        true,
			TransactionKey: "tx-mock-1",
			Status:         domain.GatewayStatusSuccess,
		},
	}
}

// Charge возвращает заранее настроенный результат и считает вызовы.
func (m *MockClient) Charge(ctx context.Context, req domain.ChargeRequest) (domain.ChargeResult, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	call := m.ChargeCalls
	m.ChargeCalls++

	if call < len(m.ChargeErrs) {
		if err := m.ChargeErrs[call]; err != nil {
			return domain.ChargeResult{}, err
		}
		return m.ChargeResult, nil
	}
	if m.ChargeErr != nil {
		return domain.ChargeResult{}, m.ChargeErr
	}
	return m.ChargeResult, nil
}

// QueryStatus возвращает настроенный результат и считает вызовы.
func (m *MockClient) QueryStatus(ctx context.Context, merchantRef, transactionKey string) (domain.ChargeResult, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.StatusCalls++
	if m.StatusErr != nil {
		return domain.ChargeResult{}, m.StatusErr
	}
	return m.StatusResult, nil
}

var _ domain.GatewayClient = (*MockClient)(nil)
