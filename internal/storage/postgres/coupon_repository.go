package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/vladislavdragonenkov/checkout/internal/domain"
)

type couponRepository struct {
	q querier
}

func (r *couponRepository) CreateTemplate(ctx context.Context, template domain.CouponTemplate) error {
	_, err := r.q.ExecContext(ctx, `
		INSERT INTO coupon_templates (
			id, name, discount_type, value, valid_from, valid_until, created_at
		) VALUES ($1,$2,$3,$4,$5,$6,$7)
	`,
		template.ID, template.Name, string(template.DiscountType), template.Value,
		template.ValidFrom, template.ValidUntil, template.CreatedAt,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return domain.ErrVersionConflict
		}
		return fmt.Errorf("insert coupon template: %w", err)
	}

	return nil
}

func (r *couponRepository) GetTemplate(ctx context.Context, id string) (domain.CouponTemplate, error) {
	var (
		template     domain.CouponTemplate
		discountType string
	)

	err := r.q.QueryRowContext(ctx, `
		SELECT id, name, discount_type, value, valid_from, valid_until, created_at
		FROM coupon_templates
		WHERE id = $1
	`, id).Scan(
		&template.ID, &template.Name, &discountType, &template.Value,
		&template.ValidFrom, &template.ValidUntil, &template.CreatedAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return domain.CouponTemplate{}, domain.ErrCouponNotFound
		}
		return domain.CouponTemplate{}, fmt.Errorf("select coupon template: %w", err)
	}
	template.DiscountType = domain.DiscountType(discountType)

	return template, nil
}

func (r *couponRepository) CreateGrant(ctx context.Context, grant domain.CouponGrant) error {
	_, err := r.q.ExecContext(ctx, `
		INSERT INTO coupon_grants (
			id, user_id, coupon_id, status, expires_at, created_at, updated_at
		) VALUES ($1,$2,$3,$4,$5,$6,$7)
	`,
		grant.ID, grant.UserID, grant.CouponID, string(grant.Status),
		grant.ExpiresAt, grant.CreatedAt, grant.UpdatedAt,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return domain.ErrVersionConflict
		}
		return fmt.Errorf("insert coupon grant: %w", err)
	}

	return nil
}

func (r *couponRepository) GetGrant(ctx context.Context, id string) (domain.CouponGrant, error) {
	return r.getGrant(ctx, id, false)
}

// GetGrantForUpdate блокирует строку купона, исключая двойное применение.
func (r *couponRepository) GetGrantForUpdate(ctx context.Context, id string) (domain.CouponGrant, error) {
	return r.getGrant(ctx, id, true)
}

func (r *couponRepository) getGrant(ctx context.Context, id string, forUpdate bool) (domain.CouponGrant, error) {
	query := `
		SELECT id, user_id, coupon_id, status, expires_at, created_at, updated_at
		FROM coupon_grants
		WHERE id = $1
	`
	if forUpdate {
		query += " FOR UPDATE"
	}

	var (
		grant  domain.CouponGrant
		status string
	)
	err := r.q.QueryRowContext(ctx, query, id).Scan(
		&grant.ID, &grant.UserID, &grant.CouponID, &status,
		&grant.ExpiresAt, &grant.CreatedAt, &grant.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return domain.CouponGrant{}, domain.ErrCouponNotFound
		}
		return domain.CouponGrant{}, fmt.Errorf("select coupon grant: %w", err)
	}
	grant.Status = domain.GrantStatus(status)

	return grant, nil
}

func (r *couponRepository) SaveGrant(ctx context.Context, grant domain.CouponGrant) error {
	res, err := r.q.ExecContext(ctx, `
		UPDATE coupon_grants
		SET status = $1,
		    expires_at = $2,
		    updated_at = $3
		WHERE id = $4
	`,
		string(grant.Status), grant.ExpiresAt, grant.UpdatedAt, grant.ID,
	)
	if err != nil {
		return fmt.Errorf("update coupon grant: %w", err)
	}

	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("coupon grant rows affected: %w", err)
	}
	if affected == 0 {
		return domain.ErrCouponNotFound
	}

	return nil
}

var _ domain.CouponRepository = (*couponRepository)(nil)
