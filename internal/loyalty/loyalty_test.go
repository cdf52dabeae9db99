package loyalty_test

import (
	"context"
	"testing"

	"github.com/shopspring/decimal"

	"github.com/prizeshop/checkout-engine/internal/loyalty"
	"github.com/prizeshop/checkout-engine/internal/store"
)

func TestAward_FloorsPartialPoints(t *testing.T) {
	ms := store.NewMemoryStore()
	svc := loyalty.NewService(ms, 10)
	ctx := context.Background()

	points, err := svc.Award(ctx, "u1", decimal.NewFromFloat(47.5))
	if err != nil {
		t.Fatalf("award failed: %v", err)
	}
	if points != 4 {
		t.Errorf("expected 4 points for 47.5 at rate 10, got %d", points)
	}

	stored, _ := ms.LoyaltyPoints(ctx, "u1")
	if stored != 4 {
		t.Errorf("expected 4 stored points, got %d", stored)
	}
}

func TestAward_BelowRateAwardsNothing(t *testing.T) {
	ms := store.NewMemoryStore()
	svc := loyalty.NewService(ms, 10)
	ctx := context.Background()

	points, err := svc.Award(ctx, "u1", decimal.NewFromInt(7))
	if err != nil {
		t.Fatalf("award failed: %v", err)
	}
	if points != 0 {
		t.Errorf("expected 0 points, got %d", points)
	}

	stored, _ := ms.LoyaltyPoints(ctx, "u1")
	if stored != 0 {
		t.Errorf("expected no stored points, got %d", stored)
	}
}
