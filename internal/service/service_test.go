package service

import (
	"context"
	"errors"
	"testing"
	"time"

	"possales/internal/cache"
	"possales/internal/domain"
	"possales/internal/inventory"
	"possales/internal/store"
	"possales/internal/store/memory"
)

func newTestService(t *testing.T) (*Service, *memory.Store, *inventory.Stub, *inventory.Notifier) {
	t.Helper()
	repo := memory.NewSeeded()
	stub := inventory.NewSeededStub()
	notifier := inventory.NewNotifier(stub, 16, time.Second)
	svc := New(repo, stub, notifier, cache.NoopCampaignCache{}, time.Second, 14)
	return svc, repo, stub, notifier
}

func cashierCtx() context.Context {
	return WithActor(context.Background(), domain.Actor{Username: "cashier", Role: "cashier"})
}

func adminCtx() context.Context {
	return WithActor(context.Background(), domain.Actor{Username: "admin", Role: "admin"})
}

func TestCreateSaleCashComputesChange(t *testing.T) {
	svc, _, _, notifier := newTestService(t)
	defer notifier.Close()

	sale, err := svc.CreateSale(cashierCtx(), domain.SaleCreateRequest{
		MoneyCents:  5000,
		PaymentType: "cash",
		Items: []domain.SaleItemRequest{
			{ProductID: "PRD-COLA-01", Quantity: 2},
		},
	})
	if err != nil {
		t.Fatalf("create sale failed: %v", err)
	}
	if sale.TotalCents != 2400 {
		t.Fatalf("expected total 2400, got %d", sale.TotalCents)
	}
	if sale.ChangeCents != 2600 {
		t.Fatalf("expected change 2600, got %d", sale.ChangeCents)
	}
	if sale.PaymentType != domain.PaymentTypeCash {
		t.Fatalf("expected cash payment type, got %s", sale.PaymentType)
	}
	if sale.SalesNumber == "" || sale.SalesNumber[:2] != "S-" {
		t.Fatalf("expected S- prefixed sales number, got %q", sale.SalesNumber)
	}
}

func TestCreateSaleAppliesBuyThreePayTwo(t *testing.T) {
	svc, _, _, notifier := newTestService(t)
	defer notifier.Close()

	sale, err := svc.CreateSale(cashierCtx(), domain.SaleCreateRequest{
		MoneyCents:  10000,
		PaymentType: "cash",
		Items: []domain.SaleItemRequest{
			{ProductID: "PRD-COLA-01", Quantity: 6, CampaignID: "cmp-b3p2"},
		},
	})
	if err != nil {
		t.Fatalf("create sale failed: %v", err)
	}
	// 6 units at 1200, pay for 4.
	if sale.TotalCents != 4800 {
		t.Fatalf("expected total 4800, got %d", sale.TotalCents)
	}
	if sale.ChangeCents != 5200 {
		t.Fatalf("expected change 5200, got %d", sale.ChangeCents)
	}
}

func TestCreateSaleAppliesPercentCampaign(t *testing.T) {
	svc, _, _, notifier := newTestService(t)
	defer notifier.Close()

	sale, err := svc.CreateSale(cashierCtx(), domain.SaleCreateRequest{
		MoneyCents:  10000,
		PaymentType: "cash",
		Items: []domain.SaleItemRequest{
			{ProductID: "PRD-MILK-01", Quantity: 5, CampaignID: "cmp-p20"},
		},
	})
	if err != nil {
		t.Fatalf("create sale failed: %v", err)
	}
	// 5 x 2100 = 10500, minus 20 percent.
	if sale.TotalCents != 8400 {
		t.Fatalf("expected total 8400, got %d", sale.TotalCents)
	}
}

func TestCreateSaleMixedPaymentTypes(t *testing.T) {
	svc, _, _, notifier := newTestService(t)
	defer notifier.Close()

	// Cash portion is exactly covered: change must be zero.
	sale, err := svc.CreateSale(cashierCtx(), domain.SaleCreateRequest{
		MoneyCents: 2400,
		Items: []domain.SaleItemRequest{
			{ProductID: "PRD-COLA-01", Quantity: 2, PaymentType: "cash"},
			{ProductID: "PRD-CHIPS-01", Quantity: 1, PaymentType: "card"},
		},
	})
	if err != nil {
		t.Fatalf("create sale failed: %v", err)
	}
	if sale.PaymentType != domain.PaymentTypeMixed {
		t.Fatalf("expected mixed payment type, got %s", sale.PaymentType)
	}
	if sale.TotalCents != 4800 {
		t.Fatalf("expected total 4800, got %d", sale.TotalCents)
	}
	if sale.ChangeCents != 0 {
		t.Fatalf("expected zero change, got %d", sale.ChangeCents)
	}
}

func TestCreateSaleRejectsMissingPaymentType(t *testing.T) {
	svc, _, _, notifier := newTestService(t)
	defer notifier.Close()

	_, err := svc.CreateSale(cashierCtx(), domain.SaleCreateRequest{
		MoneyCents: 5000,
		Items: []domain.SaleItemRequest{
			{ProductID: "PRD-COLA-01", Quantity: 1},
		},
	})
	if !errors.Is(err, store.ErrInvalid) {
		t.Fatalf("expected invalid error for missing payment type, got %v", err)
	}
}

func TestCreateSaleRejectsInsufficientCash(t *testing.T) {
	svc, _, _, notifier := newTestService(t)
	defer notifier.Close()

	_, err := svc.CreateSale(cashierCtx(), domain.SaleCreateRequest{
		MoneyCents:  2000,
		PaymentType: "cash",
		Items: []domain.SaleItemRequest{
			{ProductID: "PRD-COLA-01", Quantity: 2},
		},
	})
	if !errors.Is(err, store.ErrInvalid) {
		t.Fatalf("expected insufficient balance error, got %v", err)
	}

	_, err = svc.CreateSale(cashierCtx(), domain.SaleCreateRequest{
		MoneyCents:  0,
		PaymentType: "cash",
		Items: []domain.SaleItemRequest{
			{ProductID: "PRD-COLA-01", Quantity: 1},
		},
	})
	if !errors.Is(err, store.ErrInvalid) {
		t.Fatalf("expected no money error, got %v", err)
	}
}

func TestCreateSaleCardOnlyIgnoresMoney(t *testing.T) {
	svc, _, _, notifier := newTestService(t)
	defer notifier.Close()

	sale, err := svc.CreateSale(cashierCtx(), domain.SaleCreateRequest{
		MoneyCents:  0,
		PaymentType: "card",
		Items: []domain.SaleItemRequest{
			{ProductID: "PRD-CHIPS-01", Quantity: 2},
		},
	})
	if err != nil {
		t.Fatalf("card-only sale should not require tendered cash: %v", err)
	}
	if sale.ChangeCents != 0 {
		t.Fatalf("expected zero change for card sale, got %d", sale.ChangeCents)
	}
}

func TestCreateSaleUnknownProduct(t *testing.T) {
	svc, _, _, notifier := newTestService(t)
	defer notifier.Close()

	_, err := svc.CreateSale(cashierCtx(), domain.SaleCreateRequest{
		MoneyCents:  5000,
		PaymentType: "cash",
		Items: []domain.SaleItemRequest{
			{ProductID: "PRD-GHOST-99", Quantity: 1},
		},
	})
	if !errors.Is(err, inventory.ErrProductNotFound) {
		t.Fatalf("expected product not found, got %v", err)
	}
}

func TestCreateSaleDisabledProduct(t *testing.T) {
	svc, _, _, notifier := newTestService(t)
	defer notifier.Close()

	_, err := svc.CreateSale(cashierCtx(), domain.SaleCreateRequest{
		MoneyCents:  5000,
		PaymentType: "cash",
		Items: []domain.SaleItemRequest{
			{ProductID: "PRD-OLD-01", Quantity: 1},
		},
	})
	if !errors.Is(err, store.ErrInvalid) {
		t.Fatalf("expected product disabled error, got %v", err)
	}
}

func TestCreateSaleOutOfStock(t *testing.T) {
	svc, _, _, notifier := newTestService(t)
	defer notifier.Close()

	_, err := svc.CreateSale(cashierCtx(), domain.SaleCreateRequest{
		MoneyCents:  100000,
		PaymentType: "cash",
		Items: []domain.SaleItemRequest{
			{ProductID: "PRD-BREAD-01", Quantity: 1000},
		},
	})
	if !errors.Is(err, ErrOutOfStock) {
		t.Fatalf("expected out of stock error, got %v", err)
	}
	// Out-of-stock is a business-rule rejection, never a lookup failure.
	if errors.Is(err, inventory.ErrProductNotFound) || errors.Is(err, store.ErrNotFound) {
		t.Fatalf("out of stock must not look like not found: %v", err)
	}
}

func TestCreateSaleUnknownCampaign(t *testing.T) {
	svc, _, _, notifier := newTestService(t)
	defer notifier.Close()

	_, err := svc.CreateSale(cashierCtx(), domain.SaleCreateRequest{
		MoneyCents:  5000,
		PaymentType: "cash",
		Items: []domain.SaleItemRequest{
			{ProductID: "PRD-COLA-01", Quantity: 1, CampaignID: "cmp-missing"},
		},
	})
	if !errors.Is(err, store.ErrNotFound) {
		t.Fatalf("expected campaign not found, got %v", err)
	}
}

func TestCreateSaleConsumesStockAsynchronously(t *testing.T) {
	svc, _, stub, notifier := newTestService(t)

	before := stub.StockOf("PRD-COLA-01")
	_, err := svc.CreateSale(cashierCtx(), domain.SaleCreateRequest{
		MoneyCents:  5000,
		PaymentType: "cash",
		Items: []domain.SaleItemRequest{
			{ProductID: "PRD-COLA-01", Quantity: 3},
		},
	})
	if err != nil {
		t.Fatalf("create sale failed: %v", err)
	}

	notifier.Close()
	if got := stub.StockOf("PRD-COLA-01"); got != before-3 {
		t.Fatalf("expected stock %d after consumption, got %d", before-3, got)
	}
}

func TestProcessReturnRepricesRemainingQuantity(t *testing.T) {
	svc, _, stub, notifier := newTestService(t)

	sale, err := svc.CreateSale(cashierCtx(), domain.SaleCreateRequest{
		MoneyCents:  10000,
		PaymentType: "cash",
		Items: []domain.SaleItemRequest{
			{ProductID: "PRD-COLA-01", Quantity: 6, CampaignID: "cmp-b3p2"},
		},
	})
	if err != nil {
		t.Fatalf("create sale failed: %v", err)
	}

	result, err := svc.ProcessReturn(cashierCtx(), domain.ReturnRequest{
		SalesNumber: sale.SalesNumber,
		ProductID:   "PRD-COLA-01",
		Quantity:    3,
	})
	if err != nil {
		t.Fatalf("process return failed: %v", err)
	}
	if result.Item.Quantity != 3 {
		t.Fatalf("expected remaining quantity 3, got %d", result.Item.Quantity)
	}
	// 3 units under buy-3-pay-2 reprice to 2 paid units.
	if result.Item.TotalCents != 2400 {
		t.Fatalf("expected repriced total 2400, got %d", result.Item.TotalCents)
	}

	updated, err := svc.GetSale(cashierCtx(), sale.SalesNumber)
	if err != nil {
		t.Fatalf("get sale failed: %v", err)
	}
	if updated.TotalCents != 2400 {
		t.Fatalf("expected sale total 2400 after return, got %d", updated.TotalCents)
	}

	notifier.Close()
	// 6 consumed, 3 credited back.
	if got := stub.StockOf("PRD-COLA-01"); got != 120-3 {
		t.Fatalf("expected stock 117 after return credit, got %d", got)
	}
}

func TestProcessReturnKeepsHistoricalCampaign(t *testing.T) {
	svc, _, _, notifier := newTestService(t)
	defer notifier.Close()

	sale, err := svc.CreateSale(cashierCtx(), domain.SaleCreateRequest{
		MoneyCents:  5000,
		PaymentType: "cash",
		Items: []domain.SaleItemRequest{
			{ProductID: "PRD-BREAD-01", Quantity: 3, CampaignID: "cmp-m3000"},
		},
	})
	if err != nil {
		t.Fatalf("create sale failed: %v", err)
	}
	// 3 x 1800 minus 3000 flat.
	if sale.TotalCents != 2400 {
		t.Fatalf("expected total 2400, got %d", sale.TotalCents)
	}

	if err := svc.DeleteCampaign(adminCtx(), "cmp-m3000"); err != nil {
		t.Fatalf("delete campaign failed: %v", err)
	}

	result, err := svc.ProcessReturn(cashierCtx(), domain.ReturnRequest{
		SalesNumber: sale.SalesNumber,
		ProductID:   "PRD-BREAD-01",
		Quantity:    1,
	})
	if err != nil {
		t.Fatalf("return after campaign delete failed: %v", err)
	}
	// 2 x 1800 minus the original 3000 flat discount.
	if result.Item.TotalCents != 600 {
		t.Fatalf("expected repriced total 600, got %d", result.Item.TotalCents)
	}
}

func TestProcessReturnWindowBoundary(t *testing.T) {
	svc, repo, _, notifier := newTestService(t)
	defer notifier.Close()

	saleDate := time.Date(2024, 6, 1, 10, 0, 0, 0, time.UTC)
	_, err := repo.CreateSale(context.Background(), domain.Sale{
		ID:          "sale-old",
		SalesNumber: "S-OLD00001",
		SalesDate:   saleDate,
		CreatedBy:   "cashier",
		PaymentType: domain.PaymentTypeCash,
		TotalCents:  2400,
		MoneyCents:  2400,
		Items: []domain.LineItem{
			{ProductID: "PRD-COLA-01", Name: "Cola 330ml", Quantity: 2, UnitPriceCents: 1200, InStock: true, TotalCents: 2400, PaymentType: domain.PaymentTypeCash},
		},
	})
	if err != nil {
		t.Fatalf("seed sale failed: %v", err)
	}

	_, err = svc.ProcessReturn(cashierCtx(), domain.ReturnRequest{
		SalesNumber: "S-OLD00001",
		ProductID:   "PRD-COLA-01",
		Quantity:    1,
		ReturnDate:  "2024-06-17",
	})
	if !errors.Is(err, store.ErrInvalid) {
		t.Fatalf("expected return period expired, got %v", err)
	}

	// Exactly 14 days after the sale is still inside the window.
	result, err := svc.ProcessReturn(cashierCtx(), domain.ReturnRequest{
		SalesNumber: "S-OLD00001",
		ProductID:   "PRD-COLA-01",
		Quantity:    1,
		ReturnDate:  "2024-06-15",
	})
	if err != nil {
		t.Fatalf("boundary return failed: %v", err)
	}
	if result.Item.Quantity != 1 {
		t.Fatalf("expected remaining quantity 1, got %d", result.Item.Quantity)
	}
}

func TestProcessReturnUnknownSaleAndItem(t *testing.T) {
	svc, _, _, notifier := newTestService(t)
	defer notifier.Close()

	_, err := svc.ProcessReturn(cashierCtx(), domain.ReturnRequest{
		SalesNumber: "S-NOPE0001",
		ProductID:   "PRD-COLA-01",
		Quantity:    1,
	})
	if !errors.Is(err, store.ErrNotFound) {
		t.Fatalf("expected sales not found, got %v", err)
	}

	sale, err := svc.CreateSale(cashierCtx(), domain.SaleCreateRequest{
		MoneyCents:  5000,
		PaymentType: "cash",
		Items: []domain.SaleItemRequest{
			{ProductID: "PRD-COLA-01", Quantity: 1},
		},
	})
	if err != nil {
		t.Fatalf("create sale failed: %v", err)
	}

	_, err = svc.ProcessReturn(cashierCtx(), domain.ReturnRequest{
		SalesNumber: sale.SalesNumber,
		ProductID:   "PRD-CHIPS-01",
		Quantity:    1,
	})
	if !errors.Is(err, store.ErrNotFound) {
		t.Fatalf("expected sales item not found, got %v", err)
	}

	_, err = svc.ProcessReturn(cashierCtx(), domain.ReturnRequest{
		SalesNumber: sale.SalesNumber,
		ProductID:   "PRD-COLA-01",
		Quantity:    5,
	})
	if !errors.Is(err, store.ErrInvalid) {
		t.Fatalf("expected over-quantity return to fail, got %v", err)
	}
}

func TestCampaignLifecycle(t *testing.T) {
	svc, _, _, notifier := newTestService(t)
	defer notifier.Close()

	_, err := svc.CreateCampaign(cashierCtx(), domain.CampaignCreateRequest{
		Name:     "Cashier Promo",
		Category: "percent",
		Percent:  10,
	})
	if err == nil {
		t.Fatalf("expected cashier campaign create to fail")
	}

	created, err := svc.CreateCampaign(adminCtx(), domain.CampaignCreateRequest{
		Name:     "Weekend 10",
		Category: "percent",
		Percent:  10,
	})
	if err != nil {
		t.Fatalf("create campaign failed: %v", err)
	}
	if !created.Active {
		t.Fatalf("expected new campaign to be active")
	}

	inactive := false
	updated, err := svc.UpdateCampaign(adminCtx(), created.ID, domain.CampaignUpdateRequest{Active: &inactive})
	if err != nil {
		t.Fatalf("update campaign failed: %v", err)
	}
	if updated.Active {
		t.Fatalf("expected campaign to be inactive after update")
	}

	// An inactive campaign cannot be applied to a new sale.
	_, err = svc.CreateSale(cashierCtx(), domain.SaleCreateRequest{
		MoneyCents:  5000,
		PaymentType: "cash",
		Items: []domain.SaleItemRequest{
			{ProductID: "PRD-COLA-01", Quantity: 1, CampaignID: created.ID},
		},
	})
	if !errors.Is(err, store.ErrNotFound) {
		t.Fatalf("expected inactive campaign to be rejected, got %v", err)
	}

	if err := svc.DeleteCampaign(adminCtx(), created.ID); err != nil {
		t.Fatalf("delete campaign failed: %v", err)
	}
	if _, err := svc.GetCampaign(adminCtx(), created.ID); !errors.Is(err, store.ErrNotFound) {
		t.Fatalf("expected deleted campaign to be gone, got %v", err)
	}
}

func TestCampaignCreateValidatesKeyShape(t *testing.T) {
	svc, _, _, notifier := newTestService(t)
	defer notifier.Close()

	_, err := svc.CreateCampaign(adminCtx(), domain.CampaignCreateRequest{
		Name:        "Broken",
		Category:    "percent",
		Percent:     10,
		AmountCents: 500,
	})
	if err == nil {
		t.Fatalf("expected mixed-shape campaign to be rejected")
	}

	_, err = svc.CreateCampaign(adminCtx(), domain.CampaignCreateRequest{
		Name:     "Mystery",
		Category: "coupon",
	})
	if err == nil {
		t.Fatalf("expected unknown category to be rejected")
	}
}

func TestDailyReportAggregatesByPayment(t *testing.T) {
	svc, _, _, notifier := newTestService(t)
	defer notifier.Close()

	_, err := svc.CreateSale(cashierCtx(), domain.SaleCreateRequest{
		MoneyCents:  5000,
		PaymentType: "cash",
		Items: []domain.SaleItemRequest{
			{ProductID: "PRD-COLA-01", Quantity: 2},
		},
	})
	if err != nil {
		t.Fatalf("first sale failed: %v", err)
	}
	_, err = svc.CreateSale(cashierCtx(), domain.SaleCreateRequest{
		PaymentType: "card",
		Items: []domain.SaleItemRequest{
			{ProductID: "PRD-MILK-01", Quantity: 5, CampaignID: "cmp-p20"},
		},
	})
	if err != nil {
		t.Fatalf("second sale failed: %v", err)
	}

	report, err := svc.DailyReport(adminCtx(), time.Now().UTC().Format("2006-01-02"))
	if err != nil {
		t.Fatalf("daily report failed: %v", err)
	}
	if report.Sales != 2 {
		t.Fatalf("expected 2 sales, got %d", report.Sales)
	}
	if report.GrossCents != 2400+10500 {
		t.Fatalf("expected gross 12900, got %d", report.GrossCents)
	}
	if report.NetCents != 2400+8400 {
		t.Fatalf("expected net 10800, got %d", report.NetCents)
	}
	if report.DiscountCents != 2100 {
		t.Fatalf("expected discount 2100, got %d", report.DiscountCents)
	}
	if len(report.ByPayment) != 2 {
		t.Fatalf("expected 2 payment buckets, got %d", len(report.ByPayment))
	}
}

func TestAuditTrailRecordsSaleActions(t *testing.T) {
	svc, _, _, notifier := newTestService(t)
	defer notifier.Close()

	sale, err := svc.CreateSale(cashierCtx(), domain.SaleCreateRequest{
		MoneyCents:  5000,
		PaymentType: "cash",
		Items: []domain.SaleItemRequest{
			{ProductID: "PRD-COLA-01", Quantity: 2},
		},
	})
	if err != nil {
		t.Fatalf("create sale failed: %v", err)
	}
	if _, err := svc.ProcessReturn(cashierCtx(), domain.ReturnRequest{
		SalesNumber: sale.SalesNumber,
		ProductID:   "PRD-COLA-01",
		Quantity:    1,
	}); err != nil {
		t.Fatalf("process return failed: %v", err)
	}

	logs, err := svc.ListAuditLogs(adminCtx(), "", 50)
	if err != nil {
		t.Fatalf("list audit logs failed: %v", err)
	}
	actions := map[string]bool{}
	for _, entry := range logs {
		actions[entry.Action] = true
	}
	if !actions["sale_create"] || !actions["sale_return"] {
		t.Fatalf("expected sale_create and sale_return in audit trail, got %v", actions)
	}
}

func TestListSalesPagination(t *testing.T) {
	svc, _, _, notifier := newTestService(t)
	defer notifier.Close()

	for i := 0; i < 5; i++ {
		_, err := svc.CreateSale(cashierCtx(), domain.SaleCreateRequest{
			MoneyCents:  5000,
			PaymentType: "cash",
			Items: []domain.SaleItemRequest{
				{ProductID: "PRD-COLA-01", Quantity: 1},
			},
		})
		if err != nil {
			t.Fatalf("sale %d failed: %v", i, err)
		}
	}

	page, err := svc.ListSales(cashierCtx(), domain.SaleFilter{Page: 1, Size: 2})
	if err != nil {
		t.Fatalf("list sales failed: %v", err)
	}
	if page.Total != 5 {
		t.Fatalf("expected total 5, got %d", page.Total)
	}
	if len(page.Sales) != 2 {
		t.Fatalf("expected page of 2, got %d", len(page.Sales))
	}
}

func TestDeleteSaleRequiresAdmin(t *testing.T) {
	svc, _, _, notifier := newTestService(t)
	defer notifier.Close()

	sale, err := svc.CreateSale(cashierCtx(), domain.SaleCreateRequest{
		MoneyCents:  5000,
		PaymentType: "cash",
		Items: []domain.SaleItemRequest{
			{ProductID: "PRD-COLA-01", Quantity: 1},
		},
	})
	if err != nil {
		t.Fatalf("create sale failed: %v", err)
	}

	if err := svc.DeleteSale(cashierCtx(), sale.SalesNumber); err == nil {
		t.Fatalf("expected cashier delete to fail")
	}
	if err := svc.DeleteSale(adminCtx(), sale.SalesNumber); err != nil {
		t.Fatalf("admin delete failed: %v", err)
	}
	if _, err := svc.GetSale(cashierCtx(), sale.SalesNumber); !errors.Is(err, store.ErrNotFound) {
		t.Fatalf("expected deleted sale to be gone, got %v", err)
	}
}
