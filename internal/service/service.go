package service

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"
	"time"

	"possales/internal/cache"
	"possales/internal/campaign"
	"possales/internal/domain"
	"possales/internal/inventory"
	"possales/internal/store"
	"possales/internal/xid"
)

type actorContextKey struct{}

func WithActor(ctx context.Context, actor domain.Actor) context.Context {
	return context.WithValue(ctx, actorContextKey{}, actor)
}

func ActorFromContext(ctx context.Context) (domain.Actor, bool) {
	actor, ok := ctx.Value(actorContextKey{}).(domain.Actor)
	return actor, ok
}

// Business-rule failures raised during sale and return processing. All wrap a
// store sentinel so the HTTP boundary maps them with errors.Is.
var (
	ErrPaymentTypeMissing  = fmt.Errorf("%w: payment type not entered", store.ErrInvalid)
	ErrNoMoney             = fmt.Errorf("%w: no money entered", store.ErrInvalid)
	ErrInsufficientBalance = fmt.Errorf("%w: insufficient balance", store.ErrInvalid)
	ErrOutOfStock          = fmt.Errorf("%w: out of stock", store.ErrInvalid)
	ErrProductDisabled     = fmt.Errorf("%w: product disabled", store.ErrInvalid)
	ErrReturnExpired       = fmt.Errorf("%w: return period expired", store.ErrInvalid)
)

type Service struct {
	repo         store.Repository
	inventory    inventory.Client
	notifier     *inventory.Notifier
	campaigns    cache.CampaignCache
	cacheTTL     time.Duration
	returnWindow time.Duration
}

func New(repo store.Repository, inv inventory.Client, notifier *inventory.Notifier, campaigns cache.CampaignCache, cacheTTL time.Duration, returnWindowDays int) *Service {
	if campaigns == nil {
		campaigns = cache.NoopCampaignCache{}
	}
	if cacheTTL <= 0 {
		cacheTTL = 30 * time.Second
	}
	if returnWindowDays < 1 {
		returnWindowDays = 14
	}

	return &Service{
		repo:         repo,
		inventory:    inv,
		notifier:     notifier,
		campaigns:    campaigns,
		cacheTTL:     cacheTTL,
		returnWindow: time.Duration(returnWindowDays) * 24 * time.Hour,
	}
}

// CreateSale runs the whole sale pipeline: price each submitted line against
// inventory and its campaign, validate payment, persist atomically, then hand
// the consumed quantities to the async inventory notifier. Any failure before
// persistence aborts the sale with nothing written.
func (s *Service) CreateSale(ctx context.Context, req domain.SaleCreateRequest) (domain.Sale, error) {
	if len(req.Items) == 0 {
		return domain.Sale{}, fmt.Errorf("%w: sale requires at least one item", store.ErrInvalid)
	}

	salePayment := normalizePaymentType(req.PaymentType)
	if req.PaymentType != "" && salePayment == "" {
		return domain.Sale{}, fmt.Errorf("%w: unsupported payment type %q", store.ErrInvalid, req.PaymentType)
	}

	actor, _ := ActorFromContext(ctx)
	createdBy := strings.TrimSpace(req.CreatedBy)
	if createdBy == "" {
		createdBy = actor.Username
	}

	activeCampaigns, err := s.activeCampaigns(ctx)
	if err != nil {
		return domain.Sale{}, err
	}
	activeByID := make(map[string]domain.Campaign, len(activeCampaigns))
	for _, c := range activeCampaigns {
		activeByID[c.ID] = c
	}

	// Line items keep the submitted order end to end.
	items := make([]domain.LineItem, 0, len(req.Items))
	consumed := make([]inventory.ConsumedItem, 0, len(req.Items))
	for _, line := range req.Items {
		productID := strings.TrimSpace(line.ProductID)
		if productID == "" || line.Quantity < 1 {
			return domain.Sale{}, fmt.Errorf("%w: product id and positive quantity required", store.ErrInvalid)
		}

		avail, err := s.inventory.Check(ctx, productID, line.Quantity)
		if err != nil {
			return domain.Sale{}, err
		}
		if !avail.State {
			return domain.Sale{}, fmt.Errorf("%w: %s", ErrProductDisabled, productID)
		}
		if !avail.InStock {
			return domain.Sale{}, fmt.Errorf("%w: %s", ErrOutOfStock, productID)
		}

		var applied *domain.Campaign
		campaignID := strings.TrimSpace(line.CampaignID)
		if campaignID != "" {
			c, ok := activeByID[campaignID]
			if !ok {
				return domain.Sale{}, fmt.Errorf("%w: campaign %s", store.ErrNotFound, campaignID)
			}
			applied = &c
		}

		totalCents, err := campaign.Apply(line.Quantity, avail.UnitPriceCents, applied)
		if err != nil {
			return domain.Sale{}, err
		}

		itemPayment := normalizePaymentType(line.PaymentType)
		if line.PaymentType != "" && itemPayment == "" {
			return domain.Sale{}, fmt.Errorf("%w: unsupported payment type %q", store.ErrInvalid, line.PaymentType)
		}
		if itemPayment == "" {
			itemPayment = salePayment
		}
		if itemPayment == "" {
			return domain.Sale{}, ErrPaymentTypeMissing
		}

		items = append(items, domain.LineItem{
			ProductID:      productID,
			Name:           avail.Name,
			Quantity:       line.Quantity,
			UnitPriceCents: avail.UnitPriceCents,
			InStock:        avail.InStock,
			CampaignID:     campaignID,
			TotalCents:     totalCents,
			PaymentType:    itemPayment,
		})
		consumed = append(consumed, inventory.ConsumedItem{ProductID: productID, Quantity: line.Quantity})
	}

	totalCents := int64(0)
	cashPortion := int64(0)
	summaryPayment := items[0].PaymentType
	for _, item := range items {
		totalCents += item.TotalCents
		if item.PaymentType == domain.PaymentTypeCash {
			cashPortion += item.TotalCents
		}
		if item.PaymentType != summaryPayment {
			summaryPayment = domain.PaymentTypeMixed
		}
	}

	changeCents := int64(0)
	if cashPortion > 0 {
		if req.MoneyCents <= 0 {
			return domain.Sale{}, ErrNoMoney
		}
		if req.MoneyCents < cashPortion {
			return domain.Sale{}, ErrInsufficientBalance
		}
		changeCents = req.MoneyCents - cashPortion
	}

	sale := domain.Sale{
		ID:          xid.New("sale"),
		SalesNumber: xid.SalesNumber(),
		SalesDate:   time.Now().UTC(),
		CreatedBy:   createdBy,
		PaymentType: summaryPayment,
		TotalCents:  totalCents,
		MoneyCents:  req.MoneyCents,
		ChangeCents: changeCents,
		Items:       items,
	}

	saved, err := s.repo.CreateSale(ctx, sale)
	if err != nil {
		return domain.Sale{}, err
	}

	// The sale is committed at this point. Stock consumption is delivered
	// best-effort; a failed notification surfaces via the reconciliation
	// endpoint, it never rolls the sale back.
	if s.notifier != nil {
		s.notifier.EnqueueConsumption(consumed)
	}

	s.logAudit(ctx, "sale_create", "sale", saved.SalesNumber, fmt.Sprintf("total=%d,payment=%s,items=%d", saved.TotalCents, saved.PaymentType, len(saved.Items)))

	return *saved, nil
}

func (s *Service) GetSale(ctx context.Context, salesNumber string) (domain.Sale, error) {
	salesNumber = strings.TrimSpace(salesNumber)
	if salesNumber == "" {
		return domain.Sale{}, store.ErrInvalid
	}
	sale, err := s.repo.GetSaleBySalesNumber(ctx, salesNumber)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return domain.Sale{}, fmt.Errorf("%w: sales not found", store.ErrNotFound)
		}
		return domain.Sale{}, err
	}
	return *sale, nil
}

func (s *Service) ListSales(ctx context.Context, filter domain.SaleFilter) (domain.SaleListResponse, error) {
	if filter.Page < 1 {
		filter.Page = 1
	}
	if filter.Size < 1 || filter.Size > 200 {
		filter.Size = 20
	}
	sales, total, err := s.repo.ListSales(ctx, filter)
	if err != nil {
		return domain.SaleListResponse{}, err
	}
	return domain.SaleListResponse{
		Sales: sales,
		Total: total,
		Page:  filter.Page,
		Size:  filter.Size,
	}, nil
}

func (s *Service) DeleteSale(ctx context.Context, salesNumber string) error {
	actor, ok := ActorFromContext(ctx)
	if !ok || actor.Role != "admin" {
		return fmt.Errorf("admin role required")
	}
	salesNumber = strings.TrimSpace(salesNumber)
	if salesNumber == "" {
		return store.ErrInvalid
	}

	if err := s.repo.SoftDeleteSale(ctx, salesNumber); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return fmt.Errorf("%w: sales not found", store.ErrNotFound)
		}
		return err
	}
	s.logAudit(ctx, "sale_delete", "sale", salesNumber, "soft deleted")
	return nil
}

// ProcessReturn decrements the matching line item, reprices it against the
// campaign it was originally sold under, saves the sale, and credits the
// returned stock asynchronously. A repriced item keeps its historical
// campaign even if that campaign has since been deactivated or deleted.
func (s *Service) ProcessReturn(ctx context.Context, req domain.ReturnRequest) (domain.ReturnResult, error) {
	salesNumber := strings.TrimSpace(req.SalesNumber)
	productID := strings.TrimSpace(req.ProductID)
	if salesNumber == "" || productID == "" {
		return domain.ReturnResult{}, store.ErrInvalid
	}
	if req.Quantity < 1 {
		return domain.ReturnResult{}, fmt.Errorf("%w: return quantity must be at least 1", store.ErrInvalid)
	}

	returnDate := time.Now().UTC()
	if strings.TrimSpace(req.ReturnDate) != "" {
		parsed, err := time.Parse("2006-01-02", req.ReturnDate)
		if err != nil {
			return domain.ReturnResult{}, fmt.Errorf("%w: return date must be YYYY-MM-DD", store.ErrInvalid)
		}
		returnDate = parsed.UTC()
	}

	sale, err := s.repo.GetSaleBySalesNumber(ctx, salesNumber)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return domain.ReturnResult{}, fmt.Errorf("%w: sales not found", store.ErrNotFound)
		}
		return domain.ReturnResult{}, err
	}

	idx := -1
	for i, item := range sale.Items {
		if item.ProductID == productID {
			idx = i
			break
		}
	}
	if idx < 0 {
		return domain.ReturnResult{}, fmt.Errorf("%w: sales item not found", store.ErrNotFound)
	}
	item := sale.Items[idx]

	// Boundary-inclusive: a return exactly at the window edge is accepted.
	if returnDate.Sub(sale.SalesDate) > s.returnWindow {
		return domain.ReturnResult{}, ErrReturnExpired
	}
	if req.Quantity > item.Quantity {
		return domain.ReturnResult{}, fmt.Errorf("%w: return quantity %d exceeds sold quantity %d", store.ErrInvalid, req.Quantity, item.Quantity)
	}

	item.Quantity -= req.Quantity
	if item.Quantity == 0 {
		item.TotalCents = 0
	} else {
		var applied *domain.Campaign
		if item.CampaignID != "" {
			c, err := s.repo.GetCampaignByID(ctx, item.CampaignID)
			if err != nil {
				if errors.Is(err, store.ErrNotFound) {
					return domain.ReturnResult{}, fmt.Errorf("%w: campaign %s", store.ErrNotFound, item.CampaignID)
				}
				return domain.ReturnResult{}, err
			}
			applied = c
		}
		repriced, err := campaign.Apply(item.Quantity, item.UnitPriceCents, applied)
		if err != nil {
			return domain.ReturnResult{}, err
		}
		item.TotalCents = repriced
	}

	sale.Items[idx] = item
	total := int64(0)
	for _, li := range sale.Items {
		total += li.TotalCents
	}
	sale.TotalCents = total

	saved, err := s.repo.UpdateSale(ctx, *sale)
	if err != nil {
		return domain.ReturnResult{}, err
	}

	if s.notifier != nil {
		s.notifier.EnqueueReturn(productID, req.Quantity)
	}

	s.logAudit(ctx, "sale_return", "sale", salesNumber, fmt.Sprintf("product=%s,qty=%d,return_date=%s", productID, req.Quantity, returnDate.Format("2006-01-02")))

	return domain.ReturnResult{
		SalesNumber: saved.SalesNumber,
		Item:        saved.Items[idx],
	}, nil
}

func (s *Service) CreateCampaign(ctx context.Context, req domain.CampaignCreateRequest) (domain.Campaign, error) {
	actor, ok := ActorFromContext(ctx)
	if !ok || actor.Role != "admin" {
		return domain.Campaign{}, fmt.Errorf("admin role required")
	}

	name := strings.TrimSpace(req.Name)
	if name == "" {
		return domain.Campaign{}, fmt.Errorf("%w: campaign name required", store.ErrInvalid)
	}

	now := time.Now().UTC()
	c := domain.Campaign{
		ID:          xid.New("cmp"),
		Name:        name,
		Category:    campaign.NormalizeCategory(req.Category),
		BuyQuantity: req.BuyQuantity,
		PayQuantity: req.PayQuantity,
		Percent:     req.Percent,
		AmountCents: req.AmountCents,
		Active:      true,
		CreatedBy:   actor.Username,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if err := campaign.ValidateKey(c); err != nil {
		return domain.Campaign{}, err
	}

	saved, err := s.repo.CreateCampaign(ctx, c)
	if err != nil {
		return domain.Campaign{}, err
	}

	s.invalidateCampaignCache(ctx)
	s.logAudit(ctx, "campaign_create", "campaign", saved.ID, fmt.Sprintf("name=%s,category=%s", saved.Name, saved.Category))

	return *saved, nil
}

func (s *Service) GetCampaign(ctx context.Context, id string) (domain.Campaign, error) {
	id = strings.TrimSpace(id)
	if id == "" {
		return domain.Campaign{}, store.ErrInvalid
	}
	c, err := s.repo.GetCampaignByID(ctx, id)
	if err != nil {
		return domain.Campaign{}, err
	}
	if c.Deleted {
		return domain.Campaign{}, store.ErrNotFound
	}
	return *c, nil
}

func (s *Service) UpdateCampaign(ctx context.Context, id string, req domain.CampaignUpdateRequest) (domain.Campaign, error) {
	actor, ok := ActorFromContext(ctx)
	if !ok || actor.Role != "admin" {
		return domain.Campaign{}, fmt.Errorf("admin role required")
	}

	existing, err := s.GetCampaign(ctx, id)
	if err != nil {
		return domain.Campaign{}, err
	}

	updated := existing
	if req.Name != nil {
		name := strings.TrimSpace(*req.Name)
		if name == "" {
			return domain.Campaign{}, fmt.Errorf("%w: campaign name required", store.ErrInvalid)
		}
		updated.Name = name
	}
	if req.Active != nil {
		updated.Active = *req.Active
	}
	if req.BuyQuantity != nil {
		updated.BuyQuantity = *req.BuyQuantity
	}
	if req.PayQuantity != nil {
		updated.PayQuantity = *req.PayQuantity
	}
	if req.Percent != nil {
		updated.Percent = *req.Percent
	}
	if req.AmountCents != nil {
		updated.AmountCents = *req.AmountCents
	}
	if err := campaign.ValidateKey(updated); err != nil {
		return domain.Campaign{}, err
	}
	updated.UpdatedAt = time.Now().UTC()

	saved, err := s.repo.UpdateCampaign(ctx, updated)
	if err != nil {
		return domain.Campaign{}, err
	}

	s.invalidateCampaignCache(ctx)
	s.logAudit(ctx, "campaign_update", "campaign", saved.ID, fmt.Sprintf("active=%t,category=%s", saved.Active, saved.Category))

	return *saved, nil
}

func (s *Service) DeleteCampaign(ctx context.Context, id string) error {
	actor, ok := ActorFromContext(ctx)
	if !ok || actor.Role != "admin" {
		return fmt.Errorf("admin role required")
	}
	id = strings.TrimSpace(id)
	if id == "" {
		return store.ErrInvalid
	}

	if err := s.repo.SoftDeleteCampaign(ctx, id); err != nil {
		return err
	}
	s.invalidateCampaignCache(ctx)
	s.logAudit(ctx, "campaign_delete", "campaign", id, "soft deleted")
	return nil
}

func (s *Service) ListCampaigns(ctx context.Context, filter domain.CampaignFilter) (domain.CampaignListResponse, error) {
	if filter.Page < 1 {
		filter.Page = 1
	}
	if filter.Size < 1 || filter.Size > 200 {
		filter.Size = 20
	}
	campaigns, total, err := s.repo.ListCampaigns(ctx, filter)
	if err != nil {
		return domain.CampaignListResponse{}, err
	}
	return domain.CampaignListResponse{
		Campaigns: campaigns,
		Total:     total,
		Page:      filter.Page,
		Size:      filter.Size,
	}, nil
}

func (s *Service) DailyReport(ctx context.Context, date string) (domain.DailyReport, error) {
	var day time.Time
	if strings.TrimSpace(date) == "" {
		now := time.Now().UTC()
		day = time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, time.UTC)
	} else {
		parsed, err := time.Parse("2006-01-02", date)
		if err != nil {
			return domain.DailyReport{}, store.ErrInvalid
		}
		day = parsed.UTC()
	}
	from := day
	to := from.Add(24 * time.Hour)

	report, err := s.repo.GetDailyReport(ctx, from, to)
	if err != nil {
		return domain.DailyReport{}, err
	}
	report.Date = from.Format("2006-01-02")
	return report, nil
}

func (s *Service) ListAuditLogs(ctx context.Context, date string, limit int) ([]domain.AuditLog, error) {
	if limit < 1 {
		limit = 100
	}

	var from time.Time
	if strings.TrimSpace(date) == "" {
		from = time.Now().UTC().Add(-24 * time.Hour)
	} else {
		parsed, err := time.Parse("2006-01-02", date)
		if err != nil {
			return nil, store.ErrInvalid
		}
		from = parsed.UTC()
	}
	to := from.Add(24 * time.Hour)

	return s.repo.ListAuditLogs(ctx, from, to, limit)
}

// FailedInventoryNotifications exposes the notifier backlog so an operator
// can reconcile stock by hand after the inventory service was unreachable.
func (s *Service) FailedInventoryNotifications() []inventory.FailedNotification {
	if s.notifier == nil {
		return nil
	}
	return s.notifier.Failed()
}

func (s *Service) activeCampaigns(ctx context.Context) ([]domain.Campaign, error) {
	cached, hit, err := s.campaigns.Get(ctx)
	if err != nil {
		log.Printf("[service] WARN: campaign cache read failed: %v", err)
	}
	if hit {
		return cached, nil
	}

	campaigns, err := s.repo.ListActiveCampaigns(ctx)
	if err != nil {
		return nil, err
	}
	if err := s.campaigns.Set(ctx, campaigns, s.cacheTTL); err != nil {
		log.Printf("[service] WARN: campaign cache write failed: %v", err)
	}
	return campaigns, nil
}

func (s *Service) invalidateCampaignCache(ctx context.Context) {
	if err := s.campaigns.Invalidate(ctx); err != nil {
		log.Printf("[service] WARN: campaign cache invalidate failed: %v", err)
	}
}

func (s *Service) logAudit(ctx context.Context, action string, entityType string, entityID string, detail string) {
	actor, ok := ActorFromContext(ctx)
	if !ok {
		actor = domain.Actor{Username: "system", Role: "system"}
	}

	if err := s.repo.CreateAuditLog(ctx, domain.AuditLog{
		ID:            xid.New("audit"),
		ActorUsername: actor.Username,
		ActorRole:     actor.Role,
		Action:        action,
		EntityType:    entityType,
		EntityID:      entityID,
		Detail:        detail,
		CreatedAt:     time.Now().UTC(),
	}); err != nil {
		log.Printf("[audit] WARN: failed to write audit log action=%s entity=%s/%s: %v", action, entityType, entityID, err)
	}
}

func normalizePaymentType(raw string) string {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case domain.PaymentTypeCash:
		return domain.PaymentTypeCash
	case domain.PaymentTypeCard:
		return domain.PaymentTypeCard
	default:
		return ""
	}
}
