package memory

import (
	"context"
	"log"
	"os"
	"slices"
	"strings"
	"sync"
	"time"

	"golang.org/x/crypto/bcrypt"

	"possales/internal/domain"
	"possales/internal/store"
	"possales/internal/xid"
)

type Store struct {
	mu              sync.RWMutex
	salesByNumber   map[string]domain.Sale
	campaignsByID   map[string]domain.Campaign
	auditLogs       []domain.AuditLog
	usersByUsername map[string]domain.UserAccount
}

// seedUsers builds the initial in-memory user accounts for dev/demo mode.
// Credentials are read from SEED_ADMIN_PASSWORD and SEED_CASHIER_PASSWORD
// environment variables. If unset, hardcoded dev defaults are used with a
// warning printed to stdout. These credentials are never used in production
// (the backend uses PostgreSQL when DATABASE_URL is set).
func seedUsers() map[string]domain.UserAccount {
	adminPwd := envOr("SEED_ADMIN_PASSWORD", "admin123")
	cashierPwd := envOr("SEED_CASHIER_PASSWORD", "cashier123")
	if os.Getenv("SEED_ADMIN_PASSWORD") == "" || os.Getenv("SEED_CASHIER_PASSWORD") == "" {
		log.Println("[memory-store] WARNING: using default dev credentials. Set SEED_ADMIN_PASSWORD and SEED_CASHIER_PASSWORD to override.")
	}

	now := time.Now().UTC()
	users := map[string]domain.UserAccount{}
	for _, u := range []struct {
		username string
		password string
		role     string
	}{
		{"admin", adminPwd, "admin"},
		{"cashier", cashierPwd, "cashier"},
	} {
		hash, err := bcrypt.GenerateFromPassword([]byte(u.password), bcrypt.DefaultCost)
		if err != nil {
			log.Fatalf("[memory-store] failed to hash seed password for %s: %v", u.username, err)
		}
		users[u.username] = domain.UserAccount{
			Username:  u.username,
			Password:  string(hash),
			Role:      u.role,
			Active:    true,
			CreatedAt: now,
		}
	}
	return users
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func New() *Store {
	return &Store{
		salesByNumber:   make(map[string]domain.Sale),
		campaignsByID:   make(map[string]domain.Campaign),
		auditLogs:       make([]domain.AuditLog, 0, 128),
		usersByUsername: make(map[string]domain.UserAccount),
	}
}

func NewSeeded() *Store {
	s := New()
	s.usersByUsername = seedUsers()

	now := time.Now().UTC()
	campaigns := []domain.Campaign{
		{ID: "cmp-b3p2", Name: "Buy 3 Pay 2", Category: domain.CampaignBuyXPayY, BuyQuantity: 3, PayQuantity: 2},
		{ID: "cmp-p20", Name: "20 Percent Off", Category: domain.CampaignPercent, Percent: 20},
		{ID: "cmp-m3000", Name: "3000 Off Per Line", Category: domain.CampaignMoneyDiscount, AmountCents: 3000},
	}
	for _, c := range campaigns {
		c.Active = true
		c.CreatedBy = "admin"
		c.CreatedAt = now
		c.UpdatedAt = now
		s.campaignsByID[c.ID] = c
	}
	return s
}

func (s *Store) CreateSale(_ context.Context, sale domain.Sale) (*domain.Sale, error) {
	if sale.SalesNumber == "" || len(sale.Items) == 0 {
		return nil, store.ErrInvalid
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.salesByNumber[sale.SalesNumber]; exists {
		return nil, store.ErrConflict
	}
	s.salesByNumber[sale.SalesNumber] = cloneSale(sale)
	created := cloneSale(sale)
	return &created, nil
}

func (s *Store) GetSaleBySalesNumber(_ context.Context, salesNumber string) (*domain.Sale, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	sale, exists := s.salesByNumber[salesNumber]
	if !exists || sale.Deleted {
		return nil, store.ErrNotFound
	}
	found := cloneSale(sale)
	return &found, nil
}

func (s *Store) UpdateSale(_ context.Context, sale domain.Sale) (*domain.Sale, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	existing, exists := s.salesByNumber[sale.SalesNumber]
	if !exists || existing.Deleted {
		return nil, store.ErrNotFound
	}
	s.salesByNumber[sale.SalesNumber] = cloneSale(sale)
	updated := cloneSale(sale)
	return &updated, nil
}

func (s *Store) ListSales(_ context.Context, filter domain.SaleFilter) ([]domain.Sale, int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	matched := make([]domain.Sale, 0, len(s.salesByNumber))
	for _, sale := range s.salesByNumber {
		if sale.Deleted {
			continue
		}
		if filter.SalesNumber != "" && sale.SalesNumber != filter.SalesNumber {
			continue
		}
		if filter.CreatedBy != "" && sale.CreatedBy != filter.CreatedBy {
			continue
		}
		if filter.PaymentType != "" && sale.PaymentType != filter.PaymentType {
			continue
		}
		if !filter.From.IsZero() && sale.SalesDate.Before(filter.From) {
			continue
		}
		if !filter.To.IsZero() && !sale.SalesDate.Before(filter.To) {
			continue
		}
		matched = append(matched, cloneSale(sale))
	}

	slices.SortFunc(matched, func(a, b domain.Sale) int {
		if filter.Sort == "date_asc" {
			a, b = b, a
		}
		if a.SalesDate.Equal(b.SalesDate) {
			return cmpString(b.SalesNumber, a.SalesNumber)
		}
		if a.SalesDate.After(b.SalesDate) {
			return -1
		}
		return 1
	})

	total := len(matched)
	return paginate(matched, filter.Page, filter.Size), total, nil
}

func (s *Store) SoftDeleteSale(_ context.Context, salesNumber string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	sale, exists := s.salesByNumber[salesNumber]
	if !exists || sale.Deleted {
		return store.ErrNotFound
	}
	sale.Deleted = true
	s.salesByNumber[salesNumber] = sale
	return nil
}

func (s *Store) CreateCampaign(_ context.Context, c domain.Campaign) (*domain.Campaign, error) {
	if c.ID == "" || c.Name == "" {
		return nil, store.ErrInvalid
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.campaignsByID[c.ID]; exists {
		return nil, store.ErrConflict
	}
	for _, existing := range s.campaignsByID {
		if !existing.Deleted && strings.EqualFold(existing.Name, c.Name) {
			return nil, store.ErrConflict
		}
	}

	s.campaignsByID[c.ID] = c
	created := c
	return &created, nil
}

func (s *Store) GetCampaignByID(_ context.Context, id string) (*domain.Campaign, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	c, exists := s.campaignsByID[id]
	if !exists {
		return nil, store.ErrNotFound
	}
	found := c
	return &found, nil
}

func (s *Store) UpdateCampaign(_ context.Context, c domain.Campaign) (*domain.Campaign, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	existing, exists := s.campaignsByID[c.ID]
	if !exists || existing.Deleted {
		return nil, store.ErrNotFound
	}
	s.campaignsByID[c.ID] = c
	updated := c
	return &updated, nil
}

func (s *Store) SoftDeleteCampaign(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	c, exists := s.campaignsByID[id]
	if !exists || c.Deleted {
		return store.ErrNotFound
	}
	c.Deleted = true
	c.Active = false
	c.UpdatedAt = time.Now().UTC()
	s.campaignsByID[id] = c
	return nil
}

func (s *Store) ListCampaigns(_ context.Context, filter domain.CampaignFilter) ([]domain.Campaign, int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	matched := make([]domain.Campaign, 0, len(s.campaignsByID))
	for _, c := range s.campaignsByID {
		if c.Deleted {
			continue
		}
		if filter.ID != "" && c.ID != filter.ID {
			continue
		}
		if filter.Name != "" && !strings.Contains(strings.ToLower(c.Name), strings.ToLower(filter.Name)) {
			continue
		}
		if filter.Category != "" && c.Category != filter.Category {
			continue
		}
		if filter.Active != nil && c.Active != *filter.Active {
			continue
		}
		if filter.CreatedBy != "" && c.CreatedBy != filter.CreatedBy {
			continue
		}
		matched = append(matched, c)
	}

	slices.SortFunc(matched, func(a, b domain.Campaign) int {
		if filter.Sort == "name" {
			return cmpString(a.Name, b.Name)
		}
		if a.CreatedAt.Equal(b.CreatedAt) {
			return cmpString(a.ID, b.ID)
		}
		if a.CreatedAt.After(b.CreatedAt) {
			return -1
		}
		return 1
	})

	total := len(matched)
	return paginate(matched, filter.Page, filter.Size), total, nil
}

func (s *Store) ListActiveCampaigns(_ context.Context) ([]domain.Campaign, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	active := make([]domain.Campaign, 0, len(s.campaignsByID))
	for _, c := range s.campaignsByID {
		if c.Deleted || !c.Active {
			continue
		}
		active = append(active, c)
	}
	slices.SortFunc(active, func(a, b domain.Campaign) int {
		return cmpString(a.ID, b.ID)
	})
	return active, nil
}

func (s *Store) GetDailyReport(_ context.Context, from time.Time, to time.Time) (domain.DailyReport, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	report := domain.DailyReport{}
	byPayment := map[string]*domain.DailyReportPayment{}
	for _, sale := range s.salesByNumber {
		if sale.Deleted || sale.SalesDate.Before(from) || !sale.SalesDate.Before(to) {
			continue
		}
		report.Sales++
		for _, item := range sale.Items {
			gross := int64(item.Quantity) * item.UnitPriceCents
			report.GrossCents += gross
			report.NetCents += item.TotalCents

			entry, ok := byPayment[item.PaymentType]
			if !ok {
				entry = &domain.DailyReportPayment{PaymentType: item.PaymentType}
				byPayment[item.PaymentType] = entry
			}
			entry.Items += int64(item.Quantity)
			entry.TotalCents += item.TotalCents
		}
	}
	report.DiscountCents = report.GrossCents - report.NetCents

	report.ByPayment = make([]domain.DailyReportPayment, 0, len(byPayment))
	for _, entry := range byPayment {
		report.ByPayment = append(report.ByPayment, *entry)
	}
	slices.SortFunc(report.ByPayment, func(a, b domain.DailyReportPayment) int {
		return cmpString(a.PaymentType, b.PaymentType)
	})

	return report, nil
}

func (s *Store) CreateAuditLog(_ context.Context, entry domain.AuditLog) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if entry.ID == "" {
		entry.ID = xid.New("audit")
	}
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = time.Now().UTC()
	}
	s.auditLogs = append(s.auditLogs, entry)
	return nil
}

func (s *Store) ListAuditLogs(_ context.Context, from time.Time, to time.Time, limit int) ([]domain.AuditLog, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]domain.AuditLog, 0, limit)
	for _, entry := range s.auditLogs {
		if entry.CreatedAt.Before(from) || !entry.CreatedAt.Before(to) {
			continue
		}
		result = append(result, entry)
	}
	slices.SortFunc(result, func(a, b domain.AuditLog) int {
		if a.CreatedAt.Equal(b.CreatedAt) {
			return cmpString(b.ID, a.ID)
		}
		if a.CreatedAt.After(b.CreatedAt) {
			return -1
		}
		return 1
	})
	if limit > 0 && len(result) > limit {
		result = result[:limit]
	}
	return result, nil
}

func (s *Store) CreateUser(_ context.Context, user domain.UserAccount) error {
	username := strings.ToLower(strings.TrimSpace(user.Username))
	if username == "" || user.Password == "" {
		return store.ErrInvalid
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.usersByUsername[username]; exists {
		return store.ErrConflict
	}
	user.Username = username
	s.usersByUsername[username] = user
	return nil
}

func (s *Store) ListUsers(_ context.Context) ([]domain.UserAccount, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	users := make([]domain.UserAccount, 0, len(s.usersByUsername))
	for _, user := range s.usersByUsername {
		users = append(users, user)
	}
	slices.SortFunc(users, func(a, b domain.UserAccount) int {
		return cmpString(a.Username, b.Username)
	})
	return users, nil
}

func (s *Store) UpdateUserPassword(_ context.Context, username string, password string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	user, exists := s.usersByUsername[username]
	if !exists {
		return store.ErrNotFound
	}
	user.Password = password
	s.usersByUsername[username] = user
	return nil
}

func cloneSale(sale domain.Sale) domain.Sale {
	cloned := sale
	cloned.Items = make([]domain.LineItem, len(sale.Items))
	copy(cloned.Items, sale.Items)
	return cloned
}

func paginate[T any](items []T, page int, size int) []T {
	if page < 1 {
		page = 1
	}
	if size < 1 {
		return items
	}
	start := (page - 1) * size
	if start >= len(items) {
		return []T{}
	}
	end := start + size
	if end > len(items) {
		end = len(items)
	}
	return items[start:end]
}

func cmpString(a, b string) int {
	if a < b {
		return -1
	}
	if a > b {
		return 1
	}
	return 0
}
