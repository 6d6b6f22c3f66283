package store

import (
	"context"
	"errors"
	"time"

	"possales/internal/domain"
)

var (
	ErrNotFound = errors.New("not found")
	ErrConflict = errors.New("already exists")
	ErrInvalid  = errors.New("invalid request")
)

// Repository is the persistence boundary for the sales service. Soft-deleted
// rows are filtered inside the implementations: lookups and lists never
// surface a deleted sale or campaign unless the method says otherwise.
type Repository interface {
	CreateSale(ctx context.Context, sale domain.Sale) (*domain.Sale, error)
	GetSaleBySalesNumber(ctx context.Context, salesNumber string) (*domain.Sale, error)
	UpdateSale(ctx context.Context, sale domain.Sale) (*domain.Sale, error)
	ListSales(ctx context.Context, filter domain.SaleFilter) ([]domain.Sale, int, error)
	SoftDeleteSale(ctx context.Context, salesNumber string) error

	CreateCampaign(ctx context.Context, campaign domain.Campaign) (*domain.Campaign, error)
	// GetCampaignByID returns the campaign regardless of active/deleted state:
	// historical line items keep pricing against their original campaign.
	GetCampaignByID(ctx context.Context, id string) (*domain.Campaign, error)
	UpdateCampaign(ctx context.Context, campaign domain.Campaign) (*domain.Campaign, error)
	SoftDeleteCampaign(ctx context.Context, id string) error
	ListCampaigns(ctx context.Context, filter domain.CampaignFilter) ([]domain.Campaign, int, error)
	ListActiveCampaigns(ctx context.Context) ([]domain.Campaign, error)

	GetDailyReport(ctx context.Context, from time.Time, to time.Time) (domain.DailyReport, error)

	CreateAuditLog(ctx context.Context, entry domain.AuditLog) error
	ListAuditLogs(ctx context.Context, from time.Time, to time.Time, limit int) ([]domain.AuditLog, error)

	CreateUser(ctx context.Context, user domain.UserAccount) error
	ListUsers(ctx context.Context) ([]domain.UserAccount, error)
	UpdateUserPassword(ctx context.Context, username string, password string) error
}
