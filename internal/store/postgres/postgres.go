package postgres

import (
	"context"
	"database/sql"
	"errors"
	"strings"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	_ "github.com/jackc/pgx/v5/stdlib"

	"possales/internal/domain"
	"possales/internal/store"
	"possales/internal/xid"
)

type Store struct {
	db *sql.DB
}

func New(ctx context.Context, databaseURL string) (*Store, error) {
	db, err := sql.Open("pgx", databaseURL)
	if err != nil {
		return nil, err
	}

	db.SetMaxIdleConns(8)
	db.SetMaxOpenConns(30)
	db.SetConnMaxLifetime(30 * time.Minute)

	pingCtx, cancel := context.WithTimeout(ctx, 6*time.Second)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		_ = db.Close()
		return nil, err
	}

	return &Store{db: db}, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) CreateSale(ctx context.Context, sale domain.Sale) (*domain.Sale, error) {
	if sale.SalesNumber == "" || len(sale.Items) == 0 {
		return nil, store.ErrInvalid
	}
	if sale.ID == "" {
		sale.ID = xid.New("sale")
	}
	if sale.SalesDate.IsZero() {
		sale.SalesDate = time.Now().UTC()
	}

	pgTx, err := s.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelSerializable})
	if err != nil {
		return nil, err
	}
	defer func() { _ = pgTx.Rollback() }()

	_, err = pgTx.ExecContext(ctx, `
		INSERT INTO sales (
			id, sales_number, sales_date, created_by, payment_type,
			total_cents, money_cents, change_cents, deleted, updated_at
		)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,false,now())
	`, sale.ID, sale.SalesNumber, sale.SalesDate, sale.CreatedBy, sale.PaymentType,
		sale.TotalCents, sale.MoneyCents, sale.ChangeCents)
	if err != nil {
		if isUniqueViolation(err) {
			return nil, store.ErrConflict
		}
		return nil, err
	}

	for _, item := range sale.Items {
		_, err := pgTx.ExecContext(ctx, `
			INSERT INTO sale_items (
				sale_id, product_id, name, quantity, unit_price_cents,
				in_stock, campaign_id, total_cents, payment_type
			)
			VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9)
		`, sale.ID, item.ProductID, item.Name, item.Quantity, item.UnitPriceCents,
			item.InStock, nullIfEmpty(item.CampaignID), item.TotalCents, item.PaymentType)
		if err != nil {
			return nil, err
		}
	}

	if err := pgTx.Commit(); err != nil {
		return nil, err
	}
	created := sale
	return &created, nil
}

func (s *Store) GetSaleBySalesNumber(ctx context.Context, salesNumber string) (*domain.Sale, error) {
	var sale domain.Sale
	err := s.db.QueryRowContext(ctx, `
		SELECT id, sales_number, sales_date, created_by, payment_type,
			total_cents, money_cents, change_cents, deleted
		FROM sales
		WHERE sales_number = $1 AND deleted = false
	`, salesNumber).Scan(
		&sale.ID,
		&sale.SalesNumber,
		&sale.SalesDate,
		&sale.CreatedBy,
		&sale.PaymentType,
		&sale.TotalCents,
		&sale.MoneyCents,
		&sale.ChangeCents,
		&sale.Deleted,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, err
	}
	sale.SalesDate = sale.SalesDate.UTC()

	items, err := s.loadSaleItems(ctx, sale.ID)
	if err != nil {
		return nil, err
	}
	sale.Items = items
	return &sale, nil
}

func (s *Store) loadSaleItems(ctx context.Context, saleID string) ([]domain.LineItem, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT product_id, name, quantity, unit_price_cents,
			in_stock, COALESCE(campaign_id,''), total_cents, payment_type
		FROM sale_items
		WHERE sale_id = $1
		ORDER BY id ASC
	`, saleID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	items := make([]domain.LineItem, 0, 8)
	for rows.Next() {
		var item domain.LineItem
		if err := rows.Scan(&item.ProductID, &item.Name, &item.Quantity, &item.UnitPriceCents, &item.InStock, &item.CampaignID, &item.TotalCents, &item.PaymentType); err != nil {
			return nil, err
		}
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return items, nil
}

// UpdateSale rewrites the sale header and replaces its line items. Return
// processing shrinks item quantities, so replacing the rows keeps the stored
// state aligned with the recomputed sale.
func (s *Store) UpdateSale(ctx context.Context, sale domain.Sale) (*domain.Sale, error) {
	pgTx, err := s.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelSerializable})
	if err != nil {
		return nil, err
	}
	defer func() { _ = pgTx.Rollback() }()

	res, err := pgTx.ExecContext(ctx, `
		UPDATE sales
		SET payment_type = $2, total_cents = $3, money_cents = $4,
			change_cents = $5, updated_at = now()
		WHERE sales_number = $1 AND deleted = false
	`, sale.SalesNumber, sale.PaymentType, sale.TotalCents, sale.MoneyCents, sale.ChangeCents)
	if err != nil {
		return nil, err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return nil, err
	}
	if affected == 0 {
		return nil, store.ErrNotFound
	}

	_, err = pgTx.ExecContext(ctx, `DELETE FROM sale_items WHERE sale_id = $1`, sale.ID)
	if err != nil {
		return nil, err
	}
	for _, item := range sale.Items {
		_, err := pgTx.ExecContext(ctx, `
			INSERT INTO sale_items (
				sale_id, product_id, name, quantity, unit_price_cents,
				in_stock, campaign_id, total_cents, payment_type
			)
			VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9)
		`, sale.ID, item.ProductID, item.Name, item.Quantity, item.UnitPriceCents,
			item.InStock, nullIfEmpty(item.CampaignID), item.TotalCents, item.PaymentType)
		if err != nil {
			return nil, err
		}
	}

	if err := pgTx.Commit(); err != nil {
		return nil, err
	}
	updated := sale
	return &updated, nil
}

func (s *Store) ListSales(ctx context.Context, filter domain.SaleFilter) ([]domain.Sale, int, error) {
	where := `
		WHERE deleted = false
			AND ($1 = '' OR sales_number = $1)
			AND ($2 = '' OR created_by = $2)
			AND ($3 = '' OR payment_type = $3)
			AND ($4::timestamptz IS NULL OR sales_date >= $4)
			AND ($5::timestamptz IS NULL OR sales_date < $5)
	`
	args := []any{
		filter.SalesNumber,
		filter.CreatedBy,
		filter.PaymentType,
		nullTimeZero(filter.From),
		nullTimeZero(filter.To),
	}

	var total int
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM sales`+where, args...).Scan(&total); err != nil {
		return nil, 0, err
	}

	order := `ORDER BY sales_date DESC, sales_number DESC`
	if filter.Sort == "date_asc" {
		order = `ORDER BY sales_date ASC, sales_number ASC`
	}

	page, size := normalizePage(filter.Page, filter.Size)
	query := `
		SELECT id, sales_number, sales_date, created_by, payment_type,
			total_cents, money_cents, change_cents, deleted
		FROM sales
	` + where + order + ` LIMIT $6 OFFSET $7`
	args = append(args, size, (page-1)*size)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	sales := make([]domain.Sale, 0, size)
	for rows.Next() {
		var sale domain.Sale
		if err := rows.Scan(&sale.ID, &sale.SalesNumber, &sale.SalesDate, &sale.CreatedBy, &sale.PaymentType, &sale.TotalCents, &sale.MoneyCents, &sale.ChangeCents, &sale.Deleted); err != nil {
			return nil, 0, err
		}
		sale.SalesDate = sale.SalesDate.UTC()
		sales = append(sales, sale)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, err
	}

	for i := range sales {
		items, err := s.loadSaleItems(ctx, sales[i].ID)
		if err != nil {
			return nil, 0, err
		}
		sales[i].Items = items
	}

	return sales, total, nil
}

func (s *Store) SoftDeleteSale(ctx context.Context, salesNumber string) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE sales
		SET deleted = true, updated_at = now()
		WHERE sales_number = $1 AND deleted = false
	`, salesNumber)
	if err != nil {
		return err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return store.ErrNotFound
	}
	return nil
}

func (s *Store) CreateCampaign(ctx context.Context, c domain.Campaign) (*domain.Campaign, error) {
	if c.ID == "" || c.Name == "" {
		return nil, store.ErrInvalid
	}
	if c.CreatedAt.IsZero() {
		c.CreatedAt = time.Now().UTC()
	}
	if c.UpdatedAt.IsZero() {
		c.UpdatedAt = c.CreatedAt
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO campaigns (
			id, name, category, buy_quantity, pay_quantity, percent,
			amount_cents, active, deleted, created_by, created_at, updated_at
		)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,false,$9,$10,$11)
	`, c.ID, c.Name, c.Category, c.BuyQuantity, c.PayQuantity, c.Percent,
		c.AmountCents, c.Active, c.CreatedBy, c.CreatedAt, c.UpdatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return nil, store.ErrConflict
		}
		return nil, err
	}
	created := c
	return &created, nil
}

func (s *Store) GetCampaignByID(ctx context.Context, id string) (*domain.Campaign, error) {
	var c domain.Campaign
	// Deleted campaigns stay retrievable here so historical sales can still
	// reprice returned items against them.
	err := s.db.QueryRowContext(ctx, `
		SELECT id, name, category, buy_quantity, pay_quantity, percent,
			amount_cents, active, deleted, created_by, created_at, updated_at
		FROM campaigns
		WHERE id = $1
	`, id).Scan(&c.ID, &c.Name, &c.Category, &c.BuyQuantity, &c.PayQuantity, &c.Percent, &c.AmountCents, &c.Active, &c.Deleted, &c.CreatedBy, &c.CreatedAt, &c.UpdatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, err
	}
	c.CreatedAt = c.CreatedAt.UTC()
	c.UpdatedAt = c.UpdatedAt.UTC()
	return &c, nil
}

func (s *Store) UpdateCampaign(ctx context.Context, c domain.Campaign) (*domain.Campaign, error) {
	res, err := s.db.ExecContext(ctx, `
		UPDATE campaigns
		SET name = $2, category = $3, buy_quantity = $4, pay_quantity = $5,
			percent = $6, amount_cents = $7, active = $8, updated_at = now()
		WHERE id = $1 AND deleted = false
	`, c.ID, c.Name, c.Category, c.BuyQuantity, c.PayQuantity, c.Percent, c.AmountCents, c.Active)
	if err != nil {
		if isUniqueViolation(err) {
			return nil, store.ErrConflict
		}
		return nil, err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return nil, err
	}
	if affected == 0 {
		return nil, store.ErrNotFound
	}
	updated := c
	return &updated, nil
}

func (s *Store) SoftDeleteCampaign(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE campaigns
		SET deleted = true, active = false, updated_at = now()
		WHERE id = $1 AND deleted = false
	`, id)
	if err != nil {
		return err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return store.ErrNotFound
	}
	return nil
}

func (s *Store) ListCampaigns(ctx context.Context, filter domain.CampaignFilter) ([]domain.Campaign, int, error) {
	where := `
		WHERE deleted = false
			AND ($1 = '' OR id = $1)
			AND ($2 = '' OR name ILIKE '%' || $2 || '%')
			AND ($3 = '' OR category = $3)
			AND ($4::boolean IS NULL OR active = $4)
			AND ($5 = '' OR created_by = $5)
	`
	var activeArg any
	if filter.Active != nil {
		activeArg = *filter.Active
	}
	args := []any{filter.ID, filter.Name, filter.Category, activeArg, filter.CreatedBy}

	var total int
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM campaigns`+where, args...).Scan(&total); err != nil {
		return nil, 0, err
	}

	order := `ORDER BY created_at DESC, id ASC`
	if filter.Sort == "name" {
		order = `ORDER BY name ASC`
	}

	page, size := normalizePage(filter.Page, filter.Size)
	query := `
		SELECT id, name, category, buy_quantity, pay_quantity, percent,
			amount_cents, active, deleted, created_by, created_at, updated_at
		FROM campaigns
	` + where + order + ` LIMIT $6 OFFSET $7`
	args = append(args, size, (page-1)*size)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	campaigns := make([]domain.Campaign, 0, size)
	for rows.Next() {
		var c domain.Campaign
		if err := rows.Scan(&c.ID, &c.Name, &c.Category, &c.BuyQuantity, &c.PayQuantity, &c.Percent, &c.AmountCents, &c.Active, &c.Deleted, &c.CreatedBy, &c.CreatedAt, &c.UpdatedAt); err != nil {
			return nil, 0, err
		}
		c.CreatedAt = c.CreatedAt.UTC()
		c.UpdatedAt = c.UpdatedAt.UTC()
		campaigns = append(campaigns, c)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, err
	}

	return campaigns, total, nil
}

func (s *Store) ListActiveCampaigns(ctx context.Context) ([]domain.Campaign, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, name, category, buy_quantity, pay_quantity, percent,
			amount_cents, active, deleted, created_by, created_at, updated_at
		FROM campaigns
		WHERE deleted = false AND active = true
		ORDER BY id ASC
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	campaigns := make([]domain.Campaign, 0, 16)
	for rows.Next() {
		var c domain.Campaign
		if err := rows.Scan(&c.ID, &c.Name, &c.Category, &c.BuyQuantity, &c.PayQuantity, &c.Percent, &c.AmountCents, &c.Active, &c.Deleted, &c.CreatedBy, &c.CreatedAt, &c.UpdatedAt); err != nil {
			return nil, err
		}
		c.CreatedAt = c.CreatedAt.UTC()
		c.UpdatedAt = c.UpdatedAt.UTC()
		campaigns = append(campaigns, c)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return campaigns, nil
}

func (s *Store) GetDailyReport(ctx context.Context, from time.Time, to time.Time) (domain.DailyReport, error) {
	report := domain.DailyReport{
		ByPayment: make([]domain.DailyReportPayment, 0, 3),
	}

	err := s.db.QueryRowContext(ctx, `
		SELECT
			COUNT(DISTINCT s.id)::bigint,
			COALESCE(SUM(si.quantity * si.unit_price_cents),0)::bigint,
			COALESCE(SUM(si.total_cents),0)::bigint
		FROM sales s
		JOIN sale_items si ON si.sale_id = s.id
		WHERE s.deleted = false
			AND s.sales_date >= $1
			AND s.sales_date < $2
	`, from, to).Scan(&report.Sales, &report.GrossCents, &report.NetCents)
	if err != nil {
		return report, err
	}
	report.DiscountCents = report.GrossCents - report.NetCents

	rows, err := s.db.QueryContext(ctx, `
		SELECT si.payment_type,
			COALESCE(SUM(si.quantity),0)::bigint,
			COALESCE(SUM(si.total_cents),0)::bigint
		FROM sales s
		JOIN sale_items si ON si.sale_id = s.id
		WHERE s.deleted = false
			AND s.sales_date >= $1
			AND s.sales_date < $2
		GROUP BY si.payment_type
		ORDER BY si.payment_type
	`, from, to)
	if err != nil {
		return report, err
	}
	defer rows.Close()

	for rows.Next() {
		var row domain.DailyReportPayment
		if err := rows.Scan(&row.PaymentType, &row.Items, &row.TotalCents); err != nil {
			return report, err
		}
		report.ByPayment = append(report.ByPayment, row)
	}
	if err := rows.Err(); err != nil {
		return report, err
	}

	return report, nil
}

func (s *Store) CreateAuditLog(ctx context.Context, entry domain.AuditLog) error {
	if entry.ID == "" {
		entry.ID = xid.New("audit")
	}
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = time.Now().UTC()
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO audit_logs (
			id, actor_username, actor_role, action, entity_type, entity_id, detail, created_at
		)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8)
	`, entry.ID, entry.ActorUsername, entry.ActorRole, entry.Action, entry.EntityType, entry.EntityID, entry.Detail, entry.CreatedAt)
	return err
}

func (s *Store) ListAuditLogs(ctx context.Context, from time.Time, to time.Time, limit int) ([]domain.AuditLog, error) {
	if limit < 1 {
		limit = 100
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT id, actor_username, actor_role, action, entity_type, entity_id, detail, created_at
		FROM audit_logs
		WHERE created_at >= $1
			AND created_at < $2
		ORDER BY created_at DESC
		LIMIT $3
	`, from, to, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	logs := make([]domain.AuditLog, 0, limit)
	for rows.Next() {
		var entry domain.AuditLog
		if err := rows.Scan(&entry.ID, &entry.ActorUsername, &entry.ActorRole, &entry.Action, &entry.EntityType, &entry.EntityID, &entry.Detail, &entry.CreatedAt); err != nil {
			return nil, err
		}
		entry.CreatedAt = entry.CreatedAt.UTC()
		logs = append(logs, entry)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return logs, nil
}

func (s *Store) CreateUser(ctx context.Context, user domain.UserAccount) error {
	user.Username = strings.ToLower(strings.TrimSpace(user.Username))
	if user.Username == "" || strings.TrimSpace(user.Password) == "" {
		return store.ErrInvalid
	}
	if user.Role == "" {
		user.Role = "cashier"
	}
	if user.CreatedAt.IsZero() {
		user.CreatedAt = time.Now().UTC()
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO app_users (username, password, role, active, created_at, updated_at)
		VALUES ($1,$2,$3,$4,$5,now())
	`, user.Username, user.Password, user.Role, user.Active, user.CreatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return store.ErrConflict
		}
		return err
	}
	return nil
}

func (s *Store) ListUsers(ctx context.Context) ([]domain.UserAccount, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT username, password, role, active, created_at
		FROM app_users
		ORDER BY username ASC
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	users := make([]domain.UserAccount, 0, 16)
	for rows.Next() {
		var user domain.UserAccount
		if err := rows.Scan(&user.Username, &user.Password, &user.Role, &user.Active, &user.CreatedAt); err != nil {
			return nil, err
		}
		user.CreatedAt = user.CreatedAt.UTC()
		users = append(users, user)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return users, nil
}

func (s *Store) UpdateUserPassword(ctx context.Context, username string, password string) error {
	username = strings.ToLower(strings.TrimSpace(username))
	if username == "" || strings.TrimSpace(password) == "" {
		return store.ErrInvalid
	}

	res, err := s.db.ExecContext(ctx, `
		UPDATE app_users
		SET password = $2, updated_at = now()
		WHERE username = $1
	`, username, password)
	if err != nil {
		return err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return store.ErrNotFound
	}
	return nil
}

func normalizePage(page int, size int) (int, int) {
	if page < 1 {
		page = 1
	}
	if size < 1 {
		size = 20
	}
	if size > 200 {
		size = 200
	}
	return page, size
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == "23505"
	}
	return false
}

func nullIfEmpty(val string) any {
	if val == "" {
		return nil
	}
	return val
}

func nullTimeZero(val time.Time) any {
	if val.IsZero() {
		return nil
	}
	return val
}
