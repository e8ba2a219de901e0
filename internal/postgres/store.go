package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/ariefcatur/go-marketplace/internal/marketplace"
)

// querier is satisfied by both *pgxpool.Pool and pgx.Tx.
type querier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// Store implements the marketplace repositories on PostgreSQL. Money travels
// as text so NUMERIC values never pass through float64.
type Store struct{ DB *pgxpool.Pool }

const orderCols = `id, seller_id, buyer_id, status, total::text, fulfilled, created_at, updated_at`

func scanOrder(row pgx.Row) (marketplace.Order, error) {
	var (
		o      marketplace.Order
		status string
		total  string
	)
	if err := row.Scan(&o.ID, &o.SellerID, &o.BuyerID, &status, &total, &o.Fulfilled, &o.CreatedAt, &o.UpdatedAt); err != nil {
		return marketplace.Order{}, err
	}
	o.Status = marketplace.Status(status)
	d, err := decimal.NewFromString(total)
	if err != nil {
		return marketplace.Order{}, fmt.Errorf("order %s total: %w", o.ID, err)
	}
	o.Total = d
	return o, nil
}

func (s *Store) UpsertSeller(ctx context.Context, sl marketplace.Seller) error {
	_, err := s.DB.Exec(ctx, `
		INSERT INTO sellers(id, name, payment_credential) VALUES ($1,$2,$3)
		ON CONFLICT (id) DO UPDATE SET name=EXCLUDED.name, payment_credential=EXCLUDED.payment_credential`,
		sl.ID, sl.Name, sl.PaymentCredential)
	return err
}

func (s *Store) UpsertProduct(ctx context.Context, p marketplace.Product) error {
	_, err := s.DB.Exec(ctx, `
		INSERT INTO products(id, seller_id, title, price, stock) VALUES ($1,$2,$3,$4::numeric,$5)
		ON CONFLICT (id) DO UPDATE SET seller_id=EXCLUDED.seller_id, title=EXCLUDED.title,
			price=EXCLUDED.price, stock=EXCLUDED.stock, updated_at=now()`,
		p.ID, p.SellerID, p.Title, p.Price.String(), p.Stock)
	return err
}

func (s *Store) GetSeller(ctx context.Context, id string) (marketplace.Seller, error) {
	var sl marketplace.Seller
	err := s.DB.QueryRow(ctx, `SELECT id, name, payment_credential FROM sellers WHERE id=$1`, id).
		Scan(&sl.ID, &sl.Name, &sl.PaymentCredential)
	if errors.Is(err, pgx.ErrNoRows) {
		return marketplace.Seller{}, marketplace.ErrNotFound
	}
	return sl, err
}

func (s *Store) GetProduct(ctx context.Context, id string) (marketplace.Product, error) {
	var (
		p     marketplace.Product
		price string
	)
	err := s.DB.QueryRow(ctx, `SELECT id, seller_id, title, price::text, stock FROM products WHERE id=$1`, id).
		Scan(&p.ID, &p.SellerID, &p.Title, &price, &p.Stock)
	if errors.Is(err, pgx.ErrNoRows) {
		return marketplace.Product{}, marketplace.ErrProductNotFound
	}
	if err != nil {
		return marketplace.Product{}, err
	}
	if p.Price, err = decimal.NewFromString(price); err != nil {
		return marketplace.Product{}, fmt.Errorf("product %s price: %w", id, err)
	}
	return p, nil
}

func (s *Store) LoadCart(ctx context.Context, buyerID string) (*marketplace.Cart, error) {
	c := &marketplace.Cart{BuyerID: buyerID}
	err := s.DB.QueryRow(ctx, `SELECT id FROM carts WHERE buyer_id=$1`, buyerID).Scan(&c.ID)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, marketplace.ErrNotFound
	}
	if err != nil {
		return nil, err
	}

	rows, err := s.DB.Query(ctx, `
		SELECT p.id, p.seller_id, p.title, p.price::text, p.stock, l.quantity
		FROM cart_lines l JOIN products p ON p.id = l.product_id
		WHERE l.cart_id=$1 ORDER BY l.position`, c.ID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	for rows.Next() {
		var (
			l     marketplace.CartLine
			price string
		)
		if err := rows.Scan(&l.Product.ID, &l.Product.SellerID, &l.Product.Title, &price, &l.Product.Stock, &l.Quantity); err != nil {
			return nil, err
		}
		if l.Product.Price, err = decimal.NewFromString(price); err != nil {
			return nil, fmt.Errorf("product %s price: %w", l.Product.ID, err)
		}
		c.Lines = append(c.Lines, l)
	}
	return c, rows.Err()
}

func (s *Store) SaveCart(ctx context.Context, c *marketplace.Cart) error {
	tx, err := s.DB.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	id := c.ID
	if id == "" {
		id = uuid.NewString()
	}
	// A concurrent first save for the same buyer keeps the existing id.
	if err := tx.QueryRow(ctx, `
		INSERT INTO carts(id, buyer_id) VALUES ($1,$2)
		ON CONFLICT (buyer_id) DO UPDATE SET buyer_id=EXCLUDED.buyer_id
		RETURNING id`, id, c.BuyerID).Scan(&id); err != nil {
		return err
	}
	if _, err := tx.Exec(ctx, `DELETE FROM cart_lines WHERE cart_id=$1`, id); err != nil {
		return err
	}
	for i, l := range c.Lines {
		if _, err := tx.Exec(ctx, `
			INSERT INTO cart_lines(cart_id, product_id, quantity, position) VALUES ($1,$2,$3,$4)`,
			id, l.Product.ID, l.Quantity, i); err != nil {
			return err
		}
	}
	if err := tx.Commit(ctx); err != nil {
		return err
	}
	c.ID = id
	return nil
}

func (s *Store) RemoveProducts(ctx context.Context, buyerID string, productIDs []string) (int, error) {
	return removeCartProducts(ctx, s.DB, buyerID, productIDs)
}

func removeCartProducts(ctx context.Context, q querier, buyerID string, productIDs []string) (int, error) {
	if len(productIDs) == 0 {
		return 0, nil
	}
	ct, err := q.Exec(ctx, `
		DELETE FROM cart_lines l USING carts c
		WHERE l.cart_id = c.id AND c.buyer_id = $1 AND l.product_id = ANY($2)`,
		buyerID, productIDs)
	if err != nil {
		return 0, err
	}
	return int(ct.RowsAffected()), nil
}

func (s *Store) CreateOrder(ctx context.Context, o marketplace.Order, lines []marketplace.OrderLine) error {
	tx, err := s.DB.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	if _, err := tx.Exec(ctx, `
		INSERT INTO orders(id, seller_id, buyer_id, status, total, fulfilled, created_at, updated_at)
		VALUES ($1,$2,$3,$4,$5::numeric,$6,$7,$8)`,
		o.ID, o.SellerID, o.BuyerID, string(o.Status), o.Total.String(), o.Fulfilled, o.CreatedAt, o.UpdatedAt); err != nil {
		return err
	}
	for _, l := range lines {
		if _, err := tx.Exec(ctx, `
			INSERT INTO order_lines(order_id, product_id, quantity, unit_price)
			VALUES ($1,$2,$3,$4::numeric)`,
			o.ID, l.ProductID, l.Quantity, l.UnitPrice.String()); err != nil {
			return err
		}
	}
	return tx.Commit(ctx)
}

func (s *Store) GetOrder(ctx context.Context, id string) (marketplace.Order, error) {
	o, err := scanOrder(s.DB.QueryRow(ctx, `SELECT `+orderCols+` FROM orders WHERE id=$1`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return marketplace.Order{}, marketplace.ErrOrderNotFound
	}
	return o, err
}

func (s *Store) LinesFor(ctx context.Context, orderID string) ([]marketplace.OrderLine, error) {
	return linesFor(ctx, s.DB, orderID)
}

func linesFor(ctx context.Context, q querier, orderID string) ([]marketplace.OrderLine, error) {
	rows, err := q.Query(ctx, `
		SELECT product_id, quantity, unit_price::text FROM order_lines
		WHERE order_id=$1 ORDER BY product_id`, orderID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []marketplace.OrderLine
	for rows.Next() {
		l := marketplace.OrderLine{OrderID: orderID}
		var price string
		if err := rows.Scan(&l.ProductID, &l.Quantity, &price); err != nil {
			return nil, err
		}
		if l.UnitPrice, err = decimal.NewFromString(price); err != nil {
			return nil, fmt.Errorf("order line %s/%s price: %w", orderID, l.ProductID, err)
		}
		out = append(out, l)
	}
	return out, rows.Err()
}

func (s *Store) ListPending(ctx context.Context, createdBefore time.Time) ([]marketplace.Order, error) {
	rows, err := s.DB.Query(ctx, `
		SELECT `+orderCols+` FROM orders
		WHERE status=$1 AND created_at < $2 ORDER BY created_at`,
		string(marketplace.StatusPending), createdBefore)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []marketplace.Order
	for rows.Next() {
		o, err := scanOrder(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, o)
	}
	return out, rows.Err()
}

// WithOrderLock holds the order row with SELECT ... FOR UPDATE for the life
// of the transaction, so concurrent notifications for the same order run one
// after another.
func (s *Store) WithOrderLock(ctx context.Context, orderID string, fn func(context.Context, marketplace.Order, marketplace.OrderTx) error) error {
	tx, err := s.DB.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	o, err := scanOrder(tx.QueryRow(ctx, `SELECT `+orderCols+` FROM orders WHERE id=$1 FOR UPDATE`, orderID))
	if errors.Is(err, pgx.ErrNoRows) {
		return marketplace.ErrOrderNotFound
	}
	if err != nil {
		return err
	}
	if err := fn(ctx, o, &orderTx{q: tx}); err != nil {
		return err
	}
	return tx.Commit(ctx)
}

type orderTx struct{ q pgx.Tx }

func (t *orderTx) LinesFor(ctx context.Context, orderID string) ([]marketplace.OrderLine, error) {
	return linesFor(ctx, t.q, orderID)
}

func (t *orderTx) SetStatus(ctx context.Context, orderID string, st marketplace.Status) error {
	ct, err := t.q.Exec(ctx, `UPDATE orders SET status=$2, updated_at=now() WHERE id=$1`, orderID, string(st))
	if err != nil {
		return err
	}
	if ct.RowsAffected() != 1 {
		return marketplace.ErrOrderNotFound
	}
	return nil
}

func (t *orderTx) MarkFulfilled(ctx context.Context, orderID string) error {
	ct, err := t.q.Exec(ctx, `UPDATE orders SET fulfilled=true, updated_at=now() WHERE id=$1`, orderID)
	if err != nil {
		return err
	}
	if ct.RowsAffected() != 1 {
		return marketplace.ErrOrderNotFound
	}
	return nil
}

// DecrementStock locks the product row before reading it, so two orders
// competing for the last units cannot both succeed.
func (t *orderTx) DecrementStock(ctx context.Context, productID string, qty int) (int, bool, error) {
	var stock int
	err := t.q.QueryRow(ctx, `SELECT stock FROM products WHERE id=$1 FOR UPDATE`, productID).Scan(&stock)
	if errors.Is(err, pgx.ErrNoRows) {
		return 0, false, marketplace.ErrProductNotFound
	}
	if err != nil {
		return 0, false, err
	}
	if stock < qty {
		return stock, false, nil
	}
	ct, err := t.q.Exec(ctx, `UPDATE products SET stock = stock - $2, updated_at=now() WHERE id=$1`, productID, qty)
	if err != nil {
		return stock, false, err
	}
	return stock, ct.RowsAffected() == 1, nil
}

func (t *orderTx) RemoveCartProducts(ctx context.Context, buyerID string, productIDs []string) (int, error) {
	return removeCartProducts(ctx, t.q, buyerID, productIDs)
}

// Shortfall is one recorded stock shortfall awaiting manual review.
type Shortfall struct {
	EventID   string
	OrderID   string
	ProductID string
	Required  int
	Available int
	Reason    string
}

// RecordShortfalls stores the details of one shortfall event. Redelivered
// events are ignored; the result counts only new rows.
func (s *Store) RecordShortfalls(ctx context.Context, eventID, orderID string, details []marketplace.StockShortfallDetail) (int, error) {
	tx, err := s.DB.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return 0, err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	inserted := 0
	for _, d := range details {
		ct, err := tx.Exec(ctx, `
			INSERT INTO stock_shortfalls(event_id, order_id, product_id, required, available, reason)
			VALUES ($1,$2,$3,$4,$5,$6)
			ON CONFLICT (event_id, product_id) DO NOTHING`,
			eventID, orderID, d.ProductID, d.Required, d.Available, d.Reason)
		if err != nil {
			return 0, err
		}
		inserted += int(ct.RowsAffected())
	}
	if err := tx.Commit(ctx); err != nil {
		return 0, err
	}
	return inserted, nil
}

// ListShortfalls returns the recorded shortfalls of an order.
func (s *Store) ListShortfalls(ctx context.Context, orderID string) ([]Shortfall, error) {
	rows, err := s.DB.Query(ctx, `
		SELECT event_id, order_id, product_id, required, available, reason
		FROM stock_shortfalls WHERE order_id=$1 ORDER BY recorded_at, product_id`, orderID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Shortfall
	for rows.Next() {
		var sf Shortfall
		if err := rows.Scan(&sf.EventID, &sf.OrderID, &sf.ProductID, &sf.Required, &sf.Available, &sf.Reason); err != nil {
			return nil, err
		}
		out = append(out, sf)
	}
	return out, rows.Err()
}

var (
	_ marketplace.SellerRepo  = (*Store)(nil)
	_ marketplace.ProductRepo = (*Store)(nil)
	_ marketplace.CartRepo    = (*Store)(nil)
	_ marketplace.OrderRepo   = (*Store)(nil)
	_ marketplace.OrderTx     = (*orderTx)(nil)
)
