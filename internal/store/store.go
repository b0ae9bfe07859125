package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"strings"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgconn"
	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/shopspring/decimal"

	"github.com/iurnickita/laundry/internal/model"
	"github.com/iurnickita/laundry/internal/store/config"
)

type Store interface {
	Ping(ctx context.Context) error
	Close() error

	OrderCreate(ctx context.Context, order model.Order) error
	// OrderFind resolves a single order. An empty Kind tries model.LookupOrder in turn.
	OrderFind(ctx context.Context, id model.OrderIdentifier) (model.Order, error)
	// OrderSearch returns every order whose id, number or gateway ids equal value.
	OrderSearch(ctx context.Context, value string) ([]model.Order, error)
	OrderListByCustomer(ctx context.Context, customer string) ([]model.Order, error)
	OrderCountByNumberPrefix(ctx context.Context, prefix string) (int, error)
	// OrderUpdateIf writes upd only while the stored state still equals expected.
	// ErrStateChanged is returned otherwise.
	OrderUpdateIf(ctx context.Context, id string, expected model.OrderState, upd model.OrderUpdate) (model.Order, error)

	TrackingInsert(ctx context.Context, tracking model.OrderTracking) error
	TrackingList(ctx context.Context, orderID string) ([]model.OrderTracking, error)

	ServiceTypeGet(ctx context.Context, code string) (model.ServiceType, error)
	ItemTypeGet(ctx context.Context, code string) (model.ItemType, error)
}

var (
	ErrNoRows        = errors.New("no rows")
	ErrAlreadyExists = errors.New("already exists")
	ErrStateChanged  = errors.New("order state changed concurrently")
)

// NewStore opens PostgreSQL when a DSN is configured and falls back to memory otherwise.
func NewStore(cfg config.Config) (Store, error) {
	if strings.TrimSpace(cfg.DBDsn) == "" {
		mem := NewMemoryStore()
		mem.loadCatalogue()
		return mem, nil
	}
	return NewPostgresStore(cfg)
}

type store struct {
	database *sql.DB
}

func NewPostgresStore(cfg config.Config) (Store, error) {
	db, err := sql.Open("pgx", cfg.DBDsn)
	if err != nil {
		return nil, err
	}

	// Таблица заказов.
	// Создается одна строка на заказ, после чего меняется ее статус
	_, err = db.Exec(
		"CREATE TABLE IF NOT EXISTS orders (" +
			" id UUID PRIMARY KEY," +
			" order_number VARCHAR (32) UNIQUE NOT NULL," +
			" gateway_order_id VARCHAR (64)," +
			" gateway_transaction_id VARCHAR (64)," +
			" status VARCHAR (32) NOT NULL," +
			" payment_status VARCHAR (16) NOT NULL," +
			" customer_id VARCHAR (64) NOT NULL," +
			" customer_name TEXT NOT NULL DEFAULT ''," +
			" customer_phone VARCHAR (32) NOT NULL DEFAULT ''," +
			" customer_email TEXT NOT NULL DEFAULT ''," +
			" customer_address TEXT NOT NULL DEFAULT ''," +
			" service_type VARCHAR (32) NOT NULL," +
			" weight_kg NUMERIC (10, 2)," +
			" items JSONB NOT NULL DEFAULT '[]'," +
			" total_amount NUMERIC (12, 2) NOT NULL," +
			" pickup_date VARCHAR (16) NOT NULL DEFAULT ''," +
			" pickup_time VARCHAR (16) NOT NULL DEFAULT ''," +
			" delivery_date VARCHAR (16) NOT NULL DEFAULT ''," +
			" notes TEXT NOT NULL DEFAULT ''," +
			" payment_type VARCHAR (32) NOT NULL DEFAULT ''," +
			" feedback_rating INTEGER," +
			" feedback_comment TEXT," +
			" created_at TIMESTAMPTZ NOT NULL," +
			" updated_at TIMESTAMPTZ NOT NULL" +
			" );" +
			" CREATE INDEX IF NOT EXISTS orders_gateway_order_id_idx ON orders (gateway_order_id);" +
			" CREATE INDEX IF NOT EXISTS orders_gateway_transaction_id_idx ON orders (gateway_transaction_id);" +
			" CREATE INDEX IF NOT EXISTS orders_customer_id_idx ON orders (customer_id);")
	if err != nil {
		return nil, err
	}

	// История статусов. Журнал: строки не редактируются и не удаляются
	_, err = db.Exec(
		"CREATE TABLE IF NOT EXISTS order_tracking (" +
			" id VARCHAR (26) PRIMARY KEY," +
			" order_id UUID NOT NULL REFERENCES orders (id)," +
			" status VARCHAR (32) NOT NULL," +
			" note TEXT NOT NULL DEFAULT ''," +
			" created_at TIMESTAMPTZ NOT NULL" +
			" );" +
			" CREATE INDEX IF NOT EXISTS order_tracking_order_id_idx ON order_tracking (order_id);")
	if err != nil {
		return nil, err
	}

	// Справочники услуг и вещей
	_, err = db.Exec(
		"CREATE TABLE IF NOT EXISTS service_types (" +
			" code VARCHAR (32) PRIMARY KEY," +
			" name TEXT NOT NULL," +
			" price_per_kg NUMERIC (12, 2) NOT NULL DEFAULT 0," +
			" by_item BOOLEAN NOT NULL DEFAULT FALSE," +
			" description TEXT NOT NULL DEFAULT ''" +
			" );" +
			" CREATE TABLE IF NOT EXISTS item_types (" +
			" code VARCHAR (32) PRIMARY KEY," +
			" name TEXT NOT NULL," +
			" price NUMERIC (12, 2) NOT NULL" +
			" );")
	if err != nil {
		return nil, err
	}

	return &store{
		database: db,
	}, nil
}

func (store *store) Ping(ctx context.Context) error {
	return store.database.PingContext(ctx)
}

func (store *store) Close() error {
	return store.database.Close()
}

const orderColumns = "id, order_number, gateway_order_id, gateway_transaction_id, status, payment_status," +
	" customer_id, customer_name, customer_phone, customer_email, customer_address," +
	" service_type, weight_kg, items, total_amount, pickup_date, pickup_time, delivery_date," +
	" notes, payment_type, feedback_rating, feedback_comment, created_at, updated_at"

type storedItem struct {
	ItemType  string          `json:"item_type"`
	Quantity  int             `json:"quantity"`
	UnitPrice decimal.Decimal `json:"unit_price"`
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanOrder(row rowScanner) (model.Order, error) {
	var (
		order         model.Order
		gatewayOrder  sql.NullString
		gatewayTx     sql.NullString
		items         []byte
		feedbackRate  sql.NullInt32
		feedbackText  sql.NullString
		status        string
		paymentStatus string
	)
	err := row.Scan(&order.ID,
		&order.Number,
		&gatewayOrder,
		&gatewayTx,
		&status,
		&paymentStatus,
		&order.Customer.ID,
		&order.Customer.Name,
		&order.Customer.Phone,
		&order.Customer.Email,
		&order.Customer.Address,
		&order.Service.ServiceType,
		&order.Service.WeightKg,
		&items,
		&order.TotalAmount,
		&order.Schedule.PickupDate,
		&order.Schedule.PickupTime,
		&order.Schedule.DeliveryDate,
		&order.Notes,
		&order.PaymentType,
		&feedbackRate,
		&feedbackText,
		&order.CreatedAt,
		&order.UpdatedAt)
	if err != nil {
		return model.Order{}, err
	}
	order.GatewayOrderID = gatewayOrder.String
	order.GatewayTransactionID = gatewayTx.String
	order.State = model.OrderState{Status: model.OrderStatus(status), PaymentStatus: model.PaymentStatus(paymentStatus)}
	order.Feedback = model.Feedback{Rating: int(feedbackRate.Int32), Comment: feedbackText.String}

	var stored []storedItem
	if len(items) > 0 {
		if err := json.Unmarshal(items, &stored); err != nil {
			return model.Order{}, err
		}
	}
	for _, item := range stored {
		order.Service.Items = append(order.Service.Items, model.OrderItem(item))
	}
	return order, nil
}

func nullString(v string) sql.NullString {
	return sql.NullString{String: v, Valid: v != ""}
}

func (store *store) OrderCreate(ctx context.Context, order model.Order) error {
	stored := make([]storedItem, 0, len(order.Service.Items))
	for _, item := range order.Service.Items {
		stored = append(stored, storedItem(item))
	}
	items, err := json.Marshal(stored)
	if err != nil {
		return err
	}

	//Запись нового заказа
	_, err = store.database.ExecContext(ctx,
		"INSERT INTO orders ("+orderColumns+")"+
			" VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12,"+
			" $13, $14, $15, $16, $17, $18, $19, $20, $21, $22, $23, $24)",
		order.ID,
		order.Number,
		nullString(order.GatewayOrderID),
		nullString(order.GatewayTransactionID),
		string(order.State.Status),
		string(order.State.PaymentStatus),
		order.Customer.ID,
		order.Customer.Name,
		order.Customer.Phone,
		order.Customer.Email,
		order.Customer.Address,
		order.Service.ServiceType,
		order.Service.WeightKg,
		string(items),
		order.TotalAmount,
		order.Schedule.PickupDate,
		order.Schedule.PickupTime,
		order.Schedule.DeliveryDate,
		order.Notes,
		order.PaymentType,
		sql.NullInt32{Int32: int32(order.Feedback.Rating), Valid: order.Feedback.Rating != 0},
		nullString(order.Feedback.Comment),
		order.CreatedAt,
		order.UpdatedAt)
	if err != nil {
		// Проверка: уже существует
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) {
			if pgErr.Code == "23505" {
				return ErrAlreadyExists
			}
		}
		return err
	}
	return nil
}

var identifierColumns = map[model.IdentifierKind]string{
	model.ByID:                   "id",
	model.ByNumber:               "order_number",
	model.ByGatewayOrderID:       "gateway_order_id",
	model.ByGatewayTransactionID: "gateway_transaction_id",
}

func (store *store) OrderFind(ctx context.Context, id model.OrderIdentifier) (model.Order, error) {
	value := strings.TrimSpace(id.Value)
	if value == "" {
		return model.Order{}, ErrNoRows
	}
	if id.Kind == "" {
		for _, kind := range model.LookupOrder {
			order, err := store.OrderFind(ctx, model.OrderIdentifier{Kind: kind, Value: value})
			if err == nil || err != ErrNoRows {
				return order, err
			}
		}
		return model.Order{}, ErrNoRows
	}

	column, ok := identifierColumns[id.Kind]
	if !ok {
		return model.Order{}, ErrNoRows
	}
	if id.Kind == model.ByID {
		if _, err := uuid.Parse(value); err != nil {
			return model.Order{}, ErrNoRows
		}
	}

	// Повторные попытки оплаты могут давать несколько строк с одним id шлюза, берется последняя
	row := store.database.QueryRowContext(ctx,
		"SELECT "+orderColumns+
			" FROM orders"+
			" WHERE "+column+" = $1"+
			" ORDER BY created_at DESC"+
			" LIMIT 1",
		value)
	order, err := scanOrder(row)
	if err != nil {
		if err == sql.ErrNoRows {
			return model.Order{}, ErrNoRows
		}
		return model.Order{}, err
	}
	return order, nil
}

func (store *store) queryOrders(ctx context.Context, query string, args ...any) ([]model.Order, error) {
	rows, err := store.database.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var orders []model.Order
	for rows.Next() {
		order, err := scanOrder(rows)
		if err != nil {
			return nil, err
		}
		orders = append(orders, order)
	}
	return orders, rows.Err()
}

func (store *store) OrderSearch(ctx context.Context, value string) ([]model.Order, error) {
	value = strings.TrimSpace(value)
	if value == "" {
		return nil, nil
	}
	return store.queryOrders(ctx,
		"SELECT "+orderColumns+
			" FROM orders"+
			" WHERE id::text = $1"+
			"    OR order_number = $1"+
			"    OR gateway_order_id = $1"+
			"    OR gateway_transaction_id = $1"+
			" ORDER BY created_at",
		value)
}

func (store *store) OrderListByCustomer(ctx context.Context, customer string) ([]model.Order, error) {
	return store.queryOrders(ctx,
		"SELECT "+orderColumns+
			" FROM orders"+
			" WHERE customer_id = $1"+
			" ORDER BY created_at DESC",
		customer)
}

func (store *store) OrderCountByNumberPrefix(ctx context.Context, prefix string) (int, error) {
	var count int
	row := store.database.QueryRowContext(ctx,
		"SELECT COUNT(*) FROM orders WHERE order_number LIKE $1",
		prefix+"%")
	if err := row.Scan(&count); err != nil {
		return 0, err
	}
	return count, nil
}

func (store *store) OrderUpdateIf(ctx context.Context, id string, expected model.OrderState, upd model.OrderUpdate) (model.Order, error) {
	var (
		rating  sql.NullInt32
		comment sql.NullString
	)
	if upd.Feedback != nil {
		rating = sql.NullInt32{Int32: int32(upd.Feedback.Rating), Valid: true}
		comment = sql.NullString{String: upd.Feedback.Comment, Valid: true}
	}

	// Условное обновление: одна строка, атомарно
	row := store.database.QueryRowContext(ctx,
		"UPDATE orders"+
			" SET status = $1,"+
			"     payment_status = $2,"+
			"     gateway_order_id = COALESCE(NULLIF($3, ''), gateway_order_id),"+
			"     gateway_transaction_id = COALESCE(NULLIF($4, ''), gateway_transaction_id),"+
			"     payment_type = COALESCE(NULLIF($5, ''), payment_type),"+
			"     notes = notes || $6,"+
			"     feedback_rating = COALESCE($7, feedback_rating),"+
			"     feedback_comment = COALESCE($8, feedback_comment),"+
			"     updated_at = $9"+
			" WHERE id = $10"+
			"   AND status = $11"+
			"   AND payment_status = $12"+
			" RETURNING "+orderColumns,
		string(upd.State.Status),
		string(upd.State.PaymentStatus),
		upd.GatewayOrderID,
		upd.GatewayTransactionID,
		upd.PaymentType,
		upd.NotesAppend,
		rating,
		comment,
		upd.UpdatedAt,
		id,
		string(expected.Status),
		string(expected.PaymentStatus))
	order, err := scanOrder(row)
	if err != nil {
		if err == sql.ErrNoRows {
			return model.Order{}, ErrStateChanged
		}
		return model.Order{}, err
	}
	return order, nil
}

func (store *store) TrackingInsert(ctx context.Context, tracking model.OrderTracking) error {
	_, err := store.database.ExecContext(ctx,
		"INSERT INTO order_tracking (id, order_id, status, note, created_at)"+
			" VALUES ($1, $2, $3, $4, $5)",
		tracking.Key.ID,
		tracking.Key.OrderID,
		string(tracking.Data.Status),
		tracking.Data.Note,
		tracking.Data.CreatedAt)
	return err
}

func (store *store) TrackingList(ctx context.Context, orderID string) ([]model.OrderTracking, error) {
	rows, err := store.database.QueryContext(ctx,
		"SELECT id, order_id, status, note, created_at"+
			" FROM order_tracking"+
			" WHERE order_id = $1"+
			" ORDER BY created_at, id",
		orderID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var history []model.OrderTracking
	for rows.Next() {
		var (
			trackingRow model.OrderTracking
			status      string
		)
		err := rows.Scan(&trackingRow.Key.ID,
			&trackingRow.Key.OrderID,
			&status,
			&trackingRow.Data.Note,
			&trackingRow.Data.CreatedAt)
		if err != nil {
			return nil, err
		}
		trackingRow.Data.Status = model.OrderStatus(status)
		history = append(history, trackingRow)
	}
	return history, rows.Err()
}

func (store *store) ServiceTypeGet(ctx context.Context, code string) (model.ServiceType, error) {
	var st model.ServiceType
	row := store.database.QueryRowContext(ctx,
		"SELECT code, name, price_per_kg, by_item, description"+
			" FROM service_types"+
			" WHERE code = $1",
		code)
	err := row.Scan(&st.Code, &st.Name, &st.PricePerKg, &st.ByItem, &st.Description)
	if err != nil {
		if err == sql.ErrNoRows {
			return model.ServiceType{}, ErrNoRows
		}
		return model.ServiceType{}, err
	}
	return st, nil
}

func (store *store) ItemTypeGet(ctx context.Context, code string) (model.ItemType, error) {
	var it model.ItemType
	row := store.database.QueryRowContext(ctx,
		"SELECT code, name, price FROM item_types WHERE code = $1",
		code)
	err := row.Scan(&it.Code, &it.Name, &it.Price)
	if err != nil {
		if err == sql.ErrNoRows {
			return model.ItemType{}, ErrNoRows
		}
		return model.ItemType{}, err
	}
	return it, nil
}
