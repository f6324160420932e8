package store

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/glebarez/sqlite"
	"go.uber.org/zap"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	"gorm.io/gorm/logger"

	"scrap-pickup-api/models"
)

// counterFloor is the lowest value a freshly seeded counter starts from.
const counterFloor = 1000

// documentRow is one document of any collection. The phone, dealer and token
// columns mirror fields of Body so filters run in the database.
type documentRow struct {
	Key        uint   `gorm:"primaryKey;column:row_key"`
	Collection string `gorm:"size:32;not null;index:idx_documents_collection_doc"`
	DocID      int64  `gorm:"not null;index:idx_documents_collection_doc"`
	Phone      string `gorm:"size:32;index"`
	DealerID   int64  `gorm:"index"`
	Token      string `gorm:"size:64;index"`
	Body       string `gorm:"type:text;not null"`
	UpdatedAt  time.Time
}

func (documentRow) TableName() string { return "documents" }

// counterRow holds the last id handed out for a collection.
type counterRow struct {
	Collection string `gorm:"primaryKey;size:32"`
	Value      int64  `gorm:"not null"`
}

func (counterRow) TableName() string { return "counters" }

var filterColumns = map[string]string{
	FieldPhone:    "phone",
	FieldDealerID: "dealer_id",
	FieldToken:    "token",
}

// RemoteBackend is a document store on top of a SQL database reached with gorm.
type RemoteBackend struct {
	db      *gorm.DB
	timeout time.Duration
	log     *zap.Logger
}

// OpenRemote connects with the named driver ("postgres" or "sqlite").
func OpenRemote(driver, dsn string, timeout time.Duration, log *zap.Logger) (*RemoteBackend, error) {
	var dialector gorm.Dialector
	switch driver {
	case "postgres", "":
		dialector = postgres.New(postgres.Config{
			DSN:                  dsn,
			PreferSimpleProtocol: true,
		})
	case "sqlite":
		dialector = sqlite.Open(dsn)
	default:
		return nil, fmt.Errorf("%w: unknown remote driver %q", models.ErrInvalidInput, driver)
	}

	db, err := gorm.Open(dialector, &gorm.Config{
		Logger: logger.Default.LogMode(logger.Warn),
	})
	if err != nil {
		return nil, fmt.Errorf("connect remote store: %w", err)
	}
	return NewRemoteBackend(db, timeout, log)
}

// NewRemoteBackend wraps an open gorm handle and migrates the two tables.
func NewRemoteBackend(db *gorm.DB, timeout time.Duration, log *zap.Logger) (*RemoteBackend, error) {
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	if log == nil {
		log = zap.NewNop()
	}
	b := &RemoteBackend{db: db, timeout: timeout, log: log}

	ctx, cancel := b.bound(context.Background())
	defer cancel()
	if err := db.WithContext(ctx).AutoMigrate(&documentRow{}, &counterRow{}); err != nil {
		return nil, b.wrap(fmt.Errorf("migrate remote store: %w", err))
	}
	return b, nil
}

func (b *RemoteBackend) Name() string { return "remote" }

func (b *RemoteBackend) bound(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(ctx, b.timeout)
}

// wrap turns deadline errors into ErrTimeout so callers can retry.
func (b *RemoteBackend) wrap(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return fmt.Errorf("%w: %v", models.ErrTimeout, err)
	}
	return err
}

func (b *RemoteBackend) Probe(ctx context.Context) error {
	ctx, cancel := b.bound(ctx)
	defer cancel()
	var rows []documentRow
	if err := b.db.WithContext(ctx).Limit(1).Find(&rows).Error; err != nil {
		return b.wrap(fmt.Errorf("probe remote store: %w", err))
	}
	return nil
}

func (b *RemoteBackend) Close() error {
	sqlDB, err := b.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

func (b *RemoteBackend) List(ctx context.Context, c Collection, f *Filter) ([]Document, error) {
	if err := f.validate(); err != nil {
		return nil, err
	}
	ctx, cancel := b.bound(ctx)
	defer cancel()

	query := b.db.WithContext(ctx).Where("collection = ?", string(c))
	if f != nil {
		if f.Field == FieldDealerID {
			id, err := strconv.ParseInt(f.Value, 10, 64)
			if err != nil {
				return nil, nil
			}
			query = query.Where("dealer_id = ?", id)
		} else {
			query = query.Where(filterColumns[f.Field]+" = ?", f.Value)
		}
	}

	var rows []documentRow
	if err := query.Order("doc_id asc").Order("row_key asc").Find(&rows).Error; err != nil {
		return nil, b.wrap(fmt.Errorf("list %s: %w", c, err))
	}
	out := make([]Document, 0, len(rows))
	for _, row := range rows {
		out = append(out, Document{ID: row.DocID, Data: []byte(row.Body)})
	}
	return out, nil
}

func (b *RemoteBackend) Get(ctx context.Context, c Collection, id int64) (Document, error) {
	ctx, cancel := b.bound(ctx)
	defer cancel()

	var row documentRow
	err := b.db.WithContext(ctx).
		Where("collection = ? AND doc_id = ?", string(c), id).
		Take(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return Document{}, fmt.Errorf("%s %d: %w", c, id, models.ErrNotFound)
	}
	if err != nil {
		return Document{}, b.wrap(fmt.Errorf("get %s %d: %w", c, id, err))
	}
	return Document{ID: row.DocID, Data: []byte(row.Body)}, nil
}

func rowFor(c Collection, doc Document) (documentRow, error) {
	data, err := withID(doc.Data, doc.ID)
	if err != nil {
		return documentRow{}, err
	}
	ix, err := indexOf(data)
	if err != nil {
		return documentRow{}, err
	}
	row := documentRow{
		Collection: string(c),
		DocID:      doc.ID,
		Phone:      string(ix.Phone),
		Token:      ix.Token,
		Body:       string(data),
	}
	if ix.DealerID != nil {
		row.DealerID = int64(*ix.DealerID)
	}
	return row, nil
}

func (b *RemoteBackend) Put(ctx context.Context, c Collection, doc Document) error {
	if doc.ID <= 0 {
		return fmt.Errorf("%w: %s document without id", models.ErrInvalidInput, c)
	}
	row, err := rowFor(c, doc)
	if err != nil {
		return err
	}
	ctx, cancel := b.bound(ctx)
	defer cancel()

	err = b.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var existing documentRow
		err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
			Where("collection = ? AND doc_id = ?", row.Collection, row.DocID).
			Take(&existing).Error
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return tx.Create(&row).Error
		}
		if err != nil {
			return err
		}
		return tx.Model(&documentRow{}).Where("row_key = ?", existing.Key).Updates(map[string]any{
			"phone":      row.Phone,
			"dealer_id":  row.DealerID,
			"token":      row.Token,
			"body":       row.Body,
			"updated_at": time.Now(),
		}).Error
	})
	if err != nil {
		return b.wrap(fmt.Errorf("put %s %d: %w", c, doc.ID, err))
	}
	return nil
}

func (b *RemoteBackend) Delete(ctx context.Context, c Collection, id int64) error {
	ctx, cancel := b.bound(ctx)
	defer cancel()

	result := b.db.WithContext(ctx).
		Where("collection = ? AND doc_id = ?", string(c), id).
		Delete(&documentRow{})
	if result.Error != nil {
		return b.wrap(fmt.Errorf("delete %s %d: %w", c, id, result.Error))
	}
	if result.RowsAffected == 0 {
		return fmt.Errorf("%s %d: %w", c, id, models.ErrNotFound)
	}
	return nil
}

// NextID increments the collection counter inside one transaction. A missing
// counter is seeded to max(1000, highest stored id) first.
func (b *RemoteBackend) NextID(ctx context.Context, c Collection) (int64, error) {
	ctx, cancel := b.bound(ctx)
	defer cancel()

	var next int64
	err := b.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var err error
		next, err = b.increment(tx, c)
		return err
	})
	if err != nil {
		return 0, b.wrap(fmt.Errorf("next id for %s: %w", c, err))
	}
	return next, nil
}

func (b *RemoteBackend) increment(tx *gorm.DB, c Collection) (int64, error) {
	var counter counterRow
	err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
		Where("collection = ?", string(c)).
		Take(&counter).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		var highest int64
		if err := tx.Model(&documentRow{}).
			Where("collection = ?", string(c)).
			Select("COALESCE(MAX(doc_id), 0)").
			Scan(&highest).Error; err != nil {
			return 0, err
		}
		seed := counterRow{Collection: string(c), Value: max(counterFloor, highest)}
		// a concurrent caller may seed first; its row wins and we lock it below
		if err := tx.Clauses(clause.OnConflict{DoNothing: true}).Create(&seed).Error; err != nil {
			return 0, err
		}
		err = tx.Clauses(clause.Locking{Strength: "UPDATE"}).
			Where("collection = ?", string(c)).
			Take(&counter).Error
	}
	if err != nil {
		return 0, err
	}

	next := counter.Value + 1
	if err := tx.Model(&counterRow{}).
		Where("collection = ?", string(c)).
		Update("value", next).Error; err != nil {
		return 0, err
	}
	return next, nil
}

func (b *RemoteBackend) AssignMissingIDs(ctx context.Context, c Collection) (int, error) {
	ctx, cancel := b.bound(ctx)
	defer cancel()

	var rows []documentRow
	if err := b.db.WithContext(ctx).
		Where("collection = ?", string(c)).
		Where("doc_id <= 0 OR row_key > (SELECT MIN(d.row_key) FROM documents d WHERE d.collection = documents.collection AND d.doc_id = documents.doc_id)").
		Order("row_key asc").
		Find(&rows).Error; err != nil {
		return 0, b.wrap(fmt.Errorf("find %s without a usable id: %w", c, err))
	}

	assigned := 0
	for _, row := range rows {
		err := b.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
			id, err := b.increment(tx, c)
			if err != nil {
				return err
			}
			body, err := withID([]byte(row.Body), id)
			if err != nil {
				return err
			}
			return tx.Model(&documentRow{}).Where("row_key = ?", row.Key).Updates(map[string]any{
				"doc_id":     id,
				"body":       string(body),
				"updated_at": time.Now(),
			}).Error
		})
		if err != nil {
			return assigned, b.wrap(fmt.Errorf("assign id in %s: %w", c, err))
		}
		assigned++
	}
	return assigned, nil
}
