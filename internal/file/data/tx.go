package data

import (
	"context"

	"gorm.io/gorm"

	"github.com/lk2023060901/filedepot/internal/file/biz"
	"github.com/lk2023060901/filedepot/internal/pkg/database"
)

// TxRunner implements biz.TxRunner on the retrying transaction manager. The
// transaction is injected into the context, so every repository call made
// inside fn joins it through GetDBFromContext.
type TxRunner struct {
	manager *database.TransactionManager
}

func NewTxRunner(db *database.DB) biz.TxRunner {
	return &TxRunner{manager: database.NewTransactionManager(db)}
}

func (r *TxRunner) Execute(ctx context.Context, fn func(ctx context.Context) error) error {
	return r.manager.Execute(ctx, func(ctx context.Context, _ *gorm.DB) error {
		return fn(ctx)
	})
}
