package domain

import (
	"context"
	"time"

	"github.com/bwmarrin/snowflake"
	"gorm.io/gorm"
)

type Repository interface {
	InsertDocument(ctx context.Context, db *gorm.DB, doc *BillingDocument) error
	FindDocumentByID(ctx context.Context, db *gorm.DB, id snowflake.ID) (*BillingDocument, error)
	FindDocumentByIDForUpdate(ctx context.Context, db *gorm.DB, id snowflake.ID) (*BillingDocument, error)
	UpdateDocumentState(ctx context.Context, db *gorm.DB, doc *BillingDocument) error
	InsertEntries(ctx context.Context, db *gorm.DB, entries []*DocumentEntry) error
	FindEntries(ctx context.Context, db *gorm.DB, ref DocumentRef) ([]*DocumentEntry, error)
	// FindBilledPlanEntry returns a plan entry of the subscription bucket
	// starting on start that sits on a document which is not canceled.
	FindBilledPlanEntry(ctx context.Context, db *gorm.DB, subscriptionID snowflake.ID, start time.Time) (*DocumentEntry, error)
}
