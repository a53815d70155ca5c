package repository

import (
	"context"
	"time"

	"github.com/bwmarrin/snowflake"
	documentdomain "github.com/smallbiznis/meterbill/internal/document/domain"
	"github.com/smallbiznis/meterbill/pkg/db/option"
	"github.com/smallbiznis/meterbill/pkg/repository"
	"gorm.io/gorm"
)

type repo struct{}

func Provide() documentdomain.Repository {
	return &repo{}
}

func documents(db *gorm.DB) repository.Repository[documentdomain.BillingDocument] {
	return repository.ProvideStore[documentdomain.BillingDocument](db)
}

func entries(db *gorm.DB) repository.Repository[documentdomain.DocumentEntry] {
	return repository.ProvideStore[documentdomain.DocumentEntry](db)
}

func (r *repo) InsertDocument(ctx context.Context, db *gorm.DB, doc *documentdomain.BillingDocument) error {
	return documents(db).Create(ctx, doc)
}

func (r *repo) FindDocumentByID(ctx context.Context, db *gorm.DB, id snowflake.ID) (*documentdomain.BillingDocument, error) {
	return documents(db).FindOne(ctx, nil, option.Where("id = ?", id))
}

func (r *repo) FindDocumentByIDForUpdate(ctx context.Context, db *gorm.DB, id snowflake.ID) (*documentdomain.BillingDocument, error) {
	return documents(db).FindOne(ctx, nil, option.Where("id = ?", id), option.ForUpdate())
}

func (r *repo) UpdateDocumentState(ctx context.Context, db *gorm.DB, doc *documentdomain.BillingDocument) error {
	return documents(db).Update(ctx, doc.ID.String(), map[string]any{
		"state":               doc.State,
		"issue_date":          doc.IssueDate,
		"related_document_id": doc.RelatedDocumentID,
		"updated_at":          doc.UpdatedAt,
	})
}

func (r *repo) InsertEntries(ctx context.Context, db *gorm.DB, items []*documentdomain.DocumentEntry) error {
	return entries(db).BatchCreate(ctx, items)
}

func (r *repo) FindBilledPlanEntry(ctx context.Context, db *gorm.DB, subscriptionID snowflake.ID, start time.Time) (*documentdomain.DocumentEntry, error) {
	return entries(db).FindOne(ctx, nil,
		option.Where("subscription_id = ? AND start_date = ? AND origin_type = ?",
			subscriptionID, start, documentdomain.OriginPlan),
		option.Where("document_id IN (SELECT id FROM billing_documents WHERE state <> ?)",
			documentdomain.StateCanceled),
		option.OrderBy("id", false),
	)
}

func (r *repo) FindEntries(ctx context.Context, db *gorm.DB, ref documentdomain.DocumentRef) ([]*documentdomain.DocumentEntry, error) {
	return entries(db).Find(ctx, nil,
		option.Where("document_id = ? AND document_kind = ?", ref.DocumentID(), ref.DocumentKind()),
		option.OrderBy("id", false),
	)
}
