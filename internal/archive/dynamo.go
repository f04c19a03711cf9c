package archive

import (
	"context"
	"errors"
	"fmt"
	"time"

	"support-dispatch-backend/internal/database"
	"support-dispatch-backend/internal/model"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
)

const requesterIndex = "byRequester"

// itemStore is the subset of *database.DynamoDBClient the archive needs.
type itemStore interface {
	PutItem(ctx context.Context, tableName string, item interface{}) error
	GetItem(ctx context.Context, tableName string, key map[string]types.AttributeValue, out interface{}) error
	QueryItems(ctx context.Context, tableName string, indexName *string, keyCondExpr string, exprAttrValues map[string]types.AttributeValue, exprAttrNames map[string]string, scanIndexForward *bool) ([]map[string]types.AttributeValue, error)
}

// DynamoArchive writes ended sessions to a DynamoDB table whose expiresAt
// attribute is configured as the table TTL.
type DynamoArchive struct {
	client    itemStore
	table     string
	retention time.Duration
}

func NewDynamoArchive(db *database.Database, table string, retention time.Duration) *DynamoArchive {
	return newDynamoArchive(db.Client, table, retention)
}

func newDynamoArchive(client itemStore, table string, retention time.Duration) *DynamoArchive {
	if table == "" {
		table = model.SupportSessionArchiveTable
	}
	if retention <= 0 {
		retention = DefaultRetention
	}
	return &DynamoArchive{client: client, table: table, retention: retention}
}

func (a *DynamoArchive) Archive(ctx context.Context, session model.Session) error {
	if !session.Ended() || session.EndedAt == nil {
		return fmt.Errorf("archive: session %s is %s, not ended", session.ID, session.Status)
	}
	item := model.ArchivedSessionItem{
		Session:   session,
		ExpiresAt: session.EndedAt.Add(a.retention).Unix(),
	}
	if err := a.client.PutItem(ctx, a.table, item); err != nil {
		return fmt.Errorf("archive: %w", err)
	}
	return nil
}

func (a *DynamoArchive) Get(ctx context.Context, sessionID string) (model.Session, error) {
	var item model.ArchivedSessionItem
	err := a.client.GetItem(ctx, a.table, map[string]types.AttributeValue{
		"sessionId": database.AttrString(sessionID),
	}, &item)
	if err != nil {
		if errors.Is(err, database.ErrItemNotFound) {
			return model.Session{}, ErrNotFound
		}
		return model.Session{}, err
	}
	return item.Session, nil
}

// ListByRequester returns archived sessions for a requester, newest first.
func (a *DynamoArchive) ListByRequester(ctx context.Context, requesterID string) ([]model.Session, error) {
	items, err := a.client.QueryItems(
		ctx,
		a.table,
		aws.String(requesterIndex),
		"requesterId = :requesterId",
		map[string]types.AttributeValue{
			":requesterId": database.AttrString(requesterID),
		},
		nil,
		aws.Bool(false),
	)
	if err != nil {
		return nil, fmt.Errorf("archive: %w", err)
	}

	sessions := make([]model.Session, 0, len(items))
	for _, raw := range items {
		var item model.ArchivedSessionItem
		if err := attributevalue.UnmarshalMap(raw, &item); err != nil {
			return nil, fmt.Errorf("archive: unmarshal item: %w", err)
		}
		sessions = append(sessions, item.Session)
	}
	return sessions, nil
}
