package services

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"gent/models"
)

const (
	archiveTimeout = 10 * time.Second
	// ソートキーは固定幅にして文字列順と時刻順を一致させる
	transcriptTimeLayout = "2006-01-02T15:04:05.000000000Z07:00"
)

// DynamoAPI is the subset of *dynamodb.Client the transcript store uses.
type DynamoAPI interface {
	CreateTable(ctx context.Context, in *dynamodb.CreateTableInput, opts ...func(*dynamodb.Options)) (*dynamodb.CreateTableOutput, error)
	PutItem(ctx context.Context, in *dynamodb.PutItemInput, opts ...func(*dynamodb.Options)) (*dynamodb.PutItemOutput, error)
	Query(ctx context.Context, in *dynamodb.QueryInput, opts ...func(*dynamodb.Options)) (*dynamodb.QueryOutput, error)
}

// NewDynamoDBClient returns a DynamoDB client. A non-empty endpoint points the
// client at a local DynamoDB with dummy credentials.
func NewDynamoDBClient(ctx context.Context, endpoint, region string) (*dynamodb.Client, error) {
	opts := []func(*config.LoadOptions) error{config.WithRegion(region)}
	if endpoint != "" {
		customResolver := aws.EndpointResolverWithOptionsFunc(func(service, region string, options ...interface{}) (aws.Endpoint, error) {
			return aws.Endpoint{URL: endpoint}, nil
		})
		opts = append(opts,
			config.WithEndpointResolverWithOptions(customResolver),
			config.WithCredentialsProvider(credentials.StaticCredentialsProvider{
				Value: aws.Credentials{AccessKeyID: "dummy", SecretAccessKey: "dummy", SessionToken: "dummy"},
			}),
		)
	}

	cfg, err := config.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("load AWS config: %w", err)
	}
	return dynamodb.NewFromConfig(cfg), nil
}

// TranscriptStore archives completed exchanges. It is write-behind storage and
// never feeds the live conversation history.
type TranscriptStore struct {
	db    DynamoAPI
	table string
	now   func() time.Time
	log   zerolog.Logger
}

func NewTranscriptStore(db DynamoAPI, table string, log zerolog.Logger) *TranscriptStore {
	return &TranscriptStore{
		db:    db,
		table: table,
		now:   time.Now,
		log:   log.With().Str("component", "transcripts").Str("table", table).Logger(),
	}
}

// EnsureTable creates the table keyed by UserID and Timestamp if it is missing.
func (s *TranscriptStore) EnsureTable(ctx context.Context) error {
	_, err := s.db.CreateTable(ctx, &dynamodb.CreateTableInput{
		TableName: aws.String(s.table),
		AttributeDefinitions: []types.AttributeDefinition{
			{AttributeName: aws.String("UserID"), AttributeType: types.ScalarAttributeTypeS},
			{AttributeName: aws.String("Timestamp"), AttributeType: types.ScalarAttributeTypeS},
		},
		KeySchema: []types.KeySchemaElement{
			{AttributeName: aws.String("UserID"), KeyType: types.KeyTypeHash},
			{AttributeName: aws.String("Timestamp"), KeyType: types.KeyTypeRange},
		},
		BillingMode: types.BillingModePayPerRequest,
	})
	var inUse *types.ResourceInUseException
	if err != nil && !errors.As(err, &inUse) {
		return fmt.Errorf("create table %s: %w", s.table, err)
	}
	return nil
}

func (s *TranscriptStore) put(ctx context.Context, conv models.Conversation) error {
	_, err := s.db.PutItem(ctx, &dynamodb.PutItemInput{
		TableName: aws.String(s.table),
		Item: map[string]types.AttributeValue{
			"ID":        &types.AttributeValueMemberS{Value: conv.ID},
			"UserID":    &types.AttributeValueMemberS{Value: conv.UserID},
			"Role":      &types.AttributeValueMemberS{Value: conv.Role},
			"Content":   &types.AttributeValueMemberS{Value: conv.Content},
			"Model":     &types.AttributeValueMemberS{Value: conv.Model},
			"Timestamp": &types.AttributeValueMemberS{Value: conv.Timestamp.UTC().Format(transcriptTimeLayout)},
		},
	})
	return err
}

// SaveExchange stores the user message and the answer as two records.
func (s *TranscriptStore) SaveExchange(ctx context.Context, userID, question, answer, model string) error {
	ts := s.now()
	records := []models.Conversation{
		{ID: uuid.New().String(), UserID: userID, Role: string(models.RoleUser), Content: question, Timestamp: ts},
		// ソートキーが重ならないように1µsずらす
		{ID: uuid.New().String(), UserID: userID, Role: string(models.RoleModel), Content: answer, Model: model, Timestamp: ts.Add(time.Microsecond)},
	}
	for _, r := range records {
		if err := s.put(ctx, r); err != nil {
			return fmt.Errorf("save %s message: %w", r.Role, err)
		}
	}
	return nil
}

// Archive saves the exchange in the background. Failures are only logged.
func (s *TranscriptStore) Archive(userID, question, answer, model string) {
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), archiveTimeout)
		defer cancel()
		if err := s.SaveExchange(ctx, userID, question, answer, model); err != nil {
			s.log.Warn().Err(err).Str("user", userID).Msg("failed to archive exchange")
		}
	}()
}

// RecentConversations returns up to limit records of userID, oldest first.
func (s *TranscriptStore) RecentConversations(ctx context.Context, userID string, limit int) ([]models.Conversation, error) {
	in := &dynamodb.QueryInput{
		TableName:              aws.String(s.table),
		KeyConditionExpression: aws.String("UserID = :uid"),
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":uid": &types.AttributeValueMemberS{Value: userID},
		},
		ScanIndexForward: aws.Bool(false), // 新しい順
	}
	if limit > 0 {
		in.Limit = aws.Int32(int32(limit))
	}
	result, err := s.db.Query(ctx, in)
	if err != nil {
		return nil, fmt.Errorf("query %s: %w", s.table, err)
	}

	conversations := make([]models.Conversation, 0, len(result.Items))
	for i := len(result.Items) - 1; i >= 0; i-- {
		conversations = append(conversations, conversationFromItem(result.Items[i]))
	}
	return conversations, nil
}

func stringAttr(item map[string]types.AttributeValue, key string) string {
	if v, ok := item[key].(*types.AttributeValueMemberS); ok {
		return v.Value
	}
	return ""
}

func conversationFromItem(item map[string]types.AttributeValue) models.Conversation {
	ts, _ := time.Parse(transcriptTimeLayout, stringAttr(item, "Timestamp"))
	return models.Conversation{
		ID:        stringAttr(item, "ID"),
		UserID:    stringAttr(item, "UserID"),
		Role:      stringAttr(item, "Role"),
		Content:   stringAttr(item, "Content"),
		Model:     stringAttr(item, "Model"),
		Timestamp: ts,
	}
}
