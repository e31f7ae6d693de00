package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
)

// DynamoDB schema constants for single-table design
const (
	// Table attributes
	AttrPK         = "PK"
	AttrSK         = "SK"
	AttrGSI1PK     = "GSI1PK"
	AttrGSI1SK     = "GSI1SK"
	AttrGSI2PK     = "GSI2PK"
	AttrGSI2SK     = "GSI2SK"
	AttrEntityType = "entity_type"
	AttrHookID     = "hook_id"
	AttrData       = "data"

	// Entity types
	EntityTypeRun       = "Run"
	EntityTypeEvent     = "Event"
	EntityTypeStep      = "Step"
	EntityTypeHook      = "Hook"
	EntityTypeHookToken = "HookToken"
	EntityTypeBlob      = "Blob"

	// Index names
	IndexParentIndex = "GSI1"
	IndexLookupIndex = "GSI2"
)

// Key builders for single-table design. Every record lives under its own
// partition with SK=META; GSI1 groups records by parent and GSI2 serves the
// secondary filters. Both index sort keys are the record id, so index order
// is id order.

func metaSK() string {
	return "META"
}

// Run keys: PK=RUN#{runID}, GSI1PK=RUNS, GSI2PK=WF#{workflowName}
func runPK(runID string) string {
	return fmt.Sprintf("RUN#%s", runID)
}

func runGSI1PK() string {
	return "RUNS"
}

func runGSI2PK(workflowName string) string {
	return fmt.Sprintf("WF#%s", workflowName)
}

// Event keys: PK=EVENT#{eventID}, GSI1PK=RUN#{runID}#EVENTS, GSI2PK=CORR#{correlationID}
func eventPK(eventID string) string {
	return fmt.Sprintf("EVENT#%s", eventID)
}

func eventGSI1PK(runID string) string {
	return fmt.Sprintf("RUN#%s#EVENTS", runID)
}

func eventGSI2PK(correlationID string) string {
	return fmt.Sprintf("CORR#%s", correlationID)
}

// Step keys: PK=STEP#{stepID}, GSI1PK=RUN#{runID}#STEPS
func stepPK(stepID string) string {
	return fmt.Sprintf("STEP#%s", stepID)
}

func stepGSI1PK(runID string) string {
	return fmt.Sprintf("RUN#%s#STEPS", runID)
}

// Hook keys: PK=HOOK#{hookID}, GSI1PK=RUN#{runID}#HOOKS, GSI2PK=HOOKS
func hookPK(hookID string) string {
	return fmt.Sprintf("HOOK#%s", hookID)
}

func hookGSI1PK(runID string) string {
	return fmt.Sprintf("RUN#%s#HOOKS", runID)
}

func hookGSI2PK() string {
	return "HOOKS"
}

// Hook token guard: PK=TOKEN#{token}, holds the owning hook id
func hookTokenPK(token string) string {
	return fmt.Sprintf("TOKEN#%s", token)
}

// Blob keys: PK=BLOB#{bucket}, SK={key}
func blobPK(bucket string) string {
	return fmt.Sprintf("BLOB#%s", bucket)
}

// TableDefinition returns the CreateTable input for the single-table layout
func TableDefinition(tableName string) *dynamodb.CreateTableInput {
	attr := func(name string) types.AttributeDefinition {
		return types.AttributeDefinition{AttributeName: aws.String(name), AttributeType: types.ScalarAttributeTypeS}
	}
	key := func(hash, rng string) []types.KeySchemaElement {
		return []types.KeySchemaElement{
			{AttributeName: aws.String(hash), KeyType: types.KeyTypeHash},
			{AttributeName: aws.String(rng), KeyType: types.KeyTypeRange},
		}
	}

	return &dynamodb.CreateTableInput{
		TableName: aws.String(tableName),
		AttributeDefinitions: []types.AttributeDefinition{
			attr(AttrPK), attr(AttrSK),
			attr(AttrGSI1PK), attr(AttrGSI1SK),
			attr(AttrGSI2PK), attr(AttrGSI2SK),
		},
		KeySchema: key(AttrPK, AttrSK),
		GlobalSecondaryIndexes: []types.GlobalSecondaryIndex{
			{
				IndexName:  aws.String(IndexParentIndex),
				KeySchema:  key(AttrGSI1PK, AttrGSI1SK),
				Projection: &types.Projection{ProjectionType: types.ProjectionTypeAll},
			},
			{
				IndexName:  aws.String(IndexLookupIndex),
				KeySchema:  key(AttrGSI2PK, AttrGSI2SK),
				Projection: &types.Projection{ProjectionType: types.ProjectionTypeAll},
			},
		},
		BillingMode: types.BillingModePayPerRequest,
	}
}

// EnsureTable creates the table when it does not exist and waits until it
// is active
func EnsureTable(ctx context.Context, client TableCreator, tableName string, maxWait time.Duration) error {
	_, err := client.DescribeTable(ctx, &dynamodb.DescribeTableInput{TableName: aws.String(tableName)})
	if err == nil {
		return nil
	}
	var notFound *types.ResourceNotFoundException
	if !errors.As(err, &notFound) {
		return fmt.Errorf("failed to describe table %s: %w", tableName, err)
	}

	if _, err := client.CreateTable(ctx, TableDefinition(tableName)); err != nil {
		return fmt.Errorf("failed to create table %s: %w", tableName, err)
	}

	// Wait for table to be active
	waiter := dynamodb.NewTableExistsWaiter(client)
	return waiter.Wait(ctx, &dynamodb.DescribeTableInput{
		TableName: aws.String(tableName),
	}, maxWait)
}
