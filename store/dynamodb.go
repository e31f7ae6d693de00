package store

import (
	"context"
	"errors"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/sicko7947/world"
)

// DynamoDBStore implements world.RowStore using AWS DynamoDB
type DynamoDBStore struct {
	client    DynamoDBClient
	tableName string
}

var _ world.RowStore = (*DynamoDBStore)(nil)

// NewDynamoDBStore creates a new DynamoDB-backed row store
func NewDynamoDBStore(client DynamoDBClient, tableName string) *DynamoDBStore {
	return &DynamoDBStore{
		client:    client,
		tableName: tableName,
	}
}

func attrS(v string) types.AttributeValue {
	return &types.AttributeValueMemberS{Value: v}
}

// marshalItem encodes v and adds the primary key and entity type
func marshalItem(v any, entityType, pk string) (map[string]types.AttributeValue, error) {
	item, err := attributevalue.MarshalMap(v)
	if err != nil {
		return nil, world.Internal("marshal "+entityType, err)
	}
	item[AttrPK] = attrS(pk)
	item[AttrSK] = attrS(metaSK())
	item[AttrEntityType] = attrS(entityType)
	return item, nil
}

func isConditionFailed(err error) bool {
	var ccf *types.ConditionalCheckFailedException
	return errors.As(err, &ccf)
}

// putNew writes item only if its partition does not exist yet
func (s *DynamoDBStore) putNew(ctx context.Context, entity, id string, item map[string]types.AttributeValue) error {
	_, err := s.client.PutItem(ctx, &dynamodb.PutItemInput{
		TableName:           aws.String(s.tableName),
		Item:                item,
		ConditionExpression: aws.String("attribute_not_exists(PK)"),
	})
	if err != nil {
		if isConditionFailed(err) {
			return world.Conflict(entity, id)
		}
		return world.Unavailable("create "+entity, err)
	}
	return nil
}

// putExisting overwrites item only if it exists and, when expect is set,
// only if its status attribute equals expect
func (s *DynamoDBStore) putExisting(ctx context.Context, entity, id string, item map[string]types.AttributeValue, expect string) error {
	input := &dynamodb.PutItemInput{
		TableName:           aws.String(s.tableName),
		Item:                item,
		ConditionExpression: aws.String("attribute_exists(PK)"),
	}
	if expect != "" {
		input.ConditionExpression = aws.String("attribute_exists(PK) AND #status = :expected")
		input.ExpressionAttributeNames = map[string]string{"#status": "status"}
		input.ExpressionAttributeValues = map[string]types.AttributeValue{":expected": attrS(expect)}
	}

	if _, err := s.client.PutItem(ctx, input); err != nil {
		if isConditionFailed(err) {
			if expect != "" {
				return world.NotFound(entity+" with status "+expect, id)
			}
			return world.NotFound(entity, id)
		}
		return world.Unavailable("update "+entity, err)
	}
	return nil
}

// getItem loads the META item of a partition
func (s *DynamoDBStore) getItem(ctx context.Context, entity, id, pk string, out any) error {
	result, err := s.client.GetItem(ctx, &dynamodb.GetItemInput{
		TableName: aws.String(s.tableName),
		Key: map[string]types.AttributeValue{
			AttrPK: attrS(pk),
			AttrSK: attrS(metaSK()),
		},
	})
	if err != nil {
		return world.Unavailable("get "+entity, err)
	}

	if result.Item == nil {
		return world.NotFound(entity, id)
	}

	if err := attributevalue.UnmarshalMap(result.Item, out); err != nil {
		return world.Internal("unmarshal "+entity, err)
	}
	return nil
}

// indexQuery selects one partition of a secondary index
type indexQuery struct {
	index  string
	pkAttr string
	skAttr string
	pk     string

	filter string
	names  map[string]string
	values map[string]types.AttributeValue
}

// query walks an index partition in sort-key order from the cursor until
// page.Limit items pass the filter or the partition is exhausted
func (s *DynamoDBStore) query(ctx context.Context, q indexQuery, page world.PageQuery) ([]map[string]types.AttributeValue, error) {
	keyCond := fmt.Sprintf("%s = :pk", q.pkAttr)
	values := map[string]types.AttributeValue{":pk": attrS(q.pk)}
	if page.Cursor != "" {
		op := ">"
		if page.Order == world.SortDesc {
			op = "<"
		}
		keyCond += fmt.Sprintf(" AND %s %s :cursor", q.skAttr, op)
		values[":cursor"] = attrS(page.Cursor)
	}
	for k, v := range q.values {
		values[k] = v
	}

	var items []map[string]types.AttributeValue
	var lastEvaluatedKey map[string]types.AttributeValue

	// Paginate until the page is full; Limit applies before the filter
	for {
		queryInput := &dynamodb.QueryInput{
			TableName:                 aws.String(s.tableName),
			IndexName:                 aws.String(q.index),
			KeyConditionExpression:    aws.String(keyCond),
			ExpressionAttributeValues: values,
			ScanIndexForward:          aws.Bool(page.Order != world.SortDesc),
		}
		if q.filter != "" {
			queryInput.FilterExpression = aws.String(q.filter)
		}
		if len(q.names) > 0 {
			queryInput.ExpressionAttributeNames = q.names
		}
		if page.Limit > 0 {
			queryInput.Limit = aws.Int32(int32(page.Limit - len(items)))
		}
		if lastEvaluatedKey != nil {
			queryInput.ExclusiveStartKey = lastEvaluatedKey
		}

		result, err := s.client.Query(ctx, queryInput)
		if err != nil {
			return nil, world.Unavailable("query "+q.index, err)
		}
		items = append(items, result.Items...)

		if result.LastEvaluatedKey == nil || (page.Limit > 0 && len(items) >= page.Limit) {
			break
		}
		lastEvaluatedKey = result.LastEvaluatedKey
	}

	if page.Limit > 0 && len(items) > page.Limit {
		items = items[:page.Limit]
	}
	return items, nil
}

func unmarshalAll[T any](entity string, items []map[string]types.AttributeValue) ([]*T, error) {
	out := make([]*T, 0, len(items))
	for _, item := range items {
		var v T
		if err := attributevalue.UnmarshalMap(item, &v); err != nil {
			return nil, world.Internal("unmarshal "+entity, err)
		}
		out = append(out, &v)
	}
	return out, nil
}

// Run operations

func runItem(run *world.Run) (map[string]types.AttributeValue, error) {
	item, err := marshalItem(run, EntityTypeRun, runPK(run.RunID))
	if err != nil {
		return nil, err
	}
	item[AttrGSI1PK] = attrS(runGSI1PK())
	item[AttrGSI1SK] = attrS(run.RunID)
	if run.WorkflowName != "" {
		item[AttrGSI2PK] = attrS(runGSI2PK(run.WorkflowName))
		item[AttrGSI2SK] = attrS(run.RunID)
	}
	return item, nil
}

func (s *DynamoDBStore) InsertRun(ctx context.Context, run *world.Run) error {
	item, err := runItem(run)
	if err != nil {
		return err
	}
	return s.putNew(ctx, "run", run.RunID, item)
}

func (s *DynamoDBStore) GetRun(ctx context.Context, runID string) (*world.Run, error) {
	var run world.Run
	if err := s.getItem(ctx, "run", runID, runPK(runID), &run); err != nil {
		return nil, err
	}
	return &run, nil
}

func (s *DynamoDBStore) UpdateRun(ctx context.Context, run *world.Run, expect world.RunStatus) error {
	item, err := runItem(run)
	if err != nil {
		return err
	}
	return s.putExisting(ctx, "run", run.RunID, item, string(expect))
}

func (s *DynamoDBStore) QueryRuns(ctx context.Context, q world.RunQuery) ([]*world.Run, error) {
	iq := indexQuery{
		index:  IndexParentIndex,
		pkAttr: AttrGSI1PK,
		skAttr: AttrGSI1SK,
		pk:     runGSI1PK(),
	}
	if q.WorkflowName != "" {
		iq = indexQuery{
			index:  IndexLookupIndex,
			pkAttr: AttrGSI2PK,
			skAttr: AttrGSI2SK,
			pk:     runGSI2PK(q.WorkflowName),
		}
	}
	if q.Status != "" {
		iq.filter = "#status = :status"
		iq.names = map[string]string{"#status": "status"}
		iq.values = map[string]types.AttributeValue{":status": attrS(string(q.Status))}
	}

	items, err := s.query(ctx, iq, q.Page)
	if err != nil {
		return nil, err
	}
	return unmarshalAll[world.Run]("run", items)
}

// Event operations

func (s *DynamoDBStore) InsertEvent(ctx context.Context, event *world.Event) error {
	item, err := marshalItem(event, EntityTypeEvent, eventPK(event.EventID))
	if err != nil {
		return err
	}
	item[AttrGSI1PK] = attrS(eventGSI1PK(event.RunID))
	item[AttrGSI1SK] = attrS(event.EventID)
	if event.CorrelationID != "" {
		item[AttrGSI2PK] = attrS(eventGSI2PK(event.CorrelationID))
		item[AttrGSI2SK] = attrS(event.EventID)
	}
	return s.putNew(ctx, "event", event.EventID, item)
}

func (s *DynamoDBStore) GetEvent(ctx context.Context, eventID string) (*world.Event, error) {
	var event world.Event
	if err := s.getItem(ctx, "event", eventID, eventPK(eventID), &event); err != nil {
		return nil, err
	}
	return &event, nil
}

func (s *DynamoDBStore) QueryEvents(ctx context.Context, q world.EventQuery) ([]*world.Event, error) {
	var iq indexQuery
	switch {
	case q.RunID != "":
		iq = indexQuery{
			index:  IndexParentIndex,
			pkAttr: AttrGSI1PK,
			skAttr: AttrGSI1SK,
			pk:     eventGSI1PK(q.RunID),
		}
		if q.CorrelationID != "" {
			iq.filter = "correlation_id = :corr"
			iq.values = map[string]types.AttributeValue{":corr": attrS(q.CorrelationID)}
		}
	case q.CorrelationID != "":
		iq = indexQuery{
			index:  IndexLookupIndex,
			pkAttr: AttrGSI2PK,
			skAttr: AttrGSI2SK,
			pk:     eventGSI2PK(q.CorrelationID),
		}
	default:
		return nil, world.InvalidArgument("event query needs runId or correlationId")
	}

	items, err := s.query(ctx, iq, q.Page)
	if err != nil {
		return nil, err
	}
	return unmarshalAll[world.Event]("event", items)
}

// Step operations

func stepItem(step *world.Step) (map[string]types.AttributeValue, error) {
	item, err := marshalItem(step, EntityTypeStep, stepPK(step.StepID))
	if err != nil {
		return nil, err
	}
	item[AttrGSI1PK] = attrS(stepGSI1PK(step.RunID))
	item[AttrGSI1SK] = attrS(step.StepID)
	return item, nil
}

func (s *DynamoDBStore) InsertStep(ctx context.Context, step *world.Step) error {
	item, err := stepItem(step)
	if err != nil {
		return err
	}
	return s.putNew(ctx, "step", step.StepID, item)
}

func (s *DynamoDBStore) GetStep(ctx context.Context, stepID string) (*world.Step, error) {
	var step world.Step
	if err := s.getItem(ctx, "step", stepID, stepPK(stepID), &step); err != nil {
		return nil, err
	}
	return &step, nil
}

func (s *DynamoDBStore) UpdateStep(ctx context.Context, step *world.Step) error {
	item, err := stepItem(step)
	if err != nil {
		return err
	}
	return s.putExisting(ctx, "step", step.StepID, item, "")
}

func (s *DynamoDBStore) QuerySteps(ctx context.Context, q world.StepQuery) ([]*world.Step, error) {
	items, err := s.query(ctx, indexQuery{
		index:  IndexParentIndex,
		pkAttr: AttrGSI1PK,
		skAttr: AttrGSI1SK,
		pk:     stepGSI1PK(q.RunID),
	}, q.Page)
	if err != nil {
		return nil, err
	}
	return unmarshalAll[world.Step]("step", items)
}

// Hook operations

// InsertHook writes the hook and its token guard in one transaction, so a
// token is never bound to two hooks
func (s *DynamoDBStore) InsertHook(ctx context.Context, hook *world.Hook) error {
	item, err := marshalItem(hook, EntityTypeHook, hookPK(hook.HookID))
	if err != nil {
		return err
	}
	item[AttrGSI1PK] = attrS(hookGSI1PK(hook.RunID))
	item[AttrGSI1SK] = attrS(hook.HookID)
	item[AttrGSI2PK] = attrS(hookGSI2PK())
	item[AttrGSI2SK] = attrS(hook.HookID)

	guard := map[string]types.AttributeValue{
		AttrPK:         attrS(hookTokenPK(hook.Token)),
		AttrSK:         attrS(metaSK()),
		AttrEntityType: attrS(EntityTypeHookToken),
		AttrHookID:     attrS(hook.HookID),
	}

	_, err = s.client.TransactWriteItems(ctx, &dynamodb.TransactWriteItemsInput{
		TransactItems: []types.TransactWriteItem{
			{
				Put: &types.Put{
					TableName:           aws.String(s.tableName),
					Item:                item,
					ConditionExpression: aws.String("attribute_not_exists(PK)"),
				},
			},
			{
				Put: &types.Put{
					TableName:           aws.String(s.tableName),
					Item:                guard,
					ConditionExpression: aws.String("attribute_not_exists(PK)"),
				},
			},
		},
	})
	if err != nil {
		var canceled *types.TransactionCanceledException
		if errors.As(err, &canceled) {
			reasons := canceled.CancellationReasons
			if len(reasons) > 1 && aws.ToString(reasons[1].Code) == "ConditionalCheckFailed" &&
				aws.ToString(reasons[0].Code) != "ConditionalCheckFailed" {
				return world.Conflict("hook token", hook.Token)
			}
			return world.Conflict("hook", hook.HookID)
		}
		return world.Unavailable("create hook", err)
	}
	return nil
}

func (s *DynamoDBStore) GetHook(ctx context.Context, hookID string) (*world.Hook, error) {
	var hook world.Hook
	if err := s.getItem(ctx, "hook", hookID, hookPK(hookID), &hook); err != nil {
		return nil, err
	}
	return &hook, nil
}

func (s *DynamoDBStore) GetHookByToken(ctx context.Context, token string) (*world.Hook, error) {
	var guard struct {
		HookID string `dynamodbav:"hook_id"`
	}
	if err := s.getItem(ctx, "hook token", token, hookTokenPK(token), &guard); err != nil {
		return nil, err
	}
	return s.GetHook(ctx, guard.HookID)
}

func (s *DynamoDBStore) QueryHooks(ctx context.Context, q world.HookQuery) ([]*world.Hook, error) {
	iq := indexQuery{
		index:  IndexLookupIndex,
		pkAttr: AttrGSI2PK,
		skAttr: AttrGSI2SK,
		pk:     hookGSI2PK(),
	}
	if q.RunID != "" {
		iq = indexQuery{
			index:  IndexParentIndex,
			pkAttr: AttrGSI1PK,
			skAttr: AttrGSI1SK,
			pk:     hookGSI1PK(q.RunID),
		}
	}

	items, err := s.query(ctx, iq, q.Page)
	if err != nil {
		return nil, err
	}
	return unmarshalAll[world.Hook]("hook", items)
}
