package store

import (
	"context"
	"errors"
	"fmt"
	"sort"

	"claims-review-service/internal/models"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
)

// stateIndex is the GSI on the tasks table keyed by state.
const stateIndex = "state-index"

// Dynamo is the DynamoDB-backed Store. Three tables: tasks keyed by id,
// change records keyed by (task_id, sk), upload-log records keyed by
// record_id.
type Dynamo struct {
	DB           *dynamodb.Client
	TasksTable   string
	ChangesTable string
	UploadsTable string

	hub subHub
}

// changeItem is the persisted shape of a change record. The record's own
// task_id attribute doubles as the partition key; the sort key encodes
// timestamp then idempotency key, so task queries come back in timestamp
// order and a retried append collides with the original.
type changeItem struct {
	SK string `dynamodbav:"sk"`
	models.TaskChangeRecord
}

func changeSortKey(c models.TaskChangeRecord) string {
	return fmt.Sprintf("%013d#%s", c.Timestamp, c.IdempotencyKey)
}

// GetTask returns the task with the given id, or ok=false if absent.
func (d *Dynamo) GetTask(ctx context.Context, id string) (models.Task, bool, error) {
	out, err := d.DB.GetItem(ctx, &dynamodb.GetItemInput{
		TableName: &d.TasksTable,
		Key:       map[string]types.AttributeValue{"id": &types.AttributeValueMemberS{Value: id}},
	})
	if err != nil {
		return models.Task{}, false, err
	}
	if out.Item == nil {
		return models.Task{}, false, nil
	}
	var t models.Task
	if err := attributevalue.UnmarshalMap(out.Item, &t); err != nil {
		return models.Task{}, false, err
	}
	return t, true, nil
}

// SaveTask persists the task, overwriting any existing document (last writer
// wins).
func (d *Dynamo) SaveTask(ctx context.Context, task models.Task) error {
	item, err := attributevalue.MarshalMap(task)
	if err != nil {
		return &WriteError{Op: "marshal task", Err: err}
	}
	_, err = d.DB.PutItem(ctx, &dynamodb.PutItemInput{TableName: &d.TasksTable, Item: item})
	if err != nil {
		return &WriteError{Op: "save task " + task.ID, Err: err}
	}
	return nil
}

// SaveTaskWithChange persists the task and appends the change record in one
// TransactWriteItems call. If the change record already exists (a retried
// invocation), the transaction cancels and the task save is re-issued alone.
func (d *Dynamo) SaveTaskWithChange(ctx context.Context, task models.Task, change models.TaskChangeRecord) error {
	taskItem, err := attributevalue.MarshalMap(task)
	if err != nil {
		return &WriteError{Op: "marshal task", Err: err}
	}
	chItem, err := attributevalue.MarshalMap(changeItem{
		SK:               changeSortKey(change),
		TaskChangeRecord: change,
	})
	if err != nil {
		return &WriteError{Op: "marshal change", Err: err}
	}
	_, err = d.DB.TransactWriteItems(ctx, &dynamodb.TransactWriteItemsInput{
		TransactItems: []types.TransactWriteItem{
			{Put: &types.Put{TableName: &d.TasksTable, Item: taskItem}},
			{Put: &types.Put{
				TableName:           &d.ChangesTable,
				Item:                chItem,
				ConditionExpression: awsStr("attribute_not_exists(task_id) AND attribute_not_exists(sk)"),
			}},
		},
	})
	if err == nil {
		return nil
	}
	var canceled *types.TransactionCanceledException
	if errors.As(err, &canceled) && changeAlreadyWritten(canceled) {
		return d.SaveTask(ctx, task)
	}
	return &WriteError{Op: "save task " + task.ID + " with change", Err: err}
}

// changeAlreadyWritten reports whether the only cancellation reason is the
// conditional check on the change item (index 1).
func changeAlreadyWritten(c *types.TransactionCanceledException) bool {
	if len(c.CancellationReasons) != 2 {
		return false
	}
	code := func(r types.CancellationReason) string {
		if r.Code == nil {
			return ""
		}
		return *r.Code
	}
	return code(c.CancellationReasons[1]) == "ConditionalCheckFailed" &&
		code(c.CancellationReasons[0]) != "ConditionalCheckFailed"
}

// AppendChange appends one change record, dropping the write if the same
// (task, idempotency key) pair was appended before.
func (d *Dynamo) AppendChange(ctx context.Context, change models.TaskChangeRecord) error {
	item, err := attributevalue.MarshalMap(changeItem{
		SK:               changeSortKey(change),
		TaskChangeRecord: change,
	})
	if err != nil {
		return &WriteError{Op: "marshal change", Err: err}
	}
	_, err = d.DB.PutItem(ctx, &dynamodb.PutItemInput{
		TableName:           &d.ChangesTable,
		Item:                item,
		ConditionExpression: awsStr("attribute_not_exists(task_id) AND attribute_not_exists(sk)"),
	})
	if err != nil {
		var ccf *types.ConditionalCheckFailedException
		if errors.As(err, &ccf) {
			return nil // retried append, already recorded
		}
		return &WriteError{Op: "append change for " + change.TaskID, Err: err}
	}
	return nil
}

// QueryTasksByState returns all tasks in the given state via the state GSI.
func (d *Dynamo) QueryTasksByState(ctx context.Context, state models.TaskState) ([]models.Task, error) {
	var out []models.Task
	var start map[string]types.AttributeValue
	for {
		page, err := d.DB.Query(ctx, &dynamodb.QueryInput{
			TableName:                 &d.TasksTable,
			IndexName:                 aws.String(stateIndex),
			KeyConditionExpression:    awsStr("#s = :s"),
			ExpressionAttributeNames:  map[string]string{"#s": "state"},
			ExpressionAttributeValues: map[string]types.AttributeValue{":s": &types.AttributeValueMemberS{Value: string(state)}},
			ExclusiveStartKey:         start,
		})
		if err != nil {
			return nil, err
		}
		var tasks []models.Task
		if err := attributevalue.UnmarshalListOfMaps(page.Items, &tasks); err != nil {
			return nil, err
		}
		out = append(out, tasks...)
		if page.LastEvaluatedKey == nil {
			return out, nil
		}
		start = page.LastEvaluatedKey
	}
}

// SubscribeTasksByState registers a callback for refreshes of one state
// bucket. Delivery is in-process; cross-process fan-out would ride DynamoDB
// streams and is out of scope here.
func (d *Dynamo) SubscribeTasksByState(state models.TaskState, fn func([]models.Task)) func() {
	return d.hub.subscribe(state, fn)
}

// RefreshStates re-reads the given buckets and notifies subscribers.
func (d *Dynamo) RefreshStates(ctx context.Context, states ...models.TaskState) {
	d.hub.notify(ctx, d.QueryTasksByState, states...)
}

// ChangesForTask returns the change records for one task, timestamp
// ascending (the sort key encodes the timestamp).
func (d *Dynamo) ChangesForTask(ctx context.Context, taskID string) ([]models.TaskChangeRecord, error) {
	out, err := d.DB.Query(ctx, &dynamodb.QueryInput{
		TableName:                 &d.ChangesTable,
		KeyConditionExpression:    awsStr("task_id = :t"),
		ExpressionAttributeValues: map[string]types.AttributeValue{":t": &types.AttributeValueMemberS{Value: taskID}},
	})
	if err != nil {
		return nil, err
	}
	var items []changeItem
	if err := attributevalue.UnmarshalListOfMaps(out.Items, &items); err != nil {
		return nil, err
	}
	changes := make([]models.TaskChangeRecord, len(items))
	for i, it := range items {
		changes[i] = it.TaskChangeRecord
	}
	return changes, nil
}

// AllChanges scans the change table and sorts client-side. Intended for
// audit views; paginate at the API layer if the table grows large.
func (d *Dynamo) AllChanges(ctx context.Context) ([]models.TaskChangeRecord, error) {
	var changes []models.TaskChangeRecord
	var start map[string]types.AttributeValue
	for {
		page, err := d.DB.Scan(ctx, &dynamodb.ScanInput{
			TableName:         &d.ChangesTable,
			ExclusiveStartKey: start,
		})
		if err != nil {
			return nil, err
		}
		var items []changeItem
		if err := attributevalue.UnmarshalListOfMaps(page.Items, &items); err != nil {
			return nil, err
		}
		for _, it := range items {
			changes = append(changes, it.TaskChangeRecord)
		}
		if page.LastEvaluatedKey == nil {
			break
		}
		start = page.LastEvaluatedKey
	}
	sort.SliceStable(changes, func(i, j int) bool { return changes[i].Timestamp < changes[j].Timestamp })
	return changes, nil
}

// LookupUploadedRecord reports whether the external record id is in the
// upload log.
func (d *Dynamo) LookupUploadedRecord(ctx context.Context, recordID string) (bool, error) {
	out, err := d.DB.GetItem(ctx, &dynamodb.GetItemInput{
		TableName: &d.UploadsTable,
		Key:       map[string]types.AttributeValue{"record_id": &types.AttributeValueMemberS{Value: recordID}},
	})
	if err != nil {
		return false, err
	}
	return out.Item != nil, nil
}

// RecordUploadedRecord inserts the upload-log record, ensuring the first
// write for a record id wins.
func (d *Dynamo) RecordUploadedRecord(ctx context.Context, rec models.UploadedRecord) error {
	item, err := attributevalue.MarshalMap(rec)
	if err != nil {
		return &WriteError{Op: "marshal upload record", Err: err}
	}
	_, err = d.DB.PutItem(ctx, &dynamodb.PutItemInput{
		TableName:           &d.UploadsTable,
		Item:                item,
		ConditionExpression: awsStr("attribute_not_exists(record_id)"),
	})
	if err != nil {
		var ccf *types.ConditionalCheckFailedException
		if errors.As(err, &ccf) {
			return nil // already logged
		}
		return &WriteError{Op: "record upload " + rec.RecordID, Err: err}
	}
	return nil
}

// GetTasksByIDs batch-fetches tasks, at most ten ids per round trip.
func (d *Dynamo) GetTasksByIDs(ctx context.Context, ids []string) ([]models.Task, error) {
	var out []models.Task
	for _, chunk := range chunkIDs(ids) {
		keys := make([]map[string]types.AttributeValue, len(chunk))
		for i, id := range chunk {
			keys[i] = map[string]types.AttributeValue{"id": &types.AttributeValueMemberS{Value: id}}
		}
		res, err := d.DB.BatchGetItem(ctx, &dynamodb.BatchGetItemInput{
			RequestItems: map[string]types.KeysAndAttributes{d.TasksTable: {Keys: keys}},
		})
		if err != nil {
			return nil, err
		}
		var tasks []models.Task
		if err := attributevalue.UnmarshalListOfMaps(res.Responses[d.TasksTable], &tasks); err != nil {
			return nil, err
		}
		out = append(out, tasks...)
	}
	return out, nil
}

// awsStr is a helper to get a pointer to a string literal.
func awsStr(s string) *string { return &s }
