/*
Copyright 2024 Blnk Finance Authors.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

	http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

package search

import (
	"context"
	"encoding/json"
	"fmt"
	"math/big"
	"strings"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/typesense/typesense-go/typesense"
	"github.com/typesense/typesense-go/typesense/api"

	"github.com/blnkfinance/repay/model"
)

const (
	CollectionSettlements   = "settlements"
	CollectionLedgerEntries = "ledger_entries"
	CollectionObligations   = "obligations"
)

// CollectionConfig holds configuration for a specific collection.
type CollectionConfig struct {
	Schema       *api.CollectionSchema
	IDField      string
	TimeFields   []string
	BigIntFields []string
}

var collectionConfigs map[string]CollectionConfig

func init() {
	collectionConfigs = map[string]CollectionConfig{
		CollectionSettlements: {
			Schema:     getSettlementSchema(),
			IDField:    "settlement_id",
			TimeFields: []string{"created_at", "settled_at", "processed_at"},
		},
		CollectionLedgerEntries: {
			Schema:     getLedgerEntrySchema(),
			IDField:    "entry_id",
			TimeFields: []string{"created_at"},
		},
		CollectionObligations: {
			Schema:     getObligationSchema(),
			IDField:    "obligation_id",
			TimeFields: []string{"created_at", "due_date"},
		},
	}
}

// IsCollection reports whether name is one of the indexed collections.
func IsCollection(name string) bool {
	_, ok := collectionConfigs[name]
	return ok
}

// TypesenseClient wraps the Typesense client and provides methods to interact with it.
type TypesenseClient struct {
	Client *typesense.Client
}

// NotificationPayload is the body of an index task: the collection and the
// document to upsert into it.
type NotificationPayload struct {
	Table string                 `json:"table"`
	Data  map[string]interface{} `json:"data"`
}

// NewTypesenseClient initializes and returns a new Typesense client instance.
func NewTypesenseClient(apiKey string, hosts []string) *TypesenseClient {
	client := typesense.NewClient(
		typesense.WithServer(hosts[0]),
		typesense.WithAPIKey(apiKey),
		typesense.WithConnectionTimeout(5*time.Second),
		typesense.WithCircuitBreakerMaxRequests(50),
		typesense.WithCircuitBreakerInterval(2*time.Minute),
		typesense.WithCircuitBreakerTimeout(1*time.Minute),
	)
	return &TypesenseClient{Client: client}
}

// EnsureCollectionsExist creates any missing collection from its latest schema.
func (t *TypesenseClient) EnsureCollectionsExist(ctx context.Context) error {
	for name, config := range collectionConfigs {
		if _, err := t.CreateCollection(ctx, config.Schema); err != nil {
			return fmt.Errorf("failed to create collection %s: %w", name, err)
		}
	}
	return nil
}

// CreateCollection creates a collection in Typesense based on the provided schema.
// If the collection already exists, it will return without error.
func (t *TypesenseClient) CreateCollection(ctx context.Context, schema *api.CollectionSchema) (*api.CollectionResponse, error) {
	resp, err := t.Client.Collections().Create(ctx, schema)
	if err != nil {
		if strings.Contains(err.Error(), "already exists") {
			return nil, nil
		}
		return nil, err
	}
	return resp, nil
}

// Search performs a search query on a specific collection with the provided search parameters.
func (t *TypesenseClient) Search(ctx context.Context, collection string, searchParams *api.SearchCollectionParams) (*api.SearchResult, error) {
	return t.Client.Collection(collection).Documents().Search(ctx, searchParams)
}

// MultiSearch runs several searches in one round trip.
func (t *TypesenseClient) MultiSearch(ctx context.Context, searchRequests api.MultiSearchSearchesParameter) (*api.MultiSearchResult, error) {
	return t.Client.MultiSearch.Perform(ctx, &api.MultiSearchParams{}, searchRequests)
}

// HandleNotification normalizes data for the collection and upserts it.
func (t *TypesenseClient) HandleNotification(ctx context.Context, table string, data map[string]interface{}) error {
	config, ok := collectionConfigs[table]
	if !ok {
		return fmt.Errorf("unknown collection: %s", table)
	}

	PrepareDocument(config, data)
	return t.upsertDocument(ctx, table, data)
}

// PrepareDocument brings data in line with the collection schema: big
// numbers become strings, missing required fields get defaults and time
// fields become unix seconds.
func PrepareDocument(config CollectionConfig, data map[string]interface{}) {
	convertLargeNumbers(config, data)
	ensureSchemaFields(config, data)
	normalizeTimeFields(config, data)
}

func convertLargeNumbers(config CollectionConfig, data map[string]interface{}) {
	for _, field := range config.BigIntFields {
		if val, ok := data[field]; ok {
			switch v := val.(type) {
			case *big.Int:
				data[field] = v.String()
			case float64:
				data[field] = fmt.Sprintf("%.0f", v)
			}
		}
	}
}

func ensureSchemaFields(config CollectionConfig, data map[string]interface{}) {
	optionalFieldMap := make(map[string]bool)
	for _, field := range config.Schema.Fields {
		isOptional := field.Optional != nil && *field.Optional
		if isOptional {
			optionalFieldMap[field.Name] = true
		}
		if _, ok := data[field.Name]; !ok && !isOptional {
			data[field.Name] = getDefaultValue(field.Type)
		}
	}

	for key, value := range data {
		if optionalFieldMap[key] {
			if strVal, ok := value.(string); ok && strVal == "" {
				delete(data, key)
			}
		}
	}
}

func normalizeTimeFields(config CollectionConfig, data map[string]interface{}) {
	for _, field := range config.TimeFields {
		fieldValue, ok := data[field]
		if !ok {
			continue
		}
		switch v := fieldValue.(type) {
		case time.Time:
			data[field] = v.Unix()
		case *time.Time:
			if v == nil {
				data[field] = int64(0)
			} else {
				data[field] = v.Unix()
			}
		case string:
			parsed, err := time.Parse(time.RFC3339Nano, v)
			if err != nil {
				data[field] = int64(0)
			} else {
				data[field] = parsed.Unix()
			}
		case int64:
		default:
			data[field] = time.Now().Unix()
		}
	}
}

// upsertDocument handles the final upsert operation to Typesense
func (t *TypesenseClient) upsertDocument(ctx context.Context, table string, data map[string]interface{}) error {
	if config, ok := collectionConfigs[table]; ok {
		if id, ok := data[config.IDField].(string); ok && id != "" {
			data["id"] = id
		}
	}

	_, err := t.Client.Collection(table).Documents().Upsert(ctx, data)
	if err != nil {
		return fmt.Errorf("failed to upsert document in Typesense: %w", err)
	}
	return nil
}

// MigrateTypeSenseSchema adds new fields from the latest schema to the existing collection schema in Typesense.
func (t *TypesenseClient) MigrateTypeSenseSchema(ctx context.Context, collectionName string) error {
	collection := t.Client.Collection(collectionName)

	currentSchemaResponse, err := collection.Retrieve(ctx)
	if err != nil {
		return fmt.Errorf("failed to retrieve current schema: %w", err)
	}

	currentSchema := &api.CollectionSchema{
		Name:   currentSchemaResponse.Name,
		Fields: currentSchemaResponse.Fields,
	}

	config, ok := collectionConfigs[collectionName]
	if !ok {
		return fmt.Errorf("unknown collection: %s", collectionName)
	}

	for _, field := range compareSchemas(currentSchema, config.Schema) {
		updateSchema := &api.CollectionUpdateSchema{
			Fields: []api.Field{field},
		}

		if _, err := collection.Update(ctx, updateSchema); err != nil {
			return fmt.Errorf("failed to add field %s: %w", field.Name, err)
		}
		logrus.Infof("Added new field %s to collection %s", field.Name, collectionName)
	}

	return nil
}

// compareSchemas returns the fields of newSchema that oldSchema lacks.
func compareSchemas(oldSchema, newSchema *api.CollectionSchema) []api.Field {
	var newFields []api.Field
	oldFieldMap := make(map[string]bool)

	for _, field := range oldSchema.Fields {
		oldFieldMap[field.Name] = true
	}

	for _, field := range newSchema.Fields {
		if !oldFieldMap[field.Name] {
			newFields = append(newFields, field)
		}
	}

	return newFields
}

// getDefaultValue returns the default value for a given field type in Typesense.
func getDefaultValue(fieldType string) interface{} {
	switch fieldType {
	case "string":
		return ""
	case "int32", "int64":
		return int64(0)
	case "float":
		return float64(0)
	case "bool":
		return false
	case "string[]":
		return []string{}
	default:
		return nil
	}
}

// SettlementDocument flattens a settlement for the settlements collection.
// The raw channel payload is carried as a JSON string.
func SettlementDocument(stl *model.SettlementTransaction) map[string]interface{} {
	raw, _ := json.Marshal(stl.Notification.RawPayload)
	doc := map[string]interface{}{
		"settlement_id":          stl.SettlementID,
		"channel":                stl.Channel,
		"external_reference":     stl.ExternalReference,
		"borrower_id":            stl.BorrowerID,
		"amount":                 stl.Amount,
		"status":                 string(stl.Status),
		"rejection_reason":       stl.RejectionReason,
		"unallocated_amount":     stl.UnallocatedAmount,
		"attempts":               int64(stl.Attempts),
		"reverses_settlement_id": stl.ReversesSettlementID,
		"target_obligation_id":   stl.Notification.TargetObligationID,
		"raw_payload":            string(raw),
		"settled_at":             stl.SettledAt,
		"created_at":             stl.CreatedAt,
	}
	if stl.ProcessedAt != nil {
		doc["processed_at"] = *stl.ProcessedAt
	}
	return doc
}

// LedgerEntryDocument flattens a ledger entry for the ledger_entries collection.
func LedgerEntryDocument(e model.LedgerEntry) map[string]interface{} {
	return map[string]interface{}{
		"entry_id":          e.EntryID,
		"settlement_id":     e.SettlementID,
		"obligation_id":     e.ObligationID,
		"borrower_id":       e.BorrowerID,
		"entry_type":        string(e.EntryType),
		"principal":         e.Principal,
		"interest":          e.Interest,
		"late_fee":          e.LateFee,
		"total":             e.Total,
		"reverses_entry_id": e.ReversesEntryID,
		"created_at":        e.CreatedAt,
	}
}

// ObligationDocument flattens an obligation for the obligations collection.
func ObligationDocument(o model.Obligation) map[string]interface{} {
	return map[string]interface{}{
		"obligation_id":   o.ID,
		"loan_id":         o.LoanID,
		"borrower_id":     o.BorrowerID,
		"sequence_number": int64(o.SequenceNumber),
		"due_date":        o.DueDate,
		"principal_due":   o.PrincipalDue,
		"interest_due":    o.InterestDue,
		"late_fee_due":    o.LateFeeDue,
		"principal_paid":  o.PrincipalPaid,
		"interest_paid":   o.InterestPaid,
		"late_fee_paid":   o.LateFeePaid,
		"remaining":       o.Remaining(),
		"status":          string(o.Status),
		"created_at":      o.CreatedAt,
	}
}

func getSettlementSchema() *api.CollectionSchema {
	facet := true
	optional := true
	sortBy := "created_at"
	return &api.CollectionSchema{
		Name: CollectionSettlements,
		Fields: []api.Field{
			{Name: "settlement_id", Type: "string", Facet: &facet},
			{Name: "channel", Type: "string", Facet: &facet},
			{Name: "external_reference", Type: "string", Facet: &facet},
			{Name: "borrower_id", Type: "string", Facet: &facet},
			{Name: "amount", Type: "int64", Facet: &facet},
			{Name: "status", Type: "string", Facet: &facet},
			{Name: "rejection_reason", Type: "string", Facet: &facet, Optional: &optional},
			{Name: "unallocated_amount", Type: "int64", Facet: &facet},
			{Name: "attempts", Type: "int64", Facet: &facet},
			{Name: "reverses_settlement_id", Type: "string", Facet: &facet, Optional: &optional},
			{Name: "target_obligation_id", Type: "string", Facet: &facet, Optional: &optional},
			{Name: "raw_payload", Type: "string", Optional: &optional},
			{Name: "settled_at", Type: "int64", Facet: &facet},
			{Name: "processed_at", Type: "int64", Facet: &facet, Optional: &optional},
			{Name: "created_at", Type: "int64", Facet: &facet},
		},
		DefaultSortingField: &sortBy,
	}
}

func getLedgerEntrySchema() *api.CollectionSchema {
	facet := true
	optional := true
	sortBy := "created_at"
	return &api.CollectionSchema{
		Name: CollectionLedgerEntries,
		Fields: []api.Field{
			{Name: "entry_id", Type: "string", Facet: &facet},
			{Name: "settlement_id", Type: "string", Facet: &facet},
			{Name: "obligation_id", Type: "string", Facet: &facet},
			{Name: "borrower_id", Type: "string", Facet: &facet},
			{Name: "entry_type", Type: "string", Facet: &facet},
			{Name: "principal", Type: "int64", Facet: &facet},
			{Name: "interest", Type: "int64", Facet: &facet},
			{Name: "late_fee", Type: "int64", Facet: &facet},
			{Name: "total", Type: "int64", Facet: &facet},
			{Name: "reverses_entry_id", Type: "string", Facet: &facet, Optional: &optional},
			{Name: "created_at", Type: "int64", Facet: &facet},
		},
		DefaultSortingField: &sortBy,
	}
}

func getObligationSchema() *api.CollectionSchema {
	facet := true
	sortBy := "due_date"
	return &api.CollectionSchema{
		Name: CollectionObligations,
		Fields: []api.Field{
			{Name: "obligation_id", Type: "string", Facet: &facet},
			{Name: "loan_id", Type: "string", Facet: &facet},
			{Name: "borrower_id", Type: "string", Facet: &facet},
			{Name: "sequence_number", Type: "int64", Facet: &facet},
			{Name: "due_date", Type: "int64", Facet: &facet},
			{Name: "principal_due", Type: "int64", Facet: &facet},
			{Name: "interest_due", Type: "int64", Facet: &facet},
			{Name: "late_fee_due", Type: "int64", Facet: &facet},
			{Name: "principal_paid", Type: "int64", Facet: &facet},
			{Name: "interest_paid", Type: "int64", Facet: &facet},
			{Name: "late_fee_paid", Type: "int64", Facet: &facet},
			{Name: "remaining", Type: "int64", Facet: &facet},
			{Name: "status", Type: "string", Facet: &facet},
			{Name: "created_at", Type: "int64", Facet: &facet},
		},
		DefaultSortingField: &sortBy,
	}
}
