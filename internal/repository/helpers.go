package repository

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/forgo/somi/api/internal/database"
	"github.com/shopspring/decimal"
	"github.com/surrealdb/surrealdb.go/pkg/models"
)

// isUniqueConstraintError checks if an error is a unique constraint violation
func isUniqueConstraintError(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, database.ErrDuplicate) {
		return true
	}
	errStr := err.Error()
	return strings.Contains(errStr, "unique") ||
		strings.Contains(errStr, "duplicate") ||
		strings.Contains(errStr, "already exists") ||
		strings.Contains(errStr, "already contains")
}

// isStaleVersionError checks if a transaction was aborted by a version THROW
func isStaleVersionError(err error) bool {
	return errors.Is(err, database.ErrStaleVersion) ||
		(err != nil && strings.Contains(err.Error(), database.ErrStaleVersion.Error()))
}

// parseTime parses time from various formats
func parseTime(v interface{}) time.Time {
	switch t := v.(type) {
	case time.Time:
		return t
	case string:
		if parsed, err := time.Parse(time.RFC3339Nano, t); err == nil {
			return parsed
		}
	case models.CustomDateTime:
		return t.Time
	case *models.CustomDateTime:
		if t != nil {
			return t.Time
		}
	}
	return time.Time{}
}

// extractQueryResults extracts the records of the first statement from a
// SurrealDB response
func extractQueryResults(result []interface{}) []interface{} {
	if len(result) == 0 {
		return nil
	}
	if resp, ok := result[0].(map[string]interface{}); ok {
		if status, ok := resp["status"].(string); ok && status == "OK" {
			if resultArray, ok := resp["result"].([]interface{}); ok {
				return resultArray
			}
			return nil
		}
	}
	return result
}

// lastQueryResults extracts the records of the last statement, used for
// transactions where earlier statements are LET or IF blocks
func lastQueryResults(result []interface{}) []interface{} {
	if len(result) == 0 {
		return nil
	}
	return extractQueryResults(result[len(result)-1:])
}

// unwrapRecord navigates the response wrapper down to one record map
func unwrapRecord(result interface{}) (map[string]interface{}, bool) {
	if result == nil {
		return nil, false
	}
	if resp, ok := result.(map[string]interface{}); ok {
		if status, ok := resp["status"].(string); ok && status == "OK" {
			resultData, ok := resp["result"].([]interface{})
			if !ok || len(resultData) == 0 {
				return nil, false
			}
			result = resultData[0]
		}
	}
	if arr, ok := result.([]interface{}); ok {
		if len(arr) == 0 {
			return nil, false
		}
		result = arr[0]
	}
	data, ok := result.(map[string]interface{})
	return data, ok
}

// decodeRecord converts a SurrealDB record map into a model. The record id
// is replaced by the domain id stored in idField, and datetime values are
// normalized so they round-trip through JSON.
func decodeRecord[T any](data map[string]interface{}, idField string) (*T, error) {
	if data == nil {
		return nil, errors.New("unexpected result format")
	}
	normalized := make(map[string]interface{}, len(data))
	for k, v := range data {
		switch tv := v.(type) {
		case models.CustomDateTime, *models.CustomDateTime:
			normalized[k] = parseTime(tv)
		case models.RecordID, *models.RecordID:
			// record links are not part of the domain models
		default:
			normalized[k] = v
		}
	}
	if idField != "" {
		normalized["id"] = data[idField]
	}

	jsonBytes, err := json.Marshal(normalized)
	if err != nil {
		return nil, err
	}
	var out T
	if err := json.Unmarshal(jsonBytes, &out); err != nil {
		return nil, fmt.Errorf("failed to decode record: %w", err)
	}
	return &out, nil
}

// decodeRecords decodes every record of a result list, skipping entries
// that fail to parse
func decodeRecords[T any](items []interface{}, idField string) []*T {
	out := make([]*T, 0, len(items))
	for _, item := range items {
		data, ok := item.(map[string]interface{})
		if !ok {
			continue
		}
		rec, err := decodeRecord[T](data, idField)
		if err == nil && rec != nil {
			out = append(out, rec)
		}
	}
	return out
}

// amount formats a decimal for storage. Amounts are stored as strings so no
// precision is lost to floating point.
func amount(d decimal.Decimal) string {
	return d.String()
}
