package server

import (
	"errors"
	"strings"

	"github.com/bwmarrin/snowflake"
	taxdomain "github.com/smallbiznis/salestax/internal/tax/domain"
)

var errInvalidSnowflakeID = errors.New("invalid_snowflake_id")

func parseSnowflakeID(value string) (snowflake.ID, error) {
	trimmed := strings.TrimSpace(value)
	if trimmed == "" {
		return 0, errInvalidSnowflakeID
	}
	parsed, err := snowflake.ParseString(trimmed)
	if err != nil || parsed <= 0 {
		return 0, errInvalidSnowflakeID
	}
	return parsed, nil
}

func parseOptionalSnowflakeID(value string) (*snowflake.ID, error) {
	if strings.TrimSpace(value) == "" {
		return nil, nil
	}
	parsed, err := parseSnowflakeID(value)
	if err != nil {
		return nil, err
	}
	return &parsed, nil
}

// parseDocType defaults to a sales order quote.
func parseDocType(value string) (taxdomain.DocType, error) {
	trimmed := strings.TrimSpace(value)
	if trimmed == "" {
		return taxdomain.DocTypeSalesOrder, nil
	}
	docType := taxdomain.DocType(trimmed)
	if !docType.Valid() {
		return "", errors.New("invalid_doc_type")
	}
	return docType, nil
}
