package service

import (
	"encoding/json"

	recorddomain "github.com/railzwaylabs/pricing/internal/pricerecord/domain"
)

// A cached "null" records that no price exists for the variant.
func encodeRecord(record *recorddomain.PriceRecord) ([]byte, error) {
	return json.Marshal(record)
}

func decodeRecord(raw []byte) (*recorddomain.PriceRecord, error) {
	var record *recorddomain.PriceRecord
	if err := json.Unmarshal(raw, &record); err != nil {
		return nil, err
	}
	return record, nil
}
