package lease

import (
	"bytes"
	"encoding/json"
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/pkg/errors"
)

// Layouts of the lease end time accepted when the router reports it as
// a date string.
var endTimeLayouts = []string{
	"2006/01/02 15:04:05",
	"2006-01-02 15:04:05",
	time.RFC3339,
}

// Range of the epoch end times. Values outside of it are not valid
// timestamps and would break the end time ordering.
var (
	minEndTimeSeconds = time.Date(1, 1, 1, 0, 0, 0, 0, time.UTC).Unix()
	maxEndTimeSeconds = time.Date(9999, 12, 31, 23, 59, 59, 0, time.UTC).Unix()
)

// Lease row as returned by the lease-search API.
type row struct {
	Address        string          `json:"address"`
	MAC            string          `json:"mac"`
	Hostname       string          `json:"hostname"`
	Description    string          `json:"descr"`
	InterfaceLabel string          `json:"if_descr"`
	InterfaceID    string          `json:"if"`
	Type           string          `json:"type"`
	EndTime        json.RawMessage `json:"end_time"`
}

// Body of the lease-search API response.
type searchResponse struct {
	Rows []row `json:"rows"`
}

// Parses the lease-search API response body into the lease records.
// An unrecognized lease type or end time fails the whole call because
// it means the router no longer speaks the expected format.
func ParseRows(body []byte) ([]Record, error) {
	var response searchResponse
	if err := json.Unmarshal(body, &response); err != nil {
		return nil, errors.Wrap(err, "cannot parse the lease list")
	}

	records := make([]Record, 0, len(response.Rows))
	for i, r := range response.Rows {
		leaseType, err := ParseType(r.Type)
		if err != nil {
			return nil, errors.WithMessagef(err, "invalid lease row %d", i)
		}
		endTime, err := parseEndTime(r.EndTime)
		if err != nil {
			return nil, errors.WithMessagef(err, "invalid lease row %d", i)
		}
		records = append(records, Record{
			IPAddress:      r.Address,
			MACAddress:     r.MAC,
			Hostname:       r.Hostname,
			Description:    r.Description,
			InterfaceLabel: r.InterfaceLabel,
			InterfaceID:    r.InterfaceID,
			Type:           leaseType,
			EndTime:        endTime,
		})
	}
	return records, nil
}

// Parses the lease end time. It may be missing, null, an epoch timestamp
// (number or numeric string) or a date string.
func parseEndTime(raw json.RawMessage) (*time.Time, error) {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || bytes.Equal(raw, []byte("null")) {
		return nil, nil
	}

	var value string
	if raw[0] == '"' {
		if err := json.Unmarshal(raw, &value); err != nil {
			return nil, errors.Wrap(err, "cannot parse the lease end time")
		}
		value = strings.TrimSpace(value)
		if value == "" {
			return nil, nil
		}
	} else {
		value = string(raw)
	}

	if seconds, err := strconv.ParseInt(value, 10, 64); err == nil {
		if seconds < minEndTimeSeconds || seconds > maxEndTimeSeconds {
			return nil, errors.Errorf("lease end time out of range: '%s'", value)
		}
		endTime := time.Unix(seconds, 0).UTC()
		return &endTime, nil
	}

	if seconds, err := strconv.ParseFloat(value, 64); err == nil {
		if math.IsNaN(seconds) || math.IsInf(seconds, 0) ||
			seconds < float64(minEndTimeSeconds) || seconds > float64(maxEndTimeSeconds) {
			return nil, errors.Errorf("lease end time out of range: '%s'", value)
		}
		whole, fraction := math.Modf(seconds)
		endTime := time.Unix(int64(whole), int64(math.Round(fraction*1e9))).UTC()
		return &endTime, nil
	}

	for _, layout := range endTimeLayouts {
		if endTime, err := time.Parse(layout, value); err == nil {
			return &endTime, nil
		}
	}
	return nil, errors.Errorf("unrecognized lease end time: '%s'", value)
}
