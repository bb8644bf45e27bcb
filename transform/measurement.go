package transform

import (
	"encoding/json"
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/CodeByJF/mqbridge/errors"
	"github.com/CodeByJF/mqbridge/message"
)

const lbPerKg = 0.45359237

// Measurement interprets scale measurement payloads of the form
//
//	{"date": "2025-11-04T07:11-0500", "weight": 84.75, "unit": "kg", "fat": 24.22}
//
// where the date may also arrive as "timestamp"/"ts" in unix seconds, the
// weight may arrive as "weight_kg", and the unit may be "lb". It emits one
// attribute-update document per measurement date, so repeated measurements
// on the same day replace each other.
type Measurement struct {
	prefix     string
	loc        *time.Location
	weightAttr string
	fatAttr    string
}

// NewMeasurement creates a measurement transformer from cfg. The timezone
// must be a valid IANA zone name; empty means UTC.
func NewMeasurement(cfg Config) (*Measurement, error) {
	loc := time.UTC
	if cfg.Timezone != "" {
		var err error
		loc, err = time.LoadLocation(cfg.Timezone)
		if err != nil {
			return nil, errors.WrapInvalid(err, "Measurement", "NewMeasurement",
				fmt.Sprintf("load timezone %q", cfg.Timezone))
		}
	}

	weightAttr := cfg.WeightAttribute
	if weightAttr == "" {
		weightAttr = "weight"
	}
	fatAttr := cfg.FatAttribute
	if fatAttr == "" {
		fatAttr = "body_fat"
	}

	return &Measurement{
		prefix:     cfg.PathPrefix,
		loc:        loc,
		weightAttr: weightAttr,
		fatAttr:    fatAttr,
	}, nil
}

// attributeUpdate is one attribute value on one date.
type attributeUpdate struct {
	Name  string  `json:"name"`
	Date  string  `json:"date"`
	Value float64 `json:"value"`
}

type updateDocument struct {
	Date    string            `json:"date"`
	Updates []attributeUpdate `json:"updates"`
}

// Transform parses the measurement and produces the per-day update document.
func (t *Measurement) Transform(in message.Inbound) (message.Document, error) {
	var raw map[string]any
	if err := json.Unmarshal(in.Payload, &raw); err != nil {
		return message.Document{}, errors.WrapInvalid(errors.ErrParsingFailed,
			"Measurement", "Transform", "payload is not a JSON object")
	}

	date, err := t.parseDate(firstPresent(raw, "date", "timestamp", "ts"), in.ReceivedAt)
	if err != nil {
		return message.Document{}, errors.WrapInvalid(err, "Measurement", "Transform", "parse date")
	}

	weightKg, err := parseWeight(raw)
	if err != nil {
		return message.Document{}, errors.WrapInvalid(err, "Measurement", "Transform", "parse weight")
	}

	updates := []attributeUpdate{
		{Name: t.weightAttr, Date: date, Value: weightKg},
	}

	if fat, ok, err := parseFat(raw); err != nil {
		return message.Document{}, errors.WrapInvalid(err, "Measurement", "Transform", "parse fat")
	} else if ok {
		updates = append(updates, attributeUpdate{Name: t.fatAttr, Date: date, Value: fat})
	}

	content, err := json.Marshal(updateDocument{Date: date, Updates: updates})
	if err != nil {
		return message.Document{}, errors.WrapInvalid(err, "Measurement", "Transform", "encode document")
	}

	return message.Document{
		Path:        joinPath(t.prefix, in.Subject, date),
		Content:     content,
		ContentType: "application/json",
	}, nil
}

func firstPresent(raw map[string]any, keys ...string) any {
	for _, k := range keys {
		if v, ok := raw[k]; ok && v != nil {
			return v
		}
	}
	return nil
}

// parseDate returns YYYY-MM-DD in the configured zone. Accepts ISO-8601
// strings with or without an offset (including offsets missing the colon,
// as OpenScaleSync emits), unix seconds, or nothing. An absent date falls
// back to the receive time, keeping the result stable across redeliveries.
func (t *Measurement) parseDate(v any, received time.Time) (string, error) {
	switch d := v.(type) {
	case nil:
		if received.IsZero() {
			received = time.Now()
		}
		return received.In(t.loc).Format("2006-01-02"), nil
	case float64:
		return time.Unix(int64(d), 0).In(t.loc).Format("2006-01-02"), nil
	case string:
		return t.parseISODate(d)
	default:
		return "", fmt.Errorf("unsupported date type %T", v)
	}
}

var isoLayouts = []string{
	time.RFC3339,
	"2006-01-02T15:04:05",
	"2006-01-02T15:04-07:00",
	"2006-01-02T15:04",
	"2006-01-02",
}

func (t *Measurement) parseISODate(s string) (string, error) {
	// Offsets like -0500 need a colon before time.Parse accepts them
	if len(s) >= 5 && (s[len(s)-5] == '+' || s[len(s)-5] == '-') && s[len(s)-3] != ':' {
		s = s[:len(s)-2] + ":" + s[len(s)-2:]
	}

	for _, layout := range isoLayouts {
		var parsed time.Time
		var err error
		if strings.Contains(layout, "-07:00") || layout == time.RFC3339 {
			parsed, err = time.Parse(layout, s)
		} else {
			// No offset in the layout: interpret in the local zone
			parsed, err = time.ParseInLocation(layout, s, t.loc)
		}
		if err == nil {
			return parsed.In(t.loc).Format("2006-01-02"), nil
		}
	}
	return "", fmt.Errorf("unparseable date %q", s)
}

// parseWeight returns the weight in kilograms rounded to two decimals.
// "weight_kg" wins over "weight"; a "unit" of lb converts.
func parseWeight(raw map[string]any) (float64, error) {
	v, ok := raw["weight_kg"]
	if !ok {
		v, ok = raw["weight"]
	}
	if !ok || v == nil {
		return 0, fmt.Errorf("payload missing 'weight' or 'weight_kg'")
	}

	weight, ok := v.(float64)
	if !ok {
		return 0, fmt.Errorf("weight is not a number, got %T", v)
	}

	unit := "kg"
	if u, ok := raw["unit"].(string); ok && u != "" {
		unit = strings.ToLower(u)
	}
	if unit != "kg" {
		weight *= lbPerKg
	}

	return round2(weight), nil
}

// parseFat converts a percentage (0-100) to a fraction rounded to two
// decimals. A missing fat field is not an error.
func parseFat(raw map[string]any) (float64, bool, error) {
	v, ok := raw["fat"]
	if !ok || v == nil {
		return 0, false, nil
	}

	pct, ok := v.(float64)
	if !ok {
		return 0, false, fmt.Errorf("fat is not a number, got %T", v)
	}

	return round2(pct / 100.0), true, nil
}

func round2(v float64) float64 {
	return math.Round(v*100) / 100
}

var _ Transformer = (*Measurement)(nil)
