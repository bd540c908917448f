package convert

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"sort"
	"strconv"

	"github.com/devrev/groove/internal/data"
	"github.com/devrev/groove/internal/errors"
)

// record is one decoded input object
type record map[string]any

// ReadModelFile converts the data file of mc into a frame
func ReadModelFile(mc ModelConfig) (data.AnyFrame, error) {
	if mc.DataPath == "" {
		return nil, fmt.Errorf("model %s has no data_path", mc.ModelID)
	}
	f, err := os.Open(mc.DataPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open data for model %s: %w", mc.ModelID, err)
	}
	defer f.Close()
	return ReadModel(mc, f)
}

// ReadModel converts a stream of JSON objects into a frame keyed by
// mc.KeyField with one column per configured column. Rows are sorted by
// key; an indexed model rejects duplicate keys.
func ReadModel(mc ModelConfig, r io.Reader) (data.AnyFrame, error) {
	records, err := decodeRecords(r)
	if err != nil {
		return nil, fmt.Errorf("model %s: %w", mc.ModelID, err)
	}
	if len(records) == 0 {
		return nil, errors.InvalidArgument(fmt.Sprintf("model %s has no rows", mc.ModelID), nil)
	}
	kt, err := mc.keyType()
	if err != nil {
		return nil, err
	}
	switch kt {
	case data.KeyInt64:
		return buildFrame(mc, records, parseInt64)
	case data.KeyDouble:
		return buildFrame(mc, records, parseDouble)
	case data.KeyCategory:
		return buildFrame(mc, records, parseCategory)
	}
	return nil, errors.Unsupported(fmt.Sprintf("key type %s", kt))
}

func decodeRecords(r io.Reader) ([]record, error) {
	dec := json.NewDecoder(r)
	dec.UseNumber()
	var records []record
	for {
		var rec record
		err := dec.Decode(&rec)
		if err == io.EOF {
			return records, nil
		}
		if err != nil {
			return nil, fmt.Errorf("row %d: %w", len(records), err)
		}
		records = append(records, rec)
	}
}

func buildFrame[K data.Key](mc ModelConfig, records []record, parseKey func(any) (K, error)) (*data.Frame[K], error) {
	collation, err := mc.collation()
	if err != nil {
		return nil, err
	}

	keys := make([]K, len(records))
	for i, rec := range records {
		raw, ok := rec[mc.KeyField]
		if !ok || raw == nil {
			return nil, fmt.Errorf("model %s row %d: missing key field %s", mc.ModelID, i, mc.KeyField)
		}
		if keys[i], err = parseKey(raw); err != nil {
			return nil, fmt.Errorf("model %s row %d: %w", mc.ModelID, i, err)
		}
	}

	order := make([]int, len(records))
	for i := range order {
		order[i] = i
	}
	sort.SliceStable(order, func(a, b int) bool { return data.CompareKeys(keys[order[a]], keys[order[b]]) < 0 })

	sortedKeys := make([]K, len(order))
	sorted := make([]record, len(order))
	for i, j := range order {
		sortedKeys[i], sorted[i] = keys[j], records[j]
		if i > 0 && collation == data.CollationIndexed && data.CompareKeys(sortedKeys[i-1], sortedKeys[i]) == 0 {
			return nil, errors.InvalidArgument(
				fmt.Sprintf("model %s: duplicate key %v in indexed model", mc.ModelID, sortedKeys[i]), nil)
		}
	}

	f, err := data.NewFrame(sortedKeys)
	if err != nil {
		return nil, err
	}
	for _, id := range mc.ColumnIDs() {
		col := mc.Columns[id]
		vt, err := parseValueType(col.ValueType)
		if err != nil {
			return nil, err
		}
		switch vt {
		case data.ValueDouble:
			err = addColumn(f, id, col, sorted, parseDouble)
		case data.ValueInt64:
			err = addColumn(f, id, col, sorted, parseInt64)
		case data.ValueString:
			err = addColumn(f, id, col, sorted, parseString)
		}
		if err != nil {
			return nil, fmt.Errorf("model %s: %w", mc.ModelID, err)
		}
	}
	return f, nil
}

func addColumn[K data.Key, V data.Value](f *data.Frame[K], id string, col ColumnConfig, records []record, parse func(any) (V, error)) error {
	values := make([]V, len(records))
	fids := make([]data.Fidelity, len(records))
	for i, rec := range records {
		fid := data.FidelityValid
		if col.FidelityField != "" {
			if raw, ok := rec[col.FidelityField]; ok && raw != nil {
				parsed, err := parseFidelity(raw)
				if err != nil {
					return fmt.Errorf("column %s row %d: %w", id, i, err)
				}
				fid = parsed
			}
		}

		raw, ok := rec[id]
		if !ok || raw == nil {
			if !col.NullsAllowed && col.FidelityField == "" {
				return fmt.Errorf("column %s row %d: value is missing", id, i)
			}
			if fid == data.FidelityValid {
				fid = data.FidelityNoData
			}
			fids[i] = fid
			continue
		}
		v, err := parse(raw)
		if err != nil {
			return fmt.Errorf("column %s row %d: %w", id, i, err)
		}
		values[i], fids[i] = v, fid
	}
	return data.AddColumn(f, id, values, fids)
}

func parseInt64(raw any) (int64, error) {
	switch v := raw.(type) {
	case json.Number:
		n, err := v.Int64()
		if err != nil {
			return 0, fmt.Errorf("%s is not an int64", v)
		}
		return n, nil
	case string:
		return strconv.ParseInt(v, 10, 64)
	}
	return 0, fmt.Errorf("expected an integer, got %T", raw)
}

func parseDouble(raw any) (float64, error) {
	switch v := raw.(type) {
	case json.Number:
		return v.Float64()
	case string:
		return strconv.ParseFloat(v, 64)
	}
	return 0, fmt.Errorf("expected a number, got %T", raw)
}

func parseString(raw any) (string, error) {
	switch v := raw.(type) {
	case string:
		return v, nil
	case json.Number:
		return v.String(), nil
	case bool:
		return strconv.FormatBool(v), nil
	}
	return "", fmt.Errorf("expected a string, got %T", raw)
}

// parseCategory accepts a slash separated path or an array of segments
func parseCategory(raw any) (data.Category, error) {
	switch v := raw.(type) {
	case string:
		return data.ParseCategory(v), nil
	case []any:
		segments := make([]string, len(v))
		for i, s := range v {
			str, ok := s.(string)
			if !ok {
				return nil, fmt.Errorf("category segment %d is %T, not a string", i, s)
			}
			segments[i] = str
		}
		return data.NewCategory(segments...), nil
	}
	return nil, fmt.Errorf("expected a category path, got %T", raw)
}

func parseFidelity(raw any) (data.Fidelity, error) {
	if s, ok := raw.(string); ok {
		for f := data.FidelityNoData; f <= data.FidelityInvalid; f++ {
			if f.String() == s {
				return f, nil
			}
		}
		return data.FidelityUnknown, fmt.Errorf("unknown fidelity %q", s)
	}
	n, err := parseInt64(raw)
	if err != nil {
		return data.FidelityUnknown, err
	}
	if f := data.Fidelity(n); n >= 0 && n <= 255 && f.IsValid() {
		return f, nil
	}
	return data.FidelityUnknown, fmt.Errorf("fidelity %d is out of range", n)
}
