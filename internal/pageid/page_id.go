package pageid

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/devrev/groove/internal/data"
	"github.com/devrev/groove/internal/errors"
	"github.com/devrev/groove/internal/validation"
)

// Layout:
//
//	"page" US datasetUrl US modelId US columnId RS | collation keyType valueType RS | key
//
// US is 0x1f and RS is 0x1e. The prefix ends with the first RS, the type
// tag is the following four bytes and the remainder is the encoded key.
const (
	pagePrefix = "page\x1f"
	unitSep    = '\x1f'
	recordSep  = '\x1e'
	tagLength  = 4
)

// PageID is an immutable, totally ordered page identifier
type PageID struct {
	bytes     string
	prefixEnd int
}

// Create builds the page id of the column page whose smallest key is key.
// A nil key yields the "no data" sentinel which sorts before every page.
func Create[K data.Key](datasetURL, modelID, columnID string, valueType data.ValueType, collation data.Collation, key *K) (PageID, error) {
	var keyBytes []byte
	if key != nil {
		var err error
		if keyBytes, err = EncodeKey(*key); err != nil {
			return PageID{}, err
		}
	}
	return CreateEncoded(datasetURL, modelID, columnID, data.KeyTypeOf[K](), valueType, collation, keyBytes)
}

// CreateEncoded builds a page id from an already encoded key
func CreateEncoded(datasetURL, modelID, columnID string, keyType data.KeyType, valueType data.ValueType, collation data.Collation, keyBytes []byte) (PageID, error) {
	if err := validation.Default().ValidateColumnRef(datasetURL, modelID, columnID); err != nil {
		return PageID{}, err
	}
	ct, err := collationTag(collation)
	if err != nil {
		return PageID{}, err
	}
	kt, err := keyTag(keyType)
	if err != nil {
		return PageID{}, err
	}
	vt, err := valueTag(valueType)
	if err != nil {
		return PageID{}, err
	}

	var sb strings.Builder
	sb.Grow(len(pagePrefix) + len(datasetURL) + len(modelID) + len(columnID) + 3 + tagLength + len(keyBytes))
	sb.WriteString(pagePrefix)
	sb.WriteString(datasetURL)
	sb.WriteByte(unitSep)
	sb.WriteString(modelID)
	sb.WriteByte(unitSep)
	sb.WriteString(columnID)
	sb.WriteByte(recordSep)
	prefixEnd := sb.Len()
	sb.WriteByte(ct)
	sb.WriteByte(kt)
	sb.WriteByte(vt)
	sb.WriteByte(recordSep)
	sb.Write(keyBytes)
	return PageID{bytes: sb.String(), prefixEnd: prefixEnd}, nil
}

// FromString parses the serialized form produced by Bytes
func FromString(s string) (PageID, error) {
	if !strings.HasPrefix(s, pagePrefix) {
		return PageID{}, errors.CorruptedData("page id is missing its leading tag", nil).
			WithDetail("page_id", strconv.Quote(s))
	}
	idx := strings.IndexByte(s, recordSep)
	if idx < 0 {
		return PageID{}, errors.CorruptedData("page id has no prefix terminator", nil).
			WithDetail("page_id", strconv.Quote(s))
	}
	prefixEnd := idx + 1
	if len(s) < prefixEnd+tagLength || s[prefixEnd+tagLength-1] != recordSep {
		return PageID{}, errors.CorruptedData("page id has a malformed type tag", nil).
			WithDetail("page_id", strconv.Quote(s))
	}
	if strings.Count(s[len(pagePrefix):idx], string(unitSep)) != 2 {
		return PageID{}, errors.CorruptedData("page id prefix must have three components", nil).
			WithDetail("page_id", strconv.Quote(s))
	}
	id := PageID{bytes: s, prefixEnd: prefixEnd}
	if id.Collation() == data.CollationUnknown || id.KeyType() == data.KeyUnknown || id.ValueType() == data.ValueUnknown {
		return PageID{}, errors.CorruptedData("page id has an unknown type tag", nil).
			WithDetail("page_id", strconv.Quote(s))
	}
	return id, nil
}

// DatasetPrefix is the byte prefix shared by every page of a dataset
func DatasetPrefix(datasetURL string) string {
	return pagePrefix + datasetURL + string(unitSep)
}

// IsValid reports whether p was produced by Create or FromString
func (p PageID) IsValid() bool { return p.prefixEnd > 0 }

// Bytes returns the full serialized id
func (p PageID) Bytes() string { return p.bytes }

// Prefix returns the dataset/model/column portion including its terminator
func (p PageID) Prefix() string { return p.bytes[:p.prefixEnd] }

// ColumnPrefix returns the prefix plus the type tag. Every page of one
// column shares it.
func (p PageID) ColumnPrefix() string {
	if !p.IsValid() {
		return ""
	}
	return p.bytes[:p.prefixEnd+tagLength]
}

// KeyBytes returns the encoded key, empty for the "no data" sentinel
func (p PageID) KeyBytes() []byte {
	if !p.IsValid() {
		return nil
	}
	return []byte(p.bytes[p.prefixEnd+tagLength:])
}

// HasKey reports whether the id carries a key
func (p PageID) HasKey() bool {
	return p.IsValid() && len(p.bytes) > p.prefixEnd+tagLength
}

func (p PageID) Collation() data.Collation {
	if !p.IsValid() {
		return data.CollationUnknown
	}
	switch p.bytes[p.prefixEnd] {
	case 's':
		return data.CollationSorted
	case 'i':
		return data.CollationIndexed
	}
	return data.CollationUnknown
}

func (p PageID) KeyType() data.KeyType {
	if !p.IsValid() {
		return data.KeyUnknown
	}
	switch p.bytes[p.prefixEnd+1] {
	case 'c':
		return data.KeyCategory
	case 'd':
		return data.KeyDouble
	case 'i':
		return data.KeyInt64
	}
	return data.KeyUnknown
}

func (p PageID) ValueType() data.ValueType {
	if !p.IsValid() {
		return data.ValueUnknown
	}
	switch p.bytes[p.prefixEnd+2] {
	case 'd':
		return data.ValueDouble
	case 'i':
		return data.ValueInt64
	case 's':
		return data.ValueString
	}
	return data.ValueUnknown
}

func (p PageID) components() []string {
	if !p.IsValid() {
		return []string{"", "", ""}
	}
	return strings.SplitN(p.bytes[len(pagePrefix):p.prefixEnd-1], string(unitSep), 3)
}

func (p PageID) DatasetURL() string { return p.components()[0] }

func (p PageID) ModelID() string { return p.components()[1] }

func (p PageID) ColumnID() string { return p.components()[2] }

// Compare orders ids byte-lexicographically
func (p PageID) Compare(other PageID) int {
	return strings.Compare(p.bytes, other.bytes)
}

func (p PageID) Equal(other PageID) bool {
	return p.bytes == other.bytes
}

func (p PageID) String() string {
	return strconv.Quote(p.bytes)
}

// DecodePageKey decodes the key of p as K; ok is false for the sentinel
func DecodePageKey[K data.Key](p PageID) (key K, ok bool, err error) {
	if want := data.KeyTypeOf[K](); p.KeyType() != want {
		return key, false, errors.TypeMismatch("page key", want.String(), p.KeyType().String())
	}
	if !p.HasKey() {
		return key, false, nil
	}
	key, err = DecodeKey[K](p.KeyBytes())
	if err != nil {
		return key, false, err
	}
	return key, true, nil
}

func collationTag(c data.Collation) (byte, error) {
	switch c {
	case data.CollationSorted:
		return 's', nil
	case data.CollationIndexed:
		return 'i', nil
	}
	return 0, errors.InvalidArgument(fmt.Sprintf("invalid collation %s", c), nil)
}

func keyTag(k data.KeyType) (byte, error) {
	switch k {
	case data.KeyCategory:
		return 'c', nil
	case data.KeyDouble:
		return 'd', nil
	case data.KeyInt64:
		return 'i', nil
	}
	return 0, errors.InvalidArgument(fmt.Sprintf("invalid key type %s", k), nil)
}

func valueTag(v data.ValueType) (byte, error) {
	switch v {
	case data.ValueDouble:
		return 'd', nil
	case data.ValueInt64:
		return 'i', nil
	case data.ValueString:
		return 's', nil
	}
	return 0, errors.InvalidArgument(fmt.Sprintf("invalid value type %s", v), nil)
}
