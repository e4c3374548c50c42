package discovery

import (
	"sort"
	"strings"
)

// TXTRecordMap is a map of TXT record key-value pairs.
type TXTRecordMap map[string]string

// EncodeTXT builds the records for an advertiser.
func EncodeTXT(role, name string) TXTRecordMap {
	txt := TXTRecordMap{
		TXTKeyRole:    role,
		TXTKeyVersion: ProtocolVersion,
	}
	if name != "" {
		txt[TXTKeyName] = name
	}
	return txt
}

// TXTRecordsToStrings converts a map to "key=value" strings sorted by key.
func TXTRecordsToStrings(txt TXTRecordMap) []string {
	out := make([]string, 0, len(txt))
	for k, v := range txt {
		out = append(out, k+"="+v)
	}
	sort.Strings(out)
	return out
}

// StringsToTXTRecords parses "key=value" strings. A string without "=" is
// a key with an empty value.
func StringsToTXTRecords(records []string) TXTRecordMap {
	txt := make(TXTRecordMap, len(records))
	for _, r := range records {
		k, v, _ := strings.Cut(r, "=")
		if k == "" {
			continue
		}
		txt[k] = v
	}
	return txt
}
