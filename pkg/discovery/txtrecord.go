package discovery

import (
	"fmt"
	"sort"
	"strings"
)

// TXTRecordMap is a map of TXT record key-value pairs.
type TXTRecordMap map[string]string

// EncodeTXT creates the TXT records for info.
func EncodeTXT(info *Info) TXTRecordMap {
	txt := TXTRecordMap{
		TXTKeyUDN:      info.UDN,
		TXTKeyLocation: info.Location,
	}
	if info.Path != "" {
		txt[TXTKeyPath] = info.Path
	}
	return txt
}

// DecodeTXT parses TXT records into an Info. Port and FriendlyName are not
// carried in TXT and stay empty.
func DecodeTXT(txt TXTRecordMap) (*Info, error) {
	info := &Info{}
	var ok bool

	if info.UDN, ok = txt[TXTKeyUDN]; !ok || info.UDN == "" {
		return nil, fmt.Errorf("%w: %s", ErrMissingRequired, TXTKeyUDN)
	}
	if info.Location, ok = txt[TXTKeyLocation]; !ok || info.Location == "" {
		return nil, fmt.Errorf("%w: %s", ErrMissingRequired, TXTKeyLocation)
	}
	info.Path = txt[TXTKeyPath]
	return info, nil
}

// TXTRecordsToStrings converts a TXTRecordMap to "key=value" strings
// sorted by key.
func TXTRecordsToStrings(txt TXTRecordMap) []string {
	result := make([]string, 0, len(txt))
	for k, v := range txt {
		result = append(result, k+"="+v)
	}
	sort.Strings(result)
	return result
}

// StringsToTXTRecords parses "key=value" strings. Keys are matched
// case-insensitively and stored lower case.
func StringsToTXTRecords(strs []string) TXTRecordMap {
	txt := make(TXTRecordMap)
	for _, s := range strs {
		if s == "" {
			continue
		}
		k, v, _ := strings.Cut(s, "=")
		txt[strings.ToLower(k)] = v
	}
	return txt
}
