package cache

import (
	"encoding/json"
	"strconv"
	"strings"

	"github.com/covgateway/gateway/bacnetobj"
)

func parseIndexEntry(member string) (bacnetobj.Type, uint32, bool) {
	parts := strings.SplitN(member, ":", 2)
	if len(parts) != 2 {
		return 0, 0, false
	}
	objType, ok := bacnetobj.ParseType(parts[0])
	if !ok {
		return 0, 0, false
	}
	instance, err := strconv.ParseUint(parts[1], 10, 32)
	if err != nil {
		return 0, 0, false
	}
	return objType, uint32(instance), true
}

// decodeIndex parses the objects:index value, a JSON array of
// "type:instance" strings. An empty/missing value decodes to nil.
func decodeIndex(data []byte) ([]string, error) {
	if len(data) == 0 {
		return nil, nil
	}
	var members []string
	if err := json.Unmarshal(data, &members); err != nil {
		return nil, err
	}
	return members, nil
}

func encodeIndex(members []string) ([]byte, error) {
	return json.Marshal(members)
}

func addToIndex(members []string, entry string) []string {
	for _, m := range members {
		if m == entry {
			return members
		}
	}
	return append(members, entry)
}

func removeFromIndex(members []string, entry string) []string {
	out := members[:0]
	for _, m := range members {
		if m != entry {
			out = append(out, m)
		}
	}
	return out
}
