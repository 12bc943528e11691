package ghcache

import (
	"encoding/json"
	"fmt"
)

// Key derives the storage key for endpoint and params. Map keys are sorted by
// encoding/json, so logically identical params always yield the same key.
func Key(endpoint string, params any) string {
	if params == nil {
		return endpoint + ":"
	}
	b, err := json.Marshal(params)
	if err != nil {
		return endpoint + ":" + fmt.Sprintf("%#v", params)
	}
	return endpoint + ":" + string(b)
}
