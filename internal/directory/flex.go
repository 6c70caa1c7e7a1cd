package directory

import (
	"bytes"
	"encoding/json"
	"strconv"
	"strings"
)

// flexBool accepts true/false, 0/1 and their string spellings. Anything
// else, including null, decodes as false.
type flexBool bool

func (b *flexBool) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)

	var v interface{}
	if err := json.Unmarshal(data, &v); err != nil {
		return err
	}

	switch typed := v.(type) {
	case bool:
		*b = flexBool(typed)
	case float64:
		*b = typed != 0
	case string:
		switch strings.ToLower(strings.TrimSpace(typed)) {
		case "true", "1", "yes", "on":
			*b = true
		default:
			*b = false
		}
	default:
		*b = false
	}
	return nil
}

// flexPort accepts a port as a JSON number or numeric string. A value that
// is not a valid port decodes as invalidPort so that one bad entry does not
// reject the whole directory.
type flexPort int

const invalidPort flexPort = -1

func (p *flexPort) UnmarshalJSON(data []byte) error {
	var v interface{}
	if err := json.Unmarshal(data, &v); err != nil {
		return err
	}

	n := -1
	switch typed := v.(type) {
	case nil:
		*p = 0
		return nil
	case float64:
		if typed == float64(int(typed)) {
			n = int(typed)
		}
	case string:
		if parsed, err := strconv.Atoi(strings.TrimSpace(typed)); err == nil {
			n = parsed
		}
	}

	if n < 0 || n > 65535 {
		*p = invalidPort
		return nil
	}
	*p = flexPort(n)
	return nil
}
