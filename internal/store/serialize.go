package store

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"

	"github.com/golang/snappy"

	"github.com/genieflow/genieflow/internal/common/errors"
)

// Versioned is implemented by every type the Store persists, so
// Serialize/Deserialize can stamp and check the schema_version that spec
// §4.6 requires.
type Versioned interface {
	SchemaVersion() int
}

// Serialize produces the `"{schema_version}:{compression_flag}:{payload}"`
// wire format spec §4.6/§6 mandates, optionally snappy-compressing the JSON
// payload. Grounded on
// original_source/genie_flow/session_lock.py's _serialize.
func Serialize(v Versioned, compress bool) ([]byte, error) {
	payload, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}

	flag := "0"
	if compress {
		payload = snappy.Encode(nil, payload)
		flag = "1"
	}

	header := fmt.Sprintf("%d:%s:", v.SchemaVersion(), flag)
	out := make([]byte, 0, len(header)+len(payload))
	out = append(out, header...)
	out = append(out, payload...)
	return out, nil
}

// Deserialize splits the wire format back into its schema_version, whether
// it was compressed, and the (decompressed) JSON payload. It does not
// unmarshal into v's type - callers pair this with json.Unmarshal once the
// version is confirmed to match, rejecting mismatches per spec §3: "load
// fails (no auto-migration)".
func Deserialize(data []byte, className string, currentVersion int) (payload []byte, err error) {
	parts := bytes.SplitN(data, []byte(":"), 3)
	if len(parts) != 3 {
		return nil, fmt.Errorf("malformed serialized payload for %s: expected 3 ':'-separated parts, got %d", className, len(parts))
	}

	persistedVersion, err := strconv.Atoi(string(parts[0]))
	if err != nil {
		return nil, fmt.Errorf("malformed schema_version in payload for %s: %w", className, err)
	}
	if persistedVersion != currentVersion {
		return nil, errors.SchemaMismatch(className, persistedVersion, currentVersion)
	}

	compressed := string(parts[1]) == "1"
	payload = parts[2]
	if compressed {
		payload, err = snappy.Decode(nil, payload)
		if err != nil {
			return nil, fmt.Errorf("failed to decompress payload for %s: %w", className, err)
		}
	}
	return payload, nil
}
