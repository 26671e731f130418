package badger

import (
	"encoding/binary"
	"encoding/json"
	"fmt"

	"github.com/marmos91/dittows/pkg/workspace"
)

// Workspace records are JSON so the database stays inspectable with
// badger's CLI tools and new Info fields decode as zero values in old
// records. The schema version is a fixed-width binary integer.

// workspaceRecord wraps the Info with the schema version it was written
// under.
type workspaceRecord struct {
	Version uint32          `json:"version"`
	Info    *workspace.Info `json:"info"`
}

func encodeWorkspace(info *workspace.Info) ([]byte, error) {
	data, err := json.Marshal(workspaceRecord{Version: schemaVersion, Info: info})
	if err != nil {
		return nil, fmt.Errorf("failed to encode workspace %s: %w", info.ID, err)
	}
	return data, nil
}

func decodeWorkspace(data []byte) (*workspace.Info, error) {
	var rec workspaceRecord
	if err := json.Unmarshal(data, &rec); err != nil {
		return nil, fmt.Errorf("failed to decode workspace record: %w", err)
	}
	if rec.Info == nil {
		return nil, fmt.Errorf("workspace record has no info")
	}
	if rec.Version > schemaVersion {
		return nil, fmt.Errorf("workspace record version %d is newer than supported %d", rec.Version, schemaVersion)
	}
	return rec.Info, nil
}

func encodeVersion(v uint32) []byte {
	buf := make([]byte, 4)
	binary.BigEndian.PutUint32(buf, v)
	return buf
}

func decodeVersion(data []byte) (uint32, error) {
	if len(data) != 4 {
		return 0, fmt.Errorf("invalid version length %d", len(data))
	}
	return binary.BigEndian.Uint32(data), nil
}
