package config

import (
	"encoding/json"
	"os"
)

// overrideFile mirrors the teacher's nodeConfig: a JSON document where every
// field is optional and only overrides the corresponding Default field when
// present. Absent fields keep the compiled-in default; a field that is
// present overrides it with its value, zero included.
type overrideFile struct {
	NumShards              *int `json:"num_shards"`
	ShardSlots             *int `json:"shard_slots"`
	ObjsPerTr              *int `json:"objs_per_tr"`
	Pool                   *int `json:"pool"`
	NumPuppets             *int `json:"num_puppets"`
	NumHashes              *int `json:"num_hashes"`
	NumComparators         *int `json:"num_comparators"`
	TxDuration             *int `json:"tx_duration"`
	MaxPendingTransactions *int `json:"max_pending_transactions"`
}

// Load reads an optional JSON override file and applies it on top of
// Default, following the teacher's loadConfig/applyGlobalConfig split:
// load the raw document, then selectively copy present fields.
func Load(path string) (Params, error) {
	p := Default
	if path == "" {
		return p, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return Params{}, err
	}

	var raw overrideFile
	if err := json.Unmarshal(data, &raw); err != nil {
		return Params{}, err
	}

	applyOverrides(&p, raw)
	if err := p.Validate(); err != nil {
		return Params{}, err
	}
	return p, nil
}

func applyOverrides(p *Params, raw overrideFile) {
	if raw.NumShards != nil {
		p.NumShards = *raw.NumShards
	}
	if raw.ShardSlots != nil {
		p.ShardSlots = *raw.ShardSlots
	}
	if raw.ObjsPerTr != nil {
		p.ObjsPerTr = *raw.ObjsPerTr
	}
	if raw.Pool != nil {
		p.Pool = *raw.Pool
	}
	if raw.NumPuppets != nil {
		p.NumPuppets = *raw.NumPuppets
	}
	if raw.NumHashes != nil {
		p.NumHashes = *raw.NumHashes
	}
	if raw.NumComparators != nil {
		p.NumComparators = *raw.NumComparators
	}
	if raw.TxDuration != nil {
		p.TxDuration = *raw.TxDuration
	}
	if raw.MaxPendingTransactions != nil {
		p.MaxPendingTransactions = *raw.MaxPendingTransactions
	}
}
