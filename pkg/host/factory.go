package host

import (
	"github.com/cuemby/blockengine/pkg/block"
	"github.com/cuemby/blockengine/pkg/blocks/buffer"
	"github.com/cuemby/blockengine/pkg/blocks/concurrency"
	"github.com/cuemby/blockengine/pkg/blocks/distribution"
	"github.com/cuemby/blockengine/pkg/blocks/index"
	"github.com/cuemby/blockengine/pkg/blocks/optimization"
	"github.com/cuemby/blockengine/pkg/blocks/partitioning"
	"github.com/cuemby/blockengine/pkg/blocks/storage"
	"github.com/cuemby/blockengine/pkg/blocks/transaction"
)

// blockFactory constructs a fresh block instance from a registered
// type key and id. GetBlockTypes (spec §6) enumerates exactly these
// keys, so the catalog and the factory can never drift apart.
var blockFactory = map[string]func(id string) block.Block{
	"heap_file":            func(id string) block.Block { return storage.NewHeapFile(id) },
	"lsm_tree":             func(id string) block.Block { return storage.NewLSMTree(id) },
	"clustered_storage":    func(id string) block.Block { return storage.NewClusteredStorage(id) },
	"columnar_storage":     func(id string) block.Block { return storage.NewColumnarStorage(id) },
	"btree_index":          func(id string) block.Block { return index.NewBTreeIndex(id) },
	"hash_index":           func(id string) block.Block { return index.NewHashIndex(id) },
	"covering_index":       func(id string) block.Block { return index.NewCoveringIndex(id) },
	"lru_buffer":           func(id string) block.Block { return buffer.NewLRUBuffer(id) },
	"clock_buffer":         func(id string) block.Block { return buffer.NewClockBuffer(id) },
	"mvcc":                 func(id string) block.Block { return concurrency.NewMVCC(id) },
	"row_lock":             func(id string) block.Block { return concurrency.NewRowLock(id) },
	"wal":                  func(id string) block.Block { return transaction.NewWAL(id) },
	"bloom_filter":         func(id string) block.Block { return optimization.NewBloomFilterBlock(id) },
	"dictionary_encoding":  func(id string) block.Block { return optimization.NewDictionaryEncoding(id) },
	"statistics_collector": func(id string) block.Block { return optimization.NewStatsCollector(id) },
	"hash_partitioner":     func(id string) block.Block { return partitioning.NewHashPartitioner(id) },
	"replication":          func(id string) block.Block { return distribution.NewReplication(id) },
}

// BlockTypeDescriptor is one entry of the static catalog GetBlockTypes
// returns.
type BlockTypeDescriptor struct {
	Type        string `json:"type"`
	Name        string `json:"name"`
	Category    string `json:"category"`
	Description string `json:"description"`
}

// GetBlockTypes returns the static catalog of every constructible block
// type (spec §6). Built by constructing one throwaway instance of each
// type to read its metadata, rather than hand-duplicating names here.
func GetBlockTypes() []BlockTypeDescriptor {
	out := make([]BlockTypeDescriptor, 0, len(blockFactory))
	for blockType, ctor := range blockFactory {
		meta := ctor("catalog-probe").Metadata()
		out = append(out, BlockTypeDescriptor{
			Type: blockType, Name: meta.Name, Category: meta.Category, Description: meta.Description,
		})
	}
	sortDescriptors(out)
	return out
}

func sortDescriptors(out []BlockTypeDescriptor) {
	for i := 1; i < len(out); i++ {
		for j := i; j > 0 && out[j-1].Type > out[j].Type; j-- {
			out[j-1], out[j] = out[j], out[j-1]
		}
	}
}
