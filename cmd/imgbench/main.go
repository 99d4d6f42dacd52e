package main

import (
	"encoding/binary"
	"fmt"
	"hash/crc32"
	"io"
	"log"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/gpu-ninja/hfa"
	"github.com/silverisntgold/randshiro"
)

const blockSize = 64      // Block dimension in pixels, matching the overview block size.
const rasterBlocks = 64   // Blocks per side, giving a rasterBlocks x rasterBlocks block grid.
const totalBlocks = 2000  // Total number of blocks to write/read.
const queueDepth = 20     // Concurrent users or operations.

// tileMu serializes the workers' calls into the shared Tile, since an
// hfa Tree is not safe for concurrent use.
var tileMu sync.Mutex

type operation struct {
	isWrite bool
	*block
}

type block struct {
	col, row int
	crc      uint32
}

func main() {
	rng := randshiro.New128pp()
	randReader := &randshiroReader{rng: rng}

	tempDir, err := os.MkdirTemp("", "hfa-benchmark")
	if err != nil {
		log.Fatal(err)
	}
	defer os.RemoveAll(tempDir)

	path := filepath.Join(tempDir, "test.img")
	container, err := hfa.Create(path)
	if err != nil {
		log.Fatal(err)
	}

	tile, err := newBenchmarkLayer(container)
	if err != nil {
		log.Fatal(err)
	}

	var blocks []block
	for i := 0; i < totalBlocks; i++ {
		for {
			newBlock := block{
				col: int(rng.Uint64() % uint64(rasterBlocks)),
				row: int(rng.Uint64() % uint64(rasterBlocks)),
			}

			if blockTaken(newBlock, blocks) {
				continue
			}

			blocks = append(blocks, newBlock)
			break
		}
	}

	var writeOperations []operation
	for i := range blocks {
		writeOperations = append(writeOperations, operation{
			isWrite: true,
			block:   &blocks[i],
		})
	}

	var readOperations []operation
	for i := range blocks {
		readOperations = append(readOperations, operation{
			isWrite: false,
			block:   &blocks[i],
		})
	}

	var wg sync.WaitGroup
	jobCh := make(chan operation)

	for i := 0; i < queueDepth; i++ {
		go worker(&wg, jobCh, randReader, tile)
	}

	// Start benchmark.
	start := time.Now()

	for _, op := range writeOperations {
		wg.Add(1)
		jobCh <- op
	}

	// Wait for all write operations to complete.
	wg.Wait()

	for _, op := range readOperations {
		wg.Add(1)
		jobCh <- op
	}

	close(jobCh)

	// Wait for all read operations to complete.
	wg.Wait()

	// Stop benchmark.
	elapsed := time.Since(start)

	iops := float64(len(writeOperations)+len(readOperations)) / elapsed.Seconds()
	throughput := iops * float64(blockSize*blockSize) / (1024 * 1024) // MB/s

	log.Printf("IOPS: %.2f, Throughput: %.2f MB/s\n", iops, throughput)

	if err := container.Close(); err != nil {
		log.Fatal(err)
	}
}

// newBenchmarkLayer builds a single inline Eimg_Layer sized rasterBlocks x
// rasterBlocks blocks, with one blockinfo entry per block that has no space
// allocated yet and is marked invalid and compressed, so WriteTile accepts
// it and allocates the block on its first write. Unlike CreateOverview's
// inline branch, it does not preallocate valid uncompressed blocks.
func newBenchmarkLayer(c *hfa.Container) (*hfa.Tile, error) {
	tree := c.Tree()

	layer, err := tree.NewChild(c.Root(), "Band1", "Eimg_Layer")
	if err != nil {
		return nil, err
	}

	size := blockSize * rasterBlocks
	fields := []struct {
		path string
		v    int
	}{
		{":width", size},
		{":height", size},
		{":blockWidth", blockSize},
		{":blockHeight", blockSize},
		{":pixelType", int(hfa.PixelU8)},
	}
	for _, f := range fields {
		if err := tree.SetInt(layer, f.path, f.v); err != nil {
			return nil, err
		}
	}

	dms, err := tree.NewChild(layer, "RasterDMS", "Edms_State")
	if err != nil {
		return nil, err
	}

	for i := 0; i < rasterBlocks*rasterBlocks; i++ {
		prefix := fmt.Sprintf(":blockinfo[%d].", i)
		blockFields := []struct {
			suffix string
			v      int
		}{
			{"offset", 0},
			{"size", 0},
			{"logvalid", 0},
			{"compressionType", 1},
		}
		for _, f := range blockFields {
			if err := tree.SetInt(dms, prefix+f.suffix, f.v); err != nil {
				return nil, err
			}
		}
	}

	return hfa.NewInlineTile(tree, layer, false)
}

func worker(jobCompleted *sync.WaitGroup, jobCh <-chan operation, randReader io.Reader, tile *hfa.Tile) {
	for op := range jobCh {
		data := make([]byte, blockSize*blockSize)
		if op.isWrite {
			if _, err := randReader.Read(data); err != nil {
				log.Fatal(err)
			}

			tileMu.Lock()
			if err := tile.WriteTile(op.col, op.row, data); err != nil {
				log.Fatal(err)
			}
			tileMu.Unlock()

			op.crc = crc32.ChecksumIEEE(data)
		} else {
			tileMu.Lock()
			if err := tile.ReadTile(op.col, op.row, data); err != nil {
				log.Fatal(err)
			}
			tileMu.Unlock()

			// Compare written and read CRCs (to check for data corruption).
			if crc := crc32.ChecksumIEEE(data); crc != op.crc {
				log.Fatalf("CRC mismatch: %x != %x\n", crc, op.crc)
			}
		}
		jobCompleted.Done()
	}
}

type randshiroReader struct {
	rng *randshiro.Gen
}

func (r *randshiroReader) Read(p []byte) (int, error) {
	n := 0
	for len(p[n:]) >= 8 {
		binary.LittleEndian.PutUint64(p[n:], r.rng.Uint64())
		n += 8
	}
	if n < len(p) {
		remainingBytes := r.rng.Uint64()
		for i := n; i < len(p); i++ {
			p[i] = byte(remainingBytes)
			remainingBytes >>= 8
		}
		n = len(p)
	}
	return n, nil
}

func blockTaken(newBlock block, blocks []block) bool {
	for _, b := range blocks {
		if b.col == newBlock.col && b.row == newBlock.row {
			return true
		}
	}
	return false
}
