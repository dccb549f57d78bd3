// Package registry is the Smart Property Registry: token metadata and
// issuance, versioned per block so a reorg can pop changes back off.
package registry

import (
	"errors"
	"fmt"
	"sort"

	"TradeLedger/internal/kvstore"

	jsoniter "github.com/json-iterator/go"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

var (
	ErrNotFound        = errors.New("property not found")
	ErrInvalidProperty = errors.New("invalid property")
	ErrIDsExhausted    = errors.New("property ids exhausted")
)

const (
	prefixProperty  = "sp"
	prefixHistory   = "sph"
	prefixWatermark = "spw"
)

// historyEntry is the state of a property before the first change made to
// it in a block. Created is set when the block created the property.
type historyEntry struct {
	Created  bool      `json:"created"`
	Previous *Property `json:"previous,omitempty"`
}

// Registry holds every property in memory and mirrors changes into the KV
// store together with per-block undo records.
// Not thread-safe: owned by the single writer of the core engine.
type Registry struct {
	store      kvstore.Store
	properties map[uint32]*Property
}

// New loads the registry from store.
func New(store kvstore.Store) (*Registry, error) {
	r := &Registry{
		store:      store,
		properties: make(map[uint32]*Property),
	}
	if err := r.reload(); err != nil {
		return nil, err
	}
	return r, nil
}

func (r *Registry) reload() error {
	r.properties = make(map[uint32]*Property)
	return r.store.Iterate(kvstore.Key(prefixProperty), func(_, value []byte) bool {
		var p Property
		if err := json.Unmarshal(value, &p); err != nil {
			panic(fmt.Sprintf("FATAL: corrupt property record: %v", err))
		}
		r.properties[p.ID] = &p
		return true
	})
}

func propertyKey(id uint32) []byte {
	return kvstore.Key(prefixProperty, uint64(id))
}

func historyKey(height int64, blockHash string, id uint32) []byte {
	return kvstore.Key(prefixHistory, height, blockHash, uint64(id))
}

// Get returns a copy of the property.
func (r *Registry) Get(id uint32) (Property, bool) {
	p, ok := r.properties[id]
	if !ok {
		return Property{}, false
	}
	cp := *p
	if p.Contract != nil {
		terms := *p.Contract
		cp.Contract = &terms
	}
	return cp, true
}

// Exists reports whether id is registered.
func (r *Registry) Exists(id uint32) bool {
	_, ok := r.properties[id]
	return ok
}

// TotalIssued implements ledger.SupplySource.
func (r *Registry) TotalIssued(id uint32) (int64, bool) {
	p, ok := r.properties[id]
	if !ok {
		return 0, false
	}
	return p.TotalIssued, true
}

// NextID returns the id the next property in ecosystem will receive.
func (r *Registry) NextID(eco Ecosystem) uint32 {
	next := firstMainID
	if eco == EcosystemTest {
		next = firstTestID
	}
	for id := range r.properties {
		if EcosystemOf(id) == eco && id >= next {
			next = id + 1
		}
	}
	return next
}

// Create registers p in block (height, blockHash) and returns its id.
func (r *Registry) Create(p Property, height int64, blockHash string) (uint32, error) {
	if !p.Ecosystem.Valid() {
		return 0, fmt.Errorf("%w: ecosystem %d", ErrInvalidProperty, p.Ecosystem)
	}
	if p.Name == "" {
		return 0, fmt.Errorf("%w: empty name", ErrInvalidProperty)
	}
	if p.Kind.IsContract() && p.Contract == nil {
		return 0, fmt.Errorf("%w: contract without terms", ErrInvalidProperty)
	}

	id := r.NextID(p.Ecosystem)
	if (p.Ecosystem == EcosystemMain && id >= testBase) || id == 0 {
		return 0, ErrIDsExhausted
	}
	p.ID = id
	p.CreationBlock = height
	p.UpdateBlock = height

	if err := r.write(&p, height, blockHash, historyEntry{Created: true}); err != nil {
		return 0, err
	}
	return id, nil
}

// Update replaces an existing property, recording its previous version
// for the block unless the block already changed it.
func (r *Registry) Update(p Property, height int64, blockHash string) error {
	old, ok := r.properties[p.ID]
	if !ok {
		return fmt.Errorf("%w: %d", ErrNotFound, p.ID)
	}
	prev := *old
	p.UpdateBlock = height
	return r.write(&p, height, blockHash, historyEntry{Previous: &prev})
}

// AdjustIssued adds delta to the issued supply of id.
func (r *Registry) AdjustIssued(id uint32, delta int64, height int64, blockHash string) error {
	p, ok := r.Get(id)
	if !ok {
		return fmt.Errorf("%w: %d", ErrNotFound, id)
	}
	next := p.TotalIssued + delta
	if next < 0 || (delta > 0 && next < p.TotalIssued) {
		return fmt.Errorf("%w: issued supply of %d would become %d", ErrInvalidProperty, id, next)
	}
	p.TotalIssued = next
	return r.Update(p, height, blockHash)
}

func (r *Registry) write(p *Property, height int64, blockHash string, undo historyEntry) error {
	value, err := json.Marshal(p)
	if err != nil {
		return fmt.Errorf("encode property %d: %w", p.ID, err)
	}

	batch := r.store.NewBatch()
	batch.Set(propertyKey(p.ID), value)

	hk := historyKey(height, blockHash, p.ID)
	existing, err := r.store.Get(hk)
	if err != nil {
		return fmt.Errorf("read history for %d: %w", p.ID, err)
	}
	if existing == nil {
		undoValue, err := json.Marshal(undo)
		if err != nil {
			return fmt.Errorf("encode history for %d: %w", p.ID, err)
		}
		batch.Set(hk, undoValue)
	}

	if err := batch.Write(); err != nil {
		return fmt.Errorf("write property %d: %w", p.ID, err)
	}
	r.properties[p.ID] = p
	return nil
}

// PopBlock undoes every change recorded for block (height, blockHash) and
// returns how many properties were affected.
func (r *Registry) PopBlock(height int64, blockHash string) (int, error) {
	prefix := kvstore.Key(prefixHistory, height, blockHash)
	batch := r.store.NewBatch()
	var decodeErr error
	count := 0

	err := r.store.Iterate(prefix, func(key, value []byte) bool {
		var undo historyEntry
		if err := json.Unmarshal(value, &undo); err != nil {
			decodeErr = fmt.Errorf("decode history: %w", err)
			return false
		}
		var (
			pfx  string
			h    int64
			hash string
			id   uint64
		)
		if err := kvstore.ParseKey(key, &pfx, &h, &hash, &id); err != nil {
			decodeErr = fmt.Errorf("decode history key: %w", err)
			return false
		}

		if undo.Created || undo.Previous == nil {
			batch.Delete(propertyKey(uint32(id)))
		} else {
			prev, err := json.Marshal(undo.Previous)
			if err != nil {
				decodeErr = err
				return false
			}
			batch.Set(propertyKey(uint32(id)), prev)
		}
		batch.Delete(key)
		count++
		return true
	})
	if err != nil {
		return 0, err
	}
	if decodeErr != nil {
		return 0, decodeErr
	}
	if count == 0 {
		return 0, nil
	}
	if err := batch.Write(); err != nil {
		return 0, fmt.Errorf("pop block %s: %w", blockHash, err)
	}
	return count, r.reload()
}

// PruneHistory drops undo records of blocks below height.
func (r *Registry) PruneHistory(below int64) error {
	batch := r.store.NewBatch()
	err := r.store.IterateRange(kvstore.Key(prefixHistory), kvstore.Key(prefixHistory, below), func(key, _ []byte) bool {
		batch.Delete(key)
		return true
	})
	if err != nil {
		return err
	}
	if batch.Len() == 0 {
		return nil
	}
	return batch.Write()
}

// Watermark is the last block whose full state was persisted.
type Watermark struct {
	Height int64  `json:"height"`
	Hash   string `json:"hash"`
}

// SetWatermark records the last persisted block.
func (r *Registry) SetWatermark(w Watermark) error {
	value, err := json.Marshal(w)
	if err != nil {
		return err
	}
	return r.store.Set(kvstore.Key(prefixWatermark), value)
}

// GetWatermark returns the watermark, false when none was ever set.
func (r *Registry) GetWatermark() (Watermark, bool, error) {
	value, err := r.store.Get(kvstore.Key(prefixWatermark))
	if err != nil || value == nil {
		return Watermark{}, false, err
	}
	var w Watermark
	if err := json.Unmarshal(value, &w); err != nil {
		return Watermark{}, false, fmt.Errorf("decode watermark: %w", err)
	}
	return w, true, nil
}

// ClearAll wipes properties, history and the watermark for a full reparse.
func (r *Registry) ClearAll() error {
	batch := r.store.NewBatch()
	for _, prefix := range []string{prefixProperty, prefixHistory, prefixWatermark} {
		if err := r.store.Iterate(kvstore.Key(prefix), func(key, _ []byte) bool {
			batch.Delete(key)
			return true
		}); err != nil {
			return err
		}
	}
	if err := batch.Write(); err != nil {
		return err
	}
	r.properties = make(map[uint32]*Property)
	return nil
}

// Properties returns every property sorted by id.
func (r *Registry) Properties() []Property {
	out := make([]Property, 0, len(r.properties))
	for id := range r.properties {
		p, _ := r.Get(id)
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}
