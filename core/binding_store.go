package core

// binding_store.go – typed, namespaced containers over the service state.
// Every container derives its keys from a digest over the owning service and
// variable name, so containers never collide across services.

import (
	"encoding/json"
	"fmt"
)

func varNameDigest(serviceName, varName, suffix string) Hash {
	return Digest([]byte(serviceName + "/" + varName + suffix))
}

func entryKey(varName Hash, encodedKey []byte) Hash {
	buf := make([]byte, 0, HashLen+len(encodedKey))
	buf = append(buf, varName.Bytes()...)
	buf = append(buf, encodedKey...)
	return Digest(buf)
}

//---------------------------------------------------------------------
// Scalar boxes
//---------------------------------------------------------------------

// StoreBool is a single-key bool box.
type StoreBool struct {
	state *GeneralServiceState
	key   Hash
}

// NewStoreBool allocates or recovers the bool stored under varName.
func NewStoreBool(state *GeneralServiceState, serviceName, varName string) *StoreBool {
	return &StoreBool{state: state, key: varNameDigest(serviceName, varName, "bool")}
}

func (b *StoreBool) Get() (bool, error) {
	raw, err := b.state.Get(b.key.Bytes())
	if err != nil {
		return false, err
	}
	if raw == nil {
		return false, nil
	}
	return DecodeBool(raw)
}

func (b *StoreBool) Set(v bool) {
	b.state.Insert(b.key.Bytes(), EncodeBool(v))
}

// StoreString is a single-key string box.
type StoreString struct {
	state *GeneralServiceState
	key   Hash
}

// NewStoreString allocates or recovers the string stored under varName.
func NewStoreString(state *GeneralServiceState, serviceName, varName string) *StoreString {
	return &StoreString{state: state, key: varNameDigest(serviceName, varName, "string")}
}

func (s *StoreString) Get() (string, error) {
	raw, err := s.state.Get(s.key.Bytes())
	if err != nil {
		return "", err
	}
	if raw == nil {
		return "", nil
	}
	return DecodeString(raw)
}

func (s *StoreString) Set(v string) {
	s.state.Insert(s.key.Bytes(), EncodeString(v))
}

func (s *StoreString) Len() (uint64, error) {
	v, err := s.Get()
	return uint64(len(v)), err
}

// StoreUint64 is a single-key u64 box with checked arithmetic. Overflow is
// reported, never panicked.
type StoreUint64 struct {
	state *GeneralServiceState
	key   Hash
}

// NewStoreUint64 allocates or recovers the u64 stored under varName.
func NewStoreUint64(state *GeneralServiceState, serviceName, varName string) *StoreUint64 {
	return &StoreUint64{state: state, key: varNameDigest(serviceName, varName, "uint64")}
}

func (u *StoreUint64) Get() (uint64, error) {
	raw, err := u.state.Get(u.key.Bytes())
	if err != nil {
		return 0, err
	}
	if raw == nil {
		return 0, nil
	}
	return DecodeUint64(raw)
}

func (u *StoreUint64) Set(v uint64) {
	u.state.Insert(u.key.Bytes(), EncodeUint64(v))
}

// Add stores current+v, failing with ErrOverflow when the sum wraps.
func (u *StoreUint64) Add(v uint64) error {
	cur, err := u.Get()
	if err != nil {
		return err
	}
	sum := cur + v
	if sum < cur {
		return NewProtocolError(KindBinding, fmt.Errorf("%w: %d + %d", ErrOverflow, cur, v))
	}
	u.Set(sum)
	return nil
}

// Sub stores current−v, failing with ErrOverflow on underflow.
func (u *StoreUint64) Sub(v uint64) error {
	cur, err := u.Get()
	if err != nil {
		return err
	}
	if v > cur {
		return NewProtocolError(KindBinding, fmt.Errorf("%w: %d - %d", ErrOverflow, cur, v))
	}
	u.Set(cur - v)
	return nil
}

// Mul stores current×v, failing with ErrOverflow when the product wraps.
func (u *StoreUint64) Mul(v uint64) error {
	cur, err := u.Get()
	if err != nil {
		return err
	}
	if cur != 0 && v > ^uint64(0)/cur {
		return NewProtocolError(KindBinding, fmt.Errorf("%w: %d * %d", ErrOverflow, cur, v))
	}
	u.Set(cur * v)
	return nil
}

// Pow stores current^v with checked multiplication at every step.
func (u *StoreUint64) Pow(v uint64) error {
	cur, err := u.Get()
	if err != nil {
		return err
	}
	result := uint64(1)
	for i := uint64(0); i < v; i++ {
		if cur != 0 && result > ^uint64(0)/cur {
			return NewProtocolError(KindBinding, fmt.Errorf("%w: %d ^ %d", ErrOverflow, cur, v))
		}
		result *= cur
	}
	u.Set(result)
	return nil
}

// Div stores current/v, failing when v is zero.
func (u *StoreUint64) Div(v uint64) error {
	cur, err := u.Get()
	if err != nil {
		return err
	}
	if v == 0 {
		return NewProtocolError(KindBinding, fmt.Errorf("%w: %d / 0", ErrOverflow, cur))
	}
	u.Set(cur / v)
	return nil
}

// Rem stores current%v, failing when v is zero.
func (u *StoreUint64) Rem(v uint64) error {
	cur, err := u.Get()
	if err != nil {
		return err
	}
	if v == 0 {
		return NewProtocolError(KindBinding, fmt.Errorf("%w: %d %% 0", ErrOverflow, cur))
	}
	u.Set(cur % v)
	return nil
}

//---------------------------------------------------------------------
// Map
//---------------------------------------------------------------------

// StoreMap is a typed map whose authoritative key list lives under the
// variable digest and whose entries live under per-key digests.
type StoreMap[K comparable, V any] struct {
	state   *GeneralServiceState
	varName Hash
	keys    []K
}

// NewStoreMap allocates or recovers the map stored under varName.
func NewStoreMap[K comparable, V any](state *GeneralServiceState, serviceName, varName string) (*StoreMap[K, V], error) {
	m := &StoreMap[K, V]{
		state:   state,
		varName: varNameDigest(serviceName, varName, "map"),
	}

	raw, err := state.Get(m.varName.Bytes())
	if err != nil {
		return nil, err
	}
	if raw != nil {
		if err := json.Unmarshal(raw, &m.keys); err != nil {
			return nil, NewProtocolError(KindBinding, fmt.Errorf("decode map keys: %w", err))
		}
	}
	return m, nil
}

func (m *StoreMap[K, V]) encodeKey(key K) ([]byte, error) {
	b, err := json.Marshal(key)
	if err != nil {
		return nil, NewProtocolError(KindBinding, fmt.Errorf("encode map key: %w", err))
	}
	return b, nil
}

func (m *StoreMap[K, V]) entryKeyOf(key K) (Hash, error) {
	kb, err := m.encodeKey(key)
	if err != nil {
		return Hash{}, err
	}
	return entryKey(m.varName, kb), nil
}

// Get returns the value stored under key; missing keys are an error, so
// callers gate with Contains when absence is expected.
func (m *StoreMap[K, V]) Get(key K) (V, error) {
	var out V
	if !m.containsKey(key) {
		return out, NewProtocolError(KindBinding, fmt.Errorf("%w", ErrStoreGetNone))
	}
	ek, err := m.entryKeyOf(key)
	if err != nil {
		return out, err
	}
	raw, err := m.state.Get(ek.Bytes())
	if err != nil {
		return out, err
	}
	if raw == nil {
		return out, NewProtocolError(KindBinding, fmt.Errorf("%w", ErrStoreGetNone))
	}
	if err := json.Unmarshal(raw, &out); err != nil {
		return out, NewProtocolError(KindBinding, fmt.Errorf("decode map value: %w", err))
	}
	return out, nil
}

func (m *StoreMap[K, V]) containsKey(key K) bool {
	for _, k := range m.keys {
		if k == key {
			return true
		}
	}
	return false
}

// Contains reports membership against the authoritative key list.
func (m *StoreMap[K, V]) Contains(key K) bool {
	return m.containsKey(key)
}

// Insert writes the entry and, for new keys, the key list.
//
// TODO(store): the entry write and the key-list write are two separate state
// operations; atomicity between them is not guaranteed for now.
func (m *StoreMap[K, V]) Insert(key K, value V) error {
	ek, err := m.entryKeyOf(key)
	if err != nil {
		return err
	}
	vb, err := json.Marshal(value)
	if err != nil {
		return NewProtocolError(KindBinding, fmt.Errorf("encode map value: %w", err))
	}
	m.state.Insert(ek.Bytes(), vb)

	if !m.containsKey(key) {
		m.keys = append(m.keys, key)
		return m.persistKeys()
	}
	return nil
}

// Remove drops the key from the list and tombstones the entry.
func (m *StoreMap[K, V]) Remove(key K) error {
	if !m.containsKey(key) {
		return NewProtocolError(KindBinding, fmt.Errorf("%w", ErrStoreGetNone))
	}
	for i, k := range m.keys {
		if k == key {
			m.keys = append(m.keys[:i], m.keys[i+1:]...)
			break
		}
	}
	if err := m.persistKeys(); err != nil {
		return err
	}
	ek, err := m.entryKeyOf(key)
	if err != nil {
		return err
	}
	m.state.Insert(ek.Bytes(), nil)
	return nil
}

// Len reports the key count.
func (m *StoreMap[K, V]) Len() int { return len(m.keys) }

// ForEach visits every entry in key-list order; the visited value is written
// back afterwards so visitors may mutate it.
func (m *StoreMap[K, V]) ForEach(fn func(key K, value *V) error) error {
	for _, k := range m.keys {
		v, err := m.Get(k)
		if err != nil {
			return err
		}
		if err := fn(k, &v); err != nil {
			return err
		}
		if err := m.Insert(k, v); err != nil {
			return err
		}
	}
	return nil
}

func (m *StoreMap[K, V]) persistKeys() error {
	raw, err := json.Marshal(m.keys)
	if err != nil {
		return NewProtocolError(KindBinding, fmt.Errorf("encode map keys: %w", err))
	}
	m.state.Insert(m.varName.Bytes(), raw)
	return nil
}

//---------------------------------------------------------------------
// Array
//---------------------------------------------------------------------

// StoreArray is a typed array whose index list lives under the variable
// digest; each element is stored under the digest of the variable digest
// followed by the element's encoding.
type StoreArray[E any] struct {
	state   *GeneralServiceState
	varName Hash
	keys    []Hash
}

// NewStoreArray allocates or recovers the array stored under varName.
func NewStoreArray[E any](state *GeneralServiceState, serviceName, varName string) (*StoreArray[E], error) {
	a := &StoreArray[E]{
		state:   state,
		varName: varNameDigest(serviceName, varName, "array"),
	}

	raw, err := state.Get(a.varName.Bytes())
	if err != nil {
		return nil, err
	}
	if raw != nil {
		if err := json.Unmarshal(raw, &a.keys); err != nil {
			return nil, NewProtocolError(KindBinding, fmt.Errorf("decode array keys: %w", err))
		}
	}
	return a, nil
}

// Get returns the element at index.
func (a *StoreArray[E]) Get(index uint32) (E, error) {
	var out E
	if int(index) >= len(a.keys) {
		return out, NewProtocolError(KindBinding, fmt.Errorf("%w: %d", ErrStoreOutRange, index))
	}
	raw, err := a.state.Get(a.keys[index].Bytes())
	if err != nil {
		return out, err
	}
	if raw == nil {
		return out, NewProtocolError(KindBinding, fmt.Errorf("%w", ErrStoreGetNone))
	}
	if err := json.Unmarshal(raw, &out); err != nil {
		return out, NewProtocolError(KindBinding, fmt.Errorf("decode array element: %w", err))
	}
	return out, nil
}

// Push appends an element.
//
// TODO(store): same two-write atomicity window as StoreMap.Insert.
func (a *StoreArray[E]) Push(elem E) error {
	eb, err := json.Marshal(elem)
	if err != nil {
		return NewProtocolError(KindBinding, fmt.Errorf("encode array element: %w", err))
	}
	key := entryKey(a.varName, eb)

	a.keys = append(a.keys, key)
	if err := a.persistKeys(); err != nil {
		return err
	}
	a.state.Insert(key.Bytes(), eb)
	return nil
}

// Remove drops the element at index and tombstones its entry.
func (a *StoreArray[E]) Remove(index uint32) error {
	if int(index) >= len(a.keys) {
		return NewProtocolError(KindBinding, fmt.Errorf("%w: %d", ErrStoreOutRange, index))
	}
	key := a.keys[index]
	a.keys = append(a.keys[:index], a.keys[index+1:]...)
	if err := a.persistKeys(); err != nil {
		return err
	}
	a.state.Insert(key.Bytes(), nil)
	return nil
}

// Len reports the element count.
func (a *StoreArray[E]) Len() uint32 { return uint32(len(a.keys)) }

// ForEach visits every element in index order.
func (a *StoreArray[E]) ForEach(fn func(index uint32, elem E) error) error {
	for i := range a.keys {
		e, err := a.Get(uint32(i))
		if err != nil {
			return err
		}
		if err := fn(uint32(i), e); err != nil {
			return err
		}
	}
	return nil
}

func (a *StoreArray[E]) persistKeys() error {
	raw, err := json.Marshal(a.keys)
	if err != nil {
		return NewProtocolError(KindBinding, fmt.Errorf("encode array keys: %w", err))
	}
	a.state.Insert(a.varName.Bytes(), raw)
	return nil
}
