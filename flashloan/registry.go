package flashloan

import (
	"errors"
	"fmt"

	"github.com/ethereum/go-ethereum/common"

	"github.com/michaelpento.lv/flashvault/store"
)

const (
	assetKeyPrefix  = "registry/asset/"
	assetKeyFormat  = assetKeyPrefix + "%x"
	callerKeyFormat = "registry/caller/%x"
)

var memberMarker = []byte{1}

// Registry tracks listed assets and authorized callers. Admin checks happen
// in the Manager before a Registry mutator is reached.
type Registry struct {
	state State
}

func NewRegistry(state State) *Registry {
	return &Registry{state: state}
}

func assetKey(asset common.Address) []byte {
	return []byte(fmt.Sprintf(assetKeyFormat, asset.Bytes()))
}

func callerKey(caller common.Address) []byte {
	return []byte(fmt.Sprintf(callerKeyFormat, caller.Bytes()))
}

func (r *Registry) has(key []byte) (bool, error) {
	_, err := r.state.Get(key)
	if errors.Is(err, store.ErrNotFound) {
		return false, nil
	}
	return err == nil, err
}

func (r *Registry) IsAssetListed(asset common.Address) (bool, error) {
	return r.has(assetKey(asset))
}

func (r *Registry) IsCallerAuthorized(caller common.Address) (bool, error) {
	return r.has(callerKey(caller))
}

// ListedAssets scans backend for listed assets in key order. It reads
// committed state, so it takes a Backend rather than a View.
func ListedAssets(backend store.Backend) ([]common.Address, error) {
	prefix := []byte(assetKeyPrefix)
	var (
		assets []common.Address
		bad    error
	)
	err := backend.Iterate(prefix, func(key, _ []byte) bool {
		suffix := string(key[len(prefix):])
		if !common.IsHexAddress(suffix) {
			bad = fmt.Errorf("%w: malformed asset key %q", ErrInvalidState, key)
			return false
		}
		assets = append(assets, common.HexToAddress(suffix))
		return true
	})
	if err != nil {
		return nil, err
	}
	return assets, bad
}

// ListAsset marks asset listed and reports whether it was newly added.
func (r *Registry) ListAsset(asset common.Address) (bool, error) {
	return r.add(assetKey(asset), asset, "asset")
}

// DelistAsset removes asset from the listed set.
func (r *Registry) DelistAsset(asset common.Address) error {
	return r.remove(assetKey(asset), asset, "asset")
}

// AuthorizeCaller adds caller and reports whether it was newly added.
func (r *Registry) AuthorizeCaller(caller common.Address) (bool, error) {
	return r.add(callerKey(caller), caller, "caller")
}

// RevokeCaller removes caller from the authorized set.
func (r *Registry) RevokeCaller(caller common.Address) error {
	return r.remove(callerKey(caller), caller, "caller")
}

func (r *Registry) add(key []byte, addr common.Address, what string) (bool, error) {
	if addr == (common.Address{}) {
		return false, fmt.Errorf("%w: zero %s address", ErrInvalidArgument, what)
	}
	exists, err := r.has(key)
	if err != nil || exists {
		return false, err
	}
	if err := r.state.Put(key, memberMarker); err != nil {
		return false, err
	}
	return true, nil
}

func (r *Registry) remove(key []byte, addr common.Address, what string) error {
	if addr == (common.Address{}) {
		return fmt.Errorf("%w: zero %s address", ErrInvalidArgument, what)
	}
	err := r.state.Delete(key)
	if errors.Is(err, store.ErrNotFound) {
		return fmt.Errorf("%w: %s %s", ErrNotFound, what, addr.Hex())
	}
	return err
}
