package cmd

import (
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"go.uber.org/zap"

	"github.com/michaelpento.lv/flashvault/cmd/node"
	"github.com/michaelpento.lv/flashvault/config"
	"github.com/michaelpento.lv/flashvault/store"
	"github.com/michaelpento.lv/flashvault/utils"
	bpsmath "github.com/michaelpento.lv/flashvault/utils/math"
)

// withNode runs fn against a node built from the config with the API off.
// With scratch set the node works on an in-memory copy of the store, so
// nothing fn does is persisted.
func withNode(scratch bool, fn func(cfg *config.Config, n *node.Node, log *zap.Logger) error) error {
	cfg, log, err := setup()
	if err != nil {
		return err
	}
	defer utils.CleanupLogger()
	cfg.API.Enabled = false

	backend, err := node.OpenBackend(cfg.Store)
	if err != nil {
		return err
	}
	if scratch {
		copied, err := store.CopyToMemory(backend)
		_ = backend.Close()
		if err != nil {
			return err
		}
		backend = copied
		cfg.Audit.Journal = false
	}

	n, err := node.Open(cfg, backend, log)
	if err != nil {
		_ = backend.Close()
		return err
	}
	defer func() {
		if err := n.Stop(); err != nil {
			log.Warn("Failed to stop node", zap.Error(err))
		}
	}()
	return fn(cfg, n, log)
}

func parseAddress(name, value string) (common.Address, error) {
	if !common.IsHexAddress(value) {
		return common.Address{}, fmt.Errorf("--%s must be a hex address, got %q", name, value)
	}
	return common.HexToAddress(value), nil
}

func parseAmount(name, value string) (*big.Int, error) {
	amount, ok := bpsmath.ParseAmount(value)
	if !ok {
		return nil, fmt.Errorf("--%s must be a base-10 integer, got %q", name, value)
	}
	return amount, nil
}

// adminAddress returns the --admin flag, or the first configured admin.
func adminAddress(flag string, n *node.Node) (common.Address, error) {
	if flag == "" {
		if n.Admin() == (common.Address{}) {
			return common.Address{}, fmt.Errorf("no admin configured; pass --admin")
		}
		return n.Admin(), nil
	}
	return parseAddress("admin", flag)
}
