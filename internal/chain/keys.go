package chain

import (
	"crypto/ecdsa"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/pkg/errors"
)

// ParsePrivateKey accepts a hex key with or without the 0x prefix.
func ParsePrivateKey(keyHex string) (*ecdsa.PrivateKey, common.Address, error) {
	keyHex = strings.TrimPrefix(strings.TrimSpace(keyHex), "0x")
	if keyHex == "" {
		return nil, common.Address{}, errors.New("private key is empty")
	}
	key, err := crypto.HexToECDSA(keyHex)
	if err != nil {
		// The key itself is never echoed.
		return nil, common.Address{}, errors.Wrap(err, "parse private key")
	}
	return key, crypto.PubkeyToAddress(key.PublicKey), nil
}
