// Package keys derives secp256k1 signing keys and bech32 account addresses from BIP39 recovery phrases, following
// the Cosmos SDK conventions (coin type 118, path m/44'/118'/0'/0/0).
package keys

import (
	"crypto/sha256"
	"errors"
	"fmt"
	"strings"

	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/btcsuite/btcd/btcec/v2/ecdsa"
	"github.com/btcsuite/btcd/btcutil/bech32"
	"github.com/tyler-smith/go-bip32"
	"github.com/tyler-smith/go-bip39"
	"golang.org/x/crypto/ripemd160" //nolint:staticcheck
)

// CoinType is the SLIP-44 coin type used by Cosmos SDK chains.
const CoinType = 118

const entropyBits = 128 // 12 words

// Errors returned
var (
	ErrBadMnemonic = errors.New("invalid recovery phrase")
	ErrBadAddress  = errors.New("invalid bech32 address")
	ErrBadPrefix   = errors.New("address prefix does not match")
)

// Key is a derived account key. The private key never leaves the struct.
type Key struct {
	Mnemonic string
	Address  string
	priv     *btcec.PrivateKey
	pub      *btcec.PublicKey
}

// Generate creates a fresh 12-word recovery phrase and returns its derived key.
func Generate(prefix string) (*Key, error) {
	entropy, err := bip39.NewEntropy(entropyBits)
	if err != nil {
		return nil, fmt.Errorf("cannot read entropy: %w", err)
	}

	mnemonic, err := bip39.NewMnemonic(entropy)
	if err != nil {
		return nil, fmt.Errorf("cannot build mnemonic: %w", err)
	}

	return FromMnemonic(mnemonic, prefix)
}

// FromMnemonic derives the first account key of the given recovery phrase.
func FromMnemonic(mnemonic, prefix string) (*Key, error) {
	mnemonic = strings.Join(strings.Fields(mnemonic), " ")
	if !bip39.IsMnemonicValid(mnemonic) {
		return nil, ErrBadMnemonic
	}

	node, err := bip32.NewMasterKey(bip39.NewSeed(mnemonic, ""))
	if err != nil {
		return nil, err
	}

	for _, idx := range []uint32{
		bip32.FirstHardenedChild + 44,
		bip32.FirstHardenedChild + CoinType,
		bip32.FirstHardenedChild,
		0,
		0,
	} {
		if node, err = node.NewChildKey(idx); err != nil {
			return nil, fmt.Errorf("cannot derive child %d: %w", idx, err)
		}
	}

	priv, pub := btcec.PrivKeyFromBytes(node.Key)

	addr, err := Address(pub.SerializeCompressed(), prefix)
	if err != nil {
		return nil, err
	}

	return &Key{Mnemonic: mnemonic, Address: addr, priv: priv, pub: pub}, nil
}

// PubKey returns the 33-byte compressed public key.
func (k *Key) PubKey() []byte {
	return k.pub.SerializeCompressed()
}

// Sign returns the 64-byte r||s signature of sha256(msg). S is always in its low form.
func (k *Key) Sign(msg []byte) ([]byte, error) {
	hash := sha256.Sum256(msg)

	sig, err := ecdsa.SignCompact(k.priv, hash[:], true)
	if err != nil {
		return nil, err
	}

	// first byte is the recovery code
	return sig[1:], nil
}

// Address returns the bech32 account address of a compressed public key.
func Address(pubKey []byte, prefix string) (string, error) {
	sha := sha256.Sum256(pubKey)
	rip := ripemd160.New()
	_, _ = rip.Write(sha[:])

	conv, err := bech32.ConvertBits(rip.Sum(nil), 8, 5, true) //nolint:gomnd
	if err != nil {
		return "", err
	}

	return bech32.Encode(prefix, conv)
}

// ValidateAddress checks addr is a well formed bech32 address with the given prefix.
func ValidateAddress(addr, prefix string) error {
	hrp, data, err := bech32.Decode(addr)
	if err != nil {
		return fmt.Errorf("%w: %s", ErrBadAddress, err.Error())
	}

	if hrp != prefix {
		return fmt.Errorf("%w: got %s, want %s", ErrBadPrefix, hrp, prefix)
	}

	raw, err := bech32.ConvertBits(data, 5, 8, false) //nolint:gomnd
	if err != nil || len(raw) != ripemd160.Size {
		return ErrBadAddress
	}

	return nil
}
